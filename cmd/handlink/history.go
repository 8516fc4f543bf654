package main

import (
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/srg/handlink/internal/codec"
)

// telemetryHistory keeps the most recent telemetry records for the history
// command. When full, the oldest record is overwritten.
type telemetryHistory struct {
	buffer      mpmc.RichOverlappedRingBuffer[codec.Telemetry]
	recorded    atomic.Int64
	overwritten atomic.Int64
}

func newTelemetryHistory(size int) (*telemetryHistory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("history size must be > 0, got %d", size)
	}
	return &telemetryHistory{
		buffer: mpmc.NewOverlappedRingBuffer[codec.Telemetry](uint32(size)),
	}, nil
}

// Record stores t. Called from the session delivery goroutine.
func (h *telemetryHistory) Record(t codec.Telemetry) error {
	overwrites, err := h.buffer.EnqueueM(t)
	if err != nil {
		return fmt.Errorf("history enqueue: %w", err)
	}
	h.overwritten.Add(int64(overwrites))
	h.recorded.Add(1)
	return nil
}

// Drain returns the buffered records oldest first and empties the buffer.
func (h *telemetryHistory) Drain() ([]codec.Telemetry, error) {
	var out []codec.Telemetry
	for !h.buffer.IsEmpty() {
		t, err := h.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("history dequeue: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Stats returns how many records were recorded and how many were overwritten unseen.
func (h *telemetryHistory) Stats() (recorded, overwritten int64) {
	return h.recorded.Load(), h.overwritten.Load()
}
