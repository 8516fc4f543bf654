package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter shows the current connection phase with a seconds counter.
//
// Usage:
//
//	p := NewProgressPrinter(os.Stderr, "Connecting to nimble-ble", "Scanning", "Ready", "Failed")
//	p.Start()
//	defer p.Stop()
//
// A phase given a countdown shows the seconds left until its deadline,
// counted from the moment the phase was entered. Other phases count up.
//
// A ProgressPrinter is single-use. Start may be called at most once; Stop may
// be called any number of times. Entering a stop phase stops the printer.
type ProgressPrinter struct {
	out        io.Writer
	prefix     string
	stopPhases map[string]struct{}
	countdowns map[string]time.Duration

	mu         sync.Mutex // guards phase, phaseStart and writes to out
	phase      string
	phaseStart time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressPrinter creates a printer starting in phase.
func NewProgressPrinter(out io.Writer, prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	return &ProgressPrinter{
		out:        out,
		prefix:     prefix,
		stopPhases: stopSet,
		countdowns: map[string]time.Duration{},
		phase:      phase,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// WithCountdown makes phase count down from d. Must be called before Start.
func (p *ProgressPrinter) WithCountdown(phase string, d time.Duration) *ProgressPrinter {
	if d > 0 {
		p.countdowns[phase] = d
	}
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.mu.Lock()
	p.phaseStart = time.Now()
	p.render()
	p.mu.Unlock()

	ticker := time.NewTicker(progressUpdateInterval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.mu.Lock()
				p.render()
				p.mu.Unlock()
			}
		}
	}()
}

// render writes the progress line. Requires p.mu held.
func (p *ProgressPrinter) render() {
	elapsed := time.Since(p.phaseStart)
	seconds := int(elapsed.Seconds())
	if d, ok := p.countdowns[p.phase]; ok {
		remaining := d - elapsed
		// Round to the nearest second, 0 once the deadline passed
		seconds = 0
		if remaining > 0 {
			seconds = int(remaining.Seconds() + 0.5)
		}
	}

	if seconds > 0 {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, p.phase, seconds)
	} else {
		_, _ = fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase)
	}
}

// SetPhase switches the displayed phase. Entering a stop phase stops the printer.
// Safe to call from multiple goroutines.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.mu.Lock()
	if p.phase != phase {
		p.phase = phase
		p.phaseStart = time.Now()
	}
	p.mu.Unlock()

	if _, isStop := p.stopPhases[phase]; isStop {
		p.Stop()
	}
}

// Stop stops the display and clears the line. Safe to call repeatedly.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.started.Load() {
			<-p.done
		}
		p.mu.Lock()
		_, _ = fmt.Fprint(p.out, clearLineSequence)
		p.mu.Unlock()
	})
}
