// Package control holds the hand controller state shown by the presentation:
// target angle and manual/automatic mode, changed only after a confirmed write.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/codec"
	"github.com/srg/handlink/internal/session"
)

const (
	DefaultStep     = 30
	DefaultMinAngle = -90
	DefaultMaxAngle = 90
)

// Sender writes one command and reports whether it was confirmed.
type Sender interface {
	SendCommand(ctx context.Context, cmd codec.Command) bool
}

// Needle renders the target angle. Animation is up to the implementation.
type Needle interface {
	SetTarget(angle int)
}

// Result is the outcome of a control action.
type Result int

const (
	Applied Result = iota
	// RejectedMode means the action needs manual mode.
	RejectedMode
	// RejectedBound means the step would leave [MinAngle, MaxAngle]. Nothing was written.
	RejectedBound
	WriteFailed
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case RejectedMode:
		return "rejected: automatic mode"
	case RejectedBound:
		return "rejected: angle limit reached"
	case WriteFailed:
		return "write failed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Config sets the angle step and bounds in degrees.
type Config struct {
	Step     int
	MinAngle int
	MaxAngle int
}

// DefaultConfig returns a 30° step within ±90°.
func DefaultConfig() Config {
	return Config{Step: DefaultStep, MinAngle: DefaultMinAngle, MaxAngle: DefaultMaxAngle}
}

// Validate checks that the step is positive and the bounds contain 0.
func (c Config) Validate() error {
	if c.Step <= 0 {
		return fmt.Errorf("control step must be positive, got %d", c.Step)
	}
	if c.MinAngle > 0 || c.MaxAngle < 0 {
		return fmt.Errorf("control bounds [%d, %d] must contain 0", c.MinAngle, c.MaxAngle)
	}
	return nil
}

// Panel is the controller state. Actions are serialized.
type Panel struct {
	sender Sender
	cfg    Config
	logger *logrus.Logger
	needle Needle

	mu     sync.Mutex
	target int
	manual bool
}

// New creates a Panel at target 0 in automatic mode.
func New(sender Sender, cfg Config, logger *logrus.Logger) *Panel {
	if logger == nil {
		logger = logrus.New()
	}
	return &Panel{sender: sender, cfg: cfg, logger: logger}
}

// WithNeedle attaches a renderer notified of every target change.
func (p *Panel) WithNeedle(n Needle) *Panel {
	p.needle = n
	return p
}

// Target returns the current target angle.
func (p *Panel) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Manual reports whether the hand is in manual mode.
func (p *Panel) Manual() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manual
}

// Up raises the target by one step.
func (p *Panel) Up(ctx context.Context) Result {
	return p.move(ctx, codec.CommandUp, p.cfg.Step)
}

// Down lowers the target by one step.
func (p *Panel) Down(ctx context.Context) Result {
	return p.move(ctx, codec.CommandDown, -p.cfg.Step)
}

func (p *Panel) move(ctx context.Context, cmd codec.Command, delta int) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	log := p.logger.WithFields(logrus.Fields{
		"command": cmd,
		"target":  p.target,
	})
	if !p.manual {
		log.Debug("Ignoring move in automatic mode")
		return RejectedMode
	}
	next := p.target + delta
	if next > p.cfg.MaxAngle || next < p.cfg.MinAngle {
		log.Debug("Angle limit reached")
		return RejectedBound
	}
	if !p.sender.SendCommand(ctx, cmd) {
		return WriteFailed
	}
	p.setTarget(next)
	return Applied
}

// Toggle switches between manual and automatic mode.
func (p *Panel) Toggle(ctx context.Context) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sender.SendCommand(ctx, codec.CommandToggle) {
		return WriteFailed
	}
	p.manual = !p.manual
	p.logger.WithField("manual", p.manual).Debug("Mode toggled")
	return Applied
}

// Reset returns to target 0 in automatic mode without writing.
func (p *Panel) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manual = false
	p.setTarget(0)
}

// Watch applies session resets until events is closed or ctx is done.
func (p *Panel) Watch(ctx context.Context, events <-chan session.Event, onEvent func(session.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == session.EventReset {
				p.Reset()
			}
			if onEvent != nil {
				onEvent(ev)
			}
		}
	}
}

// setTarget requires p.mu held.
func (p *Panel) setTarget(angle int) {
	p.target = angle
	if p.needle != nil {
		p.needle.SetTarget(angle)
	}
}
