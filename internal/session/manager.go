// Package session owns the single BLE link to the hand: it drives the connect
// pipeline, delivers decoded telemetry in arrival order and writes commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/codec"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/groutine"
	"github.com/srg/handlink/internal/locator"
	"github.com/srg/handlink/internal/permission"
	"github.com/srg/handlink/internal/ringchan"
)

var (
	// ErrConnectInProgress is returned by Connect while another Connect is running.
	ErrConnectInProgress = errors.New("connect already in progress")
	// ErrSubscriberRegistered is returned by OnTelemetry when a subscriber exists.
	ErrSubscriberRegistered = errors.New("telemetry subscriber already registered")
	// ErrConnectionLost is the Failed reason after the peripheral dropped the link.
	ErrConnectionLost = device.Fail(device.ConnectionFailed, device.ErrNotConnected, "connection lost")
)

const (
	DefaultWriteTimeout    = 5 * time.Second
	DefaultTelemetryBuffer = 64
	DefaultEventBuffer     = 32
)

// Connector finds, connects and discovers the peripheral.
type Connector interface {
	ScanAndConnect(ctx context.Context, progress locator.ProgressFunc) (device.Peripheral, error)
}

// Config selects the characteristic and sizes the internal buffers.
type Config struct {
	ServiceUUID        string
	CharacteristicUUID string
	WriteTimeout       time.Duration
	// TelemetryBuffer is the number of undelivered frames kept before the oldest is dropped.
	TelemetryBuffer int
	EventBuffer     int
}

// DefaultConfig returns the hand characteristic and default buffer sizes.
func DefaultConfig() Config {
	return Config{
		ServiceUUID:        codec.ServiceUUID,
		CharacteristicUUID: codec.CharacteristicUUID,
		WriteTimeout:       DefaultWriteTimeout,
		TelemetryBuffer:    DefaultTelemetryBuffer,
		EventBuffer:        DefaultEventBuffer,
	}
}

// Manager is the session owner. Create one per process with New.
type Manager struct {
	gate    permission.Gate
	locator Connector
	cfg     Config
	logger  *logrus.Logger

	connecting atomic.Bool
	lifecycle  sync.Mutex // serializes connect, disconnect and link loss handling

	mu            sync.RWMutex
	status        Status
	link          *link
	subscriber    func(codec.Telemetry)
	latest        codec.Telemetry
	hasLatest     bool
	cancelConnect context.CancelFunc

	events *ringchan.RingChannel[Event]
}

// link is one connected session: the peripheral, its characteristic and the
// delivery pipeline fed by notifications.
type link struct {
	peripheral device.Peripheral
	char       device.Characteristic
	frames     *ringchan.RingChannel[[]byte]
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an idle Manager.
func New(gate permission.Gate, connector Connector, cfg Config, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	def := DefaultConfig()
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = def.ServiceUUID
	}
	if cfg.CharacteristicUUID == "" {
		cfg.CharacteristicUUID = def.CharacteristicUUID
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.TelemetryBuffer <= 0 {
		cfg.TelemetryBuffer = def.TelemetryBuffer
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	return &Manager{
		gate:    gate,
		locator: connector,
		cfg:     cfg,
		logger:  logger,
		status:  Status{State: Idle},
		events:  ringchan.New[Event](cfg.EventBuffer),
	}
}

// Status returns the current status snapshot.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// State is shorthand for Status().State.
func (m *Manager) State() State { return m.Status().State }

// Events returns the ordered stream of status changes and resets. When the
// consumer falls behind, the oldest events are dropped.
func (m *Manager) Events() <-chan Event { return m.events.C() }

// Latest returns the last good telemetry record. ok is false unless Ready and
// at least one record arrived in this session.
func (m *Manager) Latest() (t codec.Telemetry, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status.State != Ready || !m.hasLatest {
		return codec.Telemetry{}, false
	}
	return m.latest, true
}

// OnTelemetry registers the telemetry subscriber. Only one may be registered.
// fn runs on the delivery goroutine and must not call Connect or Disconnect.
func (m *Manager) OnTelemetry(fn func(codec.Telemetry)) error {
	if fn == nil {
		return fmt.Errorf("telemetry subscriber is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscriber != nil {
		return ErrSubscriberRegistered
	}
	m.subscriber = fn
	return nil
}

// Connect runs the full pipeline up to Ready. An existing session is torn
// down first. Failures leave the Manager in Failed and are returned.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.connecting.CompareAndSwap(false, true) {
		m.logger.Debug("Connect ignored, another connect is in flight")
		return ErrConnectInProgress
	}
	defer m.connecting.Store(false)

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	m.cancelConnect = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.cancelConnect = nil
		m.mu.Unlock()
	}()

	if err := m.teardown(); err != nil {
		m.logger.WithField("error", err).Warn("Previous peripheral did not disconnect cleanly")
	}
	m.toIdle()

	m.transition(AwaitingPermission)
	if !m.gate.Request(ctx) {
		if ctx.Err() != nil {
			return m.fail(ctx.Err())
		}
		return m.fail(device.Fail(device.PermissionDenied, nil, "bluetooth permissions not granted"))
	}

	m.transition(Scanning)
	p, err := m.locator.ScanAndConnect(ctx, func(phase locator.Phase) {
		switch phase {
		case locator.PhaseConnecting:
			m.transition(Connecting)
		case locator.PhaseDiscovering:
			m.transition(DiscoveringServices)
		}
	})
	if err != nil {
		return m.fail(err)
	}

	m.transition(Subscribing)
	l, err := m.subscribe(p)
	if err != nil {
		if dErr := p.Disconnect(); dErr != nil {
			m.logger.WithField("error", dErr).Warn("Failed to disconnect after subscribe failure")
		}
		return m.fail(err)
	}

	m.mu.Lock()
	m.link = l
	m.setStatus(Status{State: Ready, DeviceName: p.Name()})
	m.events.Send(Event{Kind: EventReset, Status: m.status})
	m.mu.Unlock()

	groutine.Go(l.ctx, "session-link-monitor", func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-p.Disconnected():
			m.onLinkLost(l)
		}
	})

	m.logger.WithFields(logrus.Fields{
		"address": p.ID(),
		"name":    p.Name(),
	}).Info("Session ready")
	return nil
}

// subscribe looks up the hand characteristic and starts notification delivery.
func (m *Manager) subscribe(p device.Peripheral) (*link, error) {
	fields := logrus.Fields{
		"service_uuid": m.cfg.ServiceUUID,
		"char_uuid":    m.cfg.CharacteristicUUID,
	}
	char, err := p.Characteristic(m.cfg.ServiceUUID, m.cfg.CharacteristicUUID)
	if err != nil {
		m.logger.WithFields(fields).WithField("error", err).Error("Characteristic not found")
		return nil, device.Fail(device.ConnectionFailed, err, "hand characteristic unavailable")
	}
	if !char.Properties().CanNotify() {
		m.logger.WithFields(fields).Error("Characteristic does not support notifications")
		return nil, device.Fail(device.ConnectionFailed, nil, "characteristic %s does not notify", m.cfg.CharacteristicUUID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{
		peripheral: p,
		char:       char,
		frames:     ringchan.New[[]byte](m.cfg.TelemetryBuffer),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	groutine.Go(ctx, "session-telemetry", func(ctx context.Context) {
		m.deliver(ctx, l)
	})

	err = char.Subscribe(func(data []byte) {
		l.frames.Send(append([]byte(nil), data...))
	})
	if err != nil {
		l.stop()
		m.logger.WithFields(fields).WithField("error", err).Error("Failed to subscribe")
		return nil, device.Fail(device.ConnectionFailed, device.NormalizeError(err), "subscribe failed")
	}
	m.logger.WithFields(fields).Debug("Subscribed to telemetry")
	return l, nil
}

// deliver decodes frames in arrival order and hands them to the subscriber.
func (m *Manager) deliver(ctx context.Context, l *link) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-l.frames.C():
			if !ok {
				return
			}
			t, err := codec.DecodeTelemetry(frame)
			if err != nil {
				m.logger.WithFields(logrus.Fields{
					"goroutine": groutine.Name(ctx),
					"payload":   string(frame),
					"error":     err,
				}).Warn("Dropping telemetry frame")
				continue
			}

			m.mu.Lock()
			if m.link != l || ctx.Err() != nil {
				m.mu.Unlock()
				continue
			}
			m.latest = t
			m.hasLatest = true
			sub := m.subscriber
			m.mu.Unlock()

			if sub != nil {
				sub(t)
			}
		}
	}
}

// SendCommand writes cmd with response. Returns false without writing when not Ready.
func (m *Manager) SendCommand(ctx context.Context, cmd codec.Command) bool {
	m.mu.RLock()
	l := m.link
	state := m.status.State
	m.mu.RUnlock()

	if state != Ready || l == nil {
		m.logger.WithFields(logrus.Fields{
			"command": cmd,
			"state":   state,
		}).Debug("Command dropped, session not ready")
		return false
	}

	payload := codec.EncodeCommand(cmd)

	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if err := l.char.Write(wctx, payload, true); err != nil {
		err = device.Fail(device.WriteFailure, device.NormalizeError(err), "write %q", cmd)
		m.logger.WithField("error", err).Warn("Command write failed")
		return false
	}
	m.logger.WithField("command", cmd).Debug("Command written")
	return true
}

// Disconnect tears the session down and returns to Idle. An in-flight
// Connect is cancelled first.
func (m *Manager) Disconnect() error {
	m.mu.RLock()
	cancel := m.cancelConnect
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	err := m.teardown()
	m.toIdle()
	return err
}

// Close disconnects and closes the event stream.
func (m *Manager) Close() error {
	err := m.Disconnect()
	m.events.Close()
	return err
}

// teardown detaches the current link, stops delivery and disconnects. After it
// returns no subscriber call for the old link can happen. Caller holds lifecycle.
func (m *Manager) teardown() error {
	m.mu.Lock()
	l := m.link
	m.link = nil
	m.latest = codec.Telemetry{}
	m.hasLatest = false
	m.mu.Unlock()

	if l == nil {
		return nil
	}

	if err := l.char.Unsubscribe(); err != nil {
		m.logger.WithField("error", err).Debug("Unsubscribe failed")
	}
	l.stop()
	m.logFrameStats(l)

	err := l.peripheral.Disconnect()
	m.logger.WithField("address", l.peripheral.ID()).Info("Peripheral disconnected")
	return err
}

// onLinkLost handles a disconnect initiated by the peripheral or the stack.
func (m *Manager) onLinkLost(l *link) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	current := m.link == l
	m.mu.RUnlock()
	if !current {
		return
	}

	m.logger.WithField("address", l.peripheral.ID()).Warn("Peripheral dropped the connection")
	if err := m.teardown(); err != nil {
		m.logger.WithField("error", err).Debug("Disconnect after link loss failed")
	}
	m.fail(ErrConnectionLost)
}

// logFrameStats reports how the notification buffer coped with the link.
// Overwritten frames mean the subscriber fell behind the hand.
func (m *Manager) logFrameStats(l *link) {
	stats := l.frames.GetMetrics()
	entry := m.logger.WithFields(logrus.Fields{
		"address":            l.peripheral.ID(),
		"buffer":             l.frames.Cap(),
		"frames_written":     stats.Written,
		"frames_overwritten": stats.Overwritten,
		"frames_rejected":    stats.Rejected,
	})
	if stats.Overwritten > 0 {
		entry.Warn("Telemetry frames overwritten before delivery")
		return
	}
	entry.Debug("Telemetry channel closed")
}

func (l *link) stop() {
	l.cancel()
	l.frames.Close()
	<-l.done
}

// transition moves along a legal edge and emits a status event.
// Illegal edges are programming errors.
func (m *Manager) transition(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStatus(Status{State: to})
}

// setStatus requires m.mu held.
func (m *Manager) setStatus(st Status) {
	from := m.status.State
	if !CanTransition(from, st.State) {
		panic(fmt.Sprintf("session: illegal transition %s -> %s", from, st.State))
	}
	m.status = st
	m.logger.WithFields(logrus.Fields{
		"from":  from,
		"state": st.State,
	}).Debug("Session state changed")
	m.events.Send(Event{Kind: EventStatus, Status: st})
}

func (m *Manager) toIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != Idle {
		m.setStatus(Status{State: Idle})
	}
}

// fail records err as the Failed reason and returns it.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.WithFields(logrus.Fields{
		"state": m.status.State,
		"error": err,
	}).Error("Session failed")
	if m.status.State != Failed {
		m.setStatus(Status{State: Failed, Reason: err})
	}
	return err
}
