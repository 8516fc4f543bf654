// Package locator finds the hand peripheral by advertised name and connects to it.
package locator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
)

const (
	DefaultDeviceName     = "nimble-ble"
	DefaultMTU            = 187
	DefaultScanTimeout    = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// Phase identifies a step of ScanAndConnect reported to the progress callback.
type Phase string

const (
	PhaseScanning    Phase = "Scanning"
	PhaseConnecting  Phase = "Connecting"
	PhaseDiscovering Phase = "DiscoveringServices"
)

// ProgressFunc receives phase changes. It is called synchronously.
type ProgressFunc func(Phase)

// Config controls name matching and link setup.
type Config struct {
	// DeviceName is compared for exact equality with the advertised local name.
	DeviceName string
	// MTU is requested right after the link is up.
	MTU int
	// ScanTimeout bounds the scan. 0 scans until a match or cancellation.
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns the stock hand settings.
func DefaultConfig() Config {
	return Config{
		DeviceName:     DefaultDeviceName,
		MTU:            DefaultMTU,
		ScanTimeout:    DefaultScanTimeout,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Locator runs scan, connect and discovery against one radio.
type Locator struct {
	radio  device.Radio
	prober device.StateProber
	cfg    Config
	logger *logrus.Logger
}

// New creates a Locator. Radio state is read from the radio itself unless
// WithStateProber installs another source.
func New(radio device.Radio, cfg Config, logger *logrus.Logger) *Locator {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultDeviceName
	}
	return &Locator{radio: radio, cfg: cfg, logger: logger}
}

// WithStateProber replaces the radio state source.
func (l *Locator) WithStateProber(p device.StateProber) *Locator {
	l.prober = p
	return l
}

// Config returns the effective configuration.
func (l *Locator) Config() Config { return l.cfg }

// ScanAndConnect returns a connected peripheral whose profile has been fully
// discovered. The first advertisement with a matching name wins.
func (l *Locator) ScanAndConnect(ctx context.Context, progress ProgressFunc) (device.Peripheral, error) {
	if progress == nil {
		progress = func(Phase) {}
	}

	if err := l.checkRadio(ctx); err != nil {
		return nil, err
	}

	progress(PhaseScanning)
	adv, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}

	progress(PhaseConnecting)
	p, err := l.connect(ctx, adv)
	if err != nil {
		return nil, err
	}

	progress(PhaseDiscovering)
	profile, err := p.DiscoverProfile(ctx)
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": p.ID(),
			"error":   err,
		}).Error("Failed to discover profile")
		if dErr := p.Disconnect(); dErr != nil {
			l.logger.WithField("error", dErr).Warn("Failed to disconnect after discovery failure")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, device.Fail(device.ConnectionFailed, device.NormalizeError(err), "discovery on %s failed", p.ID())
	}

	l.logger.WithFields(logrus.Fields{
		"address":         p.ID(),
		"name":            p.Name(),
		"mtu":             p.MTU(),
		"services":        len(profile.Services),
		"characteristics": profile.CharacteristicCount(),
	}).Info("BLE device connected successfully")
	return p, nil
}

func (l *Locator) checkRadio(ctx context.Context) error {
	var src device.StateProber = l.radio
	if l.prober != nil {
		src = l.prober
	}
	state, err := src.State(ctx)
	if err != nil {
		return device.Fail(device.RadioUnavailable, device.NormalizeError(err), "cannot read radio state")
	}
	if state != device.StatePoweredOn {
		l.logger.WithField("state", state).Warn("Radio is not powered on")
		return device.Fail(device.RadioUnavailable, nil, "radio is %s", state)
	}
	return nil
}

func (l *Locator) scan(ctx context.Context) (device.Advertisement, error) {
	var (
		scanCtx context.Context
		cancel  context.CancelFunc
	)
	if l.cfg.ScanTimeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, l.cfg.ScanTimeout)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		mu    sync.Mutex
		once  sync.Once
		match device.Advertisement
	)
	ignored := hashmap.New[string, struct{}]()

	l.logger.WithFields(logrus.Fields{
		"name":    l.cfg.DeviceName,
		"timeout": l.cfg.ScanTimeout,
	}).Info("Scanning for BLE device...")

	err := l.radio.Scan(scanCtx, func(adv device.Advertisement) {
		if adv.LocalName() != l.cfg.DeviceName {
			if _, loaded := ignored.GetOrInsert(adv.Addr(), struct{}{}); !loaded {
				l.logger.WithFields(logrus.Fields{
					"address": adv.Addr(),
					"name":    adv.LocalName(),
				}).Debug("Ignoring advertiser")
			}
			return
		}
		once.Do(func() {
			mu.Lock()
			match = adv
			mu.Unlock()
			cancel()
		})
	})

	mu.Lock()
	found := match
	mu.Unlock()

	if found != nil {
		l.logger.WithFields(logrus.Fields{
			"address": found.Addr(),
			"rssi":    found.RSSI(),
			"ignored": ignored.Len(),
		}).Info("Found BLE device")
		return found, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
		return nil, device.Fail(device.ScanTimeout, nil, "no %q advertisement within %s", l.cfg.DeviceName, l.cfg.ScanTimeout)
	}
	if err != nil {
		err = device.NormalizeError(err)
		if device.IsConnectionState(err, device.BluetoothOff) {
			return nil, device.Fail(device.RadioUnavailable, err, "scan failed")
		}
		return nil, device.Fail(device.ConnectionFailed, err, "scan failed")
	}
	return nil, device.Fail(device.ScanTimeout, nil, "scan ended without a %q advertisement", l.cfg.DeviceName)
}

func (l *Locator) connect(ctx context.Context, adv device.Advertisement) (device.Peripheral, error) {
	connCtx := ctx
	if l.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connCtx, cancel = context.WithTimeout(ctx, l.cfg.ConnectTimeout)
		defer cancel()
	}

	l.logger.WithFields(logrus.Fields{
		"address": adv.Addr(),
		"mtu":     l.cfg.MTU,
	}).Debug("Dialing BLE device...")

	p, err := l.radio.Connect(connCtx, adv.Addr(), &device.ConnectOptions{
		MTU:            l.cfg.MTU,
		ConnectTimeout: l.cfg.ConnectTimeout,
	})
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"address": adv.Addr(),
			"error":   err,
		}).Error("Failed to dial BLE device")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = device.NormalizeError(err)
		if device.IsConnectionState(err, device.BluetoothOff) {
			return nil, device.Fail(device.RadioUnavailable, err, "connect to %s failed", adv.Addr())
		}
		return nil, device.Fail(device.ConnectionFailed, err, "connect to %s failed", adv.Addr())
	}
	return p, nil
}
