// Package tinygo implements the device seam on top of tinygo.org/x/bluetooth.
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/groutine"
	"tinygo.org/x/bluetooth"
)

// adapter is the part of *bluetooth.Adapter the backend drives.
type adapter interface {
	Enable() error
	Scan(callback func(*bluetooth.Adapter, bluetooth.ScanResult)) error
	StopScan() error
	Connect(address bluetooth.Address, params bluetooth.ConnectionParams) (bluetooth.Device, error)
	SetConnectHandler(c func(device bluetooth.Device, connected bool))
}

// Radio is a device.Radio backed by the tinygo bluetooth default adapter.
type Radio struct {
	adapter adapter
	logger  *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	scanMu sync.Mutex

	// connected peripherals by address, for the adapter-wide disconnect callback
	peripherals *hashmap.Map[string, *Peripheral]
	names       *hashmap.Map[string, string]
}

var _ device.Radio = (*Radio)(nil)

// NewRadio creates a radio on bluetooth.DefaultAdapter.
func NewRadio(logger *logrus.Logger) *Radio {
	return newRadio(bluetooth.DefaultAdapter, logger)
}

func newRadio(a adapter, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		adapter:     a,
		logger:      logger,
		peripherals: hashmap.New[string, *Peripheral](),
		names:       hashmap.New[string, string](),
	}
}

func (r *Radio) enable() error {
	r.enableOnce.Do(func() {
		if err := r.adapter.Enable(); err != nil {
			r.enableErr = device.NormalizeError(err)
			return
		}
		r.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
			if connected {
				return
			}
			addr := d.Address.String()
			if p, ok := r.peripherals.Get(addr); ok {
				r.logger.WithField("address", addr).Warn("BLE stack reported disconnection")
				p.markDisconnected()
			}
		})
	})
	return r.enableErr
}

// State enables the adapter; failure to enable means it is off or missing.
func (r *Radio) State(_ context.Context) (device.RadioState, error) {
	err := r.enable()
	switch {
	case err == nil:
		return device.StatePoweredOn, nil
	case device.IsConnectionState(err, device.BluetoothOff):
		return device.StatePoweredOff, nil
	default:
		return device.StateUnknown, err
	}
}

// Scan blocks until ctx is done. tinygo allows one scan at a time per adapter.
func (r *Radio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	if err := r.enable(); err != nil {
		return err
	}
	r.scanMu.Lock()
	defer r.scanMu.Unlock()

	done := make(chan struct{})
	defer close(done)
	groutine.Go(ctx, "tinygo-scan-stop", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			if err := r.adapter.StopScan(); err != nil {
				r.logger.WithField("error", err).Debug("StopScan failed")
			}
		case <-done:
		}
	})

	err := r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		adv := &advertisement{
			name: result.LocalName(),
			addr: result.Address.String(),
			rssi: int(result.RSSI),
		}
		if adv.name != "" {
			r.names.Set(adv.addr, adv.name)
		}
		handler(adv)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return device.NormalizeError(err)
}

// Connect dials addr. tinygo cannot request an MTU; the negotiated value is
// read after discovery.
func (r *Radio) Connect(ctx context.Context, addr string, opts *device.ConnectOptions) (device.Peripheral, error) {
	if err := r.enable(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &device.ConnectOptions{}
	}

	var address bluetooth.Address
	address.Set(addr)

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := r.adapter.Connect(address, bluetooth.ConnectionParams{})
		ch <- result{dev, err}
	}()

	r.logger.WithField("address", addr).Info("Connecting to BLE device...")

	select {
	case <-ctx.Done():
		go func() {
			// the stack may still complete the dial; drop the late link
			if res := <-ch; res.err == nil {
				_ = res.dev.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect to %s: %w", addr, ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to device with address %q: %w", addr, device.NormalizeError(res.err))
		}
		name, _ := r.names.Get(addr)
		p := newPeripheral(res.dev, addr, name, r.logger)
		p.onDisconnect = func() { r.peripherals.Del(addr) }
		r.peripherals.Set(addr, p)
		return p, nil
	}
}

type advertisement struct {
	name string
	addr string
	rssi int
}

func (a *advertisement) LocalName() string { return a.name }
func (a *advertisement) Addr() string      { return a.addr }
func (a *advertisement) RSSI() int         { return a.rssi }

// Connectable is not reported by tinygo scan results.
func (a *advertisement) Connectable() bool { return true }
