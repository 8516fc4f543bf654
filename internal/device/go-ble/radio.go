// Package goble implements the device seam on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
)

// DefaultMTU is the ATT MTU before any exchange.
const DefaultMTU = 23

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDefaultDevice

// bleClient is the part of ble.Client the backend drives.
type bleClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

// bleScanner is the part of ble.Device used for discovery.
type bleScanner interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// Radio is a device.Radio backed by the platform go-ble device.
// The device is opened on first use.
type Radio struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device

	// names remembers advertised local names by address; some stacks do not
	// report a name on the connected client.
	names *hashmap.Map[string, string]

	// seams for tests
	scanner func() (bleScanner, error)
	dial    func(ctx context.Context, addr string) (bleClient, error)
}

var _ device.Radio = (*Radio)(nil)

// NewRadio creates a go-ble radio.
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Radio{
		logger: logger,
		names:  hashmap.New[string, string](),
	}
	r.scanner = func() (bleScanner, error) { return r.device() }
	r.dial = r.dialDevice
	return r
}

func (r *Radio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		r.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	r.dev = dev
	return dev, nil
}

func (r *Radio) dialDevice(ctx context.Context, addr string) (bleClient, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}
	client, err := dev.Dial(ctx, ble.NewAddr(addr))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// State opens the device and reports PoweredOn on success. go-ble exposes no
// separate state query; opening fails while the adapter is off.
func (r *Radio) State(_ context.Context) (device.RadioState, error) {
	_, err := r.scanner()
	switch {
	case err == nil:
		return device.StatePoweredOn, nil
	case device.IsConnectionState(err, device.BluetoothOff):
		return device.StatePoweredOff, nil
	case errors.Is(err, device.ErrUnsupported):
		return device.StateUnsupported, nil
	default:
		return device.StateUnknown, err
	}
}

// Scan runs an unfiltered scan until ctx is done.
func (r *Radio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	s, err := r.scanner()
	if err != nil {
		return err
	}

	err = s.Scan(ctx, false, func(a ble.Advertisement) {
		adv := newAdvertisement(a)
		if name := adv.LocalName(); name != "" {
			r.names.Set(adv.Addr(), name)
		}
		handler(adv)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return NormalizeError(err)
}

// Connect dials addr and exchanges the requested MTU. A failed exchange keeps
// the default MTU; CoreBluetooth negotiates on its own.
func (r *Radio) Connect(ctx context.Context, addr string, opts *device.ConnectOptions) (device.Peripheral, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if opts == nil {
		opts = &device.ConnectOptions{}
	}

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	r.logger.WithFields(logrus.Fields{
		"address": addr,
		"timeout": opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	client, err := r.dial(dialCtx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", addr, NormalizeError(err))
	}

	mtu := DefaultMTU
	if opts.MTU > 0 {
		if tx, err := client.ExchangeMTU(opts.MTU); err != nil {
			r.logger.WithFields(logrus.Fields{
				"address": addr,
				"mtu":     opts.MTU,
				"error":   err,
			}).Debug("MTU exchange failed, keeping default")
		} else if tx > 0 {
			mtu = tx
		}
	}

	name := client.Name()
	if name == "" {
		name, _ = r.names.Get(addr)
	}

	return newPeripheral(client, addr, name, mtu, r.logger), nil
}
