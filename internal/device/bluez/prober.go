// Package bluez reads adapter power state from BlueZ over the system D-Bus.
//
// BLE libraries report a missing or powered-down adapter as an opaque open
// failure. BlueZ exposes the answer directly as org.bluez.Adapter1.Powered.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
)

const (
	busName            = "org.bluez"
	adapterIface       = "org.bluez.Adapter1"
	propsGet           = "org.freedesktop.DBus.Properties.Get"
	DefaultAdapterPath = dbus.ObjectPath("/org/bluez/hci0")

	errServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	errUnknownObject  = "org.freedesktop.DBus.Error.UnknownObject"
	errNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
	errAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	errUnknownMethod  = "org.freedesktop.DBus.Error.UnknownMethod"
	errInvalidArgs    = "org.freedesktop.DBus.Error.InvalidArgs"
)

// Prober is a device.StateProber backed by BlueZ.
type Prober struct {
	path   dbus.ObjectPath
	logger *logrus.Logger

	mu     sync.Mutex
	object func() (dbus.BusObject, error)
}

var _ device.StateProber = (*Prober)(nil)

// NewProber probes the adapter at path, or hci0 when path is empty.
// The system bus is opened on first use.
func NewProber(path string, logger *logrus.Logger) *Prober {
	if logger == nil {
		logger = logrus.New()
	}
	p := &Prober{path: DefaultAdapterPath, logger: logger}
	if path != "" {
		p.path = dbus.ObjectPath(path)
	}
	p.object = func() (dbus.BusObject, error) {
		conn, err := dbus.SystemBus()
		if err != nil {
			return nil, fmt.Errorf("connect to system bus: %w", err)
		}
		return conn.Object(busName, p.path), nil
	}
	return p
}

// State reads Adapter1.Powered.
func (p *Prober) State(ctx context.Context) (device.RadioState, error) {
	p.mu.Lock()
	obj, err := p.object()
	p.mu.Unlock()
	if err != nil {
		return device.StateUnknown, err
	}

	var v dbus.Variant
	err = obj.CallWithContext(ctx, propsGet, 0, adapterIface, "Powered").Store(&v)
	state, err := stateFrom(v, err)

	p.logger.WithFields(logrus.Fields{
		"adapter": string(p.path),
		"state":   state.String(),
	}).Debug("BlueZ adapter state probed")
	return state, err
}

// stateFrom maps a Powered property read to a radio state.
func stateFrom(v dbus.Variant, err error) (device.RadioState, error) {
	if err != nil {
		var derr dbus.Error
		if !errors.As(err, &derr) {
			return device.StateUnknown, err
		}
		switch derr.Name {
		case errServiceUnknown, errNameHasNoOwner, errUnknownObject, errUnknownMethod, errInvalidArgs:
			// no bluetoothd, or no such adapter
			return device.StateUnsupported, nil
		case errAccessDenied:
			return device.StateUnauthorized, nil
		default:
			return device.StateUnknown, err
		}
	}

	powered, ok := v.Value().(bool)
	if !ok {
		return device.StateUnknown, fmt.Errorf("property Powered has type %s, want bool", v.Signature())
	}
	if powered {
		return device.StatePoweredOn, nil
	}
	return device.StatePoweredOff, nil
}
