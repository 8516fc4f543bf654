package device

import (
	"context"
	"time"
)

// RadioState mirrors the central manager states reported by BLE stacks.
type RadioState int

const (
	StateUnknown RadioState = iota
	StateResetting
	StateUnsupported
	StateUnauthorized
	StatePoweredOff
	StatePoweredOn
)

func (s RadioState) String() string {
	switch s {
	case StateResetting:
		return "Resetting"
	case StateUnsupported:
		return "Unsupported"
	case StateUnauthorized:
		return "Unauthorized"
	case StatePoweredOff:
		return "PoweredOff"
	case StatePoweredOn:
		return "PoweredOn"
	default:
		return "Unknown"
	}
}

// Advertisement is the subset of an advertising packet the locator inspects.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// Radio is the local BLE adapter acting as a central.
type Radio interface {
	// State reports the adapter power state without side effects.
	State(ctx context.Context) (RadioState, error)

	// Scan runs an unfiltered scan and calls handler for every advertisement
	// until ctx is done or the stack fails. Cancelling ctx stops the scan.
	Scan(ctx context.Context, handler func(Advertisement)) error

	// Connect dials the peripheral at addr.
	Connect(ctx context.Context, addr string, opts *ConnectOptions) (Peripheral, error)
}

// StateProber reports adapter power state from a source other than the BLE stack itself.
type StateProber interface {
	State(ctx context.Context) (RadioState, error)
}

// Peripheral is a connected remote device. It is the only handle to the link.
type Peripheral interface {
	ID() string
	Name() string
	MTU() int

	// DiscoverProfile enumerates all services and characteristics.
	DiscoverProfile(ctx context.Context) (*Profile, error)

	// Characteristic looks up a discovered characteristic by UUID pair.
	// Returns a NotFoundError if either UUID is unknown.
	Characteristic(serviceUUID, charUUID string) (Characteristic, error)

	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}

	Disconnect() error
}

// Characteristic is a live GATT characteristic on a connected peripheral.
type Characteristic interface {
	UUID() string
	Properties() Property

	Write(ctx context.Context, data []byte, withResponse bool) error
	Subscribe(handler func(data []byte)) error
	Unsubscribe() error
}

// Property is the GATT characteristic property bitmask.
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
)

func (p Property) Has(flag Property) bool { return p&flag != 0 }

// CanNotify reports whether the characteristic pushes value updates.
func (p Property) CanNotify() bool { return p.Has(PropNotify) || p.Has(PropIndicate) }

// Profile is the result of capability discovery.
type Profile struct {
	Services []ServiceInfo
}

// ServiceInfo describes one discovered service.
type ServiceInfo struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo describes one discovered characteristic.
type CharacteristicInfo struct {
	UUID       string
	Properties Property
}

// CharacteristicCount returns the total number of characteristics across services.
func (p *Profile) CharacteristicCount() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, svc := range p.Services {
		n += len(svc.Characteristics)
	}
	return n
}

// ConnectOptions defines BLE connection options
type ConnectOptions struct {
	// MTU is the ATT MTU requested right after the link is up. 0 keeps the stack default.
	MTU            int
	ConnectTimeout time.Duration
}
