package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/groutine"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type service struct {
	uuid            string
	characteristics *orderedmap.OrderedMap[string, *characteristic]
}

// Peripheral is a connected go-ble client.
type Peripheral struct {
	client bleClient
	id     string
	name   string
	mtu    int
	logger *logrus.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	services *orderedmap.OrderedMap[string, *service]

	done      chan struct{}
	closeOnce sync.Once
}

var _ device.Peripheral = (*Peripheral)(nil)

func newPeripheral(client bleClient, id, name string, mtu int, logger *logrus.Logger) *Peripheral {
	p := &Peripheral{
		client:   client,
		id:       id,
		name:     name,
		mtu:      mtu,
		logger:   logger,
		services: orderedmap.New[string, *service](),
		done:     make(chan struct{}),
	}

	// Monitor go-ble client Disconnected() channel where the platform provides one
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				logger.WithField("address", id).Warn("BLE stack reported disconnection")
				p.markDisconnected()
			case <-p.done:
			}
		})
	} else {
		logger.Debug("Client does not support Disconnected() channel")
	}
	return p
}

func (p *Peripheral) ID() string   { return p.id }
func (p *Peripheral) Name() string { return p.name }
func (p *Peripheral) MTU() int     { return p.mtu }

// DiscoverProfile enumerates all services and characteristics, keyed by
// normalized UUID in discovery order.
func (p *Peripheral) DiscoverProfile(ctx context.Context) (*device.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.WithField("address", p.id).Debug("Discovering services and characteristics...")
	bleProfile, err := p.client.DiscoverProfile(true)
	if err != nil {
		return nil, NormalizeError(err)
	}

	services := orderedmap.New[string, *service]()
	profile := &device.Profile{}
	for _, bleSvc := range bleProfile.Services {
		svcUUID := device.NormalizeUUID(bleSvc.UUID.String())
		svc, ok := services.Get(svcUUID)
		if !ok {
			svc = &service{uuid: svcUUID, characteristics: orderedmap.New[string, *characteristic]()}
			services.Set(svcUUID, svc)
		}
		for _, bleChar := range bleSvc.Characteristics {
			charUUID := device.NormalizeUUID(bleChar.UUID.String())
			p.logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    charUUID,
			}).Debug("Found characteristic UUID")
			svc.characteristics.Set(charUUID, &characteristic{
				p:     p,
				raw:   bleChar,
				uuid:  charUUID,
				props: toProperty(bleChar.Property),
			})
		}
	}

	for pair := services.Oldest(); pair != nil; pair = pair.Next() {
		info := device.ServiceInfo{UUID: pair.Key}
		for c := pair.Value.characteristics.Oldest(); c != nil; c = c.Next() {
			info.Characteristics = append(info.Characteristics, device.CharacteristicInfo{
				UUID:       c.Key,
				Properties: c.Value.props,
			})
		}
		profile.Services = append(profile.Services, info)
	}

	p.mu.Lock()
	p.services = services
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"address":         p.id,
		"services":        len(profile.Services),
		"characteristics": profile.CharacteristicCount(),
	}).Debug("Profile discovered successfully")
	return profile, nil
}

// Characteristic retrieves a characteristic by service and characteristic UUID.
// Both UUIDs are normalized for consistent lookup (lowercase, no dashes).
func (p *Peripheral) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	svc, ok := p.services.Get(device.NormalizeUUID(serviceUUID))
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}
	c, ok := svc.characteristics.Get(device.NormalizeUUID(charUUID))
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return c, nil
}

func (p *Peripheral) Disconnected() <-chan struct{} { return p.done }

// Disconnect cancels the connection. Calling it again is a no-op.
func (p *Peripheral) Disconnect() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	err := NormalizeError(p.client.CancelConnection())
	p.markDisconnected()
	if err != nil {
		p.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}
	p.logger.WithField("address", p.id).Info("BLE device disconnected successfully")
	return nil
}

func (p *Peripheral) markDisconnected() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *Peripheral) connected() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// characteristic is a discovered go-ble characteristic.
type characteristic struct {
	p     *Peripheral
	raw   *ble.Characteristic
	uuid  string
	props device.Property
}

func (c *characteristic) UUID() string               { return c.uuid }
func (c *characteristic) Properties() device.Property { return c.props }

// indicate reports whether subscriptions use indications.
func (c *characteristic) indicate() bool {
	return !c.props.Has(device.PropNotify) && c.props.Has(device.PropIndicate)
}

// Write returns when the stack answers or ctx is done, whichever comes first.
// Writes on one peripheral are serialized.
func (c *characteristic) Write(ctx context.Context, data []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.p.connected() {
		return device.ErrNotConnected
	}

	// go-ble writes block until the ATT response; the deadline is enforced here.
	errCh := make(chan error, 1)
	go func() {
		c.p.writeMu.Lock()
		defer c.p.writeMu.Unlock()
		errCh <- c.p.client.WriteCharacteristic(c.raw, data, !withResponse)
	}()

	select {
	case <-ctx.Done():
		c.p.logger.WithField("uuid", c.uuid).Debug("Write abandoned, stack did not answer before the deadline")
		return ctx.Err()
	case err := <-errCh:
		return NormalizeError(err)
	}
}

func (c *characteristic) Subscribe(handler func(data []byte)) error {
	if !c.props.CanNotify() {
		return &device.NotFoundError{Resource: "notify property", UUIDs: []string{c.uuid}}
	}
	return NormalizeError(c.p.client.Subscribe(c.raw, c.indicate(), func(data []byte) {
		handler(data)
	}))
}

func (c *characteristic) Unsubscribe() error {
	if !c.p.connected() {
		return nil
	}
	return NormalizeError(c.p.client.Unsubscribe(c.raw, c.indicate()))
}
