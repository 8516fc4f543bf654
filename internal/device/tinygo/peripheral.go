package tinygo

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"tinygo.org/x/bluetooth"
)

const defaultMTU = 23

// gattCharacteristic is the part of bluetooth.DeviceCharacteristic the backend
// uses on every platform.
type gattCharacteristic interface {
	UUID() bluetooth.UUID
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
	GetMTU() (uint16, error)
}

// acknowledgedWriter is the write-with-response half of a characteristic.
// tinygo only provides it on darwin and windows; the BlueZ build lacks it.
type acknowledgedWriter interface {
	Write(p []byte) (int, error)
}

type gattService struct {
	uuid  string
	chars []gattCharacteristic
}

// Peripheral is a connected tinygo device.
type Peripheral struct {
	addr   string
	name   string
	logger *logrus.Logger

	discover   func() ([]gattService, error)
	disconnect func() error

	// called once the link is gone, to drop radio bookkeeping
	onDisconnect func()

	mu       sync.RWMutex
	mtu      int
	services *orderedmap.OrderedMap[string, map[string]*characteristic]

	done     chan struct{}
	doneOnce sync.Once
}

var _ device.Peripheral = (*Peripheral)(nil)

func newPeripheral(dev bluetooth.Device, addr, name string, logger *logrus.Logger) *Peripheral {
	p := newLink(addr, name, logger)
	p.discover = func() ([]gattService, error) {
		svcs, err := dev.DiscoverServices(nil)
		if err != nil {
			return nil, err
		}
		out := make([]gattService, 0, len(svcs))
		for i := range svcs {
			svc := &svcs[i]
			chars, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				return nil, err
			}
			gs := gattService{uuid: svc.UUID().String()}
			for j := range chars {
				gs.chars = append(gs.chars, &chars[j])
			}
			out = append(out, gs)
		}
		return out, nil
	}
	p.disconnect = dev.Disconnect
	return p
}

func newLink(addr, name string, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	return &Peripheral{
		addr:     addr,
		name:     name,
		logger:   logger,
		mtu:      defaultMTU,
		services: orderedmap.New[string, map[string]*characteristic](),
		done:     make(chan struct{}),
	}
}

func (p *Peripheral) ID() string   { return p.addr }
func (p *Peripheral) Name() string { return p.name }

func (p *Peripheral) MTU() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mtu
}

// DiscoverProfile enumerates every service and characteristic. tinygo does not
// expose characteristic properties on all platforms, so every characteristic
// is reported as notifying and writable without response; a failed subscribe
// surfaces later. PropWrite is set only where the platform build can do
// acknowledged writes.
func (p *Peripheral) DiscoverProfile(ctx context.Context) (*device.Profile, error) {
	if !p.connected() {
		return nil, device.ErrNotConnected
	}

	type result struct {
		svcs []gattService
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		svcs, err := p.discover()
		ch <- result{svcs, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return nil, device.NormalizeError(res.err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	profile := &device.Profile{}
	for _, svc := range res.svcs {
		suuid := device.NormalizeUUID(svc.uuid)
		chars := make(map[string]*characteristic, len(svc.chars))
		info := device.ServiceInfo{UUID: suuid}
		for _, gc := range svc.chars {
			c := &characteristic{
				uuid:   device.NormalizeUUID(gc.UUID().String()),
				props:  device.PropWriteWithoutResponse | device.PropNotify,
				gatt:   gc,
				parent: p,
			}
			if _, ok := gc.(acknowledgedWriter); ok {
				c.props |= device.PropWrite
			}
			chars[c.uuid] = c
			info.Characteristics = append(info.Characteristics, device.CharacteristicInfo{UUID: c.uuid, Properties: c.props})
			if mtu, err := gc.GetMTU(); err == nil && int(mtu) > p.mtu {
				p.mtu = int(mtu)
			}
		}
		p.services.Set(suuid, chars)
		profile.Services = append(profile.Services, info)
	}

	p.logger.WithFields(logrus.Fields{
		"address":         p.addr,
		"services":        len(profile.Services),
		"characteristics": profile.CharacteristicCount(),
		"mtu":             p.mtu,
	}).Debug("Profile discovered")
	return profile, nil
}

func (p *Peripheral) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	suuid := device.NormalizeUUID(serviceUUID)
	cuuid := device.NormalizeUUID(charUUID)

	p.mu.RLock()
	defer p.mu.RUnlock()

	chars, ok := p.services.Get(suuid)
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{suuid}}
	}
	c, ok := chars[cuuid]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{suuid, cuuid}}
	}
	return c, nil
}

func (p *Peripheral) Disconnected() <-chan struct{} { return p.done }

// Disconnect is idempotent.
func (p *Peripheral) Disconnect() error {
	if !p.connected() {
		return nil
	}
	err := p.disconnect()
	p.markDisconnected()
	if err != nil && !device.IsConnectionState(device.NormalizeError(err), device.NotConnected) {
		return err
	}
	return nil
}

func (p *Peripheral) markDisconnected() {
	p.doneOnce.Do(func() {
		close(p.done)
		if p.onDisconnect != nil {
			p.onDisconnect()
		}
	})
}

func (p *Peripheral) connected() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type characteristic struct {
	uuid   string
	props  device.Property
	gatt   gattCharacteristic
	parent *Peripheral
}

func (c *characteristic) UUID() string               { return c.uuid }
func (c *characteristic) Properties() device.Property { return c.props }

func (c *characteristic) Write(ctx context.Context, data []byte, withResponse bool) error {
	if !c.parent.connected() {
		return device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	write := c.gatt.WriteWithoutResponse
	if withResponse {
		w, ok := c.gatt.(acknowledgedWriter)
		if !ok {
			return device.Fail(device.WriteFailure, device.ErrUnsupported,
				"write with response to %s is not available on this platform", c.uuid)
		}
		write = w.Write
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := write(data)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return device.NormalizeError(err)
	}
}

func (c *characteristic) Subscribe(handler func(data []byte)) error {
	if handler == nil {
		return errors.New("subscribe: nil handler")
	}
	if !c.parent.connected() {
		return device.ErrNotConnected
	}
	return device.NormalizeError(c.gatt.EnableNotifications(handler))
}

func (c *characteristic) Unsubscribe() error {
	if !c.parent.connected() {
		return nil
	}
	return device.NormalizeError(c.gatt.EnableNotifications(nil))
}
