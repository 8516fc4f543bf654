package testutils

import (
	"context"
	"sync"

	"github.com/srg/handlink/internal/device"
)

// FakeRadio is an in-memory device.Radio. Every scan replays the configured
// advertisements in order, checking for cancellation before each one.
type FakeRadio struct {
	mu sync.Mutex

	state       device.RadioState
	stateErr    error
	ads         []device.Advertisement
	holdScan    bool
	scanErr     error
	connectErr  error
	discoverErr error
	writeErr    error
	profile     *device.Profile

	scans       int
	delivered   int
	connects    []string
	opts        []device.ConnectOptions
	peripherals []*FakePeripheral
}

var _ device.Radio = (*FakeRadio)(nil)

func (r *FakeRadio) State(_ context.Context) (device.RadioState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.stateErr
}

// SetState changes the reported radio state.
func (r *FakeRadio) SetState(state device.RadioState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

func (r *FakeRadio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	r.mu.Lock()
	r.scans++
	ads := r.ads
	hold, scanErr := r.holdScan, r.scanErr
	r.mu.Unlock()

	for _, ad := range ads {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.mu.Lock()
		r.delivered++
		r.mu.Unlock()
		handler(ad)
	}

	if scanErr != nil {
		return scanErr
	}
	if !hold {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (r *FakeRadio) Connect(_ context.Context, addr string, opts *device.ConnectOptions) (device.Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connects = append(r.connects, addr)
	if opts != nil {
		r.opts = append(r.opts, *opts)
	}
	if r.connectErr != nil {
		return nil, r.connectErr
	}

	name := ""
	for _, ad := range r.ads {
		if ad.Addr() == addr {
			name = ad.LocalName()
			break
		}
	}
	mtu := 23
	if opts != nil && opts.MTU > 0 {
		mtu = opts.MTU
	}

	p := newFakePeripheral(addr, name, mtu, r.profile, r.discoverErr, r.writeErr)
	r.peripherals = append(r.peripherals, p)
	return p, nil
}

// Scans returns how many scans were started.
func (r *FakeRadio) Scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

// Delivered returns how many advertisements were handed to scan handlers.
func (r *FakeRadio) Delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered
}

// Connects returns the addresses passed to Connect, in call order.
func (r *FakeRadio) Connects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.connects...)
}

// ConnectOptions returns the options passed to Connect, in call order.
func (r *FakeRadio) ConnectOptions() []device.ConnectOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.ConnectOptions(nil), r.opts...)
}

// Peripherals returns every peripheral handed out by Connect.
func (r *FakeRadio) Peripherals() []*FakePeripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakePeripheral(nil), r.peripherals...)
}

// LastPeripheral returns the most recently connected peripheral or nil.
func (r *FakeRadio) LastPeripheral() *FakePeripheral {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peripherals) == 0 {
		return nil
	}
	return r.peripherals[len(r.peripherals)-1]
}

// FakePeripheral is a connected peripheral created by FakeRadio.
type FakePeripheral struct {
	id, name string
	mtu      int

	profile     *device.Profile
	discoverErr error
	chars       map[string]*FakeCharacteristic

	mu              sync.Mutex
	discovered      bool
	disconnectCalls int
	done            chan struct{}
	closeOnce       sync.Once
}

var _ device.Peripheral = (*FakePeripheral)(nil)

func newFakePeripheral(id, name string, mtu int, profile *device.Profile, discoverErr, writeErr error) *FakePeripheral {
	p := &FakePeripheral{
		id:          id,
		name:        name,
		mtu:         mtu,
		profile:     profile,
		discoverErr: discoverErr,
		chars:       make(map[string]*FakeCharacteristic),
		done:        make(chan struct{}),
	}
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			p.chars[charKey(svc.UUID, c.UUID)] = &FakeCharacteristic{
				uuid:     c.UUID,
				props:    c.Properties,
				writeErr: writeErr,
				link:     p,
			}
		}
	}
	return p
}

func charKey(svc, char string) string {
	return device.NormalizeUUID(svc) + "/" + device.NormalizeUUID(char)
}

func (p *FakePeripheral) ID() string   { return p.id }
func (p *FakePeripheral) Name() string { return p.name }
func (p *FakePeripheral) MTU() int     { return p.mtu }

func (p *FakePeripheral) DiscoverProfile(ctx context.Context) (*device.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.discoverErr != nil {
		return nil, p.discoverErr
	}
	p.mu.Lock()
	p.discovered = true
	p.mu.Unlock()
	return p.profile, nil
}

func (p *FakePeripheral) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	p.mu.Lock()
	discovered := p.discovered
	p.mu.Unlock()
	c, ok := p.chars[charKey(serviceUUID, charUUID)]
	if !discovered || !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return c, nil
}

func (p *FakePeripheral) Disconnected() <-chan struct{} { return p.done }

func (p *FakePeripheral) Disconnect() error {
	p.mu.Lock()
	p.disconnectCalls++
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}

// Drop simulates a link loss initiated by the remote side.
func (p *FakePeripheral) Drop() {
	p.closeOnce.Do(func() { close(p.done) })
}

// DisconnectCalls returns how many times Disconnect was called.
func (p *FakePeripheral) DisconnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectCalls
}

// IsConnected reports whether the link is still up.
func (p *FakePeripheral) IsConnected() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Char returns the fake characteristic for a UUID pair, or nil.
func (p *FakePeripheral) Char(serviceUUID, charUUID string) *FakeCharacteristic {
	return p.chars[charKey(serviceUUID, charUUID)]
}

// FakeCharacteristic records writes and lets tests push notifications.
type FakeCharacteristic struct {
	uuid  string
	props device.Property
	link  *FakePeripheral

	mu           sync.Mutex
	handler      func([]byte)
	lastHandler  func([]byte)
	writes       [][]byte
	withResponse []bool
	writeErr     error
	subscribeErr error
	subscribes   int
	unsubscribes int
}

var _ device.Characteristic = (*FakeCharacteristic)(nil)

func (c *FakeCharacteristic) UUID() string               { return c.uuid }
func (c *FakeCharacteristic) Properties() device.Property { return c.props }

func (c *FakeCharacteristic) Write(ctx context.Context, data []byte, withResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.link.IsConnected() {
		return device.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.withResponse = append(c.withResponse, withResponse)
	return nil
}

func (c *FakeCharacteristic) Subscribe(handler func(data []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subscribes++
	c.handler = handler
	c.lastHandler = handler
	return nil
}

func (c *FakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribes++
	c.handler = nil
	return nil
}

// Notify delivers data to the current subscriber. Returns false when nobody is subscribed.
func (c *FakeCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// NotifyLate calls the most recent handler even after Unsubscribe, the way a
// stack may deliver a notification that was already in flight.
func (c *FakeCharacteristic) NotifyLate(data []byte) bool {
	c.mu.Lock()
	h := c.lastHandler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// SetWriteError changes the result of subsequent writes.
func (c *FakeCharacteristic) SetWriteError(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// SetSubscribeError makes subsequent Subscribe calls fail.
func (c *FakeCharacteristic) SetSubscribeError(err error) {
	c.mu.Lock()
	c.subscribeErr = err
	c.mu.Unlock()
}

// Writes returns the payloads written so far as strings.
func (c *FakeCharacteristic) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

// WithResponse returns the write-with-response flag of every write.
func (c *FakeCharacteristic) WithResponse() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.withResponse...)
}

// Subscribed reports whether a handler is registered.
func (c *FakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// Unsubscribes returns how many times Unsubscribe was called.
func (c *FakeCharacteristic) Unsubscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes
}
