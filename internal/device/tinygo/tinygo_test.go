package tinygo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

const (
	handService = "b2bbc642-46da-11ed-b878-0242ac120002"
	handChar    = "c9af9c76-46de-11ed-b878-0242ac120002"
)

type fakeAdapter struct {
	mu         sync.Mutex
	enableErr  error
	enables    int
	connectErr error
	connectGo  chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	handler    func(bluetooth.Device, bool)
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{stop: make(chan struct{})}
}

func (a *fakeAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enables++
	return a.enableErr
}

func (a *fakeAdapter) Scan(func(*bluetooth.Adapter, bluetooth.ScanResult)) error {
	<-a.stop
	return nil
}

func (a *fakeAdapter) StopScan() error {
	a.stopOnce.Do(func() { close(a.stop) })
	return nil
}

func (a *fakeAdapter) Connect(bluetooth.Address, bluetooth.ConnectionParams) (bluetooth.Device, error) {
	if a.connectGo != nil {
		<-a.connectGo
	}
	return bluetooth.Device{}, a.connectErr
}

func (a *fakeAdapter) SetConnectHandler(c func(bluetooth.Device, bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = c
}

type fakeChar struct {
	uuid    bluetooth.UUID
	mtu     uint16
	writes  []string
	noRsp   []bool
	err     error
	notify  func([]byte)
	enables int
}

func (c *fakeChar) UUID() bluetooth.UUID { return c.uuid }

// ackChar adds write-with-response, as the darwin and windows builds do.
type ackChar struct{ *fakeChar }

func (c ackChar) Write(p []byte) (int, error) {
	c.writes = append(c.writes, string(p))
	c.noRsp = append(c.noRsp, false)
	return len(p), c.err
}

func (c *fakeChar) WriteWithoutResponse(p []byte) (int, error) {
	c.writes = append(c.writes, string(p))
	c.noRsp = append(c.noRsp, true)
	return len(p), c.err
}

func (c *fakeChar) EnableNotifications(cb func([]byte)) error {
	c.enables++
	c.notify = cb
	return c.err
}

func (c *fakeChar) GetMTU() (uint16, error) { return c.mtu, nil }

func mustUUID(t *testing.T, s string) bluetooth.UUID {
	t.Helper()
	u, err := bluetooth.ParseUUID(s)
	require.NoError(t, err)
	return u
}

func handLink(t *testing.T) (*Peripheral, *fakeChar, *int) {
	t.Helper()
	return newHandLink(t, true)
}

// newHandLink builds a link to the hand. acked selects a characteristic
// that supports write with response.
func newHandLink(t *testing.T, acked bool) (*Peripheral, *fakeChar, *int) {
	t.Helper()
	c := &fakeChar{uuid: mustUUID(t, handChar), mtu: 185}
	var gc gattCharacteristic = c
	if acked {
		gc = ackChar{c}
	}
	disconnects := 0
	p := newLink("AA:BB:CC:DD:EE:FF", "nimble-ble", logrus.New())
	p.discover = func() ([]gattService, error) {
		return []gattService{{uuid: handService, chars: []gattCharacteristic{gc}}}, nil
	}
	p.disconnect = func() error {
		disconnects++
		return nil
	}
	return p, c, &disconnects
}

func TestPeripheral_DiscoverProfile(t *testing.T) {
	p, _, _ := handLink(t)

	_, err := p.Characteristic(handService, handChar)
	var nf *device.NotFoundError
	require.ErrorAs(t, err, &nf, "lookup before discovery MUST fail")

	profile, err := p.DiscoverProfile(context.Background())
	require.NoError(t, err)
	require.Len(t, profile.Services, 1)
	assert.Equal(t, device.NormalizeUUID(handService), profile.Services[0].UUID)
	assert.Equal(t, 1, profile.CharacteristicCount())
	assert.Equal(t, 185, p.MTU(), "MTU MUST come from the characteristic")

	c, err := p.Characteristic(handService, handChar)
	require.NoError(t, err)
	assert.True(t, c.Properties().CanNotify())
	assert.True(t, c.Properties().Has(device.PropWrite))

	_, err = p.Characteristic(handService, "1234")
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "characteristic", nf.Resource)
}

func TestPeripheral_DiscoverFailure(t *testing.T) {
	p, _, _ := handLink(t)
	p.discover = func() ([]gattService, error) { return nil, errors.New("gatt busy") }

	_, err := p.DiscoverProfile(context.Background())
	assert.EqualError(t, err, "gatt busy")
}

func TestCharacteristic_WriteModes(t *testing.T) {
	p, fc, _ := handLink(t)
	_, err := p.DiscoverProfile(context.Background())
	require.NoError(t, err)
	c, err := p.Characteristic(handService, handChar)
	require.NoError(t, err)

	require.NoError(t, c.Write(context.Background(), []byte("up"), true))
	require.NoError(t, c.Write(context.Background(), []byte("down"), false))
	assert.Equal(t, []string{"up", "down"}, fc.writes)
	assert.Equal(t, []bool{false, true}, fc.noRsp)

	fc.err = errors.New("att error")
	assert.EqualError(t, c.Write(context.Background(), []byte("up"), true), "att error")
}

func TestCharacteristic_WriteWithResponseUnavailable(t *testing.T) {
	// GOAL: Verify a platform build without acknowledged writes never downgrades
	//
	// TEST SCENARIO: characteristic lacks Write → write with response fails, nothing sent; write without response still works

	p, fc, _ := newHandLink(t, false)
	_, err := p.DiscoverProfile(context.Background())
	require.NoError(t, err)
	c, err := p.Characteristic(handService, handChar)
	require.NoError(t, err)

	assert.False(t, c.Properties().Has(device.PropWrite), "PropWrite MUST NOT be advertised")
	assert.True(t, c.Properties().Has(device.PropWriteWithoutResponse))

	err = c.Write(context.Background(), []byte("up"), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrWriteFailure)
	assert.ErrorIs(t, err, device.ErrUnsupported)
	assert.Empty(t, fc.writes, "write with response MUST NOT fall back to an unacknowledged write")

	require.NoError(t, c.Write(context.Background(), []byte("toggle"), false))
	assert.Equal(t, []string{"toggle"}, fc.writes)
}

func TestCharacteristic_SubscribeUnsubscribe(t *testing.T) {
	p, fc, _ := handLink(t)
	_, err := p.DiscoverProfile(context.Background())
	require.NoError(t, err)
	c, err := p.Characteristic(handService, handChar)
	require.NoError(t, err)

	var got []string
	require.NoError(t, c.Subscribe(func(b []byte) { got = append(got, string(b)) }))
	fc.notify([]byte(`{"angle":1}`))
	assert.Equal(t, []string{`{"angle":1}`}, got)

	require.NoError(t, c.Unsubscribe())
	assert.Nil(t, fc.notify, "unsubscribe MUST disable notifications")
	assert.Error(t, c.Subscribe(nil))
}

func TestPeripheral_Disconnect(t *testing.T) {
	p, _, calls := handLink(t)
	_, err := p.DiscoverProfile(context.Background())
	require.NoError(t, err)
	c, err := p.Characteristic(handService, handChar)
	require.NoError(t, err)

	require.NoError(t, p.Disconnect())
	require.NoError(t, p.Disconnect())
	assert.Equal(t, 1, *calls, "disconnect MUST be idempotent")

	select {
	case <-p.Disconnected():
	default:
		t.Fatal("Disconnected channel MUST be closed")
	}

	assert.ErrorIs(t, c.Write(context.Background(), []byte("up"), true), device.ErrNotConnected)
	assert.NoError(t, c.Unsubscribe())
	_, err = p.DiscoverProfile(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
}

func TestRadio_State(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    device.RadioState
		wantErr bool
	}{
		{name: "enabled", want: device.StatePoweredOn},
		{name: "powered off", err: errors.New("adapter is not powered"), want: device.StatePoweredOff},
		{name: "other failure", err: errors.New("dbus: no reply"), want: device.StateUnknown, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFakeAdapter()
			a.enableErr = tt.err
			r := newRadio(a, logrus.New())

			got, err := r.State(context.Background())
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}

			_, _ = r.State(context.Background())
			assert.Equal(t, 1, a.enables, "adapter MUST be enabled once")
		})
	}
}

func TestRadio_ScanStopsOnCancel(t *testing.T) {
	a := newFakeAdapter()
	r := newRadio(a, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Scan(ctx, func(device.Advertisement) { t.Fatal("no advertisements expected") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRadio_ConnectFailure(t *testing.T) {
	a := newFakeAdapter()
	a.connectErr = errors.New("bluetooth is turned off")
	r := newRadio(a, logrus.New())

	_, err := r.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", nil)
	require.Error(t, err)
	assert.True(t, device.IsConnectionState(err, device.BluetoothOff))
}

func TestRadio_ConnectTimeout(t *testing.T) {
	a := newFakeAdapter()
	a.connectGo = make(chan struct{})
	a.connectErr = errors.New("aborted")
	defer close(a.connectGo)
	r := newRadio(a, logrus.New())

	_, err := r.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", &device.ConnectOptions{ConnectTimeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRadio_ConnectTracksDisconnect(t *testing.T) {
	a := newFakeAdapter()
	r := newRadio(a, logrus.New())

	p, err := r.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", nil)
	require.NoError(t, err)
	_, tracked := r.peripherals.Get(p.ID())
	require.True(t, tracked)

	p.(*Peripheral).markDisconnected()
	_, tracked = r.peripherals.Get(p.ID())
	assert.False(t, tracked, "dropped link MUST be forgotten")
}

func TestAdvertisement(t *testing.T) {
	adv := &advertisement{name: "nimble-ble", addr: "AA:BB", rssi: -40}
	assert.Equal(t, "nimble-ble", adv.LocalName())
	assert.Equal(t, "AA:BB", adv.Addr())
	assert.Equal(t, -40, adv.RSSI())
	assert.True(t, adv.Connectable())
}
