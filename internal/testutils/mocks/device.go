// Package mocks holds testify mocks for the device and permission seams.
package mocks

import (
	"context"

	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/permission"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a mock type for the device.Radio type
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) State(ctx context.Context) (device.RadioState, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.RadioState), args.Error(1)
}

func (m *MockRadio) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockRadio) Connect(ctx context.Context, addr string, opts *device.ConnectOptions) (device.Peripheral, error) {
	args := m.Called(ctx, addr, opts)
	var p device.Peripheral
	if v := args.Get(0); v != nil {
		p = v.(device.Peripheral)
	}
	return p, args.Error(1)
}

// MockPeripheral is a mock type for the device.Peripheral type
type MockPeripheral struct {
	mock.Mock
}

func (m *MockPeripheral) ID() string   { return m.Called().String(0) }
func (m *MockPeripheral) Name() string { return m.Called().String(0) }
func (m *MockPeripheral) MTU() int     { return m.Called().Int(0) }

func (m *MockPeripheral) DiscoverProfile(ctx context.Context) (*device.Profile, error) {
	args := m.Called(ctx)
	var p *device.Profile
	if v := args.Get(0); v != nil {
		p = v.(*device.Profile)
	}
	return p, args.Error(1)
}

func (m *MockPeripheral) Characteristic(serviceUUID, charUUID string) (device.Characteristic, error) {
	args := m.Called(serviceUUID, charUUID)
	var c device.Characteristic
	if v := args.Get(0); v != nil {
		c = v.(device.Characteristic)
	}
	return c, args.Error(1)
}

func (m *MockPeripheral) Disconnected() <-chan struct{} {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(<-chan struct{})
	}
	return nil
}

func (m *MockPeripheral) Disconnect() error {
	return m.Called().Error(0)
}

// MockCharacteristic is a mock type for the device.Characteristic type
type MockCharacteristic struct {
	mock.Mock
}

func (m *MockCharacteristic) UUID() string { return m.Called().String(0) }

func (m *MockCharacteristic) Properties() device.Property {
	return m.Called().Get(0).(device.Property)
}

func (m *MockCharacteristic) Write(ctx context.Context, data []byte, withResponse bool) error {
	return m.Called(ctx, data, withResponse).Error(0)
}

func (m *MockCharacteristic) Subscribe(handler func(data []byte)) error {
	return m.Called(handler).Error(0)
}

func (m *MockCharacteristic) Unsubscribe() error {
	return m.Called().Error(0)
}

// MockRequester is a mock type for the permission.Requester type
type MockRequester struct {
	mock.Mock
}

func (m *MockRequester) RequestMultiple(ctx context.Context, perms []permission.Permission) (map[permission.Permission]permission.Result, error) {
	args := m.Called(ctx, perms)
	var out map[permission.Permission]permission.Result
	if v := args.Get(0); v != nil {
		out = v.(map[permission.Permission]permission.Result)
	}
	return out, args.Error(1)
}

// MockGate is a mock type for the permission.Gate type
type MockGate struct {
	mock.Mock
}

func (m *MockGate) Request(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

var (
	_ device.Radio          = (*MockRadio)(nil)
	_ device.Peripheral     = (*MockPeripheral)(nil)
	_ device.Characteristic = (*MockCharacteristic)(nil)
	_ permission.Requester  = (*MockRequester)(nil)
	_ permission.Gate       = (*MockGate)(nil)
)
