package devicefactory

import (
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	goble "github.com/srg/handlink/internal/device/go-ble"
	"github.com/srg/handlink/internal/device/tinygo"
	"github.com/srg/handlink/internal/testutils/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{in: "", want: BackendGoBLE},
		{in: "go-ble", want: BackendGoBLE},
		{in: " TinyGo ", want: BackendTinyGo},
		{in: "bluez", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultRadioFactory(t *testing.T) {
	r, err := RadioFactory(BackendGoBLE, logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &goble.Radio{}, r)

	r, err = RadioFactory(BackendTinyGo, logrus.New())
	require.NoError(t, err)
	assert.IsType(t, &tinygo.Radio{}, r)

	_, err = RadioFactory("bogus", logrus.New())
	assert.Error(t, err)
}

func TestNewRadio_UsesOverriddenFactory(t *testing.T) {
	orig := RadioFactory
	defer func() { RadioFactory = orig }()

	want := &mocks.MockRadio{}
	var got Backend
	RadioFactory = func(b Backend, _ *logrus.Logger) (device.Radio, error) {
		got = b
		return want, nil
	}

	r, err := NewRadio("tinygo", nil)
	require.NoError(t, err)
	assert.Same(t, want, r)
	assert.Equal(t, BackendTinyGo, got)

	_, err = NewRadio("nope", nil)
	assert.Error(t, err, "unknown backend MUST NOT reach the factory")
}

func TestProberFactory(t *testing.T) {
	p := ProberFactory("", logrus.New())
	if runtime.GOOS == "linux" {
		assert.NotNil(t, p, "linux MUST probe BlueZ")
	} else {
		assert.Nil(t, p)
	}
}
