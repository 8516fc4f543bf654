// Package devicefactory selects the BLE backend and radio state source.
package devicefactory

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/handlink/internal/device"
	"github.com/srg/handlink/internal/device/bluez"
	goble "github.com/srg/handlink/internal/device/go-ble"
	"github.com/srg/handlink/internal/device/tinygo"
)

// Backend names a BLE stack implementation.
type Backend string

const (
	BackendGoBLE  Backend = "go-ble"
	BackendTinyGo Backend = "tinygo"
)

// Backends lists the supported backends, default first.
var Backends = []Backend{BackendGoBLE, BackendTinyGo}

// ParseBackend accepts a backend name case-insensitively. Empty selects go-ble.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendGoBLE:
		return BackendGoBLE, nil
	case BackendTinyGo:
		return BackendTinyGo, nil
	default:
		return "", fmt.Errorf("unknown backend %q (supported: %s, %s)", s, BackendGoBLE, BackendTinyGo)
	}
}

// RadioFactory creates the radio for a backend.
// This is a variable so that it can be overridden in tests.
var RadioFactory = func(backend Backend, logger *logrus.Logger) (device.Radio, error) {
	switch backend {
	case BackendGoBLE:
		return goble.NewRadio(logger), nil
	case BackendTinyGo:
		return tinygo.NewRadio(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// ProberFactory returns an out-of-band radio state source for the current
// platform, or nil when the backend's own state report is the only source.
// This is a variable so that it can be overridden in tests.
var ProberFactory = func(adapterPath string, logger *logrus.Logger) device.StateProber {
	if runtime.GOOS != "linux" {
		return nil
	}
	return bluez.NewProber(adapterPath, logger)
}

// NewRadio parses backend and creates its radio.
func NewRadio(backend string, logger *logrus.Logger) (device.Radio, error) {
	b, err := ParseBackend(backend)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.WithField("backend", string(b)).Debug("Creating BLE radio")
	}
	return RadioFactory(b, logger)
}
