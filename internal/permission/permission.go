// Package permission decides whether the process may use the Bluetooth radio.
//
// Platforms without a runtime permission model (iOS, where access is declared
// at build time, and desktop operating systems) always pass. Android asks for
// fine location before API level 31 and for the scan + connect pair from 31 on.
package permission

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Gate answers whether BLE access is authorized. A denial is not retried.
type Gate interface {
	Request(ctx context.Context) bool
}

// Platform names a host OS family.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDarwin  Platform = "darwin"
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
)

// ParsePlatform maps a GOOS-style name onto a Platform. Unknown names are kept as-is.
func ParsePlatform(s string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(s)))
}

// Permission is a runtime permission identifier.
type Permission string

const (
	AccessFineLocation Permission = "android.permission.ACCESS_FINE_LOCATION"
	BluetoothScan      Permission = "android.permission.BLUETOOTH_SCAN"
	BluetoothConnect   Permission = "android.permission.BLUETOOTH_CONNECT"
)

// Result is the user's answer to a permission request.
type Result string

const (
	Granted       Result = "granted"
	Denied        Result = "denied"
	NeverAskAgain Result = "never_ask_again"
)

// Requester shows the OS permission dialog for perms and returns the answers.
type Requester interface {
	RequestMultiple(ctx context.Context, perms []Permission) (map[Permission]Result, error)
}

// SplitAPILevel is the first Android API level with dedicated Bluetooth permissions.
const SplitAPILevel = 31

// PlatformGate implements Gate with the per-platform rules.
type PlatformGate struct {
	Platform  Platform
	APILevel  int
	Requester Requester
	Logger    *logrus.Logger
}

// NewPlatformGate creates a gate for the given platform.
func NewPlatformGate(platform Platform, apiLevel int, requester Requester, logger *logrus.Logger) *PlatformGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &PlatformGate{
		Platform:  platform,
		APILevel:  apiLevel,
		Requester: requester,
		Logger:    logger,
	}
}

// Required returns the runtime permissions this platform needs, or nil when none are needed.
func (g *PlatformGate) Required() []Permission {
	if g.Platform != PlatformAndroid {
		return nil
	}
	if g.APILevel < SplitAPILevel {
		return []Permission{AccessFineLocation}
	}
	return []Permission{BluetoothScan, BluetoothConnect}
}

// Request implements Gate.
func (g *PlatformGate) Request(ctx context.Context) bool {
	log := g.Logger.WithFields(logrus.Fields{
		"platform":  g.Platform,
		"api_level": g.APILevel,
	})

	switch g.Platform {
	case PlatformIOS, PlatformDarwin, PlatformLinux, PlatformWindows:
		log.Debug("Platform has no runtime Bluetooth permissions")
		return true
	case PlatformAndroid:
	default:
		log.Warn("Unknown platform, refusing Bluetooth access")
		return false
	}

	if g.Requester == nil {
		log.Error("No permission requester configured")
		return false
	}

	perms := g.Required()
	results, err := g.Requester.RequestMultiple(ctx, perms)
	if err != nil {
		log.WithField("error", err).Error("Permission request failed")
		return false
	}

	for _, p := range perms {
		if results[p] != Granted {
			log.WithFields(logrus.Fields{
				"permission": p,
				"result":     results[p],
			}).Warn("Bluetooth permission not granted")
			return false
		}
	}

	log.Info("Bluetooth permissions granted")
	return true
}

// StaticRequester answers from a fixed table; missing entries are Denied.
type StaticRequester map[Permission]Result

// GrantAll returns a StaticRequester granting every Bluetooth-related permission.
func GrantAll() StaticRequester {
	return StaticRequester{
		AccessFineLocation: Granted,
		BluetoothScan:      Granted,
		BluetoothConnect:   Granted,
	}
}

// RequestMultiple implements Requester.
func (s StaticRequester) RequestMultiple(_ context.Context, perms []Permission) (map[Permission]Result, error) {
	out := make(map[Permission]Result, len(perms))
	for _, p := range perms {
		r, ok := s[p]
		if !ok {
			r = Denied
		}
		out[p] = r
	}
	return out, nil
}
