package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/handlink/internal/device"
)

// CharacteristicConfig represents a BLE characteristic configuration for faking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "write,notify"
}

// ServiceConfig represents a BLE service configuration for faking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for faking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// RadioBuilder builds a FakeRadio with a scan stream and a peripheral profile.
type RadioBuilder struct {
	state       device.RadioState
	stateErr    error
	ads         []device.Advertisement
	holdScan    bool
	scanErr     error
	connectErr  error
	discoverErr error
	writeErr    error
	profile     DeviceProfileConfig
}

// NewRadioBuilder creates a builder for a powered-on radio whose scan stays
// open after the configured advertisements until cancelled.
func NewRadioBuilder() *RadioBuilder {
	return &RadioBuilder{
		state:    device.StatePoweredOn,
		holdScan: true,
	}
}

// WithState sets the reported radio state.
func (b *RadioBuilder) WithState(state device.RadioState) *RadioBuilder {
	b.state = state
	return b
}

// WithStateError makes State fail.
func (b *RadioBuilder) WithStateError(err error) *RadioBuilder {
	b.stateErr = err
	return b
}

// WithAdvertisements appends advertisements replayed in order by every scan.
func (b *RadioBuilder) WithAdvertisements(ads ...device.Advertisement) *RadioBuilder {
	b.ads = append(b.ads, ads...)
	return b
}

// WithScanEndingAfterAdvertisements makes Scan return nil once the stream is replayed.
func (b *RadioBuilder) WithScanEndingAfterAdvertisements() *RadioBuilder {
	b.holdScan = false
	return b
}

// WithScanError makes Scan fail after replaying the advertisements.
func (b *RadioBuilder) WithScanError(err error) *RadioBuilder {
	b.scanErr = err
	return b
}

// WithConnectError makes Connect fail.
func (b *RadioBuilder) WithConnectError(err error) *RadioBuilder {
	b.connectErr = err
	return b
}

// WithDiscoverError makes DiscoverProfile fail on connected peripherals.
func (b *RadioBuilder) WithDiscoverError(err error) *RadioBuilder {
	b.discoverErr = err
	return b
}

// WithWriteError makes every characteristic write fail.
func (b *RadioBuilder) WithWriteError(err error) *RadioBuilder {
	b.writeErr = err
	return b
}

// WithService adds a service to the peripheral profile
func (b *RadioBuilder) WithService(uuid string) *RadioBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *RadioBuilder) WithCharacteristic(uuid, properties string) *RadioBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// FromJSON fills the peripheral profile from JSON
func (b *RadioBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *RadioBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("RadioBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// ParseProperties converts "write,notify" style strings to a property mask.
// An empty string yields write|notify.
func ParseProperties(props string) device.Property {
	if props == "" {
		return device.PropWrite | device.PropNotify
	}
	var p device.Property
	for _, token := range strings.Split(props, ",") {
		switch strings.TrimSpace(token) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		default:
			panic(fmt.Sprintf("ParseProperties: unknown property %q", token))
		}
	}
	return p
}

// Build creates the FakeRadio.
func (b *RadioBuilder) Build() *FakeRadio {
	profile := &device.Profile{}
	for _, svc := range b.profile.Services {
		info := device.ServiceInfo{UUID: device.NormalizeUUID(svc.UUID)}
		for _, c := range svc.Characteristics {
			info.Characteristics = append(info.Characteristics, device.CharacteristicInfo{
				UUID:       device.NormalizeUUID(c.UUID),
				Properties: ParseProperties(c.Properties),
			})
		}
		profile.Services = append(profile.Services, info)
	}

	ads := make([]device.Advertisement, len(b.ads))
	copy(ads, b.ads)

	return &FakeRadio{
		state:       b.state,
		stateErr:    b.stateErr,
		ads:         ads,
		holdScan:    b.holdScan,
		scanErr:     b.scanErr,
		connectErr:  b.connectErr,
		discoverErr: b.discoverErr,
		writeErr:    b.writeErr,
		profile:     profile,
	}
}

// HandProfileJSON is a profile with one write/notify characteristic in one service.
const HandProfileJSON = `
{
	"services": [
		{
			"uuid": "%s",
			"characteristics": [
				{ "uuid": "%s", "properties": "read,write,notify" }
			]
		}
	]
}`
