package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/handlink/internal/device"
)

// toProperty maps go-ble property flags onto device.Property.
func toProperty(p ble.Property) device.Property {
	var out device.Property
	if p&ble.CharBroadcast != 0 {
		out |= device.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		out |= device.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= device.PropWriteWithoutResponse
	}
	if p&ble.CharWrite != 0 {
		out |= device.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= device.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= device.PropIndicate
	}
	return out
}
