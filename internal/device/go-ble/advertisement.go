package goble

import (
	"github.com/go-ble/ble"
)

// scanAdvertisement is the part of ble.Advertisement the locator needs.
type scanAdvertisement interface {
	LocalName() string
	RSSI() int
	Connectable() bool
	Addr() ble.Addr
}

// BLEAdvertisement wraps a go-ble advertisement to implement device.Advertisement
type BLEAdvertisement struct {
	adv scanAdvertisement
}

func newAdvertisement(adv scanAdvertisement) *BLEAdvertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *BLEAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *BLEAdvertisement) Connectable() bool { return a.adv.Connectable() }

func (a *BLEAdvertisement) Addr() string {
	if addr := a.adv.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}
