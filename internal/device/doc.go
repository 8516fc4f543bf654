// Package device defines the BLE central seam used by handlink: the local
// Radio, connected Peripherals and their GATT Characteristics, plus the
// classified errors every backend reports through.
//
// Backends live in subpackages:
//   - go-ble: the default stack (CoreBluetooth on macOS, HCI on Linux)
//   - tinygo: tinygo.org/x/bluetooth
//   - bluez: a D-Bus StateProber for BlueZ adapter power state
package device
