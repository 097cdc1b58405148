// SPDX-License-Identifier: MIT
package rtlsdr

import (
	"context"
	"fmt"
)

// Device is an entry in the supported-hardware table.
type Device struct {
	Vendor  uint16
	Product uint16
	Name    string
}

// KnownDevices lists the RTL2832U-based dongles recognised during discovery.
var KnownDevices = []Device{
	{0x0bda, 0x2832, "Generic RTL2832U"},
	{0x0bda, 0x2838, "Generic RTL2832U OEM"},
	{0x0413, 0x6680, "DigitalNow Quad DVB-T PCI-E card"},
	{0x0413, 0x6f0f, "Leadtek WinFast DTV Dongle mini D"},
	{0x0458, 0x707f, "Genius TVGo DVB-T03 USB dongle (Ver. B)"},
	{0x0ccd, 0x00a9, "Terratec Cinergy T Stick Black (rev 1)"},
	{0x0ccd, 0x00b3, "Terratec NOXON DAB/DAB+ USB dongle (rev 1)"},
	{0x1d19, 0x1101, "Dexatek DK DVB-T Dongle (Logilink VG0002A)"},
	{0x1b80, 0xd3a4, "Twintech UT-40"},
	{0x1f4d, 0xb803, "GTek T803"},
	{0x185b, 0x0620, "Compro Videomate U620F"},
}

func lookup(vendor, product uint16) (Device, bool) {
	for _, d := range KnownDevices {
		if d.Vendor == vendor && d.Product == product {
			return d, true
		}
	}
	return Device{}, false
}

// DeviceInfo describes one supported dongle found on the bus.
type DeviceInfo struct {
	Index int // position among supported devices, in enumeration order
	Name  string
	USB   USBDevice
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%d: %04x:%04x %s (bus %d, address %d)",
		d.Index, d.USB.Vendor, d.USB.Product, d.Name, d.USB.Bus, d.USB.Address)
}

// Discover lists supported dongles on bus. Unsupported devices are skipped.
func Discover(ctx context.Context, bus Bus) ([]DeviceInfo, error) {
	devs, err := bus.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate usb devices: %w", err)
	}

	var out []DeviceInfo
	for _, d := range devs {
		known, ok := lookup(d.Vendor, d.Product)
		if !ok {
			continue
		}
		out = append(out, DeviceInfo{Index: len(out), Name: known.Name, USB: d})
	}
	return out, nil
}
