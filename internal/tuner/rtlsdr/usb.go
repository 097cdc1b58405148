// SPDX-License-Identifier: MIT
package rtlsdr

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"

	"radio/internal/tuner"
)

// USBDevice identifies a device on the bus without opening it.
type USBDevice struct {
	Bus     int
	Address int
	Vendor  uint16
	Product uint16
}

// Bus enumerates and opens USB devices.
type Bus interface {
	Devices(ctx context.Context) ([]USBDevice, error)
	Open(d USBDevice) (Handle, error)
}

// Handle is an opened dongle with its streaming interface claimed.
type Handle interface {
	Control(rType, request uint8, value, index uint16, data []byte) (int, error)
	// ReadBulk reads from the bulk IN endpoint. A read that hits the ctx
	// deadline returns an error matching tuner.ErrTimeout.
	ReadBulk(ctx context.Context, buf []byte) (int, error)
	// Release gives up the claimed interface.
	Release() error
	// Close closes the device. Call after Release.
	Close() error
}

// USBBus is the libusb-backed Bus.
type USBBus struct {
	ctx *gousb.Context
}

// NewUSBBus opens a libusb context. Close it when done.
func NewUSBBus() *USBBus {
	return &USBBus{ctx: gousb.NewContext()}
}

// Devices lists every device on the bus without opening any of them.
func (b *USBBus) Devices(ctx context.Context) ([]USBDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []USBDevice
	_, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		out = append(out, USBDevice{
			Bus:     desc.Bus,
			Address: desc.Address,
			Vendor:  uint16(desc.Vendor),
			Product: uint16(desc.Product),
		})
		return false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Open opens d, detaches any kernel DVB driver and claims interface 0.
func (b *USBBus) Open(d USBDevice) (Handle, error) {
	devs, err := b.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == d.Bus && desc.Address == d.Address
	})
	if len(devs) == 0 {
		if err != nil {
			return nil, fmt.Errorf("open %03d:%03d: %w", d.Bus, d.Address, err)
		}
		return nil, fmt.Errorf("%w: usb %03d:%03d", tuner.ErrNotFound, d.Bus, d.Address)
	}
	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	dev.ControlTimeout = transferTimeout
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		return nil, fmt.Errorf("auto detach: %w", err)
	}
	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("select config: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}
	ep, err := intf.InEndpoint(bulkEndpoint & 0x0f)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		return nil, fmt.Errorf("bulk endpoint: %w", err)
	}
	return &usbHandle{dev: dev, cfg: cfg, intf: intf, ep: ep}, nil
}

// Close releases the libusb context.
func (b *USBBus) Close() error {
	return b.ctx.Close()
}

type usbHandle struct {
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	ep   *gousb.InEndpoint
}

func (h *usbHandle) Control(rType, request uint8, value, index uint16, data []byte) (int, error) {
	return h.dev.Control(rType, request, value, index, data)
}

func (h *usbHandle) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	n, err := h.ep.ReadContext(ctx, buf)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, gousb.ErrorTimeout) || errors.Is(err, gousb.TransferTimedOut) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return n, fmt.Errorf("%w: %v", tuner.ErrTimeout, err)
	}
	return n, err
}

func (h *usbHandle) Release() error {
	if h.intf != nil {
		h.intf.Close()
		h.intf = nil
	}
	if h.cfg != nil {
		err := h.cfg.Close()
		h.cfg = nil
		return err
	}
	return nil
}

func (h *usbHandle) Close() error {
	if h.dev == nil {
		return nil
	}
	err := h.dev.Close()
	h.dev = nil
	return err
}
