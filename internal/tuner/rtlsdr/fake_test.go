// SPDX-License-Identifier: MIT
package rtlsdr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"radio/internal/tuner"
)

type controlCall struct {
	rType uint8
	value uint16
	index uint16
	data  []byte
}

// fakeHandle records control transfers and serves bulk reads from read.
type fakeHandle struct {
	mu         sync.Mutex
	calls      []controlCall
	events     []string
	controlErr error

	read func(ctx context.Context, buf []byte) (int, error)
}

func (h *fakeHandle) Control(rType, _ uint8, value, index uint16, data []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.controlErr != nil {
		return 0, h.controlErr
	}
	h.calls = append(h.calls, controlCall{rType, value, index, append([]byte(nil), data...)})
	return len(data), nil
}

func (h *fakeHandle) ReadBulk(ctx context.Context, buf []byte) (int, error) {
	if h.read == nil {
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, tuner.ErrTimeout
		}
		return 0, ctx.Err()
	}
	return h.read(ctx, buf)
}

func (h *fakeHandle) Release() error {
	h.mu.Lock()
	h.events = append(h.events, "release")
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.events = append(h.events, "close")
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) writes() []controlCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []controlCall
	for _, c := range h.calls {
		if c.rType == ctrlOut {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHandle) resetCalls() {
	h.mu.Lock()
	h.calls = nil
	h.mu.Unlock()
}

func (h *fakeHandle) lifecycle() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// fakeBus serves a fixed device list and one handle.
type fakeBus struct {
	devices []USBDevice
	handle  *fakeHandle
	openErr error
	opens   atomic.Int32
}

func (b *fakeBus) Devices(ctx context.Context) ([]USBDevice, error) {
	return b.devices, ctx.Err()
}

func (b *fakeBus) Open(USBDevice) (Handle, error) {
	b.opens.Add(1)
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.handle, nil
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		devices: []USBDevice{
			{Bus: 1, Address: 2, Vendor: 0x046d, Product: 0xc52b}, // keyboard receiver
			{Bus: 1, Address: 5, Vendor: 0x0bda, Product: 0x2838},
		},
		handle: &fakeHandle{},
	}
}

type countingObserver struct {
	buffers  atomic.Int64
	bytes    atomic.Int64
	timeouts atomic.Int64
	errors   atomic.Int64
}

func (o *countingObserver) BufferRead(_ string, n int) {
	o.buffers.Add(1)
	o.bytes.Add(int64(n))
}
func (o *countingObserver) ReadTimeout(string) { o.timeouts.Add(1) }
func (o *countingObserver) ReadError(string)   { o.errors.Add(1) }
