// SPDX-License-Identifier: MIT
/*
Package rtlsdr drives RTL2832U-based dongles directly over USB control and
bulk transfers.

Disposal order is fixed: the read loop is cancelled and awaited, then the
claimed interface is released, then the device handle is closed. Disconnect
runs this sequence on every path, including after a stream failure.

Listener constraints:
  - Buffer listeners run on the read goroutine and must return quickly
  - Status listeners may run on the read goroutine and must not call Stop,
    Reset or Disconnect
*/
package rtlsdr

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	applog "radio/internal/log"
	"radio/internal/tuner"
)

// Declared limits.
const (
	MinFrequency  = 24_000_000
	MaxFrequency  = 1_766_000_000
	MinSampleRate = 225_001
	MaxSampleRate = 3_200_000
	MinPPM        = -1000.0
	MaxPPM        = 1000.0

	DefaultFrequency  = 100_000_000
	DefaultSampleRate = 2_048_000
)

// StreamObserver receives read loop events. Implementations must not block.
type StreamObserver interface {
	BufferRead(id string, bytes int)
	ReadTimeout(id string)
	ReadError(id string)
}

// Option configures an RTLSDR.
type Option func(*RTLSDR)

// WithObserver reports read loop activity to obs.
func WithObserver(obs StreamObserver) Option {
	return func(r *RTLSDR) { r.observer = obs }
}

// WithReadTimeout overrides the per-read bulk timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(r *RTLSDR) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

// WithBufferSize overrides the bulk read size. It is rounded down to an even
// byte count.
func WithBufferSize(n int) Option {
	return func(r *RTLSDR) {
		if n >= 2 {
			r.bufSize = n &^ 1
		}
	}
}

// RTLSDR is a tuner.Tuner bound to the Nth supported dongle on a bus.
type RTLSDR struct {
	*tuner.Base

	bus   Bus
	index int

	readTimeout time.Duration
	bufSize     int
	observer    StreamObserver

	// mu serializes lifecycle operations and hardware setters.
	mu     sync.Mutex
	dev    *device
	stream *stream
}

var _ tuner.Tuner = (*RTLSDR)(nil)

// New binds a tuner to the index-th supported device on bus. Nothing is
// opened until Connect.
func New(bus Bus, index int, opts ...Option) *RTLSDR {
	return newTuner(bus, index, fmt.Sprintf("RTL-SDR #%d", index), opts...)
}

func newTuner(bus Bus, index int, name string, opts ...Option) *RTLSDR {
	bounds := tuner.Bounds{
		MinFrequency:  MinFrequency,
		MaxFrequency:  MaxFrequency,
		MinSampleRate: MinSampleRate,
		MaxSampleRate: MaxSampleRate,
		MinPPM:        MinPPM,
		MaxPPM:        MaxPPM,
		Gains:         Gains(),
	}
	defaults := tuner.Settings{
		Frequency:  DefaultFrequency,
		SampleRate: DefaultSampleRate,
	}
	r := &RTLSDR{
		Base:        tuner.NewBase(fmt.Sprintf("rtlsdr-%d", index), name, bounds, defaults),
		bus:         bus,
		index:       index,
		readTimeout: transferTimeout,
		bufSize:     bulkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDiscoverer returns a tuner.Discoverer yielding one RTLSDR per supported
// dongle on bus.
func NewDiscoverer(bus Bus, opts ...Option) tuner.Discoverer {
	return tuner.DiscovererFunc(func(ctx context.Context) ([]tuner.Tuner, error) {
		infos, err := Discover(ctx, bus)
		if err != nil {
			return nil, err
		}
		out := make([]tuner.Tuner, 0, len(infos))
		for _, info := range infos {
			out = append(out, newTuner(bus, info.Index, info.Name, opts...))
		}
		return out, nil
	})
}

// Connect opens the device and runs baseband bring-up. Any failure leaves the
// tuner in the Error state; a missing device returns tuner.ErrNotFound.
func (r *RTLSDR) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		if r.State() == tuner.Error {
			return fmt.Errorf("%w: %s failed, disconnect before reconnecting", tuner.ErrCommunication, r.ID())
		}
		return nil
	}

	infos, err := Discover(ctx, r.bus)
	if err != nil {
		r.SetState(tuner.Error)
		return fmt.Errorf("%w: %v", tuner.ErrCommunication, err)
	}
	if r.index < 0 || r.index >= len(infos) {
		r.SetState(tuner.Error)
		return fmt.Errorf("%w: index %d, %d supported devices attached", tuner.ErrNotFound, r.index, len(infos))
	}

	info := infos[r.index]
	h, err := r.bus.Open(info.USB)
	if err != nil {
		r.SetState(tuner.Error)
		if errors.Is(err, tuner.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: open %s: %v", tuner.ErrCommunication, info.Name, err)
	}

	d := &device{h: h}
	if err := d.initBaseband(); err != nil {
		release(h)
		r.SetState(tuner.Error)
		return fmt.Errorf("baseband init: %w", err)
	}

	r.dev = d
	applog.Infof("RTLSDR[%s]: connected to %s", r.ID(), info)
	r.SetState(tuner.Connected)
	return nil
}

// Disconnect stops streaming, powers down the ADC and releases the device.
// It is safe on a disconnected tuner.
func (r *RTLSDR) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
	if r.dev == nil {
		r.SetState(tuner.Disconnected)
		return nil
	}

	var result *multierror.Error
	if err := r.dev.deinitBaseband(); err != nil {
		applog.Warnf("RTLSDR[%s]: baseband shutdown: %v", r.ID(), err)
	}
	if err := release(r.dev.h); err != nil {
		result = multierror.Append(result, err)
	}
	r.dev = nil

	r.SetState(tuner.Disconnected)
	return result.ErrorOrNil()
}

// release gives up the interface before closing the handle.
func release(h Handle) error {
	var result *multierror.Error
	if err := h.Release(); err != nil {
		result = multierror.Append(result, fmt.Errorf("release interface: %w", err))
	}
	if err := h.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close device: %w", err))
	}
	return result.ErrorOrNil()
}

// Start programs the current settings, flushes the endpoint and launches the
// read loop.
func (r *RTLSDR) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.State() {
	case tuner.Running:
		return tuner.ErrAlreadyRunning
	case tuner.Connected:
	default:
		return fmt.Errorf("%w: state %s", tuner.ErrNotConnected, r.State())
	}

	if err := r.applyLocked(); err != nil {
		r.SetState(tuner.Error)
		return err
	}
	if err := r.dev.resetBuffer(); err != nil {
		r.SetState(tuner.Error)
		return err
	}

	r.SetState(tuner.Running)
	r.stream = r.startStream(r.dev.h)
	return nil
}

// applyLocked writes every setting to the hardware.
func (r *RTLSDR) applyLocked() error {
	s := r.Settings()
	actual, err := r.dev.setSampleRate(s.SampleRate)
	if err != nil {
		return err
	}
	if math.Abs(actual-float64(s.SampleRate)) >= 1 {
		applog.Debugf("RTLSDR[%s]: sample rate %d programmed as %.3f", r.ID(), s.SampleRate, actual)
	}
	if err := r.dev.setFrequency(s.Frequency, s.PPM); err != nil {
		return err
	}
	if err := r.dev.setAGC(s.AGC); err != nil {
		return err
	}
	if !s.AGC {
		if err := r.dev.setGain(snapGain(int(math.Round(s.Gain * 10)))); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the read loop, waits for it to exit and flushes the endpoint.
// Safe to call when not running.
func (r *RTLSDR) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	return nil
}

func (r *RTLSDR) stopLocked() {
	if r.stream == nil {
		return
	}
	r.stream.stop()
	r.stream = nil

	if r.dev != nil {
		if err := r.dev.resetBuffer(); err != nil {
			applog.Warnf("RTLSDR[%s]: buffer reset after stop: %v", r.ID(), err)
		}
	}
	r.CompareAndSetState(tuner.Running, tuner.Connected)
}

// Reset stops streaming and restores a clean endpoint state. A failed tuner
// is not reset; it needs Disconnect and a new Connect.
func (r *RTLSDR) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev == nil {
		return tuner.ErrNotConnected
	}
	if r.State() == tuner.Error {
		return fmt.Errorf("%w: %s failed, disconnect before resetting", tuner.ErrCommunication, r.ID())
	}
	r.stopLocked()
	if err := r.dev.resetBuffer(); err != nil {
		r.SetState(tuner.Error)
		return err
	}
	r.SetState(tuner.Connected)
	return nil
}

// SetFrequency range checks hz, retunes a connected device and stores it.
func (r *RTLSDR) SetFrequency(hz uint32) error {
	if err := r.CheckFrequency(hz); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		if err := r.dev.setFrequency(hz, r.FrequencyCorrection()); err != nil {
			return err
		}
	}
	return r.Base.SetFrequency(hz)
}

// SetSampleRate range checks rate, reprograms a connected device and stores it.
func (r *RTLSDR) SetSampleRate(rate uint32) error {
	if err := r.CheckSampleRate(rate); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		if _, err := r.dev.setSampleRate(rate); err != nil {
			return err
		}
	}
	return r.Base.SetSampleRate(rate)
}

// SetGain snaps db to the nearest supported step. The stored gain is the
// snapped value.
func (r *RTLSDR) SetGain(db float64) error {
	tenths := snapGain(int(math.Round(db * 10)))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil && !r.AGC() {
		if err := r.dev.setGain(tenths); err != nil {
			return err
		}
	}
	return r.Base.SetGain(float64(tenths) / 10)
}

// SetAGC switches the demodulator AGC.
func (r *RTLSDR) SetAGC(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dev != nil {
		if err := r.dev.setAGC(enabled); err != nil {
			return err
		}
	}
	return r.Base.SetAGC(enabled)
}

// SetFrequencyCorrection stores ppm for later tuning operations.
func (r *RTLSDR) SetFrequencyCorrection(ppm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Base.SetFrequencyCorrection(ppm)
}
