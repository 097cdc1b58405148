// SPDX-License-Identifier: MIT
package tuner

import (
	"sync"

	"radio/internal/iq"
	applog "radio/internal/log"
)

// Base carries the state and settings bookkeeping shared by tuner
// implementations. Hardware adapters embed it and override the setters that
// need to program the device.
type Base struct {
	id     string
	name   string
	bounds Bounds

	mu       sync.RWMutex // guards state, settings and listeners
	state    State
	settings Settings
	onBuffer BufferListener
	onStatus StatusListener

	transition sync.Mutex // orders state changes and their notifications
}

// NewBase creates a Disconnected base with the given defaults. Defaults are
// not range checked.
func NewBase(id, name string, bounds Bounds, defaults Settings) *Base {
	b := &Base{
		id:       id,
		name:     name,
		bounds:   bounds,
		settings: defaults,
	}
	b.bounds.Gains = append([]float64(nil), bounds.Gains...)
	return b
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Name() string { return b.name }

// Bounds returns a copy of the declared limits.
func (b *Base) Bounds() Bounds {
	out := b.bounds
	out.Gains = append([]float64(nil), b.bounds.Gains...)
	return out
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) Settings() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// SetState moves to the given state and notifies the status listener. The
// listener must not call SetState.
func (b *Base) SetState(to State) {
	b.transition.Lock()
	defer b.transition.Unlock()

	b.mu.Lock()
	from := b.state
	b.state = to
	listener := b.onStatus
	b.mu.Unlock()

	if from == to {
		return
	}
	applog.Infof("Tuner[%s]: %s -> %s", b.id, from, to)
	if listener != nil {
		listener(b.id, from, to)
	}
}

// CompareAndSetState transitions only when the current state is from.
func (b *Base) CompareAndSetState(from, to State) bool {
	b.transition.Lock()
	defer b.transition.Unlock()

	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()
		return false
	}
	b.state = to
	listener := b.onStatus
	b.mu.Unlock()

	if from != to {
		applog.Infof("Tuner[%s]: %s -> %s", b.id, from, to)
		if listener != nil {
			listener(b.id, from, to)
		}
	}
	return true
}

// CheckFrequency validates hz against the declared bounds.
func (b *Base) CheckFrequency(hz uint32) error {
	if hz < b.bounds.MinFrequency || hz > b.bounds.MaxFrequency {
		return &RangeError{
			Field: "frequency",
			Value: float64(hz),
			Min:   float64(b.bounds.MinFrequency),
			Max:   float64(b.bounds.MaxFrequency),
		}
	}
	return nil
}

// CheckSampleRate validates rate against the declared bounds.
func (b *Base) CheckSampleRate(rate uint32) error {
	if rate < b.bounds.MinSampleRate || rate > b.bounds.MaxSampleRate {
		return &RangeError{
			Field: "sample rate",
			Value: float64(rate),
			Min:   float64(b.bounds.MinSampleRate),
			Max:   float64(b.bounds.MaxSampleRate),
		}
	}
	return nil
}

// CheckFrequencyCorrection validates ppm against the declared bounds.
func (b *Base) CheckFrequencyCorrection(ppm float64) error {
	if !(ppm >= b.bounds.MinPPM && ppm <= b.bounds.MaxPPM) {
		return &RangeError{
			Field: "frequency correction",
			Value: ppm,
			Min:   b.bounds.MinPPM,
			Max:   b.bounds.MaxPPM,
		}
	}
	return nil
}

func (b *Base) Frequency() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.Frequency
}

// SetFrequency stores hz after a range check.
func (b *Base) SetFrequency(hz uint32) error {
	if err := b.CheckFrequency(hz); err != nil {
		return err
	}
	b.mu.Lock()
	b.settings.Frequency = hz
	b.mu.Unlock()
	return nil
}

func (b *Base) SampleRate() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.SampleRate
}

// SetSampleRate stores rate after a range check.
func (b *Base) SetSampleRate(rate uint32) error {
	if err := b.CheckSampleRate(rate); err != nil {
		return err
	}
	b.mu.Lock()
	b.settings.SampleRate = rate
	b.mu.Unlock()
	return nil
}

func (b *Base) Gain() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.Gain
}

// SetGain stores db unchanged. Adapters quantize before calling it.
func (b *Base) SetGain(db float64) error {
	b.mu.Lock()
	b.settings.Gain = db
	b.mu.Unlock()
	return nil
}

func (b *Base) FrequencyCorrection() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.PPM
}

// SetFrequencyCorrection stores the ppm factor applied to later tuning after
// a range check.
func (b *Base) SetFrequencyCorrection(ppm float64) error {
	if err := b.CheckFrequencyCorrection(ppm); err != nil {
		return err
	}
	b.mu.Lock()
	b.settings.PPM = ppm
	b.mu.Unlock()
	return nil
}

func (b *Base) AGC() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings.AGC
}

func (b *Base) SetAGC(enabled bool) error {
	b.mu.Lock()
	b.settings.AGC = enabled
	b.mu.Unlock()
	return nil
}

func (b *Base) SetBufferListener(l BufferListener) {
	b.mu.Lock()
	b.onBuffer = l
	b.mu.Unlock()
}

func (b *Base) SetStatusListener(l StatusListener) {
	b.mu.Lock()
	b.onStatus = l
	b.mu.Unlock()
}

// Deliver hands buf to the buffer listener, if any.
func (b *Base) Deliver(buf *iq.Buffer) {
	b.mu.RLock()
	l := b.onBuffer
	b.mu.RUnlock()
	if l != nil {
		l(buf)
	}
}
