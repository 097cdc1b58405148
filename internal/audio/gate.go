// SPDX-License-Identifier: MIT
package audio

import "math"

func (e *Engine) EnableGate() {
	e.gateEnabled.Store(true)
}

func (e *Engine) DisableGate() {
	e.gateEnabled.Store(false)
}

// GateEnabled reports whether the squelch is active.
func (e *Engine) GateEnabled() bool {
	return e.gateEnabled.Load()
}

// SetGateThreshold adjusts the squelch threshold on mean I/Q power.
// The value is in the range of 0.0-1.0 where 0=always open, 1=open only at
// full scale.
func (e *Engine) SetGateThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	e.gateThreshold.Store(math.Float64bits(threshold))
}

// GetGateThreshold returns the current squelch threshold.
func (e *Engine) GetGateThreshold() float64 {
	return math.Float64frombits(e.gateThreshold.Load())
}

// gateOpen reports whether a buffer carries enough power to demodulate.
// An empty buffer never opens an enabled gate.
func (e *Engine) gateOpen(samples []complex64) bool {
	if !e.gateEnabled.Load() {
		return true
	}
	if len(samples) == 0 {
		return false
	}
	return MeanPower(samples) >= e.GetGateThreshold()
}

// MeanPower returns the mean of |s|^2 over samples, or 0 for none.
func MeanPower(samples []complex64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		re, im := float64(real(s)), float64(imag(s))
		sum += re*re + im*im
	}
	return sum / float64(len(samples))
}
