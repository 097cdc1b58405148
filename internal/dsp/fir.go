// SPDX-License-Identifier: MIT
/*
Package dsp implements the signal processing stages of the radio pipeline:
FIR filtering with windowed-sinc filter design, and polar-discriminator FM
demodulation.

Thread Safety:
  - Every filter and demodulator carries history across calls
  - An instance must be driven by one goroutine at a time
  - Use one instance per concurrent stream
*/
package dsp

import (
	"errors"
	"fmt"
)

// ErrInvalidFilter is returned when filter parameters cannot produce a kernel.
var ErrInvalidFilter = errors.New("invalid filter parameters")

// FIR is a stateful convolution filter. History is kept in a circular buffer
// sized to the tap count so consecutive calls behave as one continuous stream.
type FIR struct {
	coeffs  []float64
	history []float64
	cursor  int // next slot to write
}

// NewFIR creates a filter from an explicit coefficient sequence. The
// coefficients are copied.
func NewFIR(coeffs []float64) (*FIR, error) {
	if len(coeffs) == 0 {
		return nil, fmt.Errorf("%w: no coefficients", ErrInvalidFilter)
	}
	c := make([]float64, len(coeffs))
	copy(c, coeffs)
	return &FIR{
		coeffs:  c,
		history: make([]float64, len(c)),
	}, nil
}

// Filter pushes one sample through the filter and returns the output.
func (f *FIR) Filter(sample float32) float32 {
	n := len(f.history)
	f.history[f.cursor] = float64(sample)

	// Walk history newest to oldest against coeffs[0..n).
	var acc float64
	idx := f.cursor
	for _, c := range f.coeffs {
		acc += c * f.history[idx]
		idx--
		if idx < 0 {
			idx = n - 1
		}
	}

	f.cursor++
	if f.cursor == n {
		f.cursor = 0
	}
	return float32(acc)
}

// FilterBlock filters samples in place.
func (f *FIR) FilterBlock(samples []float32) {
	for i, s := range samples {
		samples[i] = f.Filter(s)
	}
}

// Reset zeroes the history and rewinds the write cursor. Coefficients are
// unchanged.
func (f *FIR) Reset() {
	clear(f.history)
	f.cursor = 0
}

// Len returns the number of taps.
func (f *FIR) Len() int {
	return len(f.coeffs)
}

// Taps returns a copy of the coefficients.
func (f *FIR) Taps() []float64 {
	c := make([]float64, len(f.coeffs))
	copy(c, f.coeffs)
	return c
}

// ComplexFIR filters I and Q through the same kernel with separate history
// per channel.
type ComplexFIR struct {
	i *FIR
	q *FIR
}

// NewComplexFIR creates a complex filter from real coefficients.
func NewComplexFIR(coeffs []float64) (*ComplexFIR, error) {
	i, err := NewFIR(coeffs)
	if err != nil {
		return nil, err
	}
	q, _ := NewFIR(coeffs)
	return &ComplexFIR{i: i, q: q}, nil
}

// Filter pushes one complex sample through both channels.
func (f *ComplexFIR) Filter(s complex64) complex64 {
	return complex(f.i.Filter(real(s)), f.q.Filter(imag(s)))
}

// FilterBlock filters samples in place.
func (f *ComplexFIR) FilterBlock(samples []complex64) {
	for n, s := range samples {
		samples[n] = f.Filter(s)
	}
}

// Reset clears the history of both channels.
func (f *ComplexFIR) Reset() {
	f.i.Reset()
	f.q.Reset()
}
