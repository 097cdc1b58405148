// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// minTaps is the smallest kernel the Hamming window is defined for.
const minTaps = 3

// oddTaps rounds an even tap count up so the kernel has a center tap.
func oddTaps(taps int) int {
	if taps%2 == 0 {
		return taps + 1
	}
	return taps
}

func validateCutoff(sampleRate, cutoff float64, taps int) error {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return fmt.Errorf("%w: sample rate must be positive, got %g", ErrInvalidFilter, sampleRate)
	}
	if cutoff <= 0 || cutoff >= sampleRate/2 {
		return fmt.Errorf("%w: cutoff %g Hz outside (0, %g)", ErrInvalidFilter, cutoff, sampleRate/2)
	}
	if taps < minTaps {
		return fmt.Errorf("%w: need at least %d taps, got %d", ErrInvalidFilter, minTaps, taps)
	}
	return nil
}

// LowPassTaps designs a Hamming-windowed sinc low-pass kernel with unity DC
// gain. An even tap count is raised to the next odd number.
//
// Parameters:
//
//   - sampleRate ... sample rate in Hz
//   - cutoff ... cutoff frequency in Hz, below sampleRate/2
//   - taps ... requested kernel length, at least 3
func LowPassTaps(sampleRate, cutoff float64, taps int) ([]float64, error) {
	taps = oddTaps(taps)
	if err := validateCutoff(sampleRate, cutoff, taps); err != nil {
		return nil, err
	}

	fc := cutoff / sampleRate
	center := (taps - 1) / 2
	coeffs := make([]float64, taps)
	for i := range coeffs {
		k := i - center
		if k == 0 {
			coeffs[i] = 2 * fc
			continue
		}
		coeffs[i] = math.Sin(2*math.Pi*fc*float64(k)) / (math.Pi * float64(k))
	}

	// 0.54 - 0.46*cos(2*pi*i/(taps-1))
	window.Hamming(coeffs)

	floats.Scale(1/floats.Sum(coeffs), coeffs)
	return coeffs, nil
}

// HighPassTaps designs a high-pass kernel by spectral inversion of the
// low-pass kernel with the same parameters.
func HighPassTaps(sampleRate, cutoff float64, taps int) ([]float64, error) {
	coeffs, err := LowPassTaps(sampleRate, cutoff, taps)
	if err != nil {
		return nil, err
	}
	floats.Scale(-1, coeffs)
	coeffs[(len(coeffs)-1)/2] += 1
	return coeffs, nil
}

// BandPassTaps designs a band-pass kernel by convolving a low-pass kernel at
// the upper cutoff with a high-pass kernel at the lower cutoff. The result is
// truncated to the kernel length.
func BandPassTaps(sampleRate, low, high float64, taps int) ([]float64, error) {
	if low >= high {
		return nil, fmt.Errorf("%w: low cutoff %g must be below high cutoff %g", ErrInvalidFilter, low, high)
	}
	lp, err := LowPassTaps(sampleRate, high, taps)
	if err != nil {
		return nil, err
	}
	hp, err := HighPassTaps(sampleRate, low, taps)
	if err != nil {
		return nil, err
	}

	n := len(lp)
	coeffs := make([]float64, n)
	for i := range n {
		var acc float64
		for j := range n {
			k := i - j
			if k >= 0 && k < n {
				acc += lp[j] * hp[k]
			}
		}
		coeffs[i] = acc
	}
	return coeffs, nil
}

// NewLowPass builds a FIR engine around LowPassTaps.
func NewLowPass(sampleRate, cutoff float64, taps int) (*FIR, error) {
	coeffs, err := LowPassTaps(sampleRate, cutoff, taps)
	if err != nil {
		return nil, err
	}
	return NewFIR(coeffs)
}

// NewHighPass builds a FIR engine around HighPassTaps.
func NewHighPass(sampleRate, cutoff float64, taps int) (*FIR, error) {
	coeffs, err := HighPassTaps(sampleRate, cutoff, taps)
	if err != nil {
		return nil, err
	}
	return NewFIR(coeffs)
}

// NewBandPass builds a FIR engine around BandPassTaps.
func NewBandPass(sampleRate, low, high float64, taps int) (*FIR, error) {
	coeffs, err := BandPassTaps(sampleRate, low, high, taps)
	if err != nil {
		return nil, err
	}
	return NewFIR(coeffs)
}
