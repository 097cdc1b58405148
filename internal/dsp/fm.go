// SPDX-License-Identifier: MIT
package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"radio/internal/iq"
)

const (
	// NarrowbandDeviation is the peak swing of 12.5 kHz channel voice.
	NarrowbandDeviation = 2500.0
	// WideNarrowbandDeviation is the peak swing of 25 kHz channel voice.
	WideNarrowbandDeviation = 5000.0

	// DefaultAudioCutoff and DefaultAudioTaps shape the post-demodulation
	// low-pass filter.
	DefaultAudioCutoff = 4000.0
	DefaultAudioTaps   = 51
)

// FMOption customises an FMDemodulator.
type FMOption func(*fmOptions)

type fmOptions struct {
	cutoff float64
	taps   int
}

// WithAudioFilter overrides the post-demodulation low-pass filter.
func WithAudioFilter(cutoff float64, taps int) FMOption {
	return func(o *fmOptions) {
		o.cutoff = cutoff
		o.taps = taps
	}
}

// FMDemodulator recovers audio from frequency-modulated I/Q using a polar
// discriminator. The last normalized sample is retained between calls so a
// stream split across buffers demodulates exactly as if it were contiguous.
type FMDemodulator struct {
	sampleRate float64
	deviation  float64
	gain       float64 // sampleRate / (2*pi*deviation)
	prev       complex128
	filter     *FIR
}

// NewFMDemodulator creates a demodulator for the given input rate and peak
// deviation, both in Hz.
func NewFMDemodulator(sampleRate, deviation float64, opts ...FMOption) (*FMDemodulator, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("fm: sample rate must be positive, got %g", sampleRate)
	}
	if deviation <= 0 {
		return nil, fmt.Errorf("fm: deviation must be positive, got %g", deviation)
	}

	o := fmOptions{cutoff: DefaultAudioCutoff, taps: DefaultAudioTaps}
	if o.cutoff >= sampleRate/2 {
		o.cutoff = 0.45 * sampleRate
	}
	for _, opt := range opts {
		opt(&o)
	}

	filter, err := NewLowPass(sampleRate, o.cutoff, o.taps)
	if err != nil {
		return nil, fmt.Errorf("fm: audio filter: %w", err)
	}

	return &FMDemodulator{
		sampleRate: sampleRate,
		deviation:  deviation,
		gain:       sampleRate / (2 * math.Pi * deviation),
		filter:     filter,
	}, nil
}

// Decode demodulates buf and returns low-pass filtered audio, one output
// sample per input sample. A zero-length buffer yields a zero-length result.
func (d *FMDemodulator) Decode(buf *iq.Buffer) []float32 {
	samples := buf.Samples()
	audio := make([]float32, len(samples))

	for i, s := range samples {
		cur := complex128(s)
		if mag := cmplx.Abs(cur); mag != 0 {
			cur /= complex(mag, 0)
		} else {
			cur = 0
		}

		p := cur * cmplx.Conj(d.prev)
		angle := math.Atan2(imag(p), real(p))
		audio[i] = float32(angle * d.gain)

		d.prev = cur
	}

	d.filter.FilterBlock(audio)
	return audio
}

// Reset drops the retained sample and clears the audio filter history.
func (d *FMDemodulator) Reset() {
	d.prev = 0
	d.filter.Reset()
}

// SampleRate returns the input sample rate in Hz.
func (d *FMDemodulator) SampleRate() float64 {
	return d.sampleRate
}

// Deviation returns the peak deviation in Hz.
func (d *FMDemodulator) Deviation() float64 {
	return d.deviation
}
