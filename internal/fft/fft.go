// SPDX-License-Identifier: MIT
//
// Package fft computes the power spectrum of I/Q buffers for display clients.
package fft

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"radio/internal/iq"
	"radio/internal/transport"
	"radio/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// FloorDB is reported for bins with no energy.
const FloorDB = -200.0

// ErrInvalidSize is returned for FFT sizes that are not a power of two.
var ErrInvalidSize = errors.New("fft: size must be a power of two")

// Data is the payload of a spectrum frame.
type Data struct {
	SampleRate float64   `json:"sample_rate"`
	Bins       []float64 `json:"bins"` // dBFS, DC at len/2
}

type workspace struct {
	input  []complex128
	output []complex128
	window []float64
	db     []float64
}

// Spectrum runs a Hann-windowed complex FFT over the first Size samples of
// each buffer. Bins are FFT-shifted so negative offsets come first and the
// center frequency sits at Size/2.
//
// Process must not be called concurrently.
type Spectrum struct {
	size       int
	scale      float64 // 1 / sum(window), so a full-scale tone reads 0 dBFS
	fft        *fourier.CmplxFFT
	ws         workspace
	transport  transport.Transport
	sampleRate atomic.Uint64
}

// NewSpectrum creates a processor of the given size. A nil transport makes
// Process compute without publishing.
func NewSpectrum(size int, t transport.Transport) (*Spectrum, error) {
	if !bitint.IsPowerOfTwo(size) || size < 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	w := make([]float64, size)
	for i := range w {
		w[i] = 1
	}
	window.Hann(w)

	return &Spectrum{
		size:      size,
		scale:     1 / floats.Sum(w),
		fft:       fourier.NewCmplxFFT(size),
		transport: t,
		ws: workspace{
			input:  make([]complex128, size),
			output: make([]complex128, size),
			window: w,
			db:     make([]float64, size),
		},
	}, nil
}

// Size returns the number of bins.
func (s *Spectrum) Size() int {
	return s.size
}

// Process computes the spectrum of buf and publishes it. Buffers shorter
// than Size are zero padded.
func (s *Spectrum) Process(buf *iq.Buffer) error {
	s.compute(buf.Samples())
	s.sampleRate.Store(math.Float64bits(buf.SampleRate()))

	if s.transport == nil {
		return nil
	}
	frame := transport.Frame{
		Type:      transport.FrameSpectrum,
		Timestamp: buf.Timestamp(),
		Data: Data{
			SampleRate: buf.SampleRate(),
			Bins:       append([]float64(nil), s.ws.db...),
		},
	}
	return s.transport.Send(frame)
}

func (s *Spectrum) compute(samples []complex64) {
	in := s.ws.input
	for i := range in {
		if i < len(samples) {
			in[i] = complex128(samples[i]) * complex(s.ws.window[i], 0)
		} else {
			in[i] = 0
		}
	}

	s.fft.Coefficients(s.ws.output, in)

	half := s.size / 2
	for i, c := range s.ws.output {
		mag := math.Hypot(real(c), imag(c)) * s.scale
		db := FloorDB
		if mag > 0 {
			db = math.Max(20*math.Log10(mag), FloorDB)
		}
		s.ws.db[(i+half)%s.size] = db
	}
}

// Bins copies the most recent spectrum into dst, growing it if needed.
func (s *Spectrum) Bins(dst []float64) []float64 {
	if cap(dst) < s.size {
		dst = make([]float64, s.size)
	}
	dst = dst[:s.size]
	copy(dst, s.ws.db)
	return dst
}

// FrequencyForBin returns the offset in Hz of bin i from the tuned center,
// using the rate of the last processed buffer. Out of range bins return 0.
func (s *Spectrum) FrequencyForBin(i int) float64 {
	if i < 0 || i >= s.size {
		return 0
	}
	rate := math.Float64frombits(s.sampleRate.Load())
	return float64(i-s.size/2) * rate / float64(s.size)
}
