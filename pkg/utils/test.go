// SPDX-License-Identifier: MIT
//
// Package utils holds signal generators and a recording transport shared by
// package tests.
package utils

import (
	"math"
	"sync"
)

// MockTransport records every frame it is sent. It is safe for concurrent use.
type MockTransport struct {
	mu     sync.Mutex
	frames []any
	closed bool
}

// Send stores the frame. []float64 and []float32 payloads are copied so
// callers may reuse their buffers.
func (m *MockTransport) Send(data any) error {
	switch v := data.(type) {
	case []float64:
		data = append([]float64(nil), v...)
	case []float32:
		data = append([]float32(nil), v...)
	}
	m.mu.Lock()
	m.frames = append(m.frames, data)
	m.mu.Unlock()
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Frames returns a snapshot of the recorded frames.
func (m *MockTransport) Frames() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.frames...)
}

// Last returns the most recent frame, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateTone returns a complex exponential at offset Hz from the center
// frequency with the given amplitude.
func GenerateTone(size int, sampleRate, offset, amplitude float64) []complex64 {
	out := make([]complex64, size)
	for i := range out {
		phase := 2 * math.Pi * offset * float64(i) / sampleRate
		out[i] = complex(float32(amplitude*math.Cos(phase)), float32(amplitude*math.Sin(phase)))
	}
	return out
}

// GenerateFMTone returns a unit-magnitude carrier frequency modulated by an
// audio sine of audioHz at the given peak deviation.
func GenerateFMTone(size int, sampleRate, deviation, audioHz float64) []complex64 {
	out := make([]complex64, size)
	var phase float64
	for i := range out {
		out[i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
		m := math.Sin(2 * math.Pi * audioHz * float64(i) / sampleRate)
		phase += 2 * math.Pi * deviation * m / sampleRate
	}
	return out
}

// EncodeU8 converts samples in [-1, 1] into interleaved unsigned 8-bit I/Q as
// an RTL2832U delivers them.
func EncodeU8(samples []complex64) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		out[2*i] = toU8(real(s))
		out[2*i+1] = toU8(imag(s))
	}
	return out
}

func toU8(v float32) byte {
	x := math.Round(float64(v)*127.5 + 127.5)
	return byte(math.Max(0, math.Min(255, x)))
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin], clamping the range to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
