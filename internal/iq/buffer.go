// SPDX-License-Identifier: MIT
/*
Package iq holds the complex sample buffers that flow from a tuner's read loop
into the demodulation pipeline.

A Buffer is immutable once constructed, with one exception: the sample-rate
tag may be corrected after the fact without copying the samples.
*/
package iq

import (
	"math"
	"sync/atomic"
	"time"
)

// Buffer is a timestamped block of I/Q samples captured at a known rate.
type Buffer struct {
	samples    []complex64
	timestamp  time.Time
	sampleRate atomic.Uint64 // math.Float64bits of the rate in Hz
}

// NewBuffer wraps samples without copying them. The caller hands over
// ownership of the slice.
func NewBuffer(samples []complex64, timestamp time.Time, sampleRate float64) *Buffer {
	b := &Buffer{
		samples:   samples,
		timestamp: timestamp,
	}
	b.sampleRate.Store(math.Float64bits(sampleRate))
	return b
}

// Samples returns the backing slice. It must be treated as read-only.
func (b *Buffer) Samples() []complex64 {
	return b.samples
}

// Len returns the number of complex samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Timestamp returns the capture time.
func (b *Buffer) Timestamp() time.Time {
	return b.timestamp
}

// SampleRate returns the rate in Hz the samples were captured at.
func (b *Buffer) SampleRate() float64 {
	return math.Float64frombits(b.sampleRate.Load())
}

// SetSampleRate corrects the sample-rate tag.
func (b *Buffer) SetSampleRate(rate float64) {
	b.sampleRate.Store(math.Float64bits(rate))
}

// Duration returns the span of time the buffer covers, or zero when the rate
// is unknown.
func (b *Buffer) Duration() time.Duration {
	rate := b.SampleRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.samples)) / rate * float64(time.Second))
}
