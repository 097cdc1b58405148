// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"sync"
	"time"
)

// DefaultAudioFrameDuration is the amount of audio carried by one frame.
const DefaultAudioFrameDuration = 100 * time.Millisecond

// AudioData is the payload of an audio frame.
type AudioData struct {
	SampleRate float64   `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
}

// AudioFrames batches demodulated audio into fixed-duration frames and sends
// them through a Transport. It satisfies the engine's sink contract.
type AudioFrames struct {
	t        Transport
	duration time.Duration

	mu      sync.Mutex
	pending []float32
	start   time.Time // timestamp of pending[0]
	rate    float64
}

// NewAudioFrames sends frames of the given duration through t. A
// non-positive duration selects DefaultAudioFrameDuration.
func NewAudioFrames(t Transport, duration time.Duration) *AudioFrames {
	if duration <= 0 {
		duration = DefaultAudioFrameDuration
	}
	return &AudioFrames{t: t, duration: duration}
}

// WriteAudio appends samples and sends every complete frame. A rate change
// discards the partial frame.
func (a *AudioFrames) WriteAudio(samples []float32, timestamp time.Time, sampleRate float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sampleRate != a.rate {
		a.pending = a.pending[:0]
		a.rate = sampleRate
	}
	if len(a.pending) == 0 {
		a.start = timestamp
	}
	a.pending = append(a.pending, samples...)

	size := max(1, int(a.duration.Seconds()*sampleRate))
	for len(a.pending) >= size {
		frame := Frame{
			Type:      FrameAudio,
			Timestamp: a.start,
			Data: AudioData{
				SampleRate: sampleRate,
				Samples:    append([]float32(nil), a.pending[:size]...),
			},
		}
		n := copy(a.pending, a.pending[size:])
		a.pending = a.pending[:n]
		a.start = a.start.Add(time.Duration(float64(size) / sampleRate * float64(time.Second)))

		// Frames dropped by the transport are not errors for the engine.
		if err := a.t.Send(frame); errors.Is(err, ErrClosed) {
			return err
		}
	}
	return nil
}
