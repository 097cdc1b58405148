// SPDX-License-Identifier: MIT
package dsp

import (
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radio/internal/iq"
)

// phaseRamp returns n unit-magnitude samples advancing by step radians each.
func phaseRamp(n int, step float64) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Rect(1, step*float64(i)))
	}
	return out
}

func TestNewFMDemodulator(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate float64
		deviation  float64
		opts       []FMOption
		wantErr    bool
	}{
		{"narrowband", 48000, NarrowbandDeviation, nil, false},
		{"wide narrowband", 48000, WideNarrowbandDeviation, nil, false},
		{"low rate clamps cutoff", 6000, NarrowbandDeviation, nil, false},
		{"custom filter", 48000, NarrowbandDeviation, []FMOption{WithAudioFilter(3000, 31)}, false},
		{"zero rate", 0, NarrowbandDeviation, nil, true},
		{"zero deviation", 48000, 0, nil, true},
		{"bad filter", 48000, NarrowbandDeviation, []FMOption{WithAudioFilter(30000, 31)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewFMDemodulator(tt.sampleRate, tt.deviation, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.sampleRate, d.SampleRate())
			assert.Equal(t, tt.deviation, d.Deviation())
		})
	}
}

func TestFMConstantOffset(t *testing.T) {
	const (
		rate  = 48000.0
		dev   = 2500.0
		delta = 0.1
	)
	d, err := NewFMDemodulator(rate, dev)
	require.NoError(t, err)

	buf := iq.NewBuffer(phaseRamp(1024, delta), time.Now(), rate)
	audio := d.Decode(buf)
	require.Len(t, audio, 1024)

	want := delta * rate / (2 * math.Pi * dev)
	// Past the filter transient every output equals the raw discriminator value.
	for i := DefaultAudioTaps + 1; i < len(audio); i++ {
		assert.InDelta(t, want, float64(audio[i]), 1e-4, "sample %d", i)
	}
}

func TestFMUnfilteredDiscriminator(t *testing.T) {
	const delta = -0.25
	d, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)

	// A single-tap identity kernel exposes the raw discriminator output.
	d.filter, err = NewFIR([]float64{1})
	require.NoError(t, err)

	audio := d.Decode(iq.NewBuffer(phaseRamp(64, delta), time.Now(), 48000))
	want := delta * 48000 / (2 * math.Pi * NarrowbandDeviation)

	// The first sample is compared against the zero vector.
	assert.Equal(t, float32(0), audio[0])
	for i := 1; i < len(audio); i++ {
		assert.InDelta(t, want, float64(audio[i]), 1e-4, "sample %d", i)
	}
}

func TestFMSplitContinuity(t *testing.T) {
	samples := make([]complex64, 900)
	for i := range samples {
		// Two-tone phase modulation so the discriminator output varies.
		phase := 0.3*math.Sin(float64(i)/7) + 0.05*float64(i)
		samples[i] = complex64(cmplx.Rect(0.2+0.8*math.Abs(math.Cos(float64(i)/50)), phase))
	}

	whole, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)
	split, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)

	want := whole.Decode(iq.NewBuffer(samples, time.Now(), 48000))

	cut := 333
	first := split.Decode(iq.NewBuffer(samples[:cut], time.Now(), 48000))
	second := split.Decode(iq.NewBuffer(samples[cut:], time.Now(), 48000))
	got := append(first, second...)

	assert.Equal(t, want, got)
}

func TestFMResetBreaksContinuity(t *testing.T) {
	samples := phaseRamp(400, 0.2)

	continuous, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)
	continuous.Decode(iq.NewBuffer(samples[:200], time.Now(), 48000))
	carried := continuous.Decode(iq.NewBuffer(samples[200:], time.Now(), 48000))

	reset, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)
	reset.Decode(iq.NewBuffer(samples[:200], time.Now(), 48000))
	reset.Reset()
	restarted := reset.Decode(iq.NewBuffer(samples[200:], time.Now(), 48000))

	fresh, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)
	baseline := fresh.Decode(iq.NewBuffer(samples[200:], time.Now(), 48000))

	assert.NotEqual(t, carried, restarted)
	assert.Equal(t, baseline, restarted)
}

func TestFMZeroMagnitudeAndEmpty(t *testing.T) {
	d, err := NewFMDemodulator(48000, NarrowbandDeviation)
	require.NoError(t, err)

	assert.Empty(t, d.Decode(iq.NewBuffer(nil, time.Now(), 48000)))

	silent := d.Decode(iq.NewBuffer(make([]complex64, 128), time.Now(), 48000))
	for i, v := range silent {
		assert.False(t, math.IsNaN(float64(v)), "sample %d is NaN", i)
		assert.Equal(t, float32(0), v)
	}
}

func BenchmarkFMDecode(b *testing.B) {
	d, _ := NewFMDemodulator(240000, WideNarrowbandDeviation)
	buf := iq.NewBuffer(phaseRamp(8192, 0.05), time.Now(), 240000)

	b.ReportAllocs()
	for b.Loop() {
		d.Decode(buf)
	}
}
