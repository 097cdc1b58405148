// SPDX-License-Identifier: MIT
package fft

import (
	"testing"
	"time"

	"radio/internal/iq"
	"radio/internal/transport"
	"radio/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testFFTSize    = 1024
	testSampleRate = 2048000.0
)

func toneBuffer(offsetBins int, amplitude float64, n int) *iq.Buffer {
	offset := float64(offsetBins) * testSampleRate / testFFTSize
	return iq.NewBuffer(utils.GenerateTone(n, testSampleRate, offset, amplitude), time.Now(), testSampleRate)
}

func peak(bins []float64) int {
	return utils.FindPeakBin(bins, 0, len(bins)-1)
}

func TestNewSpectrumRejectsInvalidSize(t *testing.T) {
	for _, size := range []int{0, 1, 3, 1000, -8} {
		_, err := NewSpectrum(size, nil)
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", size)
	}
}

func TestSpectrumTonePlacement(t *testing.T) {
	tests := []struct {
		name       string
		offsetBins int
	}{
		{"DC", 0},
		{"Positive", 100},
		{"Negative", -200},
		{"Near edge", 511},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSpectrum(testFFTSize, nil)
			require.NoError(t, err)
			require.NoError(t, s.Process(toneBuffer(tt.offsetBins, 1, testFFTSize)))

			bins := s.Bins(nil)
			p := peak(bins)
			assert.Equal(t, testFFTSize/2+tt.offsetBins, p)
			assert.InDelta(t, 0.0, bins[p], 0.01, "full-scale tone reads 0 dBFS")
			assert.InDelta(t, float64(tt.offsetBins)*testSampleRate/testFFTSize, s.FrequencyForBin(p), 1e-6)
		})
	}
}

func TestSpectrumAmplitudeScale(t *testing.T) {
	s, err := NewSpectrum(testFFTSize, nil)
	require.NoError(t, err)
	require.NoError(t, s.Process(toneBuffer(10, 0.1, testFFTSize)))

	bins := s.Bins(nil)
	assert.InDelta(t, -20.0, bins[testFFTSize/2+10], 0.01)
}

func TestSpectrumSilenceIsFloor(t *testing.T) {
	s, err := NewSpectrum(64, nil)
	require.NoError(t, err)
	require.NoError(t, s.Process(iq.NewBuffer(make([]complex64, 64), time.Now(), testSampleRate)))

	for i, v := range s.Bins(nil) {
		assert.Equal(t, FloorDB, v, "bin %d", i)
	}
}

func TestSpectrumShortBufferIsPadded(t *testing.T) {
	s, err := NewSpectrum(testFFTSize, nil)
	require.NoError(t, err)

	require.NoError(t, s.Process(toneBuffer(0, 1, 100)))
	assert.Equal(t, testFFTSize/2, peak(s.Bins(nil)))

	require.NoError(t, s.Process(iq.NewBuffer(nil, time.Now(), testSampleRate)))
	assert.Equal(t, FloorDB, s.Bins(nil)[testFFTSize/2])
}

func TestSpectrumPublishesFrame(t *testing.T) {
	mt := &utils.MockTransport{}
	s, err := NewSpectrum(testFFTSize, mt)
	require.NoError(t, err)

	buf := toneBuffer(32, 1, testFFTSize)
	require.NoError(t, s.Process(buf))
	require.NoError(t, s.Process(toneBuffer(-32, 1, testFFTSize)))

	frames := mt.Frames()
	require.Len(t, frames, 2)

	first, ok := frames[0].(transport.Frame)
	require.True(t, ok)
	assert.Equal(t, transport.FrameSpectrum, first.Type)
	assert.Equal(t, buf.Timestamp(), first.Timestamp)

	data, ok := first.Data.(Data)
	require.True(t, ok)
	assert.Equal(t, testSampleRate, data.SampleRate)
	require.Len(t, data.Bins, testFFTSize)
	assert.Equal(t, testFFTSize/2+32, peak(data.Bins), "published bins must not alias the workspace")
}

func TestFrequencyForBin(t *testing.T) {
	s, err := NewSpectrum(8, nil)
	require.NoError(t, err)
	assert.Zero(t, s.FrequencyForBin(0), "no buffer processed yet")

	require.NoError(t, s.Process(iq.NewBuffer(make([]complex64, 8), time.Now(), 800)))
	assert.Equal(t, -400.0, s.FrequencyForBin(0))
	assert.Equal(t, 0.0, s.FrequencyForBin(4))
	assert.Equal(t, 300.0, s.FrequencyForBin(7))
	assert.Zero(t, s.FrequencyForBin(8))
	assert.Zero(t, s.FrequencyForBin(-1))
}

func TestSpectrumHotPath(t *testing.T) {
	s, err := NewSpectrum(testFFTSize, nil)
	require.NoError(t, err)
	buf := toneBuffer(7, 0.5, testFFTSize)

	// Warm-up call so lazily built FFT state is not counted.
	require.NoError(t, s.Process(buf))
	dst := make([]float64, testFFTSize)
	allocs := testing.AllocsPerRun(100, func() {
		_ = s.Process(buf)
		_ = s.Bins(dst)
		_ = s.FrequencyForBin(10)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in Spectrum hot path, got %.1f", allocs)
	}
}

func BenchmarkProcess(b *testing.B) {
	s, err := NewSpectrum(testFFTSize, nil)
	if err != nil {
		b.Fatal(err)
	}
	buf := iq.NewBuffer(utils.GenerateFMTone(16384, testSampleRate, 2500, 1000), time.Now(), testSampleRate)

	b.ReportAllocs()
	for b.Loop() {
		_ = s.Process(buf)
	}
}
