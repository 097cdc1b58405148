// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	applog "radio/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hashicorp/go-multierror"
)

const (
	recordBitDepth = 16
	recordChannels = 1
	wavFormatPCM   = 1
)

// ErrAlreadyRecording is returned by StartRecording while a file is open.
var ErrAlreadyRecording = errors.New("audio: already recording")

// Recorder writes demodulated audio to 16-bit mono PCM WAV files.
type Recorder struct {
	sampleRate int

	mu          sync.Mutex // guards file, encoder and buffer
	isRecording atomic.Bool
	path        string
	outputFile  *os.File
	wavEncoder  *wav.Encoder
	sampleBuf   *audio.IntBuffer // reused for float to int conversion
	written     int
}

// NewRecorder creates a recorder for audio at sampleRate Hz.
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{sampleRate: sampleRate}
}

// SampleRate returns the rate written into new files.
func (r *Recorder) SampleRate() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sampleRate
}

// SetSampleRate changes the rate for the next file. It fails while
// recording because the WAV header is already written.
func (r *Recorder) SetSampleRate(rate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRecording.Load() {
		return ErrAlreadyRecording
	}
	r.sampleRate = rate
	return nil
}

// StartRecording creates filename and starts accepting samples.
func (r *Recorder) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRecording.Load() {
		return fmt.Errorf("%w to %s", ErrAlreadyRecording, r.path)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("audio: create recording: %w", err)
	}

	r.outputFile = file
	r.path = filename
	r.written = 0
	r.wavEncoder = wav.NewEncoder(file, r.sampleRate, recordBitDepth, recordChannels, wavFormatPCM)
	r.sampleBuf = &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: recordChannels, SampleRate: r.sampleRate},
		SourceBitDepth: recordBitDepth,
	}
	r.isRecording.Store(true)

	applog.Infof("Recorder: Writing %d Hz mono to %s", r.sampleRate, filename)
	return nil
}

// IsRecording reports whether a file is open.
func (r *Recorder) IsRecording() bool {
	return r.isRecording.Load()
}

// Write appends samples in [-1, 1] to the open file. Values outside the range
// are clipped. Write is a no-op when not recording.
func (r *Recorder) Write(samples []float32) error {
	if !r.isRecording.Load() {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return nil
	}

	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]
	for i, s := range samples {
		r.sampleBuf.Data[i] = toPCM16(s)
	}

	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return fmt.Errorf("audio: write %s: %w", r.path, err)
	}
	r.written += len(samples)
	return nil
}

// WriteAudio lets the recorder act as an engine sink.
func (r *Recorder) WriteAudio(samples []float32, _ time.Time, _ float64) error {
	return r.Write(samples)
}

func toPCM16(s float32) int {
	v := math.Round(float64(s) * math.MaxInt16)
	return int(math.Max(math.MinInt16, math.Min(math.MaxInt16, v)))
}

// StopRecording finalizes the WAV header and closes the file. Stopping when
// not recording returns nil.
func (r *Recorder) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isRecording.Load() {
		return nil
	}
	r.isRecording.Store(false)

	var result *multierror.Error
	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("audio: finalize %s: %w", r.path, err))
		}
		r.wavEncoder = nil
	}
	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("audio: close %s: %w", r.path, err))
		}
		r.outputFile = nil
	}

	applog.Infof("Recorder: Closed %s (%d samples)", r.path, r.written)
	return result.ErrorOrNil()
}
