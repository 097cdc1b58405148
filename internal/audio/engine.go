// SPDX-License-Identifier: MIT
/*
Package audio turns a tuner's I/Q stream into audio.

The tuner's read loop hands buffers to a dispatcher; on the dispatcher's
cadence each buffer runs through:

	spectrum  (always, when configured)
	squelch   mean |s|^2 against the gate threshold
	demod     polar discriminator and audio low-pass
	decimate  down to the audio rate
	sinks     recorder, UDP publisher, websocket

The read loop never touches DSP state, so a slow sink delays audio but never
the USB transfers.
*/
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"radio/internal/dispatch"
	"radio/internal/dsp"
	"radio/internal/fft"
	"radio/internal/iq"
	applog "radio/internal/log"
	"radio/internal/tuner"

	"github.com/hashicorp/go-multierror"
)

// DefaultAudioRate is the rate delivered to sinks when none is configured.
const DefaultAudioRate = 48000.0

// Sink consumes demodulated audio.
type Sink interface {
	WriteAudio(samples []float32, timestamp time.Time, sampleRate float64) error
}

// Observer receives engine counters. Implementations must not block.
type Observer interface {
	SamplesDemodulated(n int)
	BufferGated()
}

// Config shapes the demodulation chain.
type Config struct {
	Deviation        float64 // peak FM deviation, Hz
	AudioCutoff      float64 // audio low-pass cutoff, Hz
	AudioTaps        int
	AudioRate        float64 // target sink rate; the decimation factor is rounded
	GateThreshold    float64 // mean I/Q power in [0, 1]
	GateEnabled      bool
	DispatchInterval time.Duration
}

// Option adds optional stages to an Engine.
type Option func(*Engine)

// WithSpectrum publishes the spectrum of every buffer.
func WithSpectrum(s *fft.Spectrum) Option {
	return func(e *Engine) { e.spectrum = s }
}

// WithSink adds an audio consumer. Sinks implementing io.Closer are closed
// with the engine.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// WithObserver reports engine counters.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithDispatchObserver reports dispatcher counters.
func WithDispatchObserver(o dispatch.Observer) Option {
	return func(e *Engine) { e.dispatchObserver = o }
}

// ErrTunerFault is returned by the heartbeat when the tuner has entered the
// error state.
var ErrTunerFault = errors.New("audio: tuner in error state")

type Engine struct {
	config Config
	tuner  tuner.Tuner

	dispatcher       *dispatch.Dispatcher[*iq.Buffer]
	dispatchObserver dispatch.Observer
	observer         Observer

	// Owned by the dispatcher goroutine.
	demod  *dsp.FMDemodulator
	decim  int
	offset int // index of the next kept sample in the following buffer

	inputRate atomic.Uint64 // math.Float64bits
	audioRate atomic.Uint64

	spectrum *fft.Spectrum
	sinks    []Sink
	recorder *Recorder

	// Noise gate for signal conditioning.
	gateEnabled   atomic.Bool
	gateThreshold atomic.Uint64 // math.Float64bits

	processed atomic.Uint64
	gated     atomic.Uint64

	closeOnce sync.Once
}

// NewEngine builds the chain for t at its current sample rate.
func NewEngine(t tuner.Tuner, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.AudioRate <= 0 {
		cfg.AudioRate = DefaultAudioRate
	}

	e := &Engine{config: cfg, tuner: t}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.configure(float64(t.SampleRate())); err != nil {
		return nil, err
	}
	e.recorder = NewRecorder(int(math.Round(e.AudioRate())))
	e.gateEnabled.Store(cfg.GateEnabled)
	e.SetGateThreshold(cfg.GateThreshold)

	dispatchOpts := []dispatch.Option{dispatch.WithHeartbeat(e.heartbeat)}
	if e.dispatchObserver != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithObserver(e.dispatchObserver))
	}
	e.dispatcher = dispatch.New[*iq.Buffer]("iq", cfg.DispatchInterval, dispatchOpts...)
	e.dispatcher.SetListener(e.process)

	return e, nil
}

// configure (re)builds the demodulator for an input rate.
func (e *Engine) configure(sampleRate float64) error {
	var opts []dsp.FMOption
	if e.config.AudioCutoff > 0 || e.config.AudioTaps > 0 {
		cutoff, taps := e.config.AudioCutoff, e.config.AudioTaps
		if cutoff <= 0 {
			cutoff = dsp.DefaultAudioCutoff
		}
		if taps <= 0 {
			taps = dsp.DefaultAudioTaps
		}
		opts = append(opts, dsp.WithAudioFilter(cutoff, taps))
	}

	demod, err := dsp.NewFMDemodulator(sampleRate, e.config.Deviation, opts...)
	if err != nil {
		return fmt.Errorf("audio: demodulator: %w", err)
	}

	e.demod = demod
	e.decim = max(1, int(math.Round(sampleRate/e.config.AudioRate)))
	e.offset = 0
	e.inputRate.Store(math.Float64bits(sampleRate))
	e.audioRate.Store(math.Float64bits(sampleRate / float64(e.decim)))
	return nil
}

// AudioRate returns the rate delivered to sinks.
func (e *Engine) AudioRate() float64 {
	return math.Float64frombits(e.audioRate.Load())
}

// InputRate returns the I/Q rate the demodulator is built for.
func (e *Engine) InputRate() float64 {
	return math.Float64frombits(e.inputRate.Load())
}

// Recorder returns the engine's WAV recorder.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Start attaches the engine to the tuner and starts the dispatcher.
func (e *Engine) Start() {
	applog.Infof("Engine: Starting on %s (input %.0f Hz, audio %.0f Hz)",
		e.tuner.ID(), e.InputRate(), e.AudioRate())
	e.tuner.SetBufferListener(e.dispatcher.Receive)
	e.dispatcher.Start()
}

// StartRecording opens a WAV file at the audio rate.
func (e *Engine) StartRecording(filename string) error {
	return e.recorder.StartRecording(filename)
}

// StopRecording closes the WAV file.
func (e *Engine) StopRecording() error {
	return e.recorder.StopRecording()
}

// Processed returns the number of buffers that produced audio.
func (e *Engine) Processed() uint64 {
	return e.processed.Load()
}

// Gated returns the number of buffers suppressed by the gate.
func (e *Engine) Gated() uint64 {
	return e.gated.Load()
}

func (e *Engine) heartbeat() error {
	if e.tuner.State() == tuner.Error {
		return fmt.Errorf("%w: %s", ErrTunerFault, e.tuner.ID())
	}
	return nil
}

// process is the dispatcher listener.
func (e *Engine) process(buf *iq.Buffer) error {
	if rate := buf.SampleRate(); rate != e.demod.SampleRate() {
		applog.Infof("Engine: Input rate changed %.0f -> %.0f Hz", e.InputRate(), rate)
		if err := e.configure(rate); err != nil {
			return err
		}
		if err := e.recorder.SetSampleRate(int(math.Round(e.AudioRate()))); err != nil {
			applog.Warnf("Engine: Recording continues at %d Hz", e.recorder.SampleRate())
		}
	}

	if e.spectrum != nil {
		if err := e.spectrum.Process(buf); err != nil {
			applog.Debugf("Engine: Spectrum not published: %v", err)
		}
	}

	if !e.gateOpen(buf.Samples()) {
		e.gated.Add(1)
		if e.observer != nil {
			e.observer.BufferGated()
		}
		return nil
	}

	samples := e.decimate(e.demod.Decode(buf))
	e.processed.Add(1)
	if e.observer != nil {
		e.observer.SamplesDemodulated(len(samples))
	}

	var result *multierror.Error
	if err := e.recorder.Write(samples); err != nil {
		result = multierror.Append(result, err)
	}
	for _, s := range e.sinks {
		if err := s.WriteAudio(samples, buf.Timestamp(), e.AudioRate()); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// decimate keeps every decim-th sample in place, carrying the phase across
// buffers so the output is evenly spaced.
func (e *Engine) decimate(samples []float32) []float32 {
	if e.decim == 1 {
		return samples
	}
	out := samples[:0]
	i := e.offset
	for ; i < len(samples); i += e.decim {
		out = append(out, samples[i])
	}
	e.offset = i - len(samples)
	return out
}

// Close detaches from the tuner, delivers queued buffers, stops recording and
// closes sinks that implement io.Closer.
func (e *Engine) Close() error {
	var result *multierror.Error
	e.closeOnce.Do(func() {
		e.tuner.SetBufferListener(nil)
		e.dispatcher.FlushAndStop()

		if err := e.recorder.StopRecording(); err != nil {
			result = multierror.Append(result, err)
		}
		for _, s := range e.sinks {
			if c, ok := s.(io.Closer); ok {
				if err := c.Close(); err != nil {
					result = multierror.Append(result, err)
				}
			}
		}
		applog.Infof("Engine: Closed (%d processed, %d gated)", e.processed.Load(), e.gated.Load())
	})
	return result.ErrorOrNil()
}
