// SPDX-License-Identifier: MIT
/*
Package tuner defines the device-independent tuner contract.

A Tuner moves through Disconnected, Connected, Running and Error. Settings
changes are range checked before anything reaches the hardware, and captured
I/Q buffers plus state transitions are delivered to registered callbacks.

	Disconnected --Connect--> Connected --Start--> Running
	Running --Stop--> Connected --Disconnect--> Disconnected
	any --I/O failure--> Error --Disconnect--> Disconnected
*/
package tuner

import (
	"context"
	"errors"
	"fmt"

	"radio/internal/iq"
)

var (
	// ErrNotFound means no hardware matched the requested device index.
	ErrNotFound = errors.New("tuner not found")
	// ErrNotConnected is returned by operations that need an open device.
	ErrNotConnected = errors.New("tuner not connected")
	// ErrAlreadyRunning is returned by Start on a streaming tuner.
	ErrAlreadyRunning = errors.New("tuner already running")
	// ErrNotRunning is returned when an operation needs an active stream.
	ErrNotRunning = errors.New("tuner not running")
	// ErrCommunication wraps any USB transfer failure other than a timeout.
	ErrCommunication = errors.New("tuner communication failure")
	// ErrTimeout marks a bulk read that produced no data within its deadline.
	ErrTimeout = errors.New("tuner read timeout")
	// ErrOutOfRange is matched by every RangeError.
	ErrOutOfRange = errors.New("value out of range")
)

// State is the lifecycle state of a tuner.
type State int32

const (
	Disconnected State = iota
	Connected
	Running
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Running:
		return "running"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Bounds are the device-declared limits for tunable settings.
type Bounds struct {
	MinFrequency  uint32
	MaxFrequency  uint32
	MinSampleRate uint32
	MaxSampleRate uint32
	MinPPM        float64
	MaxPPM        float64
	Gains         []float64 // supported gains in dB, ascending
}

// Settings is a snapshot of the tuning configuration.
type Settings struct {
	Frequency  uint32  // center frequency in Hz
	SampleRate uint32  // samples per second
	Gain       float64 // dB
	PPM        float64 // frequency correction in parts per million
	AGC        bool
}

// RangeError reports a setting outside its declared bounds.
type RangeError struct {
	Field string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s %g outside [%g, %g]", e.Field, e.Value, e.Min, e.Max)
}

// Is makes errors.Is(err, ErrOutOfRange) match.
func (e *RangeError) Is(target error) bool {
	return target == ErrOutOfRange
}

// BufferListener receives captured buffers in capture order. It runs on the
// tuner's read goroutine and must return quickly.
type BufferListener func(*iq.Buffer)

// StatusListener is called on every state transition, in transition order.
type StatusListener func(id string, from, to State)

// Tuner is a controllable I/Q source.
type Tuner interface {
	ID() string
	Name() string

	// Connect opens the device. A missing device returns ErrNotFound.
	Connect(ctx context.Context) error
	// Disconnect stops streaming and releases the device. Idempotent.
	Disconnect() error
	// Start applies the configuration and launches streaming.
	Start() error
	// Stop cancels streaming and waits for the read loop to exit.
	Stop() error
	// Reset stops streaming if needed and restores a clean buffer state.
	Reset() error

	State() State
	Bounds() Bounds
	Settings() Settings

	Frequency() uint32
	SetFrequency(hz uint32) error
	SampleRate() uint32
	SetSampleRate(rate uint32) error
	Gain() float64
	SetGain(db float64) error
	FrequencyCorrection() float64
	SetFrequencyCorrection(ppm float64) error
	AGC() bool
	SetAGC(enabled bool) error

	SetBufferListener(l BufferListener)
	SetStatusListener(l StatusListener)
}
