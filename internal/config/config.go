// SPDX-License-Identifier: MIT
//
// Package config loads receiver settings from YAML, environment overrides
// and built-in defaults.
package config

import "time"

// Defaults for every configurable value.
const (
	DefaultLogLevel = "info"

	DefaultDeviceIndex = 0
	DefaultFrequency   = 100_000_000 // Hz
	DefaultSampleRate  = 2_048_000   // S/s
	DefaultGain        = 29.7        // dB, ignored while AGC is on
	DefaultPPM         = 0.0
	DefaultAGC         = false

	DefaultDeviation    = 2500.0 // Hz, 12.5 kHz channel
	DefaultAudioCutoff  = 4000.0 // Hz
	DefaultAudioTaps    = 51
	DefaultAudioRate    = 48000.0 // Hz
	DefaultSquelch      = 0.0     // gate disabled
	DefaultSpectrumSize = 1024

	DefaultDispatchInterval = 20 * time.Millisecond

	DefaultRecordingDir = "./recordings"

	DefaultWebSocketAddress = "127.0.0.1:8080"
	DefaultFrameRate        = 25.0
	DefaultUDPTarget        = "127.0.0.1:9090"
	DefaultUDPQueue         = 256

	DefaultMQTTTopic = "radio/tuners"

	DefaultMetricsAddress = "127.0.0.1:9100"
)

// Hardware and processing limits.
const (
	MinFrequency  = 24_000_000
	MaxFrequency  = 1_766_000_000
	MinSampleRate = 225_001
	MaxSampleRate = 3_200_000
	MinPPM        = -1000.0
	MaxPPM        = 1000.0

	MinAudioTaps    = 3
	MaxSpectrumSize = 65536
	MaxQoS          = 2
)
