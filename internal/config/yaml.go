// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	applog "radio/internal/log"
	"radio/internal/tuner"
	"radio/pkg/bitint"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
	Tuner     TunerConfig     `yaml:"tuner"`
	Demod     DemodConfig     `yaml:"demod"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TunerConfig selects and programs the receiver.
type TunerConfig struct {
	Device     int     `yaml:"device"`      // index among supported dongles
	Frequency  uint32  `yaml:"frequency"`   // center frequency, Hz
	SampleRate uint32  `yaml:"sample_rate"` // S/s
	Gain       float64 `yaml:"gain"`        // dB, snapped to the nearest step
	PPM        float64 `yaml:"ppm"`         // crystal correction
	AGC        bool    `yaml:"agc"`
}

// DemodConfig shapes the FM demodulator and squelch.
type DemodConfig struct {
	Deviation    float64 `yaml:"deviation"`     // peak deviation, Hz
	AudioCutoff  float64 `yaml:"audio_cutoff"`  // Hz
	AudioTaps    int     `yaml:"audio_taps"`    // FIR length
	AudioRate    float64 `yaml:"audio_rate"`    // sink rate, Hz
	Squelch      float64 `yaml:"squelch"`       // mean I/Q power in [0,1], 0 disables
	SpectrumSize int     `yaml:"spectrum_size"` // FFT bins, power of two, 0 disables
}

// DispatchConfig sets the buffer dispatcher cadence.
type DispatchConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// TransportConfig holds settings related to sending processed data over the network.
type TransportConfig struct {
	WebSocketEnabled bool    `yaml:"websocket_enabled"`
	WebSocketAddress string  `yaml:"websocket_address"`
	FrameRate        float64 `yaml:"frame_rate"`      // websocket frames per second
	WebSocketAudio   bool    `yaml:"websocket_audio"` // also stream demodulated audio frames
	UDPEnabled       bool    `yaml:"udp_enabled"`
	UDPTargetAddress string  `yaml:"udp_target_address"`
	UDPQueue         int     `yaml:"udp_queue"` // audio chunks buffered before dropping
}

// MQTTConfig configures the status publisher.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // tcp://host:1883
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Tuner: TunerConfig{
			Device:     DefaultDeviceIndex,
			Frequency:  DefaultFrequency,
			SampleRate: DefaultSampleRate,
			Gain:       DefaultGain,
			PPM:        DefaultPPM,
			AGC:        DefaultAGC,
		},
		Demod: DemodConfig{
			Deviation:    DefaultDeviation,
			AudioCutoff:  DefaultAudioCutoff,
			AudioTaps:    DefaultAudioTaps,
			AudioRate:    DefaultAudioRate,
			Squelch:      DefaultSquelch,
			SpectrumSize: DefaultSpectrumSize,
		},
		Dispatch: DispatchConfig{Interval: DefaultDispatchInterval},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
		},
		Transport: TransportConfig{
			WebSocketAddress: DefaultWebSocketAddress,
			FrameRate:        DefaultFrameRate,
			UDPTargetAddress: DefaultUDPTarget,
			UDPQueue:         DefaultUDPQueue,
		},
		MQTT: MQTTConfig{
			Topic: DefaultMQTTTopic,
		},
		Metrics: MetricsConfig{
			ListenAddress: DefaultMetricsAddress,
		},
	}
}

// configCandidates are searched when no path is given.
var configCandidates = []string{"config.yaml", "radio.yaml"}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations. If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range configCandidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		applog.Debugf("Config: Loaded %s", path)
	}

	// Environment overrides apply on top of the file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		fail("log_level %q not recognized", c.LogLevel)
	}

	if c.Tuner.Device < 0 {
		fail("tuner.device must be >= 0, got %d", c.Tuner.Device)
	}
	if c.Tuner.Frequency < MinFrequency || c.Tuner.Frequency > MaxFrequency {
		fail("tuner.frequency %d outside [%d, %d]", c.Tuner.Frequency, MinFrequency, MaxFrequency)
	}
	if c.Tuner.SampleRate < MinSampleRate || c.Tuner.SampleRate > MaxSampleRate {
		fail("tuner.sample_rate %d outside [%d, %d]", c.Tuner.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Tuner.PPM < MinPPM || c.Tuner.PPM > MaxPPM || math.IsNaN(c.Tuner.PPM) {
		result = multierror.Append(result, fmt.Errorf("%w: tuner.ppm: %w", ErrInvalid,
			&tuner.RangeError{Field: "frequency correction", Value: c.Tuner.PPM, Min: MinPPM, Max: MaxPPM}))
	}

	if c.Demod.Deviation <= 0 {
		fail("demod.deviation must be positive")
	}
	if c.Demod.AudioCutoff <= 0 || c.Demod.AudioCutoff >= float64(c.Tuner.SampleRate)/2 {
		fail("demod.audio_cutoff %g must be in (0, sample_rate/2)", c.Demod.AudioCutoff)
	}
	if c.Demod.AudioTaps < MinAudioTaps {
		fail("demod.audio_taps must be >= %d", MinAudioTaps)
	}
	if c.Demod.AudioRate <= 0 || c.Demod.AudioRate > float64(c.Tuner.SampleRate) {
		fail("demod.audio_rate %g must be in (0, sample_rate]", c.Demod.AudioRate)
	}
	if c.Demod.Squelch < 0 || c.Demod.Squelch > 1 {
		fail("demod.squelch %g outside [0, 1]", c.Demod.Squelch)
	}
	if c.Demod.SpectrumSize != 0 && (!bitint.IsPowerOfTwo(c.Demod.SpectrumSize) || c.Demod.SpectrumSize > MaxSpectrumSize) {
		fail("demod.spectrum_size %d must be a power of two up to %d", c.Demod.SpectrumSize, MaxSpectrumSize)
	}

	if c.Dispatch.Interval <= 0 {
		fail("dispatch.interval must be positive")
	}

	if c.Recording.Enabled && c.Recording.OutputDir == "" {
		fail("recording.output_dir must be set when recording is enabled")
	}

	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddress == "" {
		fail("transport.websocket_address must be set when websocket is enabled")
	}
	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			fail("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPQueue < 0 {
			fail("transport.udp_queue must not be negative")
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		fail("mqtt.broker must be set when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > MaxQoS {
		fail("mqtt.qos %d outside [0, %d]", c.MQTT.QoS, MaxQoS)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		fail("metrics.listen_address must be set when metrics are enabled")
	}

	return result.ErrorOrNil()
}

// applyEnvOverrides applies ENV_* variables. Unparseable values are logged
// and ignored.
func (c *Config) applyEnvOverrides() {
	str := func(name string, dst *string) {
		if val, ok := os.LookupEnv(name); ok {
			*dst = val
			applog.Infof("Config: Overriding from %s", name)
		}
	}
	boolean := func(name string, dst *bool) {
		if val, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				applog.Warnf("Config: Ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = b
			applog.Infof("Config: Overriding from %s: %v", name, b)
		}
	}
	u32 := func(name string, dst *uint32) {
		if val, ok := os.LookupEnv(name); ok {
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				applog.Warnf("Config: Ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = uint32(n)
			applog.Infof("Config: Overriding from %s: %d", name, n)
		}
	}
	f64 := func(name string, dst *float64) {
		if val, ok := os.LookupEnv(name); ok {
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				applog.Warnf("Config: Ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = f
			applog.Infof("Config: Overriding from %s: %g", name, f)
		}
	}
	integer := func(name string, dst *int) {
		if val, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				applog.Warnf("Config: Ignoring %s=%q: %v", name, val, err)
				return
			}
			*dst = n
			applog.Infof("Config: Overriding from %s: %d", name, n)
		}
	}

	str("ENV_LOG_LEVEL", &c.LogLevel)

	integer("ENV_TUNER_DEVICE", &c.Tuner.Device)
	u32("ENV_TUNER_FREQUENCY", &c.Tuner.Frequency)
	u32("ENV_TUNER_SAMPLE_RATE", &c.Tuner.SampleRate)
	f64("ENV_TUNER_GAIN", &c.Tuner.Gain)
	f64("ENV_TUNER_PPM", &c.Tuner.PPM)
	boolean("ENV_TUNER_AGC", &c.Tuner.AGC)

	f64("ENV_DEMOD_SQUELCH", &c.Demod.Squelch)

	boolean("ENV_RECORDING_ENABLED", &c.Recording.Enabled)
	str("ENV_RECORDING_OUTPUT_DIR", &c.Recording.OutputDir)

	boolean("ENV_WEBSOCKET_ENABLED", &c.Transport.WebSocketEnabled)
	str("ENV_WEBSOCKET_ADDRESS", &c.Transport.WebSocketAddress)
	boolean("ENV_WEBSOCKET_AUDIO", &c.Transport.WebSocketAudio)
	boolean("ENV_UDP_ENABLED", &c.Transport.UDPEnabled)
	str("ENV_UDP_TARGET_ADDRESS", &c.Transport.UDPTargetAddress)

	boolean("ENV_MQTT_ENABLED", &c.MQTT.Enabled)
	str("ENV_MQTT_BROKER", &c.MQTT.Broker)
	str("ENV_MQTT_USERNAME", &c.MQTT.Username)
	str("ENV_MQTT_PASSWORD", &c.MQTT.Password)

	boolean("ENV_METRICS_ENABLED", &c.Metrics.Enabled)
	str("ENV_METRICS_ADDRESS", &c.Metrics.ListenAddress)
}
