// SPDX-License-Identifier: MIT
//
// Package cmd parses the command line into a run configuration.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"radio/internal/config"
	"radio/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	CommandRun  = "run"
	CommandList = "list"
)

// Options is the outcome of parsing the command line. Command is empty when
// the invocation only printed help or the version.
type Options struct {
	Command    string
	ConfigPath string
	OutputFile string // recording path, set when recording is enabled
	Config     *config.Config
}

// flagValues mirrors every flag; only flags the user set are applied on
// top of the loaded configuration.
type flagValues struct {
	device     int
	frequency  uint32
	sampleRate uint32
	gain       float64
	ppm        float64
	agc        bool
	deviation  float64
	squelch    float64
	record     bool
	output     string
	logLevel   string
	websocket  string
	udp        string
	mqtt       string
	metrics    string
}

// ParseArgs parses args (without the program name).
func ParseArgs(args []string) (*Options, error) {
	return parse(args, os.Stdout)
}

func parse(args []string, out io.Writer) (*Options, error) {
	buildInfo := build.Get()
	options := &Options{}
	var fv flagValues

	load := func(cmd *cobra.Command, command string) error {
		cfg, err := config.LoadConfig(options.ConfigPath)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), &fv, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		options.Config = cfg
		options.Command = command

		if cfg.Recording.Enabled {
			options.OutputFile = fv.output
			if options.OutputFile == "" {
				options.OutputFile = "recording-" + time.Now().UTC().Format("02-01-2006-150405") + ".wav"
			}
			if !filepath.IsAbs(options.OutputFile) && filepath.Dir(options.OutputFile) == "." {
				options.OutputFile = filepath.Join(cfg.Recording.OutputDir, options.OutputFile)
			}
		}
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return load(cmd, CommandRun)
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.SetOut(out)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List supported RTL2832U devices attached over USB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return load(cmd, CommandList)
		},
	}
	rootCmd.AddCommand(listCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&options.ConfigPath, "config", "c", "",
		"Path to a YAML configuration file (default: ./config.yaml if present)")
	pf.StringVar(&fv.logLevel, "log-level", config.DefaultLogLevel,
		"Log level: debug, info, warn, error")

	// Tuner
	pf.IntVarP(&fv.device, "device", "d", config.DefaultDeviceIndex,
		"Index of the device to open. Use 'list' command to see available devices.")
	pf.Uint32VarP(&fv.frequency, "frequency", "f", config.DefaultFrequency,
		"Center frequency in Hz")
	pf.Uint32VarP(&fv.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"I/Q sample rate in samples per second")
	pf.Float64VarP(&fv.gain, "gain", "g", config.DefaultGain,
		"Tuner gain in dB, snapped to the nearest supported step")
	pf.Float64Var(&fv.ppm, "ppm", config.DefaultPPM,
		"Frequency correction in parts per million")
	pf.BoolVar(&fv.agc, "agc", config.DefaultAGC,
		"Enable automatic gain control")

	// Demodulation
	pf.Float64Var(&fv.deviation, "deviation", config.DefaultDeviation,
		"Peak FM deviation in Hz (2500 for 12.5 kHz channels, 5000 for 25 kHz)")
	pf.Float64Var(&fv.squelch, "squelch", config.DefaultSquelch,
		"Squelch threshold on mean I/Q power, 0 disables")

	// Recording
	pf.BoolVarP(&fv.record, "record", "r", false,
		"Record demodulated audio to a WAV file")
	pf.StringVarP(&fv.output, "output", "o", "",
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav in the recording directory")

	// Outputs
	pf.StringVar(&fv.websocket, "websocket", "",
		"Serve spectrum and status frames on this address (e.g. 127.0.0.1:8080)")
	pf.StringVar(&fv.udp, "udp", "",
		"Publish audio packets to this host:port")
	pf.StringVar(&fv.mqtt, "mqtt-broker", "",
		"Publish tuner status to this MQTT broker (e.g. tcp://localhost:1883)")
	pf.StringVar(&fv.metrics, "metrics", "",
		"Serve Prometheus metrics on this address")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, fmt.Errorf("%s: %w", buildInfo.Name, err)
	}
	return options, nil
}

// applyFlags copies explicitly set flags into cfg.
func applyFlags(flags *pflag.FlagSet, fv *flagValues, cfg *config.Config) {
	set := flags.Changed

	if set("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if set("device") {
		cfg.Tuner.Device = fv.device
	}
	if set("frequency") {
		cfg.Tuner.Frequency = fv.frequency
	}
	if set("sample-rate") {
		cfg.Tuner.SampleRate = fv.sampleRate
	}
	if set("gain") {
		cfg.Tuner.Gain = fv.gain
	}
	if set("ppm") {
		cfg.Tuner.PPM = fv.ppm
	}
	if set("agc") {
		cfg.Tuner.AGC = fv.agc
	}
	if set("deviation") {
		cfg.Demod.Deviation = fv.deviation
	}
	if set("squelch") {
		cfg.Demod.Squelch = fv.squelch
	}
	if set("record") {
		cfg.Recording.Enabled = fv.record
	}
	if set("websocket") {
		cfg.Transport.WebSocketEnabled = fv.websocket != ""
		cfg.Transport.WebSocketAddress = fv.websocket
	}
	if set("udp") {
		cfg.Transport.UDPEnabled = fv.udp != ""
		cfg.Transport.UDPTargetAddress = fv.udp
	}
	if set("mqtt-broker") {
		cfg.MQTT.Enabled = fv.mqtt != ""
		cfg.MQTT.Broker = fv.mqtt
	}
	if set("metrics") {
		cfg.Metrics.Enabled = fv.metrics != ""
		cfg.Metrics.ListenAddress = fv.metrics
	}
}
