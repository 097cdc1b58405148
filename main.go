// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"radio/cmd"
	"radio/internal/audio"
	"radio/internal/config"
	"radio/internal/fft"
	applog "radio/internal/log"
	"radio/internal/metrics"
	"radio/internal/mqtt"
	"radio/internal/transport"
	"radio/internal/transport/udp"
	"radio/internal/tuner"
	"radio/internal/tuner/rtlsdr"
	"radio/pkg/build"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

// main is the entry point for the receiver.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and configuration
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - Discover and connect the selected dongle
//   - Start the engine and the tuner read loop
//   - Start recording if enabled
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Release resources in reverse order of acquisition
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Development builds run without linker flags.
	if err := build.Initialize(); err != nil {
		applog.Debugf("Build: %v", err)
	}

	options, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		applog.Fatalf("%v", err)
	}
	if options.Command == "" {
		return // help or version
	}

	if level, ok := applog.ParseLevel(options.Config.LogLevel); ok {
		applog.SetLevel(level)
	}
	applog.Debugf("Build: %s", build.Get())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := rtlsdr.NewUSBBus()
	switch options.Command {
	case cmd.CommandList:
		err = listDevices(ctx, bus)
	default:
		err = run(ctx, bus, options)
	}
	if cerr := bus.Close(); cerr != nil {
		applog.Warnf("USB: close: %v", cerr)
	}
	if err != nil {
		stop()
		applog.Fatalf("%v", err)
	}
}

// listDevices handles the one-off list command.
func listDevices(ctx context.Context, bus rtlsdr.Bus) error {
	devices, err := rtlsdr.Discover(ctx, bus)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No supported devices found.")
		return nil
	}
	for _, d := range devices {
		fmt.Println(d)
	}
	return nil
}

// run is the concurrent phase. Every acquired resource registers its release
// on a stack that unwinds when ctx is cancelled or startup fails.
func run(ctx context.Context, bus rtlsdr.Bus, options *cmd.Options) (err error) {
	cfg := options.Config

	var cleanup []func()
	defer func() {
		// ==================== SHUTDOWN PHASE (Cold Path) ====================
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()
	closeWith := func(name string, fn func() error) {
		cleanup = append(cleanup, func() {
			if err := fn(); err != nil {
				applog.Warnf("Shutdown: %s: %v", name, err)
			}
		})
	}

	// Metrics come first so every later component can report.
	var m *metrics.Metrics
	var tunerOpts []rtlsdr.Option
	if cfg.Metrics.Enabled {
		if m, err = metrics.New(prometheus.NewRegistry()); err != nil {
			return err
		}
		srv, err := m.Serve(cfg.Metrics.ListenAddress)
		if err != nil {
			return err
		}
		applog.Infof("Metrics: serving on http://%s/metrics", srv.Addr())
		closeWith("metrics", srv.Close)
		tunerOpts = append(tunerOpts, rtlsdr.WithObserver(m))
	}

	manager := tuner.NewManager(rtlsdr.NewDiscoverer(bus, tunerOpts...))
	closeWith("tuners", manager.Close)

	tuners, err := manager.Discover(ctx)
	if err != nil {
		return err
	}
	if cfg.Tuner.Device >= len(tuners) {
		return fmt.Errorf("%w: device %d (%d attached)", tuner.ErrNotFound, cfg.Tuner.Device, len(tuners))
	}
	t := tuners[cfg.Tuner.Device]

	// Status fan-out. Listeners run under the tuner's transition lock and
	// only enqueue or publish.
	var statusListeners []tuner.StatusListener
	if m != nil {
		statusListeners = append(statusListeners, m.TunerStateChanged)
	}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.New(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		})
		if err != nil {
			return err
		}
		if err := pub.Connect(); err != nil {
			// Auto reconnect keeps trying; publishes are skipped until then.
			applog.Warnf("MQTT: %v", err)
		}
		closeWith("mqtt", pub.Close)
		statusListeners = append(statusListeners, pub.Listener(t))
	}

	var frames transport.Transport
	if cfg.Transport.WebSocketEnabled {
		ws := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress,
			transport.WithRateLimit(cfg.Transport.FrameRate, transport.DefaultFrameBurst))
		if err := ws.Start(); err != nil {
			return err
		}
		closeWith("websocket", ws.Close)
		frames = ws
		statusListeners = append(statusListeners, func(id string, _, to tuner.State) {
			now := time.Now()
			_ = ws.Send(transport.Frame{
				Type:      transport.FrameStatus,
				Timestamp: now,
				Data:      mqtt.StatusOf(t, to, now),
			})
		})
	} else {
		lt := transport.NewLoggingTransport()
		closeWith("frames", lt.Close)
		frames = lt
	}

	t.SetStatusListener(func(id string, from, to tuner.State) {
		for _, l := range statusListeners {
			l(id, from, to)
		}
	})

	if err := t.Connect(ctx); err != nil {
		return err
	}
	if err := applySettings(t, cfg.Tuner); err != nil {
		return err
	}

	engineOpts := []audio.Option{}
	if m != nil {
		engineOpts = append(engineOpts, audio.WithObserver(m), audio.WithDispatchObserver(m))
	}
	if cfg.Demod.SpectrumSize > 0 {
		spectrum, err := fft.NewSpectrum(cfg.Demod.SpectrumSize, frames)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, audio.WithSpectrum(spectrum))
	}
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return err
		}
		closeWith("udp", sender.Close)
		publisher := udp.NewAudioPublisher(sender, cfg.Transport.UDPQueue)
		publisher.Start()
		// The engine closes its sinks, which stops the publisher.
		engineOpts = append(engineOpts, audio.WithSink(publisher))
	}
	if cfg.Transport.WebSocketEnabled && cfg.Transport.WebSocketAudio {
		engineOpts = append(engineOpts, audio.WithSink(transport.NewAudioFrames(frames, 0)))
	}

	engine, err := audio.NewEngine(t, audio.Config{
		Deviation:        cfg.Demod.Deviation,
		AudioCutoff:      cfg.Demod.AudioCutoff,
		AudioTaps:        cfg.Demod.AudioTaps,
		AudioRate:        cfg.Demod.AudioRate,
		GateThreshold:    cfg.Demod.Squelch,
		GateEnabled:      cfg.Demod.Squelch > 0,
		DispatchInterval: cfg.Dispatch.Interval,
	}, engineOpts...)
	if err != nil {
		return err
	}
	recording := false
	if options.OutputFile != "" {
		cleanup = append(cleanup, func() {
			if !recording {
				return
			}
			fmt.Printf("\nRecording saved to: %s\n", options.OutputFile)
		})
	}
	closeWith("engine", engine.Close)
	engine.Start()

	if options.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(options.OutputFile), 0o755); err != nil {
			return fmt.Errorf("recording directory: %w", err)
		}
		if err := engine.StartRecording(options.OutputFile); err != nil {
			return err
		}
		recording = true
	}

	// CRITICAL: Start of the hot path. The read loop begins handing buffers
	// to the engine's dispatcher.
	if err := t.Start(); err != nil {
		return err
	}
	closeWith("tuner", t.Stop)

	applog.Infof("Receiving %.4f MHz on %s; press Ctrl+C to stop", float64(t.Frequency())/1e6, t.Name())

	// Block until termination signal is received
	<-ctx.Done()
	applog.Infof("Shutting down")
	return nil
}

// applySettings programs a connected tuner from configuration.
func applySettings(t tuner.Tuner, c config.TunerConfig) error {
	result := multierror.Append(nil,
		t.SetFrequencyCorrection(c.PPM),
		t.SetSampleRate(c.SampleRate),
		t.SetFrequency(c.Frequency),
		t.SetAGC(c.AGC),
	)
	if !c.AGC {
		result = multierror.Append(result, t.SetGain(c.Gain))
	}
	return result.ErrorOrNil()
}
