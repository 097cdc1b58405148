// SPDX-License-Identifier: MIT
//
// Package metrics exposes pipeline counters to Prometheus. A *Metrics value
// plugs directly into the tuner read loop, the dispatcher and the
// demodulation engine as their observer.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	applog "radio/internal/log"
	"radio/internal/tuner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// Metrics holds every collector the radio exports.
type Metrics struct {
	TunerBuffers      *prometheus.CounterVec
	TunerBytes        *prometheus.CounterVec
	TunerReadTimeouts *prometheus.CounterVec
	TunerReadErrors   *prometheus.CounterVec
	TunerState        *prometheus.GaugeVec

	DispatchDelivered     *prometheus.CounterVec
	DispatchFaults        *prometheus.CounterVec
	DispatchLastHeartbeat *prometheus.GaugeVec

	DemodSamples prometheus.Counter
	SquelchGated prometheus.Counter

	registry *prometheus.Registry
}

// New creates the collectors and registers them with registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register radio metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	tunerLabel := []string{"tuner"}
	dispatcherLabel := []string{"dispatcher"}

	m.TunerBuffers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_tuner_buffers_total",
		Help: "Sample buffers delivered by the tuner read loop",
	}, tunerLabel)
	m.TunerBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_tuner_bytes_total",
		Help: "Raw bytes read from the tuner bulk endpoint",
	}, tunerLabel)
	m.TunerReadTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_tuner_read_timeouts_total",
		Help: "Bulk reads that timed out without data",
	}, tunerLabel)
	m.TunerReadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_tuner_read_errors_total",
		Help: "Bulk reads that failed and ended the stream",
	}, tunerLabel)
	m.TunerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radio_tuner_state",
		Help: "Current tuner state (0 disconnected, 1 connected, 2 running, 3 error)",
	}, tunerLabel)

	m.DispatchDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_dispatch_delivered_total",
		Help: "Elements handed to the dispatcher listener without fault",
	}, dispatcherLabel)
	m.DispatchFaults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_dispatch_faults_total",
		Help: "Listener or heartbeat faults recovered by the dispatcher",
	}, dispatcherLabel)
	m.DispatchLastHeartbeat = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "radio_dispatch_last_heartbeat_seconds",
		Help: "Unix time of the last completed dispatcher cycle",
	}, dispatcherLabel)

	m.DemodSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_demod_samples_total",
		Help: "Audio samples produced by the FM demodulator",
	})
	m.SquelchGated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "radio_squelch_gated_total",
		Help: "Buffers suppressed by the squelch gate",
	})
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TunerBuffers, m.TunerBytes, m.TunerReadTimeouts, m.TunerReadErrors, m.TunerState,
		m.DispatchDelivered, m.DispatchFaults, m.DispatchLastHeartbeat,
		m.DemodSamples, m.SquelchGated,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// BufferRead records one delivered tuner buffer.
func (m *Metrics) BufferRead(id string, bytes int) {
	m.TunerBuffers.WithLabelValues(id).Inc()
	m.TunerBytes.WithLabelValues(id).Add(float64(bytes))
}

// ReadTimeout records a bulk read timeout.
func (m *Metrics) ReadTimeout(id string) {
	m.TunerReadTimeouts.WithLabelValues(id).Inc()
}

// ReadError records a failed bulk read.
func (m *Metrics) ReadError(id string) {
	m.TunerReadErrors.WithLabelValues(id).Inc()
}

// TunerStateChanged has the shape of tuner.StatusListener.
func (m *Metrics) TunerStateChanged(id string, _, to tuner.State) {
	m.TunerState.WithLabelValues(id).Set(float64(to))
}

// Delivered implements dispatch.Observer.
func (m *Metrics) Delivered(dispatcher string) {
	m.DispatchDelivered.WithLabelValues(dispatcher).Inc()
}

// Faulted implements dispatch.Observer.
func (m *Metrics) Faulted(dispatcher string) {
	m.DispatchFaults.WithLabelValues(dispatcher).Inc()
}

// Heartbeat implements dispatch.Observer.
func (m *Metrics) Heartbeat(dispatcher string, at time.Time) {
	m.DispatchLastHeartbeat.WithLabelValues(dispatcher).Set(float64(at.UnixNano()) / 1e9)
}

// SamplesDemodulated records audio output of the engine.
func (m *Metrics) SamplesDemodulated(n int) {
	m.DemodSamples.Add(float64(n))
}

// BufferGated records a buffer suppressed by squelch.
func (m *Metrics) BufferGated() {
	m.SquelchGated.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

// Serve starts an HTTP server for the metrics endpoint on addr.
func (m *Metrics) Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, m.Handler())
	s := &Server{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		addr: ln.Addr(),
		done: make(chan struct{}),
	}

	applog.Infof("Metrics: Serving http://%s%s", s.addr, metricsPath)
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("Metrics: Server error: %v", err)
		}
	}()
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close stops the server and waits for it to exit.
func (s *Server) Close() error {
	err := s.srv.Close()
	<-s.done
	return err
}
