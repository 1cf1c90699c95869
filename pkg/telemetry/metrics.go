package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for engine runs and unit phases.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Unit metrics
	unitPhases    *prometheus.CounterVec
	unitDuration  *prometheus.HistogramVec
	activeUnits   prometheus.Gauge
	selectedUnits prometheus.Gauge

	// Signal metrics
	signalsFired *prometheus.CounterVec

	// Error metrics
	errorsByCode *prometheus.CounterVec

	activeRuns prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the collectors on a registry of their own, next to the
// Go runtime and process collectors. Disabled metrics record nothing.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: cfg.Namespace})); err != nil {
		return nil, err
	}

	f := promauto.With(registry)
	ns := cfg.Namespace
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}

	return &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted:   counter("runs_started_total", "Engine runs started, by command", "command"),
		runsCompleted: counter("runs_completed_total", "Engine runs completed, by outcome", "outcome"),
		runDuration:   histogram("run_duration_seconds", "Duration of engine runs in seconds", "outcome"),
		activeRuns:    gauge("active_runs", "Engine runs currently in progress"),

		unitPhases:    counter("unit_phases_total", "Unit phases run, by unit, phase and status", "unit", "phase", "status"),
		unitDuration:  histogram("unit_phase_duration_seconds", "Duration of unit setup and teardown in seconds", "unit", "phase"),
		activeUnits:   gauge("active_units", "Units that completed setup and await teardown"),
		selectedUnits: gauge("selected_units", "Units selected by the most recent engine"),

		signalsFired: counter("signals_fired_total", "Signals fired, by name", "signal"),
		errorsByCode: counter("errors_total", "Unit errors by class and code", "class", "code"),
	}, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(command string, selected int) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(command).Inc()
	m.selectedUnits.Set(float64(selected))
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its outcome and duration.
func (m *Metrics) RecordRunCompleted(outcome string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Unit Metrics

// RecordUnitPhase records one setup, teardown or skip of a unit.
func (m *Metrics) RecordUnitPhase(unit, phase, status string, duration time.Duration) {
	if m.unitPhases == nil {
		return
	}
	m.unitPhases.WithLabelValues(unit, phase, status).Inc()
	m.unitDuration.WithLabelValues(unit, phase).Observe(duration.Seconds())

	if status != "success" {
		return
	}
	switch phase {
	case "setup":
		m.activeUnits.Inc()
	case "teardown":
		m.activeUnits.Dec()
	}
}

// Signal Metrics

// RecordSignal counts a fired signal.
func (m *Metrics) RecordSignal(signal string) {
	if m.signalsFired == nil {
		return
	}
	m.signalsFired.WithLabelValues(signal).Inc()
}

// Error Metrics

// RecordError records an error by class and code. Either may be empty.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByCode == nil {
		return
	}
	m.errorsByCode.WithLabelValues(errorClass, errorCode).Inc()
}

// Registry returns the registry the collectors are registered with, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures the duration of a phase.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewServer returns an HTTP server exposing the metrics endpoint on addr.
// An empty path defaults to /metrics. The caller starts and shuts it down.
func (m *Metrics) NewServer(addr, path string) *http.Server {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
