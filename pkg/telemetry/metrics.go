package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics records deployment metrics in its own Prometheus registry.
// A Metrics built from a disabled config, or a nil *Metrics, records nothing.
type Metrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	installs        *prometheus.CounterVec
	installDuration *prometheus.HistogramVec
	activeInstalls  prometheus.Gauge
	sourceAttempts  *prometheus.CounterVec
	detections      *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	errorsByClass   *prometheus.CounterVec
	errorsByCode    *prometheus.CounterVec
}

// NewMetrics registers the deployment collectors when cfg is enabled.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	m := &Metrics{config: cfg}
	if !cfg.Enabled {
		return m, nil
	}

	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: cfg.Namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: cfg.Namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}

	m.installs = counter("installs_total", "Install requests by artifact and outcome.", "artifact", "status")
	m.installDuration = histogram("install_duration_seconds", "Install request duration.", "status")
	m.activeInstalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Name:      "active_installs",
		Help:      "Install requests in flight.",
	})
	m.sourceAttempts = counter("source_attempts_total", "Package source attempts by result.", "source", "result")
	m.detections = counter("os_detections_total", "Host OS detections by variant.", "variant")
	m.fetchDuration = histogram("resource_fetch_duration_seconds", "Time to place resources on a host.", "platform", "status")
	m.errorsByClass = counter("errors_by_class_total", "Errors by class.", "class")
	m.errorsByCode = counter("errors_by_code_total", "Errors by code.", "code")

	m.registry = prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		m.installs, m.installDuration, m.activeInstalls, m.sourceAttempts,
		m.detections, m.fetchDuration, m.errorsByClass, m.errorsByCode,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// NopMetrics returns a disabled metrics recorder.
func NopMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordInstallStarted marks an install request as in flight.
func (m *Metrics) RecordInstallStarted() {
	if m.enabled() {
		m.activeInstalls.Inc()
	}
}

// RecordInstallCompleted ends an in-flight install request.
func (m *Metrics) RecordInstallCompleted(artifact, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.installs.WithLabelValues(artifact, status).Inc()
	m.installDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeInstalls.Dec()
}

func (m *Metrics) RecordSourceAttempt(source, result string) {
	if m.enabled() {
		m.sourceAttempts.WithLabelValues(source, result).Inc()
	}
}

// RecordDetection counts a detection; variant is "unsupported" when nothing matched.
func (m *Metrics) RecordDetection(variant string) {
	if m.enabled() {
		m.detections.WithLabelValues(variant).Inc()
	}
}

func (m *Metrics) RecordFetch(platform, status string, duration time.Duration) {
	if m.enabled() {
		m.fetchDuration.WithLabelValues(platform, status).Observe(duration.Seconds())
	}
}

// RecordError counts an error by class, and by code when code is set.
func (m *Metrics) RecordError(class, code string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errorsByCode.WithLabelValues(code).Inc()
	}
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer measures elapsed time from its creation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler serves the registry in the OpenMetrics format.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves Handler on the configured address in the
// background. Without a listen address it does nothing.
func (m *Metrics) StartMetricsServer() error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server stopped")
		}
	}()

	return nil
}
