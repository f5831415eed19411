package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config selects what froyo-deploy records and where it goes.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string

	// Format is console (human readable) or json.
	Format string

	// Output is stderr, stdout or a file path opened for append.
	Output string

	EnableCaller bool

	// TimeFormat is rfc3339, unix, unixms or kitchen (console only).
	TimeFormat string
}

// TracingConfig configures OpenTelemetry spans.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp (gRPC), stdout or none. With none, spans are
	// sampled but never leave the process.
	Exporter string

	// Endpoint is the collector address for the otlp exporter.
	Endpoint     string
	SamplingRate float64

	ExportTimeout time.Duration
	Headers       map[string]string

	// Insecure dials the collector without TLS.
	Insecure bool
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path over HTTP when set. Empty means metrics
	// are collected in-process only.
	ListenAddress string
	Path          string
	Namespace     string

	// Buckets are the latency histogram buckets in seconds.
	Buckets []float64
}

var (
	logLevels  = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats = []string{"console", "json"}
	exporters  = []string{"otlp", "stdout", "none"}
)

// DefaultConfig returns console logging at info, metrics collected but not
// served, and tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "froyo-deploy",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Headers:       map[string]string{},
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "froyo_deploy",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format %q (console or json)", c.Logging.Format))
	}

	if c.Tracing.Enabled {
		switch {
		case !slices.Contains(exporters, c.Tracing.Exporter):
			errs = append(errs, fmt.Errorf("invalid trace exporter %q", c.Tracing.Exporter))
		case c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "":
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate %g is outside [0, 1]", c.Tracing.SamplingRate))
	}

	return errors.Join(errs...)
}
