package telemetry

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains the telemetry configuration for a unitrun process.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string `validate:"required"`

	// ServiceVersion is the version of the binary.
	ServiceVersion string `validate:"required"`

	// Environment is attached to every span resource.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the telemetry logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`
}

// TracingConfig configures unit phase tracing.
type TracingConfig struct {
	Enabled bool

	// Exporter is one of otlp, stdout or none.
	Exporter string `validate:"required_if=Enabled true,omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP collector endpoint. Empty uses the exporter default.
	Endpoint string

	SamplingRate  float64       `validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `validate:"gte=0"`

	// Headers are sent with every OTLP export.
	Headers  map[string]string
	Insecure bool
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool

	// Path is where the metrics handler is mounted.
	Path      string    `validate:"required_if=Enabled true,omitempty,startswith=/"`
	Namespace string    `validate:"required_if=Enabled true"`
	Buckets   []float64 `validate:"dive,gt=0"`
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled bool

	// Async delivers events from a background goroutine through a buffer
	// of BufferSize events, at most MaxBatchSize at a time.
	Async        bool
	BufferSize   int `validate:"required_if=Async true,gte=0"`
	MaxBatchSize int `validate:"gte=0"`
}

var validate = validator.New()

// DefaultConfig returns the configuration used when nothing is overridden:
// metrics and synchronous events on, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "unitrun",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "unitrun",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   256,
			MaxBatchSize: 32,
		},
	}
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
