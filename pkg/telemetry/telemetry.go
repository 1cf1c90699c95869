package telemetry

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Telemetry bundles logging, tracing, metrics and events for one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// Option customizes NewTelemetry.
type Option func(*options)

type options struct {
	ctx    context.Context
	logger *zerolog.Logger
	out    io.Writer
}

// WithLogger derives the telemetry logger from logger instead of creating one
// on stderr.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithOutput sets where the stdout span exporter writes.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithContext sets the context used while creating exporters.
func WithContext(ctx context.Context) Option {
	return func(o *options) { o.ctx = ctx }
}

// NewTelemetry validates cfg and creates every component.
func NewTelemetry(cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{ctx: context.Background(), out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	logger := NewLoggerTo(os.Stderr, cfg.Logging)
	if o.logger != nil {
		logger = NewLogger(*o.logger, cfg.Logging)
	}

	tracer, err := NewTracer(o.ctx, cfg, o.out)
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, errors.Join(err, tracer.Shutdown(o.ctx))
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, errors.Join(err, tracer.Shutdown(o.ctx))
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Observer returns an engine observer backed by every component.
func (t *Telemetry) Observer() *Observer {
	return NewObserver(t.Logger.NewComponentLogger("engine"), t.Tracer, t.Metrics, t.Events)
}

// Shutdown drains the event publisher, then flushes and stops the tracer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}
