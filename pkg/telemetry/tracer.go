package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys.
var (
	AttrEngineID = attribute.Key("engine.id")
	AttrCommand  = attribute.Key("engine.command")
	AttrOutcome  = attribute.Key("engine.outcome")
	AttrUnit     = attribute.Key("unit.name")
	AttrUnitPath = attribute.Key("unit.path")
	AttrPhase    = attribute.Key("unit.phase")
	AttrSignal   = attribute.Key("signal.name")
)

// exporterFunc builds the span exporter named by TracingConfig.Exporter.
type exporterFunc func(ctx context.Context, cfg TracingConfig, out io.Writer) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFunc{
	"none": func(context.Context, TracingConfig, io.Writer) (sdktrace.SpanExporter, error) {
		return nil, nil
	},
	"stdout": func(_ context.Context, _ TracingConfig, out io.Writer) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	},
	"otlp": func(ctx context.Context, cfg TracingConfig, _ io.Writer) (sdktrace.SpanExporter, error) {
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		return otlptracegrpc.New(ctx, opts...)
	},
}

// Tracer produces one span per run and one per unit phase.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds the tracer provider for cfg. Disabled tracing still yields
// a usable tracer whose spans are never exported. Spans for the stdout
// exporter are written to out.
func NewTracer(ctx context.Context, cfg *Config, out io.Writer) (*Tracer, error) {
	tc := cfg.Tracing
	if !tc.Enabled {
		return NewTracerFromProvider(sdktrace.NewTracerProvider(), cfg.ServiceName), nil
	}

	newExporter, ok := exporters[tc.Exporter]
	if !ok {
		return nil, fmt.Errorf("unsupported trace exporter: %s", tc.Exporter)
	}
	exporter, err := newExporter(ctx, tc, out)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", tc.Exporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(tc.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(tc.ExportTimeout)))
	}
	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return NewTracerFromProvider(provider, cfg.ServiceName), nil
}

// NewTracerFromProvider wraps an existing provider, e.g. one with a test span recorder.
func NewTracerFromProvider(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{provider: provider, tracer: provider.Tracer(name)}
}

// StartRunSpan starts the span covering an engine run.
func (t *Tracer) StartRunSpan(ctx context.Context, engineID, command string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		AttrEngineID.String(engineID),
		AttrCommand.String(command),
	))
}

// StartUnitSpan starts the span for one phase of a unit.
func (t *Tracer) StartUnitSpan(ctx context.Context, engineID, unit, path, phase string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "unit."+phase, trace.WithAttributes(
		AttrEngineID.String(engineID),
		AttrUnit.String(unit),
		AttrUnitPath.String(path),
		AttrPhase.String(phase),
	))
}

// endSpan sets the span status from err and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
