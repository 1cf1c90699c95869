package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/unitrun/pkg/engine"
)

// Observer reports engine activity as logs, spans, metrics and events.
// Attach it with engine.WithObserver or Engine.AddObserver.
type Observer struct {
	logger  *Logger
	tracer  *Tracer
	metrics *Metrics
	events  *EventPublisher
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer. Nil components are skipped.
func NewObserver(logger *Logger, tracer *Tracer, metrics *Metrics, events *EventPublisher) *Observer {
	return &Observer{
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		events:  events,
	}
}

// BeginUnit implements engine.Observer.
func (o *Observer) BeginUnit(ctx context.Context, e *engine.Engine, u *engine.Unit, phase engine.Phase) (context.Context, func(error)) {
	if phase == engine.PhaseSkipped {
		if o.metrics != nil {
			o.metrics.RecordUnitPhase(u.Name(), string(phase), "skipped", 0)
		}
		if o.events != nil {
			_ = o.events.PublishUnitSkipped(e.ID(), u.Name())
		}
		return ctx, nil
	}

	timer := NewTimer()
	var end func(error)
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartUnitSpan(ctx, e.ID(), u.Name(), u.Path(), string(phase))
		end = func(err error) { endSpan(span, err) }
	}
	if o.events != nil {
		_ = o.events.PublishUnitStarted(e.ID(), u.Name(), string(phase))
	}

	return ctx, func(err error) {
		duration := timer.Duration()
		status := unitStatus(err)

		if o.metrics != nil {
			o.metrics.RecordUnitPhase(u.Name(), string(phase), status, duration)
			if status == "failed" {
				o.metrics.RecordError(classify(err))
			}
		}
		if o.events != nil {
			if status == "failed" {
				_ = o.events.PublishUnitFailed(e.ID(), u.Name(), string(phase), err.Error())
			} else {
				_ = o.events.PublishUnitCompleted(e.ID(), u.Name(), string(phase), duration)
			}
		}
		if o.logger != nil {
			log := o.logger.WithEngineID(e.ID()).WithUnit(u.Name(), u.Path())
			if status == "failed" {
				log.Error().Err(err).Str("phase", string(phase)).Msg("Unit failed")
			} else {
				log.Debug().Str("phase", string(phase)).Str("status", status).Dur("duration", duration).Msg("Unit finished")
			}
		}
		if end != nil {
			end(err)
		}
	}
}

// Signal implements engine.Observer.
func (o *Observer) Signal(ctx context.Context, e *engine.Engine, name string) {
	if o.metrics != nil {
		o.metrics.RecordSignal(name)
	}
	if o.events != nil {
		_ = o.events.PublishSignal(e.ID(), name)
	}
	if o.tracer != nil {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.AddEvent("signal", trace.WithAttributes(AttrSignal.String(name)))
		}
	}
}

// BeginRun starts run level telemetry for e. The returned function reads the
// engine outcome and must be called once the run has been torn down.
func (o *Observer) BeginRun(ctx context.Context, e *engine.Engine, command string) (context.Context, func()) {
	timer := NewTimer()
	selected := len(e.Selected())

	if o.metrics != nil {
		o.metrics.RecordRunStarted(command, selected)
	}
	if o.events != nil {
		_ = o.events.PublishRunStarted(e.ID(), command, selected)
	}

	var span trace.Span
	if o.tracer != nil {
		ctx, span = o.tracer.StartRunSpan(ctx, e.ID(), command)
	}

	return ctx, func() {
		outcome := string(e.Outcome())
		if o.metrics != nil {
			o.metrics.RecordRunCompleted(outcome, timer.Duration())
		}
		if o.events != nil {
			_ = o.events.PublishRunCompleted(e.ID(), outcome, timer.Duration())
		}
		if span != nil {
			span.SetAttributes(AttrOutcome.String(outcome))
			endSpan(span, e.Err())
		}
	}
}

func unitStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case engine.IsStopInit(err):
		return "stopped"
	default:
		return "failed"
	}
}

// classify returns the class and code of an engine error, or empty strings.
func classify(err error) (string, string) {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return string(ee.Class), ee.Code
	}
	return "", ""
}
