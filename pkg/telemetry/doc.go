// Package telemetry provides observability for unitrun engines.
//
// The package integrates structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and event publishing, and exposes them to the engine
// through a single engine.Observer implementation.
//
// # Architecture
//
// The telemetry system is built on four pillars:
//
//  1. Structured Logging - zerolog loggers scoped by component, engine and unit
//  2. Tracing - one span per run and one per unit phase
//  3. Metrics Collection - Prometheus counters and histograms for runs, units and signals
//  4. Event Publishing - inline or buffered lifecycle events for audit and notifications
//
// # Usage
//
// Initialize telemetry once and attach its observer to the root engine:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg, telemetry.WithLogger(log.Logger))
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	e, err := engine.New(reg, nil, targets,
//	    engine.WithLogger(tel.Logger.Zerolog()),
//	    engine.WithObserver(tel.Observer()))
//
// Derived engines inherit the observer, so worker engines are reported too.
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("units")
//	logger.WithEngineID(e.ID()).WithUnit(u.Name(), u.Path()).Info().Msg("Unit ready")
//
// VerbosityLevel maps the -v count of the command line to a zerolog level.
//
// # Tracing
//
// Spans are named engine.run, unit.setup and unit.teardown. Unit spans carry
// the engine.id, unit.name, unit.path and unit.phase attributes; async units
// receive the span context through their ctx argument. Signals fired while a
// span is recording are added as span events.
//
// Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// Available metrics (prefixed with the configured namespace):
//
//   - runs_started_total{command}
//   - runs_completed_total{outcome}
//   - run_duration_seconds{outcome}
//   - unit_phases_total{unit,phase,status}
//   - unit_phase_duration_seconds{unit,phase}
//   - active_units
//   - selected_units
//   - signals_fired_total{signal}
//   - errors_total{class,code}
//   - active_runs
//
// Metrics.NewServer returns an *http.Server for the endpoint; the caller owns
// its lifecycle.
//
// # Events
//
// Event types: run.started, run.completed, unit.started, unit.completed,
// unit.failed, unit.skipped, signal.fired, policy.decision.
//
//	tel.Events.Subscribe(func(ev telemetry.Event) {
//	    fmt.Println(ev.Type, ev.Unit)
//	}, telemetry.FilterByLevel(telemetry.EventLevelError))
//
// With Async set, events are buffered and delivered from a background
// goroutine; a full buffer drops the event. Otherwise subscribers run inline.
//
// # Thread Safety
//
// All types are safe for concurrent use. Subscribers and filters must not
// block when async delivery is disabled, since they run on the engine goroutine.
package telemetry
