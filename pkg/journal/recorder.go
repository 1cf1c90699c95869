package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/unitrun/pkg/engine"
)

var _ engine.Observer = (*Recorder)(nil)

// Recorder writes unit phases of an engine, and of every engine derived from
// it, to a journal. Write failures are logged and never fail a unit.
type Recorder struct {
	journal *Journal
	logger  zerolog.Logger

	mu   sync.Mutex
	runs map[string]string // engine ID -> run ID
}

// NewRecorder creates a recorder writing to j.
func NewRecorder(j *Journal, logger zerolog.Logger) *Recorder {
	return &Recorder{
		journal: j,
		logger:  logger.With().Str("component", "journal").Logger(),
		runs:    make(map[string]string),
	}
}

// StartRun records the start of a run of e.
func (r *Recorder) StartRun(ctx context.Context, e *engine.Engine, command string) (*Run, error) {
	run, err := r.journal.StartRun(ctx, e.ID(), command)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.runs[e.ID()] = run.ID
	r.mu.Unlock()

	r.logger.Debug().
		Str("run_id", run.ID).
		Str("engine_id", e.ID()).
		Str("command", command).
		Msg("Run started")
	return run, nil
}

// FinishRun records how the run of e ended, from e.Outcome and e.Err.
func (r *Recorder) FinishRun(ctx context.Context, e *engine.Engine) error {
	runID, ok := r.runID(e)
	if !ok {
		return fmt.Errorf("engine %s has no run: %w", e.ID(), ErrNotFound)
	}

	status := StatusFromOutcome(e.Outcome())
	if err := r.journal.FinishRun(ctx, runID, status, e.Err()); err != nil {
		return err
	}

	r.mu.Lock()
	for engineID, id := range r.runs {
		if id == runID {
			delete(r.runs, engineID)
		}
	}
	r.mu.Unlock()

	r.logger.Debug().
		Str("run_id", runID).
		Str("status", string(status)).
		Msg("Run finished")
	return nil
}

// RunID returns the run e records to.
func (r *Recorder) RunID(e *engine.Engine) (string, bool) {
	return r.runID(e)
}

// runID resolves the run of e. A derived engine records to the run of the
// engine it was derived from.
func (r *Recorder) runID(e *engine.Engine) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.runs[e.ID()]; ok {
		return id, true
	}
	if parent := e.ParentID(); parent != "" {
		if id, ok := r.runs[parent]; ok {
			r.runs[e.ID()] = id
			return id, true
		}
	}
	return "", false
}

// BeginUnit implements engine.Observer.
func (r *Recorder) BeginUnit(ctx context.Context, e *engine.Engine, u *engine.Unit, phase engine.Phase) (context.Context, func(error)) {
	runID, ok := r.runID(e)
	if !ok {
		return ctx, nil
	}

	ev := &UnitEvent{
		RunID:    runID,
		EngineID: e.ID(),
		Unit:     u.Name(),
		Path:     u.Path(),
		Phase:    phase,
	}

	if phase == engine.PhaseSkipped {
		ev.Outcome = UnitOutcomeSkipped
		r.record(ctx, ev)
		return ctx, nil
	}

	start := time.Now()
	return ctx, func(err error) {
		// The run may have been finished by the unit itself.
		if _, ok := r.runID(e); !ok {
			return
		}
		ev.DurationMS = time.Since(start).Milliseconds()
		ev.Outcome = unitOutcome(err)
		ev.Error = errorText(err)
		r.record(ctx, ev)
	}
}

// Signal implements engine.Observer. Signals are not journaled.
func (r *Recorder) Signal(context.Context, *engine.Engine, string) {}

func (r *Recorder) record(ctx context.Context, ev *UnitEvent) {
	if err := r.journal.RecordUnitEvent(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn().Err(err).
			Str("unit", ev.Unit).
			Str("phase", string(ev.Phase)).
			Msg("Failed to journal unit event")
	}
}

func unitOutcome(err error) UnitOutcome {
	switch {
	case err == nil:
		return UnitOutcomeSucceeded
	case engine.IsStopInit(err):
		return UnitOutcomeStopped
	default:
		return UnitOutcomeFailed
	}
}
