package engine

import (
	"context"
	"errors"
	"time"
)

type instanceState int

const (
	notStarted instanceState = iota
	awaitingTeardown
	finished
)

// instance tracks one unit through setup and teardown.
type instance struct {
	unit          *Unit
	state         instanceState
	teardown      Teardown
	asyncTeardown AsyncTeardown
}

func (i *instance) hasTeardown() bool {
	return i.teardown != nil || i.asyncTeardown != nil
}

// Init sets up every selected unit in dependency order. It returns the takeover
// a unit handed back, or nil when the iterator ran dry or a unit stopped
// initialization. Stopping clears the final action.
func (e *Engine) Init() (*FinalAction, error) {
	return e.init(context.Background(), false)
}

// InitAsync is Init on the asynchronous path. Async actions receive ctx and
// units that already ran, typically in the engine this one was derived from,
// are skipped.
func (e *Engine) InitAsync(ctx context.Context) (*FinalAction, error) {
	return e.init(ctx, true)
}

func (e *Engine) init(ctx context.Context, async bool) (*FinalAction, error) {
	e.setState(StateInitializing)
	start := time.Now()

	if !async {
		if err := e.checkSyncSelection(); err != nil {
			e.fail(err)
			return nil, err
		}
	}

	for {
		if async {
			if err := ctx.Err(); err != nil {
				e.fail(err)
				return nil, err
			}
		}

		u, err := e.iterator.Next()
		if err != nil {
			e.fail(err)
			return nil, err
		}
		if u == nil {
			break
		}
		if e.Ran(u) {
			e.logger.Debug().Str("unit", u.Name()).Msg("Unit already ran")
			continue
		}

		takeover, err := e.setup(ctx, u, async)
		if err != nil {
			if IsStopInit(err) {
				e.logger.Debug().Str("unit", u.Name()).Err(err).Msg("Unit stopped initialization")
				e.final = nil
				e.stopped = true
				e.setState(StateStopped)
				return nil, nil
			}
			e.fail(err)
			return nil, err
		}
		if takeover != nil {
			e.logger.Debug().
				Str("unit", u.Name()).
				Str("takeover", takeover.Name()).
				Msg("Unit took over")
			e.setState(StateReady)
			return takeover, nil
		}
	}

	e.logger.Debug().
		Int("units", len(e.history)).
		Dur("duration", time.Since(start)).
		Msg("Initialization complete")
	e.setState(StateReady)
	return nil, nil
}

// checkSyncSelection fails when an async unit is selected and no member of the
// async group can take the run over before it is reached.
func (e *Engine) checkSyncSelection() error {
	for _, m := range e.registry.AsyncGroup().contains {
		if e.IsSelected(m) && !e.IsBlacklisted(m) && !m.Kind().IsAsync() {
			return nil
		}
	}
	for _, u := range e.selected {
		if !u.Kind().IsAsync() || e.IsBlacklisted(u) || e.Ran(u) {
			continue
		}
		return NewPermanentError("async unit selected for the synchronous path", nil).
			WithCode(ErrCodeAsyncInSync).
			WithUnit(u.Name()).
			WithOperation("init")
	}
	return nil
}

// setup runs the first phase of u and records it. Failed units are not recorded.
func (e *Engine) setup(ctx context.Context, u *Unit, async bool) (*FinalAction, error) {
	inst := &instance{unit: u}

	if e.IsBlacklisted(u) {
		_, end := e.beginUnit(ctx, u, PhaseSkipped)
		end(nil)
		e.logger.Debug().Str("unit", u.Name()).Msg("Unit is blacklisted")
		e.record(inst)
		return nil, nil
	}

	a := u.action
	if a.kind.IsAsync() && !async {
		return nil, NewPermanentError("async unit reached on the synchronous path", nil).
			WithCode(ErrCodeAsyncInSync).
			WithUnit(u.Name()).
			WithOperation("setup")
	}

	ctx, end := e.beginUnit(ctx, u, PhaseSetup)
	var (
		takeover *FinalAction
		err      error
	)
	switch a.kind {
	case KindNone:
	case KindOneShot:
		takeover, err = a.oneShot(e)
	case KindOneShotAsync:
		takeover, err = a.oneShotAsync(ctx, e)
	case KindTwoPhase:
		takeover, inst.teardown, err = a.twoPhase(e)
	case KindTwoPhaseAsync:
		takeover, inst.asyncTeardown, err = a.twoPhaseAsync(ctx, e)
	}
	end(err)
	if err != nil {
		return nil, err
	}

	e.record(inst)
	e.logger.Debug().
		Str("unit", u.Name()).
		Str("kind", a.kind.String()).
		Bool("teardown", inst.hasTeardown()).
		Msg("Unit set up")
	return takeover, nil
}

func (e *Engine) record(inst *instance) {
	inst.state = awaitingTeardown
	e.active[inst.unit] = inst
	e.history = append(e.history, inst.unit)
}

// Exit tears down every unit that ran, newest first. A derived engine stops at
// the unit it was derived from. Teardown errors are logged, the remaining
// teardowns still run and all errors are returned joined.
func (e *Engine) Exit() error {
	return e.exit(context.Background(), false)
}

// ExitAsync is Exit on the asynchronous path. Teardowns run even when ctx is
// already cancelled.
func (e *Engine) ExitAsync(ctx context.Context) error {
	return e.exit(context.WithoutCancel(ctx), true)
}

func (e *Engine) exit(ctx context.Context, async bool) error {
	e.setState(StateTearingDown)

	var errs []error
	for len(e.history) > 0 {
		u := e.history[len(e.history)-1]
		if u == e.entryPoint {
			break
		}
		e.history = e.history[:len(e.history)-1]

		inst := e.active[u]
		delete(e.active, u)
		if err := e.teardown(ctx, inst, async); err != nil {
			e.logger.Error().Err(err).Str("unit", u.Name()).Msg("Teardown failed")
			e.fail(err)
			errs = append(errs, err)
		}
	}

	e.setState(StateExited)
	return errors.Join(errs...)
}

func (e *Engine) teardown(ctx context.Context, inst *instance, async bool) error {
	if inst == nil || inst.state != awaitingTeardown {
		return nil
	}
	defer func() { inst.state = finished }()

	if !inst.hasTeardown() {
		return nil
	}
	if inst.asyncTeardown != nil && !async {
		return NewPermanentError("async teardown reached on the synchronous path", nil).
			WithCode(ErrCodeAsyncInSync).
			WithUnit(inst.unit.Name()).
			WithOperation("teardown")
	}

	ctx, end := e.beginUnit(ctx, inst.unit, PhaseTeardown)
	var err error
	if inst.asyncTeardown != nil {
		err = inst.asyncTeardown(ctx, e)
	} else {
		err = inst.teardown(e)
	}
	end(err)
	if err == nil {
		e.logger.Debug().Str("unit", inst.unit.Name()).Msg("Unit torn down")
	}
	return err
}
