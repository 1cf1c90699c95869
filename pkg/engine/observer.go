package engine

import (
	"context"
)

// Observer is told about every unit transition and every signal an engine fires.
// The telemetry and journal packages implement it.
type Observer interface {
	// BeginUnit is called before a unit phase runs. The returned function is called
	// with the phase result once it completes. The returned context is passed to
	// async actions.
	BeginUnit(ctx context.Context, e *Engine, u *Unit, phase Phase) (context.Context, func(error))

	// Signal is called before the handlers of a signal run.
	Signal(ctx context.Context, e *Engine, name string)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	OnUnit   func(e *Engine, u *Unit, phase Phase, err error)
	OnSignal func(e *Engine, name string)
}

// BeginUnit implements Observer.
func (o ObserverFuncs) BeginUnit(ctx context.Context, e *Engine, u *Unit, phase Phase) (context.Context, func(error)) {
	return ctx, func(err error) {
		if o.OnUnit != nil {
			o.OnUnit(e, u, phase, err)
		}
	}
}

// Signal implements Observer.
func (o ObserverFuncs) Signal(_ context.Context, e *Engine, name string) {
	if o.OnSignal != nil {
		o.OnSignal(e, name)
	}
}

// beginUnit notifies every observer, innermost last.
func (e *Engine) beginUnit(ctx context.Context, u *Unit, phase Phase) (context.Context, func(error)) {
	observers := e.snapshotObservers()
	if len(observers) == 0 {
		return ctx, func(error) {}
	}

	ends := make([]func(error), 0, len(observers))
	for _, o := range observers {
		var end func(error)
		ctx, end = o.BeginUnit(ctx, e, u, phase)
		if end != nil {
			ends = append(ends, end)
		}
	}
	return ctx, func(err error) {
		for i := len(ends) - 1; i >= 0; i-- {
			ends[i](err)
		}
	}
}

func (e *Engine) notifySignal(ctx context.Context, name string) {
	for _, o := range e.snapshotObservers() {
		o.Signal(ctx, e, name)
	}
}

func (e *Engine) snapshotObservers() []Observer {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Observer, len(e.observers))
	copy(out, e.observers)
	return out
}
