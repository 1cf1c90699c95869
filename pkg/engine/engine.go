package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine selects units, drives them through setup and teardown, and hands
// control to a final action. An engine is driven by a single goroutine; only
// variables, signals and observers may be touched from other goroutines.
type Engine struct {
	id       string
	parentID string
	registry *Registry
	base     zerolog.Logger
	logger   zerolog.Logger

	selected    []*Unit
	blacklisted map[*Unit]struct{}
	iterator    *Iterator
	history     []*Unit
	active      map[*Unit]*instance
	entryPoint  *Unit
	final       *FinalAction
	state       State
	stopped     bool
	failure     error

	vars    *variables
	signals *Signals

	mu        sync.RWMutex
	observers []Observer
}

// Option configures an engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithObserver adds an observer notified of unit transitions and signals.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, o)
	}
}

// WithVariables seeds the variable store.
func WithVariables(vars map[string]any) Option {
	return func(e *Engine) {
		for k, v := range vars {
			e.vars.set(k, v)
		}
	}
}

// New creates an engine bound to reg. Targets are force-selected in order and
// final becomes the final action; either may be empty.
func New(reg *Registry, final *FinalAction, targets []*Unit, opts ...Option) (*Engine, error) {
	e := &Engine{
		id:          uuid.New().String(),
		registry:    reg,
		logger:      zerolog.Nop(),
		blacklisted: make(map[*Unit]struct{}),
		active:      make(map[*Unit]*instance),
		state:       StateIdle,
		vars:        newVariables(),
		signals:     NewSignals(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.base = e.logger
	e.logger = e.base.With().
		Str("component", "engine").
		Str("engine_id", e.id).
		Logger()
	e.iterator = NewIterator(e.logger)

	reg.AddListener(e)

	if final != nil {
		if err := e.SetFinal(final); err != nil {
			reg.RemoveListener(e)
			return nil, err
		}
	}
	if err := e.AddTargets(targets, true); err != nil {
		reg.RemoveListener(e)
		return nil, err
	}
	return e, nil
}

// Detach stops the engine from listening to new registrations.
func (e *Engine) Detach() {
	e.registry.RemoveListener(e)
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() string { return e.id }

// ParentID returns the identifier of the engine this one was derived from.
func (e *Engine) ParentID() string { return e.parentID }

// Registry returns the registry the engine listens to.
func (e *Engine) Registry() *Registry { return e.registry }

// Logger returns the engine logger.
func (e *Engine) Logger() zerolog.Logger { return e.logger }

// Signals returns the engine's signal bus.
func (e *Engine) Signals() *Signals { return e.signals }

// Iterator returns the engine's iterator.
func (e *Engine) Iterator() *Iterator { return e.iterator }

// State returns the lifecycle state.
func (e *Engine) State() State { return e.state }

// EntryPoint returns the unit a derived engine was spawned from, or nil.
func (e *Engine) EntryPoint() *Unit { return e.entryPoint }

// Final returns the final action, or nil.
func (e *Engine) Final() *FinalAction { return e.final }

// Err returns the first failure recorded during this engine's run.
// Teardowns use it to report how the run ended.
func (e *Engine) Err() error { return e.failure }

// Outcome summarises how the run ended so far.
func (e *Engine) Outcome() Outcome {
	switch {
	case e.failure != nil:
		return OutcomeFailed
	case e.stopped:
		return OutcomeStopped
	default:
		return OutcomeSucceeded
	}
}

// AddObserver attaches o for all future transitions.
func (e *Engine) AddObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observers = append(e.observers, o)
}

// RemoveObserver detaches o.
func (e *Engine) RemoveObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.observers {
		if existing == o {
			e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
			return
		}
	}
}

// Selected returns the selected units in selection order.
func (e *Engine) Selected() []*Unit { return cloneUnits(e.selected) }

// History returns the units that ran, oldest first.
func (e *Engine) History() []*Unit { return cloneUnits(e.history) }

// IsSelected reports whether u is selected.
func (e *Engine) IsSelected(u *Unit) bool { return containsUnit(e.selected, u) }

// IsBlacklisted reports whether u is excluded from running.
func (e *Engine) IsBlacklisted(u *Unit) bool {
	_, ok := e.blacklisted[u]
	return ok
}

// Blacklisted returns the blacklisted units sorted by name.
func (e *Engine) Blacklisted() []*Unit {
	out := make([]*Unit, 0, len(e.blacklisted))
	for u := range e.blacklisted {
		out = append(out, u)
	}
	sortUnits(out)
	return out
}

// Ran reports whether u was set up by this engine or the engine it was derived from.
func (e *Engine) Ran(u *Unit) bool {
	_, ok := e.active[u]
	return ok
}

// AddTargets selects every unit in order.
func (e *Engine) AddTargets(units []*Unit, force bool) error {
	for _, u := range units {
		if err := e.AddTarget(u, force); err != nil {
			return err
		}
	}
	return nil
}

// AddTarget selects u. A forced target is always considered; a weak one only
// when one of the groups it belongs to is already selected. Selecting a unit
// also selects everything it depends on or contains. Selecting a member of an
// exclusive group blacklists its siblings that have not run yet.
func (e *Engine) AddTarget(u *Unit, force bool) error {
	if e.IsSelected(u) || e.IsBlacklisted(u) {
		return nil
	}
	if !force && !e.groupSelected(u) {
		return nil
	}

	for _, s := range e.selected {
		if e.IsBlacklisted(s) || !u.conflictsWith(s) {
			continue
		}
		if !force {
			e.logger.Debug().
				Str("unit", u.Name()).
				Str("selected", s.Name()).
				Msg("Skipping unit that conflicts with the selection")
			return nil
		}
		return NewPermanentError(fmt.Sprintf("unit conflicts with selected unit %s", s.Name()), nil).
			WithCode(ErrCodeConflict).
			WithUnit(u.Name()).
			WithOperation("add_target")
	}

	// Siblings still waiting in the iterator are evicted once u is accepted.
	// A sibling that already ran can only exist when u was registered after
	// the group was resolved, and it keeps its place.
	for _, group := range u.exclusiveGroups() {
		for _, member := range group.contains {
			if member == u || !e.IsSelected(member) || e.IsBlacklisted(member) || !e.iterator.isProduced(member) {
				continue
			}
			if force {
				return NewPermanentError(fmt.Sprintf("member %s of exclusive group %s already ran", member.Name(), group.Name()), nil).
					WithCode(ErrCodeConflict).
					WithUnit(u.Name()).
					WithOperation("add_target")
			}
			e.logger.Debug().
				Str("unit", u.Name()).
				Str("group", group.Name()).
				Str("member", member.Name()).
				Msg("Exclusive group member already ran, blacklisting unit")
			e.Blacklist(u)
			return nil
		}
	}

	e.selected = append(e.selected, u)
	e.iterator.AddNode(u)
	e.logger.Debug().
		Str("unit", u.Name()).
		Bool("force", force).
		Msg("Selected unit")

	for _, dep := range u.depends {
		if err := e.AddTarget(dep, force); err != nil {
			return err
		}
	}
	for _, member := range u.contains {
		if err := e.AddTarget(member, force); err != nil {
			return err
		}
	}

	for _, group := range u.exclusiveGroups() {
		for _, other := range group.contains {
			if other == u || e.iterator.isProduced(other) {
				continue
			}
			if err := e.iterator.RemoveNode(other); err != nil {
				return err
			}
			e.Blacklist(other)
			e.selected = removeUnit(e.selected, other)
		}
	}
	return nil
}

// Blacklist excludes u and every unit it contains from running.
// Blacklisted units reached by the iterator are recorded as ran without running.
func (e *Engine) Blacklist(u *Unit) {
	e.blacklisted[u] = struct{}{}
	for _, member := range u.contains {
		e.blacklisted[member] = struct{}{}
	}
	e.logger.Debug().Str("unit", u.Name()).Msg("Blacklisted unit")
}

// SetFinal sets the action run after initialization. Setting it twice is an error.
// An async final action selects the async group.
func (e *Engine) SetFinal(f *FinalAction) error {
	if f == nil {
		return NewPermanentError("final action is nil", nil).WithCode(ErrCodeValidation)
	}
	if e.final != nil {
		return NewPermanentError(fmt.Sprintf("final action %s is already set", e.final.Name()), nil).
			WithCode(ErrCodeTakeoverConflict).
			WithOperation("set_final").
			WithDetail("rejected", f.Name())
	}
	e.final = f
	e.logger.Debug().Str("final", f.Name()).Bool("async", f.IsAsync()).Msg("Set final action")
	if f.IsAsync() {
		return e.AddTarget(e.registry.AsyncGroup(), true)
	}
	return nil
}

// Derive creates an independent engine that continues where this one stands.
// Its teardown stops at the last unit this engine produced.
func (e *Engine) Derive() *Engine {
	d := &Engine{
		id:          uuid.New().String(),
		parentID:    e.id,
		registry:    e.registry,
		selected:    cloneUnits(e.selected),
		blacklisted: make(map[*Unit]struct{}, len(e.blacklisted)),
		iterator:    e.iterator.Copy(),
		history:     cloneUnits(e.history),
		active:      make(map[*Unit]*instance, len(e.active)),
		entryPoint:  e.iterator.Last(),
		final:       e.final,
		state:       StateIdle,
		vars:        e.vars.clone(),
		signals:     e.signals.clone(),
	}
	for u := range e.blacklisted {
		d.blacklisted[u] = struct{}{}
	}
	for u, inst := range e.active {
		d.active[u] = inst
	}
	d.observers = e.snapshotObservers()
	d.base = e.base
	d.logger = e.base.With().
		Str("component", "engine").
		Str("engine_id", d.id).
		Str("parent_id", e.id).
		Logger()
	d.iterator.logger = d.logger.With().Str("component", "iterator").Logger()

	e.registry.AddListener(d)
	e.logger.Debug().Str("derived_id", d.id).Msg("Derived engine")
	return d
}

func (e *Engine) groupSelected(u *Unit) bool {
	for _, g := range u.belongs {
		if e.IsSelected(g) {
			return true
		}
	}
	return false
}

func (e *Engine) setState(s State) {
	e.logger.Debug().Str("from", string(e.state)).Str("to", string(s)).Msg("State changed")
	e.state = s
}

func (e *Engine) fail(err error) {
	if err != nil && e.failure == nil {
		e.failure = err
	}
}
