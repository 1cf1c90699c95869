package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

// Kind identifies which lifecycle shape a unit's action has.
type Kind int

const (
	// KindNone marks a unit without an action. Groups are usually of this kind.
	KindNone Kind = iota

	// KindOneShot runs a synchronous action once during initialization.
	KindOneShot

	// KindOneShotAsync runs a context-aware action once during asynchronous initialization.
	KindOneShotAsync

	// KindTwoPhase runs a synchronous setup during initialization and a teardown on exit.
	KindTwoPhase

	// KindTwoPhaseAsync runs a context-aware setup and teardown on the asynchronous path.
	KindTwoPhaseAsync
)

// String returns the kind name used in logs and listings.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindOneShot:
		return "one-shot"
	case KindOneShotAsync:
		return "one-shot-async"
	case KindTwoPhase:
		return "two-phase"
	case KindTwoPhaseAsync:
		return "two-phase-async"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsAsync returns true if the action can only run on the asynchronous path.
func (k Kind) IsAsync() bool {
	return k == KindOneShotAsync || k == KindTwoPhaseAsync
}

// IsTwoPhase returns true if the action registers a teardown.
func (k Kind) IsTwoPhase() bool {
	return k == KindTwoPhase || k == KindTwoPhaseAsync
}

// Teardown is the second phase of a synchronous two-phase action.
type Teardown func(e *Engine) error

// AsyncTeardown is the second phase of an asynchronous two-phase action.
type AsyncTeardown func(ctx context.Context, e *Engine) error

// Action is the work attached to a unit. The zero value is KindNone.
//
// Every setup may return a non-nil *FinalAction. That is a takeover: the engine
// stops initialization and hands control to it.
type Action struct {
	kind          Kind
	oneShot       func(e *Engine) (*FinalAction, error)
	oneShotAsync  func(ctx context.Context, e *Engine) (*FinalAction, error)
	twoPhase      func(e *Engine) (*FinalAction, Teardown, error)
	twoPhaseAsync func(ctx context.Context, e *Engine) (*FinalAction, AsyncTeardown, error)
}

// Kind returns the lifecycle shape of the action.
func (a Action) Kind() Kind {
	return a.kind
}

// OneShot wraps a synchronous action that runs once.
func OneShot(fn func(e *Engine) (*FinalAction, error)) Action {
	return Action{kind: KindOneShot, oneShot: fn}
}

// OneShotAsync wraps a context-aware action that runs once.
func OneShotAsync(fn func(ctx context.Context, e *Engine) (*FinalAction, error)) Action {
	return Action{kind: KindOneShotAsync, oneShotAsync: fn}
}

// TwoPhase wraps a synchronous setup returning its teardown.
func TwoPhase(fn func(e *Engine) (*FinalAction, Teardown, error)) Action {
	return Action{kind: KindTwoPhase, twoPhase: fn}
}

// TwoPhaseAsync wraps a context-aware setup returning its teardown.
func TwoPhaseAsync(fn func(ctx context.Context, e *Engine) (*FinalAction, AsyncTeardown, error)) Action {
	return Action{kind: KindTwoPhaseAsync, twoPhaseAsync: fn}
}

// Do is a one-shot action that never takes over.
func Do(fn func(e *Engine) error) Action {
	return OneShot(func(e *Engine) (*FinalAction, error) {
		return nil, fn(e)
	})
}

// DoAsync is a context-aware one-shot action that never takes over.
func DoAsync(fn func(ctx context.Context, e *Engine) error) Action {
	return OneShotAsync(func(ctx context.Context, e *Engine) (*FinalAction, error) {
		return nil, fn(ctx, e)
	})
}

// Around is a two-phase action that never takes over.
func Around(fn func(e *Engine) (Teardown, error)) Action {
	return TwoPhase(func(e *Engine) (*FinalAction, Teardown, error) {
		td, err := fn(e)
		return nil, td, err
	})
}

// AroundAsync is a context-aware two-phase action that never takes over.
func AroundAsync(fn func(ctx context.Context, e *Engine) (AsyncTeardown, error)) Action {
	return TwoPhaseAsync(func(ctx context.Context, e *Engine) (*FinalAction, AsyncTeardown, error) {
		td, err := fn(ctx, e)
		return nil, td, err
	})
}

// UnitSpec describes a unit before it is built.
type UnitSpec struct {
	Name        string `validate:"required,notblank"`
	Description string

	// Contains lists the members of this unit when it acts as a group.
	Contains []*Unit `validate:"dive,required"`

	// Belongs lists the groups this unit is a member of.
	Belongs []*Unit `validate:"dive,required"`

	// Depends lists units that are selected whenever this unit is selected.
	Depends []*Unit `validate:"dive,required"`

	// Before lists units that must not run until this unit has run.
	Before []*Unit `validate:"dive,required"`

	// After lists units that must run before this unit.
	After []*Unit `validate:"dive,required"`

	// Conflicts lists units that can never be selected together with this one.
	Conflicts []*Unit `validate:"dive,required"`

	// Exclusive allows at most one member of Contains to be scheduled.
	Exclusive bool

	Action Action
}

// Unit is a named node of the dependency graph with an optional lifecycle action.
//
// Relations are ordered and de-duplicated. After registration they only change
// through the reciprocal edges the registry adds when other units register.
type Unit struct {
	name        string
	description string
	path        string

	contains  []*Unit
	belongs   []*Unit
	depends   []*Unit
	before    []*Unit
	after     []*Unit
	conflicts []*Unit

	exclusive bool
	action    Action
}

// NewUnit validates spec and builds a unit from it.
func NewUnit(spec UnitSpec) (*Unit, error) {
	if err := validate.Struct(spec); err != nil {
		return nil, NewPermanentError("invalid unit", err).
			WithCode(ErrCodeValidation).
			WithUnit(spec.Name)
	}

	u := &Unit{
		name:        spec.Name,
		description: spec.Description,
		exclusive:   spec.Exclusive,
		action:      spec.Action,
	}
	u.contains = appendUnique(nil, spec.Contains...)
	u.belongs = appendUnique(nil, spec.Belongs...)
	u.depends = appendUnique(nil, spec.Depends...)
	u.before = appendUnique(nil, spec.Before...)
	u.after = appendUnique(nil, spec.After...)
	u.conflicts = appendUnique(nil, spec.Conflicts...)
	return u, nil
}

// MustNewUnit is like NewUnit but panics if spec is invalid.
// It is meant for package-level unit declarations.
func MustNewUnit(spec UnitSpec) *Unit {
	u, err := NewUnit(spec)
	if err != nil {
		panic(err)
	}
	return u
}

// Name returns the unit name.
func (u *Unit) Name() string { return u.name }

// Description returns the unit description.
func (u *Unit) Description() string { return u.description }

// Path returns the registry path, or an empty string before registration.
func (u *Unit) Path() string { return u.path }

// Exclusive reports whether at most one member of the unit may be scheduled.
func (u *Unit) Exclusive() bool { return u.exclusive }

// Kind returns the lifecycle shape of the unit's action.
func (u *Unit) Kind() Kind { return u.action.kind }

// Contains returns a copy of the unit's members.
func (u *Unit) Contains() []*Unit { return cloneUnits(u.contains) }

// Belongs returns a copy of the groups the unit is a member of.
func (u *Unit) Belongs() []*Unit { return cloneUnits(u.belongs) }

// Depends returns a copy of the unit's selection dependencies.
func (u *Unit) Depends() []*Unit { return cloneUnits(u.depends) }

// Before returns a copy of the units ordered after this one.
func (u *Unit) Before() []*Unit { return cloneUnits(u.before) }

// After returns a copy of the units ordered before this one.
func (u *Unit) After() []*Unit { return cloneUnits(u.after) }

// Conflicts returns a copy of the units that may not be selected with this one.
func (u *Unit) Conflicts() []*Unit { return cloneUnits(u.conflicts) }

// String returns a readable identifier for logs.
func (u *Unit) String() string {
	if u == nil {
		return "<nil>"
	}
	return u.name
}

// exclusiveGroups returns the exclusive groups the unit belongs to.
func (u *Unit) exclusiveGroups() []*Unit {
	var groups []*Unit
	for _, g := range u.belongs {
		if g.exclusive {
			groups = append(groups, g)
		}
	}
	return groups
}

func (u *Unit) conflictsWith(other *Unit) bool {
	return containsUnit(u.conflicts, other) || containsUnit(other.conflicts, u)
}

func containsUnit(units []*Unit, u *Unit) bool {
	for _, x := range units {
		if x == u {
			return true
		}
	}
	return false
}

func appendUnique(units []*Unit, add ...*Unit) []*Unit {
	for _, u := range add {
		if u != nil && !containsUnit(units, u) {
			units = append(units, u)
		}
	}
	return units
}

func removeUnit(units []*Unit, u *Unit) []*Unit {
	for i, x := range units {
		if x == u {
			return append(units[:i:i], units[i+1:]...)
		}
	}
	return units
}

func cloneUnits(units []*Unit) []*Unit {
	if len(units) == 0 {
		return nil
	}
	out := make([]*Unit, len(units))
	copy(out, units)
	return out
}

func sortUnits(units []*Unit) {
	sort.Slice(units, func(i, j int) bool {
		return units[i].name < units[j].name
	})
}
