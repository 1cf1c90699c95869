package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// AsyncGroupPath is the registry path of the built-in async group.
const AsyncGroupPath = "engine.async"

// Listener is notified of every unit registered after it was added.
// Engines are listeners: they weakly select new units whose groups they already selected.
type Listener interface {
	AddTarget(u *Unit, force bool) error
}

// Registry maps registration paths to units and owns the listeners notified on registration.
// The process entry point creates one and passes it to every engine.
type Registry struct {
	mu         sync.RWMutex
	units      map[string]*Unit
	order      []*Unit
	listeners  []Listener
	asyncGroup *Unit
	logger     zerolog.Logger
}

// NewRegistry creates a registry holding the built-in async group.
func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{
		units:  make(map[string]*Unit),
		logger: logger.With().Str("component", "registry").Logger(),
	}
	r.asyncGroup = MustNewUnit(UnitSpec{
		Name:        "async",
		Description: "Hands control over to the asynchronous lifecycle",
		Exclusive:   true,
	})
	r.MustRegister(AsyncGroupPath, r.asyncGroup)
	return r
}

// AsyncGroup returns the exclusive group every async unit depends on.
func (r *Registry) AsyncGroup() *Unit {
	return r.asyncGroup
}

// Register adds u under path, normalises relations and notifies listeners.
// Listener errors are returned joined; the unit stays registered.
func (r *Registry) Register(path string, u *Unit) error {
	if path == "" {
		return NewPermanentError("registration path is required", nil).
			WithCode(ErrCodeValidation).
			WithUnit(u.Name())
	}

	r.mu.Lock()
	if existing, ok := r.units[path]; ok {
		r.mu.Unlock()
		return NewPermanentError(fmt.Sprintf("path %q is already taken by unit %s", path, existing.Name()), nil).
			WithCode(ErrCodeDuplicate).
			WithUnit(u.Name()).
			WithOperation("register")
	}
	for _, existing := range r.order {
		if existing == u {
			r.mu.Unlock()
			return NewPermanentError(fmt.Sprintf("unit is already registered at %q", existing.path), nil).
				WithCode(ErrCodeDuplicate).
				WithUnit(u.Name()).
				WithOperation("register")
		}
	}

	u.path = path
	r.units[path] = u
	r.order = append(r.order, u)
	if u.Kind().IsAsync() && r.asyncGroup != nil {
		u.depends = appendUnique(u.depends, r.asyncGroup)
		u.after = appendUnique(u.after, r.asyncGroup)
	}
	normalize(u)

	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	r.logger.Debug().
		Str("unit", u.Name()).
		Str("path", path).
		Int("listeners", len(listeners)).
		Msg("Registered unit")

	var errs []error
	for _, l := range listeners {
		if err := l.AddTarget(u, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(path string, u *Unit) {
	if err := r.Register(path, u); err != nil {
		panic(err)
	}
}

// Lookup returns the unit registered at path.
func (r *Registry) Lookup(path string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.units[path]
	return u, ok
}

// LookupName returns the first registered unit whose name or path equals name.
func (r *Registry) LookupName(name string) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if u, ok := r.units[name]; ok {
		return u, true
	}
	for _, u := range r.order {
		if u.name == name {
			return u, true
		}
	}
	return nil, false
}

// Units returns all registered units in registration order.
func (r *Registry) Units() []*Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneUnits(r.order)
}

// AddListener subscribes l to future registrations.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, l)
}

// RemoveListener unsubscribes l. It returns false if l was not subscribed.
func (r *Registry) RemoveListener(l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// normalize makes the relations of u and its neighbours consistent.
// Running it twice on the same unit changes nothing.
func normalize(u *Unit) {
	for _, member := range u.contains {
		member.belongs = appendUnique(member.belongs, u)
	}

	for _, group := range u.belongs {
		group.contains = appendUnique(group.contains, u)
		u.before = appendUnique(u.before, group.before...)
		u.after = appendUnique(u.after, group.after...)
	}

	// Index loops: members pulled in below are themselves propagated.
	for i := 0; i < len(u.before); i++ {
		other := u.before[i]
		other.after = appendUnique(other.after, u)
		for _, member := range other.contains {
			if member == u {
				continue
			}
			member.after = appendUnique(member.after, u)
			u.before = appendUnique(u.before, member)
		}
	}

	for i := 0; i < len(u.after); i++ {
		other := u.after[i]
		other.before = appendUnique(other.before, u)
		for _, member := range other.contains {
			if member == u {
				continue
			}
			member.before = appendUnique(member.before, u)
			u.after = appendUnique(u.after, member)
		}
	}
}
