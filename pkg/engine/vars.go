package engine

import (
	"fmt"
	"io"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"text/tabwriter"
)

// variables is the engine's string-keyed store.
type variables struct {
	mu     sync.RWMutex
	values map[string]any
}

func newVariables() *variables {
	return &variables{values: make(map[string]any)}
}

func (v *variables) get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	val, ok := v.values[key]
	return val, ok
}

func (v *variables) set(key string, val any) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.values[key] = val
}

func (v *variables) clone() *variables {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := newVariables()
	for k, val := range v.values {
		out.values[k] = val
	}
	return out
}

// Lookup returns the variable stored under key.
func (e *Engine) Lookup(key string) (any, bool) {
	return e.vars.get(key)
}

// Get returns the variable stored under key, or def when it is unset.
func (e *Engine) Get(key string, def any) any {
	if val, ok := e.vars.get(key); ok {
		return val
	}
	return def
}

// Set stores val under key.
func (e *Engine) Set(key string, val any) {
	e.vars.set(key, val)
}

// SetAll stores every entry of vals.
func (e *Engine) SetAll(vals map[string]any) {
	e.vars.mu.Lock()
	defer e.vars.mu.Unlock()

	for k, val := range vals {
		e.vars.values[k] = val
	}
}

// Has reports whether key is set.
func (e *Engine) Has(key string) bool {
	_, ok := e.vars.get(key)
	return ok
}

// Delete removes key.
func (e *Engine) Delete(key string) {
	e.vars.mu.Lock()
	defer e.vars.mu.Unlock()

	delete(e.vars.values, key)
}

// Len returns the number of stored variables.
func (e *Engine) Len() int {
	e.vars.mu.RLock()
	defer e.vars.mu.RUnlock()

	return len(e.vars.values)
}

// Variables returns a copy of the store.
func (e *Engine) Variables() map[string]any {
	e.vars.mu.RLock()
	defer e.vars.mu.RUnlock()

	out := make(map[string]any, len(e.vars.values))
	for k, val := range e.vars.values {
		out[k] = val
	}
	return out
}

// Var is a typed, documented accessor for one engine variable.
type Var[T any] struct {
	name        string
	description string
	def         T
	hasDefault  bool
	source      string
}

// VarOption configures a Var.
type VarOption[T any] func(*Var[T])

// Default sets the value returned when the variable is unset.
func Default[T any](v T) VarOption[T] {
	return func(x *Var[T]) {
		x.def = v
		x.hasDefault = true
	}
}

// NewVar declares a variable in set. It panics if the name is already declared,
// since declarations happen once at package initialization.
func NewVar[T any](set *VarSet, name, description string, opts ...VarOption[T]) *Var[T] {
	v := &Var[T]{name: name, description: description}
	for _, opt := range opts {
		opt(v)
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		v.source = fmt.Sprintf("%s:%d", file, line)
	}
	if err := set.add(v); err != nil {
		panic(err)
	}
	return v
}

// Name returns the variable key.
func (v *Var[T]) Name() string { return v.name }

// Description returns the variable documentation.
func (v *Var[T]) Description() string { return v.description }

// Default returns the default value and whether one was declared.
func (v *Var[T]) Default() (T, bool) { return v.def, v.hasDefault }

// Get reads the variable from e. Unset variables without default fail with a
// not-set error; values of another type fail with a validation error.
// Numeric values are converted when possible since config files decode
// numbers with their own widths.
func (v *Var[T]) Get(e *Engine) (T, error) {
	var zero T
	raw, ok := e.Lookup(v.name)
	if !ok {
		if v.hasDefault {
			return v.def, nil
		}
		return zero, NewPermanentError(fmt.Sprintf("variable %s is not set", v.name), nil).
			WithCode(ErrCodeNotSet).
			WithOperation("get").
			WithDetail("variable", v.name)
	}
	if val, ok := raw.(T); ok {
		return val, nil
	}
	if val, ok := convertNumber[T](raw); ok {
		return val, nil
	}
	return zero, NewPermanentError(
		fmt.Sprintf("variable %s holds %T, expected %s", v.name, raw, reflect.TypeFor[T]()), nil).
		WithCode(ErrCodeValidation).
		WithOperation("get").
		WithDetail("variable", v.name)
}

// MustGet is like Get but panics on error.
func (v *Var[T]) MustGet(e *Engine) T {
	val, err := v.Get(e)
	if err != nil {
		panic(err)
	}
	return val
}

// Set stores val in e.
func (v *Var[T]) Set(e *Engine, val T) {
	e.Set(v.name, val)
}

func (v *Var[T]) typeName() string {
	return reflect.TypeFor[T]().String()
}

func (v *Var[T]) defaultString() (string, bool) {
	if !v.hasDefault {
		return "", false
	}
	return fmt.Sprintf("%v", v.def), true
}

func (v *Var[T]) declaredAt() string { return v.source }

func convertNumber[T any](raw any) (T, bool) {
	var zero T
	target := reflect.TypeFor[T]()
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() || !isNumeric(target.Kind()) || !isNumeric(rv.Kind()) {
		return zero, false
	}
	if !rv.Type().ConvertibleTo(target) {
		return zero, false
	}
	return rv.Convert(target).Interface().(T), true
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

type declared interface {
	Name() string
	Description() string
	typeName() string
	defaultString() (string, bool)
	declaredAt() string
}

// VarSet keeps variable declarations in declaration order.
type VarSet struct {
	mu    sync.RWMutex
	vars  []declared
	names map[string]string
}

// NewVarSet creates an empty set.
func NewVarSet() *VarSet {
	return &VarSet{names: make(map[string]string)}
}

func (s *VarSet) add(v declared) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.names[v.Name()]; ok {
		return NewPermanentError(fmt.Sprintf("variable %s already declared at %s", v.Name(), prev), nil).
			WithCode(ErrCodeDuplicate).
			WithOperation("declare")
	}
	s.names[v.Name()] = v.declaredAt()
	s.vars = append(s.vars, v)
	return nil
}

// Merge adds every declaration of other to s.
func (s *VarSet) Merge(other *VarSet) error {
	other.mu.RLock()
	vars := make([]declared, len(other.vars))
	copy(vars, other.vars)
	other.mu.RUnlock()

	for _, v := range vars {
		if err := s.add(v); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the declared variable names in declaration order.
func (s *VarSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.vars))
	for i, v := range s.vars {
		names[i] = v.Name()
	}
	return names
}

// Print writes one row per declared variable followed by undeclared values set in e.
func (s *VarSet) Print(w io.Writer, e *Engine) error {
	s.mu.RLock()
	vars := make([]declared, len(s.vars))
	copy(vars, s.vars)
	s.mu.RUnlock()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tDEFAULT\tVALUE\tDESCRIPTION")

	seen := make(map[string]struct{}, len(vars))
	for _, v := range vars {
		seen[v.Name()] = struct{}{}
		def, ok := v.defaultString()
		if !ok {
			def = "-"
		}
		value := "-"
		if e != nil {
			if raw, ok := e.Lookup(v.Name()); ok {
				value = fmt.Sprintf("%v", raw)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Name(), v.typeName(), def, value, v.Description())
	}

	if e != nil {
		var extra []string
		for k := range e.Variables() {
			if _, ok := seen[k]; !ok {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		for _, k := range extra {
			raw, _ := e.Lookup(k)
			fmt.Fprintf(tw, "%s\t%T\t-\t%v\t\n", k, raw, raw)
		}
	}
	return tw.Flush()
}
