package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	starjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// StarlarkEvaluator executes Starlark variable files.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewStarlarkEvaluator creates an evaluator aborting scripts after timeout,
// 30s when zero.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{timeout: timeout, maxSteps: 10_000_000}
}

// Evaluate executes script and returns its public globals: functions and
// names starting with an underscore are left out.
//
// Every input value with a Starlark equivalent is predeclared under its own
// name. Scripts also get struct, the json module, env(name, default="") for
// process environment and var(name, default=None) for input values that may
// be missing.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename string, script []byte, input map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{Name: "config", Print: func(*starlark.Thread, string) {}}
	thread.SetMaxExecutionSteps(se.maxSteps)
	defer context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })()

	inputs := make(starlark.StringDict, len(input))
	for name, v := range input {
		if sv, ok := toStarlark(v); ok {
			inputs[name] = sv
		}
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starjson.Module,
		"env":    starlark.NewBuiltin("env", builtinEnv),
		"var":    starlark.NewBuiltin("var", lookupInput(inputs)),
	}
	for name, sv := range inputs {
		predeclared[name] = sv
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("starlark execution failed: %s", evalErr.Backtrace())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	values := make(map[string]interface{}, len(globals))
	for name, v := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		if _, ok := v.(starlark.Callable); ok {
			continue
		}
		gv, err := fromStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		values[name] = gv
	}
	return values, nil
}

func builtinEnv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

func lookupInput(inputs starlark.StringDict) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var def starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
			return nil, err
		}
		if v, ok := inputs[name]; ok {
			return v, nil
		}
		return def, nil
	}
}

// toStarlark converts the plain values variable files deal in. ok is false
// for anything else.
func toStarlark(v interface{}) (starlark.Value, bool) {
	switch v := v.(type) {
	case nil:
		return starlark.None, true
	case bool:
		return starlark.Bool(v), true
	case int:
		return starlark.MakeInt(v), true
	case int64:
		return starlark.MakeInt64(v), true
	case float64:
		return starlark.Float(v), true
	case string:
		return starlark.String(v), true
	case []string:
		items := make([]starlark.Value, 0, len(v))
		for _, s := range v {
			items = append(items, starlark.String(s))
		}
		return starlark.NewList(items), true
	case []interface{}:
		items := make([]starlark.Value, 0, len(v))
		for _, item := range v {
			sv, ok := toStarlark(item)
			if !ok {
				return nil, false
			}
			items = append(items, sv)
		}
		return starlark.NewList(items), true
	case map[string]interface{}:
		dict := starlark.NewDict(len(v))
		for k, item := range v {
			sv, ok := toStarlark(item)
			if !ok {
				return nil, false
			}
			_ = dict.SetKey(starlark.String(k), sv)
		}
		return dict, true
	}
	return nil, false
}

// fromStarlark converts a script value back to Go. Mappings need string keys;
// other iterables become lists and values with attributes become maps.
func fromStarlark(v starlark.Value) (interface{}, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		i, ok := v.Int64()
		if !ok {
			return nil, fmt.Errorf("integer %s out of range", v)
		}
		return i, nil
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.IterableMapping:
		m := make(map[string]interface{})
		for _, kv := range v.Items() {
			k, ok := starlark.AsString(kv[0])
			if !ok {
				return nil, fmt.Errorf("mapping key %s is not a string", kv[0])
			}
			gv, err := fromStarlark(kv[1])
			if err != nil {
				return nil, err
			}
			m[k] = gv
		}
		return m, nil
	case starlark.Iterable:
		var list []interface{}
		iter := v.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			gv, err := fromStarlark(item)
			if err != nil {
				return nil, err
			}
			list = append(list, gv)
		}
		if list == nil {
			list = []interface{}{}
		}
		return list, nil
	case starlark.HasAttrs:
		m := make(map[string]interface{})
		for _, name := range v.AttrNames() {
			attr, err := v.Attr(name)
			if err != nil {
				return nil, err
			}
			gv, err := fromStarlark(attr)
			if err != nil {
				return nil, err
			}
			m[name] = gv
		}
		return m, nil
	}
	return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
}
