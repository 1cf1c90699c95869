package policy

import (
	"github.com/openfroyo/unitrun/pkg/engine"
)

// NewInput captures the current selection of e.
func NewInput(e *engine.Engine) *Input {
	in := &Input{
		EngineID:    e.ID(),
		Selected:    make([]UnitInfo, 0),
		Blacklisted: make([]string, 0),
		Variables:   plainVariables(e.Variables()),
	}

	if f := e.Final(); f != nil {
		in.Final = f.Name()
		if cmd := f.Command(); cmd != nil {
			in.Command = cmd.Name
		}
	}

	for _, u := range e.Selected() {
		in.Selected = append(in.Selected, unitInfo(u))
	}
	for _, u := range e.Blacklisted() {
		in.Blacklisted = append(in.Blacklisted, u.Name())
	}
	return in
}

func unitInfo(u *engine.Unit) UnitInfo {
	return UnitInfo{
		Name:      u.Name(),
		Path:      u.Path(),
		Kind:      u.Kind().String(),
		Exclusive: u.Exclusive(),
		Contains:  unitNames(u.Contains()),
		Belongs:   unitNames(u.Belongs()),
		Depends:   unitNames(u.Depends()),
		Before:    unitNames(u.Before()),
		After:     unitNames(u.After()),
		Conflicts: unitNames(u.Conflicts()),
	}
}

func unitNames(units []*engine.Unit) []string {
	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name())
	}
	return names
}

// plainVariables keeps the variables that can be handed to Rego. Parsers,
// flag sets and other live objects stored by units are dropped.
func plainVariables(vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		if pv, ok := plainValue(v); ok {
			out[k] = pv
		}
	}
	return out
}

func plainValue(v interface{}) (interface{}, bool) {
	switch val := v.(type) {
	case nil, bool, string, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val, true
	case []string:
		return val, true
	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			if pv, ok := plainValue(item); ok {
				out = append(out, pv)
			}
		}
		return out, true
	case map[string]interface{}:
		return plainVariables(val), true
	default:
		return nil, false
	}
}
