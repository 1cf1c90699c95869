package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Format identifies the language of a variable file.
type Format string

const (
	// FormatStarlark is a Starlark script; its public globals become variables.
	FormatStarlark Format = "starlark"

	// FormatCUE is a CUE file; its concrete regular fields become variables.
	FormatCUE Format = "cue"

	// FormatYAML is a YAML (or JSON) document with a mapping at the top level.
	FormatYAML Format = "yaml"
)

// Validate checks if the format is valid.
func (f Format) Validate() error {
	switch f {
	case FormatStarlark, FormatCUE, FormatYAML:
		return nil
	default:
		return fmt.Errorf("invalid config format: %s", f)
	}
}

// DetectFormat returns the format implied by the file extension of path.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".star", ".starlark", ".py":
		return FormatStarlark, nil
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported config file extension: %q", filepath.Ext(path))
	}
}

// Source is the result of loading one variable file.
type Source struct {
	// Path is the file that was loaded.
	Path string

	// Format is the language the file was parsed as.
	Format Format

	// Values are the variables defined by the file. Integers are int64,
	// floating point numbers float64.
	Values map[string]interface{}

	// LoadedAt is when the file was parsed.
	LoadedAt time.Time

	// Duration is how long loading took.
	Duration time.Duration
}

// ValidationError describes one problem in a variable file.
type ValidationError struct {
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (v ValidationError) Error() string {
	if v.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", v.File, v.Line, v.Column, v.Message)
	}
	if v.File != "" {
		return fmt.Sprintf("%s: %s", v.File, v.Message)
	}
	return v.Message
}

// normalize converts decoded numbers to int64 and float64 and nested maps to
// map[string]interface{} so every format yields the same shapes.
func normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case uint64:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("map key %v is not a string", k)
			}
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[key] = n
		}
		return out, nil
	default:
		return v, nil
	}
}
