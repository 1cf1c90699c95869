package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads variable files in any supported format.
type Loader struct {
	logger   zerolog.Logger
	starlark *StarlarkEvaluator
	cue      *CUEParser
	schema   *Schema
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSchema validates every loaded file against schema.
func WithSchema(schema *Schema) LoaderOption {
	return func(l *Loader) { l.schema = schema }
}

// WithStarlarkTimeout bounds the execution time of Starlark files.
func WithStarlarkTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) { l.starlark = NewStarlarkEvaluator(timeout) }
}

// NewLoader creates a new loader.
func NewLoader(logger zerolog.Logger, opts ...LoaderOption) *Loader {
	l := &Loader{
		logger:   logger.With().Str("component", "config").Logger(),
		starlark: NewStarlarkEvaluator(0),
		cue:      NewCUEParser(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CUE returns the parser used for CUE files, e.g. to compile a schema.
func (l *Loader) CUE() *CUEParser {
	return l.cue
}

// Load parses the file at path. Starlark files see input as predeclared names.
func (l *Loader) Load(ctx context.Context, path string, input map[string]interface{}) (*Source, error) {
	start := time.Now()

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]interface{}
	switch format {
	case FormatStarlark:
		values, err = l.starlark.Evaluate(ctx, filepath.Base(path), data, input)
	case FormatCUE:
		values, err = l.cue.Parse(path, data)
	case FormatYAML:
		values, err = parseYAML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	normalized, err := normalize(values)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	values = normalized.(map[string]interface{})

	if l.schema != nil {
		if err := l.schema.Validate(values); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", path, err)
		}
	}

	src := &Source{
		Path:     path,
		Format:   format,
		Values:   values,
		LoadedAt: time.Now(),
		Duration: time.Since(start),
	}

	l.logger.Debug().
		Str("path", path).
		Str("format", string(format)).
		Int("variables", len(values)).
		Dur("duration", src.Duration).
		Msg("Loaded config file")

	return src, nil
}

func parseYAML(data []byte) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	return values, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
