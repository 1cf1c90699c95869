package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// CompileSchema compiles a CUE schema for use with Validate.
func (cp *CUEParser) CompileSchema(name, src string) (*Schema, error) {
	val := cp.ctx.CompileString(src, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, convertCUEErrors(err))
	}
	return &Schema{name: name, parser: cp, value: val}, nil
}

// Schema constrains loaded variables. Fields the schema does not mention are
// accepted as long as the schema is left open.
type Schema struct {
	name   string
	parser *CUEParser
	value  cue.Value
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Validate unifies values with the schema and reports the first conflicts.
func (s *Schema) Validate(values map[string]interface{}) error {
	encoded := s.parser.ctx.Encode(values)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	unified := s.value.Unify(encoded)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("schema %s: %w", s.name, convertCUEErrors(err))
	}
	return nil
}
