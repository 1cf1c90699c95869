package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// CUEParser decodes CUE variable files and checks values against schemas.
type CUEParser struct {
	ctx *cue.Context
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{ctx: cuecontext.New()}
}

// Parse compiles a CUE file and returns its regular fields. Hidden fields and
// definitions are skipped; every exported field must be concrete.
func (cp *CUEParser) Parse(filename string, data []byte) (map[string]interface{}, error) {
	val := cp.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}
	if val.IncompleteKind() != cue.StructKind {
		return nil, ValidationError{File: filename, Message: "top level value must be a struct"}
	}

	iter, err := val.Fields()
	if err != nil {
		return nil, convertCUEErrors(err)
	}

	out := make(map[string]interface{})
	for iter.Next() {
		name := iter.Selector().Unquoted()
		var decoded interface{}
		if err := iter.Value().Decode(&decoded); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		out[name] = decoded
	}
	return out, nil
}

// convertCUEErrors turns CUE errors into ValidationErrors joined as one error.
func convertCUEErrors(err error) error {
	var out []error
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: e.Error()}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	switch len(out) {
	case 0:
		return err
	case 1:
		return out[0]
	default:
		return joinErrors(out)
	}
}
