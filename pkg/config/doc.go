// Package config loads variable files into an engine's variable store.
//
// # Overview
//
// A variable file defines top level names that become engine variables. Three
// languages are supported, picked by file extension:
//
//   - Starlark (.star, .starlark, .py): every global not starting with an
//     underscore is exported. Functions are skipped. The current engine
//     variables are predeclared, together with struct() and env().
//   - CUE (.cue): every concrete regular field is exported. Hidden fields
//     and definitions are skipped.
//   - YAML (.yaml, .yml, .json): the top level mapping is exported.
//
// Integers are always returned as int64 and floats as float64, whatever the
// source format.
//
// # Components
//
// Loader: reads a file, evaluates it and optionally validates the result
// against a CUE Schema.
//
// StarlarkEvaluator: sandboxed Starlark execution with a timeout and a step
// limit. Scripts cannot load other files.
//
// CUEParser: compiles CUE files and schemas.
//
// Watcher: uses fsnotify to reload a file when it changes, debounced so that
// editors writing in several steps trigger a single reload.
//
// # Usage Example
//
//	loader := config.NewLoader(logger)
//	src, err := loader.Load(ctx, "settings.star", e.Variables())
//	if err != nil {
//	    return err
//	}
//	e.SetAll(src.Values)
//
// Validating against a schema:
//
//	schema, err := loader.CUE().CompileSchema("vars", `
//	    WORKERS?: int & >=1
//	    METRICS_ADDR?: string
//	`)
//	loader = config.NewLoader(logger, config.WithSchema(schema))
//
// # Thread Safety
//
// Loader and Schema are safe for concurrent use. A Watcher watches one file;
// its reload callback runs on a timer goroutine.
package config
