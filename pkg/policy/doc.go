// Package policy admits or denies an engine selection with Open Policy Agent.
//
// Before units are set up, the selection_policy unit hands the selected units,
// the blacklist, the command and the plain engine variables to every enabled
// Rego policy. Each policy defines a deny set in its package:
//
//	package custom.workers
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.variables.WORKERS > 8
//	    violation := {"message": "too many workers", "severity": "error"}
//	}
//
// A deny element is either a message string or an object with message,
// severity and unit keys. Elements without a severity take the policy's
// default. Error and critical violations deny the selection; warnings and
// info are logged.
//
// # Input document
//
//	{
//	  "engine_id": "…",
//	  "command": "serve",
//	  "final": "serve",
//	  "selected": [{"name": "parse_config", "path": "…", "kind": "one-shot",
//	                "exclusive": false, "depends": [], "after": [], ...}],
//	  "blacklisted": ["journald_logging"],
//	  "variables": {"WORKERS": 4}
//	}
//
// # Usage
//
//	pe, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := pe.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	result, err := pe.EvaluateEngine(ctx, e)
//	if err != nil {
//	    return err
//	}
//	return result.Err()
//
// Policies are loaded from .rego files, named after the file, or from .json
// files holding a Policy document. Directories are walked recursively and
// Rego test files are skipped.
package policy
