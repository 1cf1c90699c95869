package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies. None of them blocks a
// run; deployments add blocking policies through policy files.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		blacklistedDependencyPolicy(),
		unitNamingPolicy(),
		finalActionPolicy(),
	}
}

// blacklistedDependencyPolicy flags selected units whose dependency will not run.
func blacklistedDependencyPolicy() Policy {
	return Policy{
		Name:        "blacklisted-dependency",
		Description: "Warns when a selected unit depends on a blacklisted unit",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"selection", "dependencies"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package unitrun.policies.dependencies

import rego.v1

deny contains violation if {
	some unit in input.selected
	some dep in unit.depends
	dep in input.blacklisted
	violation := {
		"message": sprintf("unit %s depends on blacklisted unit %s", [unit.name, dep]),
		"severity": "warning",
		"unit": unit.name,
	}
}
`,
	}
}

// unitNamingPolicy enforces snake_case unit names.
func unitNamingPolicy() Policy {
	return Policy{
		Name:        "unit-naming",
		Description: "Unit names are lowercase snake_case",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package unitrun.policies.naming

import rego.v1

deny contains violation if {
	some unit in input.selected
	not regex.match("^[a-z][a-z0-9_]*$", unit.name)
	violation := {
		"message": sprintf("unit name '%s' must be lowercase snake_case", [unit.name]),
		"unit": unit.name,
	}
}
`,
	}
}

// finalActionPolicy notes selections that have nothing to hand control to.
func finalActionPolicy() Policy {
	return Policy{
		Name:        "final-action",
		Description: "Reports selections without a final action",
		Severity:    SeverityInfo,
		Enabled:     true,
		Tags:        []string{"selection"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package unitrun.policies.final

import rego.v1

deny contains "no final action is set; units will be set up and torn down only" if {
	not input.final
}
`,
	}
}
