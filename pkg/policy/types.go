package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate = func() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}()

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for selections that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run and is reported first.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny the selection.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Validate checks that s is a known severity.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", s)
	}
}

// Policy is a named Rego module. Every policy must define a deny set in its
// package; each element is either a message string or an object with
// message, severity and unit keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name" validate:"required,notblank"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego" validate:"required"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity" validate:"omitempty,oneof=info warning error critical"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled" yaml:"enabled"`

	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Metadata contains additional policy metadata such as the source file.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks the policy declaration.
func (p *Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid policy %q: %w", p.Name, err)
	}
	return nil
}

// Violation is a single deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Unit is the unit the violation refers to, if any.
	Unit string `json:"unit,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// String formats the violation for logs and errors.
func (v Violation) String() string {
	if v.Unit != "" {
		return fmt.Sprintf("[%s] %s: %s (unit %s)", v.Severity, v.Policy, v.Message, v.Unit)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result is the outcome of evaluating all enabled policies over one selection.
type Result struct {
	// Allowed is false when at least one violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the selection.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Err returns a *DeniedError when the selection is not allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &DeniedError{Violations: r.Blocking()}
}

// DeniedError reports the blocking violations of a denied selection.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.String())
	}
	return "selection denied by policy: " + strings.Join(msgs, "; ")
}

// UnitInfo describes a unit as seen by policies. Relations are given by name.
type UnitInfo struct {
	Name      string   `json:"name"`
	Path      string   `json:"path,omitempty"`
	Kind      string   `json:"kind"`
	Exclusive bool     `json:"exclusive"`
	Contains  []string `json:"contains"`
	Belongs   []string `json:"belongs"`
	Depends   []string `json:"depends"`
	Before    []string `json:"before"`
	After     []string `json:"after"`
	Conflicts []string `json:"conflicts"`
}

// Input is the document policies see as input.
type Input struct {
	EngineID string `json:"engine_id"`

	// Command is the name of the command that will run, if any.
	Command string `json:"command,omitempty"`

	// Final is the name of the final action, if any.
	Final string `json:"final,omitempty"`

	// Selected lists the selected units in selection order.
	Selected []UnitInfo `json:"selected"`

	// Blacklisted lists the names of units excluded from the run.
	Blacklisted []string `json:"blacklisted"`

	// Variables holds the engine variables that have a JSON representation.
	Variables map[string]interface{} `json:"variables"`
}
