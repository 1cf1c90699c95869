package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an engine error.
type ErrorClass string

const (
	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: dependency cycles, duplicate registrations, conflicting selections.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassControl indicates an error used for control flow rather than failure.
	// The only member is the stop-init signal raised by a unit to end initialization early.
	ErrorClassControl ErrorClass = "control"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the name of the unit that caused the error, if applicable.
	Unit string `json:"unit,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Unit != "" && e.Operation != "":
		msg = fmt.Sprintf("%s (unit=%s, operation=%s)", msg, e.Unit, e.Operation)
	case e.Unit != "":
		msg = fmt.Sprintf("%s (unit=%s)", msg, e.Unit)
	case e.Operation != "":
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewControlError creates a new control-flow error.
func NewControlError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassControl,
		Message: message,
		Err:     err,
	}
}

// WithUnit adds unit context to an error.
func (e *EngineError) WithUnit(name string) *EngineError {
	e.Unit = name
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCycle            = "CYCLE"
	ErrCodeStopInit         = "STOP_INIT"
	ErrCodeDuplicate        = "DUPLICATE_REGISTRATION"
	ErrCodeIllegalRemoval   = "ILLEGAL_REMOVAL"
	ErrCodeTakeoverConflict = "TAKEOVER_CONFLICT"
	ErrCodeNotSet           = "NOT_SET"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeAsyncInSync      = "ASYNC_IN_SYNC"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ErrStopInit is returned by a unit action to end initialization early.
// The engine clears the final action and only tears down what already ran.
var ErrStopInit = NewControlError("initialization stopped", nil).WithCode(ErrCodeStopInit)

// StopInit returns a stop-init error carrying a reason for the logs.
func StopInit(reason string) error {
	return NewControlError(reason, nil).WithCode(ErrCodeStopInit)
}

func hasCode(err error, code string) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsStopInit returns true if the error requests an early end of initialization.
func IsStopInit(err error) bool {
	return hasCode(err, ErrCodeStopInit)
}

// IsCycle returns true if the error reports a dependency cycle.
func IsCycle(err error) bool {
	return hasCode(err, ErrCodeCycle)
}

// IsDuplicate returns true if the error reports a duplicate registration.
func IsDuplicate(err error) bool {
	return hasCode(err, ErrCodeDuplicate)
}

// IsIllegalRemoval returns true if the error reports removal of an already produced unit.
func IsIllegalRemoval(err error) bool {
	return hasCode(err, ErrCodeIllegalRemoval)
}

// IsTakeoverConflict returns true if a final action was set twice.
func IsTakeoverConflict(err error) bool {
	return hasCode(err, ErrCodeTakeoverConflict)
}

// IsNotSet returns true if a variable was read without a value or default.
func IsNotSet(err error) bool {
	return hasCode(err, ErrCodeNotSet)
}

// IsConflict returns true if a selection conflicted with an already selected unit.
func IsConflict(err error) bool {
	return hasCode(err, ErrCodeConflict)
}

// IsAsyncInSync returns true if an async unit or action was reached on the synchronous path.
func IsAsyncInSync(err error) bool {
	return hasCode(err, ErrCodeAsyncInSync)
}
