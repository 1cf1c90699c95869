package engine

import (
	"encoding/json"
	"fmt"
)

// State represents where an engine is in its lifecycle.
type State string

const (
	// StateIdle indicates the engine was created but initialization has not started.
	StateIdle State = "idle"

	// StateInitializing indicates units are being set up.
	StateInitializing State = "initializing"

	// StateReady indicates initialization completed or a unit took over.
	StateReady State = "ready"

	// StateStopped indicates a unit stopped initialization early.
	StateStopped State = "stopped"

	// StateRunning indicates the final action or takeover is executing.
	StateRunning State = "running"

	// StateTearingDown indicates teardowns are running in reverse order.
	StateTearingDown State = "tearing_down"

	// StateExited indicates every teardown has run.
	StateExited State = "exited"
)

// IsTerminal returns true if the engine has finished its lifecycle.
func (s State) IsTerminal() bool {
	return s == StateExited
}

// IsActive returns true while units are being set up or the final action runs.
func (s State) IsActive() bool {
	return s == StateInitializing || s == StateRunning
}

// Validate checks if the state is valid.
func (s State) Validate() error {
	switch s {
	case StateIdle, StateInitializing, StateReady, StateStopped,
		StateRunning, StateTearingDown, StateExited:
		return nil
	default:
		return fmt.Errorf("invalid engine state: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = State(str)
	return s.Validate()
}

// Phase identifies which half of a unit lifecycle an observer is told about.
type Phase string

const (
	// PhaseSetup is the first half of every unit, and the only half of one-shot units.
	PhaseSetup Phase = "setup"

	// PhaseTeardown is the second half of two-phase units.
	PhaseTeardown Phase = "teardown"

	// PhaseSkipped is reported for blacklisted units that are recorded without running.
	PhaseSkipped Phase = "skipped"
)

// Validate checks if the phase is valid.
func (p Phase) Validate() error {
	switch p {
	case PhaseSetup, PhaseTeardown, PhaseSkipped:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// Outcome is the result of a run as recorded by observers.
type Outcome string

const (
	// OutcomeSucceeded indicates the run completed without errors.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed indicates initialization, the final action or a teardown failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeStopped indicates a unit stopped initialization early.
	OutcomeStopped Outcome = "stopped"
)

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeStopped:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}
