package journal

import (
	"fmt"
	"time"

	"github.com/openfroyo/unitrun/pkg/engine"
)

// RunStatus represents the status of a recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// StatusFromOutcome maps an engine outcome to the status stored for its run.
func StatusFromOutcome(o engine.Outcome) RunStatus {
	switch o {
	case engine.OutcomeFailed:
		return RunStatusFailed
	case engine.OutcomeStopped:
		return RunStatusStopped
	default:
		return RunStatusSucceeded
	}
}

// IsTerminal returns true once the run has completed.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// Validate checks if the status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusStopped:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// UnitOutcome is the result of a single unit phase.
type UnitOutcome string

const (
	UnitOutcomeSucceeded UnitOutcome = "succeeded"
	UnitOutcomeFailed    UnitOutcome = "failed"
	UnitOutcomeStopped   UnitOutcome = "stopped"
	UnitOutcomeSkipped   UnitOutcome = "skipped"
)

// Run is one engine run, from initialization to the end of teardown.
type Run struct {
	ID          string     `json:"id"`
	EngineID    string     `json:"engine_id"`
	Command     string     `json:"command"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// UnitEvent records one unit phase. Events of derived engines are stored
// under the run of the engine they were derived from.
type UnitEvent struct {
	ID         int64        `json:"id"`
	RunID      string       `json:"run_id"`
	EngineID   string       `json:"engine_id"`
	Unit       string       `json:"unit"`
	Path       string       `json:"path"`
	Phase      engine.Phase `json:"phase"`
	Outcome    UnitOutcome  `json:"outcome"`
	DurationMS int64        `json:"duration_ms"`
	Error      *string      `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}
