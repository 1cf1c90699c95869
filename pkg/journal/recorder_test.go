package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/unitrun/pkg/engine"
)

type recordedEvent struct {
	Engine  string
	Unit    string
	Phase   engine.Phase
	Outcome UnitOutcome
}

func listEvents(t *testing.T, j *Journal, runID string, engines map[string]string) []recordedEvent {
	t.Helper()
	events, err := j.ListUnitEvents(context.Background(), runID)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	out := make([]recordedEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, recordedEvent{
			Engine:  engines[ev.EngineID],
			Unit:    ev.Unit,
			Phase:   ev.Phase,
			Outcome: ev.Outcome,
		})
	}
	return out
}

func TestRecorder_RecordsRun(t *testing.T) {
	j := setupTestJournal(t)
	ctx := context.Background()

	reg := engine.NewRegistry(zerolog.Nop())
	openDB := engine.MustNewUnit(engine.UnitSpec{
		Name: "open_db",
		Action: engine.Around(func(*engine.Engine) (engine.Teardown, error) {
			return func(*engine.Engine) error { return nil }, nil
		}),
	})
	reg.MustRegister("test.open_db", openDB)
	notify := engine.MustNewUnit(engine.UnitSpec{Name: "notify", After: []*engine.Unit{openDB}})
	reg.MustRegister("test.notify", notify)
	migrate := engine.MustNewUnit(engine.UnitSpec{
		Name:   "migrate",
		Action: engine.Do(func(*engine.Engine) error { return errors.New("schema locked") }),
	})
	reg.MustRegister("test.migrate", migrate)

	rec := NewRecorder(j, zerolog.Nop())
	e, err := engine.New(reg, nil, []*engine.Unit{openDB, notify}, engine.WithObserver(rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Blacklist(notify)

	run, err := rec.StartRun(ctx, e, "serve")
	if err != nil {
		t.Fatalf("failed to start run: %v", err)
	}

	var derivedID string
	err = engine.Within(e, func(e *engine.Engine) error {
		d := e.Derive()
		derivedID = d.ID()
		if err := d.AddTarget(migrate, true); err != nil {
			return err
		}
		if err := engine.Within(d, func(*engine.Engine) error { return nil }); err == nil {
			t.Errorf("expected derived run to fail")
		}
		if id, ok := rec.RunID(d); !ok || id != run.ID {
			t.Errorf("expected derived engine to record to run %s, got %s", run.ID, id)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rec.FinishRun(ctx, e); err != nil {
		t.Fatalf("failed to finish run: %v", err)
	}

	engines := map[string]string{e.ID(): "root", derivedID: "derived"}
	want := []recordedEvent{
		{"root", "open_db", engine.PhaseSetup, UnitOutcomeSucceeded},
		{"root", "notify", engine.PhaseSkipped, UnitOutcomeSkipped},
		{"derived", "migrate", engine.PhaseSetup, UnitOutcomeFailed},
		{"root", "open_db", engine.PhaseTeardown, UnitOutcomeSucceeded},
	}
	if diff := cmp.Diff(want, listEvents(t, j, run.ID, engines)); diff != "" {
		t.Errorf("unexpected events (-want +got):\n%s", diff)
	}

	got, err := j.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusSucceeded || got.Error != nil {
		t.Errorf("expected succeeded run without error, got %s %v", got.Status, got.Error)
	}

	if _, ok := rec.RunID(e); ok {
		t.Errorf("expected finished run to be forgotten")
	}
	if err := rec.FinishRun(ctx, e); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound finishing twice, got %v", err)
	}
}

func TestRecorder_FailedAndStoppedRuns(t *testing.T) {
	tests := []struct {
		name       string
		action     engine.Action
		wantStatus RunStatus
		wantUnit   UnitOutcome
		wantErr    bool
	}{
		{
			name:       "failed",
			action:     engine.Do(func(*engine.Engine) error { return errors.New("no config") }),
			wantStatus: RunStatusFailed,
			wantUnit:   UnitOutcomeFailed,
			wantErr:    true,
		},
		{
			name:       "stopped",
			action:     engine.Do(func(*engine.Engine) error { return engine.StopInit("help printed") }),
			wantStatus: RunStatusStopped,
			wantUnit:   UnitOutcomeStopped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := setupTestJournal(t)
			ctx := context.Background()

			reg := engine.NewRegistry(zerolog.Nop())
			u := engine.MustNewUnit(engine.UnitSpec{Name: "parse_config", Action: tt.action})
			reg.MustRegister("test.parse_config", u)

			rec := NewRecorder(j, zerolog.Nop())
			e, err := engine.New(reg, nil, []*engine.Unit{u}, engine.WithObserver(rec))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			run, err := rec.StartRun(ctx, e, "")
			if err != nil {
				t.Fatalf("failed to start run: %v", err)
			}

			err = engine.Within(e, func(*engine.Engine) error { return nil })
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if err := rec.FinishRun(ctx, e); err != nil {
				t.Fatalf("failed to finish run: %v", err)
			}

			got, err := j.GetRun(ctx, run.ID)
			if err != nil {
				t.Fatalf("failed to get run: %v", err)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, got.Status)
			}
			if (got.Error != nil) != tt.wantErr {
				t.Errorf("expected stored error=%v, got %v", tt.wantErr, got.Error)
			}

			events := listEvents(t, j, run.ID, map[string]string{e.ID(): "root"})
			want := []recordedEvent{{"root", "parse_config", engine.PhaseSetup, tt.wantUnit}}
			if diff := cmp.Diff(want, events); diff != "" {
				t.Errorf("unexpected events (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRecorder_IgnoresEnginesWithoutRun(t *testing.T) {
	j := setupTestJournal(t)
	reg := engine.NewRegistry(zerolog.Nop())
	u := engine.MustNewUnit(engine.UnitSpec{Name: "a"})
	reg.MustRegister("test.a", u)

	rec := NewRecorder(j, zerolog.Nop())
	e, err := engine.New(reg, nil, []*engine.Unit{u}, engine.WithObserver(rec))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := engine.Within(e, func(*engine.Engine) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runs, err := j.ListRuns(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no runs, got %d", len(runs))
	}
}
