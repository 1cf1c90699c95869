package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLifecycle_InitExitReverseOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})
	b := registered(t, reg, UnitSpec{Name: "b", After: units(a), Action: tr.oneShot("b")})
	c := registered(t, reg, UnitSpec{Name: "c", After: units(b), Action: tr.twoPhase("c")})

	e := newEngine(t, reg, nil, c, b, a)

	takeover, err := e.Init()
	if err != nil || takeover != nil {
		t.Fatalf("Expected clean init, got takeover=%v err=%v", takeover, err)
	}
	if e.State() != StateReady {
		t.Errorf("Expected state %s, got %s", StateReady, e.State())
	}
	if err := e.Exit(); err != nil {
		t.Fatalf("Unexpected exit error: %v", err)
	}

	want := []string{"setup a", "run b", "setup c", "teardown c", "teardown a"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
	if len(e.History()) != 0 {
		t.Errorf("Expected empty history after exit, got %v", names(e.History()))
	}
	if e.State() != StateExited {
		t.Errorf("Expected state %s, got %s", StateExited, e.State())
	}
}

func TestLifecycle_TeardownWatermark(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})
	b := registered(t, reg, UnitSpec{
		Name:  "b",
		After: units(a),
		Action: OneShot(func(e *Engine) (*FinalAction, error) {
			tr.add("run b")
			return Call("handover", func(*Engine) error { return nil }), nil
		}),
	})
	c := registered(t, reg, UnitSpec{Name: "c", After: units(b), Action: tr.twoPhase("c")})

	e := newEngine(t, reg, nil, a, b, c)

	takeover, err := e.Init()
	if err != nil {
		t.Fatalf("Unexpected init error: %v", err)
	}
	if takeover == nil || takeover.Name() != "handover" {
		t.Fatalf("Expected handover takeover, got %v", takeover)
	}

	d := e.Derive()
	if d.EntryPoint() != b {
		t.Fatalf("Expected entry point b, got %s", d.EntryPoint())
	}
	if _, err := d.Init(); err != nil {
		t.Fatalf("Unexpected derived init error: %v", err)
	}
	if err := d.Exit(); err != nil {
		t.Fatalf("Unexpected derived exit error: %v", err)
	}
	if diff := cmp.Diff([]string{"setup a", "run b", "setup c", "teardown c"}, tr.calls); diff != "" {
		t.Errorf("Derived engine tore down too much (-want +got):\n%s", diff)
	}

	if err := e.Exit(); err != nil {
		t.Fatalf("Unexpected exit error: %v", err)
	}
	want := []string{"setup a", "run b", "setup c", "teardown c", "teardown a"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestLifecycle_StopInit(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})
	b := registered(t, reg, UnitSpec{
		Name:  "b",
		After: units(a),
		Action: Do(func(e *Engine) error {
			tr.add("run b")
			return StopInit("help printed")
		}),
	})
	c := registered(t, reg, UnitSpec{Name: "c", After: units(b), Action: tr.twoPhase("c")})

	called := false
	e := newEngine(t, reg, Call("final", func(*Engine) error {
		called = true
		return nil
	}), a, b, c)

	if err := Run(e); err != nil {
		t.Fatalf("Expected stop-init to end the run cleanly, got %v", err)
	}
	if called {
		t.Errorf("Expected final action not to run")
	}
	if e.Final() != nil {
		t.Errorf("Expected final action to be cleared")
	}
	if e.Outcome() != OutcomeStopped {
		t.Errorf("Expected outcome %s, got %s", OutcomeStopped, e.Outcome())
	}
	want := []string{"setup a", "run b", "teardown a"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestLifecycle_SetupErrorIsNotRecorded(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})
	boom := errors.New("boom")
	b := registered(t, reg, UnitSpec{
		Name:  "b",
		After: units(a),
		Action: Around(func(e *Engine) (Teardown, error) {
			return func(*Engine) error {
				tr.add("teardown b")
				return nil
			}, boom
		}),
	})

	e := newEngine(t, reg, nil, a, b)
	err := Run(e)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected setup error, got %v", err)
	}
	if diff := cmp.Diff([]string{"setup a", "teardown a"}, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
	if e.Outcome() != OutcomeFailed {
		t.Errorf("Expected outcome %s, got %s", OutcomeFailed, e.Outcome())
	}
}

func TestLifecycle_TeardownErrorsAreJoined(t *testing.T) {
	reg := NewRegistry(testLogger())
	first := errors.New("first")
	second := errors.New("second")
	failing := func(err error) Action {
		return Around(func(*Engine) (Teardown, error) {
			return func(*Engine) error { return err }, nil
		})
	}
	a := registered(t, reg, UnitSpec{Name: "a", Action: failing(first)})
	b := registered(t, reg, UnitSpec{Name: "b", After: units(a), Action: failing(second)})

	e := newEngine(t, reg, nil, a, b)
	if _, err := e.Init(); err != nil {
		t.Fatalf("Unexpected init error: %v", err)
	}

	err := e.Exit()
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("Expected both teardown errors, got %v", err)
	}
	if len(e.History()) != 0 {
		t.Errorf("Expected every unit to be torn down, got %v", names(e.History()))
	}
}

func TestLifecycle_BlacklistedUnitsAreRecordedNotRun(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})
	b := registered(t, reg, UnitSpec{Name: "b", After: units(a), Action: tr.twoPhase("b")})

	e := newEngine(t, reg, nil, a, b)
	e.Blacklist(b)

	if _, err := e.Init(); err != nil {
		t.Fatalf("Unexpected init error: %v", err)
	}
	if !e.Ran(b) {
		t.Errorf("Expected blacklisted unit to be recorded")
	}
	if err := e.Exit(); err != nil {
		t.Fatalf("Unexpected exit error: %v", err)
	}
	if diff := cmp.Diff([]string{"setup a", "teardown a"}, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestLifecycle_AsyncUnitOnSyncPath(t *testing.T) {
	reg := NewRegistry(testLogger())
	u := registered(t, reg, UnitSpec{Name: "async_only", Action: DoAsync(func(context.Context, *Engine) error {
		return nil
	})})

	e := newEngine(t, reg, nil, u)
	_, err := e.Init()
	if !IsAsyncInSync(err) {
		t.Fatalf("Expected async-in-sync error, got %v", err)
	}
}

func TestLifecycle_AsyncUnitRejectedBeforeSetup(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	first := registered(t, reg, UnitSpec{Name: "first", Action: tr.twoPhase("first")})
	later := registered(t, reg, UnitSpec{
		Name:  "later",
		After: units(first),
		Action: DoAsync(func(context.Context, *Engine) error {
			tr.add("run later")
			return nil
		}),
	})

	e := newEngine(t, reg, nil, first, later)
	_, err := e.Init()
	if !IsAsyncInSync(err) {
		t.Fatalf("Expected async-in-sync error, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Errorf("Expected no unit to run, got %v", tr.calls)
	}
	if err := e.Exit(); err != nil {
		t.Fatalf("Unexpected exit error: %v", err)
	}

	e = newEngine(t, reg, nil, first, later)
	e.Blacklist(later)
	if _, err := e.Init(); err != nil {
		t.Fatalf("Expected blacklisted async unit to be ignored, got %v", err)
	}
}

func TestLifecycle_TwoPhaseVariableCleanup(t *testing.T) {
	reg := NewRegistry(testLogger())
	u := registered(t, reg, UnitSpec{
		Name: "scoped",
		Action: Around(func(e *Engine) (Teardown, error) {
			e.Set("k", "v")
			return func(e *Engine) error {
				e.Delete("k")
				return nil
			}, nil
		}),
	})

	e := newEngine(t, reg, nil, u)
	if _, err := e.Init(); err != nil {
		t.Fatalf("Unexpected init error: %v", err)
	}
	if got := e.Get("k", nil); got != "v" {
		t.Errorf("Expected k=v after init, got %v", got)
	}
	if err := e.Exit(); err != nil {
		t.Fatalf("Unexpected exit error: %v", err)
	}
	if e.Len() != 0 {
		t.Errorf("Expected empty variable store after exit, got %v", e.Variables())
	}
}

func TestLifecycle_InitAsync(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	plain := registered(t, reg, UnitSpec{Name: "plain", Action: tr.twoPhase("plain")})
	ctxAware := registered(t, reg, UnitSpec{
		Name:  "ctx_aware",
		After: units(plain),
		Action: AroundAsync(func(ctx context.Context, e *Engine) (AsyncTeardown, error) {
			if ctx == nil {
				return nil, errors.New("missing context")
			}
			tr.add("setup ctx_aware")
			return func(context.Context, *Engine) error {
				tr.add("teardown ctx_aware")
				return nil
			}, nil
		}),
	})

	e := newEngine(t, reg, nil, plain, ctxAware)
	ctx := context.Background()
	if _, err := e.InitAsync(ctx); err != nil {
		t.Fatalf("Unexpected init error: %v", err)
	}
	if err := e.ExitAsync(ctx); err != nil {
		t.Fatalf("Unexpected exit error: %v", err)
	}

	want := []string{"setup plain", "setup ctx_aware", "teardown ctx_aware", "teardown plain"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestLifecycle_InitAsyncCancelled(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newEngine(t, reg, nil, a)
	err := RunAsync(ctx, e)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Errorf("Expected no unit to run, got %v", tr.calls)
	}
}

func TestRun_CommandSignals(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})

	cmd := &Command{
		Name:    "serve",
		Targets: units(a),
		Run: func(e *Engine) error {
			tr.add("command")
			return nil
		},
	}
	e := newEngine(t, reg, RunCommand(cmd), cmd.Targets...)
	e.Signals().Add(SignalReady, func(*Engine, string) { tr.add("ready") })
	e.Signals().Add(SignalStopping, func(*Engine, string) { tr.add("stopping") })

	if err := Run(e); err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}

	want := []string{"setup a", "ready", "command", "stopping", "teardown a"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestRun_StoppingFiresWhenCommandFails(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	boom := errors.New("boom")
	cmd := &Command{Name: "fail", Run: func(*Engine) error { return boom }}

	e := newEngine(t, reg, RunCommand(cmd))
	e.Signals().Add(SignalStopping, func(*Engine, string) { tr.add("stopping") })

	if err := Run(e); !errors.Is(err, boom) {
		t.Fatalf("Expected command error, got %v", err)
	}
	if diff := cmp.Diff([]string{"stopping"}, tr.calls); diff != "" {
		t.Errorf("Unexpected signals (-want +got):\n%s", diff)
	}
}

func TestRun_NoSignalsForPlainFunctions(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}

	e := newEngine(t, reg, Call("plain", func(*Engine) error {
		tr.add("plain")
		return nil
	}))
	e.Signals().Add(SignalReady, func(*Engine, string) { tr.add("ready") })

	if err := Run(e); err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}
	if diff := cmp.Diff([]string{"plain"}, tr.calls); diff != "" {
		t.Errorf("Unexpected calls (-want +got):\n%s", diff)
	}
}

func TestRun_TakeoverHandsOverToAsync(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}

	loop := registered(t, reg, UnitSpec{
		Name:    "loop",
		Belongs: units(reg.AsyncGroup()),
		Action: OneShot(func(e *Engine) (*FinalAction, error) {
			tr.add("loop")
			return Call("loop", func(e *Engine) error {
				return RunAsync(context.Background(), e.Derive())
			}), nil
		}),
	})
	work := registered(t, reg, UnitSpec{
		Name: "work",
		Action: AroundAsync(func(ctx context.Context, e *Engine) (AsyncTeardown, error) {
			tr.add("setup work")
			return func(context.Context, *Engine) error {
				tr.add("teardown work")
				return nil
			}, nil
		}),
	})

	final := CallAsync("final", func(ctx context.Context, e *Engine) error {
		tr.add("final")
		return nil
	})
	e := newEngine(t, reg, final, work)

	if !e.IsSelected(loop) {
		t.Fatalf("Expected the async group to bring in the loop, got %v", names(e.Selected()))
	}
	if err := Run(e); err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}

	want := []string{"loop", "setup work", "final", "teardown work"}
	if diff := cmp.Diff(want, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestRun_AsyncFinalOnSyncPath(t *testing.T) {
	reg := NewRegistry(testLogger())
	e := newEngine(t, reg, CallAsync("async", func(context.Context, *Engine) error { return nil }))

	if err := Run(e); !IsAsyncInSync(err) {
		t.Fatalf("Expected async-in-sync error, got %v", err)
	}
}

func TestWithin(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	a := registered(t, reg, UnitSpec{Name: "a", Action: tr.twoPhase("a")})

	e := newEngine(t, reg, nil, a)
	err := Within(e, func(e *Engine) error {
		tr.add("body")
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"setup a", "body", "teardown a"}, tr.calls); diff != "" {
		t.Errorf("Unexpected lifecycle (-want +got):\n%s", diff)
	}
}

func TestWithin_RejectsTakeover(t *testing.T) {
	reg := NewRegistry(testLogger())
	u := registered(t, reg, UnitSpec{Name: "grab", Action: OneShot(func(*Engine) (*FinalAction, error) {
		return Call("grab", func(*Engine) error { return nil }), nil
	})})

	e := newEngine(t, reg, nil, u)
	called := false
	err := Within(e, func(*Engine) error {
		called = true
		return nil
	})
	if !hasCode(err, ErrCodeValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if called {
		t.Errorf("Expected body not to run")
	}
}

func TestWithinAsync(t *testing.T) {
	reg := NewRegistry(testLogger())
	tr := &trace{}
	registered(t, reg, UnitSpec{
		Name:    "loop",
		Belongs: units(reg.AsyncGroup()),
		Action: OneShot(func(*Engine) (*FinalAction, error) {
			tr.add("loop")
			return Call("loop", func(*Engine) error { return nil }), nil
		}),
	})
	work := registered(t, reg, UnitSpec{Name: "work", Action: DoAsync(func(context.Context, *Engine) error {
		tr.add("work")
		return nil
	})})

	e := newEngine(t, reg, nil)
	err := WithinAsync(context.Background(), e, func(ctx context.Context, e *Engine) error {
		tr.add("body")
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(tr.calls) != 1 || tr.calls[0] != "body" {
		t.Errorf("Expected only the body to run, got %v", tr.calls)
	}

	tr.calls = nil
	e = newEngine(t, reg, nil)
	e.Blacklist(reg.AsyncGroup())
	if err := e.AddTarget(work, true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	err = WithinAsync(context.Background(), e, func(ctx context.Context, e *Engine) error {
		tr.add("body")
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"work", "body"}, tr.calls); diff != "" {
		t.Errorf("Unexpected calls (-want +got):\n%s", diff)
	}
}
