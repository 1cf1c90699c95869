package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// trace collects lifecycle calls in order.
type trace struct {
	calls []string
}

func (tr *trace) add(s string) { tr.calls = append(tr.calls, s) }

func (tr *trace) twoPhase(name string) Action {
	return Around(func(e *Engine) (Teardown, error) {
		tr.add("setup " + name)
		return func(e *Engine) error {
			tr.add("teardown " + name)
			return nil
		}, nil
	})
}

func (tr *trace) oneShot(name string) Action {
	return Do(func(e *Engine) error {
		tr.add("run " + name)
		return nil
	})
}

func newEngine(t *testing.T, reg *Registry, final *FinalAction, targets ...*Unit) *Engine {
	t.Helper()
	e, err := New(reg, final, targets, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return e
}

func TestEngine_SelectionFollowsDependsAndContains(t *testing.T) {
	reg := NewRegistry(testLogger())
	dep := registered(t, reg, UnitSpec{Name: "dep"})
	group := registered(t, reg, UnitSpec{Name: "group"})
	member := registered(t, reg, UnitSpec{Name: "member", Belongs: units(group)})
	top := registered(t, reg, UnitSpec{Name: "top", Depends: units(dep, group)})
	registered(t, reg, UnitSpec{Name: "unrelated"})

	e := newEngine(t, reg, nil, top)

	if diff := cmp.Diff([]string{"top", "dep", "group", "member"}, names(e.Selected())); diff != "" {
		t.Errorf("Unexpected selection (-want +got):\n%s", diff)
	}
	if !e.IsSelected(member) {
		t.Errorf("Expected member to be selected")
	}
}

func TestEngine_DiscoversUnitsRegisteredLater(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "group"})
	e := newEngine(t, reg, nil, group)

	late := registered(t, reg, UnitSpec{Name: "late", Belongs: units(group)})
	stranger := registered(t, reg, UnitSpec{Name: "stranger"})

	if !e.IsSelected(late) {
		t.Errorf("Expected late member of a selected group to be selected")
	}
	if e.IsSelected(stranger) {
		t.Errorf("Expected unrelated unit to stay unselected")
	}

	e.Detach()
	detached := registered(t, reg, UnitSpec{Name: "detached", Belongs: units(group)})
	if e.IsSelected(detached) {
		t.Errorf("Expected detached engine to ignore new registrations")
	}
}

func TestEngine_ExclusiveGroupSelection(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "group", Exclusive: true})
	x := registered(t, reg, UnitSpec{Name: "x", Belongs: units(group)})
	y := registered(t, reg, UnitSpec{Name: "y", Belongs: units(group)})

	t.Run("group selects first member", func(t *testing.T) {
		e := newEngine(t, reg, nil, group)
		if !e.IsSelected(x) || e.IsSelected(y) {
			t.Errorf("Expected only x selected, got %v", names(e.Selected()))
		}
		if !e.IsBlacklisted(y) {
			t.Errorf("Expected y to be blacklisted")
		}
	})

	t.Run("forced sibling stays blacklisted", func(t *testing.T) {
		e := newEngine(t, reg, nil, x)
		if err := e.AddTarget(y, true); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if e.IsSelected(y) || !e.IsBlacklisted(y) {
			t.Errorf("Expected y to stay blacklisted, got selected=%v", names(e.Selected()))
		}
		if !e.IsSelected(x) {
			t.Errorf("Expected x to stay selected")
		}
	})

	t.Run("forced sibling after member ran", func(t *testing.T) {
		e := newEngine(t, reg, nil, x)
		if _, err := e.Init(); err != nil {
			t.Fatalf("Unexpected init error: %v", err)
		}
		if err := e.AddTarget(y, true); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if e.IsSelected(y) {
			t.Errorf("Expected blacklisted y to stay unselected")
		}
	})
}

func TestEngine_ExclusiveGroupLateMembers(t *testing.T) {
	setup := func(t *testing.T) (*Registry, *Unit, *Unit) {
		reg := NewRegistry(testLogger())
		group := registered(t, reg, UnitSpec{Name: "group", Exclusive: true})
		x := registered(t, reg, UnitSpec{Name: "x", Belongs: units(group)})
		return reg, group, x
	}

	t.Run("weak member evicts pending sibling", func(t *testing.T) {
		reg, group, x := setup(t)
		e := newEngine(t, reg, nil, group)
		late := registered(t, reg, UnitSpec{Name: "late", Belongs: units(group)})

		if !e.IsSelected(late) || e.IsSelected(x) {
			t.Errorf("Expected late to replace x, got %v", names(e.Selected()))
		}
		if !e.IsBlacklisted(x) {
			t.Errorf("Expected x to be blacklisted")
		}
	})

	t.Run("weak member loses against sibling that ran", func(t *testing.T) {
		reg, group, x := setup(t)
		e := newEngine(t, reg, nil, group)
		if _, err := e.Init(); err != nil {
			t.Fatalf("Unexpected init error: %v", err)
		}
		late := registered(t, reg, UnitSpec{Name: "late", Belongs: units(group)})

		if e.IsSelected(late) || !e.IsBlacklisted(late) {
			t.Errorf("Expected late member to be blacklisted, got %v", names(e.Selected()))
		}
		if e.IsBlacklisted(x) {
			t.Errorf("Expected x to keep its place")
		}
	})

	t.Run("forced member replaces pending sibling", func(t *testing.T) {
		reg, group, x := setup(t)
		e := newEngine(t, reg, nil, group)
		e.Detach()
		late := registered(t, reg, UnitSpec{Name: "late", Belongs: units(group)})

		if err := e.AddTarget(late, true); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !e.IsSelected(late) || e.IsSelected(x) || !e.IsBlacklisted(x) {
			t.Errorf("Expected late to replace x, got selected=%v", names(e.Selected()))
		}
	})

	t.Run("forced member after sibling ran", func(t *testing.T) {
		reg, group, _ := setup(t)
		e := newEngine(t, reg, nil, group)
		if _, err := e.Init(); err != nil {
			t.Fatalf("Unexpected init error: %v", err)
		}
		e.Detach()
		late := registered(t, reg, UnitSpec{Name: "late", Belongs: units(group)})

		if err := e.AddTarget(late, true); !IsConflict(err) {
			t.Errorf("Expected conflict error, got %v", err)
		}
		if e.IsSelected(late) {
			t.Errorf("Expected late member to stay unselected")
		}
	})
}

func TestEngine_Conflicts(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "group"})
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", Conflicts: units(a)})

	e := newEngine(t, reg, nil, a)
	if err := e.AddTarget(b, true); !IsConflict(err) {
		t.Fatalf("Expected conflict error, got %v", err)
	}

	e = newEngine(t, reg, nil, b, group)
	late := registered(t, reg, UnitSpec{Name: "late", Belongs: units(group), Conflicts: units(b)})
	if e.IsSelected(late) {
		t.Errorf("Expected weakly reached conflicting unit to be skipped")
	}
}

func TestEngine_BlacklistIncludesMembers(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "group"})
	member := registered(t, reg, UnitSpec{Name: "member", Belongs: units(group)})

	e := newEngine(t, reg, nil)
	e.Blacklist(group)

	if !e.IsBlacklisted(member) {
		t.Errorf("Expected member of blacklisted group to be blacklisted")
	}
	if err := e.AddTarget(group, true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if e.IsSelected(group) {
		t.Errorf("Expected blacklisted group to stay unselected")
	}
}

func TestEngine_SetFinal(t *testing.T) {
	reg := NewRegistry(testLogger())
	e := newEngine(t, reg, Call("first", func(*Engine) error { return nil }))

	err := e.SetFinal(Call("second", func(*Engine) error { return nil }))
	if !IsTakeoverConflict(err) {
		t.Fatalf("Expected takeover conflict, got %v", err)
	}
	if e.Final().Name() != "first" {
		t.Errorf("Expected first final action to stay, got %s", e.Final().Name())
	}

	async := newEngine(t, reg, CallAsync("async", func(context.Context, *Engine) error { return nil }))
	if !async.IsSelected(reg.AsyncGroup()) {
		t.Errorf("Expected async final action to select the async group")
	}
}

func TestEngine_Derive(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", After: units(a)})

	e := newEngine(t, reg, nil, a, b)
	e.Set("key", "parent")
	if u, _ := e.Iterator().Next(); u != a {
		t.Fatalf("Expected a, got %s", u)
	}

	d := e.Derive()
	d.Set("key", "child")

	if d.EntryPoint() != a {
		t.Errorf("Expected entry point a, got %s", d.EntryPoint())
	}
	if d.ParentID() != e.ID() {
		t.Errorf("Expected parent id %s, got %s", e.ID(), d.ParentID())
	}
	if got := e.Get("key", nil); got != "parent" {
		t.Errorf("Expected parent variable untouched, got %v", got)
	}
	if u, _ := d.Iterator().Next(); u != b {
		t.Errorf("Expected derived iterator to continue with b, got %s", u)
	}
	if u, _ := e.Iterator().Next(); u != b {
		t.Errorf("Expected parent iterator to be independent, got %s", u)
	}
}

func TestEngine_Variables(t *testing.T) {
	reg := NewRegistry(testLogger())
	e, err := New(reg, nil, nil, WithVariables(map[string]any{"seed": 1}))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !e.Has("seed") || e.Len() != 1 {
		t.Fatalf("Expected seeded variable, got %v", e.Variables())
	}
	if got := e.Get("missing", "fallback"); got != "fallback" {
		t.Errorf("Expected fallback, got %v", got)
	}

	e.SetAll(map[string]any{"a": 1, "b": 2})
	e.Delete("seed")
	if diff := cmp.Diff(map[string]any{"a": 1, "b": 2}, e.Variables()); diff != "" {
		t.Errorf("Unexpected variables (-want +got):\n%s", diff)
	}
	if _, ok := e.Lookup("seed"); ok {
		t.Errorf("Expected seed to be deleted")
	}
}

func TestEngine_ToDOT(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "group", Exclusive: true})
	registered(t, reg, UnitSpec{Name: "x", Belongs: units(group)})
	registered(t, reg, UnitSpec{Name: "y", Belongs: units(group)})
	after := registered(t, reg, UnitSpec{Name: "after", After: units(group)})

	e := newEngine(t, reg, nil, group, after)
	dot := e.ToDOT()

	for _, want := range []string{
		"digraph Units {",
		"subgraph \"cluster_group\"",
		"\"group\" -> \"after\";",
		"fillcolor=\"lightgray\"",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}

func TestErrors_IsByClassAndCode(t *testing.T) {
	err := StopInit("help printed")
	if !errors.Is(err, ErrStopInit) {
		t.Errorf("Expected stop-init errors to match the sentinel")
	}
	wrapped := errors.Join(errors.New("other"), NewPermanentError("cycle", nil).WithCode(ErrCodeCycle))
	if !IsCycle(wrapped) {
		t.Errorf("Expected joined cycle error to be detected")
	}
	if errors.Is(err, NewPermanentError("x", nil).WithCode(ErrCodeStopInit)) {
		t.Errorf("Expected class to take part in matching")
	}

	e := NewPermanentError("boom", errors.New("root")).WithUnit("u").WithOperation("setup")
	if got, want := e.Error(), "[permanent] boom (unit=u, operation=setup): root"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
