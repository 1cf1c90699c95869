package engine

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// registered builds a unit from spec and registers it under "test.<name>".
func registered(t *testing.T, reg *Registry, spec UnitSpec) *Unit {
	t.Helper()
	u, err := NewUnit(spec)
	if err != nil {
		t.Fatalf("Failed to build unit %s: %v", spec.Name, err)
	}
	if err := reg.Register("test."+spec.Name, u); err != nil {
		t.Fatalf("Failed to register unit %s: %v", spec.Name, err)
	}
	return u
}

func names(units []*Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name()
	}
	return out
}

func drain(t *testing.T, it *Iterator) []string {
	t.Helper()
	var out []string
	for {
		u, err := it.Next()
		if err != nil {
			t.Fatalf("Unexpected iterator error: %v", err)
		}
		if u == nil {
			return out
		}
		out = append(out, u.Name())
	}
}

func units(u ...*Unit) []*Unit { return u }

func TestIterator_BeforeAfterOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", Before: units(a)})
	c := registered(t, reg, UnitSpec{Name: "c", Before: units(a), After: units(b)})

	it := NewIterator(testLogger(), a, b, c)

	got := drain(t, it)
	if diff := cmp.Diff([]string{"b", "c", "a"}, got); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}
}

func TestIterator_AddNodeWhileIterating(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", Before: units(a)})
	c := registered(t, reg, UnitSpec{Name: "c", Before: units(a), After: units(b)})

	it := NewIterator(testLogger(), a, b, c)

	first, err := it.Next()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if first != b {
		t.Fatalf("Expected first unit b, got %s", first)
	}

	d := registered(t, reg, UnitSpec{Name: "d", Before: units(c)})
	it.AddNode(d)

	got := drain(t, it)
	if diff := cmp.Diff([]string{"d", "c", "a"}, got); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}
}

func TestIterator_Cycle(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", Before: units(a)})
	c := registered(t, reg, UnitSpec{Name: "c", Before: units(b), After: units(a)})

	it := NewIterator(testLogger(), a, b, c)

	u, err := it.Next()
	if err == nil {
		t.Fatalf("Expected cycle error, got unit %s", u)
	}
	if !IsCycle(err) {
		t.Fatalf("Expected cycle error, got %v", err)
	}

	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("Expected EngineError, got %T", err)
	}
	stuck, _ := engineErr.Details["units"].([]string)
	if diff := cmp.Diff([]string{"a", "b", "c"}, stuck); diff != "" {
		t.Errorf("Unexpected stuck units (-want +got):\n%s", diff)
	}
}

func TestIterator_ExclusiveGroupFirstWins(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "g", Exclusive: true})
	x := registered(t, reg, UnitSpec{Name: "x", Belongs: units(group)})
	y := registered(t, reg, UnitSpec{Name: "y", Belongs: units(group)})

	it := NewIterator(testLogger(), x)
	first, err := it.Next()
	if err != nil || first != x {
		t.Fatalf("Expected x, got %v (err=%v)", first, err)
	}

	it.AddNode(y)

	got, err := it.Next()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("Expected exhausted iterator, got %s", got)
	}
	if diff := cmp.Diff([]string{"x"}, names(it.Produced())); diff != "" {
		t.Errorf("Unexpected produced units (-want +got):\n%s", diff)
	}
}

func TestIterator_RemoveNode(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", Before: units(a)})
	c := registered(t, reg, UnitSpec{Name: "c", Before: units(a), After: units(b)})

	it := NewIterator(testLogger(), a, b, c)
	if u, _ := it.Next(); u != b {
		t.Fatalf("Expected b, got %s", u)
	}

	if err := it.RemoveNode(c); err != nil {
		t.Fatalf("Unexpected error removing c: %v", err)
	}

	got := drain(t, it)
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}

	err := it.RemoveNode(b)
	if !IsIllegalRemoval(err) {
		t.Errorf("Expected illegal removal error, got %v", err)
	}
}

func TestIterator_RemoveUnknownNode(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b"})

	it := NewIterator(testLogger(), a)
	if err := it.RemoveNode(b); err != nil {
		t.Errorf("Expected removal of unknown node to be a no-op, got %v", err)
	}
	if it.Len() != 1 {
		t.Errorf("Expected 1 pending node, got %d", it.Len())
	}
}

func TestIterator_AddNodeTwice(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})

	it := NewIterator(testLogger(), a, a)
	it.AddNode(a)

	got := drain(t, it)
	if diff := cmp.Diff([]string{"a"}, got); diff != "" {
		t.Errorf("Unexpected order (-want +got):\n%s", diff)
	}

	it.AddNode(a)
	if u, _ := it.Next(); u != nil {
		t.Errorf("Expected produced node to stay produced, got %s", u)
	}
}

func TestIterator_Copy(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", After: units(a)})
	c := registered(t, reg, UnitSpec{Name: "c", After: units(b)})

	it := NewIterator(testLogger(), a, b, c)
	if u, _ := it.Next(); u != a {
		t.Fatalf("Expected a, got %s", u)
	}

	cp := it.Copy()

	if diff := cmp.Diff([]string{"b", "c"}, drain(t, cp)); diff != "" {
		t.Errorf("Unexpected copy order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a"}, names(it.Produced())); diff != "" {
		t.Errorf("Copy changed the original (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c"}, drain(t, it)); diff != "" {
		t.Errorf("Unexpected original order (-want +got):\n%s", diff)
	}
	if cp.Last() != c {
		t.Errorf("Expected copy to end at c, got %s", cp.Last())
	}
}

func TestIterator_Pending(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})
	b := registered(t, reg, UnitSpec{Name: "b", After: units(a)})

	it := NewIterator(testLogger(), a, b)

	if diff := cmp.Diff([]string{"a"}, names(it.Pending(b))); diff != "" {
		t.Errorf("Unexpected pending units (-want +got):\n%s", diff)
	}
	_, _ = it.Next()
	if len(it.Pending(b)) != 0 {
		t.Errorf("Expected b to be ready, still waiting for %v", names(it.Pending(b)))
	}
}

func TestIterator_TopologicalSoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		reg := NewRegistry(testLogger())
		var all []*Unit
		for i := 0; i < 15; i++ {
			var after []*Unit
			for _, prev := range all {
				if rng.Intn(4) == 0 {
					after = append(after, prev)
				}
			}
			all = append(all, registered(t, reg, UnitSpec{
				Name:  fmt.Sprintf("u%d_%d", round, i),
				After: after,
			}))
		}

		order := make([]*Unit, len(all))
		copy(order, all)
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		it := NewIterator(testLogger(), order...)
		position := make(map[string]int)
		for i, name := range drain(t, it) {
			position[name] = i
		}

		if len(position) != len(all) {
			t.Fatalf("Round %d: expected %d units, got %d", round, len(all), len(position))
		}
		for _, u := range all {
			for _, dep := range u.After() {
				if position[dep.Name()] >= position[u.Name()] {
					t.Errorf("Round %d: expected %s before %s", round, dep.Name(), u.Name())
				}
			}
		}
	}
}
