package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type recordingListener struct {
	added []string
	force []bool
}

func (l *recordingListener) AddTarget(u *Unit, force bool) error {
	l.added = append(l.added, u.Name())
	l.force = append(l.force, force)
	return nil
}

func TestRegistry_DuplicatePath(t *testing.T) {
	reg := NewRegistry(testLogger())
	registered(t, reg, UnitSpec{Name: "a"})

	other := MustNewUnit(UnitSpec{Name: "other"})
	err := reg.Register("test.a", other)
	if !IsDuplicate(err) {
		t.Fatalf("Expected duplicate registration error, got %v", err)
	}
	if u, _ := reg.Lookup("test.a"); u.Name() != "a" {
		t.Errorf("Expected original unit to stay registered, got %s", u)
	}
}

func TestRegistry_DuplicateUnit(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})

	if err := reg.Register("test.again", a); !IsDuplicate(err) {
		t.Fatalf("Expected duplicate registration error, got %v", err)
	}
}

func TestRegistry_ListenersNotifiedWeakly(t *testing.T) {
	reg := NewRegistry(testLogger())
	l := &recordingListener{}
	reg.AddListener(l)

	registered(t, reg, UnitSpec{Name: "a"})
	registered(t, reg, UnitSpec{Name: "b"})

	if diff := cmp.Diff([]string{"a", "b"}, l.added); diff != "" {
		t.Errorf("Unexpected notifications (-want +got):\n%s", diff)
	}
	for i, force := range l.force {
		if force {
			t.Errorf("Expected weak notification %d, got forced", i)
		}
	}

	if !reg.RemoveListener(l) {
		t.Fatalf("Expected listener to be removed")
	}
	registered(t, reg, UnitSpec{Name: "c"})
	if len(l.added) != 2 {
		t.Errorf("Expected no notification after removal, got %v", l.added)
	}
}

func TestRegistry_BelongsBecomesContains(t *testing.T) {
	reg := NewRegistry(testLogger())
	first := registered(t, reg, UnitSpec{Name: "first"})
	last := registered(t, reg, UnitSpec{Name: "last"})
	group := registered(t, reg, UnitSpec{Name: "group", After: units(first), Before: units(last)})
	member := registered(t, reg, UnitSpec{Name: "member", Belongs: units(group)})

	if diff := cmp.Diff([]string{"member"}, names(group.Contains())); diff != "" {
		t.Errorf("Unexpected group members (-want +got):\n%s", diff)
	}
	if !containsUnit(member.After(), first) {
		t.Errorf("Expected member to inherit after=first, got %v", names(member.After()))
	}
	if !containsUnit(member.Before(), last) {
		t.Errorf("Expected member to inherit before=last, got %v", names(member.Before()))
	}
	if !containsUnit(first.Before(), member) {
		t.Errorf("Expected first.before to include member, got %v", names(first.Before()))
	}
	if !containsUnit(last.After(), member) {
		t.Errorf("Expected last.after to include member, got %v", names(last.After()))
	}
}

func TestRegistry_ContainsBecomesBelongs(t *testing.T) {
	reg := NewRegistry(testLogger())
	member := registered(t, reg, UnitSpec{Name: "member"})
	group := registered(t, reg, UnitSpec{Name: "group", Contains: units(member)})

	if diff := cmp.Diff([]string{"group"}, names(member.Belongs())); diff != "" {
		t.Errorf("Unexpected groups (-want +got):\n%s", diff)
	}
	if len(group.Contains()) != 1 {
		t.Errorf("Expected one member, got %v", names(group.Contains()))
	}
}

func TestRegistry_OrderingAgainstGroupReachesMembers(t *testing.T) {
	reg := NewRegistry(testLogger())
	group := registered(t, reg, UnitSpec{Name: "group"})
	m1 := registered(t, reg, UnitSpec{Name: "m1", Belongs: units(group)})
	m2 := registered(t, reg, UnitSpec{Name: "m2", Belongs: units(group)})

	early := registered(t, reg, UnitSpec{Name: "early", Before: units(group)})

	for _, m := range []*Unit{m1, m2} {
		if !containsUnit(m.After(), early) {
			t.Errorf("Expected %s.after to include early, got %v", m, names(m.After()))
		}
		if !containsUnit(early.Before(), m) {
			t.Errorf("Expected early.before to include %s, got %v", m, names(early.Before()))
		}
	}
	if !containsUnit(group.After(), early) {
		t.Errorf("Expected group.after to include early, got %v", names(group.After()))
	}
}

func TestRegistry_AsyncUnitsFollowAsyncGroup(t *testing.T) {
	reg := NewRegistry(testLogger())
	u := registered(t, reg, UnitSpec{Name: "async_work", Action: DoAsync(nil)})

	group := reg.AsyncGroup()
	if !containsUnit(u.Depends(), group) {
		t.Errorf("Expected async unit to depend on the async group, got %v", names(u.Depends()))
	}
	if !containsUnit(u.After(), group) {
		t.Errorf("Expected async unit to run after the async group, got %v", names(u.After()))
	}
	if !group.Exclusive() {
		t.Errorf("Expected async group to be exclusive")
	}
}

func TestRegistry_LookupName(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := registered(t, reg, UnitSpec{Name: "a"})

	tests := []struct {
		query string
		want  *Unit
		found bool
	}{
		{"a", a, true},
		{"test.a", a, true},
		{"async", reg.AsyncGroup(), true},
		{"missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ok := reg.LookupName(tt.query)
			if ok != tt.found {
				t.Fatalf("Expected found=%v, got %v", tt.found, ok)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRegistry_UnitsInRegistrationOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	registered(t, reg, UnitSpec{Name: "z"})
	registered(t, reg, UnitSpec{Name: "a"})

	if diff := cmp.Diff([]string{"async", "z", "a"}, names(reg.Units())); diff != "" {
		t.Errorf("Unexpected units (-want +got):\n%s", diff)
	}
}

func TestNewUnit_Validation(t *testing.T) {
	tests := []struct {
		name    string
		spec    UnitSpec
		wantErr bool
	}{
		{"valid", UnitSpec{Name: "ok"}, false},
		{"empty name", UnitSpec{}, true},
		{"blank name", UnitSpec{Name: "   "}, true},
		{"nil relation", UnitSpec{Name: "bad", After: []*Unit{nil}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUnit(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !hasCode(err, ErrCodeValidation) {
				t.Errorf("Expected validation error code, got %v", err)
			}
		})
	}
}
