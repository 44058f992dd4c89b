package session

import (
	"testing"

	"botcore/internal/broker"
)

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	if got := r.GetUserAdapter("u1", "mock"); got != nil {
		t.Fatal("empty registry should return nil")
	}

	a := broker.NewMockAdapter(100, 1, true)
	if replaced := r.SetUserAdapter("u1", "mock", a); replaced != nil {
		t.Fatal("first set should replace nothing")
	}
	if got := r.GetUserAdapter("u1", "mock"); got != a {
		t.Fatal("get should return the stored adapter")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}

	// Same user, different broker is a separate session.
	b := broker.NewMockAdapter(100, 1, false)
	r.SetUserAdapter("u1", "mt5", b)
	if r.Count() != 2 {
		t.Fatalf("Count = %d, want 2", r.Count())
	}
	if got := len(r.GetUserSessions("u1")); got != 2 {
		t.Fatalf("GetUserSessions = %d entries, want 2", got)
	}
	if got := len(r.GetUserSessions("u2")); got != 0 {
		t.Fatalf("GetUserSessions for unknown user = %d, want 0", got)
	}

	// Replacing hands back the old adapter so callers can disconnect it.
	c := broker.NewMockAdapter(200, 1, true)
	if replaced := r.SetUserAdapter("u1", "mock", c); replaced != a {
		t.Fatal("replace should return the previous adapter")
	}

	if removed := r.RemoveUserAdapter("u1", "mock"); removed != c {
		t.Fatal("remove should return the stored adapter")
	}
	if removed := r.RemoveUserAdapter("u1", "mock"); removed != nil {
		t.Fatal("second remove should return nil")
	}
	if r.Count() != 1 {
		t.Fatalf("Count after removal = %d, want 1", r.Count())
	}
}
