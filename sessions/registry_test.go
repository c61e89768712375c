package sessions

import (
	"fmt"
	"testing"
	"time"
)

func TestNewSessionIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate session id: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRegistryCapacity(t *testing.T) {
	r := NewRegistry(WithMaxSessions(10))

	for i := 0; i < 10; i++ {
		if err := r.Add(fmt.Sprintf("sess-%d", i), ConnMeta{}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}

	if err := r.Add("sess-overflow", ConnMeta{}); err != ErrCapacityExceeded {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}

	// Removing one frees a slot for a subsequent connection.
	r.Remove("sess-0")
	if err := r.Add("sess-new", ConnMeta{}); err != nil {
		t.Fatalf("add after remove: %v", err)
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("sess-1", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add("sess-1", ConnMeta{}); err == nil {
		t.Fatalf("expected error on duplicate session id")
	}
}

func TestRegistryStateMonotonic(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("sess-1", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	r.UpdateState("sess-1", StateConnected)
	s, err := r.Get("sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.State != StateConnected {
		t.Fatalf("expected connected, got %s", s.State)
	}

	// Reverse transition must be dropped.
	r.UpdateState("sess-1", StateConnecting)
	s, _ = r.Get("sess-1")
	if s.State != StateConnected {
		t.Fatalf("regressive transition applied: %s", s.State)
	}

	r.UpdateState("sess-1", StateDisconnected)
	s, _ = r.Get("sess-1")
	if s.State != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", s.State)
	}
	r.UpdateState("sess-1", StateConnected)
	s, _ = r.Get("sess-1")
	if s.State != StateDisconnected {
		t.Fatalf("disconnected must be terminal, got %s", s.State)
	}
}

func TestRegistryUpdateUnknownSessionIgnored(t *testing.T) {
	r := NewRegistry()
	// Must not panic or create state.
	r.UpdateState("ghost", StateConnected)
	r.Touch("ghost")
	if _, err := r.Get("ghost"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("sess-1", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Remove("sess-1")
	r.Remove("sess-1") // second removal is a no-op
	if _, err := r.Get("sess-1"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryDisconnectedFreesCapacity(t *testing.T) {
	r := NewRegistry(WithMaxSessions(1))
	if err := r.Add("sess-1", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.UpdateState("sess-1", StateDisconnected)

	// A disconnected session no longer counts against capacity even before
	// removal completes.
	if err := r.Add("sess-2", ConnMeta{}); err != nil {
		t.Fatalf("add after disconnect: %v", err)
	}
}

func TestRegistryExpireIdle(t *testing.T) {
	var expired []string
	r := NewRegistry(
		WithIdleTimeout(5*time.Minute),
		WithExpireFunc(func(id string) { expired = append(expired, id) }),
	)
	if err := r.Add("sess-stale", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Within the idle horizon nothing expires.
	if ids := r.ExpireIdle(time.Now().Add(3 * time.Minute)); len(ids) != 0 {
		t.Fatalf("nothing should expire at 3m idle, got %v", ids)
	}

	// Past the horizon the session is removed and the hook fires.
	ids := r.ExpireIdle(time.Now().Add(6 * time.Minute))
	if len(ids) != 1 || ids[0] != "sess-stale" {
		t.Fatalf("expected [sess-stale], got %v", ids)
	}
	if len(expired) != 1 || expired[0] != "sess-stale" {
		t.Fatalf("expire hook not invoked: %v", expired)
	}
	if _, err := r.Get("sess-stale"); err != ErrSessionNotFound {
		t.Fatalf("expired session still present")
	}

	// Sessions created after the sweep are untouched by a current-time sweep.
	if err := r.Add("sess-fresh", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if ids := r.ExpireIdle(time.Now()); len(ids) != 0 {
		t.Fatalf("fresh session expired: %v", ids)
	}
}

func TestRegistryMetrics(t *testing.T) {
	r := NewRegistry(WithIdleTimeout(time.Minute))

	for i := 0; i < 3; i++ {
		if err := r.Add(fmt.Sprintf("sess-%d", i), ConnMeta{}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	r.UpdateState("sess-0", StateConnected)
	r.UpdateState("sess-1", StateConnected)

	m := r.Metrics()
	if m.TotalCreated != 3 {
		t.Fatalf("TotalCreated = %d, want 3", m.TotalCreated)
	}
	if m.Active != 3 || m.Connected != 2 || m.Connecting != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}

	r.ExpireIdle(time.Now().Add(2 * time.Minute))
	m = r.Metrics()
	if m.Expired != 3 || m.Active != 0 {
		t.Fatalf("unexpected metrics after sweep: %+v", m)
	}
	// Creation counter survives expiry.
	if m.TotalCreated != 3 {
		t.Fatalf("TotalCreated changed after sweep: %d", m.TotalCreated)
	}
}

func TestRegistryActiveIDs(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("sess-1", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := r.Add("sess-2", ConnMeta{}); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.UpdateState("sess-2", StateDisconnected)

	ids := r.ActiveIDs()
	if len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("expected [sess-1], got %v", ids)
	}
}
