// ABOUTME: Tests for the session registry.
// ABOUTME: Covers lifecycle, idle-timer refresh, and eviction.

package mcp

import (
	"testing"
	"time"

	"github.com/2389/metricool-mcp/internal/tools"
)

func testToolbox(t *testing.T) *tools.Toolbox {
	t.Helper()
	tb, err := tools.NewToolbox(tools.Config{
		Upstream: &fakeUpstream{},
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewToolbox() error = %v", err)
	}
	return tb
}

func TestSessionStoreCreateAndGet(t *testing.T) {
	store := newSessionStore()
	tb := testToolbox(t)

	sess := store.create("2025-11-25", tb, "owner-token")
	if sess.id == "" {
		t.Fatal("session id is empty")
	}
	if store.count() != 1 {
		t.Errorf("count() = %d, want 1", store.count())
	}

	got, ok := store.get(sess.id)
	if !ok {
		t.Fatal("session not found")
	}
	if got != sess {
		t.Error("get returned a different session instance")
	}
	if got.toolbox != tb {
		t.Error("session not bound to the created toolbox")
	}
}

func TestSessionStoreGetUnknown(t *testing.T) {
	store := newSessionStore()
	if _, ok := store.get("nope"); ok {
		t.Error("get returned a session for an unknown id")
	}
}

func TestSessionStoreDelete(t *testing.T) {
	store := newSessionStore()
	sess := store.create("2025-11-25", testToolbox(t), "")

	if !store.delete(sess.id) {
		t.Error("delete returned false for an existing session")
	}
	if store.delete(sess.id) {
		t.Error("delete returned true for an already-removed session")
	}
	if store.count() != 0 {
		t.Errorf("count() = %d, want 0", store.count())
	}
}

func TestSessionStoreEvictIdle(t *testing.T) {
	store := newSessionStore()

	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	stale := store.create("2025-11-25", testToolbox(t), "")
	fresh := store.create("2025-11-25", testToolbox(t), "")

	// The fresh session is used 40 minutes later; the stale one is not
	current = current.Add(40 * time.Minute)
	if _, ok := store.get(fresh.id); !ok {
		t.Fatal("fresh session not found")
	}

	evicted := store.evictIdle(30 * time.Minute)
	if len(evicted) != 1 || evicted[0] != stale.id {
		t.Errorf("evicted = %v, want [%s]", evicted, stale.id)
	}

	if _, ok := store.get(stale.id); ok {
		t.Error("stale session survived eviction")
	}
	if _, ok := store.get(fresh.id); !ok {
		t.Error("fresh session was evicted")
	}
}

func TestSessionStoreGetRefreshesIdleTimer(t *testing.T) {
	store := newSessionStore()

	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	sess := store.create("2025-11-25", testToolbox(t), "")

	// Touch the session every 20 minutes; it never crosses the 30m threshold
	for i := 0; i < 3; i++ {
		current = current.Add(20 * time.Minute)
		if _, ok := store.get(sess.id); !ok {
			t.Fatal("session not found")
		}
		if evicted := store.evictIdle(30 * time.Minute); len(evicted) != 0 {
			t.Fatalf("evicted = %v, want none", evicted)
		}
	}
}
