package audit

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func TestRecordAndRetrieveEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.RecordExit(ctx, "acme.weather", "Plugin process exited with code 1"); err != nil {
		t.Fatalf("RecordExit() error = %v", err)
	}
	if err := store.RecordRestart(ctx, "acme.weather", 1); err != nil {
		t.Fatalf("RecordRestart() error = %v", err)
	}
	if err := store.RecordMaxRestartsExceeded(ctx, "acme.weather"); err != nil {
		t.Fatalf("RecordMaxRestartsExceeded() error = %v", err)
	}

	events, err := store.RecentEvents(ctx, "acme.weather", 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("RecentEvents() returned %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Event != "max_restarts_exceeded" {
		t.Errorf("events[0].Event = %q, want max_restarts_exceeded", events[0].Event)
	}
}

func TestRecentEventsScopedToPlugin(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.RecordExit(ctx, "acme.weather", "boom"); err != nil {
		t.Fatalf("RecordExit() error = %v", err)
	}
	if err := store.RecordExit(ctx, "acme.other", "boom"); err != nil {
		t.Fatalf("RecordExit() error = %v", err)
	}

	events, err := store.RecentEvents(ctx, "acme.weather", 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Plugin != "acme.weather" {
		t.Errorf("RecentEvents() = %+v, want exactly one acme.weather event", events)
	}
}
