package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wizd/internal/db"
	"wizd/internal/eventbus"
	"wizd/internal/wiz"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("device_select", map[string]any{"ip": "192.0.2.10"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("fade_completed", map[string]any{"plan_id": "abc"}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	// Most recent first
	if entries[0].EventType != "fade_completed" {
		t.Errorf("first entry = %q", entries[0].EventType)
	}
	if entries[1].Payload["ip"] != "192.0.2.10" {
		t.Errorf("payload = %v", entries[1].Payload)
	}
}

func TestByType(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Append("fade_completed", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Append("devices", map[string]any{"count": 2}); err != nil {
		t.Fatal(err)
	}

	entries, err := s.ByType("fade_completed", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d fade entries", len(entries))
	}

	entries, err = s.ByType("fade_completed", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("limit ignored, got %d", len(entries))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("devices", nil); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteOlderThan(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("removed %d fresh entries", removed)
	}

	// A zero retention window cuts everything written before now
	removed, err = s.DeleteOlderThan(-time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}

func TestRecordFromBus(t *testing.T) {
	s := newTestStore(t)

	bus := eventbus.NewWithConfig(1, 64)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})
	s.Record(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeDevices, Data: map[string]any{
		"devices": []wiz.Device{{IP: "192.0.2.10"}, {IP: "192.0.2.11"}},
	}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeFadeStep, Data: map[string]any{"plan_id": "x", "step": 1}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeFadeCompleted, Data: map[string]any{"plan_id": "x"}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := s.Recent(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 2 {
			if entries[1].Payload["count"] != float64(2) {
				t.Fatalf("devices payload = %v", entries[1].Payload)
			}
			if entries[0].EventType != "fade_completed" {
				t.Fatalf("entries = %v, %v", entries[0].EventType, entries[1].EventType)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d entries, want 2 (steps must not be recorded)", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
