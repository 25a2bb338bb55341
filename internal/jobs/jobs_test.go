package jobs

import (
	"testing"
	"time"
)

func TestTracker(t *testing.T) {
	tracker := NewTracker()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	tracker.Start(Started{ID: "index", Label: "Indexing"})
	tracker.Start(Started{ID: "deps", Label: "Resolving dependencies"})
	tracker.Start(Started{ID: "index", Label: "Indexing", Description: "42 files"})

	active := tracker.Active()
	if len(active) != 2 {
		t.Fatalf("Expected 2 active jobs, got %d", len(active))
	}
	if active[0].ID != "index" || active[1].ID != "deps" {
		t.Errorf("Expected oldest first, got %s then %s", active[0].ID, active[1].ID)
	}
	if active[0].Description != "42 files" {
		t.Errorf("Expected restart to update the description, got %q", active[0].Description)
	}

	if !tracker.End("index") {
		t.Error("Expected End to report a known job")
	}
	if tracker.End("index") {
		t.Error("Expected End to report an unknown job")
	}
	if len(tracker.Active()) != 1 {
		t.Errorf("Expected 1 active job, got %d", len(tracker.Active()))
	}
}
