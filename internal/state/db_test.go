// internal/state/db_test.go
package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/loopautoma/loopautoma/internal/event"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	start := time.Now().Add(-2 * time.Second)
	if err := db.StartRun("run-1", "claude-loop", start); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := db.FinishRun("run-1", "terminated", "task complete", time.Now()); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	runs, err := db.GetRuns("claude-loop", 10)
	if err != nil {
		t.Fatalf("GetRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].State != "terminated" || runs[0].Reason != "task complete" {
		t.Errorf("unexpected run record: %+v", runs[0])
	}
	if runs[0].DurationMs <= 0 {
		t.Errorf("duration not computed: %d", runs[0].DurationMs)
	}
}

func TestEventsKeepEmissionOrder(t *testing.T) {
	db := openTestDB(t)
	db.StartRun("run-1", "p", time.Now())

	base := time.Now()
	types := []event.Type{event.TriggerFired, event.ConditionEvaluated, event.ActionStarted, event.ActionCompleted}
	for i, typ := range types {
		e := event.New(typ, "run-1", "p")
		e.Timestamp = base.Add(time.Duration(i) * time.Millisecond)
		if err := db.RecordEvent(e); err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}

	events, err := db.GetEvents("run-1", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(events))
	}
	for i, typ := range types {
		if events[i].Type != string(typ) {
			t.Errorf("events[%d].Type = %s, want %s", i, events[i].Type, typ)
		}
	}
}

func TestEventPayloadScrubbed(t *testing.T) {
	db := openTestDB(t)
	db.StartRun("run-1", "p", time.Now())

	e := event.New(event.Error, "run-1", "p")
	e.Message = "request failed with key sk-abcdefghijklmnop1234"
	if err := db.RecordEvent(e); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	events, err := db.GetEvents("run-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Payload != "request failed with key [REDACTED]" {
		t.Errorf("payload not scrubbed: %q", events[0].Payload)
	}
}

func TestCleanup(t *testing.T) {
	db := openTestDB(t)

	old := time.Now().AddDate(0, 0, -120)
	db.StartRun("old-run", "p", old)
	db.FinishRun("old-run", "stopped", "", old.Add(time.Minute))
	db.StartRun("new-run", "p", time.Now())

	deleted, err := db.Cleanup(90)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted == 0 {
		t.Error("expected old records to be deleted")
	}

	runs, _ := db.GetRuns("", 0)
	if len(runs) != 1 || runs[0].ID != "new-run" {
		t.Errorf("expected only new-run to survive, got %+v", runs)
	}
}
