// internal/trigger/trigger_test.go
package trigger

import (
	"testing"
	"time"

	"github.com/loopautoma/loopautoma/internal/config"
)

func TestIntervalTrigger(t *testing.T) {
	tr := NewInterval(100 * time.Millisecond)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if !tr.Due(base) {
		t.Fatal("first tick should fire")
	}
	if tr.Due(base.Add(50 * time.Millisecond)) {
		t.Error("should not fire before the interval elapses")
	}
	if !tr.Due(base.Add(100 * time.Millisecond)) {
		t.Error("should fire once the interval elapses")
	}
	// The previous firing reset the clock.
	if tr.Due(base.Add(150 * time.Millisecond)) {
		t.Error("interval measures from the last firing")
	}
}

func TestScheduledTrigger(t *testing.T) {
	tr, err := New(config.Trigger{Type: "scheduled", CronExpression: "* * * * *", IntervalMs: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	if tr.Due(base) {
		t.Error("first tick only primes the schedule")
	}
	if tr.Due(base.Add(10 * time.Second)) {
		t.Error("mid-minute tick should not fire")
	}
	if !tr.Due(base.Add(31 * time.Second)) {
		t.Error("tick past the minute boundary should fire")
	}
	if tr.Due(base.Add(32 * time.Second)) {
		t.Error("schedule advances after firing")
	}
}

func TestIntervalTriggerNext(t *testing.T) {
	tr := NewInterval(100 * time.Millisecond)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if got := tr.Next(base); !got.Equal(base) {
		t.Errorf("Next before any firing = %v, want %v", got, base)
	}
	tr.Due(base)
	want := base.Add(100 * time.Millisecond)
	if got := tr.Next(base.Add(30 * time.Millisecond)); !got.Equal(want) {
		t.Errorf("Next after firing = %v, want %v", got, want)
	}
	// Next never advances the schedule.
	if !tr.Due(base.Add(100 * time.Millisecond)) {
		t.Error("trigger should still fire on schedule after Next")
	}
}

func TestScheduledTriggerNext(t *testing.T) {
	tr, err := New(config.Trigger{Type: "scheduled", CronExpression: "* * * * *", IntervalMs: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	boundary := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if got := tr.Next(base); !got.Equal(boundary) {
		t.Errorf("Next before priming = %v, want %v", got, boundary)
	}
	tr.Due(base) // primes
	if got := tr.Next(base.Add(10 * time.Second)); !got.Equal(boundary) {
		t.Errorf("Next after priming = %v, want %v", got, boundary)
	}
}

func TestNewDefaults(t *testing.T) {
	tr, err := New(config.Trigger{Type: "interval"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Interval() != time.Second {
		t.Errorf("default interval = %v", tr.Interval())
	}

	if _, err := New(config.Trigger{Type: "scheduled", CronExpression: "bogus"}); err == nil {
		t.Error("invalid cron expression should fail")
	}

	if _, err := New(config.Trigger{Type: "webhook"}); err == nil {
		t.Error("unknown trigger type should fail")
	}
}
