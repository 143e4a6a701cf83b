// internal/trigger/trigger.go
package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopautoma/loopautoma/internal/config"
)

// Trigger decides whether the condition should be sampled on this tick.
// Implementations are driven by the monitor loop and are not goroutine-safe.
type Trigger interface {
	// Due reports whether a check fires at now. A firing trigger advances its
	// own schedule.
	Due(now time.Time) bool
	// Next reports when the next check fires. It never advances the schedule.
	Next(now time.Time) time.Time
	// Interval returns the polling cadence the monitor should tick at.
	Interval() time.Duration
}

// New builds a trigger from profile configuration.
func New(cfg config.Trigger) (Trigger, error) {
	switch cfg.Type {
	case "interval", "":
		return NewInterval(time.Duration(cfg.IntervalMs) * time.Millisecond), nil
	case "scheduled":
		sched, err := cron.ParseStandard(cfg.CronExpression)
		if err != nil {
			return nil, fmt.Errorf("parsing cron expression %q: %w", cfg.CronExpression, err)
		}
		return NewScheduled(sched, time.Duration(cfg.IntervalMs)*time.Millisecond), nil
	}
	return nil, fmt.Errorf("unknown trigger type %q", cfg.Type)
}

// IntervalTrigger fires every fixed interval, starting with the first tick.
type IntervalTrigger struct {
	interval time.Duration
	last     time.Time
}

// NewInterval creates an interval trigger; non-positive intervals default to
// one second.
func NewInterval(interval time.Duration) *IntervalTrigger {
	if interval <= 0 {
		interval = time.Second
	}
	return &IntervalTrigger{interval: interval}
}

// Due implements Trigger.
func (t *IntervalTrigger) Due(now time.Time) bool {
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Next implements Trigger.
func (t *IntervalTrigger) Next(now time.Time) time.Time {
	if t.last.IsZero() {
		return now
	}
	return t.last.Add(t.interval)
}

// Interval implements Trigger.
func (t *IntervalTrigger) Interval() time.Duration { return t.interval }

// ScheduledTrigger fires when a cron schedule's next activation time has
// passed. The monitor still ticks at the polling interval; between scheduled
// activations every tick reports not due.
type ScheduledTrigger struct {
	sched    cron.Schedule
	interval time.Duration
	next     time.Time
}

// NewScheduled creates a cron-driven trigger. interval is the monitor's
// polling cadence, not the firing cadence.
func NewScheduled(sched cron.Schedule, interval time.Duration) *ScheduledTrigger {
	if interval <= 0 {
		interval = time.Second
	}
	return &ScheduledTrigger{sched: sched, interval: interval}
}

// Due implements Trigger.
func (t *ScheduledTrigger) Due(now time.Time) bool {
	if t.next.IsZero() {
		t.next = t.sched.Next(now)
		return false
	}
	if now.Before(t.next) {
		return false
	}
	t.next = t.sched.Next(now)
	return true
}

// Next implements Trigger.
func (t *ScheduledTrigger) Next(now time.Time) time.Time {
	if t.next.IsZero() {
		return t.sched.Next(now)
	}
	return t.next
}

// Interval implements Trigger.
func (t *ScheduledTrigger) Interval() time.Duration { return t.interval }
