// internal/event/event.go
package event

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type tags a runtime occurrence.
type Type string

const (
	TriggerFired         Type = "trigger_fired"
	ConditionEvaluated   Type = "condition_evaluated"
	ActionStarted        Type = "action_started"
	ActionCompleted      Type = "action_completed"
	WatchdogTripped      Type = "watchdog_tripped"
	TerminationTriggered Type = "termination_triggered"
	StateChanged         Type = "state_changed"
	MonitorTick          Type = "monitor_tick"
	Error                Type = "error"
)

// Event is one immutable, timestamped runtime record. Events are emitted in
// the exact order the corresponding steps occur within a tick; consumers rely
// on that order to reconstruct causality.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	ProfileID string    `json:"profile_id,omitempty"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Payload fields, populated per type.
	Reason      string `json:"reason,omitempty"`      // watchdog_tripped, termination_triggered
	Description string `json:"description,omitempty"` // action_started, action_completed
	Result      bool   `json:"result,omitempty"`      // condition_evaluated
	Success     bool   `json:"success,omitempty"`     // action_completed
	From        string `json:"from,omitempty"`        // state_changed
	To          string `json:"to,omitempty"`          // state_changed
	NextCheckMs int64  `json:"next_check_ms,omitempty"`
	CooldownMs  int64  `json:"cooldown_ms,omitempty"` // monitor_tick: cooldown remaining
	Message     string `json:"message,omitempty"`     // error
}

// New stamps an event with a fresh id and the current time.
func New(typ Type, runID, profileID string) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		ProfileID: profileID,
		Type:      typ,
		Timestamp: time.Now(),
	}
}

// Sink receives events in emission order. Implementations must not reorder or
// batch; retention is the sink's concern, not the runtime's.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans an event out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// ChannelSink buffers events on a bounded channel for a host to drain. When
// the buffer is full the oldest event is dropped so the monitor never blocks
// on a slow consumer; Dropped reports how many were lost.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size <= 0 {
		size = 256
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Emit implements Sink.
func (s *ChannelSink) Emit(e Event) {
	for {
		select {
		case s.ch <- e:
			return
		default:
			select {
			case <-s.ch:
				s.dropped.Add(1)
			default:
			}
		}
	}
}

// Events returns the drain side of the buffer.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Dropped reports how many events were discarded to make room. Safe to call
// while another goroutine emits.
func (s *ChannelSink) Dropped() int { return int(s.dropped.Load()) }
