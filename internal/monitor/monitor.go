// internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopautoma/loopautoma/internal/action"
	"github.com/loopautoma/loopautoma/internal/condition"
	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/event"
	"github.com/loopautoma/loopautoma/internal/screen"
	"github.com/loopautoma/loopautoma/internal/termination"
	"github.com/loopautoma/loopautoma/internal/trigger"
)

// State of the monitor lifecycle.
type State string

const (
	Idle         State = "idle"
	Running      State = "running"
	Stopped      State = "stopped"
	PanicStopped State = "panic_stopped"
)

// ErrAlreadyRunning is returned by Start on a Running monitor.
var ErrAlreadyRunning = errors.New("monitor already running")

// Monitor is the top-level state machine for one profile: it ticks on the
// trigger's cadence and orchestrates trigger, condition, termination checks,
// guardrails, and action execution, emitting an ordered event stream.
type Monitor struct {
	profile *config.Profile
	env     *action.Env
	trig    trigger.Trigger
	cond    *condition.Evaluator
	runner  *action.Runner
	steps   []action.Step
	matcher *termination.Matcher
	sink    event.Sink
	log     *slog.Logger

	mu       sync.Mutex
	state    State
	runID    string
	runStart time.Time
	// lastProgress is touched when a run starts and before every activation
	// attempt; the heartbeat watchdog measures staleness against it.
	lastProgress   time.Time
	lastActivation time.Time
	activations    []time.Time
	cancelRun      context.CancelFunc
}

// New assembles a monitor for a validated profile. env supplies the capture,
// automation, LLM, and OCR collaborators; sink receives the event stream.
func New(p *config.Profile, env *action.Env, sink event.Sink, interActionDelay time.Duration) (*Monitor, error) {
	trig, err := trigger.New(p.Trigger)
	if err != nil {
		return nil, fmt.Errorf("building trigger: %w", err)
	}
	cond, err := condition.New(p, env.Capture)
	if err != nil {
		return nil, fmt.Errorf("building condition evaluator: %w", err)
	}
	matcher, err := termination.NewMatcher(p.Termination)
	if err != nil {
		return nil, fmt.Errorf("building termination matcher: %w", err)
	}
	steps, err := action.BuildAll(p)
	if err != nil {
		return nil, fmt.Errorf("building actions: %w", err)
	}
	if sink == nil {
		sink = event.NopSink{}
	}
	if env.Log == nil {
		env.Log = slog.Default()
	}
	if env.Matcher == nil {
		env.Matcher = matcher
	}
	env.Profile = p

	return &Monitor{
		profile: p,
		env:     env,
		trig:    trig,
		cond:    cond,
		runner:  action.NewRunner(env, sink, interActionDelay),
		steps:   steps,
		matcher: matcher,
		sink:    sink,
		log:     env.Log.With("profile", p.ID),
		state:   Idle,
	}, nil
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RunID returns the id of the current or most recent run.
func (m *Monitor) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// Start transitions to Running and begins a fresh run: new run id, reset
// condition baselines, cleared guardrail counters. Returns ErrAlreadyRunning
// on a Running monitor.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Running {
		return ErrAlreadyRunning
	}

	now := time.Now()
	from := m.state
	m.state = Running
	m.runID = uuid.NewString()
	m.runStart = now
	m.lastProgress = now
	m.lastActivation = time.Time{}
	m.activations = nil
	m.cond.Reset()

	m.log.Info("monitor started", "run_id", m.runID)
	m.emitStateChange(from, Running, "")
	return nil
}

// Stop transitions Running to Stopped. Idempotent: stopping a monitor that is
// not running emits nothing.
func (m *Monitor) Stop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(reason)
}

func (m *Monitor) stopLocked(reason string) {
	if m.state != Running {
		return
	}
	if m.cancelRun != nil {
		m.cancelRun()
	}
	m.state = Stopped
	m.log.Info("monitor stopped", "run_id", m.runID, "reason", reason)
	m.emitStateChange(Running, Stopped, reason)
}

// PanicStop transitions any state to PanicStopped immediately, bypassing
// guardrails and the tick in flight. Idempotent: a second call emits nothing.
func (m *Monitor) PanicStop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == PanicStopped {
		return
	}
	if m.cancelRun != nil {
		m.cancelRun()
	}
	from := m.state
	m.state = PanicStopped
	m.log.Warn("panic stop", "run_id", m.runID)
	m.emitStateChange(from, PanicStopped, "panic_stop")
}

// Loop drives ticks at the trigger's cadence until the context is canceled or
// the monitor leaves Running.
func (m *Monitor) Loop(ctx context.Context) {
	ticker := time.NewTicker(m.trig.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx, time.Now())
			if m.State() != Running {
				return
			}
		}
	}
}

// Tick runs one monitor cycle at the given time. On a non-Running monitor it
// is a no-op. The watchdog checks run before the trigger so a stalled run is
// stopped even when no check is due.
func (m *Monitor) Tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Running {
		return
	}

	g := m.profile.Guardrails

	if g.MaxRuntimeMs > 0 && now.Sub(m.runStart) > time.Duration(g.MaxRuntimeMs)*time.Millisecond {
		m.trip("max_runtime_exceeded")
		return
	}
	if g.HeartbeatTimeoutMs > 0 && now.Sub(m.lastProgress) > time.Duration(g.HeartbeatTimeoutMs)*time.Millisecond {
		m.trip("heartbeat_stalled")
		return
	}

	if !m.trig.Due(now) {
		// Idle heartbeat for UI countdowns: when the next check fires, and how
		// much cooldown is still in effect.
		ev := event.New(event.MonitorTick, m.runID, m.profile.ID)
		if wait := m.trig.Next(now).Sub(now); wait > 0 {
			ev.NextCheckMs = wait.Milliseconds()
		}
		if g.CooldownMs > 0 && !m.lastActivation.IsZero() {
			if rem := time.Duration(g.CooldownMs)*time.Millisecond - now.Sub(m.lastActivation); rem > 0 {
				ev.CooldownMs = rem.Milliseconds()
			}
		}
		m.sink.Emit(ev)
		return
	}
	m.sink.Emit(event.New(event.TriggerFired, m.runID, m.profile.ID))

	met, err := m.cond.Evaluate()
	if err != nil {
		if screen.IsFatal(err) {
			m.emitError(fmt.Sprintf("capture backend unusable: %v", err))
			m.stopLocked("capture_failed")
			return
		}
		// Transient failure: report it and abandon the tick; the next one
		// retries with the condition state untouched.
		m.log.Debug("condition check skipped", "error", err)
		m.emitError(fmt.Sprintf("condition check failed: %v", err))
		return
	}
	ev := event.New(event.ConditionEvaluated, m.runID, m.profile.ID)
	ev.Result = met
	m.sink.Emit(ev)
	if !met {
		return
	}

	if reason, ok := m.ocrPreCheck(ctx); ok {
		m.trip(reason)
		return
	}

	m.pruneActivations(now)
	if g.MaxActivationsPerHour > 0 && len(m.activations) >= g.MaxActivationsPerHour {
		m.skip("rate_limited", 0)
		return
	}
	if g.CooldownMs > 0 && !m.lastActivation.IsZero() {
		remaining := time.Duration(g.CooldownMs)*time.Millisecond - now.Sub(m.lastActivation)
		if remaining > 0 {
			m.skip("cooldown", remaining.Milliseconds())
			return
		}
	}

	// Progress means an activation attempt was made, not that it succeeded;
	// touch it before execution so a hung action sequence trips the heartbeat
	// instead of resetting it.
	m.activations = append(m.activations, now)
	m.lastActivation = now
	m.lastProgress = now

	// Each sequence run gets a fresh context; variables never carry across
	// activations.
	actx := action.NewContext()
	runCtx, cancel := context.WithCancel(ctx)
	m.cancelRun = cancel
	runID := m.runID

	// Run without the lock so PanicStop can cancel a sequence in flight.
	m.mu.Unlock()
	_, err = m.runner.Run(runCtx, runID, m.steps, actx)
	m.mu.Lock()
	cancel()
	m.cancelRun = nil
	if err != nil {
		m.emitError(fmt.Sprintf("action sequence failed: %v", err))
	}

	if m.state != Running {
		return
	}
	if reason, ok := actx.ShouldTerminate(); ok {
		tev := event.New(event.TerminationTriggered, m.runID, m.profile.ID)
		tev.Reason = reason
		m.sink.Emit(tev)
		m.stopLocked(reason)
	}
}

// ocrPreCheck runs the independent OCR termination check over the configured
// termination regions. Extraction failures are "no text this cycle".
func (m *Monitor) ocrPreCheck(ctx context.Context) (string, bool) {
	if m.env.OCR == nil || m.matcher.Empty() || len(m.profile.Termination.RegionIDs) == 0 {
		return "", false
	}
	for _, id := range m.profile.Termination.RegionIDs {
		r, ok := m.profile.Region(id)
		if !ok {
			continue
		}
		text, err := m.env.OCR.ExtractText(ctx, r)
		if err != nil {
			m.log.Debug("OCR pre-check skipped region", "region", id, "error", err)
			continue
		}
		if reason, matched := m.matcher.Match(text); matched {
			return fmt.Sprintf("region %q: %s", id, reason), true
		}
	}
	return "", false
}

func (m *Monitor) pruneActivations(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := m.activations[:0]
	for _, t := range m.activations {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	m.activations = kept
}

func (m *Monitor) trip(reason string) {
	ev := event.New(event.WatchdogTripped, m.runID, m.profile.ID)
	ev.Reason = reason
	m.sink.Emit(ev)
	m.stopLocked(reason)
}

func (m *Monitor) skip(reason string, cooldownMs int64) {
	ev := event.New(event.MonitorTick, m.runID, m.profile.ID)
	ev.Reason = reason
	ev.CooldownMs = cooldownMs
	m.sink.Emit(ev)
}

func (m *Monitor) emitStateChange(from, to State, reason string) {
	ev := event.New(event.StateChanged, m.runID, m.profile.ID)
	ev.From = string(from)
	ev.To = string(to)
	ev.Reason = reason
	m.sink.Emit(ev)
}

func (m *Monitor) emitError(msg string) {
	ev := event.New(event.Error, m.runID, m.profile.ID)
	ev.Message = msg
	m.sink.Emit(ev)
}
