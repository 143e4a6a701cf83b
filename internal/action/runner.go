// internal/action/runner.go
package action

import (
	"context"
	"log/slog"
	"time"

	"github.com/loopautoma/loopautoma/internal/event"
)

// Runner executes a profile's action sequence step by step, emitting
// ActionStarted/ActionCompleted events and honoring the inter-action delay
// and the early-termination signal.
type Runner struct {
	env   *Env
	sink  event.Sink
	delay time.Duration
}

// NewRunner creates a runner. A nil sink discards events; a nil env logger is
// replaced with the default.
func NewRunner(env *Env, sink event.Sink, interActionDelay time.Duration) *Runner {
	if sink == nil {
		sink = event.NopSink{}
	}
	if env.Log == nil {
		env.Log = slog.Default()
	}
	return &Runner{env: env, sink: sink, delay: interActionDelay}
}

// Run executes the steps in order. It returns true when the whole sequence
// ran or an action raised termination; early termination is a successful
// outcome. A step error aborts the remaining steps and returns false with
// the error.
func (r *Runner) Run(ctx context.Context, runID string, steps []Step, actx *Context) (bool, error) {
	profileID := r.env.Profile.ID

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		started := event.New(event.ActionStarted, runID, profileID)
		started.Description = step.Describe()
		r.sink.Emit(started)

		err := step.Execute(ctx, r.env, actx)

		completed := event.New(event.ActionCompleted, runID, profileID)
		completed.Description = step.Describe()
		completed.Success = err == nil
		r.sink.Emit(completed)

		if err != nil {
			r.env.Log.Warn("action failed", "action", step.Describe(), "error", err)
			return false, err
		}

		if reason, ok := actx.ShouldTerminate(); ok {
			r.env.Log.Info("sequence terminated early", "reason", reason)
			return true, nil
		}

		if i < len(steps)-1 && r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	return true, nil
}
