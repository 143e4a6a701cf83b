// internal/condition/stability.go
package condition

import (
	"fmt"

	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/screen"
)

// Evaluator detects region stability (or, with ExpectChange, region change)
// across consecutive checks.
//
// The first capture of a region only records a baseline; it is never counted
// as a stable or changed observation. Counting starts once every region has a
// baseline. A failed capture is "no new information": the counter neither
// increments nor resets, and no baseline is updated, so a transient capture
// error can neither mask nor fabricate a signal.
type Evaluator struct {
	cfg     config.Condition
	regions []config.Region
	capture screen.Capture

	prev    map[string]uint64
	counter int
}

// New builds an evaluator for a validated profile. Region references are
// checked at load time; a dangling id here is a programming error.
func New(p *config.Profile, capture screen.Capture) (*Evaluator, error) {
	regions := make([]config.Region, 0, len(p.Condition.RegionIDs))
	for _, id := range p.Condition.RegionIDs {
		r, ok := p.Region(id)
		if !ok {
			return nil, fmt.Errorf("condition references unknown region %q", id)
		}
		regions = append(regions, r)
	}
	return &Evaluator{
		cfg:     p.Condition,
		regions: regions,
		capture: capture,
		prev:    make(map[string]uint64, len(regions)),
	}, nil
}

// Evaluate captures all regions and reports whether the condition holds.
// Capture errors are returned with the evaluator state untouched; the caller
// decides whether they are fatal.
func (e *Evaluator) Evaluate() (bool, error) {
	hashes := make(map[string]uint64, len(e.regions))
	for _, r := range e.regions {
		h, err := e.capture.HashRegion(r, e.cfg.Downscale)
		if err != nil {
			return false, fmt.Errorf("capturing region %q: %w", r.ID, err)
		}
		hashes[r.ID] = h
	}

	// Baseline pass: regions seen for the first time only record their hash.
	initializing := false
	for id, h := range hashes {
		if _, ok := e.prev[id]; !ok {
			e.prev[id] = h
			initializing = true
		}
	}
	if initializing {
		return false, nil
	}

	changed := false
	for id, h := range hashes {
		if e.prev[id] != h {
			changed = true
		}
		e.prev[id] = h
	}

	observed := changed == e.cfg.ExpectChange
	if observed {
		e.counter++
	} else {
		e.counter = 0
	}

	return e.counter >= e.cfg.ConsecutiveChecks, nil
}

// Counter exposes the current consecutive-observation count.
func (e *Evaluator) Counter() int { return e.counter }

// Reset clears baselines and the counter, as at the start of a fresh run.
func (e *Evaluator) Reset() {
	e.prev = make(map[string]uint64, len(e.regions))
	e.counter = 0
}
