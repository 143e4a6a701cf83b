// internal/condition/stability_test.go
package condition

import (
	"testing"

	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/screen"
)

func stabilityProfile(regionIDs []string, consecutive int, expectChange bool) *config.Profile {
	p := &config.Profile{Name: "test"}
	for _, id := range regionIDs {
		p.Regions = append(p.Regions, config.Region{ID: id, Width: 10, Height: 10})
	}
	p.Condition = config.Condition{
		RegionIDs:         regionIDs,
		ConsecutiveChecks: consecutive,
		ExpectChange:      expectChange,
		Downscale:         1,
	}
	return p
}

func mustEvaluator(t *testing.T, p *config.Profile, cap screen.Capture) *Evaluator {
	t.Helper()
	e, err := New(p, cap)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func evaluate(t *testing.T, e *Evaluator) bool {
	t.Helper()
	got, err := e.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	return got
}

func TestInitializationIsNotASignal(t *testing.T) {
	// Hash sequence [A, A, A, A] with consecutive_checks=1: tick 1 records
	// the baseline only; the condition holds from tick 2 onward.
	cap := screen.NewFakeCapture()
	cap.Script("r", 0xA, 0xA, 0xA, 0xA)
	e := mustEvaluator(t, stabilityProfile([]string{"r"}, 1, false), cap)

	if evaluate(t, e) {
		t.Error("tick 1 (baseline) must not satisfy the condition")
	}
	for tick := 2; tick <= 4; tick++ {
		if !evaluate(t, e) {
			t.Errorf("tick %d: condition should hold", tick)
		}
	}
}

func TestStabilityThreshold(t *testing.T) {
	cap := screen.NewFakeCapture()
	cap.Script("r", 0xA, 0xA, 0xA, 0xA, 0xA)
	e := mustEvaluator(t, stabilityProfile([]string{"r"}, 3, false), cap)

	want := []bool{false, false, false, true, true} // baseline, 1, 2, 3, 4
	for i, w := range want {
		if got := evaluate(t, e); got != w {
			t.Errorf("tick %d = %v, want %v (counter %d)", i+1, got, w, e.Counter())
		}
	}
}

func TestChangeResetsCounter(t *testing.T) {
	cap := screen.NewFakeCapture()
	cap.Script("r", 0xA, 0xA, 0xA, 0xB, 0xB, 0xB)
	e := mustEvaluator(t, stabilityProfile([]string{"r"}, 2, false), cap)

	want := []bool{false, false, true, false, false, true}
	for i, w := range want {
		if got := evaluate(t, e); got != w {
			t.Errorf("tick %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestExpectChangeMode(t *testing.T) {
	cap := screen.NewFakeCapture()
	cap.Script("r", 0x1, 0x2, 0x3, 0x3)
	e := mustEvaluator(t, stabilityProfile([]string{"r"}, 2, true), cap)

	want := []bool{false, false, true, false} // baseline, change(1), change(2), no change resets
	for i, w := range want {
		if got := evaluate(t, e); got != w {
			t.Errorf("tick %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestMultiRegionStability(t *testing.T) {
	cap := screen.NewFakeCapture()
	cap.Script("a", 0x1, 0x1, 0x1, 0x1)
	cap.Script("b", 0x9, 0x9, 0x8, 0x8)
	e := mustEvaluator(t, stabilityProfile([]string{"a", "b"}, 1, false), cap)

	// Tick 3: region b changed, so the tick is a change even though a held.
	want := []bool{false, true, false, true}
	for i, w := range want {
		if got := evaluate(t, e); got != w {
			t.Errorf("tick %d = %v, want %v", i+1, got, w)
		}
	}
}

func TestCaptureFailureIsNoInformation(t *testing.T) {
	cap := screen.NewFakeCapture()
	cap.Script("r", 0xA, 0xA, 0xA)
	e := mustEvaluator(t, stabilityProfile([]string{"r"}, 2, false), cap)

	evaluate(t, e) // baseline
	if got := evaluate(t, e); got {
		t.Fatal("counter should be 1, condition not yet held")
	}

	cap.Fail("r", &screen.CaptureError{Code: "capture_failed", Message: "transient"})
	if _, err := e.Evaluate(); err == nil {
		t.Fatal("expected capture error")
	}
	if e.Counter() != 1 {
		t.Errorf("failed capture must not move the counter, got %d", e.Counter())
	}

	cap.Fail("r", nil)
	if got := evaluate(t, e); !got {
		t.Error("stable capture after transient failure should reach the threshold")
	}
}

func TestResetClearsBaselines(t *testing.T) {
	cap := screen.NewFakeCapture()
	cap.Script("r", 0xA, 0xA, 0xA, 0xA)
	e := mustEvaluator(t, stabilityProfile([]string{"r"}, 1, false), cap)

	evaluate(t, e)
	if !evaluate(t, e) {
		t.Fatal("condition should hold before reset")
	}

	e.Reset()
	if evaluate(t, e) {
		t.Error("first evaluation after reset must re-baseline, not count")
	}
}
