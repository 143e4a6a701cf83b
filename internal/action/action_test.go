// internal/action/action_test.go
package action

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"github.com/loopautoma/loopautoma/internal/automation"
	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/event"
	"github.com/loopautoma/loopautoma/internal/llm"
	"github.com/loopautoma/loopautoma/internal/ocr"
	"github.com/loopautoma/loopautoma/internal/screen"
	"github.com/loopautoma/loopautoma/internal/termination"
)

func testProfile() *config.Profile {
	return &config.Profile{
		ID:   "test",
		Name: "test",
		Regions: []config.Region{
			{ID: "term", Name: "terminal", X: 0, Y: 0, Width: 10, Height: 10},
		},
	}
}

func testEnv(p *config.Profile) (*Env, *automation.Fake) {
	fake := automation.NewFake()
	return &Env{
		Profile: p,
		Auto:    fake,
		Capture: screen.NewFakeCapture(),
		Log:     slog.New(slog.DiscardHandler),
	}, fake
}

func collectSink(events *[]event.Event) event.Sink {
	return event.SinkFunc(func(e event.Event) { *events = append(*events, e) })
}

func TestRunnerTypeText(t *testing.T) {
	p := testProfile()
	env, fake := testEnv(p)

	steps, err := BuildAll(&config.Profile{
		ID: p.ID, Regions: p.Regions,
		Actions: []config.Action{{Type: "type_text", Text: "hi[Enter]"}},
	})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}

	ok, err := NewRunner(env, nil, 0).Run(context.Background(), "run-1", steps, NewContext())
	if err != nil || !ok {
		t.Fatalf("Run = (%v, %v)", ok, err)
	}

	want := []string{
		"keydown(h)", "keyup(h)",
		"keydown(i)", "keyup(i)",
		"keydown(Enter)", "keyup(Enter)",
	}
	if !reflect.DeepEqual(fake.Calls(), want) {
		t.Errorf("calls = %v, want %v", fake.Calls(), want)
	}
}

func TestRunnerEarlyTermination(t *testing.T) {
	p := testProfile()
	env, fake := testEnv(p)
	env.LLM = &llm.Fake{Response: &llm.Response{TaskComplete: true, TaskCompleteReason: "all done"}}

	steps, err := BuildAll(&config.Profile{
		ID: p.ID, Regions: p.Regions,
		Actions: []config.Action{
			{Type: "llm_prompt", RegionIDs: []string{"term"}, Variable: "prompt", RiskThreshold: 0.5},
			{Type: "click", Button: "left"},
		},
	})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}

	var events []event.Event
	actx := NewContext()
	ok, err := NewRunner(env, collectSink(&events), 0).Run(context.Background(), "run-1", steps, actx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ok {
		t.Error("early termination must report success")
	}

	if len(fake.Calls()) != 0 {
		t.Errorf("click after termination should not run, got %v", fake.Calls())
	}
	reason, terminated := actx.ShouldTerminate()
	if !terminated || reason != "all done" {
		t.Errorf("ShouldTerminate = (%q, %v)", reason, terminated)
	}

	// One started/completed pair for the first action only.
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != event.ActionStarted || events[1].Type != event.ActionCompleted {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
	if !events[1].Success {
		t.Error("terminating action should complete successfully")
	}
}

func TestRunnerActionFailureAborts(t *testing.T) {
	p := testProfile()
	env, fake := testEnv(p)
	fake.FailNext = errors.New("display gone")

	steps, err := BuildAll(&config.Profile{
		ID: p.ID, Regions: p.Regions,
		Actions: []config.Action{
			{Type: "click", Button: "left"},
			{Type: "press_key", Key: "Enter"},
		},
	})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}

	var events []event.Event
	ok, err := NewRunner(env, collectSink(&events), 0).Run(context.Background(), "run-1", steps, NewContext())
	if ok || err == nil {
		t.Fatalf("Run = (%v, %v), want failure", ok, err)
	}
	if len(fake.Calls()) != 0 {
		t.Errorf("second action ran after failure: %v", fake.Calls())
	}
	if len(events) != 2 || events[1].Success {
		t.Errorf("expected one failed started/completed pair, got %+v", events)
	}
}

func TestLLMPromptStoresVariable(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)
	env.LLM = &llm.Fake{Response: &llm.Response{ContinuationPrompt: "press enter to retry", Risk: 0.1}}

	step, err := Build(p, config.Action{
		Type: "llm_prompt", RegionIDs: []string{"term"}, Variable: "prompt", RiskThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	actx := NewContext()
	if err := step.Execute(context.Background(), env, actx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, _ := actx.Get("prompt"); got != "press enter to retry" {
		t.Errorf("variable = %q", got)
	}
}

func TestLLMPromptRejectsRisky(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)
	env.LLM = &llm.Fake{Response: &llm.Response{ContinuationPrompt: "rm -rf everything", Risk: 0.9}}

	step, err := Build(p, config.Action{
		Type: "llm_prompt", RegionIDs: []string{"term"}, Variable: "prompt", RiskThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	actx := NewContext()
	if err := step.Execute(context.Background(), env, actx); err == nil {
		t.Fatal("risky prompt should fail the action")
	}
	if _, ok := actx.Get("prompt"); ok {
		t.Error("rejected prompt must not be stored")
	}
}

func TestLLMPromptRejectsOverlong(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)
	env.LLM = &llm.Fake{Response: &llm.Response{
		ContinuationPrompt: strings.Repeat("x", maxPromptLength+1), Risk: 0.0,
	}}

	step, err := Build(p, config.Action{
		Type: "llm_prompt", RegionIDs: []string{"term"}, Variable: "prompt", RiskThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := step.Execute(context.Background(), env, NewContext()); err == nil {
		t.Fatal("overlong prompt should fail the action")
	}
}

func TestTerminateCheckContextPattern(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)

	step, err := Build(p, config.Action{
		Type: "terminate_check", CheckMode: "context", Pattern: `(?i)task complete`,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	actx := NewContext()
	actx.Set("prompt", "looks like the Task Complete banner is up")
	if err := step.Execute(context.Background(), env, actx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := actx.ShouldTerminate(); !ok {
		t.Error("context check should have terminated")
	}
}

func TestTerminateCheckPatternEmptyMatch(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)

	step := &terminateCheckStep{mode: "context", pattern: regexp.MustCompile(`^$`), rawPattern: "^$"}
	actx := NewContext()
	actx.Set("out", "")

	if err := step.Execute(context.Background(), env, actx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := actx.ShouldTerminate(); !ok {
		t.Error("a pattern matching the empty string must still terminate")
	}
}

func TestTerminateCheckOCR(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)

	fakeOCR := ocr.NewFake()
	fakeOCR.Texts["term"] = "==> BUILD SUCCEEDED <=="
	env.OCR = fakeOCR

	m, err := termination.NewMatcher(config.Termination{SuccessKeywords: []string{"build succeeded"}})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	env.Matcher = m

	step, err := Build(p, config.Action{
		Type: "terminate_check", CheckMode: "ocr", RegionIDs: []string{"term"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	actx := NewContext()
	if err := step.Execute(context.Background(), env, actx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	reason, ok := actx.ShouldTerminate()
	if !ok {
		t.Fatal("OCR check should have terminated")
	}
	if !strings.Contains(reason, "term") {
		t.Errorf("reason should name the region, got %q", reason)
	}
}

func TestTerminateCheckAI(t *testing.T) {
	p := testProfile()
	env, _ := testEnv(p)
	env.LLM = &llm.Fake{Response: &llm.Response{TaskComplete: true, TaskCompleteReason: "prompt says done"}}

	step, err := Build(p, config.Action{
		Type: "terminate_check", CheckMode: "ai", RegionIDs: []string{"term"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	actx := NewContext()
	if err := step.Execute(context.Background(), env, actx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := actx.ShouldTerminate(); !ok {
		t.Error("AI check should have terminated")
	}
}

func TestBuildUnknownRegion(t *testing.T) {
	p := testProfile()
	_, err := Build(p, config.Action{
		Type: "llm_prompt", RegionIDs: []string{"nope"}, Variable: "prompt",
	})
	if err == nil {
		t.Fatal("unknown region should fail Build")
	}
}
