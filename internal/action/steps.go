// internal/action/steps.go
package action

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/loopautoma/loopautoma/internal/automation"
	"github.com/loopautoma/loopautoma/internal/config"
	"github.com/loopautoma/loopautoma/internal/llm"
	"github.com/loopautoma/loopautoma/internal/ocr"
	"github.com/loopautoma/loopautoma/internal/screen"
	"github.com/loopautoma/loopautoma/internal/termination"
)

// maxPromptLength caps continuation prompts typed into the target
// application. Anything longer is a runaway model, not a usable instruction.
const maxPromptLength = 200

// Env bundles the collaborators an action sequence executes against.
type Env struct {
	Profile *config.Profile
	Auto    automation.Automation
	Capture screen.Capture
	LLM     llm.Client
	OCR     ocr.Provider
	Matcher *termination.Matcher
	Log     *slog.Logger
}

// Step is one executable action of a profile sequence.
type Step interface {
	// Describe names the step for event payloads and logs.
	Describe() string
	Execute(ctx context.Context, env *Env, actx *Context) error
}

// Build compiles one configured action into an executable step. The loader
// has already validated types and button names; Build resolves regions and
// compiles patterns.
func Build(p *config.Profile, a config.Action) (Step, error) {
	switch a.Type {
	case "move_cursor":
		return &moveCursorStep{x: a.X, y: a.Y}, nil
	case "click":
		b, err := automation.ParseButton(a.Button)
		if err != nil {
			return nil, err
		}
		return &clickStep{button: b}, nil
	case "type_text":
		return &typeTextStep{text: a.Text}, nil
	case "press_key":
		return &pressKeyStep{key: a.Key}, nil
	case "llm_prompt":
		regions, err := resolveRegions(p, a.RegionIDs)
		if err != nil {
			return nil, err
		}
		return &llmPromptStep{
			regions:       regions,
			variable:      a.Variable,
			systemPrompt:  a.SystemPrompt,
			riskThreshold: a.RiskThreshold,
			keywords:      p.Termination.CompletionKeywords,
		}, nil
	case "terminate_check":
		regions, err := resolveRegions(p, a.RegionIDs)
		if err != nil {
			return nil, err
		}
		step := &terminateCheckStep{
			mode:         a.CheckMode,
			regions:      regions,
			systemPrompt: a.SystemPrompt,
			keywords:     p.Termination.CompletionKeywords,
		}
		if a.Pattern != "" {
			re, err := regexp.Compile(a.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling check pattern: %w", err)
			}
			step.pattern = re
			step.rawPattern = a.Pattern
		}
		return step, nil
	}
	return nil, fmt.Errorf("unknown action type %q", a.Type)
}

// BuildAll compiles a profile's full action sequence.
func BuildAll(p *config.Profile) ([]Step, error) {
	steps := make([]Step, 0, len(p.Actions))
	for i, a := range p.Actions {
		s, err := Build(p, a)
		if err != nil {
			return nil, fmt.Errorf("action %d (%s): %w", i, a.Type, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func resolveRegions(p *config.Profile, ids []string) ([]config.Region, error) {
	regions := make([]config.Region, 0, len(ids))
	for _, id := range ids {
		r, ok := p.Region(id)
		if !ok {
			return nil, fmt.Errorf("unknown region %q", id)
		}
		regions = append(regions, r)
	}
	return regions, nil
}

type moveCursorStep struct {
	x, y int
}

func (s *moveCursorStep) Describe() string {
	return fmt.Sprintf("move cursor to (%d, %d)", s.x, s.y)
}

func (s *moveCursorStep) Execute(ctx context.Context, env *Env, actx *Context) error {
	return env.Auto.MoveCursor(s.x, s.y)
}

type clickStep struct {
	button automation.Button
}

func (s *clickStep) Describe() string {
	return fmt.Sprintf("click %s button", s.button)
}

func (s *clickStep) Execute(ctx context.Context, env *Env, actx *Context) error {
	return env.Auto.Click(s.button)
}

type typeTextStep struct {
	text string
}

func (s *typeTextStep) Describe() string {
	return fmt.Sprintf("type %d chars", len(s.text))
}

func (s *typeTextStep) Execute(ctx context.Context, env *Env, actx *Context) error {
	expanded := actx.Expand(s.text)
	for _, seg := range scanKeyText(expanded) {
		switch seg.kind {
		case segSpecial:
			if err := env.Auto.PressKey(seg.text); err != nil {
				return err
			}
		case segLiteral:
			for _, r := range seg.text {
				key := string(r)
				switch r {
				case '\n':
					key = "Enter"
				case '\t':
					key = "Tab"
				}
				if err := env.Auto.PressKey(key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type pressKeyStep struct {
	key string
}

func (s *pressKeyStep) Describe() string {
	return fmt.Sprintf("press key %s", s.key)
}

func (s *pressKeyStep) Execute(ctx context.Context, env *Env, actx *Context) error {
	return env.Auto.PressKey(s.key)
}

type llmPromptStep struct {
	regions       []config.Region
	variable      string
	systemPrompt  string
	riskThreshold float64
	keywords      []string
}

func (s *llmPromptStep) Describe() string {
	return fmt.Sprintf("generate prompt from %d regions into %q", len(s.regions), s.variable)
}

// Execute captures the configured regions, asks the model for a continuation
// or completion decision, and either raises termination or stores the
// continuation prompt for later expansion. A rejected prompt (empty, too
// long, too risky) fails the action so the rest of the sequence does not run
// on a bad instruction.
func (s *llmPromptStep) Execute(ctx context.Context, env *Env, actx *Context) error {
	if env.LLM == nil {
		return fmt.Errorf("no LLM client configured")
	}

	images := make([][]byte, 0, len(s.regions))
	for _, r := range s.regions {
		frame, err := env.Capture.CaptureRegion(r)
		if err != nil {
			return fmt.Errorf("capturing region %q: %w", r.ID, err)
		}
		png, err := frame.EncodePNG()
		if err != nil {
			return fmt.Errorf("encoding region %q: %w", r.ID, err)
		}
		images = append(images, png)
	}

	resp, err := env.LLM.GeneratePrompt(ctx, images, s.systemPrompt, s.keywords)
	if err != nil {
		return fmt.Errorf("generating prompt: %w", err)
	}

	if resp.TaskComplete {
		reason := resp.TaskCompleteReason
		if reason == "" {
			reason = "model reported task complete"
		}
		actx.Terminate(reason)
		return nil
	}

	prompt := resp.ContinuationPrompt
	if prompt == "" {
		return fmt.Errorf("model returned an empty continuation prompt")
	}
	if len(prompt) > maxPromptLength {
		return fmt.Errorf("continuation prompt too long (%d > %d chars)", len(prompt), maxPromptLength)
	}
	if resp.Risk > s.riskThreshold {
		return fmt.Errorf("continuation prompt risk %.2f exceeds threshold %.2f", resp.Risk, s.riskThreshold)
	}

	env.Log.Debug("continuation prompt accepted",
		"variable", s.variable, "risk", resp.Risk, "length", len(prompt))
	actx.Set(s.variable, prompt)
	return nil
}

type terminateCheckStep struct {
	mode         string
	regions      []config.Region
	pattern      *regexp.Regexp
	rawPattern   string
	systemPrompt string
	keywords     []string
}

func (s *terminateCheckStep) Describe() string {
	return fmt.Sprintf("termination check (%s)", s.mode)
}

// Execute evaluates one of three check modes. Finding no match is a normal
// outcome, not an error; only the inability to perform the check fails.
func (s *terminateCheckStep) Execute(ctx context.Context, env *Env, actx *Context) error {
	switch s.mode {
	case "context":
		for name, value := range actx.Vars() {
			if reason, ok := s.match(env, value); ok {
				actx.Terminate(fmt.Sprintf("context variable %q: %s", name, reason))
				return nil
			}
		}
		return nil

	case "ocr":
		if env.OCR == nil {
			return fmt.Errorf("no OCR provider configured")
		}
		for _, r := range s.regions {
			text, err := env.OCR.ExtractText(ctx, r)
			if err != nil {
				env.Log.Debug("OCR check skipped region", "region", r.ID, "error", err)
				continue
			}
			if reason, ok := s.match(env, text); ok {
				actx.Terminate(fmt.Sprintf("region %q: %s", r.ID, reason))
				return nil
			}
		}
		return nil

	case "ai":
		if env.LLM == nil {
			return fmt.Errorf("no LLM client configured")
		}
		images := make([][]byte, 0, len(s.regions))
		for _, r := range s.regions {
			frame, err := env.Capture.CaptureRegion(r)
			if err != nil {
				return fmt.Errorf("capturing region %q: %w", r.ID, err)
			}
			png, err := frame.EncodePNG()
			if err != nil {
				return fmt.Errorf("encoding region %q: %w", r.ID, err)
			}
			images = append(images, png)
		}
		resp, err := env.LLM.GeneratePrompt(ctx, images, s.systemPrompt, s.keywords)
		if err != nil {
			return fmt.Errorf("AI termination check: %w", err)
		}
		if resp.TaskComplete {
			reason := resp.TaskCompleteReason
			if reason == "" {
				reason = "model reported task complete"
			}
			actx.Terminate(reason)
		}
		return nil
	}
	return fmt.Errorf("unknown check mode %q", s.mode)
}

// match tests text against the step's own pattern, falling back to the
// profile's termination matcher when no pattern is configured.
func (s *terminateCheckStep) match(env *Env, text string) (string, bool) {
	if s.pattern != nil {
		// Index form: a pattern may legitimately match the empty string.
		if loc := s.pattern.FindStringIndex(text); loc != nil {
			return fmt.Sprintf("pattern %q matched %q", s.rawPattern, text[loc[0]:loc[1]]), true
		}
		return "", false
	}
	if env.Matcher != nil {
		return env.Matcher.Match(text)
	}
	return "", false
}
