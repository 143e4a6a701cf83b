// internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// LoadGlobal loads the global configuration from a YAML file
func LoadGlobal(path string) (*Global, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Global
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyGlobalDefaults(&cfg)
	return &cfg, nil
}

// LoadProfile loads a profile from a YAML file
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile file: %w", err)
	}

	applyProfileDefaults(&p)
	return &p, nil
}

// LoadProfilesDir loads all profiles from a directory
func LoadProfilesDir(dir string) ([]*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading profiles directory: %w", err)
	}

	var profiles []*Profile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		p, err := LoadProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading profile %s: %w", entry.Name(), err)
		}
		profiles = append(profiles, p)
	}

	return profiles, nil
}

func applyGlobalDefaults(cfg *Global) {
	if cfg.Daemon.LogLevel == "" {
		cfg.Daemon.LogLevel = "info"
	}
	if cfg.Daemon.ListenAddress == "" {
		cfg.Daemon.ListenAddress = "127.0.0.1"
	}
	if cfg.Daemon.ListenPort == 0 {
		cfg.Daemon.ListenPort = 9876
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Automation.Backend == "" {
		cfg.Automation.Backend = "x11"
	}
	if cfg.Automation.SettleMs <= 0 {
		cfg.Automation.SettleMs = 10
	}
	if cfg.Automation.InterActionDelayMs <= 0 {
		cfg.Automation.InterActionDelayMs = 50
	}
	if cfg.Automation.WarpTolerancePx <= 0 {
		cfg.Automation.WarpTolerancePx = 2
	}
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 300
	}
	if cfg.LLM.TimeoutSec <= 0 {
		cfg.LLM.TimeoutSec = 60
	}
	if cfg.OCR.Provider == "" {
		cfg.OCR.Provider = "none"
	}
	if cfg.OCR.Binary == "" {
		cfg.OCR.Binary = "tesseract"
	}
	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}
	if cfg.History.RetentionDays <= 0 {
		cfg.History.RetentionDays = 90
	}
}

func applyProfileDefaults(p *Profile) {
	if p.ID == "" {
		p.ID = p.Name
	}
	if p.Trigger.Type == "" {
		p.Trigger.Type = "interval"
	}
	if p.Trigger.IntervalMs <= 0 {
		p.Trigger.IntervalMs = 1000
	}
	if p.Condition.ConsecutiveChecks <= 0 {
		p.Condition.ConsecutiveChecks = 3
	}
	if p.Condition.Downscale <= 0 {
		p.Condition.Downscale = 2
	}
	if p.Guardrails.HeartbeatTimeoutMs <= 0 {
		p.Guardrails.HeartbeatTimeoutMs = 10 * 60 * 1000
	}
	for i := range p.Actions {
		a := &p.Actions[i]
		if a.Type == "click" && a.Button == "" {
			a.Button = "left"
		}
		if a.Type == "llm_prompt" {
			if a.Variable == "" {
				a.Variable = "prompt"
			}
			if a.RiskThreshold <= 0 {
				a.RiskThreshold = 0.5
			}
		}
	}
}

// ValidationError describes a profile rejected at start time.
type ValidationError struct {
	Profile string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("profile %q: %s: %s", e.Profile, e.Field, e.Reason)
}

var actionTypes = map[string]bool{
	"move_cursor":     true,
	"click":           true,
	"type_text":       true,
	"press_key":       true,
	"llm_prompt":      true,
	"terminate_check": true,
}

// ValidateProfile rejects configurations that would otherwise fail mid-run:
// degenerate regions, dangling region references, unknown action types and
// unparseable patterns all surface here, before start().
func ValidateProfile(p *Profile) error {
	if p.Name == "" {
		return &ValidationError{Profile: p.ID, Field: "name", Reason: "must not be empty"}
	}

	regionIDs := make(map[string]bool, len(p.Regions))
	for _, r := range p.Regions {
		if r.ID == "" {
			return &ValidationError{Profile: p.Name, Field: "regions", Reason: "region id must not be empty"}
		}
		if regionIDs[r.ID] {
			return &ValidationError{Profile: p.Name, Field: "regions", Reason: fmt.Sprintf("duplicate region id %q", r.ID)}
		}
		if r.Width <= 0 || r.Height <= 0 {
			return &ValidationError{Profile: p.Name, Field: "regions",
				Reason: fmt.Sprintf("region %q has non-positive dimensions %dx%d", r.ID, r.Width, r.Height)}
		}
		regionIDs[r.ID] = true
	}

	if len(p.Condition.RegionIDs) == 0 {
		return &ValidationError{Profile: p.Name, Field: "condition.region_ids", Reason: "at least one region required"}
	}
	for _, id := range p.Condition.RegionIDs {
		if !regionIDs[id] {
			return &ValidationError{Profile: p.Name, Field: "condition.region_ids",
				Reason: fmt.Sprintf("unknown region %q", id)}
		}
	}
	for _, id := range p.Termination.RegionIDs {
		if !regionIDs[id] {
			return &ValidationError{Profile: p.Name, Field: "termination.region_ids",
				Reason: fmt.Sprintf("unknown region %q", id)}
		}
	}
	if p.Termination.Pattern != "" {
		if _, err := regexp.Compile(p.Termination.Pattern); err != nil {
			return &ValidationError{Profile: p.Name, Field: "termination.pattern", Reason: err.Error()}
		}
	}

	switch p.Trigger.Type {
	case "interval", "scheduled":
	default:
		return &ValidationError{Profile: p.Name, Field: "trigger.type",
			Reason: fmt.Sprintf("unknown trigger type %q", p.Trigger.Type)}
	}
	if p.Trigger.Type == "scheduled" && p.Trigger.CronExpression == "" {
		return &ValidationError{Profile: p.Name, Field: "trigger.cron_expression", Reason: "required for scheduled trigger"}
	}

	for i, a := range p.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if !actionTypes[a.Type] {
			return &ValidationError{Profile: p.Name, Field: field,
				Reason: fmt.Sprintf("unknown action type %q", a.Type)}
		}
		switch a.Type {
		case "click":
			switch a.Button {
			case "left", "right", "middle":
			default:
				return &ValidationError{Profile: p.Name, Field: field,
					Reason: fmt.Sprintf("unknown button %q", a.Button)}
			}
		case "press_key":
			if a.Key == "" {
				return &ValidationError{Profile: p.Name, Field: field, Reason: "key must not be empty"}
			}
		case "llm_prompt":
			for _, id := range a.RegionIDs {
				if !regionIDs[id] {
					return &ValidationError{Profile: p.Name, Field: field,
						Reason: fmt.Sprintf("unknown region %q", id)}
				}
			}
		case "terminate_check":
			switch a.CheckMode {
			case "context", "ocr", "ai":
			default:
				return &ValidationError{Profile: p.Name, Field: field,
					Reason: fmt.Sprintf("unknown check mode %q", a.CheckMode)}
			}
			if a.Pattern != "" {
				if _, err := regexp.Compile(a.Pattern); err != nil {
					return &ValidationError{Profile: p.Name, Field: field, Reason: err.Error()}
				}
			}
			if a.CheckMode == "ocr" {
				for _, id := range a.RegionIDs {
					if !regionIDs[id] {
						return &ValidationError{Profile: p.Name, Field: field,
							Reason: fmt.Sprintf("unknown region %q", id)}
					}
				}
			}
		}
	}

	return nil
}

// Region returns the region with the given id, if present.
func (p *Profile) Region(id string) (Region, bool) {
	for _, r := range p.Regions {
		if r.ID == id {
			return r, true
		}
	}
	return Region{}, false
}
