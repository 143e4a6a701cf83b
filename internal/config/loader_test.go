// internal/config/loader_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validProfile() *Profile {
	p := &Profile{
		Name:    "claude-loop",
		Enabled: true,
		Regions: []Region{
			{ID: "output", Name: "Terminal output", X: 0, Y: 0, Width: 800, Height: 600},
		},
		Condition: Condition{RegionIDs: []string{"output"}},
		Actions: []Action{
			{Type: "move_cursor", X: 100, Y: 200},
			{Type: "click", Button: "left"},
			{Type: "type_text", Text: "continue[Enter]"},
		},
	}
	applyProfileDefaults(p)
	return p
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loop.yaml")
	content := `
name: claude-loop
enabled: true
regions:
  - id: output
    name: Terminal output
    x: 10
    y: 20
    width: 800
    height: 600
trigger:
  type: interval
  interval_ms: 2000
condition:
  region_ids: [output]
  consecutive_checks: 3
actions:
  - type: move_cursor
    x: 400
    y: 300
  - type: click
  - type: type_text
    text: "continue[Enter]"
guardrails:
  cooldown_ms: 5000
  max_activations_per_hour: 30
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}
	if p.Name != "claude-loop" {
		t.Errorf("name = %q, want claude-loop", p.Name)
	}
	if p.ID != "claude-loop" {
		t.Errorf("id should default to name, got %q", p.ID)
	}
	if p.Trigger.IntervalMs != 2000 {
		t.Errorf("interval_ms = %d, want 2000", p.Trigger.IntervalMs)
	}
	if p.Actions[1].Button != "left" {
		t.Errorf("click button should default to left, got %q", p.Actions[1].Button)
	}
	if p.Guardrails.HeartbeatTimeoutMs != 10*60*1000 {
		t.Errorf("heartbeat timeout default = %d", p.Guardrails.HeartbeatTimeoutMs)
	}
	if err := ValidateProfile(p); err != nil {
		t.Errorf("valid profile rejected: %v", err)
	}
}

func TestGlobalDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("daemon:\n  log_level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadGlobal(path)
	if err != nil {
		t.Fatalf("LoadGlobal failed: %v", err)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.Daemon.LogLevel)
	}
	if cfg.Automation.SettleMs != 10 {
		t.Errorf("settle_ms default = %d, want 10", cfg.Automation.SettleMs)
	}
	if cfg.Automation.WarpTolerancePx != 2 {
		t.Errorf("warp_tolerance_px default = %d, want 2", cfg.Automation.WarpTolerancePx)
	}
	if cfg.Daemon.ListenPort != 9876 {
		t.Errorf("listen_port default = %d", cfg.Daemon.ListenPort)
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
		field  string
	}{
		{
			name:   "zero-width region",
			mutate: func(p *Profile) { p.Regions[0].Width = 0 },
			field:  "regions",
		},
		{
			name: "duplicate region id",
			mutate: func(p *Profile) {
				p.Regions = append(p.Regions, Region{ID: "output", Width: 10, Height: 10})
			},
			field: "regions",
		},
		{
			name:   "condition references missing region",
			mutate: func(p *Profile) { p.Condition.RegionIDs = []string{"gone"} },
			field:  "condition.region_ids",
		},
		{
			name:   "termination references missing region",
			mutate: func(p *Profile) { p.Termination.RegionIDs = []string{"gone"} },
			field:  "termination.region_ids",
		},
		{
			name:   "bad termination pattern",
			mutate: func(p *Profile) { p.Termination.Pattern = "([" },
			field:  "termination.pattern",
		},
		{
			name:   "unknown action type",
			mutate: func(p *Profile) { p.Actions[0].Type = "teleport" },
			field:  "actions[0]",
		},
		{
			name:   "unknown button",
			mutate: func(p *Profile) { p.Actions[1].Button = "fourth" },
			field:  "actions[1]",
		},
		{
			name:   "scheduled trigger without cron",
			mutate: func(p *Profile) { p.Trigger.Type = "scheduled"; p.Trigger.CronExpression = "" },
			field:  "trigger.cron_expression",
		},
		{
			name: "terminate_check bad mode",
			mutate: func(p *Profile) {
				p.Actions = append(p.Actions, Action{Type: "terminate_check", CheckMode: "guess"})
			},
			field: "actions[3]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(p)
			err := ValidateProfile(p)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	if err := ValidateProfile(validProfile()); err != nil {
		t.Errorf("valid profile rejected: %v", err)
	}
}

func TestLoadProfilesDirSkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a\nregions:\n  - id: r\n    width: 1\n    height: 1\ncondition:\n  region_ids: [r]\n"), 0644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644)

	profiles, err := LoadProfilesDir(dir)
	if err != nil {
		t.Fatalf("LoadProfilesDir failed: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
}
