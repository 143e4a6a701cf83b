// internal/config/types.go
package config

// Global configuration loaded from config.yaml
type Global struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	Logging    LoggingConfig    `yaml:"logging"`
	Automation AutomationConfig `yaml:"automation"`
	LLM        LLMConfig        `yaml:"llm"`
	OCR        OCRConfig        `yaml:"ocr"`
	History    HistoryConfig    `yaml:"history"`
}

type DaemonConfig struct {
	LogLevel      string `yaml:"log_level"`
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Path   string `yaml:"path"`
	Debug  bool   `yaml:"debug"`
}

// AutomationConfig selects and tunes the input-synthesis backend. SettleMs and
// WarpTolerancePx are platform- and window-manager-dependent; the defaults were
// tuned on X11.
type AutomationConfig struct {
	Backend            string `yaml:"backend"` // x11 or fake
	SettleMs           int    `yaml:"settle_ms"`
	InterActionDelayMs int    `yaml:"inter_action_delay_ms"`
	WarpTolerancePx    int    `yaml:"warp_tolerance_px"`
	Display            string `yaml:"display"` // empty = $DISPLAY
}

type LLMConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSec  int     `yaml:"timeout_seconds"`
}

type OCRConfig struct {
	Provider string `yaml:"provider"` // tesseract, vision, or none
	Binary   string `yaml:"binary"`   // tesseract path override
	Language string `yaml:"language"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Profile configuration loaded from individual YAML files
type Profile struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Enabled     bool        `yaml:"enabled"`
	Regions     []Region    `yaml:"regions"`
	Trigger     Trigger     `yaml:"trigger"`
	Condition   Condition   `yaml:"condition"`
	Actions     []Action    `yaml:"actions"`
	Guardrails  Guardrails  `yaml:"guardrails"`
	Termination Termination `yaml:"termination"`
}

// Region is a named capture rectangle in screen coordinates.
type Region struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

type Trigger struct {
	Type       string `yaml:"type"` // interval or scheduled
	IntervalMs int    `yaml:"interval_ms"`
	// Scheduled: checks only fire while the cron window is active.
	CronExpression string `yaml:"cron_expression"`
}

type Condition struct {
	RegionIDs         []string `yaml:"region_ids"`
	ConsecutiveChecks int      `yaml:"consecutive_checks"`
	ExpectChange      bool     `yaml:"expect_change"`
	Downscale         int      `yaml:"downscale"`
}

// Action is one step of a profile's action sequence. Fields are discriminated
// by Type; the loader validates the combination.
type Action struct {
	Type string `yaml:"type"` // move_cursor, click, type_text, press_key, llm_prompt, terminate_check

	// move_cursor
	X int `yaml:"x"`
	Y int `yaml:"y"`
	// click
	Button string `yaml:"button"` // left, right, middle (default left)
	// type_text: literal text with [Key] escapes and {{var}} expansion
	Text string `yaml:"text"`
	// press_key
	Key string `yaml:"key"`
	// llm_prompt
	RegionIDs     []string `yaml:"region_ids"`
	Variable      string   `yaml:"variable"`
	SystemPrompt  string   `yaml:"system_prompt"`
	RiskThreshold float64  `yaml:"risk_threshold"`
	// terminate_check
	CheckMode string `yaml:"check_mode"` // context, ocr, or ai
	Pattern   string `yaml:"pattern"`
}

// Guardrails bound a single run. A zero value disables the corresponding bound
// except HeartbeatTimeoutMs, which always gets a default.
type Guardrails struct {
	CooldownMs            int `yaml:"cooldown_ms"`
	MaxActivationsPerHour int `yaml:"max_activations_per_hour"`
	MaxRuntimeMs          int `yaml:"max_runtime_ms"`
	HeartbeatTimeoutMs    int `yaml:"heartbeat_timeout_ms"`
}

// Termination configures the OCR pre-check and the keyword fallbacks used when
// an LLM response carries no structured completion signal.
type Termination struct {
	RegionIDs          []string `yaml:"region_ids"`
	SuccessKeywords    []string `yaml:"success_keywords"`
	FailureKeywords    []string `yaml:"failure_keywords"`
	Pattern            string   `yaml:"pattern"`
	CompletionKeywords []string `yaml:"completion_keywords"`
}
