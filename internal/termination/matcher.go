// internal/termination/matcher.go
package termination

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/loopautoma/loopautoma/internal/config"
)

// Matcher decides whether extracted screen text signals the end of a run.
// Keyword hits are case-insensitive substring matches; the pattern, when
// configured, is a compiled regular expression.
type Matcher struct {
	success []string
	failure []string
	pattern *regexp.Regexp
	raw     string
}

// NewMatcher compiles a matcher from profile termination settings.
func NewMatcher(cfg config.Termination) (*Matcher, error) {
	m := &Matcher{
		success: cfg.SuccessKeywords,
		failure: cfg.FailureKeywords,
	}
	if cfg.Pattern != "" {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling termination pattern: %w", err)
		}
		m.pattern = re
		m.raw = cfg.Pattern
	}
	return m, nil
}

// Empty reports whether the matcher has nothing to match against.
func (m *Matcher) Empty() bool {
	return len(m.success) == 0 && len(m.failure) == 0 && m.pattern == nil
}

// Match scans text for a termination signal. The returned reason names what
// matched; ok is false when nothing did. Failure keywords are checked before
// success keywords so "tests FAILED, run DONE" reads as a failure.
func (m *Matcher) Match(text string) (reason string, ok bool) {
	if text == "" {
		return "", false
	}
	upper := strings.ToUpper(text)

	for _, kw := range m.failure {
		if kw != "" && strings.Contains(upper, strings.ToUpper(kw)) {
			return fmt.Sprintf("failure keyword %q matched", kw), true
		}
	}
	for _, kw := range m.success {
		if kw != "" && strings.Contains(upper, strings.ToUpper(kw)) {
			return fmt.Sprintf("success keyword %q matched", kw), true
		}
	}
	if m.pattern != nil {
		// Index form: a pattern may legitimately match the empty string.
		if loc := m.pattern.FindStringIndex(text); loc != nil {
			return fmt.Sprintf("pattern %q matched %q", m.raw, text[loc[0]:loc[1]]), true
		}
	}
	return "", false
}
