// internal/termination/matcher_test.go
package termination

import (
	"strings"
	"testing"

	"github.com/loopautoma/loopautoma/internal/config"
)

func TestMatcherKeywords(t *testing.T) {
	m, err := NewMatcher(config.Termination{
		SuccessKeywords: []string{"all tests passed"},
		FailureKeywords: []string{"build failed"},
	})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	reason, ok := m.Match("Summary: ALL TESTS PASSED in 3.2s")
	if !ok {
		t.Fatal("success keyword should match case-insensitively")
	}
	if !strings.Contains(reason, "success keyword") {
		t.Errorf("reason = %q", reason)
	}

	if _, ok := m.Match("still compiling"); ok {
		t.Error("unrelated text should not match")
	}
}

func TestMatcherFailureBeforeSuccess(t *testing.T) {
	m, err := NewMatcher(config.Termination{
		SuccessKeywords: []string{"done"},
		FailureKeywords: []string{"failed"},
	})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	reason, ok := m.Match("2 tests failed, run done")
	if !ok {
		t.Fatal("expected a match")
	}
	if !strings.Contains(reason, "failure keyword") {
		t.Errorf("failure should win over success, got %q", reason)
	}
}

func TestMatcherPattern(t *testing.T) {
	m, err := NewMatcher(config.Termination{Pattern: `exit code \d+`})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	reason, ok := m.Match("process terminated with exit code 137")
	if !ok {
		t.Fatal("pattern should match")
	}
	if !strings.Contains(reason, "exit code 137") {
		t.Errorf("reason should name the matched text, got %q", reason)
	}
}

func TestMatcherPatternEmptyMatch(t *testing.T) {
	m, err := NewMatcher(config.Termination{Pattern: `x*`})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	reason, ok := m.Match("yyy")
	if !ok {
		t.Fatal("a pattern matching the empty string must still fire")
	}
	if !strings.Contains(reason, `""`) {
		t.Errorf("reason should show the empty match, got %q", reason)
	}
}

func TestMatcherInvalidPattern(t *testing.T) {
	if _, err := NewMatcher(config.Termination{Pattern: "("}); err == nil {
		t.Error("invalid regex should fail to compile")
	}
}

func TestMatcherEmpty(t *testing.T) {
	m, err := NewMatcher(config.Termination{})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if !m.Empty() {
		t.Error("matcher with no criteria should be empty")
	}
	if _, ok := m.Match("anything DONE here"); ok {
		t.Error("empty matcher must never match")
	}
}
