// internal/llm/parse.go
package llm

import (
	"encoding/json"
	"strings"
)

// Default keyword sets for the fallback scan, matching what models actually
// emit when they ignore the JSON contract.
var (
	defaultCompletionKeywords   = []string{"DONE", "COMPLETE", "FINISHED", "TASK_COMPLETE"}
	defaultContinuationKeywords = []string{"CONTINUE", "NEXT", "MORE"}
)

// rawResponse uses pointers so an absent task_complete is distinguishable
// from an explicit false.
type rawResponse struct {
	ContinuationPrompt *string  `json:"continuation_prompt"`
	Risk               *float64 `json:"continuation_prompt_risk"`
	TaskComplete       *bool    `json:"task_complete"`
	TaskCompleteReason *string  `json:"task_complete_reason"`
}

// ParseResponse turns raw model output into a Response. Markdown code fences
// are stripped first. If the JSON is malformed or carries no explicit
// task_complete signal, the raw text is scanned for completion keywords
// (case-insensitive substring match); completionKeywords nil means the
// defaults.
func ParseResponse(content string, completionKeywords []string) *Response {
	jsonStr := stripFences(strings.TrimSpace(content))

	var raw rawResponse
	if err := json.Unmarshal([]byte(jsonStr), &raw); err == nil && raw.TaskComplete != nil {
		resp := &Response{TaskComplete: *raw.TaskComplete}
		if raw.ContinuationPrompt != nil {
			resp.ContinuationPrompt = *raw.ContinuationPrompt
		}
		if raw.Risk != nil {
			resp.Risk = *raw.Risk
		}
		if raw.TaskCompleteReason != nil {
			resp.TaskCompleteReason = *raw.TaskCompleteReason
		}
		return resp
	}

	return keywordFallback(content, completionKeywords)
}

func stripFences(s string) string {
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	} else {
		return s
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func keywordFallback(content string, completionKeywords []string) *Response {
	if completionKeywords == nil {
		completionKeywords = defaultCompletionKeywords
	}
	upper := strings.ToUpper(content)

	for _, kw := range completionKeywords {
		if strings.Contains(upper, strings.ToUpper(kw)) {
			reason := "Task completed"
			if strings.Contains(upper, "SUCCESS") || strings.Contains(upper, "PASSED") {
				reason = "Task completed successfully"
			} else if strings.Contains(upper, "FAIL") || strings.Contains(upper, "ERROR") {
				reason = "Task completed with errors"
			}
			return &Response{TaskComplete: true, TaskCompleteReason: reason}
		}
	}

	for _, kw := range defaultContinuationKeywords {
		if strings.Contains(upper, kw) {
			return &Response{ContinuationPrompt: strings.TrimSpace(content), Risk: 0.5}
		}
	}

	// Unintelligible output: neither complete nor a usable continuation.
	return &Response{Risk: 1.0}
}
