// internal/security/scrubber.go
package security

import "regexp"

var (
	// OpenAI-style API keys: sk-..., sk-proj-...
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)
	// Bearer token pattern
	bearerPattern = regexp.MustCompile(`Bearer\s+\S{20,}`)
	// Long hex strings (32+ chars), likely keys or session tokens
	hexKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
)

// ScrubOutput redacts token-shaped secrets from LLM and OCR text before it is
// logged or persisted. Captured screens can contain anything, including the
// operator's own credentials.
func ScrubOutput(output string) string {
	result := apiKeyPattern.ReplaceAllString(output, "[REDACTED]")
	result = bearerPattern.ReplaceAllString(result, "Bearer [REDACTED]")
	result = hexKeyPattern.ReplaceAllString(result, "[REDACTED]")
	return result
}
