// internal/security/sanitizer.go
package security

import "strings"

// SanitizeValue sanitizes a context variable value before it is expanded into
// typed text:
// - strips control characters (0x00-0x1F except tab/newline)
// - strips bracket characters that would be re-parsed as special-key escapes
// - truncates to 1024 characters
func SanitizeValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		if r == '[' || r == ']' {
			continue
		}
		b.WriteRune(r)
	}
	result := b.String()

	if len(result) > 1024 {
		result = result[:1024]
	}

	return result
}
