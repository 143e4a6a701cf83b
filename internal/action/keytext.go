// internal/action/keytext.go
package action

import "github.com/loopautoma/loopautoma/internal/automation"

type segmentKind int

const (
	segLiteral segmentKind = iota
	segSpecial
)

// segment is one run of a typed string: either literal characters to type one
// by one, or the name of a special key to synthesize.
type segment struct {
	kind segmentKind
	text string
}

// scanKeyText splits typed text into literal and special-key segments. Bracket
// escapes like [Enter] name special keys; a bracket pair that does not name a
// known key, or an unterminated bracket, is typed literally.
func scanKeyText(s string) []segment {
	var segs []segment
	var literal []rune

	flush := func() {
		if len(literal) > 0 {
			segs = append(segs, segment{kind: segLiteral, text: string(literal)})
			literal = literal[:0]
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '[' {
			literal = append(literal, runes[i])
			continue
		}
		end := -1
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == ']' {
				end = j
				break
			}
		}
		if end < 0 {
			literal = append(literal, runes[i])
			continue
		}
		name := string(runes[i+1 : end])
		if !automation.IsSpecialKey(name) {
			literal = append(literal, runes[i])
			continue
		}
		flush()
		segs = append(segs, segment{kind: segSpecial, text: name})
		i = end
	}
	flush()
	return segs
}
