// internal/automation/keysym.go
package automation

import "fmt"

// X11 keysym values from keysymdef.h. Special key names bypass character
// mapping entirely; characters go through runeToKeysym and the server's
// active layout table.
var specialKeysyms = map[string]uint32{
	"Enter":     0xff0d, // XK_Return
	"Return":    0xff0d,
	"Tab":       0xff09,
	"Escape":    0xff1b,
	"Backspace": 0xff08,
	"Delete":    0xffff,
	"Insert":    0xff63,
	"Home":      0xff50,
	"End":       0xff57,
	"PageUp":    0xff55,
	"PageDown":  0xff56,
	"Up":        0xff52,
	"Down":      0xff54,
	"Left":      0xff51,
	"Right":     0xff53,
	"Space":     0x0020,
	"Shift":     0xffe1, // XK_Shift_L
	"Ctrl":      0xffe3, // XK_Control_L
	"Control":   0xffe3,
	"Alt":       0xffe9, // XK_Alt_L
	"Super":     0xffeb, // XK_Super_L
	"Meta":      0xffeb,
	"F1":        0xffbe,
	"F2":        0xffbf,
	"F3":        0xffc0,
	"F4":        0xffc1,
	"F5":        0xffc2,
	"F6":        0xffc3,
	"F7":        0xffc4,
	"F8":        0xffc5,
	"F9":        0xffc6,
	"F10":       0xffc7,
	"F11":       0xffc8,
	"F12":       0xffc9,
}

const shiftKeysym = 0xffe1

// keysymFor resolves a key spec: a special key name, or a single character.
func keysymFor(key string) (uint32, error) {
	if sym, ok := specialKeysyms[key]; ok {
		return sym, nil
	}
	runes := []rune(key)
	if len(runes) != 1 {
		return 0, fmt.Errorf("unknown key %q", key)
	}
	return runeToKeysym(runes[0]), nil
}

// runeToKeysym maps a character to its keysym. Latin-1 codepoints are their
// own keysym; everything else uses the Unicode keysym range.
func runeToKeysym(r rune) uint32 {
	if r >= 0x20 && r <= 0xff {
		return uint32(r)
	}
	return 0x01000000 + uint32(r)
}

// IsSpecialKey reports whether name is a recognized special key.
func IsSpecialKey(name string) bool {
	_, ok := specialKeysyms[name]
	return ok
}
