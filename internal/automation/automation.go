// internal/automation/automation.go
package automation

import (
	"fmt"
	"time"
)

// Button identifies a pointer button.
type Button int

const (
	ButtonLeft Button = iota + 1
	ButtonMiddle
	ButtonRight
)

// ParseButton maps a configured button name.
func ParseButton(name string) (Button, error) {
	switch name {
	case "", "left":
		return ButtonLeft, nil
	case "middle":
		return ButtonMiddle, nil
	case "right":
		return ButtonRight, nil
	}
	return 0, fmt.Errorf("unknown button %q", name)
}

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonMiddle:
		return "middle"
	case ButtonRight:
		return "right"
	}
	return fmt.Sprintf("button(%d)", int(b))
}

// Automation synthesizes pointer and keyboard input against the OS.
//
// Implementations must follow two rules that are correctness requirements,
// not niceties:
//
//   - MoveCursor relocates with the platform's direct-positioning primitive
//     (a warp), never a synthesized motion event, and verifies the resulting
//     position by query. Motion-only events are seen by listeners but do not
//     authoritatively move the pointer; a later click then lands at the old
//     position.
//   - Every synthesized event is followed by a settle delay before the next
//     one, so the window manager can propagate focus. Down and up halves of a
//     click or keystroke are separated the same way, mirroring hardware
//     timing.
type Automation interface {
	// MoveCursor warps the pointer to (x, y) and verifies the position landed
	// within the configured tolerance, failing loudly otherwise.
	MoveCursor(x, y int) error
	Click(b Button) error
	ButtonDown(b Button) error
	ButtonUp(b Button) error
	// PressKey synthesizes down then up for a key spec: a single character
	// ("a", "!") or a special key name ("Enter", "Tab").
	PressKey(key string) error
	KeyDown(key string) error
	KeyUp(key string) error
	Close() error
}

// Options tune the synthesis timing discipline. Both values are
// platform-dependent and deliberately configurable.
type Options struct {
	// Settle is the pause inserted after each synthesized event.
	Settle time.Duration
	// WarpTolerance is the maximum pixel discrepancy accepted between the
	// requested and the queried pointer position after a warp.
	WarpTolerance int
}

// DefaultOptions returns the timing defaults tuned on X11.
func DefaultOptions() Options {
	return Options{Settle: 10 * time.Millisecond, WarpTolerance: 2}
}

// BackendError is a typed synthesis failure. Fatal marks the backend as
// unusable (display gone, extension missing); callers should fall back to the
// fake backend rather than retry.
type BackendError struct {
	Code    string
	Message string
	Fatal   bool
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("automation: %s: %s", e.Code, e.Message)
}

// IsFatal reports whether err marks the backend unusable.
func IsFatal(err error) bool {
	be, ok := err.(*BackendError)
	return ok && be.Fatal
}

func withinTolerance(gotX, gotY, wantX, wantY, tolerance int) bool {
	dx := gotX - wantX
	if dx < 0 {
		dx = -dx
	}
	dy := gotY - wantY
	if dy < 0 {
		dy = -dy
	}
	return dx <= tolerance && dy <= tolerance
}
