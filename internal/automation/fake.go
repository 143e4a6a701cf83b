// internal/automation/fake.go
package automation

import (
	"fmt"
	"sync"
)

// Fake records every synthesized call instead of touching the OS. It backs
// tests and the safe-mode backend recommended when the real backend keeps
// failing.
type Fake struct {
	mu    sync.Mutex
	calls []string
	// FailNext, when set, is returned by the next call and cleared.
	FailNext error
	// cursor tracks the last verified position.
	cursorX, cursorY int
}

// NewFake creates an empty recorder.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	f.calls = append(f.calls, call)
	return nil
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// MoveCursor implements Automation.
func (f *Fake) MoveCursor(x, y int) error {
	if err := f.record(fmt.Sprintf("move(%d,%d)", x, y)); err != nil {
		return err
	}
	f.mu.Lock()
	f.cursorX, f.cursorY = x, y
	f.mu.Unlock()
	return nil
}

// Cursor returns the last verified pointer position.
func (f *Fake) Cursor() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursorX, f.cursorY
}

// ButtonDown implements Automation.
func (f *Fake) ButtonDown(b Button) error { return f.record("buttondown(" + b.String() + ")") }

// ButtonUp implements Automation.
func (f *Fake) ButtonUp(b Button) error { return f.record("buttonup(" + b.String() + ")") }

// Click implements Automation.
func (f *Fake) Click(b Button) error {
	if err := f.ButtonDown(b); err != nil {
		return err
	}
	return f.ButtonUp(b)
}

// KeyDown implements Automation.
func (f *Fake) KeyDown(key string) error { return f.record("keydown(" + key + ")") }

// KeyUp implements Automation.
func (f *Fake) KeyUp(key string) error { return f.record("keyup(" + key + ")") }

// PressKey implements Automation.
func (f *Fake) PressKey(key string) error {
	if err := f.KeyDown(key); err != nil {
		return err
	}
	return f.KeyUp(key)
}

// Close implements Automation.
func (f *Fake) Close() error { return nil }
