// internal/automation/x11.go
package automation

import (
	"fmt"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
)

// X11Automation synthesizes input through the XTEST extension, with the one
// exception the contract demands: cursor relocation goes through the core
// protocol's WarpPointer, which moves the pointer authoritatively, and the
// result is verified with QueryPointer. XTEST MotionNotify injection is
// exactly the motion-only trap the contract forbids.
type X11Automation struct {
	conn *xgb.Conn
	root xproto.Window
	opts Options
	keys keymap
}

type keymap struct {
	min     xproto.Keycode
	max     xproto.Keycode
	perCode int
	syms    []xproto.Keysym
}

// NewX11Automation connects to the display (empty display = $DISPLAY) and
// loads the server's active keyboard-layout table.
func NewX11Automation(display string, opts Options) (*X11Automation, error) {
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, &BackendError{Code: "connect_failed", Message: err.Error(), Fatal: true}
	}

	if err := xtest.Init(conn); err != nil {
		conn.Close()
		return nil, &BackendError{Code: "xtest_unavailable", Message: err.Error(), Fatal: true}
	}

	a := &X11Automation{
		conn: conn,
		root: xproto.Setup(conn).DefaultScreen(conn).Root,
		opts: opts,
	}
	if err := a.loadKeymap(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *X11Automation) loadKeymap() error {
	setup := xproto.Setup(a.conn)
	min, max := setup.MinKeycode, setup.MaxKeycode

	reply, err := xproto.GetKeyboardMapping(a.conn, min, byte(max-min+1)).Reply()
	if err != nil {
		return &BackendError{Code: "keymap_unavailable", Message: err.Error(), Fatal: true}
	}

	a.keys = keymap{
		min:     min,
		max:     max,
		perCode: int(reply.KeysymsPerKeycode),
		syms:    reply.Keysyms,
	}
	return nil
}

// lookupKeycode finds the keycode producing the keysym under the active
// layout, preferring the unshifted column. shifted reports whether Shift must
// be held.
func (k *keymap) lookupKeycode(sym uint32) (code xproto.Keycode, shifted bool, ok bool) {
	for c := k.min; c <= k.max; c++ {
		base := int(c-k.min) * k.perCode
		if base >= len(k.syms) {
			break
		}
		if uint32(k.syms[base]) == sym {
			return c, false, true
		}
		if k.perCode > 1 && base+1 < len(k.syms) && uint32(k.syms[base+1]) == sym {
			return c, true, true
		}
	}
	return 0, false, false
}

func (a *X11Automation) settle() {
	time.Sleep(a.opts.Settle)
}

// fake issues one synthesized event and waits out the settle delay.
func (a *X11Automation) fake(typ byte, detail byte) error {
	err := xtest.FakeInputChecked(a.conn, typ, detail, 0, a.root, 0, 0, 0).Check()
	if err != nil {
		return &BackendError{Code: "synthesis_failed", Message: err.Error()}
	}
	a.settle()
	return nil
}

// MoveCursor implements Automation: warp, settle, then verify by query.
func (a *X11Automation) MoveCursor(x, y int) error {
	err := xproto.WarpPointerChecked(a.conn,
		xproto.WindowNone, a.root,
		0, 0, 0, 0,
		int16(x), int16(y),
	).Check()
	if err != nil {
		return &BackendError{Code: "warp_failed", Message: err.Error()}
	}
	a.settle()

	reply, err := xproto.QueryPointer(a.conn, a.root).Reply()
	if err != nil {
		return &BackendError{Code: "query_failed", Message: err.Error()}
	}
	if !withinTolerance(int(reply.RootX), int(reply.RootY), x, y, a.opts.WarpTolerance) {
		return &BackendError{
			Code: "warp_verify_failed",
			Message: fmt.Sprintf("pointer at (%d,%d), wanted (%d,%d)",
				reply.RootX, reply.RootY, x, y),
		}
	}
	return nil
}

// ButtonDown implements Automation.
func (a *X11Automation) ButtonDown(b Button) error {
	return a.fake(xproto.ButtonPress, byte(b))
}

// ButtonUp implements Automation.
func (a *X11Automation) ButtonUp(b Button) error {
	return a.fake(xproto.ButtonRelease, byte(b))
}

// Click implements Automation: down and up at the current pointer position,
// separated by the settle delay like real hardware.
func (a *X11Automation) Click(b Button) error {
	if err := a.ButtonDown(b); err != nil {
		return err
	}
	return a.ButtonUp(b)
}

// KeyDown implements Automation.
func (a *X11Automation) KeyDown(key string) error {
	code, shifted, err := a.resolve(key)
	if err != nil {
		return err
	}
	if shifted {
		if err := a.fakeShift(xproto.KeyPress); err != nil {
			return err
		}
	}
	return a.fake(xproto.KeyPress, byte(code))
}

// KeyUp implements Automation.
func (a *X11Automation) KeyUp(key string) error {
	code, shifted, err := a.resolve(key)
	if err != nil {
		return err
	}
	if err := a.fake(xproto.KeyRelease, byte(code)); err != nil {
		return err
	}
	if shifted {
		return a.fakeShift(xproto.KeyRelease)
	}
	return nil
}

// PressKey implements Automation: down then up, settle between.
func (a *X11Automation) PressKey(key string) error {
	if err := a.KeyDown(key); err != nil {
		return err
	}
	return a.KeyUp(key)
}

func (a *X11Automation) resolve(key string) (xproto.Keycode, bool, error) {
	sym, err := keysymFor(key)
	if err != nil {
		return 0, false, &BackendError{Code: "unknown_key", Message: err.Error()}
	}
	code, shifted, ok := a.keys.lookupKeycode(sym)
	if !ok {
		return 0, false, &BackendError{Code: "unmapped_key", Message: "no keycode for key " + key + " in active layout"}
	}
	return code, shifted, nil
}

func (a *X11Automation) fakeShift(typ byte) error {
	code, _, ok := a.keys.lookupKeycode(shiftKeysym)
	if !ok {
		return &BackendError{Code: "unmapped_key", Message: "no Shift keycode in active layout"}
	}
	return a.fake(typ, byte(code))
}

// Close implements Automation.
func (a *X11Automation) Close() error {
	a.conn.Close()
	return nil
}

