// Package capture defines the common contract implemented by each
// screen-capture strategy (portal, mutter, wlrdirect, libei) and the
// selector that picks among them at server start.
package capture

import (
	"context"
	"log/slog"
)

// StreamDescriptor describes one capturable video stream: its PipeWire
// node id plus the geometry the compositor reported for it. Geometry is
// parsed defensively by each strategy — a missing size/position leaves
// the corresponding fields at zero rather than failing session setup.
type StreamDescriptor struct {
	NodeID        uint32
	Width, Height int
	X, Y          int
}

// Button identifies a pointer button using the Linux evdev numbering
// strategies already share for wlr-direct and libei input injection.
type Button uint32

const (
	ButtonLeft   Button = 0x110
	ButtonRight  Button = 0x111
	ButtonMiddle Button = 0x112
)

// AxisSource distinguishes the physical origin of a scroll event, as
// wlr-direct's axis protocol and libei both require it to pick the
// correct damping/acceleration curve client-side.
type AxisSource int

const (
	AxisSourceWheel AxisSource = iota
	AxisSourceFinger
	AxisSourceContinuous
	AxisSourceWheelTilt
)

// InputInjector is the subset of a SessionHandle responsible for
// delivering input to the compositor. Every logical input gesture (a
// key press, a pointer move, a scroll) ends with Frame(), matching the
// wlr-direct/libei convention of batching related events before they
// take effect.
type InputInjector interface {
	KeyEvent(ctx context.Context, keycode uint32, pressed bool) error
	PointerMotionAbsolute(ctx context.Context, x, y float64) error
	PointerButton(ctx context.Context, button Button, pressed bool) error
	PointerAxis(ctx context.Context, source AxisSource, dx, dy float64) error
	Frame(ctx context.Context) error
}

// ClipboardComponent is the interface a strategy would return to bridge
// the compositor's clipboard directly. None of the current strategies
// provides one: every SessionHandle.Clipboard returns nil.
type ClipboardComponent interface {
	OwnSelection(ctx context.Context, mimeTypes []string) error
	ReadSelection(ctx context.Context, mimeType string) ([]byte, error)
}

// SessionType identifies which strategy produced a SessionHandle, used
// for logging and for the degrade-to-next-candidate policy.
type SessionType int

const (
	SessionTypePortal SessionType = iota
	SessionTypeMutter
	SessionTypeWlrDirect
	SessionTypeLibei
)

func (t SessionType) String() string {
	switch t {
	case SessionTypePortal:
		return "portal"
	case SessionTypeMutter:
		return "mutter"
	case SessionTypeWlrDirect:
		return "wlr-direct"
	case SessionTypeLibei:
		return "libei"
	default:
		return "unknown"
	}
}

// SessionHandle is the live, strategy-agnostic view of a capture
// session: how to reach the PipeWire stream(s) producing frames, how to
// inject input, and how to tear everything down.
type SessionHandle interface {
	InputInjector

	Type() SessionType
	Streams() []StreamDescriptor
	// PipeWireFD returns a duplicated file descriptor for the PipeWire
	// remote this session opened, or -1 if the strategy exposes the
	// node id only (no portal-mediated FD hop was needed).
	PipeWireFD() int
	Clipboard() ClipboardComponent
	Close() error
}

// Strategy constructs SessionHandles and reports the UX properties the
// selector needs to order and retry candidates.
type Strategy interface {
	Name() SessionType
	// Available probes whether this strategy's prerequisites are
	// reachable right now (D-Bus name owner, protocol globals) without
	// establishing a session.
	Available(ctx context.Context) bool
	// RequiresInitialSetup reports whether first use needs interactive
	// user confirmation (a portal permission dialog).
	RequiresInitialSetup() bool
	// SupportsUnattendedRestore reports whether a previously persisted
	// token lets later runs skip RequiresInitialSetup's prompt.
	SupportsUnattendedRestore() bool
	Open(ctx context.Context) (SessionHandle, error)
}

// Logger is the subset of *slog.Logger strategies accept, kept as an
// explicit field type so tests can pass a discard logger without
// importing log/slog at every call site.
type Logger = *slog.Logger
