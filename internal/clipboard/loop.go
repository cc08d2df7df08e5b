package clipboard

import (
	"crypto/sha256"
	"sync"
	"time"
)

// recencyWindow bounds how long a just-received hash is remembered as
// "recent" for loop detection; content re-announced by the peer after
// this window is treated as a genuinely new copy, not an echo.
const recencyWindow = 3 * time.Second

// LoopDetector prevents the clipboard bridge from re-announcing content
// back to the peer it just received it from — without it, every
// SetSelection↔FormatDataResponse round trip would ping-pong forever on
// compositors that echo their own clipboard owner changes.
type LoopDetector struct {
	mu       sync.Mutex
	lastHash [32]byte
	lastSeen time.Time
	hasLast  bool
	now      func() time.Time
}

// NewLoopDetector constructs a detector using the wall clock.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{now: time.Now}
}

// RecordReceived remembers content just received from the peer so a
// subsequent local announce of the same bytes can be recognized as an
// echo rather than a new user copy.
func (d *LoopDetector) RecordReceived(content []byte) {
	h := sha256.Sum256(content)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastHash = h
	d.lastSeen = d.now()
	d.hasLast = true
}

// WouldCauseLoop reports whether writing content to the local clipboard
// right now would just be echoing what we last received from the peer.
func (d *LoopDetector) WouldCauseLoop(content []byte) bool {
	h := sha256.Sum256(content)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasLast {
		return false
	}
	if d.now().Sub(d.lastSeen) > recencyWindow {
		return false
	}
	return h == d.lastHash
}
