package server

import (
	"sync"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/clipboard"
	"github.com/lamco/rdp-server/internal/cursor"
	"github.com/lamco/rdp-server/internal/encoder"
)

// Capabilities is the set of wire-level features this server instance
// can actually back up right now, derived from what the selected
// capture strategy and encoder backend support rather than advertised
// unconditionally — the service registry named in spec §2's L4 layer.
type Capabilities struct {
	CaptureStrategy  capture.SessionType
	EncoderBackend   string
	HardwareEncode   bool
	AVC420           bool
	AVC444           bool
	ClipboardFormats []clipboard.FormatID
	CursorModes      []cursor.Mode
}

// Registry holds the most recently derived Capabilities behind a
// RWMutex, so the accept loop can re-derive it once per capture-strategy
// change while handlers read it per connection without blocking each
// other.
type Registry struct {
	mu   sync.RWMutex
	caps Capabilities
}

// NewRegistry builds an empty Registry; call Derive once a capture
// strategy and encoder are available.
func NewRegistry() *Registry {
	return &Registry{}
}

// Derive recomputes Capabilities from the live capture strategy and
// encoder backend and stores the result.
//
// AVC444 requires two independent encode calls per frame (main + aux
// view). The software backend always supports this; the GStreamer-driven
// hardware backend in this build exposes a single encode queue, so
// AVC444 is withheld whenever a hardware backend is active rather than
// advertised and then failing mid-stream.
func (r *Registry) Derive(captureType capture.SessionType, enc *encoder.VideoEncoder, conv *clipboard.FormatConverter) Capabilities {
	caps := Capabilities{
		CaptureStrategy:  captureType,
		EncoderBackend:   enc.BackendName(),
		HardwareEncode:   enc.BackendIsHardware(),
		AVC420:           true,
		AVC444:           !enc.BackendIsHardware(),
		ClipboardFormats: conv.SupportedFormats(),
		CursorModes:      []cursor.Mode{cursor.ModeMetadata, cursor.ModePainted, cursor.ModeHidden, cursor.ModePredictive},
	}

	r.mu.Lock()
	r.caps = caps
	r.mu.Unlock()
	return caps
}

// Current returns the most recently derived Capabilities.
func (r *Registry) Current() Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps
}
