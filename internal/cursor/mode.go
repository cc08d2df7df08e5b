// Package cursor implements the cursor subsystem described in spec §4.8:
// mode selection (Metadata/Painted/Hidden/Predictive), an EMA
// velocity/acceleration physics predictor for latency compensation, and
// the strategy that switches modes automatically as measured latency
// changes. Grounded on original_source/src/cursor/{predictor,strategy}.rs,
// re-expressed as idiomatic Go (explicit timestamps instead of a
// wall-clock Instant, a Strategy type instead of an impl block), and on
// the teacher's CursorState (api/pkg/desktop/cursor_state.go). Nothing in
// this package takes a lock.
package cursor

import "strings"

// Mode selects how the cursor is delivered to the client.
type Mode int

const (
	// ModeMetadata sends cursor shape/position metadata; the client
	// renders it. Lowest latency, the default.
	ModeMetadata Mode = iota
	// ModePainted composites the cursor into the video frame server-side.
	ModePainted
	// ModeHidden suppresses cursor updates entirely.
	ModeHidden
	// ModePredictive composites the cursor into the video frame
	// server-side, like ModePainted, at a physics-predicted position to
	// compensate for network latency.
	ModePredictive
)

func (m Mode) String() string {
	switch m {
	case ModePainted:
		return "Painted"
	case ModeHidden:
		return "Hidden"
	case ModePredictive:
		return "Predictive"
	default:
		return "Metadata"
	}
}

// RequiresCompositing reports whether m needs the cursor drawn into the
// frame server-side rather than left to the client.
func (m Mode) RequiresCompositing() bool {
	return m == ModePainted || m == ModePredictive
}

// ParseMode accepts the mode's canonical name and the aliases the
// configuration layer recognizes.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(s) {
	case "metadata", "client", "default":
		return ModeMetadata, true
	case "painted", "embedded", "composite":
		return ModePainted, true
	case "hidden", "none", "off":
		return ModeHidden, true
	case "predictive", "predict", "physics":
		return ModePredictive, true
	default:
		return ModeMetadata, false
	}
}
