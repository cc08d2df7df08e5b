//go:build !pipewire

// Default-build stub: a binary built without the pipewire tag has no
// frame source, matching the vaapi/nvenc backends' !tag behavior of
// leaving the capability absent rather than half-implemented.
package pwcapture

import (
	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/rdperr"
)

// Open always fails in a binary built without the pipewire tag.
func Open(handle capture.SessionHandle) (Source, error) {
	return nil, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.open", rdperr.ErrStrategyUnavailable)
}
