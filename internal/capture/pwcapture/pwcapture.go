// Package pwcapture turns a capture.SessionHandle's PipeWire stream into
// a sequence of raw pixel buffers. It is the missing link between
// internal/capture (which only gets as far as a node id and an FD) and
// internal/server's Pipeline.PushFrame.
//
// PixelFrame and Source are defined independently of
// internal/processor.Frame so this package stays a leaf of
// internal/capture rather than reaching up into the server's domain;
// internal/server adapts PixelFrame into processor.Frame at the call
// site.
package pwcapture

import (
	"context"

	"github.com/lamco/rdp-server/internal/capture"
)

// PixelFrame is one captured frame's raw BGRA pixel buffer.
type PixelFrame struct {
	Data          []byte
	Width, Height int
	Stride        int
}

// Source pulls frames from a capture session's PipeWire stream.
type Source interface {
	NextFrame(ctx context.Context) (PixelFrame, error)
	Close() error
}

// HandleInfo is the subset of a capture.SessionHandle a Source needs to
// attach to its PipeWire stream.
type HandleInfo struct {
	PipeWireFD int
	NodeID     uint32
	Width      int
	Height     int
}

func infoFrom(handle capture.SessionHandle) (HandleInfo, bool) {
	streams := handle.Streams()
	if len(streams) == 0 {
		return HandleInfo{}, false
	}
	s := streams[0]
	return HandleInfo{
		PipeWireFD: handle.PipeWireFD(),
		NodeID:     s.NodeID,
		Width:      s.Width,
		Height:     s.Height,
	}, true
}
