//go:build pipewire

// Real PipeWire capture source, built the same way the vaapi encoder
// backend drives GStreamer (internal/encoder/vaapi/backend.go): an
// appsink pull loop against a pipewiresrc element, gated behind a build
// tag so the default binary never links libgstreamer/libpipewire.
package pwcapture

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/rdperr"
)

var gstInitOnce sync.Once

type gstSource struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int
}

// Open builds a Source pulling frames from handle's PipeWire stream via
// a pipewiresrc ! videoconvert ! appsink pipeline.
func Open(handle capture.SessionHandle) (Source, error) {
	info, ok := infoFrom(handle)
	if !ok {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.open", rdperr.ErrStrategyUnavailable)
	}
	if info.PipeWireFD < 0 {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.open", fmt.Errorf("no PipeWire remote FD on session handle"))
	}

	gstInitOnce.Do(func() { gst.Init(nil) })

	pipelineStr := fmt.Sprintf(
		"pipewiresrc fd=%d path=%d ! videoconvert ! video/x-raw,format=BGRA ! "+
			"appsink name=sink emit-signals=false sync=false max-buffers=2 drop=true",
		info.PipeWireFD, info.NodeID,
	)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.parse_pipeline", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.get_appsink", err)
	}

	s := &gstSource{pipeline: pipeline, sink: app.SinkFromElement(sinkElem), width: info.Width, height: info.Height}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.start_pipeline", err)
	}
	return s, nil
}

func (s *gstSource) NextFrame(ctx context.Context) (PixelFrame, error) {
	sample := s.sink.PullSample()
	if sample == nil {
		return PixelFrame{}, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.pull_sample", fmt.Errorf("pipeline stopped"))
	}
	buf := sample.GetBuffer()
	if buf == nil {
		return PixelFrame{}, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.pull_sample", fmt.Errorf("sample has no buffer"))
	}
	mapInfo := buf.Map(gst.MapRead)
	if mapInfo == nil {
		return PixelFrame{}, rdperr.New(rdperr.KindCaptureUnavailable, "pwcapture.map_buffer", fmt.Errorf("buffer map failed"))
	}
	defer buf.Unmap()

	width, height := s.width, s.height
	if caps := sample.GetCaps(); caps != nil {
		if str := caps.GetStructureAt(0); str != nil {
			if w, err := str.GetValue("width"); err == nil {
				if wi, ok := w.(int); ok {
					width = wi
				}
			}
			if h, err := str.GetValue("height"); err == nil {
				if hi, ok := h.(int); ok {
					height = hi
				}
			}
		}
	}

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	return PixelFrame{Data: data, Width: width, Height: height, Stride: width * 4}, nil
}

func (s *gstSource) Close() error {
	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
		s.pipeline = nil
	}
	return nil
}
