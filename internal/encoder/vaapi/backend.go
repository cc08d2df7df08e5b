//go:build vaapi

// Package vaapi implements a hardware H.264 backend driving VA-API through
// a GStreamer pipeline (appsrc -> vaapih264enc -> h264parse -> appsink),
// using the same go-gst bindings and appsink pull-sample idiom as the
// teacher's capture pipeline (api/pkg/desktop/gst_pipeline.go), redirected
// from a capture source to an encode sink. Gated behind the vaapi build
// tag so a binary built without it never links libgstvaapi.
package vaapi

import (
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/lamco/rdp-server/internal/color"
	"github.com/lamco/rdp-server/internal/encoder"
)

func init() {
	encoder.RegisterHardwareFactory(newBackend)
}

var gstInitOnce sync.Once

type backend struct {
	mu       sync.Mutex
	cfg      encoder.Config
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	forceKeyframe bool
}

func newBackend(cfg encoder.Config) (encoder.Backend, error) {
	if cfg.Mode == encoder.ModeAVC444 {
		// A single vaapih264enc element cannot natively emit the dual
		// AVC444 view pair; fall back to software for that mode.
		return nil, fmt.Errorf("vaapi: AVC444 not supported, falls back to software")
	}

	gstInitOnce.Do(func() { gst.Init(nil) })

	b := &backend{cfg: cfg}
	if cfg.Width > 0 && cfg.Height > 0 {
		if err := b.build(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *backend) build() error {
	pipelineStr := fmt.Sprintf(
		"appsrc name=src format=time is-live=true block=true ! "+
			"video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1 ! "+
			"vaapih264enc bitrate=%d rate-control=cbr ! h264parse config-interval=1 ! "+
			"appsink name=sink emit-signals=false sync=false max-buffers=2 drop=true",
		b.cfg.Width, b.cfg.Height, b.cfg.FPS, b.cfg.BitrateKbps,
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("vaapi: parse pipeline: %w", err)
	}

	srcElem, err := pipeline.GetElementByName("src")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("vaapi: get appsrc: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("vaapi: get appsink: %w", err)
	}

	b.pipeline = pipeline
	b.src = app.SrcFromElement(srcElem)
	b.sink = app.SinkFromElement(sinkElem)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("vaapi: start pipeline: %w", err)
	}
	return nil
}

func (b *backend) Encode(yuv *color.YUV444) ([]encoder.EncodedFrame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pipeline == nil {
		return nil, fmt.Errorf("vaapi: pipeline not built (dimensions unset)")
	}

	view0, _ := color.PackDualViews(yuv)
	i420 := make([]byte, 0, len(view0.Y)+2*len(view0.U))
	i420 = append(i420, view0.Y...)
	i420 = append(i420, view0.U...)
	i420 = append(i420, view0.V...)

	buf := gst.NewBufferFromBytes(i420)
	if b.forceKeyframe {
		buf.SetFlags(gst.BufferFlagLive)
		b.forceKeyframe = false
	}
	if ret := b.src.PushBuffer(buf); ret != gst.FlowOK {
		return nil, fmt.Errorf("vaapi: push buffer: %v", ret)
	}

	sample := b.sink.PullSample()
	if sample == nil {
		return nil, fmt.Errorf("vaapi: pull sample returned nil")
	}
	outBuf := sample.GetBuffer()
	if outBuf == nil {
		return nil, fmt.Errorf("vaapi: sample has no buffer")
	}
	mapInfo := outBuf.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, fmt.Errorf("vaapi: buffer map failed")
	}
	defer outBuf.Unmap()

	data := make([]byte, len(mapInfo.Bytes()))
	copy(data, mapInfo.Bytes())
	isKeyframe := !outBuf.HasFlags(gst.BufferFlagDeltaUnit)

	return []encoder.EncodedFrame{{View: encoder.ViewMain, Data: data, IsKeyframe: isKeyframe}}, nil
}

func (b *backend) SetBitrate(kbps int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.BitrateKbps = kbps
	if b.pipeline == nil {
		return nil
	}
	enc, err := b.pipeline.GetElementByName("vaapih264enc0")
	if err != nil {
		return nil // element name not addressable yet; next rebuild picks it up
	}
	enc.SetProperty("bitrate", uint(kbps))
	return nil
}

func (b *backend) SetDimensions(width, height int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Width, b.cfg.Height = width, height
	if b.pipeline != nil {
		b.pipeline.SetState(gst.StateNull)
		b.pipeline = nil
	}
	return b.build()
}

func (b *backend) ForceKeyframe() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forceKeyframe = true
	return nil
}

func (b *backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pipeline != nil {
		b.pipeline.SetState(gst.StateNull)
		b.pipeline = nil
	}
	return nil
}

func (b *backend) Name() string     { return "vaapi" }
func (b *backend) IsHardware() bool { return true }
