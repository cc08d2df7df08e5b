// Package server wires the already-built L0–L3 packages together into
// the per-connection pipeline and L4 ingress loop spec §2 describes:
// damage detection, the adaptive-FPS/latency governor, color conversion,
// encoding, and EGFX frame bookkeeping, one Pipeline per accepted client.
package server

import (
	"time"

	"github.com/lamco/rdp-server/internal/clipboard"
	"github.com/lamco/rdp-server/internal/color"
	"github.com/lamco/rdp-server/internal/config"
	"github.com/lamco/rdp-server/internal/cursor"
	"github.com/lamco/rdp-server/internal/damage"
	"github.com/lamco/rdp-server/internal/egfx"
	"github.com/lamco/rdp-server/internal/encoder"
	"github.com/lamco/rdp-server/internal/processor"
	"github.com/lamco/rdp-server/internal/wire"
)

// ClipboardChannel bundles the three independently-built clipboard
// components (format conversion, loop detection, chunked transfer) into
// the single per-session unit the server actually drives.
type ClipboardChannel struct {
	Converter *clipboard.FormatConverter
	Loop      *clipboard.LoopDetector
	Transfer  *clipboard.TransferEngine
}

func newClipboardChannel(cfg config.Clipboard) *ClipboardChannel {
	return &ClipboardChannel{
		Converter: clipboard.NewFormatConverter(),
		Loop:      clipboard.NewLoopDetector(),
		Transfer:  clipboard.NewTransferEngine().WithChunkSize(cfg.ChunkSize),
	}
}

// Pipeline drives one client's capture→damage→encode→EGFX path. It owns
// no goroutines of its own; the caller (Server's per-connection handler)
// calls PushFrame/ProcessNext on its own schedule so tests can drive it
// deterministically.
type Pipeline struct {
	queue     *processor.FrameQueue
	detector  *damage.Detector
	fps       *processor.FPSController
	governor  *processor.LatencyGovernor
	enc       *encoder.VideoEncoder
	egfx      *egfx.Channel
	cursor    *cursor.Strategy
	clipboard *ClipboardChannel

	colorCfg   color.Config
	surfaceID  uint16
	sentFirst  bool
}

// NewPipeline builds a Pipeline for one client connection.
func NewPipeline(cfg config.Config, enc *encoder.VideoEncoder, egfxCfg egfx.Config) *Pipeline {
	damageCfg := damage.Config{
		TileSize:           cfg.Damage.TileSize,
		Adjacency:          cfg.Damage.Adjacency,
		PixelDiffThreshold: cfg.Damage.PixelDiffThreshold,
		FullFrameThreshold: cfg.Damage.FullFrameThreshold,
		MinRegionSize:      cfg.Damage.MinRegionSize,
	}
	procCfg := processor.Config{
		TargetFPS:      cfg.Video.TargetFPS,
		MinFPS:         cfg.Video.MinFPS,
		Cooldown:       500 * time.Millisecond,
		LatencyMode:    cfg.Latency.Mode,
		BitrateMinKbps: cfg.Video.BitrateKbps / 4,
		BitrateMaxKbps: cfg.Video.BitrateKbps * 2,
		AckTimeout:     time.Duration(cfg.Egfx.FrameAckTimeoutMs) * time.Millisecond,
	}
	cursorCfg := cursor.DefaultStrategyConfig()
	if mode, ok := cursor.ParseMode(cfg.Cursor.Mode); ok {
		cursorCfg.Mode = mode
	}
	cursorCfg.PredictiveLatencyThresholdMs = cfg.Cursor.PredictiveLatencyThresholdMs

	return &Pipeline{
		queue:     processor.NewFrameQueue(4),
		detector:  damage.NewDetector(damageCfg),
		fps:       processor.NewFPSController(procCfg),
		governor:  processor.NewLatencyGovernor(procCfg),
		enc:       enc,
		egfx:      egfx.New(egfxCfg),
		cursor:    cursor.NewStrategy(cursorCfg, nil),
		clipboard: newClipboardChannel(cfg.Clipboard),
		colorCfg:  color.AutoSelect(egfxCfg.OutputWidth, egfxCfg.OutputHeight, cfg.Video.ColorSpacePreset == color.PresetOpenH264Compatible),
	}
}

// EGFX exposes the pipeline's channel orchestrator for capability
// negotiation and ack/timeout callbacks driven by the connection's
// read loop.
func (p *Pipeline) EGFX() *egfx.Channel { return p.egfx }

// Cursor exposes the pipeline's cursor strategy.
func (p *Pipeline) Cursor() *cursor.Strategy { return p.cursor }

// Clipboard exposes the pipeline's clipboard channel.
func (p *Pipeline) Clipboard() *ClipboardChannel { return p.clipboard }

// PushFrame enqueues a freshly captured frame, dropping the oldest
// queued frame if the pipeline is falling behind (spec §5: capture must
// never block on a slow encoder).
func (p *Pipeline) PushFrame(f processor.Frame) {
	p.queue.Push(f)
}

// ProducedFrame is one damage-driven, encoded unit ready to be framed
// onto the wire alongside its EGFX ticket.
type ProducedFrame struct {
	Ticket  wire.FrameTicket
	Encoded []encoder.EncodedFrame
	Skipped bool // true when the scene was static and nothing was encoded
}

// ProcessNext pops the oldest queued frame (if any) and runs it through
// damage detection, color conversion, and encoding, issuing an EGFX
// ticket when the channel's in-flight window allows a send. The damage
// ratio is fed to the FPS controller, but its target rate does not gate
// the frame: a damaged frame is encoded whenever the window has room. A
// keyframe request, or the first frame, asks the encoder for an IDR.
// ok is false when the queue was empty or the channel's window is
// full — callers should retry on the next tick rather than treat it as
// an error.
func (p *Pipeline) ProcessNext(now time.Time, keyframe bool) (ProducedFrame, bool, error) {
	frame, ok := p.queue.Pop()
	if !ok {
		return ProducedFrame{}, false, nil
	}

	if p.cursor.NeedsCompositing() {
		x, y := p.cursor.RenderPosition()
		cursor.Composite(frame.Data, frame.Width, frame.Height, p.cursor.Shape(), x, y)
	}

	regions := p.detector.Detect(frame.Data, frame.Width, frame.Height)
	damageRatio := damageRatioOf(regions, frame.Width, frame.Height)
	p.fps.Update(damageRatio, now)

	if len(regions) == 0 && p.sentFirst {
		return ProducedFrame{Skipped: true}, true, nil
	}

	if !p.egfx.CanSend() {
		return ProducedFrame{}, false, nil
	}

	forceIDR := keyframe || !p.sentFirst
	if forceIDR {
		_ = p.enc.ForceKeyframe()
	}

	yuv := color.BGRAToYUV444(frame.Data, frame.Width, frame.Height, frame.Width*4, p.colorCfg)
	encoded, err := p.enc.Encode(yuv)
	if err != nil {
		return ProducedFrame{}, false, err
	}

	surface, hasPrimary := p.egfx.Surfaces().Primary()
	if hasPrimary {
		p.surfaceID = surface.ID
	}

	ticket := p.egfx.IssueTicket(p.surfaceID, now, forceIDR)
	p.sentFirst = true

	var wireBytes int
	for _, f := range encoded {
		wireBytes += len(f.Data)
	}
	p.egfx.RecordWireBytes(wireBytes)

	return ProducedFrame{Ticket: ticket, Encoded: encoded}, true, nil
}

// OnAck reports a client FRAME_ACKNOWLEDGE for frameID, retiring its
// in-flight ticket and feeding the observed round-trip latency to the
// latency governor. Any bitrate change the governor makes is applied to
// the encoder, so a sustained slow client triggers a bitrate degrade.
func (p *Pipeline) OnAck(frameID uint32, producedAt time.Time, now time.Time, queueDepth int) (processor.Action, int) {
	p.egfx.OnFrameAck(frameID, queueDepth)
	action, kbps := p.governor.Update(now.Sub(producedAt), now)
	if action != processor.ActionHold {
		_ = p.enc.SetBitrate(kbps)
	}
	return action, kbps
}

// OnSendResult reports the outcome of actually writing an encoded frame
// to the wire, applying the keyframe/fatal failure policy and forcing
// the encoder's next frame to be an IDR when required.
func (p *Pipeline) OnSendResult(frameID uint32, sendErr error) egfx.SendOutcome {
	outcome := p.egfx.OnSendResult(frameID, sendErr)
	if outcome == egfx.SendForceKeyframe {
		_ = p.enc.ForceKeyframe()
	}
	return outcome
}

// OnTicketTimeout reports that no ack arrived for frameID within the
// configured deadline.
func (p *Pipeline) OnTicketTimeout(frameID uint32) egfx.SendOutcome {
	outcome := p.egfx.OnTicketTimeout(frameID)
	if outcome == egfx.SendForceKeyframe {
		_ = p.enc.ForceKeyframe()
	}
	return outcome
}

func damageRatioOf(regions []damage.Region, width, height int) float64 {
	if width == 0 || height == 0 {
		return 0
	}
	total := width * height
	var dirty int
	for _, r := range regions {
		dirty += r.Area()
	}
	if dirty > total {
		dirty = total
	}
	return float64(dirty) / float64(total)
}
