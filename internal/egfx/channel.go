// Package egfx implements the MS-RDPEGFX channel orchestrator (§4.6): a
// PDU-driven state machine covering capability negotiation, the surface
// table, the frame-ticket/ACK in-flight window, and per-frame codec
// selection. No direct teacher analogue exists (the teacher speaks
// WebRTC/HTTP signaling, not MS-RDPEGFX); the state-machine shape and
// the in-flight-window bookkeeping are built directly from this
// system's §3/§4.6/§5 invariants, using rcarmo-go-rdp's PDU-assembly
// idiom (internal/wire.Builder, grounded on refresh_rect.go's
// buildShareDataHeader) for the wire side and the teacher's
// lock-free-stats-snapshot pattern (internal/encoder.Stats) for
// diagnostics.
package egfx

import (
	"sync"
	"time"

	"github.com/lamco/rdp-server/internal/rdperr"
	"github.com/lamco/rdp-server/internal/wire"
)

// State is the channel's coarse lifecycle state (§4.6).
type State int

const (
	StateInit State = iota
	StateCapsAdvertised
	StateReady
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCapsAdvertised:
		return "caps_advertised"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds the channel's tunable knobs (§6 configuration table).
type Config struct {
	MaxFramesInFlight int
	FrameAckTimeout   time.Duration
	PeriodicIDR       time.Duration
	OutputWidth       int
	OutputHeight      int
}

// DefaultConfig mirrors the spec's default knob values.
func DefaultConfig() Config {
	return Config{
		MaxFramesInFlight: 3,
		FrameAckTimeout:   5 * time.Second,
		PeriodicIDR:       5 * time.Second,
	}
}

// Codec is the per-frame codec selection outcome (§4.6 step 3).
type Codec int

const (
	CodecAVC444 Codec = iota
	CodecAVC420
	CodecRFX
)

func (c Codec) String() string {
	switch c {
	case CodecAVC444:
		return "avc444"
	case CodecAVC420:
		return "avc420"
	case CodecRFX:
		return "rfx"
	default:
		return "unknown"
	}
}

// inFlightTicket pairs a FrameTicket with whether it was sent as a
// keyframe, needed to apply the send-error failure policy (§4.6: a
// send error after a keyframe is fatal, after a P-frame forces the
// next keyframe).
type inFlightTicket struct {
	ticket     wire.FrameTicket
	keyframe   bool
}

// Channel drives one client's EGFX sub-channel. All methods are meant
// to be called from a single owning task (§5: "within a single EGFX
// channel, PDU processing is strictly serial").
type Channel struct {
	cfg      Config
	surfaces *SurfaceTable

	mu               sync.Mutex
	state            State
	caps             CapabilitySet
	nextFrameID      uint32
	inFlight         map[uint32]inFlightTicket
	consecutiveTimeouts int
	queueDepth       int
	wireBytes        uint64
}

// New builds a Channel in StateInit.
func New(cfg Config) *Channel {
	return &Channel{
		cfg:      cfg,
		surfaces: NewSurfaceTable(),
		state:    StateInit,
		inFlight: make(map[uint32]inFlightTicket),
	}
}

// Surfaces returns the channel's surface table.
func (c *Channel) Surfaces() *SurfaceTable { return c.surfaces }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Capabilities returns the negotiated capability set, valid only once
// State() is at least StateCapsAdvertised.
func (c *Channel) Capabilities() CapabilitySet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// OnCapabilitiesAdvertise negotiates against the client's advertised
// capabilities and transitions Init → CapsAdvertised.
func (c *Channel) OnCapabilitiesAdvertise(client []ClientCapability) (CapabilitySet, error) {
	caps, ok := Negotiate(client)
	if !ok {
		return CapabilitySet{}, rdperr.New(rdperr.KindEgfxProtocol, "egfx.negotiate", errNoCommonVersion)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateInit {
		return CapabilitySet{}, rdperr.New(rdperr.KindEgfxProtocol, "egfx.state", errUnexpectedPDU)
	}
	c.caps = caps
	c.state = StateCapsAdvertised
	return caps, nil
}

// OnReady handles the client's Ready PDU: per §4.6 this transitions
// straight to Streaming (the "Ready" state in the lifecycle diagram is
// a momentary one the spec's transition table never actually parks
// in) and creates the primary surface at the configured output
// geometry.
func (c *Channel) OnReady() (*Surface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCapsAdvertised {
		return nil, rdperr.New(rdperr.KindEgfxProtocol, "egfx.state", errUnexpectedPDU)
	}
	c.state = StateStreaming
	surface := c.surfaces.Create(c.cfg.OutputWidth, c.cfg.OutputHeight)
	return surface, nil
}

// CanSend reports whether the in-flight window has room for another
// ticket (§4.6 step 1, §8 property 5).
func (c *Channel) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight) < c.cfg.MaxFramesInFlight
}

// SelectCodec implements §4.6 step 3's codec fallback chain.
func (c *Channel) SelectCodec(wantAVC444 bool) Codec {
	c.mu.Lock()
	h264 := c.caps.H264Available
	v10 := c.caps.Version.isV10OrNewer()
	avc420 := c.caps.AVC420Enabled()
	c.mu.Unlock()

	if !h264 {
		return CodecRFX
	}
	if wantAVC444 && v10 {
		return CodecAVC444
	}
	if avc420 || v10 {
		return CodecAVC420
	}
	return CodecRFX
}

// IssueTicket allocates the next monotonic frame ID and records an
// in-flight ticket for it (§4.6 step 5, §8 property 6: strictly
// monotonic per channel).
func (c *Channel) IssueTicket(surfaceID uint16, producedAt time.Time, keyframe bool) wire.FrameTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextFrameID++
	t := wire.FrameTicket{FrameID: c.nextFrameID, SurfaceID: surfaceID, ProducedAt: producedAt}
	c.inFlight[t.FrameID] = inFlightTicket{ticket: t, keyframe: keyframe}
	return t
}

// RecordWireBytes adds to the running wire-bytes counter (§4.6 step 5:
// "record wire bytes").
func (c *Channel) RecordWireBytes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wireBytes += uint64(n)
}

// OnFrameAck retires the ticket matching frameID and updates the
// measured client queue depth. Per §5, any unacked ticket may be
// retired out of order; tickets older than the newest ack are
// considered lost and counted as such by the caller inspecting
// InFlightCount before and after.
func (c *Channel) OnFrameAck(frameID uint32, queueDepth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, frameID)
	c.queueDepth = queueDepth
	c.consecutiveTimeouts = 0

	// Tickets strictly older than frameID are presumed lost rather than
	// kept waiting forever; this keeps the window invariant (§8
	// property 5) true even if an ack for an older frame never
	// arrives because the client coalesced acks.
	for id := range c.inFlight {
		if id < frameID {
			delete(c.inFlight, id)
		}
	}
}

// ExpiredTickets returns the frame IDs of in-flight tickets whose
// ProducedAt predates now by more than timeout, for a periodic
// ack-timeout sweep driven by the connection's write loop. It only
// reports; callers must call OnTicketTimeout for each returned id to
// actually retire it and apply the failure-semantics policy.
func (c *Channel) ExpiredTickets(now time.Time, timeout time.Duration) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []uint32
	for id, t := range c.inFlight {
		if now.Sub(t.ticket.ProducedAt) > timeout {
			ids = append(ids, id)
		}
	}
	return ids
}

// InFlightCount returns the number of currently unacked tickets.
func (c *Channel) InFlightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// QueueDepth returns the most recently reported client buffer depth.
func (c *Channel) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueDepth
}

// SendOutcome classifies the result of a per-frame send for §4.6's
// failure-semantics policy.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendForceKeyframe
	SendFatal
)

// OnSendResult applies §4.6's failure semantics: a send error after a
// keyframe is fatal; a send error after a P-frame forces a keyframe on
// the next attempt. A successful send is a no-op observation point.
func (c *Channel) OnSendResult(frameID uint32, sendErr error) SendOutcome {
	c.mu.Lock()
	wasKeyframe := false
	if t, ok := c.inFlight[frameID]; ok {
		wasKeyframe = t.keyframe
	}
	c.mu.Unlock()

	if sendErr == nil {
		return SendOK
	}
	if wasKeyframe {
		c.abort()
		return SendFatal
	}
	return SendForceKeyframe
}

// OnTicketTimeout records an unacked ticket timing out. Three
// consecutive timeouts abort the session (§4.6).
func (c *Channel) OnTicketTimeout(frameID uint32) SendOutcome {
	c.mu.Lock()
	delete(c.inFlight, frameID)
	c.consecutiveTimeouts++
	fatal := c.consecutiveTimeouts >= 3
	c.mu.Unlock()

	if fatal {
		c.abort()
		return SendFatal
	}
	return SendForceKeyframe
}

// Close transitions to StateClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

func (c *Channel) abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

var (
	errNoCommonVersion = egfxError("no common capability version with client")
	errUnexpectedPDU   = egfxError("PDU received in an unexpected channel state")
)

type egfxError string

func (e egfxError) Error() string { return string(e) }
