package server

import (
	"context"
	"sync"
	"time"

	"github.com/lamco/rdp-server/internal/egfx"
	"github.com/lamco/rdp-server/internal/encoder"
	"github.com/lamco/rdp-server/internal/rdperr"
)

// ackTracker remembers when each in-flight frame was produced so an
// incoming FrameAcknowledge can compute round-trip latency — the
// channel's own in-flight map is keyed the same way but is retired by
// OnFrameAck before the caller ever sees ProducedAt again.
type ackTracker struct {
	mu   sync.Mutex
	sent map[uint32]time.Time
}

func newAckTracker() *ackTracker {
	return &ackTracker{sent: make(map[uint32]time.Time)}
}

func (a *ackTracker) note(frameID uint32, producedAt time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent[frameID] = producedAt
}

func (a *ackTracker) take(frameID uint32) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.sent[frameID]
	delete(a.sent, frameID)
	return t, ok
}

// readPDUs reads and dispatches EGFX PDUs from cs.conn until it errors
// or ctx is cancelled (§6: core owns EGFX sub-channel parsing).
func (s *Server) readPDUs(ctx context.Context, cs *clientSession) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cmd, body, err := egfx.ReadPDU(cs.conn)
		if err != nil {
			return err
		}
		if err := s.dispatchPDU(cs, cmd, body); err != nil {
			kind := rdperr.Classify(err)
			s.log.Warn("egfx: PDU handling failed", "session_id", cs.id, "cmd", cmd, "err", err)
			if rdperr.SessionFatal(kind) {
				return err
			}
		}
	}
}

func (s *Server) dispatchPDU(cs *clientSession, cmd egfx.CmdID, body []byte) error {
	ch := cs.pipeline.EGFX()

	switch cmd {
	case egfx.CmdCapsAdvertise:
		client, err := egfx.DecodeCapsAdvertise(body)
		if err != nil {
			return err
		}
		negotiated, err := ch.OnCapabilitiesAdvertise(client)
		if err != nil {
			return err
		}
		if _, err := cs.conn.Write(egfx.EncodePDU(egfx.CmdCapsConfirm, egfx.CapsConfirmBody(negotiated.Version))); err != nil {
			return err
		}

		surface, err := ch.OnReady()
		if err != nil {
			return err
		}
		_, err = cs.conn.Write(egfx.EncodePDU(egfx.CmdCreateSurface, egfx.CreateSurfaceBody(surface.ID, uint16(surface.Width), uint16(surface.Height))))
		return err

	case egfx.CmdSurfaceCreated:
		_, err := egfx.DecodeSurfaceCreated(body)
		return err

	case egfx.CmdFrameAcknowledge:
		frameID, queueDepth, err := egfx.DecodeFrameAcknowledge(body)
		if err != nil {
			return err
		}
		producedAt, ok := cs.acks.take(frameID)
		if !ok {
			// Ack for a frame we have no send record of (already
			// timed out, or a stale client retransmit); still let the
			// channel retire the ticket if it's still tracking it.
			producedAt = time.Now()
		}
		cs.pipeline.OnAck(frameID, producedAt, time.Now(), int(queueDepth))
		return nil

	case egfx.CmdQoeFrameAcknowledge:
		_, err := egfx.DecodeQoeFrameAcknowledge(body)
		return err

	default:
		// Unrecognized PDUs are skipped rather than treated as fatal —
		// a future client capability this server doesn't yet model
		// shouldn't tear down the whole session.
		return nil
	}
}

// writeFrames drives ProcessNext on a per-frame ticker, a periodic IDR
// timer, and an ack-timeout sweep, writing each produced frame's PDUs to
// cs.conn (§4.6 steps 1-6).
func (s *Server) writeFrames(ctx context.Context, cs *clientSession) error {
	fps := s.cfg.Video.TargetFPS
	if fps <= 0 {
		fps = 30
	}
	frameTicker := time.NewTicker(time.Second / time.Duration(fps))
	defer frameTicker.Stop()

	idrInterval := time.Duration(s.cfg.Egfx.PeriodicIdrS) * time.Second
	if idrInterval <= 0 {
		idrInterval = 5 * time.Second
	}
	idrTicker := time.NewTicker(idrInterval)
	defer idrTicker.Stop()

	ackTimeout := time.Duration(s.cfg.Egfx.FrameAckTimeoutMs) * time.Millisecond
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	sweepTicker := time.NewTicker(ackTimeout)
	defer sweepTicker.Stop()

	forceKeyframe := true
	ch := cs.pipeline.EGFX()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idrTicker.C:
			forceKeyframe = true

		case now := <-sweepTicker.C:
			for _, id := range ch.ExpiredTickets(now, ackTimeout) {
				cs.acks.take(id)
				if ch.OnTicketTimeout(id) == egfx.SendFatal {
					return rdperr.New(rdperr.KindAckTimeout, "server.ack_sweep", rdperr.ErrChannelIoFailure)
				}
			}

		case now := <-frameTicker.C:
			produced, ok, err := cs.pipeline.ProcessNext(now, forceKeyframe)
			if err != nil {
				return err
			}
			if !ok || produced.Skipped {
				continue
			}
			forceKeyframe = false

			wantAVC444 := len(produced.Encoded) > 1
			codec := ch.SelectCodec(wantAVC444)

			views := make([]egfx.EncodedView, len(produced.Encoded))
			for i, f := range produced.Encoded {
				views[i] = egfx.EncodedView{Data: f.Data, IsAux: f.View == encoder.ViewAux}
			}

			frame, err := egfx.BuildFramePDUs(produced.Ticket, codec, s.outputWidth(), s.outputHeight(), views)
			if err != nil {
				return err
			}

			cs.acks.note(produced.Ticket.FrameID, produced.Ticket.ProducedAt)
			_, writeErr := cs.conn.Write(frame)
			outcome := cs.pipeline.OnSendResult(produced.Ticket.FrameID, writeErr)
			if writeErr != nil {
				cs.acks.take(produced.Ticket.FrameID)
			}
			if outcome == egfx.SendFatal {
				return rdperr.New(rdperr.KindEgfxProtocol, "server.send", rdperr.ErrChannelIoFailure)
			}
		}
	}
}

func (s *Server) outputWidth() int  { return 1920 }
func (s *Server) outputHeight() int { return 1080 }
