package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lamco/rdp-server/internal/capture"
	"github.com/lamco/rdp-server/internal/capture/pwcapture"
	"github.com/lamco/rdp-server/internal/clipboard"
	"github.com/lamco/rdp-server/internal/color"
	"github.com/lamco/rdp-server/internal/config"
	"github.com/lamco/rdp-server/internal/egfx"
	"github.com/lamco/rdp-server/internal/encoder"
	"github.com/lamco/rdp-server/internal/encoder/openh264"
	"github.com/lamco/rdp-server/internal/processor"
	"github.com/lamco/rdp-server/internal/rdperr"
	"github.com/lamco/rdp-server/internal/session"
)

// Server is the L4 entry point: it accepts already-TLS-terminated
// client streams and drives one Pipeline per connection. Modeled on
// api/pkg/desktop/desktop.go's Server (an atomic.Bool running flag, a
// sync.WaitGroup tracking every background goroutine, a *slog.Logger
// threaded through every constructor) generalized from HTTP-route
// registration to a raw accepted-stream loop.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	session  *session.Manager
	registry *Registry

	running atomic.Bool
	wg      sync.WaitGroup
	nextID  atomic.Uint64

	mu       sync.Mutex
	sessions map[uint64]*clientSession
	addr     net.Addr

	handle      capture.SessionHandle
	frameSource pwcapture.Source
}

// clientSession pairs an accepted connection with the Pipeline driving
// it, tracked so closeAll can tear every connection down on shutdown.
type clientSession struct {
	id       uint64
	conn     net.Conn
	pipeline *Pipeline
	acks     *ackTracker
}

// New builds a Server from cfg, detecting the compositor/deployment and
// credential-store backend via internal/session.Manager.
func New(ctx context.Context, log *slog.Logger, cfg config.Config) (*Server, error) {
	mgr, err := session.NewManager(ctx, log, session.Options{
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	})
	if err != nil {
		return nil, fmt.Errorf("server: session manager: %w", err)
	}

	return &Server{
		cfg:      cfg,
		log:      log,
		session:  mgr,
		registry: NewRegistry(),
		sessions: make(map[uint64]*clientSession),
	}, nil
}

// Run opens the capture session, starts the TLS accept loop, and blocks
// until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("server starting", "listen_addr", s.cfg.TLS.ListenAddr)

	handle, err := s.session.Open(ctx)
	if err != nil {
		return rdperr.New(rdperr.KindCaptureUnavailable, "server.run", err)
	}
	s.handle = handle

	if src, err := pwcapture.Open(handle); err != nil {
		s.log.Warn("pwcapture: no live frame source, pipelines run EGFX-only until a pipewire build is used", "err", err)
	} else {
		s.frameSource = src
	}

	strategy, _ := s.session.ActiveCaptureStrategy()
	probeEnc, err := s.newEncoder()
	if err != nil {
		return fmt.Errorf("server: encoder init: %w", err)
	}
	s.registry.Derive(strategy, probeEnc, clipboard.NewFormatConverter())
	probeEnc.Close()

	listener, err := s.listen()
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		errCh <- s.acceptLoop(ctx, listener)
	}()

	if s.frameSource != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.captureLoop(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		s.log.Info("server shutting down")
	case err := <-errCh:
		if err != nil {
			_ = listener.Close()
			s.wg.Wait()
			return err
		}
	}

	s.closeAll()
	_ = listener.Close()
	if s.frameSource != nil {
		_ = s.frameSource.Close()
	}
	s.wg.Wait()
	return ctx.Err()
}

// captureLoop pulls frames from the live PipeWire source and fans each
// one out to every connected client's Pipeline, which queues it for its
// own damage/encode/EGFX schedule (§5: capture never blocks on a slow
// client).
func (s *Server) captureLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pf, err := s.frameSource.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("pwcapture: frame read failed", "err", err)
			continue
		}

		frame := processor.Frame{Data: pf.Data, Width: pf.Width, Height: pf.Height, Stride: pf.Stride}

		s.mu.Lock()
		for _, cs := range s.sessions {
			cs.pipeline.PushFrame(frame)
		}
		s.mu.Unlock()
	}
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool { return s.running.Load() }

// ConnectionCount reports how many client sessions are currently live.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Addr reports the listener's bound address once Run has started
// listening, or nil before that.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// encoderMode derives the AVC420/AVC444 mode from the configured codec
// preference. AVC444 needs two independent encode calls per frame and is
// withheld whenever a hardware backend will be selected, mirroring
// Registry.Derive's AVC444-withheld-under-hardware rule.
func encoderMode(codec string, preferHardware bool) encoder.Mode {
	if preferHardware {
		return encoder.ModeAVC420
	}
	switch codec {
	case "avc420":
		return encoder.ModeAVC420
	case "avc444", "auto":
		return encoder.ModeAVC444
	default:
		return encoder.ModeAVC420
	}
}

func (s *Server) newEncoder() (*encoder.VideoEncoder, error) {
	cfg := encoder.Config{
		Mode:                encoderMode(s.cfg.Video.Codec, s.cfg.Video.PreferHardware),
		Width:               1920,
		Height:              1080,
		FPS:                 s.cfg.Video.TargetFPS,
		BitrateKbps:         s.cfg.Video.BitrateKbps,
		AuxBitrateRatio:     s.cfg.Video.AuxBitrateRatio,
		ColorSpace:          color.AutoSelect(1920, 1080, s.cfg.Video.ColorSpacePreset == color.PresetOpenH264Compatible),
		PreferHardware:      s.cfg.Video.PreferHardware,
		MaxAuxInterval:      s.cfg.Egfx.MaxAuxInterval,
		AuxChangeThreshold:  s.cfg.Egfx.AuxChangeThresh,
		ForceAuxIdrOnReturn: s.cfg.Egfx.ForceAuxIdrOnReturn,
	}
	return encoder.New(cfg, openh264.New)
}

func (s *Server) listen() (net.Listener, error) {
	if s.cfg.TLS.CertFile == "" || s.cfg.TLS.KeyFile == "" {
		return net.Listen("tcp", s.cfg.TLS.ListenAddr)
	}

	cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("server: load tls cert: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if s.cfg.TLS.RequireTLS13 {
		tlsCfg.MinVersion = tls.VersionTLS13
	}
	return tls.Listen("tcp", s.cfg.TLS.ListenAddr, tlsCfg)
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	enc, err := s.newEncoder()
	if err != nil {
		s.log.Error("per-connection encoder init failed", "err", err)
		return
	}
	defer enc.Close()

	egfxCfg := egfx.DefaultConfig()
	egfxCfg.MaxFramesInFlight = s.cfg.Egfx.MaxFramesInFlight
	egfxCfg.FrameAckTimeout = time.Duration(s.cfg.Egfx.FrameAckTimeoutMs) * time.Millisecond
	egfxCfg.PeriodicIDR = time.Duration(s.cfg.Egfx.PeriodicIdrS) * time.Second
	egfxCfg.OutputWidth, egfxCfg.OutputHeight = 1920, 1080

	pipeline := NewPipeline(s.cfg, enc, egfxCfg)

	id := s.nextID.Add(1)
	cs := &clientSession{id: id, conn: conn, pipeline: pipeline, acks: newAckTracker()}
	s.mu.Lock()
	s.sessions[id] = cs
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		if surface, ok := pipeline.EGFX().Surfaces().Primary(); ok {
			pipeline.EGFX().Surfaces().Delete(surface.ID)
		}
		pipeline.EGFX().Close()
	}()

	s.log.Info("client connected", "session_id", id, "remote_addr", conn.RemoteAddr())

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.readPDUs(connCtx, cs) }()
	go func() { errCh <- s.writeFrames(connCtx, cs) }()

	select {
	case <-connCtx.Done():
	case err := <-errCh:
		if err != nil && connCtx.Err() == nil {
			s.log.Info("client session ended", "session_id", id, "err", err)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cs := range s.sessions {
		_ = cs.conn.Close()
		delete(s.sessions, id)
	}
}
