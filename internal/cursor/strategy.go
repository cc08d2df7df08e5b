package cursor

import (
	"log/slog"
	"time"
)

// Shape carries the cursor bitmap and hotspot that are composited into
// the video frame in the modes that require compositing
// (Painted/Predictive).
type Shape struct {
	Width, Height      uint32
	HotspotX, HotspotY uint32
	Data               []byte // RGBA
}

// StrategyConfig configures the cursor mode strategy (spec §6 Cursor
// knobs, PredictorConfig embedded for the predictive-mode case).
type StrategyConfig struct {
	Mode                         Mode
	AutoMode                     bool
	PredictiveLatencyThresholdMs int
	Predictor                    PredictorConfig
}

// DefaultStrategyConfig mirrors the server's default environment knobs.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Mode:                         ModeMetadata,
		AutoMode:                     true,
		PredictiveLatencyThresholdMs: 100,
		Predictor:                    DefaultPredictorConfig(),
	}
}

// Strategy owns the active cursor mode, switching into and out of
// ModePredictive automatically as measured latency crosses the
// configured threshold (spec §4.8).
type Strategy struct {
	cfg    StrategyConfig
	log    *slog.Logger
	active Mode

	predictor      *Predictor
	latencyMs      int
	position       [2]int
	shape          *Shape
}

// NewStrategy builds a Strategy using cfg.
func NewStrategy(cfg StrategyConfig, log *slog.Logger) *Strategy {
	s := &Strategy{cfg: cfg, log: log, active: cfg.Mode}
	if cfg.Mode == ModePredictive {
		s.predictor = NewPredictor(cfg.Predictor)
	}
	return s
}

// UpdatePosition records a new observed cursor position.
func (s *Strategy) UpdatePosition(x, y int, now time.Time) {
	s.position = [2]int{x, y}
	if s.predictor != nil {
		s.predictor.Update(x, y, now)
	}
}

// UpdateShape records a new cursor bitmap.
func (s *Strategy) UpdateShape(shape Shape) {
	s.shape = &shape
}

// UpdateLatency records a newly measured round-trip latency and, if
// AutoMode is enabled, re-evaluates the active mode.
func (s *Strategy) UpdateLatency(latencyMs int) {
	s.latencyMs = latencyMs
	if s.cfg.AutoMode {
		s.autoSelectMode()
	}
	if s.predictor != nil {
		lookahead := clampFloat(float64(latencyMs)*0.75, 20, 150)
		s.predictor.SetLookahead(lookahead)
	}
}

func (s *Strategy) autoSelectMode() {
	shouldPredict := s.latencyMs > s.cfg.PredictiveLatencyThresholdMs
	newMode := s.cfg.Mode
	if shouldPredict {
		newMode = ModePredictive
	}
	if newMode != s.active {
		if s.log != nil {
			s.log.Debug("cursor mode auto-switch", "from", s.active, "to", newMode, "latency_ms", s.latencyMs)
		}
		s.SetMode(newMode)
	}
}

// RenderPosition returns the position the client should be told about:
// the physics-predicted position in ModePredictive, the actual position
// otherwise.
func (s *Strategy) RenderPosition() (x, y int) {
	if s.active == ModePredictive && s.predictor != nil {
		return s.predictor.PredictedPosition()
	}
	return s.position[0], s.position[1]
}

// ActualPosition returns the last observed (unpredicted) position.
func (s *Strategy) ActualPosition() (x, y int) {
	return s.position[0], s.position[1]
}

// Shape returns the current cursor bitmap, if any has been reported.
func (s *Strategy) Shape() *Shape {
	return s.shape
}

// Mode returns the currently active mode.
func (s *Strategy) Mode() Mode {
	return s.active
}

// SetMode switches the active mode explicitly, creating or tearing down
// the predictor as required.
func (s *Strategy) SetMode(mode Mode) {
	if mode == s.active {
		return
	}
	if s.log != nil {
		s.log.Debug("cursor mode changed", "from", s.active, "to", mode)
	}
	s.active = mode
	if mode == ModePredictive {
		if s.predictor == nil {
			s.predictor = NewPredictor(s.cfg.Predictor)
		}
	} else {
		s.predictor = nil
	}
}

// Latency returns the most recently reported round-trip latency.
func (s *Strategy) Latency() int {
	return s.latencyMs
}

// NeedsCompositing reports whether the active mode requires the server
// to draw the cursor into the video frame.
func (s *Strategy) NeedsCompositing() bool {
	return s.active.RequiresCompositing()
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
