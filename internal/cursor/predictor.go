package cursor

import (
	"math"
	"time"
)

// PredictorConfig tunes the EMA velocity/acceleration predictor (spec §6
// Cursor knobs).
type PredictorConfig struct {
	HistorySize           int
	LookaheadMs           float64
	VelocitySmoothing     float64
	AccelSmoothing        float64
	MaxPredictionDistance float64
	MinVelocityThreshold  float64
	StopConvergenceRate   float64
}

// DefaultPredictorConfig mirrors the server's default environment knobs.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		HistorySize:           8,
		LookaheadMs:           50,
		VelocitySmoothing:     0.4,
		AccelSmoothing:        0.2,
		MaxPredictionDistance: 100,
		MinVelocityThreshold:  50,
		StopConvergenceRate:   0.5,
	}
}

type sample struct {
	x, y int
	t    time.Time
}

// Predictor tracks cursor samples and extrapolates a future position
// using position + velocity*t + 0.5*acceleration*t² (spec §4.8), with
// EMA-smoothed velocity and acceleration to suppress input jitter.
//
// A Predictor is not safe for concurrent use, and neither is the
// Strategy that owns it.
type Predictor struct {
	cfg PredictorConfig

	position          point
	predictedPosition point
	velocity          point
	acceleration      point

	history         []sample
	moving          bool
	framesSinceMove int
}

type point struct{ x, y float64 }

// NewPredictor builds a Predictor using cfg.
func NewPredictor(cfg PredictorConfig) *Predictor {
	return &Predictor{cfg: cfg}
}

// Update records a new observed cursor position at time now.
func (p *Predictor) Update(x, y int, now time.Time) {
	moved := x != int(p.position.x) || y != int(p.position.y)
	if moved {
		p.moving = true
		p.framesSinceMove = 0
	} else {
		p.framesSinceMove++
		if p.framesSinceMove > 3 {
			p.moving = false
		}
	}

	p.position = point{float64(x), float64(y)}
	p.history = append(p.history, sample{x: x, y: y, t: now})
	if len(p.history) > p.cfg.HistorySize {
		p.history = p.history[len(p.history)-p.cfg.HistorySize:]
	}

	p.updateVelocity()
	p.updateAcceleration()
}

func (p *Predictor) updateVelocity() {
	n := len(p.history)
	if n < 2 {
		return
	}
	recent, prev := p.history[n-1], p.history[n-2]
	dt := recent.t.Sub(prev.t).Seconds()
	if dt <= 0 {
		return
	}

	vx := float64(recent.x-prev.x) / dt
	vy := float64(recent.y-prev.y) / dt

	a := p.cfg.VelocitySmoothing
	p.velocity.x = a*vx + (1-a)*p.velocity.x
	p.velocity.y = a*vy + (1-a)*p.velocity.y
}

func (p *Predictor) updateAcceleration() {
	n := len(p.history)
	if n < 3 {
		return
	}
	recent, mid, prev := p.history[n-1], p.history[n-2], p.history[n-3]
	dt1 := recent.t.Sub(mid.t).Seconds()
	dt2 := mid.t.Sub(prev.t).Seconds()
	if dt1 <= 0 || dt2 <= 0 {
		return
	}

	v1x := float64(recent.x-mid.x) / dt1
	v1y := float64(recent.y-mid.y) / dt1
	v2x := float64(mid.x-prev.x) / dt2
	v2y := float64(mid.y-prev.y) / dt2

	dt := (dt1 + dt2) / 2
	ax := (v1x - v2x) / dt
	ay := (v1y - v2y) / dt

	a := p.cfg.AccelSmoothing
	p.acceleration.x = a*ax + (1-a)*p.acceleration.x
	p.acceleration.y = a*ay + (1-a)*p.acceleration.y
}

// Predict returns the cursor position extrapolated lookaheadMs into the
// future, clamped to MaxPredictionDistance from the current position.
func (p *Predictor) Predict(lookaheadMs float64) (x, y int) {
	if !p.moving {
		rate := p.cfg.StopConvergenceRate
		dx := (p.position.x - p.predictedPosition.x) * rate
		dy := (p.position.y - p.predictedPosition.y) * rate
		return int(p.predictedPosition.x + dx), int(p.predictedPosition.y + dy)
	}

	speed := math.Hypot(p.velocity.x, p.velocity.y)
	if speed < p.cfg.MinVelocityThreshold {
		return int(p.position.x), int(p.position.y)
	}

	dt := lookaheadMs / 1000
	predX := p.position.x + p.velocity.x*dt + 0.5*p.acceleration.x*dt*dt
	predY := p.position.y + p.velocity.y*dt + 0.5*p.acceleration.y*dt*dt

	dx := predX - p.position.x
	dy := predY - p.position.y
	dist := math.Hypot(dx, dy)

	if dist > p.cfg.MaxPredictionDistance {
		scale := p.cfg.MaxPredictionDistance / dist
		return int(p.position.x + dx*scale), int(p.position.y + dy*scale)
	}
	return int(predX), int(predY)
}

// PredictedPosition computes and caches the predicted position using the
// configured lookahead, so the next stationary-convergence step has a
// baseline to ease toward.
func (p *Predictor) PredictedPosition() (x, y int) {
	px, py := p.Predict(p.cfg.LookaheadMs)
	p.predictedPosition = point{float64(px), float64(py)}
	return px, py
}

// ActualPosition returns the last observed (unpredicted) position.
func (p *Predictor) ActualPosition() (x, y int) {
	return int(p.position.x), int(p.position.y)
}

// Velocity returns the current smoothed velocity in pixels/second.
func (p *Predictor) Velocity() (vx, vy float64) {
	return p.velocity.x, p.velocity.y
}

// Speed returns the magnitude of the current smoothed velocity.
func (p *Predictor) Speed() float64 {
	return math.Hypot(p.velocity.x, p.velocity.y)
}

// IsMoving reports whether the cursor has moved recently.
func (p *Predictor) IsMoving() bool {
	return p.moving
}

// SetLookahead adjusts the lookahead window, e.g. in response to a new
// measured round-trip latency.
func (p *Predictor) SetLookahead(ms float64) {
	p.cfg.LookaheadMs = ms
}

// Lookahead returns the current lookahead window in milliseconds.
func (p *Predictor) Lookahead() float64 {
	return p.cfg.LookaheadMs
}

// Reset clears all tracked history and smoothed motion state.
func (p *Predictor) Reset() {
	p.history = nil
	p.velocity = point{}
	p.acceleration = point{}
	p.moving = false
	p.framesSinceMove = 0
}
