package processor

import "time"

const fpsEwmaAlpha = 0.3

// FPSController bands the capture/encode rate between MinFPS and
// TargetFPS based on how much of the frame is changing: a mostly-static
// desktop drops toward MinFPS, busy scenes ramp back to TargetFPS. A
// smoothed damage ratio (EWMA, same alpha the teacher uses for RTT/loss)
// avoids reacting to a single noisy frame.
type FPSController struct {
	cfg Config

	smoothedRatio float64
	samples       int
	currentFPS    int
	lastAdjust    time.Time
}

// NewFPSController builds an FPSController starting at TargetFPS.
func NewFPSController(cfg Config) *FPSController {
	return &FPSController{cfg: cfg, currentFPS: cfg.TargetFPS}
}

// Update feeds a new damage ratio (changed pixels / total pixels, in
// [0,1]) observed at now, returning the FPS that should be used for
// subsequent capture ticks.
func (f *FPSController) Update(damageRatio float64, now time.Time) int {
	if damageRatio < 0 {
		damageRatio = 0
	}
	if damageRatio > 1 {
		damageRatio = 1
	}

	f.samples++
	if f.samples == 1 {
		f.smoothedRatio = damageRatio
	} else {
		f.smoothedRatio = fpsEwmaAlpha*damageRatio + (1-fpsEwmaAlpha)*f.smoothedRatio
	}

	if !f.lastAdjust.IsZero() && now.Sub(f.lastAdjust) < f.cfg.Cooldown {
		return f.currentFPS
	}
	if f.samples < 3 {
		return f.currentFPS
	}

	// Below this ratio the scene is effectively idle; above it, use the
	// full target rate. Linear band in between.
	const idleBand = 0.02
	const busyBand = 0.25

	var target int
	switch {
	case f.smoothedRatio <= idleBand:
		target = f.cfg.MinFPS
	case f.smoothedRatio >= busyBand:
		target = f.cfg.TargetFPS
	default:
		frac := (f.smoothedRatio - idleBand) / (busyBand - idleBand)
		span := f.cfg.TargetFPS - f.cfg.MinFPS
		target = f.cfg.MinFPS + int(frac*float64(span))
	}
	target = clampInt(target, f.cfg.MinFPS, f.cfg.TargetFPS)

	if target != f.currentFPS {
		f.currentFPS = target
		f.lastAdjust = now
	}
	return f.currentFPS
}

// CurrentFPS returns the last computed FPS without feeding a new sample.
func (f *FPSController) CurrentFPS() int {
	return f.currentFPS
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
