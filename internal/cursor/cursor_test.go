package cursor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModeAliases(t *testing.T) {
	cases := map[string]Mode{
		"metadata":   ModeMetadata,
		"client":     ModeMetadata,
		"painted":    ModePainted,
		"composite":  ModePainted,
		"hidden":     ModeHidden,
		"off":        ModeHidden,
		"predictive": ModePredictive,
		"physics":    ModePredictive,
	}
	for in, want := range cases {
		got, ok := ParseMode(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseMode("bogus")
	assert.False(t, ok)
}

func TestRequiresCompositing(t *testing.T) {
	assert.False(t, ModeMetadata.RequiresCompositing())
	assert.True(t, ModePainted.RequiresCompositing())
	assert.True(t, ModePredictive.RequiresCompositing())
	assert.False(t, ModeHidden.RequiresCompositing())
}

func TestStationaryCursorConverges(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		p.Update(100, 100, now)
		p.PredictedPosition()
		now = now.Add(16 * time.Millisecond)
	}

	x, y := p.PredictedPosition()
	assert.InDelta(t, 100, x, 20)
	assert.InDelta(t, 100, y, 20)
}

func TestMovingCursorPredictsAhead(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		p.Update(100+i*10, 100, now)
		now = now.Add(16 * time.Millisecond)
	}

	ax, _ := p.ActualPosition()
	px, _ := p.Predict(50)
	assert.Greater(t, px, ax)
}

func TestPredictionDistanceIsClamped(t *testing.T) {
	cfg := DefaultPredictorConfig()
	cfg.MaxPredictionDistance = 20
	p := NewPredictor(cfg)

	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		p.Update(i*100, 0, now)
		now = now.Add(16 * time.Millisecond)
	}

	ax, ay := p.ActualPosition()
	px, py := p.Predict(100)
	dx, dy := float64(px-ax), float64(py-ay)
	dist := dx*dx + dy*dy
	assert.LessOrEqual(t, dist, 25.0*25.0)
}

func TestVelocityTracksConsistentMotion(t *testing.T) {
	p := NewPredictor(DefaultPredictorConfig())
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		p.Update(i*10, 0, now)
		now = now.Add(16 * time.Millisecond)
	}

	vx, vy := p.Velocity()
	assert.Greater(t, vx, 0.0)
	assert.Less(t, vy, 10.0)
}

func TestAutoModeSwitchesOnLatency(t *testing.T) {
	cfg := DefaultStrategyConfig()
	cfg.AutoMode = true
	cfg.PredictiveLatencyThresholdMs = 100
	s := NewStrategy(cfg, nil)

	s.UpdateLatency(50)
	assert.Equal(t, ModeMetadata, s.Mode())

	s.UpdateLatency(150)
	assert.Equal(t, ModePredictive, s.Mode())

	s.UpdateLatency(50)
	assert.Equal(t, ModeMetadata, s.Mode())
}

func TestPredictiveModeCreatesPredictor(t *testing.T) {
	cfg := DefaultStrategyConfig()
	cfg.Mode = ModePredictive
	s := NewStrategy(cfg, nil)
	assert.NotNil(t, s.predictor)
}

func TestNeedsCompositingMatchesMode(t *testing.T) {
	cfg := DefaultStrategyConfig()
	s := NewStrategy(cfg, nil)
	assert.False(t, s.NeedsCompositing())

	s.SetMode(ModePainted)
	assert.True(t, s.NeedsCompositing())
}

func TestRenderPositionUsesPredictionOnlyInPredictiveMode(t *testing.T) {
	cfg := DefaultStrategyConfig()
	cfg.Mode = ModeMetadata
	s := NewStrategy(cfg, nil)

	now := time.Unix(0, 0)
	s.UpdatePosition(42, 7, now)
	x, y := s.RenderPosition()
	assert.Equal(t, 42, x)
	assert.Equal(t, 7, y)
}
