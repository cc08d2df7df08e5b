package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFPSControllerRampsDownOnIdleScene(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	f := NewFPSController(cfg)

	now := time.Unix(0, 0)
	var fps int
	for i := 0; i < 10; i++ {
		fps = f.Update(0.0, now)
		now = now.Add(100 * time.Millisecond)
	}
	assert.Equal(t, cfg.MinFPS, fps)
}

func TestFPSControllerRampsUpOnBusyScene(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	f := NewFPSController(cfg)

	now := time.Unix(0, 0)
	var fps int
	for i := 0; i < 10; i++ {
		fps = f.Update(0.5, now)
		now = now.Add(100 * time.Millisecond)
	}
	assert.Equal(t, cfg.TargetFPS, fps)
}

func TestFPSControllerRespectsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = time.Hour
	f := NewFPSController(cfg)

	now := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		f.Update(0.0, now)
	}
	// The third idle sample drops the rate to MinFPS and starts the
	// cooldown; a busy sample inside it must not change the rate.
	fpsBefore := f.CurrentFPS()
	f.Update(0.9, now.Add(time.Millisecond))
	assert.Equal(t, fpsBefore, f.CurrentFPS())
}

func TestLatencyGovernorDegradesOnHighLatency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	cfg.AckTimeout = 4 * time.Second
	g := NewLatencyGovernor(cfg)

	now := time.Unix(0, 0)
	g.targetBitrateKbps = cfg.BitrateMaxKbps

	var action Action
	for i := 0; i < 5; i++ {
		action, _ = g.Update(2*time.Second, now)
		now = now.Add(time.Second)
	}
	assert.Equal(t, ActionDegrade, action)
	assert.Less(t, g.TargetBitrateKbps(), cfg.BitrateMaxKbps)
}

func TestLatencyGovernorUpgradesAfterStableCleanSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	cfg.AckTimeout = 4 * time.Second
	cfg.BitrateMinKbps = 1000
	cfg.BitrateMaxKbps = 10000
	g := NewLatencyGovernor(cfg)

	now := time.Unix(0, 0)
	var lastAction Action
	for i := 0; i < 6; i++ {
		lastAction, _ = g.Update(10*time.Millisecond, now)
		now = now.Add(time.Second)
	}
	assert.Equal(t, ActionUpgrade, lastAction)
	assert.Greater(t, g.TargetBitrateKbps(), cfg.BitrateMinKbps)
}

func TestFrameQueueDropsOldestWhenFull(t *testing.T) {
	q := NewFrameQueue(2)
	q.Push(Frame{Data: []byte{1}})
	q.Push(Frame{Data: []byte{2}})
	q.Push(Frame{Data: []byte{3}})

	assert.Equal(t, 2, q.Len())
	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, f.Data)

	stats := q.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestFrameQueuePushStrictRejectsWhenFull(t *testing.T) {
	q := NewFrameQueue(1)
	require.NoError(t, q.PushStrict(Frame{Data: []byte{1}}))
	err := q.PushStrict(Frame{Data: []byte{2}})
	assert.Error(t, err)
}

func TestFrameQueuePopEmptyReturnsFalse(t *testing.T) {
	q := NewFrameQueue(4)
	_, ok := q.Pop()
	assert.False(t, ok)
}
