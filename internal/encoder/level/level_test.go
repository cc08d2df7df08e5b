package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectPicksLowestSufficientLevel(t *testing.T) {
	l720 := Select(1280, 720, 30, 4000)
	l1080 := Select(1920, 1080, 30, 5000)
	l4k := Select(3840, 2160, 30, 20000)

	assert.LessOrEqual(t, l720, l1080)
	assert.LessOrEqual(t, l1080, l4k)
}

func TestSelectMatchesReferenceLadder(t *testing.T) {
	assert.Equal(t, Level(31), Select(1280, 720, 30, 4000))
	assert.Equal(t, Level(40), Select(1280, 800, 30, 4000))
	assert.Equal(t, Level(40), Select(1920, 1080, 30, 5000))
	assert.Equal(t, Level(51), Select(3840, 2160, 30, 20000))
}

func TestSelectNeverExceedsTableMax(t *testing.T) {
	got := Select(7680, 4320, 60, 500000)
	assert.Equal(t, Level(52), got)
}

func TestMatchesLevel(t *testing.T) {
	sps := &VerifiedSPS{LevelIDC: 31}
	assert.True(t, sps.MatchesLevel(Level(40)))
	assert.True(t, sps.MatchesLevel(Level(31)))
	assert.False(t, sps.MatchesLevel(Level(30)))
}
