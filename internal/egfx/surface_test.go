package egfx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFirstSurfaceBecomesPrimary(t *testing.T) {
	tab := NewSurfaceTable()
	s := tab.Create(1920, 1080)

	primary, ok := tab.Primary()
	require.True(t, ok)
	assert.Equal(t, s.ID, primary.ID)
}

func TestSurfaceIDsAreMonotonic(t *testing.T) {
	tab := NewSurfaceTable()
	a := tab.Create(100, 100)
	b := tab.Create(100, 100)
	assert.Less(t, a.ID, b.ID)
}

func TestDeletePrimarySelectsNewPrimary(t *testing.T) {
	tab := NewSurfaceTable()
	a := tab.Create(100, 100)
	b := tab.Create(200, 200)

	tab.Delete(a.ID)

	primary, ok := tab.Primary()
	require.True(t, ok)
	assert.Equal(t, b.ID, primary.ID)
}

func TestDeleteLastSurfaceLeavesNoPrimary(t *testing.T) {
	tab := NewSurfaceTable()
	a := tab.Create(100, 100)
	tab.Delete(a.ID)

	_, ok := tab.Primary()
	assert.False(t, ok)
}

func TestMapMarksSurfaceMappedWithOrigin(t *testing.T) {
	tab := NewSurfaceTable()
	s := tab.Create(100, 100)
	tab.Map(s.ID, 10, 20)

	got, ok := tab.Get(s.ID)
	require.True(t, ok)
	assert.True(t, got.Mapped)
	assert.Equal(t, 10, got.OutputX)
	assert.Equal(t, 20, got.OutputY)
}

func TestSurfaceIDsNeverAliasAcrossLiveSurfaces(t *testing.T) {
	tab := NewSurfaceTable()
	seen := map[uint16]bool{}
	for i := 0; i < 10; i++ {
		s := tab.Create(10, 10)
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
	assert.Equal(t, 10, tab.Len())
}
