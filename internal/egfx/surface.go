package egfx

import "sync"

// Surface is an EGFX surface (§3 EgfxSurface): created on an EGFX
// "surface create" PDU, optionally mapped to a monitor output, and
// destroyed on delete. IDs are assigned monotonically by SurfaceTable
// with wrap-around permitted since collisions are avoided by
// destruction (a wrapped ID is only reused once nothing live holds it).
type Surface struct {
	ID                 uint16
	Width, Height      int
	Mapped             bool
	OutputX, OutputY   int
}

// SurfaceTable is the orchestrator's single-writer surface registry
// (§5 concurrency: "the EGFX surface table is single-writer"). The
// mutex here guards against diagnostic readers, not concurrent
// writers — Create/Delete must only ever be called from the channel's
// owning task.
type SurfaceTable struct {
	mu        sync.Mutex
	nextID    uint16
	surfaces  map[uint16]*Surface
	primaryID uint16
	hasPrimary bool
}

// NewSurfaceTable returns an empty table.
func NewSurfaceTable() *SurfaceTable {
	return &SurfaceTable{surfaces: make(map[uint16]*Surface)}
}

// Create allocates a new surface with a monotonically assigned ID
// (wrapping past uint16 max, skipping IDs still in use). A surface
// created while no primary exists (the first one, or the next one after
// every surface was deleted) becomes primary.
func (t *SurfaceTable) Create(width, height int) *Surface {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	for {
		if _, taken := t.surfaces[id]; !taken {
			break
		}
		id++
	}
	t.nextID = id + 1

	s := &Surface{ID: id, Width: width, Height: height}
	t.surfaces[id] = s
	if !t.hasPrimary {
		t.primaryID = id
		t.hasPrimary = true
	}
	return s
}

// Delete removes a surface. If it was the primary, a new primary is
// selected from whatever surface remains with the lowest ID (§3:
// "a new primary is selected if the current one is destroyed").
func (t *SurfaceTable) Delete(id uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.surfaces, id)
	if t.hasPrimary && t.primaryID == id {
		t.hasPrimary = false
		var lowest uint16
		found := false
		for sid := range t.surfaces {
			if !found || sid < lowest {
				lowest = sid
				found = true
			}
		}
		if found {
			t.primaryID = lowest
			t.hasPrimary = true
		}
	}
}

// Map marks a surface bound to a monitor output at the given origin.
func (t *SurfaceTable) Map(id uint16, outputX, outputY int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.surfaces[id]; ok {
		s.Mapped = true
		s.OutputX, s.OutputY = outputX, outputY
	}
}

// Primary returns the current primary surface, or ok=false if none
// exists.
func (t *SurfaceTable) Primary() (Surface, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasPrimary {
		return Surface{}, false
	}
	s, ok := t.surfaces[t.primaryID]
	if !ok {
		return Surface{}, false
	}
	return *s, true
}

// Get returns a copy of the surface with the given ID.
func (t *SurfaceTable) Get(id uint16) (Surface, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.surfaces[id]
	if !ok {
		return Surface{}, false
	}
	return *s, true
}

// Len reports the number of live surfaces.
func (t *SurfaceTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.surfaces)
}
