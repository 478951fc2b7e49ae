package models

import (
	"sync"

	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/quadtree"
)

// Region is a mesh build input owned by a scene viewer. The material,
// ownership and insertion mode are fixed at add time, bounds and styling are
// mutable and guarded so frame rebuilds can snapshot them while moves are
// applied.
type Region struct {
	ID       uint32
	ViewerID uint32
	Material string
	Persist  bool
	Padded   bool

	mutex      sync.RWMutex
	bounds     quadtree.Box3f
	baseHeight float32
	priority   int32
	selected   bool
}

func (r *Region) SetBounds(v quadtree.Box3f) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.bounds = v
}

func (r *Region) Bounds() quadtree.Box3f {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.bounds
}

// SetStyle rewrites the mutable styling of the region.
func (r *Region) SetStyle(baseHeight float32, priority int32, selected bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.baseHeight = baseHeight
	r.priority = priority
	r.selected = selected
}

func (r *Region) BaseHeight() float32 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.baseHeight
}

func (r *Region) Priority() int32 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.priority
}

func (r *Region) Selected() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.selected
}

// RegionSnapshot is an immutable copy of a region's build inputs.
type RegionSnapshot struct {
	ID         uint32
	ViewerID   uint32
	Material   string
	Persist    bool
	Padded     bool
	Bounds     quadtree.Box3f
	BaseHeight float32
	Priority   int32
	Selected   bool
}

// Snapshot copies the region under its lock.
func (r *Region) Snapshot() RegionSnapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return RegionSnapshot{
		ID:         r.ID,
		ViewerID:   r.ViewerID,
		Material:   r.Material,
		Persist:    r.Persist,
		Padded:     r.Padded,
		Bounds:     r.bounds,
		BaseHeight: r.baseHeight,
		Priority:   r.priority,
		Selected:   r.selected,
	}
}

func (r *Region) ToPayload() messages.Region {
	snapshot := r.Snapshot()
	return messages.Region{
		ID:       snapshot.ID,
		ViewerID: snapshot.ViewerID,
		Bounds: messages.Box{
			Min: messages.Vec3{
				X: snapshot.Bounds.Min.X,
				Y: snapshot.Bounds.Min.Y,
				Z: snapshot.Bounds.Min.Z,
			},
			Max: messages.Vec3{
				X: snapshot.Bounds.Max.X,
				Y: snapshot.Bounds.Max.Y,
				Z: snapshot.Bounds.Max.Z,
			},
		},
		Material:   snapshot.Material,
		BaseHeight: snapshot.BaseHeight,
		Priority:   snapshot.Priority,
		Padded:     snapshot.Padded,
		Selected:   snapshot.Selected,
		Persist:    snapshot.Persist,
	}
}

// HitColorFromID encodes a region id as a stable RGB color, successive 8 bit
// slices of the id mapped to [0,1].
func HitColorFromID(id uint32) [3]float32 {
	return [3]float32{
		float32(id&0xff) / 255,
		float32((id>>8)&0xff) / 255,
		float32((id>>16)&0xff) / 255,
	}
}

// RegionStore stores the regions of a scene. Listing preserves insertion
// order so state replays and rebuild inputs stay deterministic.
type RegionStore struct {
	mutex   sync.RWMutex
	ids     SequentialIDGenerator
	regions map[uint32]*Region
	order   []uint32
}

func (s *RegionStore) NewID() uint32 {
	return s.ids.New()
}

func (s *RegionStore) Add(r *Region) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.regions == nil {
		s.regions = make(map[uint32]*Region)
	}
	if _, ok := s.regions[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.regions[r.ID] = r
}

func (s *RegionStore) Remove(id uint32) (*Region, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, ok := s.regions[id]
	if !ok {
		return nil, false
	}

	delete(s.regions, id)
	for i, orderedID := range s.order {
		if orderedID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.ids.Reuse(id)
	return r, true
}

func (s *RegionStore) Find(id uint32) (*Region, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r, ok := s.regions[id]
	return r, ok
}

// Update applies the given mutation to the region with the given id and
// reports whether it was found.
func (s *RegionStore) Update(id uint32, mutate func(*Region)) bool {
	s.mutex.RLock()
	r, ok := s.regions[id]
	s.mutex.RUnlock()

	if !ok {
		return false
	}
	mutate(r)
	return true
}

func (s *RegionStore) List() []*Region {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	regions := make([]*Region, 0, len(s.order))
	for _, id := range s.order {
		if r, ok := s.regions[id]; ok {
			regions = append(regions, r)
		}
	}
	return regions
}

func (s *RegionStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.regions)
}
