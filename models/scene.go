package models

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/quadtree"
)

// SceneOptions shapes the mesh grid a scene is built on and how its
// rebuilds behave.
type SceneOptions struct {
	// TileSize is the edge length of one mesh tile in world units.
	TileSize float32

	// Extent is the mesh half extent in tiles per axis.
	Extent quadtree.Extent

	// OriginX and OriginY center the mesh. They are snapped to the tile
	// grid when the scene is created.
	OriginX float32
	OriginY float32

	// PruneOnLock compacts redundant nodes when a rebuilt tree is locked.
	PruneOnLock bool

	// BroadcastRebuilds announces every rebuild to the scene viewers.
	BroadcastRebuilds bool
}

// Scene is a shared room where viewers edit mesh regions and stream tile
// selections. It owns the regions, the viewers connected to it, and the
// latest locked quadtree built from the regions.
type Scene struct {
	ID        uint32
	SceneUUID string

	AppKey string

	TileSize float32
	Extent   quadtree.Extent
	OriginX  float32
	OriginY  float32

	pruneOnLock       bool
	broadcastRebuilds bool

	viewerIDs   SequentialIDGenerator
	viewerMutex sync.RWMutex
	viewers     map[uint32]*Viewer

	regions *RegionStore

	moduleStates map[string]any
	moduleMutex  sync.RWMutex

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	treeMutex     sync.RWMutex
	tree          *quadtree.Tree
	treeRegionIDs []uint32
	treeRevision  uint64
	treeDirty     bool

	closeOnce sync.Once
}

func NewScene(id uint32, frameDuration time.Duration, opts SceneOptions) *Scene {
	return &Scene{
		ID:                id,
		SceneUUID:         uuid.New().String(),
		TileSize:          opts.TileSize,
		Extent:            opts.Extent,
		OriginX:           snapToGrid(opts.OriginX, opts.TileSize),
		OriginY:           snapToGrid(opts.OriginY, opts.TileSize),
		pruneOnLock:       opts.PruneOnLock,
		broadcastRebuilds: opts.BroadcastRebuilds,
		viewers:           make(map[uint32]*Viewer),
		regions:           &RegionStore{},
		moduleStates:      make(map[string]any),
		closeFrameChan:    make(chan struct{}, 1),
		frameTicker:       time.NewTicker(frameDuration),
		frameHandlers:     make(map[uint32]func()),
	}
}

func snapToGrid(v, tileSize float32) float32 {
	if tileSize <= 0 {
		return v
	}
	return float32(math.Round(float64(v/tileSize))) * tileSize
}

func (s *Scene) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}
	})
}

func (s *Scene) NewViewerID() uint32 {
	return s.viewerIDs.New()
}

func (s *Scene) AddViewer(v *Viewer) {
	s.viewerMutex.Lock()
	defer s.viewerMutex.Unlock()

	s.viewers[v.ID] = v
}

func (s *Scene) RemoveViewer(v *Viewer) {
	s.viewerMutex.Lock()
	defer s.viewerMutex.Unlock()

	delete(s.viewers, v.ID)
}

func (s *Scene) GetViewers() []*Viewer {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	viewers := make([]*Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	return viewers
}

func (s *Scene) ViewerCount() int {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	return len(s.viewers)
}

func (s *Scene) NewRegionID() uint32 {
	return s.regions.NewID()
}

func (s *Scene) AddRegion(r *Region) {
	s.regions.Add(r)
	instrumentIncreaseRegionGauge(s.AppKey)
}

func (s *Scene) RemoveRegion(id uint32) (*Region, bool) {
	r, ok := s.regions.Remove(id)
	if ok {
		instrumentDecreaseRegionGauge(s.AppKey)
	}
	return r, ok
}

func (s *Scene) RegionByID(id uint32) (*Region, bool) {
	return s.regions.Find(id)
}

// UpdateRegion applies the given mutation to a stored region and reports
// whether it was found.
func (s *Scene) UpdateRegion(id uint32, mutate func(*Region)) bool {
	return s.regions.Update(id, mutate)
}

func (s *Scene) Regions() []*Region {
	return s.regions.List()
}

func (s *Scene) RegionCount() int {
	return s.regions.Len()
}

// Broadcast sends the given message to every viewer but the sender. A nil
// sender reaches everyone.
func (s *Scene) Broadcast(sender *Viewer, p messages.Payload) {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	msg, err := messages.FromPayload(p)
	if err != nil {
		logs.WithTag("msg_type", p.MsgType()).Debug(err)
		return
	}

	for _, v := range s.viewers {
		if v == sender {
			continue
		}
		v.Responder.SendMsg(msg)
	}
}

func (s *Scene) SetModuleState(moduleName string, state any) {
	s.moduleMutex.Lock()
	defer s.moduleMutex.Unlock()

	s.moduleStates[moduleName] = state
}

func (s *Scene) ModuleState(moduleName string) (any, bool) {
	s.moduleMutex.RLock()
	defer s.moduleMutex.RUnlock()

	state, ok := s.moduleStates[moduleName]
	return state, ok
}

func (s *Scene) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

// StartDispatchFrames runs the scene frame loop until the scene is closed.
// Each frame rebuilds the tree when regions changed since the last one,
// announces the new snapshot, then runs the registered frame handlers.
func (s *Scene) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				if res, ok := s.RebuildTreeIfDirty(); ok && s.broadcastRebuilds {
					s.Broadcast(nil, &messages.SceneRebuiltBroadcast{
						Header:        messages.NewHeader(messages.MsgTypeSceneRebuiltBroadcast),
						TreeRevision:  res.Revision,
						NodeCount:     int32(res.NodeCount),
						TreeDepth:     res.TreeDepth,
						MaterialCount: res.MaterialCount,
						RegionCount:   int32(res.RegionCount),
						BuildDuration: res.Duration,
					})
				}

				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

// MarkTreeDirty schedules a rebuild at the next frame.
func (s *Scene) MarkTreeDirty() {
	s.treeMutex.Lock()
	defer s.treeMutex.Unlock()

	s.treeDirty = true
}

// TreeSnapshot is the queryable product of a scene rebuild. RegionIDs maps
// render data indices back to the regions they were built from.
type TreeSnapshot struct {
	Tree      *quadtree.Tree
	RegionIDs []uint32
	Revision  uint64
}

// TreeSnapshot returns the latest locked tree. It reports false until the
// first rebuild.
func (s *Scene) TreeSnapshot() (TreeSnapshot, bool) {
	s.treeMutex.RLock()
	defer s.treeMutex.RUnlock()

	if s.tree == nil {
		return TreeSnapshot{}, false
	}
	return TreeSnapshot{
		Tree:      s.tree,
		RegionIDs: s.treeRegionIDs,
		Revision:  s.treeRevision,
	}, true
}

// RebuildResult describes a rebuilt snapshot.
type RebuildResult struct {
	Revision      uint64
	NodeCount     int
	TreeDepth     int32
	MaterialCount int32
	RegionCount   int
	Duration      time.Duration
}

// RebuildTreeIfDirty rebuilds the tree when a region changed since the last
// rebuild and reports whether it did.
func (s *Scene) RebuildTreeIfDirty() (RebuildResult, bool) {
	s.treeMutex.Lock()
	dirty := s.treeDirty
	s.treeDirty = false
	s.treeMutex.Unlock()

	if !dirty {
		return RebuildResult{}, false
	}
	return s.RebuildTree(), true
}

// RebuildTree builds, locks and swaps in a fresh quadtree from the scene
// regions. Regions are inserted ordered by priority then id, so higher
// priorities and later regions win overlaps.
func (s *Scene) RebuildTree() RebuildResult {
	start := time.Now()

	regions := s.regions.List()
	inputs := make([]RegionSnapshot, 0, len(regions))
	for _, r := range regions {
		inputs = append(inputs, r.Snapshot())
	}
	sort.SliceStable(inputs, func(i, j int) bool {
		if inputs[i].Priority != inputs[j].Priority {
			return inputs[i].Priority < inputs[j].Priority
		}
		return inputs[i].ID < inputs[j].ID
	})

	var tree quadtree.Tree
	tree.Initialize(s.MeshBounds(), s.TileSize, s.Extent)

	// Render data index 0 is the built-in sentinel, region ids start at
	// slot 1.
	regionIDs := make([]uint32, 1, len(inputs)+1)
	for _, in := range inputs {
		index := tree.AddRenderData(quadtree.RenderData{
			Material:   in.Material,
			BaseHeight: in.BaseHeight,
			HitColor:   HitColorFromID(in.ID),
			Selected:   in.Selected,
		})
		regionIDs = append(regionIDs, in.ID)

		if in.Padded {
			tree.AddRegionPadded(in.Bounds, index)
		} else {
			tree.AddRegion(in.Bounds, index)
		}
	}

	tree.AssignMaterialBuckets()
	tree.Lock(s.pruneOnLock)

	s.treeMutex.Lock()
	s.tree = &tree
	s.treeRegionIDs = regionIDs
	s.treeRevision++
	revision := s.treeRevision
	s.treeMutex.Unlock()

	res := RebuildResult{
		Revision:      revision,
		NodeCount:     tree.NodeCount(),
		TreeDepth:     tree.TreeDepth(),
		MaterialCount: tree.MaterialCount(),
		RegionCount:   len(inputs),
		Duration:      time.Since(start),
	}
	instrumentTreeRebuild(s.AppKey, res)
	return res
}

// MeshBounds returns the world footprint of the mesh grid, the snapped
// origin extended by tileSize*extent per axis.
func (s *Scene) MeshBounds() quadtree.Box2f {
	halfX := s.TileSize * float32(s.Extent.X)
	halfY := s.TileSize * float32(s.Extent.Y)
	return quadtree.NewBox2f(
		quadtree.NewVector2f(s.OriginX-halfX, s.OriginY-halfY),
		quadtree.NewVector2f(s.OriginX+halfX, s.OriginY+halfY),
	)
}

// SceneStore stores the scenes served by this server.
type SceneStore struct {
	// Identity names this server in global scene ids.
	Identity ServerIdentifier

	initOnce sync.Once
	mutex    sync.RWMutex
	scenes   map[string]*Scene
	ids      SequentialIDGenerator
}

func (s *SceneStore) init() {
	s.scenes = map[string]*Scene{}

	if s.Identity == nil {
		s.Identity = defaultServerIdentifier{}
	}
}

func (s *SceneStore) NewID() uint32 {
	return s.ids.New()
}

func (s *SceneStore) Add(ctx context.Context, scene *Scene) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.scenes[s.GlobalSceneID(scene.ID)] = scene

	instrumentIncreaseSceneGauge(scene.AppKey)
	instrumentCountScene(scene.AppKey)
	return nil
}

func (s *SceneStore) Remove(ctx context.Context, scene *Scene) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.scenes, s.GlobalSceneID(scene.ID))
	scene.Close()

	s.ids.Reuse(scene.ID)

	instrumentDecreaseSceneGauge(scene.AppKey)
}

func (s *SceneStore) GetByGlobalID(v string) (*Scene, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	scene, ok := s.scenes[v]
	return scene, ok
}

// GlobalSceneID returns the id a scene is addressed by across servers, the
// server id and the base36 scene id joined by a slash.
func (s *SceneStore) GlobalSceneID(sceneID uint32) string {
	s.initOnce.Do(s.init)
	return fmt.Sprintf("%s/%s", s.Identity.ServerID(), strconv.FormatUint(uint64(sceneID), 36))
}

// ServerIdentifier names the current server in scene discovery.
type ServerIdentifier interface {
	// Returns the id attributed to the current tilemesh server.
	ServerID() string
}

type defaultServerIdentifier struct{}

func (s defaultServerIdentifier) ServerID() string {
	return "local"
}
