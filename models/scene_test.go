package models

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/quadtree"
)

type testResponder struct {
	mutex sync.Mutex
	msgs  []messages.Msg
}

func (r *testResponder) Send(p messages.Payload) {
	msg, err := messages.FromPayload(p)
	if err != nil {
		return
	}
	r.SendMsg(msg)
}

func (r *testResponder) SendMsg(msg messages.Msg) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.msgs = append(r.msgs, msg)
}

func (r *testResponder) msgsOfType(t messages.MsgType) []messages.Msg {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var msgs []messages.Msg
	for _, msg := range r.msgs {
		if msg.Type == t {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func newTestScene(id uint32) *Scene {
	return NewScene(id, time.Hour, SceneOptions{
		TileSize: 32,
		Extent:   quadtree.Extent{X: 4, Y: 4},
		OriginX:  128,
		OriginY:  128,

		PruneOnLock: true,
	})
}

func TestSceneNewViewerID(t *testing.T) {
	scene := newTestScene(42)
	defer scene.Close()

	require.NotZero(t, scene.NewViewerID())
}

func TestSceneViewers(t *testing.T) {
	viewer := &Viewer{ID: 777}
	scene := newTestScene(42)
	defer scene.Close()

	scene.AddViewer(viewer)
	require.Equal(t, 1, scene.ViewerCount())

	viewers := scene.GetViewers()
	require.Len(t, viewers, 1)
	require.Equal(t, viewer, viewers[0])

	scene.RemoveViewer(viewer)
	require.Zero(t, scene.ViewerCount())
}

func TestSceneBroadcast(t *testing.T) {
	scene := newTestScene(42)
	defer scene.Close()

	senderResponder := &testResponder{}
	otherResponder := &testResponder{}
	sender := &Viewer{ID: 1, Responder: senderResponder}
	other := &Viewer{ID: 2, Responder: otherResponder}
	scene.AddViewer(sender)
	scene.AddViewer(other)

	scene.Broadcast(sender, &messages.ViewerJoinBroadcast{
		Header:   messages.NewHeader(messages.MsgTypeViewerJoinBroadcast),
		ViewerID: 1,
	})
	require.Empty(t, senderResponder.msgsOfType(messages.MsgTypeViewerJoinBroadcast))
	require.Len(t, otherResponder.msgsOfType(messages.MsgTypeViewerJoinBroadcast), 1)

	scene.Broadcast(nil, &messages.ViewerLeaveBroadcast{
		Header:   messages.NewHeader(messages.MsgTypeViewerLeaveBroadcast),
		ViewerID: 1,
	})
	require.Len(t, senderResponder.msgsOfType(messages.MsgTypeViewerLeaveBroadcast), 1)
	require.Len(t, otherResponder.msgsOfType(messages.MsgTypeViewerLeaveBroadcast), 1)
}

func TestSceneRegions(t *testing.T) {
	scene := newTestScene(42)
	defer scene.Close()

	region := &Region{ID: scene.NewRegionID(), ViewerID: 7, Material: "rock"}
	region.SetBounds(quadtree.NewBox3f(
		quadtree.NewVector3f(0, 0, 0),
		quadtree.NewVector3f(64, 64, 2),
	))
	scene.AddRegion(region)

	require.Equal(t, 1, scene.RegionCount())

	found, ok := scene.RegionByID(region.ID)
	require.True(t, ok)
	require.Equal(t, region, found)

	ok = scene.UpdateRegion(region.ID, func(r *Region) {
		r.SetStyle(3, 1, true)
	})
	require.True(t, ok)
	require.Equal(t, float32(3), region.BaseHeight())
	require.Equal(t, int32(1), region.Priority())
	require.True(t, region.Selected())

	require.False(t, scene.UpdateRegion(999, func(r *Region) {}))

	removed, ok := scene.RemoveRegion(region.ID)
	require.True(t, ok)
	require.Equal(t, region, removed)
	require.Zero(t, scene.RegionCount())

	_, ok = scene.RemoveRegion(region.ID)
	require.False(t, ok)
}

func TestSceneModuleState(t *testing.T) {
	scene := newTestScene(42)
	defer scene.Close()

	_, ok := scene.ModuleState("probe")
	require.False(t, ok)

	scene.SetModuleState("probe", 21)
	state, ok := scene.ModuleState("probe")
	require.True(t, ok)
	require.Equal(t, 21, state)
}

func TestSceneOriginSnapsToGrid(t *testing.T) {
	scene := NewScene(1, time.Hour, SceneOptions{
		TileSize: 32,
		Extent:   quadtree.Extent{X: 2, Y: 2},
		OriginX:  100,
		OriginY:  -50,
	})
	defer scene.Close()

	require.Equal(t, float32(96), scene.OriginX)
	require.Equal(t, float32(-64), scene.OriginY)
}

func TestSceneMeshBounds(t *testing.T) {
	scene := newTestScene(1)
	defer scene.Close()

	bounds := scene.MeshBounds()
	require.Equal(t, quadtree.NewVector2f(0, 0), bounds.Min)
	require.Equal(t, quadtree.NewVector2f(256, 256), bounds.Max)
}

func TestSceneRebuildTree(t *testing.T) {
	t.Run("rebuild snapshots the regions", func(t *testing.T) {
		scene := newTestScene(1)
		defer scene.Close()

		_, ok := scene.TreeSnapshot()
		require.False(t, ok)

		region := &Region{ID: scene.NewRegionID(), Material: "sea"}
		region.SetBounds(quadtree.NewBox3f(
			quadtree.NewVector3f(0, 0, 0),
			quadtree.NewVector3f(256, 256, 10),
		))
		region.SetStyle(5, 0, false)
		scene.AddRegion(region)
		scene.MarkTreeDirty()

		res, ok := scene.RebuildTreeIfDirty()
		require.True(t, ok)
		require.Equal(t, uint64(1), res.Revision)
		require.Equal(t, 1, res.NodeCount)
		require.Equal(t, int32(3), res.TreeDepth)
		require.Equal(t, int32(1), res.MaterialCount)
		require.Equal(t, 1, res.RegionCount)

		snapshot, ok := scene.TreeSnapshot()
		require.True(t, ok)
		require.True(t, snapshot.Tree.Locked())
		require.Equal(t, uint64(1), snapshot.Revision)
		require.Equal(t, []uint32{0, region.ID}, snapshot.RegionIDs)

		h, found := snapshot.Tree.QueryHeight(quadtree.NewVector2f(10, 10))
		require.True(t, found)
		require.Equal(t, float32(5), h)
	})

	t.Run("rebuild is skipped while clean", func(t *testing.T) {
		scene := newTestScene(1)
		defer scene.Close()

		_, ok := scene.RebuildTreeIfDirty()
		require.False(t, ok)
	})

	t.Run("higher priority regions win overlaps", func(t *testing.T) {
		scene := newTestScene(1)
		defer scene.Close()

		bounds := quadtree.NewBox3f(
			quadtree.NewVector3f(0, 0, 0),
			quadtree.NewVector3f(256, 256, 10),
		)

		rock := &Region{ID: scene.NewRegionID(), Material: "rock"}
		rock.SetBounds(bounds)
		rock.SetStyle(1, 0, false)
		scene.AddRegion(rock)

		grass := &Region{ID: scene.NewRegionID(), Material: "grass"}
		grass.SetBounds(bounds)
		grass.SetStyle(2, -1, false)
		scene.AddRegion(grass)

		scene.MarkTreeDirty()
		_, ok := scene.RebuildTreeIfDirty()
		require.True(t, ok)

		snapshot, ok := scene.TreeSnapshot()
		require.True(t, ok)
		h, found := snapshot.Tree.QueryHeight(quadtree.NewVector2f(100, 100))
		require.True(t, found)
		require.Equal(t, float32(1), h)

		scene.UpdateRegion(grass.ID, func(r *Region) {
			r.SetStyle(2, 1, false)
		})
		scene.MarkTreeDirty()
		res, ok := scene.RebuildTreeIfDirty()
		require.True(t, ok)
		require.Equal(t, uint64(2), res.Revision)

		snapshot, ok = scene.TreeSnapshot()
		require.True(t, ok)
		h, found = snapshot.Tree.QueryHeight(quadtree.NewVector2f(100, 100))
		require.True(t, found)
		require.Equal(t, float32(2), h)
	})
}

func TestSceneFrameDispatch(t *testing.T) {
	scene := NewScene(1, time.Millisecond*5, SceneOptions{
		TileSize: 32,
		Extent:   quadtree.Extent{X: 4, Y: 4},

		PruneOnLock:       true,
		BroadcastRebuilds: true,
	})
	defer scene.Close()

	responder := &testResponder{}
	scene.AddViewer(&Viewer{ID: 1, Responder: responder})

	var frameWG sync.WaitGroup
	frameWG.Add(1)
	var once sync.Once
	cancel := scene.HandleFrame(func() {
		once.Do(frameWG.Done)
	})
	defer cancel()

	region := &Region{ID: scene.NewRegionID(), Material: "rock"}
	region.SetBounds(quadtree.NewBox3f(
		quadtree.NewVector3f(0, 0, 0),
		quadtree.NewVector3f(256, 256, 4),
	))
	scene.AddRegion(region)
	scene.MarkTreeDirty()

	go scene.StartDispatchFrames()

	frameWG.Wait()
	require.Eventually(t, func() bool {
		return len(responder.msgsOfType(messages.MsgTypeSceneRebuiltBroadcast)) > 0
	}, time.Second, time.Millisecond*5)

	msg := responder.msgsOfType(messages.MsgTypeSceneRebuiltBroadcast)[0]
	var broadcast messages.SceneRebuiltBroadcast
	require.NoError(t, msg.DataTo(&broadcast))
	require.Equal(t, uint64(1), broadcast.TreeRevision)
	require.Equal(t, int32(1), broadcast.NodeCount)
	require.Equal(t, int32(1), broadcast.RegionCount)
}

func TestSceneStore(t *testing.T) {
	t.Run("added scenes are found by global id", func(t *testing.T) {
		store := SceneStore{}

		scene := newTestScene(store.NewID())
		defer scene.Close()
		require.NoError(t, store.Add(context.Background(), scene))

		globalID := store.GlobalSceneID(scene.ID)
		require.Equal(t, "local/1", globalID)

		found, ok := store.GetByGlobalID(globalID)
		require.True(t, ok)
		require.Equal(t, scene, found)
	})

	t.Run("removed scene ids are reused", func(t *testing.T) {
		store := SceneStore{}

		scene := newTestScene(store.NewID())
		require.NoError(t, store.Add(context.Background(), scene))
		store.Remove(context.Background(), scene)

		_, ok := store.GetByGlobalID(store.GlobalSceneID(scene.ID))
		require.False(t, ok)
		require.Equal(t, scene.ID, store.NewID())
	})

	t.Run("global ids are base36 under the server id", func(t *testing.T) {
		store := SceneStore{Identity: testIdentity{}}
		require.Equal(t, "srv-test/z", store.GlobalSceneID(35))
	})
}

type testIdentity struct{}

func (testIdentity) ServerID() string {
	return "srv-test"
}
