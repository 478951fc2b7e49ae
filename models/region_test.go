package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tilemesh/tilemesh/quadtree"
)

func TestRegionSnapshot(t *testing.T) {
	region := &Region{
		ID:       3,
		ViewerID: 7,
		Material: "grass",
		Persist:  true,
		Padded:   true,
	}
	region.SetBounds(quadtree.NewBox3f(
		quadtree.NewVector3f(0, 0, -1),
		quadtree.NewVector3f(64, 32, 1),
	))
	region.SetStyle(2.5, 4, true)

	snapshot := region.Snapshot()
	require.Equal(t, uint32(3), snapshot.ID)
	require.Equal(t, uint32(7), snapshot.ViewerID)
	require.Equal(t, "grass", snapshot.Material)
	require.True(t, snapshot.Persist)
	require.True(t, snapshot.Padded)
	require.Equal(t, region.Bounds(), snapshot.Bounds)
	require.Equal(t, float32(2.5), snapshot.BaseHeight)
	require.Equal(t, int32(4), snapshot.Priority)
	require.True(t, snapshot.Selected)
}

func TestRegionToPayload(t *testing.T) {
	region := &Region{ID: 9, ViewerID: 2, Material: "sand"}
	region.SetBounds(quadtree.NewBox3f(
		quadtree.NewVector3f(-16, 0, 0),
		quadtree.NewVector3f(16, 48, 3),
	))
	region.SetStyle(1, -2, false)

	payload := region.ToPayload()
	require.Equal(t, uint32(9), payload.ID)
	require.Equal(t, uint32(2), payload.ViewerID)
	require.Equal(t, "sand", payload.Material)
	require.Equal(t, float32(-16), payload.Bounds.Min.X)
	require.Equal(t, float32(48), payload.Bounds.Max.Y)
	require.Equal(t, float32(3), payload.Bounds.Max.Z)
	require.Equal(t, float32(1), payload.BaseHeight)
	require.Equal(t, int32(-2), payload.Priority)
	require.False(t, payload.Selected)
}

func TestHitColorFromID(t *testing.T) {
	require.Equal(t, [3]float32{1.0 / 255, 0, 0}, HitColorFromID(1))
	require.Equal(t, [3]float32{1.0 / 255, 2.0 / 255, 3.0 / 255}, HitColorFromID(0x030201))
	require.Equal(t, [3]float32{1, 1, 1}, HitColorFromID(0xffffff))
}

func TestRegionStore(t *testing.T) {
	t.Run("ids are sequential and reused after removal", func(t *testing.T) {
		var store RegionStore

		require.Equal(t, uint32(1), store.NewID())
		require.Equal(t, uint32(2), store.NewID())

		store.Add(&Region{ID: 1})
		store.Add(&Region{ID: 2})
		_, ok := store.Remove(1)
		require.True(t, ok)
		require.Equal(t, uint32(1), store.NewID())
	})

	t.Run("listing preserves insertion order", func(t *testing.T) {
		var store RegionStore

		for _, id := range []uint32{4, 2, 9} {
			store.Add(&Region{ID: id})
		}
		_, ok := store.Remove(2)
		require.True(t, ok)
		store.Add(&Region{ID: 5})

		regions := store.List()
		require.Len(t, regions, 3)
		require.Equal(t, uint32(4), regions[0].ID)
		require.Equal(t, uint32(9), regions[1].ID)
		require.Equal(t, uint32(5), regions[2].ID)
		require.Equal(t, 3, store.Len())
	})

	t.Run("find and update report missing regions", func(t *testing.T) {
		var store RegionStore

		_, ok := store.Find(1)
		require.False(t, ok)
		require.False(t, store.Update(1, func(r *Region) {}))

		region := &Region{ID: 1}
		store.Add(region)

		found, ok := store.Find(1)
		require.True(t, ok)
		require.Equal(t, region, found)

		require.True(t, store.Update(1, func(r *Region) {
			r.SetStyle(7, 0, false)
		}))
		require.Equal(t, float32(7), region.BaseHeight())
	})
}
