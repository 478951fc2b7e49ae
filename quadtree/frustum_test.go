package quadtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrustumIntersectsBox(t *testing.T) {
	f := FrustumFromBox(NewBox3f(Vector3f{0, 0, 0}, Vector3f{100, 100, 100}))

	t.Run("box inside the frustum intersects", func(t *testing.T) {
		b := NewBox3f(Vector3f{10, 10, 10}, Vector3f{20, 20, 20})
		require.True(t, f.IntersectsBox(b.Center(), b.Extents()))
	})

	t.Run("box overlapping a face intersects", func(t *testing.T) {
		b := NewBox3f(Vector3f{90, 10, 10}, Vector3f{120, 20, 20})
		require.True(t, f.IntersectsBox(b.Center(), b.Extents()))
	})

	t.Run("box enclosing the frustum intersects", func(t *testing.T) {
		b := NewBox3f(Vector3f{-50, -50, -50}, Vector3f{150, 150, 150})
		require.True(t, f.IntersectsBox(b.Center(), b.Extents()))
	})

	t.Run("box beyond a plane is rejected", func(t *testing.T) {
		b := NewBox3f(Vector3f{150, 10, 10}, Vector3f{170, 20, 20})
		require.False(t, f.IntersectsBox(b.Center(), b.Extents()))

		b = NewBox3f(Vector3f{10, -40, 10}, Vector3f{20, -20, 20})
		require.False(t, f.IntersectsBox(b.Center(), b.Extents()))
	})

	t.Run("box touching a plane intersects", func(t *testing.T) {
		b := NewBox3f(Vector3f{100, 10, 10}, Vector3f{120, 20, 20})
		require.True(t, f.IntersectsBox(b.Center(), b.Extents()))
	})
}

func TestFrustumEmptyAcceptsEverything(t *testing.T) {
	var f Frustum

	b := NewBox3f(Vector3f{1e6, 1e6, 1e6}, Vector3f{2e6, 2e6, 2e6})
	require.True(t, f.IntersectsBox(b.Center(), b.Extents()))
}

func TestPlaneSignedDistance(t *testing.T) {
	// Plane x = 10 with the normal pointing towards +x.
	p := Plane{Normal: Vector3f{1, 0, 0}, Distance: -10}

	require.Equal(t, (float32)(5), p.SignedDistance(Vector3f{15, 0, 0}))
	require.Equal(t, (float32)(-4), p.SignedDistance(Vector3f{6, 100, -3}))
	require.Equal(t, (float32)(0), p.SignedDistance(Vector3f{10, 1, 2}))
}
