package quadtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildHalfTree splits the footprint into a west and an east half with
// different identities, with no empty tiles.
func buildHalfTree() *Tree {
	var tr Tree
	tr.Initialize(NewBox2f(Vector2f{0, 0}, Vector2f{256, 256}), 32, Extent{X: 4, Y: 4})
	rock := tr.AddRenderData(RenderData{Material: "rock", BaseHeight: 1})
	grass := tr.AddRenderData(RenderData{Material: "grass", BaseHeight: 2})
	tr.AddRegionPadded(NewBox3f(Vector3f{0, 0, 0}, Vector3f{128, 256, 1}), rock)
	tr.AddRegionPadded(NewBox3f(Vector3f{128, 0, 0}, Vector3f{256, 256, 1}), grass)
	tr.AssignMaterialBuckets()
	tr.Lock(true)
	return &tr
}

func TestTreeQueryHeight(t *testing.T) {
	t.Run("returns the height of the containing tile", func(t *testing.T) {
		tr := buildQuarterTree(true)

		h, found := tr.QueryHeight(Vector2f{64, 64})
		require.True(t, found)
		require.Equal(t, (float32)(1), h)

		h, found = tr.QueryHeight(Vector2f{200, 200})
		require.True(t, found)
		require.Equal(t, (float32)(2), h)
	})

	t.Run("fully collapsed tree answers from the root", func(t *testing.T) {
		tr := buildUniformTree(true)

		h, found := tr.QueryHeight(Vector2f{10, 10})
		require.True(t, found)
		require.Equal(t, (float32)(5), h)

		// The collapsed root is the answer for any location, even one
		// outside its footprint.
		h, found = tr.QueryHeight(Vector2f{300, 300})
		require.True(t, found)
		require.Equal(t, (float32)(5), h)
	})

	t.Run("empty tile falls back to the deepest visited node", func(t *testing.T) {
		tr := buildQuarterTree(true)

		h, found := tr.QueryHeight(Vector2f{64, 200})
		require.False(t, found)
		// The root identity is whatever region was inserted last.
		require.Equal(t, (float32)(2), h)
	})

	t.Run("shared edges resolve to exactly one tile", func(t *testing.T) {
		tr := buildHalfTree()

		h, found := tr.QueryHeight(Vector2f{128, 64})
		require.True(t, found)
		require.Equal(t, (float32)(2), h)

		h, found = tr.QueryHeight(Vector2f{127.5, 64})
		require.True(t, found)
		require.Equal(t, (float32)(1), h)
	})

	t.Run("empty tree finds nothing", func(t *testing.T) {
		var tr Tree
		h, found := tr.QueryHeight(Vector2f{10, 10})
		require.False(t, found)
		require.Equal(t, (float32)(0), h)
	})

	t.Run("panics on an unlocked tree", func(t *testing.T) {
		var tr Tree
		tr.Initialize(NewBox2f(Vector2f{0, 0}, Vector2f{256, 256}), 32, Extent{X: 4, Y: 4})

		require.Panics(t, func() { tr.QueryHeight(Vector2f{10, 10}) })
	})
}

func TestTreeQueryBounds(t *testing.T) {
	t.Run("returns the tightest tile equivalent", func(t *testing.T) {
		tr := buildQuarterTree(true)

		b, found := tr.QueryBounds(Vector2f{64, 64})
		require.True(t, found)
		require.Equal(t, NewBox2f(Vector2f{0, 0}, Vector2f{128, 128}), b.XY())

		b, found = tr.QueryBounds(Vector2f{200, 200})
		require.True(t, found)
		require.Equal(t, NewBox2f(Vector2f{128, 128}, Vector2f{256, 256}), b.XY())
	})

	t.Run("collapsed root reports its full footprint", func(t *testing.T) {
		tr := buildUniformTree(true)

		b, found := tr.QueryBounds(Vector2f{10, 10})
		require.True(t, found)
		require.Equal(t, NewBox2f(Vector2f{0, 0}, Vector2f{256, 256}), b.XY())
	})

	t.Run("empty tile reports the enclosing node without data", func(t *testing.T) {
		tr := buildQuarterTree(true)

		b, found := tr.QueryBounds(Vector2f{64, 200})
		require.False(t, found)
		require.Equal(t, NewBox2f(Vector2f{0, 0}, Vector2f{256, 256}), b.XY())
	})

	t.Run("empty tree finds nothing", func(t *testing.T) {
		var tr Tree
		b, found := tr.QueryBounds(Vector2f{10, 10})
		require.False(t, found)
		require.Equal(t, Box3f{}, b)
	})

	t.Run("panics on an unlocked tree", func(t *testing.T) {
		var tr Tree
		tr.Initialize(NewBox2f(Vector2f{0, 0}, Vector2f{256, 256}), 32, Extent{X: 4, Y: 4})

		require.Panics(t, func() { tr.QueryBounds(Vector2f{10, 10}) })
	})
}

func TestTreeQueryInterpolatedHeight(t *testing.T) {
	t.Run("uniform heights interpolate exactly", func(t *testing.T) {
		tr := buildUniformTree(true)

		h, found := tr.QueryInterpolatedHeight(Vector2f{100, 100})
		require.True(t, found)
		require.Equal(t, (float32)(5), h)
	})

	t.Run("blends heights across tile centers", func(t *testing.T) {
		tr := buildHalfTree()

		// Halfway between a west sample at height 1 and an east sample
		// at height 2.
		h, found := tr.QueryInterpolatedHeight(Vector2f{128, 64})
		require.True(t, found)
		require.Equal(t, (float32)(1.5), h)

		h, found = tr.QueryInterpolatedHeight(Vector2f{120, 64})
		require.True(t, found)
		require.Equal(t, (float32)(1.25), h)
	})

	t.Run("deep inside one identity no blending happens", func(t *testing.T) {
		tr := buildHalfTree()

		h, found := tr.QueryInterpolatedHeight(Vector2f{40, 40})
		require.True(t, found)
		require.Equal(t, (float32)(1), h)
	})

	t.Run("not found when a corner sample lands in a hole", func(t *testing.T) {
		tr := buildQuarterTree(true)

		_, found := tr.QueryInterpolatedHeight(Vector2f{128, 128})
		require.False(t, found)
	})

	t.Run("empty tree finds nothing", func(t *testing.T) {
		var tr Tree
		h, found := tr.QueryInterpolatedHeight(Vector2f{10, 10})
		require.False(t, found)
		require.Equal(t, (float32)(0), h)
	})
}
