package quadtree

// QueryHeight returns the base height of the tile at the given XY
// location. The second result distinguishes an exact hit from the
// fallback: when no live child contains the point, the height of the
// deepest visited node is returned with found=false and callers pick
// their own default.
//
// Any subtree that is complete and identity-uniform answers immediately,
// which mirrors the pruning rule: below such a node no more granular data
// ever exists.
func (t *Tree) QueryHeight(p Vector2f) (float32, bool) {
	if len(t.nodes) == 0 {
		return 0, false
	}
	if !t.locked {
		panic("quadtree: tree must be locked before queries")
	}
	return t.queryHeight(&t.nodes[0], p)
}

func (t *Tree) queryHeight(n *node, p Vector2f) (float32, bool) {
	if n.completeSubtree && n.sameIdentity {
		return t.renderData[n.renderData].BaseHeight, true
	}

	for _, ci := range n.children {
		if ci > 0 {
			child := &t.nodes[ci]
			b := child.bounds
			// Min edges inclusive, max edges exclusive, so a point on a
			// shared edge resolves to exactly one tile.
			if p.X >= b.Min.X && p.X < b.Max.X && p.Y >= b.Min.Y && p.Y < b.Max.Y {
				return t.queryHeight(child, p)
			}
		}
	}

	return t.renderData[n.renderData].BaseHeight, false
}

// QueryBounds returns the bounds of the tightest node containing the
// given XY location. Found is true when the containing node carries real
// leaf data: either a node with no children, or a complete
// identity-uniform subtree, which is equivalent to a leaf whether or not
// pruning materialized that equivalence. An internal node none of whose
// children contain the point reports its own bounds with found=false.
func (t *Tree) QueryBounds(p Vector2f) (Box3f, bool) {
	if len(t.nodes) == 0 {
		return Box3f{}, false
	}
	if !t.locked {
		panic("quadtree: tree must be locked before queries")
	}
	return t.queryBounds(&t.nodes[0], p)
}

func (t *Tree) queryBounds(n *node, p Vector2f) (Box3f, bool) {
	if n.completeSubtree && n.sameIdentity {
		return n.bounds, true
	}

	childCount := 0
	for _, ci := range n.children {
		if ci > 0 {
			childCount++
			child := &t.nodes[ci]
			b := child.bounds
			if p.X >= b.Min.X && p.X < b.Max.X && p.Y >= b.Min.Y && p.Y < b.Max.Y {
				return t.queryBounds(child, p)
			}
		}
	}

	return n.bounds, childCount == 0
}

// QueryInterpolatedHeight bilinearly interpolates the base height at the
// given XY location from the four surrounding samples on a grid aligned
// to leaf-tile centers. Found is true only when all four corner samples
// hit valid data; the interpolated value is returned either way.
func (t *Tree) QueryInterpolatedHeight(p Vector2f) (float32, bool) {
	if len(t.nodes) == 0 {
		return 0, false
	}

	// The sample grid is aligned with the centers of leaf tiles, so it
	// sits half a leaf off the tile region origin.
	sampleGridOrigin := t.tileRegion.Min.Sub(Vector2f{X: t.leafSize * 0.5, Y: t.leafSize * 0.5})
	gridPosition := p.Sub(sampleGridOrigin)
	normalized := Vector2f{X: gridPosition.X / t.leafSize, Y: gridPosition.Y / t.leafSize}
	corner00 := Vector2f{X: floor32(normalized.X), Y: floor32(normalized.Y)}.
		Mul(t.leafSize).
		Add(sampleGridOrigin)

	corners := [4]Vector2f{
		corner00,
		{X: corner00.X + t.leafSize, Y: corner00.Y},
		{X: corner00.X, Y: corner00.Y + t.leafSize},
		{X: corner00.X + t.leafSize, Y: corner00.Y + t.leafSize},
	}

	var heights [4]float32
	validSamples := 0
	for i, c := range corners {
		var ok bool
		if heights[i], ok = t.QueryHeight(c); ok {
			validSamples++
		}
	}

	height := biLerp(heights[0], heights[1], heights[2], heights[3],
		frac32(normalized.X), frac32(normalized.Y))

	return height, validSamples == 4
}
