package quadtree

// node is one quadrant of the tree at some depth. Nodes live by value in
// the tree's flat arena and refer to each other by arena index only. Index
// 0 holds the root, and since the root can never be anybody's child, 0
// doubles as "no child": child slots are only ever tested for > 0.
type node struct {
	// bounds is the world-space box of the quadrant. X/Y are the exact
	// footprint; Z is the running min/max of the heights inserted into
	// this subtree and only ever widens.
	bounds Box3f

	parent   int32
	children [4]int32

	// renderData indexes the tree's render-data table and is the tile
	// identity this node resolves to when rendered as one instance.
	// Insertion order decides overlaps: the last region written wins.
	renderData int32

	// transition is the most recently assigned identity during
	// insertion, kept to compare homogeneity across insert order.
	transition int32

	// hasMaterial caches whether renderData points at a drawable entry.
	hasMaterial bool

	// sameIdentity means every leaf this subtree expands to resolves to
	// the same render data.
	sameIdentity bool

	// completeSubtree means every possible child down to leaf depth is
	// materialized, with no structural holes.
	completeSubtree bool
}

// canMerge reports whether two sibling subtrees resolve to the same tile
// identity, comparing only the identity-defining attributes.
func (n *node) canMerge(o node) bool {
	return n.renderData == o.renderData && n.hasMaterial == o.hasMaterial
}

func (n *node) childCount() int {
	c := 0
	for _, ci := range n.children {
		if ci > 0 {
			c++
		}
	}
	return c
}

// childOffsets orders the quadrants (--, +-, -+, ++) in units of the half
// bound size.
var childOffsets = [4]Vector2f{
	{X: 0, Y: 0},
	{X: 1, Y: 0},
	{X: 0, Y: 1},
	{X: 1, Y: 1},
}

// virtualChild synthesizes child quadrant i of a pruned subtree. A node
// whose subtree is complete and identity-uniform is stored without
// children, so traversals that need to descend below it rebuild the
// quadrant geometry on the stack: same subdivision rule as materialized
// children, same identity, same flags, full parent Z range. The result is
// never inserted into the arena.
func (n *node) virtualChild(i int) node {
	ext := n.bounds.Extents()
	half := Vector3f{X: ext.X, Y: ext.Y, Z: ext.Z * 2}
	off := childOffsets[i]
	min := n.bounds.Min.Add(Vector3f{X: half.X * off.X, Y: half.Y * off.Y})
	return node{
		bounds:          Box3f{Min: min, Max: min.Add(half)},
		renderData:      n.renderData,
		transition:      n.transition,
		sameIdentity:    true,
		completeSubtree: true,
	}
}
