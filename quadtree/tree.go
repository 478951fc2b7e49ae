// Package quadtree implements an adaptive 2D spatial index over square
// mesh tiles. A tree is built once from axis-aligned regions, compacted
// and locked, then queried concurrently: distance-based LOD selection with
// frustum culling for instanced rendering, and point lookups for heights
// and tile bounds.
//
// The build phase is not safe for concurrent use. After Lock the tree is
// immutable and every query path is safe for unbounded concurrent reads.
package quadtree

import "math"

// Extent is the mesh size in tiles per half-axis: the world footprint
// spans 2*X by 2*Y tiles around the region origin.
type Extent struct {
	X int32
	Y int32
}

// Tree is a mesh quadtree. Nodes live in a flat arena referenced by
// integer indices; the arena is reserved at its theoretical maximum before
// the first insertion and never reallocates during the build, so indices
// taken while inserting stay valid.
//
// The zero value is an empty tree; call Initialize before use.
type Tree struct {
	nodes      []node
	renderData []RenderData
	materials  []string

	treeDepth    int32
	leafSize     float32
	extent       Extent
	tileRegion   Box2f
	maxLeafCount int32

	bucketsAssigned bool
	locked          bool
}

// Initialize resets the tree for a build over the given mesh bounds. The
// leaf grid dimension is the smallest power of two that covers twice the
// extent, and the tree depth is its log2; a depth of 0 means the root is
// itself a leaf. The root footprint is anchored at bounds.Min and spans
// the full power-of-two grid, which can reach past bounds.Max; the
// original bounds are kept to clip insertions so the padding never
// materializes. Root Z starts inverted (min above max) so that any
// insertion strictly widens it.
//
// Panics when the bounds area, tile size, or either extent component is
// not positive.
func (t *Tree) Initialize(bounds Box2f, tileSize float32, extent Extent) {
	if bounds.Area() <= 0 {
		panic("quadtree: bounds area must be positive")
	}
	if tileSize <= 0 {
		panic("quadtree: tile size must be positive")
	}
	if extent.X <= 0 || extent.Y <= 0 {
		panic("quadtree: extent must be positive")
	}

	t.maxLeafCount = extent.X * extent.Y * 4
	t.leafSize = tileSize
	t.extent = extent
	t.tileRegion = bounds

	maxDim := extent.X * 2
	if extent.Y*2 > maxDim {
		maxDim = extent.Y * 2
	}
	rootDim := int32(roundUpPowerOfTwo(uint32(maxDim)))
	t.treeDepth = log2(uint32(rootDim))

	t.nodes = make([]node, 0, maxNodeCount(rootDim))
	t.renderData = []RenderData{{MaterialIndex: MaterialIndexNone}}
	t.materials = nil
	t.bucketsAssigned = false

	rootWorldSize := float32(rootDim) * tileSize
	t.nodes = append(t.nodes, node{
		bounds: Box3f{
			Min: Vector3f{X: bounds.Min.X, Y: bounds.Min.Y, Z: math.MaxFloat32},
			Max: Vector3f{X: bounds.Min.X + rootWorldSize, Y: bounds.Min.Y + rootWorldSize, Z: -math.MaxFloat32},
		},
	})

	t.locked = false
}

// AddRegion inserts an axis-aligned region resolving to the render data at
// the given index, subdividing down to leaf tiles. Quadrants materialize
// lazily: a child node is created only where the region and the mesh
// bounds overlap the quadrant. Later insertions overwrite earlier ones on
// shared tiles, so callers add lower-priority regions first.
func (t *Tree) AddRegion(region Box3f, renderDataIndex int32) {
	if t.locked {
		panic("quadtree: regions cannot be added to a locked tree")
	}
	mesh := Box3f{
		Min: Vector3f{X: t.tileRegion.Min.X, Y: t.tileRegion.Min.Y},
		Max: Vector3f{X: t.tileRegion.Max.X, Y: t.tileRegion.Max.Y},
	}
	t.addNodes(0, mesh, region, renderDataIndex, t.treeDepth)
}

// AddRegionPadded insets the region by a quarter tile on each side before
// inserting, so a region that exactly touches a tile edge does not claim
// the neighboring tile.
func (t *Tree) AddRegionPadded(region Box3f, renderDataIndex int32) {
	inset := t.leafSize * 0.25
	padded := Box3f{
		Min: Vector3f{X: region.Min.X + inset, Y: region.Min.Y + inset, Z: region.Min.Z},
		Max: Vector3f{X: region.Max.X - inset, Y: region.Max.Y - inset, Z: region.Max.Z},
	}
	t.AddRegion(padded, renderDataIndex)
}

// addNodes descends the subtree at nodeIndex, recording the region's
// identity and keeping the homogeneity flags accurate as it goes. The
// flags are optimistically reset to true on the way down (a leaf has no
// children to contradict them, which is what lets leaves be implicitly
// subdivided later) and narrowed by folding over the four child results on
// the way back up.
func (t *Tree) addNodes(nodeIndex int32, meshBounds, region Box3f, renderDataIndex, level int32) {
	n := &t.nodes[nodeIndex]

	n.bounds.Max.Z = max32(n.bounds.Max.Z, region.Max.Z)
	n.bounds.Min.Z = min32(n.bounds.Min.Z, region.Min.Z)

	n.transition = renderDataIndex
	n.renderData = renderDataIndex
	n.hasMaterial = t.renderData[renderDataIndex].HasMaterial()

	n.sameIdentity = true
	n.completeSubtree = true

	if level == 0 {
		return
	}

	halfSize := n.bounds.XY().Size().Mul(0.5)

	var prev node
	havePrev := false
	for i := 0; i < 4; i++ {
		if n.children[i] > 0 {
			if t.nodes[n.children[i]].bounds.IntersectsXY(region) {
				t.addNodes(n.children[i], meshBounds, region, renderDataIndex, level-1)
			}
		} else {
			childMin := Vector3f{
				X: n.bounds.Min.X + halfSize.X*childOffsets[i].X,
				Y: n.bounds.Min.Y + halfSize.Y*childOffsets[i].Y,
				Z: region.Min.Z,
			}
			childBounds := Box3f{
				Min: childMin,
				Max: Vector3f{X: childMin.X + halfSize.X, Y: childMin.Y + halfSize.Y, Z: region.Max.Z},
			}

			if childBounds.IntersectsXY(region) && childBounds.IntersectsXY(meshBounds) {
				// The arena never grows past its reserved capacity,
				// otherwise node pointers held across this append would
				// dangle.
				if len(t.nodes) == cap(t.nodes) {
					panic("quadtree: node arena overflow")
				}
				childIndex := int32(len(t.nodes))
				t.nodes = append(t.nodes, node{bounds: childBounds, parent: nodeIndex})
				n.children[i] = childIndex
				t.addNodes(childIndex, meshBounds, region, renderDataIndex, level-1)
			}
		}

		if n.children[i] > 0 {
			child := t.nodes[n.children[i]]

			// First live child compares against itself, which trivially
			// merges.
			if !havePrev {
				prev = child
				havePrev = true
			}
			if !child.sameIdentity || !child.canMerge(prev) {
				n.sameIdentity = false
			}
			prev = child

			if !child.completeSubtree {
				n.completeSubtree = false
			}
		} else {
			n.completeSubtree = false
		}
	}
}

// Lock transitions the tree to read-only. With pruneRedundant set it first
// compacts the arena: walking from the highest index down to 1 (children
// always sit at higher indices than their ancestors), a node is removed
// when its parent's whole subtree is complete and identity-uniform, since
// the parent then implies it, or when the node itself has no material and
// a complete, identity-uniform subtree, which collapses runs of identical
// undrawable tiles into the parent slot. Removal swaps the last live node
// into the vacated slot and back-patches the references to it; a removed
// node's own children are always gone by the time it is removed, so only
// the moved node needs patching.
func (t *Tree) Lock(pruneRedundant bool) {
	if t.locked {
		panic("quadtree: tree is already locked")
	}

	if pruneRedundant {
		swapRemove := func(nodeIndex, endIndex int32) {
			if nodeIndex == endIndex {
				return
			}
			t.nodes[nodeIndex] = t.nodes[endIndex]

			moved := &t.nodes[nodeIndex]
			movedParent := &t.nodes[moved.parent]
			for i := 0; i < 4; i++ {
				if moved.children[i] > 0 {
					t.nodes[moved.children[i]].parent = nodeIndex
				}
				if movedParent.children[i] == endIndex {
					movedParent.children[i] = nodeIndex
				}
			}
		}

		endIndex := int32(len(t.nodes) - 1)
		for nodeIndex := endIndex; nodeIndex > 0; nodeIndex-- {
			n := &t.nodes[nodeIndex]
			parent := &t.nodes[n.parent]

			if parent.completeSubtree && parent.sameIdentity {
				parent.children = [4]int32{}
				swapRemove(nodeIndex, endIndex)
				endIndex--
			} else if !n.hasMaterial && n.completeSubtree && n.sameIdentity {
				for i := 0; i < 4; i++ {
					if parent.children[i] == nodeIndex {
						parent.children[i] = 0
					}
				}
				swapRemove(nodeIndex, endIndex)
				endIndex--
			}
		}

		t.nodes = t.nodes[:endIndex+1]
	}

	t.locked = true
}

// Locked reports whether the tree has been locked.
func (t *Tree) Locked() bool {
	return t.locked
}

// NodeCount returns the number of live nodes, including the root.
func (t *Tree) NodeCount() int {
	return len(t.nodes)
}

// TreeDepth returns the subdivision depth; leaves live at depth TreeDepth.
func (t *Tree) TreeDepth() int32 {
	return t.treeDepth
}

// LeafSize returns the world-space side length of a leaf tile.
func (t *Tree) LeafSize() float32 {
	return t.leafSize
}

// Extent returns the extent the tree was initialized with.
func (t *Tree) Extent() Extent {
	return t.extent
}

// MaxLeafCount returns the leaf budget for the initialized extent.
func (t *Tree) MaxLeafCount() int32 {
	return t.maxLeafCount
}

// TileRegion returns the mesh bounds passed to Initialize.
func (t *Tree) TileRegion() Box2f {
	return t.tileRegion
}

// Bounds returns the root bounds: the power-of-two footprint with the Z
// range covering everything inserted. On a tree with no insertions the Z
// range is still inverted.
func (t *Tree) Bounds() Box3f {
	if len(t.nodes) == 0 {
		return Box3f{}
	}
	return t.nodes[0].bounds
}
