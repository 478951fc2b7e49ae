package quadtree

import "math"

// SelectionParams drives an LOD selection traversal.
type SelectionParams struct {
	// Frustum culls subtrees before any distance test. An empty frustum
	// culls nothing.
	Frustum Frustum

	// ObserverPosition is the viewer location distances are measured
	// from; only its XY components are used.
	ObserverPosition Vector3f

	// LODScale stretches the distance bands: the band for level L ends
	// at 2^(L+1) * LODScale.
	LODScale float32

	// DensityCount is the number of density buckets per material.
	DensityCount int32

	// ForceCollapseDensityLevel is the density above which an
	// identity-uniform but incomplete subtree may still render as one
	// coarse instance instead of recursing further.
	ForceCollapseDensityLevel int32

	// LowestLOD is the coarsest level selection settles at: a node at
	// this level renders without requiring separation from the finer
	// band.
	LowestLOD int32

	// LODMorphingEnabled turns on the per-instance morph flags.
	LODMorphingEnabled bool

	// HeightMorph is stored on instances emitted at LowestLOD.
	HeightMorph float32

	// PreViewTranslation is added to every instance position.
	PreViewTranslation Vector3f

	// ClipBounds restricts SelectWithinBounds: leaf-level nodes must lie
	// fully inside it. Ignored by Select.
	ClipBounds Box2f
}

// Instance is one render instance emitted by a selection traversal.
type Instance struct {
	// BucketIndex groups instances for batched draws:
	// materialBucket*DensityCount + densityIndex.
	BucketIndex int32

	// Center is the instance position: tile center plus
	// PreViewTranslation on X/Y, base height plus translation Z on Z.
	Center Vector3f

	// RenderDataIndex is the tile identity the instance resolves to.
	RenderDataIndex int32

	// PackedLOD packs the LOD level in the low 8 bits, the should-morph
	// bit at bit 8 and the can-morph-twice bit at bit 9.
	PackedLOD uint32

	// HeightMorph is the params' height morph when the instance was
	// emitted at the lowest LOD, zero otherwise.
	HeightMorph float32

	// Scale is the XY size of the tile.
	Scale Vector2f

	HitColor [3]float32
	Selected bool
}

// LODLevel unpacks the LOD level.
func (i Instance) LODLevel() int32 {
	return int32(i.PackedLOD & 0xff)
}

// ShouldMorph unpacks the morph bit.
func (i Instance) ShouldMorph() bool {
	return i.PackedLOD&(1<<8) != 0
}

// CanMorphTwice unpacks the double-morph bit.
func (i Instance) CanMorphTwice() bool {
	return i.PackedLOD&(1<<9) != 0
}

// Selection is the output of one traversal: a dense instance buffer and
// the per-bucket histogram callers size their draw batches from. The two
// always agree: summing BucketInstanceCounts gives len(Instances).
type Selection struct {
	Instances            []Instance
	BucketInstanceCounts []int32
}

// Count returns the number of emitted instances.
func (s *Selection) Count() int {
	return len(s.Instances)
}

// lodDistance returns the outer edge of the distance band for a LOD
// level. Bands double per level: 2^(level+1) * scale.
func lodDistance(lodLevel int32, lodScale float32) float32 {
	return (float32)(math.Pow(2, (float64)(lodLevel+1))) * lodScale
}

// Select runs the LOD selection traversal over the locked tree and
// returns a near-optimal covering of the visible region: not finer than
// the distance bands ask for, not coarser than the identity structure
// allows. An empty tree yields an empty selection.
func (t *Tree) Select(params SelectionParams) *Selection {
	out := t.newSelection(&params)
	if len(t.nodes) == 0 {
		return out
	}
	t.checkSelectable(&params)
	t.selectLOD(t.nodes[0], t.treeDepth, &params, out)
	return out
}

// SelectWithinBounds runs the bounded variant: no distance bands, every
// path descends to leaf level, and a leaf is accepted only when its
// footprint lies fully inside params.ClipBounds.
func (t *Tree) SelectWithinBounds(params SelectionParams) *Selection {
	out := t.newSelection(&params)
	if len(t.nodes) == 0 {
		return out
	}
	t.checkSelectable(&params)
	if params.ClipBounds.Area() <= 0 {
		panic("quadtree: clip bounds area must be positive")
	}
	t.selectWithinBounds(t.nodes[0], t.treeDepth, &params, out)
	return out
}

func (t *Tree) newSelection(params *SelectionParams) *Selection {
	return &Selection{
		BucketInstanceCounts: make([]int32, t.MaterialCount()*params.DensityCount),
	}
}

func (t *Tree) checkSelectable(params *SelectionParams) {
	if !t.locked {
		panic("quadtree: tree must be locked before selection")
	}
	if params.DensityCount <= 0 {
		panic("quadtree: density count must be positive")
	}
	if !t.bucketsAssigned {
		panic("quadtree: material buckets must be assigned before selection")
	}
}

// canRender is the single gating rule balancing fidelity against draw
// count: a node renders as one instance when its render data is drawable,
// its subtree resolves to one identity, and either the density overflow
// passed the force-collapse threshold or the subtree is complete.
func (t *Tree) canRender(n *node, rd *RenderData, densityLevel, forceCollapseDensityLevel int32) bool {
	return rd.HasMaterial() && n.sameIdentity &&
		(densityLevel > forceCollapseDensityLevel || n.completeSubtree)
}

// selectLOD places a node into its distance band.
//
// A node farther away than its own band belongs to the coarser band: it
// renders whole at the next level up, or refines into children hunting
// for renderable pieces, with the density counter tracking how far below
// the ideal level the hunt went. A node fully separated into its own band
// (or parked at LowestLOD) renders whole or refines the same way. A node
// straddling the band edge descends one level, synthesizing virtual
// children where pruning removed the materialized ones.
func (t *Tree) selectLOD(n node, lodLevel int32, params *SelectionParams, out *Selection) {
	rd := &t.renderData[n.renderData]

	if !params.Frustum.IntersectsBox(n.bounds.Center(), n.bounds.Extents()) {
		return
	}

	// Distance to the tile footprint; zero when the observer is above it.
	closestDistance := sqrt32(n.bounds.XY().DistanceSquaredToPoint(params.ObserverPosition.XY()))

	if closestDistance > lodDistance(lodLevel, params.LODScale) {
		if t.canRender(&n, rd, 0, params.ForceCollapseDensityLevel) {
			t.addNodeForRender(&n, rd, 1, lodLevel+1, params, out)
		} else {
			for _, ci := range n.children {
				if ci > 0 {
					t.selectLODRefinement(t.nodes[ci], 2, lodLevel+1, params, out)
				}
			}
		}
		return
	}

	if lodLevel == 0 {
		if t.canRender(&n, rd, 0, params.ForceCollapseDensityLevel) {
			t.addNodeForRender(&n, rd, 0, lodLevel, params, out)
		}
		return
	}

	if closestDistance > lodDistance(lodLevel-1, params.LODScale) || lodLevel == params.LowestLOD {
		if t.canRender(&n, rd, 0, params.ForceCollapseDensityLevel) {
			t.addNodeForRender(&n, rd, 0, lodLevel, params, out)
		} else {
			for _, ci := range n.children {
				if ci > 0 {
					t.selectLODRefinement(t.nodes[ci], 1, lodLevel, params, out)
				}
			}
		}
		return
	}

	if n.completeSubtree && n.sameIdentity {
		// Pruned subtree: the children are implicit, rebuild them on the
		// stack and keep descending.
		for i := 0; i < 4; i++ {
			t.selectLOD(n.virtualChild(i), lodLevel-1, params, out)
		}
	} else {
		for _, ci := range n.children {
			if ci > 0 {
				t.selectLOD(t.nodes[ci], lodLevel-1, params, out)
			}
		}
	}
}

// selectLODRefinement drills below a node that could not render whole,
// emitting the first renderable subtree on each path. The LOD level stays
// fixed; only the density counter grows with each step down.
func (t *Tree) selectLODRefinement(n node, densityLevel, lodLevel int32, params *SelectionParams, out *Selection) {
	rd := &t.renderData[n.renderData]

	if !params.Frustum.IntersectsBox(n.bounds.Center(), n.bounds.Extents()) {
		return
	}

	if t.canRender(&n, rd, densityLevel, params.ForceCollapseDensityLevel) {
		t.addNodeForRender(&n, rd, densityLevel, lodLevel, params, out)
		return
	}

	for _, ci := range n.children {
		if ci > 0 {
			t.selectLODRefinement(t.nodes[ci], densityLevel+1, lodLevel, params, out)
		}
	}
}

func (t *Tree) selectWithinBounds(n node, lodLevel int32, params *SelectionParams, out *Selection) {
	rd := &t.renderData[n.renderData]

	if !params.Frustum.IntersectsBox(n.bounds.Center(), n.bounds.Extents()) {
		return
	}

	if lodLevel == 0 {
		if params.ClipBounds.ContainsPoint(n.bounds.Min.XY()) &&
			params.ClipBounds.ContainsPoint(n.bounds.Max.XY()) &&
			t.canRender(&n, rd, 0, params.ForceCollapseDensityLevel) {
			t.addNodeForRender(&n, rd, 0, lodLevel, params, out)
		}
		return
	}

	if n.completeSubtree && n.sameIdentity {
		for i := 0; i < 4; i++ {
			t.selectWithinBounds(n.virtualChild(i), lodLevel-1, params, out)
		}
	} else {
		for _, ci := range n.children {
			if ci > 0 {
				t.selectWithinBounds(t.nodes[ci], lodLevel-1, params, out)
			}
		}
	}
}

// addNodeForRender emits one instance for a node and books it into the
// material x density histogram.
func (t *Tree) addNodeForRender(n *node, rd *RenderData, densityLevel, lodLevel int32, params *SelectionParams, out *Selection) {
	densityIndex := densityLevel
	if densityIndex > params.DensityCount-1 {
		densityIndex = params.DensityCount - 1
	}
	bucketIndex := rd.MaterialIndex*params.DensityCount + densityIndex
	out.BucketInstanceCounts[bucketIndex]++

	center := n.bounds.Center()
	size := n.bounds.Size()

	isLowestLOD := lodLevel == params.LowestLOD

	var shouldMorph, canMorphTwice uint32
	// A tile only morphs when there is a next density level to morph to,
	// and morphs twice only with two levels left.
	if params.LODMorphingEnabled && densityIndex != params.DensityCount-1 {
		shouldMorph = 1
	}
	if densityIndex < params.DensityCount-2 {
		canMorphTwice = 1
	}

	packed := ((uint32)(lodLevel) & 0xff) | shouldMorph<<8 | canMorphTwice<<9

	var heightMorph float32
	if isLowestLOD {
		heightMorph = params.HeightMorph
	}

	out.Instances = append(out.Instances, Instance{
		BucketIndex: bucketIndex,
		Center: Vector3f{
			X: center.X + params.PreViewTranslation.X,
			Y: center.Y + params.PreViewTranslation.Y,
			Z: rd.BaseHeight + params.PreViewTranslation.Z,
		},
		RenderDataIndex: n.renderData,
		PackedLOD:       packed,
		HeightMorph:     heightMorph,
		Scale:           Vector2f{X: size.X, Y: size.Y},
		HitColor:        rd.HitColor,
		Selected:        rd.Selected,
	})
}
