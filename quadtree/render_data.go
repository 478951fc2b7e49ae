package quadtree

// MaterialIndexNone marks render data that has no material and therefore no
// bucket in the instanced draw submission.
const MaterialIndexNone int32 = -1

// RenderData describes how every tile pointing at it is drawn: which
// material batch it belongs to, the height the tile surface sits at, and
// selection metadata for editor picking.
//
// Slot 0 of the table is the sentinel entry all nodes start out pointing
// at. It has no material and the lowest priority, so any inserted region
// overwrites it.
type RenderData struct {
	// Material is the material key. Empty means the tile is not drawable.
	Material string

	// BaseHeight is the world-space height of the tile surface.
	BaseHeight float32

	// MaterialIndex is the dense bucket index assigned by
	// AssignMaterialBuckets, MaterialIndexNone until then or when
	// Material is empty.
	MaterialIndex int32

	// HitColor identifies the owning region in hit-test render passes.
	HitColor [3]float32

	// Selected marks tiles of a region highlighted in the editor.
	Selected bool
}

func (rd RenderData) HasMaterial() bool {
	return rd.Material != ""
}

// AddRenderData appends a render-data record and returns its index, which
// regions inserted afterwards refer to. The table is append-only while the
// tree is being built.
func (t *Tree) AddRenderData(rd RenderData) int32 {
	if t.locked {
		panic("quadtree: render data cannot be added to a locked tree")
	}
	rd.MaterialIndex = MaterialIndexNone
	t.renderData = append(t.renderData, rd)
	return int32(len(t.renderData) - 1)
}

// RenderDataAt returns the render-data record at the given index.
func (t *Tree) RenderDataAt(i int32) RenderData {
	return t.renderData[i]
}

// RenderDataCount returns the number of render-data records, including the
// sentinel at slot 0.
func (t *Tree) RenderDataCount() int {
	return len(t.renderData)
}

// AssignMaterialBuckets deduplicates material keys into dense bucket
// indices, in first-encounter order. Entries without a material keep
// MaterialIndexNone. Selection needs the buckets to group instances per
// material and density, so this must run after the last insertion and
// before Select.
func (t *Tree) AssignMaterialBuckets() {
	nextIdx := int32(0)
	matToIdx := make(map[string]int32)

	getMatIdx := func(material string) int32 {
		if material == "" {
			return MaterialIndexNone
		}
		if idx, ok := matToIdx[material]; ok {
			return idx
		}
		idx := nextIdx
		matToIdx[material] = idx
		nextIdx++
		return idx
	}

	for i := range t.renderData {
		t.renderData[i].MaterialIndex = getMatIdx(t.renderData[i].Material)
	}

	t.materials = make([]string, len(matToIdx))
	for material, idx := range matToIdx {
		t.materials[idx] = material
	}
	t.bucketsAssigned = true
}

// Materials returns the material keys by bucket index.
func (t *Tree) Materials() []string {
	return t.materials
}

// MaterialCount returns the number of distinct material buckets.
func (t *Tree) MaterialCount() int32 {
	return int32(len(t.materials))
}
