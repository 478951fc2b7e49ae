package quadtree

// Plane is a half-space boundary in Hessian form: a point p is on the
// positive side when Normal.Dot(p) + Distance >= 0.
type Plane struct {
	Normal   Vector3f
	Distance float32
}

// SignedDistance returns the signed distance from p to the plane.
func (pl Plane) SignedDistance(p Vector3f) float32 {
	return pl.Normal.Dot(p) + pl.Distance
}

// Frustum is a convex volume described by inward-facing planes. A frustum
// with no planes accepts everything, which is the culling-disabled case.
type Frustum struct {
	Planes []Plane
}

// IntersectsBox reports whether the axis-aligned box given by its center
// and half-extents intersects or lies inside the volume. The test is
// conservative the way frustum culling usually is: a box is rejected only
// when it is fully behind at least one plane.
func (f Frustum) IntersectsBox(center, extents Vector3f) bool {
	for _, pl := range f.Planes {
		r := extents.X*abs32(pl.Normal.X) +
			extents.Y*abs32(pl.Normal.Y) +
			extents.Z*abs32(pl.Normal.Z)
		if pl.SignedDistance(center) < -r {
			return false
		}
	}
	return true
}

// FrustumFromBox builds an orthographic view volume from a world box, with
// all six planes facing inward.
func FrustumFromBox(b Box3f) Frustum {
	return Frustum{Planes: []Plane{
		{Normal: Vector3f{X: 1}, Distance: -b.Min.X},
		{Normal: Vector3f{X: -1}, Distance: b.Max.X},
		{Normal: Vector3f{Y: 1}, Distance: -b.Min.Y},
		{Normal: Vector3f{Y: -1}, Distance: b.Max.Y},
		{Normal: Vector3f{Z: 1}, Distance: -b.Min.Z},
		{Normal: Vector3f{Z: -1}, Distance: b.Max.Z},
	}}
}
