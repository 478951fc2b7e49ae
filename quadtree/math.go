package quadtree

import "math"

type Vector2f struct {
	X float32
	Y float32
}

func NewVector2f(x, y float32) Vector2f {
	return Vector2f{x, y}
}

func (v Vector2f) Add(o Vector2f) Vector2f {
	return Vector2f{v.X + o.X, v.Y + o.Y}
}

func (v Vector2f) Sub(o Vector2f) Vector2f {
	return Vector2f{v.X - o.X, v.Y - o.Y}
}

func (v Vector2f) Mul(s float32) Vector2f {
	return Vector2f{v.X * s, v.Y * s}
}

// MulV multiplies component-wise.
func (v Vector2f) MulV(o Vector2f) Vector2f {
	return Vector2f{v.X * o.X, v.Y * o.Y}
}

type Vector3f struct {
	X float32
	Y float32
	Z float32
}

func NewVector3f(x, y, z float32) Vector3f {
	return Vector3f{x, y, z}
}

func (v Vector3f) Add(o Vector3f) Vector3f {
	return Vector3f{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vector3f) Sub(o Vector3f) Vector3f {
	return Vector3f{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vector3f) Mul(s float32) Vector3f {
	return Vector3f{v.X * s, v.Y * s, v.Z * s}
}

func (v Vector3f) Dot(o Vector3f) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vector3f) XY() Vector2f {
	return Vector2f{v.X, v.Y}
}

// Box2f is an axis-aligned box in the XY plane.
type Box2f struct {
	Min Vector2f
	Max Vector2f
}

func NewBox2f(min, max Vector2f) Box2f {
	return Box2f{Min: min, Max: max}
}

func (b Box2f) Size() Vector2f {
	return b.Max.Sub(b.Min)
}

func (b Box2f) Area() float32 {
	s := b.Size()
	return s.X * s.Y
}

// Intersects reports whether the boxes overlap. Boxes that only share an
// edge or a corner count as intersecting.
func (b Box2f) Intersects(o Box2f) bool {
	if b.Min.X > o.Max.X || o.Min.X > b.Max.X {
		return false
	}
	if b.Min.Y > o.Max.Y || o.Min.Y > b.Max.Y {
		return false
	}
	return true
}

// ContainsPoint reports whether p lies inside the box or on its edges.
func (b Box2f) ContainsPoint(p Vector2f) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}

// DistanceSquaredToPoint returns the squared distance from p to the box,
// zero when p is inside.
func (b Box2f) DistanceSquaredToPoint(p Vector2f) float32 {
	var dx, dy float32
	if p.X < b.Min.X {
		dx = b.Min.X - p.X
	} else if p.X > b.Max.X {
		dx = p.X - b.Max.X
	}
	if p.Y < b.Min.Y {
		dy = b.Min.Y - p.Y
	} else if p.Y > b.Max.Y {
		dy = p.Y - b.Max.Y
	}
	return dx*dx + dy*dy
}

// Box3f is an axis-aligned 3D box. The quadtree subdivides X/Y only; Z
// carries the height range of the inserted regions.
type Box3f struct {
	Min Vector3f
	Max Vector3f
}

func NewBox3f(min, max Vector3f) Box3f {
	return Box3f{Min: min, Max: max}
}

func (b Box3f) Center() Vector3f {
	return Vector3f{
		(b.Min.X + b.Max.X) * 0.5,
		(b.Min.Y + b.Max.Y) * 0.5,
		(b.Min.Z + b.Max.Z) * 0.5,
	}
}

func (b Box3f) Size() Vector3f {
	return b.Max.Sub(b.Min)
}

// Extents returns the half-size of the box.
func (b Box3f) Extents() Vector3f {
	return b.Size().Mul(0.5)
}

func (b Box3f) XY() Box2f {
	return Box2f{Min: b.Min.XY(), Max: b.Max.XY()}
}

// IntersectsXY reports whether the XY footprints of the boxes overlap,
// ignoring Z. Touching edges count as intersecting.
func (b Box3f) IntersectsXY(o Box3f) bool {
	return b.XY().Intersects(o.XY())
}

// roundUpPowerOfTwo returns the smallest power of two >= v. v must be > 0.
func roundUpPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return v + 1
}

// log2 returns log2(v) for a power-of-two v.
func log2(v uint32) int32 {
	var r int32
	for v > 1 {
		v >>= 1
		r++
	}
	return r
}

// maxNodeCount returns the node count of a full quadtree over a
// rootDim x rootDim leaf grid, rootDim a power of two:
//
//	sum(4^k, k=0..depth) = (4*rootDim^2 - 1) / 3
//
// which in integer math equals rootDim^2 * 4 / 3. The arena is reserved at
// this size so node indices stay stable for the whole build.
func maxNodeCount(rootDim int32) int32 {
	return rootDim * rootDim * 4 / 3
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func sqrt32(v float32) float32 {
	return (float32)(math.Sqrt((float64)(v)))
}

func floor32(v float32) float32 {
	return (float32)(math.Floor((float64)(v)))
}

// frac32 returns the fractional part of v, in [0, 1).
func frac32(v float32) float32 {
	return v - floor32(v)
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

// biLerp interpolates between four corner samples laid out as
// (00, 10, 01, 11) with fractional coordinates fx and fy.
func biLerp(p00, p10, p01, p11, fx, fy float32) float32 {
	return lerp(lerp(p00, p10, fx), lerp(p01, p11, fx), fy)
}
