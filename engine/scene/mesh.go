package scene

import (
	"math"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is an indexed triangle list in object space with a single diffuse color.
type Mesh struct {
	Name string
	// Positions are object-space vertices.
	Positions []mgl32.Vec3
	// Indices lists three vertices per triangle, counter-clockwise for the front face.
	// Nil means consecutive triples of Positions.
	Indices []uint32
	// Albedo is the diffuse color and opacity.
	Albedo [4]float32
	// Transform is the object-to-world matrix. The zero matrix means identity.
	Transform mgl32.Mat4
}

// Quad builds a two-triangle mesh from four corners in counter-clockwise order.
//
// Parameters:
//   - name: mesh name
//   - corners: the quad corners, counter-clockwise seen from the front
//   - albedo: the diffuse color
//
// Returns:
//   - Mesh: the quad
func Quad(name string, corners [4]mgl32.Vec3, albedo [4]float32) Mesh {
	return Mesh{
		Name:      name,
		Positions: corners[:],
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
		Albedo:    albedo,
		Transform: mgl32.Ident4(),
	}
}

// Box builds an axis-aligned box with outward-facing triangles.
//
// Parameters:
//   - name: mesh name
//   - box: the extent
//   - albedo: the diffuse color
//
// Returns:
//   - Mesh: the box
func Box(name string, box common.BoundingBox, albedo [4]float32) Mesh {
	lo, hi := box.Min, box.Max
	p := []mgl32.Vec3{
		{lo[0], lo[1], lo[2]}, {hi[0], lo[1], lo[2]}, {hi[0], hi[1], lo[2]}, {lo[0], hi[1], lo[2]},
		{lo[0], lo[1], hi[2]}, {hi[0], lo[1], hi[2]}, {hi[0], hi[1], hi[2]}, {lo[0], hi[1], hi[2]},
	}
	return Mesh{
		Name:      name,
		Positions: p,
		Indices: []uint32{
			4, 5, 6, 4, 6, 7, // +z
			1, 0, 3, 1, 3, 2, // -z
			5, 1, 2, 5, 2, 6, // +x
			0, 4, 7, 0, 7, 3, // -x
			7, 6, 2, 7, 2, 3, // +y
			0, 1, 5, 0, 5, 4, // -y
		},
		Albedo:    albedo,
		Transform: mgl32.Ident4(),
	}
}

// triangle is a world-space triangle with its object-space vertices kept for local positions.
type triangle struct {
	v0, e1, e2 mgl32.Vec3
	l0, l1, l2 mgl32.Vec3
	normal     mgl32.Vec3
}

// instance is a mesh baked into world space.
type instance struct {
	mesh      Mesh
	triangles []triangle
	bounds    common.BoundingBox
}

func bake(m Mesh) *instance {
	xf := m.Transform
	if xf == (mgl32.Mat4{}) {
		xf = mgl32.Ident4()
		m.Transform = xf
	}
	indices := m.Indices
	if indices == nil {
		indices = make([]uint32, len(m.Positions)-len(m.Positions)%3)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}

	inst := &instance{mesh: m}
	inst.bounds = common.BoundingBox{
		Min: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
	for i := 0; i+2 < len(indices); i += 3 {
		l0, l1, l2 := m.Positions[indices[i]], m.Positions[indices[i+1]], m.Positions[indices[i+2]]
		w0 := xf.Mul4x1(l0.Vec4(1)).Vec3()
		w1 := xf.Mul4x1(l1.Vec4(1)).Vec3()
		w2 := xf.Mul4x1(l2.Vec4(1)).Vec3()
		e1, e2 := w1.Sub(w0), w2.Sub(w0)
		n := e1.Cross(e2)
		if n.Len() == 0 {
			continue
		}
		inst.triangles = append(inst.triangles, triangle{v0: w0, e1: e1, e2: e2, l0: l0, l1: l1, l2: l2, normal: n.Normalize()})
		for _, w := range []mgl32.Vec3{w0, w1, w2} {
			inst.bounds = inst.bounds.Union(common.BoundingBox{Min: w, Max: w})
		}
	}
	return inst
}

// intersect is the Moller-Trumbore ray/triangle test. It accepts both faces.
func (tri *triangle) intersect(origin, dir mgl32.Vec3) (t, u, v float32, ok bool) {
	const eps = 1e-8
	p := dir.Cross(tri.e2)
	det := tri.e1.Dot(p)
	if det > -eps && det < eps {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := origin.Sub(tri.v0)
	u = s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(tri.e1)
	v = dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	t = tri.e2.Dot(q) * inv
	return t, u, v, t > 1e-5
}

func (tri *triangle) local(u, v float32) mgl32.Vec3 {
	return tri.l0.Mul(1 - u - v).Add(tri.l1.Mul(u)).Add(tri.l2.Mul(v))
}

// hitsBox is the slab test of a ray against an axis-aligned box.
func hitsBox(origin, dir mgl32.Vec3, box common.BoundingBox) bool {
	tmin, tmax := float32(0), float32(math.MaxFloat32)
	for a := 0; a < 3; a++ {
		if dir[a] == 0 {
			if origin[a] < box.Min[a] || origin[a] > box.Max[a] {
				return false
			}
			continue
		}
		inv := 1 / dir[a]
		t0, t1 := (box.Min[a]-origin[a])*inv, (box.Max[a]-origin[a])*inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tmin, tmax = max(tmin, t0), min(tmax, t1)
		if tmin > tmax {
			return false
		}
	}
	return true
}
