// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Pose is a camera placement in world space.
type Pose struct {
	// Position is the eye location.
	Position mgl32.Vec3
	// Target is the look-at point.
	Target mgl32.Vec3
	// Up is the (not necessarily normalized) up vector.
	Up mgl32.Vec3
}

// Forward returns the normalized viewing direction of the pose.
// A degenerate pose (target == position) looks down -Z.
//
// Returns:
//   - mgl32.Vec3: unit vector from position toward target
func (p Pose) Forward() mgl32.Vec3 {
	f := p.Target.Sub(p.Position)
	if f.Len() == 0 {
		return mgl32.Vec3{0, 0, -1}
	}
	return f.Normalize()
}

// Basis returns the orthonormal right and up axes of the pose, matching the axes the
// view matrix produced by ViewMatrix uses.
//
// Returns:
//   - right: unit camera-space +X in world space
//   - up: unit camera-space +Y in world space
func (p Pose) Basis() (right, up mgl32.Vec3) {
	f := p.Forward()
	right = f.Cross(p.Up)
	if right.Len() == 0 {
		// up parallel to forward; pick any perpendicular
		right = f.Cross(mgl32.Vec3{1, 0, 0})
		if right.Len() == 0 {
			right = f.Cross(mgl32.Vec3{0, 0, 1})
		}
	}
	right = right.Normalize()
	up = right.Cross(f).Normalize()
	return right, up
}

// Translate returns the pose moved by offset. Position and target move together, so the
// viewing direction is unchanged.
//
// Parameters:
//   - offset: world-space translation
//
// Returns:
//   - Pose: the translated pose
func (p Pose) Translate(offset mgl32.Vec3) Pose {
	return Pose{Position: p.Position.Add(offset), Target: p.Target.Add(offset), Up: p.Up}
}

// String implements fmt.Stringer for log output.
func (p Pose) String() string {
	return fmt.Sprintf("pos=%v target=%v up=%v", p.Position, p.Target, p.Up)
}

// BoundingBox is an axis-aligned world-space box.
type BoundingBox struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// Extent returns Max - Min.
func (b BoundingBox) Extent() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Union returns the smallest box enclosing both b and o.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		Min: mgl32.Vec3{min(b.Min[0], o.Min[0]), min(b.Min[1], o.Min[1]), min(b.Min[2], o.Min[2])},
		Max: mgl32.Vec3{max(b.Max[0], o.Max[0]), max(b.Max[1], o.Max[1]), max(b.Max[2], o.Max[2])},
	}
}

// Uint2 is a pair of unsigned integers, used for frame dimensions and texel coordinates.
type Uint2 struct {
	X, Y uint32
}

// Area returns X * Y.
func (u Uint2) Area() int {
	return int(u.X) * int(u.Y)
}

// Mip returns the dimension at the given mip level.
//
// Parameters:
//   - level: mip level, 0 is full resolution
//
// Returns:
//   - Uint2: the per-axis size, each at least 1
func (u Uint2) Mip(level int) Uint2 {
	return Uint2{X: MipDim(u.X, level), Y: MipDim(u.Y, level)}
}

// String implements fmt.Stringer.
func (u Uint2) String() string {
	return fmt.Sprintf("%dx%d", u.X, u.Y)
}
