package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Perspective creates a perspective projection matrix.
// Uses the WebGPU clip space convention where depth spans [0, 1].
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
//
// Returns:
//   - mgl32.Mat4: the column-major projection matrix
func Perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := 1.0 / float32(math.Tan(float64(fovY)/2.0))

	var out mgl32.Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	return out
}

// ViewMatrix builds the world-to-camera matrix for a pose.
//
// Parameters:
//   - p: the camera pose
//
// Returns:
//   - mgl32.Mat4: the view matrix
func ViewMatrix(p Pose) mgl32.Mat4 {
	return mgl32.LookAtV(p.Position, p.Target, p.Up)
}

// Jitter offsets a projection matrix by a sub-pixel amount expressed in NDC units
// (one pixel is 2/width horizontally and 2/height vertically).
//
// Parameters:
//   - proj: the projection matrix to offset
//   - jx, jy: NDC-space offsets
//
// Returns:
//   - mgl32.Mat4: the jittered projection
func Jitter(proj mgl32.Mat4, jx, jy float32) mgl32.Mat4 {
	// with w = -z_view, adding j * -z to clip x shifts ndc x by j
	proj[8] -= jx
	proj[9] -= jy
	return proj
}

// ProjectToTexel projects a world-space point into pixel space of a target of size dim.
// Pixel (0, 0) is the top-left corner. The returned depth is the linear view depth
// (distance along the viewing direction), which is monotonic and positive for visible points.
//
// Parameters:
//   - viewProj: the projection * view matrix of the target camera
//   - world: the world-space point
//   - dim: the target resolution
//
// Returns:
//   - x, y: continuous pixel coordinates
//   - depth: linear view depth
//   - ok: true when the point is in front of the camera and inside the target
func ProjectToTexel(viewProj mgl32.Mat4, world mgl32.Vec3, dim Uint2) (x, y, depth float32, ok bool) {
	clip := viewProj.Mul4x1(world.Vec4(1))
	w := clip.W()
	if w <= 1e-6 {
		return 0, 0, 0, false
	}
	nx := clip.X() / w
	ny := clip.Y() / w
	x = (nx*0.5 + 0.5) * float32(dim.X)
	y = (0.5 - ny*0.5) * float32(dim.Y)
	ok = x >= 0 && y >= 0 && x < float32(dim.X) && y < float32(dim.Y)
	return x, y, w, ok
}

// RayThroughTexel returns the normalized world-space direction from the eye through the
// given continuous pixel position.
//
// Parameters:
//   - invViewProj: inverse of the projection * view matrix
//   - eye: camera position
//   - px, py: continuous pixel coordinates (texel centers are at +0.5)
//   - dim: the target resolution
//
// Returns:
//   - mgl32.Vec3: unit ray direction
func RayThroughTexel(invViewProj mgl32.Mat4, eye mgl32.Vec3, px, py float32, dim Uint2) mgl32.Vec3 {
	nx := px/float32(dim.X)*2 - 1
	ny := 1 - py/float32(dim.Y)*2
	far := invViewProj.Mul4x1(mgl32.Vec4{nx, ny, 1, 1})
	p := far.Vec3().Mul(1 / far.W())
	return p.Sub(eye).Normalize()
}

// LinearDepth returns the distance of a world-space point along the pose's viewing direction.
// Equal to the clip-space w produced by ViewMatrix and Perspective.
//
// Parameters:
//   - p: the camera pose
//   - world: the world-space point
//
// Returns:
//   - float32: the linear depth
func LinearDepth(p Pose, world mgl32.Vec3) float32 {
	return world.Sub(p.Position).Dot(p.Forward())
}

// Lerp3 linearly interpolates between two vectors.
func Lerp3(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
