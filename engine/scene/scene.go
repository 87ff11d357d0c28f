// Package scene defines the collaborator the warp passes render geometry through, and MeshScene,
// a CPU ray-cast reference implementation of it.
package scene

import (
	"context"
	"math"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

// NoInstance is the instance id written for background pixels.
const NoInstance uint32 = math.MaxUint32

// BackgroundDepth is the linear depth written for background pixels. It compares farther than
// any surface, so depth tests against the first layer never treat background as an occluder.
const BackgroundDepth float32 = math.MaxFloat32

// CullMode selects which triangle faces are rejected before the fragment program runs.
type CullMode int

const (
	// CullNone keeps both faces.
	CullNone CullMode = iota
	// CullBack drops faces whose counter-clockwise normal points away from the viewer.
	CullBack
	// CullFront drops faces whose normal points toward the viewer.
	CullFront
)

func (c CullMode) String() string {
	switch c {
	case CullBack:
		return "back"
	case CullFront:
		return "front"
	default:
		return "none"
	}
}

// Fragment is one ray/triangle hit handed to a FragmentProgram.
type Fragment struct {
	// X, Y is the pixel the fragment covers.
	X, Y int
	// Position is the world-space hit point.
	Position mgl32.Vec3
	// Normal is the unit geometric normal from the triangle winding. It is not flipped toward
	// the viewer, so back faces report a normal pointing away.
	Normal mgl32.Vec3
	// ViewDir is the unit direction from the eye to the hit.
	ViewDir mgl32.Vec3
	// Depth is the linear depth along the camera's viewing direction.
	Depth float32
	// LocalPos is the hit in the mesh's object space.
	LocalPos mgl32.Vec3
	// Albedo is the mesh's diffuse color and opacity.
	Albedo [4]float32
	// InstanceID is the index of the mesh in the scene.
	InstanceID uint32
}

// FrontFacing reports whether the fragment's normal points toward the viewer.
func (f *Fragment) FrontFacing() bool {
	return f.Normal.Dot(f.ViewDir) < 0
}

// FragmentProgram decides whether a fragment is kept. Among the accepted fragments of a pixel the
// nearest wins. A nil program accepts everything.
type FragmentProgram func(f *Fragment) bool

// Targets are the textures a rasterization writes. Nil members are skipped; every non-nil member
// must match the request's dimension.
type Targets struct {
	// Position is RGBA32Float world position with w = 1 on hits and 0 on background.
	Position texture.Texture
	// Normal is RGBA32Float world normal.
	Normal texture.Texture
	// Albedo is RGBA32Float diffuse color and opacity.
	Albedo texture.Texture
	// Depth is R32Float linear depth, BackgroundDepth where nothing was hit.
	Depth texture.Texture
	// InstanceID is R32Uint mesh index, NoInstance where nothing was hit.
	InstanceID texture.Texture
	// LocalPos is RGBA32Float object-space position with w = 1 on hits.
	LocalPos texture.Texture
	// Color is the RGBA32Float shaded render.
	Color texture.Texture
}

// RasterRequest describes one rasterization of the scene.
type RasterRequest struct {
	// Camera supplies the pose and view-projection the rays are cast through.
	Camera camera.Camera
	// Dim is the output resolution.
	Dim common.Uint2
	// Program filters fragments; nil accepts all.
	Program FragmentProgram
	// Cull selects face culling.
	Cull CullMode
	// Targets receive the results.
	Targets Targets
}

// Scene is the geometry source the passes rasterize. Rasterization results reach the device only
// through dst, so a scene never needs to know which device backs the textures.
type Scene interface {
	// Camera returns the scene camera. Passes read it every frame and move it only during
	// scripted playback or extrapolation.
	//
	// Returns:
	//   - camera.Camera: the scene camera
	Camera() camera.Camera

	// Bounds returns the world-space bounding box of all geometry.
	//
	// Returns:
	//   - common.BoundingBox: the scene bounds
	Bounds() common.BoundingBox

	// Transforms returns the object-to-world matrix of every instance, indexed by instance id.
	//
	// Returns:
	//   - []mgl32.Mat4: a copy of the transform table
	Transforms() []mgl32.Mat4

	// Rasterize renders the scene from req.Camera and uploads the results into req.Targets.
	//
	// Parameters:
	//   - ctx: cancels the rasterization between row bands
	//   - dst: uploads the host images into the target textures
	//   - req: the rasterization request
	//
	// Returns:
	//   - error: an error if rasterization or an upload fails
	Rasterize(ctx context.Context, dst texture.Uploader, req RasterRequest) error
}
