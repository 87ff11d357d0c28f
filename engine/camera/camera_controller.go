package camera

import "github.com/Carmen-Shannon/oxy-warp/common"

// CameraController owns positional state and hands the camera a pose each Update. It combines
// orbit motion around a pivot with planar panning along the camera's local axes, which is how
// example hosts and tests move the scene camera between frames.
type CameraController interface {
	orbitCameraController
	planarCameraController

	// Pose returns the controller's current pose with a +Y up vector.
	//
	// Returns:
	//   - common.Pose: the pose
	Pose() common.Pose

	// SetTarget sets the pivot point and recomputes position from spherical coordinates.
	//
	// Parameters:
	//   - x, y, z: world-space coordinates
	SetTarget(x, y, z float32)

	// Zoom adjusts the distance to the pivot. Positive delta moves closer.
	//
	// Parameters:
	//   - delta: zoom amount scaled by ZoomSpeed
	Zoom(delta float32)
}

// orbitCameraController moves the camera on a sphere around the pivot.
type orbitCameraController interface {
	// Orbit rotates around the pivot by the given angles, clamping elevation to its bounds.
	//
	// Parameters:
	//   - dAzimuth: horizontal rotation in radians
	//   - dElevation: vertical rotation in radians
	Orbit(dAzimuth, dElevation float32)

	// OrbitLeft rotates left by one orbit speed step.
	OrbitLeft()

	// OrbitRight rotates right by one orbit speed step.
	OrbitRight()

	// Radius returns the distance from the pivot.
	Radius() float32

	// SetRadius sets the distance from the pivot, clamped to the radius bounds.
	SetRadius(radius float32)

	// Azimuth returns the horizontal angle around the Y axis in radians.
	Azimuth() float32

	// Elevation returns the vertical angle from the horizontal plane in radians.
	Elevation() float32

	// OrbitSpeed returns the orbit step in radians.
	OrbitSpeed() float32
}

// planarCameraController translates position and pivot together along the local axes.
type planarCameraController interface {
	// PanRight translates along the local right axis.
	PanRight(delta float32)

	// PanUp translates along the local up axis.
	PanUp(delta float32)

	// PanForward translates along the viewing direction.
	PanForward(delta float32)

	// PanSpeed returns the pan speed multiplier.
	PanSpeed() float32
}
