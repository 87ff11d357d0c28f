package camera

import (
	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

type CameraBuilderOption func(*cameraImpl)

// WithPose sets the camera's initial pose.
//
// Parameters:
//   - p: position, target and up vector
//
// Returns:
//   - CameraBuilderOption: a function that sets the pose
func WithPose(p common.Pose) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.pose = p
	}
}

// WithUp sets the camera's up vector.
func WithUp(up mgl32.Vec3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.pose.Up = up
	}
}

// WithFov sets the camera's vertical field of view in radians.
//
// Parameters:
//   - fov: field of view in radians
//
// Returns:
//   - CameraBuilderOption: a function that sets the camera's field of view
func WithFov(fov float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.fov = fov
	}
}

// WithAspect sets the camera's aspect ratio (width / height).
func WithAspect(aspect float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.aspect = aspect
	}
}

// WithNear sets the near clipping plane distance.
func WithNear(near float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.near = near
	}
}

// WithFar sets the far clipping plane distance.
func WithFar(far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.far = far
	}
}

// WithJitter sets the initial sub-pixel offset as a fraction of the frame size.
//
// Parameters:
//   - x, y: jitter offsets
//
// Returns:
//   - CameraBuilderOption: functional option to set the jitter
func WithJitter(x, y float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.jitterX, c.jitterY = x, y
	}
}

// WithFocalLength sets the field of view from a focal length in millimeters.
func WithFocalLength(mm float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		if mm > 0 {
			c.fov = FocalLengthToFov(mm)
		}
	}
}

// WithController attaches a controller to the camera.
// After all options are applied, the camera takes its pose from the controller.
//
// Parameters:
//   - ctrl: the controller to attach
//
// Returns:
//   - CameraBuilderOption: functional option to set the controller
func WithController(ctrl CameraController) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.controller = ctrl
	}
}
