package camera

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

// FilmHeight is the sensor height in millimeters used to convert focal length to field of view.
const FilmHeight float32 = 24.0

type cameraImpl struct {
	mu *sync.Mutex

	pose common.Pose

	fov    float32
	aspect float32
	near   float32
	far    float32

	jitterX float32
	jitterY float32

	viewMatrix            mgl32.Mat4
	projectionMatrix      mgl32.Mat4
	viewProjection        mgl32.Mat4
	viewProjectionNoJit   mgl32.Mat4
	inverseViewProjection mgl32.Mat4

	controller CameraController
}

// Camera holds a pose and perspective settings and derives the view/projection matrices the
// warp passes project with. A pass mutates it only when it scripts or extrapolates the view.
type Camera interface {
	// Pose returns the camera's position, target and up vector.
	//
	// Returns:
	//   - common.Pose: the current pose
	Pose() common.Pose

	// SetPose places the camera and recomputes matrices.
	//
	// Parameters:
	//   - p: the new pose
	SetPose(p common.Pose)

	// Fov returns the vertical field of view in radians.
	Fov() float32

	// Aspect returns the aspect ratio (width / height).
	Aspect() float32

	// Near returns the near clipping plane distance.
	Near() float32

	// Far returns the far clipping plane distance.
	Far() float32

	// Jitter returns the sub-pixel offset as a fraction of the frame size.
	//
	// Returns:
	//   - x, y: offsets, positive x shifts the image right and positive y shifts it down
	Jitter() (x, y float32)

	// FocalLength returns the focal length in millimeters for a FilmHeight sensor.
	FocalLength() float32

	// ViewMatrix returns the world-to-camera matrix.
	ViewMatrix() mgl32.Mat4

	// ProjectionMatrix returns the jittered projection matrix.
	ProjectionMatrix() mgl32.Mat4

	// ViewProjection returns the jittered projection * view matrix.
	//
	// Returns:
	//   - mgl32.Mat4: the combined matrix
	ViewProjection() mgl32.Mat4

	// ViewProjectionNoJitter returns projection * view with the jitter removed. Warp targets use this.
	//
	// Returns:
	//   - mgl32.Mat4: the combined matrix
	ViewProjectionNoJitter() mgl32.Mat4

	// InverseViewProjection returns the inverse of ViewProjection, used to cast per-pixel rays.
	//
	// Returns:
	//   - mgl32.Mat4: the inverse matrix
	InverseViewProjection() mgl32.Mat4

	// Controller returns the attached CameraController, or nil.
	Controller() CameraController

	// Update reads the pose from the controller and recomputes matrices.
	// If no controller is attached, this method does nothing.
	Update()

	// SetUp sets the up vector.
	SetUp(up mgl32.Vec3)

	// SetFov sets the vertical field of view in radians.
	SetFov(fov float32)

	// SetAspect sets the aspect ratio (width / height).
	SetAspect(aspect float32)

	// SetNear sets the near clipping plane distance.
	SetNear(near float32)

	// SetFar sets the far clipping plane distance.
	SetFar(far float32)

	// SetJitter sets the sub-pixel offset as a fraction of the frame size.
	//
	// Parameters:
	//   - x, y: offsets, typically pixelOffset / frameWidth and pixelOffset / frameHeight
	SetJitter(x, y float32)

	// SetFocalLength sets the field of view from a focal length in millimeters.
	// A non-positive focal length is ignored.
	//
	// Parameters:
	//   - mm: focal length
	SetFocalLength(mm float32)

	// SetController attaches a CameraController to the camera.
	SetController(ctrl CameraController)

	// Clone returns an independent copy of the camera without its controller.
	// Auxiliary views are rendered through clones so the scene camera is left untouched.
	//
	// Returns:
	//   - Camera: the copy
	Clone() Camera
}

var _ Camera = &cameraImpl{}

// NewCamera creates a Camera at the origin looking down -Z with a 45 degree field of view.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu: &sync.Mutex{},
		pose: common.Pose{
			Target: mgl32.Vec3{0, 0, -1},
			Up:     mgl32.Vec3{0, 1, 0},
		},
		fov:    45.0 * (math.Pi / 180.0),
		aspect: 1.0,
		near:   0.1,
		far:    1000.0,
	}
	for _, option := range options {
		option(c)
	}
	if c.controller != nil {
		c.pose = c.controller.Pose()
	}
	c.updateMatrices()
	return c
}

func (c *cameraImpl) Pose() common.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

func (c *cameraImpl) SetPose(p common.Pose) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose = p
	c.updateMatrices()
}

func (c *cameraImpl) Fov() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}

func (c *cameraImpl) Aspect() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aspect
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) Far() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

func (c *cameraImpl) Jitter() (x, y float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jitterX, c.jitterY
}

func (c *cameraImpl) FocalLength() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FovToFocalLength(c.fov)
}

func (c *cameraImpl) ViewMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewMatrix
}

func (c *cameraImpl) ProjectionMatrix() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectionMatrix
}

func (c *cameraImpl) ViewProjection() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjection
}

func (c *cameraImpl) ViewProjectionNoJitter() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewProjectionNoJit
}

func (c *cameraImpl) InverseViewProjection() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inverseViewProjection
}

func (c *cameraImpl) Controller() CameraController {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

func (c *cameraImpl) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.controller == nil {
		return
	}
	c.pose = c.controller.Pose()
	c.updateMatrices()
}

func (c *cameraImpl) SetUp(up mgl32.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose.Up = up
	c.updateMatrices()
}

func (c *cameraImpl) SetFov(fov float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = fov
	c.updateMatrices()
}

func (c *cameraImpl) SetAspect(aspect float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aspect = aspect
	c.updateMatrices()
}

func (c *cameraImpl) SetNear(near float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near = near
	c.updateMatrices()
}

func (c *cameraImpl) SetFar(far float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.far = far
	c.updateMatrices()
}

func (c *cameraImpl) SetJitter(x, y float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jitterX, c.jitterY = x, y
	c.updateMatrices()
}

func (c *cameraImpl) SetFocalLength(mm float32) {
	if mm <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = FocalLengthToFov(mm)
	c.updateMatrices()
}

func (c *cameraImpl) SetController(ctrl CameraController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = ctrl
}

func (c *cameraImpl) Clone() Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *c
	cp.mu = &sync.Mutex{}
	cp.controller = nil
	return &cp
}

// updateMatrices recalculates every derived matrix from the pose and perspective settings.
// Caller must hold the mutex.
func (c *cameraImpl) updateMatrices() {
	c.viewMatrix = common.ViewMatrix(c.pose)
	proj := common.Perspective(c.fov, c.aspect, c.near, c.far)
	c.viewProjectionNoJit = proj.Mul4(c.viewMatrix)

	c.projectionMatrix = common.Jitter(proj, 2*c.jitterX, -2*c.jitterY)
	c.viewProjection = c.projectionMatrix.Mul4(c.viewMatrix)
	c.inverseViewProjection = c.viewProjection.Inv()
}

// FocalLengthToFov converts a focal length in millimeters to a vertical field of view in radians.
//
// Parameters:
//   - mm: focal length
//
// Returns:
//   - float32: field of view in radians
func FocalLengthToFov(mm float32) float32 {
	return 2 * float32(math.Atan(float64(FilmHeight/(2*mm))))
}

// FovToFocalLength converts a vertical field of view in radians to a focal length in millimeters.
func FovToFocalLength(fov float32) float32 {
	return FilmHeight / (2 * float32(math.Tan(float64(fov)/2)))
}
