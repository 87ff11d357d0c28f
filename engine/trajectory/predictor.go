// Package trajectory moves the camera between frames: linear extrapolation of the pose from the last
// key frame, and scripted playback along waypoints or a probe grid.
package trajectory

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Extrapolate predicts the next pose assuming constant velocity: cur + (cur - prev), applied to
// position, target and up independently.
//
// Parameters:
//   - prev: the pose at the previous key frame
//   - cur: the current pose
//
// Returns:
//   - common.Pose: the predicted pose
func Extrapolate(prev, cur common.Pose) common.Pose {
	return common.Pose{
		Position: cur.Position.Mul(2).Sub(prev.Position),
		Target:   cur.Target.Mul(2).Sub(prev.Target),
		Up:       cur.Up.Mul(2).Sub(prev.Up),
	}
}

// Lerp interpolates position, target and up between two poses.
func Lerp(a, b common.Pose, t float32) common.Pose {
	return common.Pose{
		Position: common.Lerp3(a.Position, b.Position, t),
		Target:   common.Lerp3(a.Target, b.Target, t),
		Up:       common.Lerp3(a.Up, b.Up, t),
	}
}

type predictorImpl struct {
	mu *sync.Mutex

	previous    common.Pose
	hasPrevious bool
	maxStep     float32
}

// Predictor remembers the pose of the last key frame and extrapolates from it.
type Predictor interface {
	// Capture records pose as the new previous key pose.
	//
	// Parameters:
	//   - pose: the pose to remember
	Capture(pose common.Pose)

	// Previous returns the recorded key pose.
	//
	// Returns:
	//   - common.Pose: the recorded pose
	//   - bool: false if nothing has been captured since the last Reset
	Previous() (common.Pose, bool)

	// Predict extrapolates one step past current. Without a recorded pose it returns current.
	//
	// Parameters:
	//   - current: the current pose
	//
	// Returns:
	//   - common.Pose: the predicted pose
	Predict(current common.Pose) common.Pose

	// Speed returns current.Position minus the recorded position, or zero without one.
	Speed(current common.Pose) mgl32.Vec3

	// Reset forgets the recorded pose.
	Reset()
}

var _ Predictor = &predictorImpl{}

// NewPredictor creates a Predictor with no recorded pose.
//
// Parameters:
//   - options: variadic list of PredictorBuilderOption functions
//
// Returns:
//   - Predictor: the new predictor
func NewPredictor(options ...PredictorBuilderOption) Predictor {
	p := &predictorImpl{mu: &sync.Mutex{}}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *predictorImpl) Capture(pose common.Pose) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previous = pose
	p.hasPrevious = true
}

func (p *predictorImpl) Previous() (common.Pose, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.previous, p.hasPrevious
}

func (p *predictorImpl) Predict(current common.Pose) common.Pose {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasPrevious {
		return current
	}
	if p.maxStep <= 0 {
		return Extrapolate(p.previous, current)
	}
	return common.Pose{
		Position: current.Position.Add(clampLen(current.Position.Sub(p.previous.Position), p.maxStep)),
		Target:   current.Target.Add(clampLen(current.Target.Sub(p.previous.Target), p.maxStep)),
		Up:       current.Up.Add(current.Up.Sub(p.previous.Up)),
	}
}

func (p *predictorImpl) Speed(current common.Pose) mgl32.Vec3 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasPrevious {
		return mgl32.Vec3{}
	}
	return current.Position.Sub(p.previous.Position)
}

func (p *predictorImpl) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.previous = common.Pose{}
	p.hasPrevious = false
}

func clampLen(v mgl32.Vec3, limit float32) mgl32.Vec3 {
	if l := v.Len(); l > limit {
		return v.Mul(limit / l)
	}
	return v
}
