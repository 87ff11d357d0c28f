package trajectory

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
)

type playbackImpl struct {
	mu *sync.Mutex

	waypoints []common.Pose
	index     float32
	step      float32
	playing   bool
}

// Playback walks a camera along waypoints, interpolating between neighbors by the fractional
// part of an index that advances a fixed step per tick.
type Playback interface {
	// Start rewinds to the first waypoint and begins playback.
	Start()

	// Stop ends playback and rewinds.
	Stop()

	// Playing reports whether Tick will produce poses.
	Playing() bool

	// Tick returns the pose at the current index and advances it. Once the index passes the
	// last segment playback stops, the state rewinds and ok is false.
	//
	// Returns:
	//   - common.Pose: the interpolated pose
	//   - bool: false when idle or when playback just finished
	Tick() (common.Pose, bool)

	// At returns the pose at a fractional index without changing state.
	//
	// Parameters:
	//   - index: fractional waypoint index
	//
	// Returns:
	//   - common.Pose: the interpolated pose
	//   - bool: false if index is outside the last full segment
	At(index float32) (common.Pose, bool)

	// Index returns the current fractional index.
	Index() float32

	// Len returns the number of waypoints.
	Len() int
}

var _ Playback = &playbackImpl{}

// NewPlayback creates an idle playback over waypoints.
//
// Parameters:
//   - waypoints: the poses to walk, copied
//   - options: variadic list of PlaybackBuilderOption functions
//
// Returns:
//   - Playback: the new playback
func NewPlayback(waypoints []common.Pose, options ...PlaybackBuilderOption) Playback {
	p := &playbackImpl{
		mu:        &sync.Mutex{},
		waypoints: append([]common.Pose(nil), waypoints...),
		step:      1,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// NewPlaybackFromFile loads waypoints from path. When that yields nothing it visits the probes of
// probePath, and without those the probe grid of bounds.
//
// Parameters:
//   - path: waypoint file, may be empty
//   - probePath: probe position file, may be empty
//   - bounds: scene bounds for the probe grid fallback
//   - probeCount: probes per axis for the grid fallback
//   - options: variadic list of PlaybackBuilderOption functions
//
// Returns:
//   - Playback: the new playback
func NewPlaybackFromFile(path, probePath string, bounds common.BoundingBox, probeCount int, options ...PlaybackBuilderOption) Playback {
	waypoints := LoadWaypoints(path)
	if len(waypoints) == 0 {
		if probes := LoadProbePositions(probePath); len(probes) > 0 {
			waypoints = ProbeWaypoints(probes)
			common.Logger().Info("using probe file", "component", "trajectory", "path", probePath, "probes", len(probes))
		}
	}
	if len(waypoints) == 0 {
		waypoints = ProbeWaypoints(GridProbes(bounds, probeCount))
		common.Logger().Info("using probe grid", "component", "trajectory", "probes", probeCount, "waypoints", len(waypoints))
	}
	return NewPlayback(waypoints, options...)
}

func (p *playbackImpl) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
	p.playing = true
}

func (p *playbackImpl) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
	p.playing = false
}

func (p *playbackImpl) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *playbackImpl) Tick() (common.Pose, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return common.Pose{}, false
	}
	pose, ok := p.at(p.index)
	if !ok {
		p.index = 0
		p.playing = false
		common.Logger().Debug("playback finished", "component", "trajectory", "waypoints", len(p.waypoints))
		return common.Pose{}, false
	}
	p.index += p.step
	return pose, true
}

func (p *playbackImpl) At(index float32) (common.Pose, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.at(index)
}

func (p *playbackImpl) Index() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

func (p *playbackImpl) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waypoints)
}

// at interpolates between floor(index) and the waypoint after it. Caller must hold the mutex.
func (p *playbackImpl) at(index float32) (common.Pose, bool) {
	if index < 0 {
		return common.Pose{}, false
	}
	prev := int(math.Floor(float64(index)))
	next := prev + 1
	if next > len(p.waypoints)-1 {
		return common.Pose{}, false
	}
	return Lerp(p.waypoints[prev], p.waypoints[next], index-float32(prev)), true
}
