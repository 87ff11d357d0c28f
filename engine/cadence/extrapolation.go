package cadence

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
)

// Phase is an extrapolation cadence state.
type Phase int

const (
	// Init is the first frame after a reset. It only records the camera.
	Init Phase = iota
	// GroundTruth frames pass the rendered image through and capture it for later frames.
	GroundTruth
	// Extrapolate frames are synthesized from the last ground truth frame.
	Extrapolate
)

func (p Phase) String() string {
	switch p {
	case GroundTruth:
		return "ground_truth"
	case Extrapolate:
		return "extrapolate"
	default:
		return "init"
	}
}

type extrapolationMachine struct {
	mu *sync.Mutex

	counter int
	count   int
	phase   Phase
}

// ExtrapolationMachine runs Init once, then alternates one GroundTruth frame with count
// Extrapolate frames.
type ExtrapolationMachine interface {
	// Next advances one frame and returns its phase.
	//
	// Returns:
	//   - Phase: Init while the counter is -1, then GroundTruth when counter % (count+1) == 0,
	//     else Extrapolate
	Next() Phase

	// Phase returns the phase of the last frame.
	Phase() Phase

	// Counter returns the frame counter. It is -1 before the Init frame.
	Counter() int

	// ExtrapolationCount returns how many frames are extrapolated per ground truth frame.
	ExtrapolationCount() int

	// SetExtrapolationCount changes the number of extrapolated frames. Values below 0 are treated as 0.
	SetExtrapolationCount(n int)

	// Reset returns the counter to -1.
	Reset()
}

var _ ExtrapolationMachine = &extrapolationMachine{}

// NewExtrapolationMachine creates an ExtrapolationMachine whose next frame is Init.
//
// Parameters:
//   - count: extrapolated frames per ground truth frame
//
// Returns:
//   - ExtrapolationMachine: the new machine
func NewExtrapolationMachine(count int) ExtrapolationMachine {
	return &extrapolationMachine{
		mu:      &sync.Mutex{},
		counter: -1,
		count:   max(count, 0),
	}
}

func (m *extrapolationMachine) Next() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.counter < 0:
		m.phase = Init
	case m.counter%(m.count+1) == 0:
		m.phase = GroundTruth
	default:
		m.phase = Extrapolate
	}
	common.Logger().Debug("cadence", "component", "cadence", "counter", m.counter, "phase", m.phase)
	m.counter++
	return m.phase
}

func (m *extrapolationMachine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *extrapolationMachine) Counter() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

func (m *extrapolationMachine) ExtrapolationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *extrapolationMachine) SetExtrapolationCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count = max(n, 0)
}

func (m *extrapolationMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = -1
	m.phase = Init
}
