// Package cadence holds the frame state machines that decide, per invocation, whether a pass does its
// expensive work (regeneration, ground truth capture) or its cheap work (reprojection, extrapolation).
package cadence

import (
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
)

// State is a refresh cadence state.
type State int

const (
	// Idle is the state before the first frame after a reset.
	Idle State = iota
	// Regenerate rebuilds the layered representation from scratch.
	Regenerate
	// Reproject warps the last representation into the current view.
	Reproject
)

func (s State) String() string {
	switch s {
	case Regenerate:
		return "regenerate"
	case Reproject:
		return "reproject"
	default:
		return "idle"
	}
}

type refreshMachine struct {
	mu *sync.Mutex

	state    State
	counter  int
	interval int
}

// RefreshMachine regenerates on frames 0, R, 2R, ... and reprojects on every other frame.
type RefreshMachine interface {
	// Next advances one frame and returns the state for it.
	//
	// Returns:
	//   - State: Regenerate when counter % interval == 0, else Reproject
	Next() State

	// State returns the state of the last frame, Idle after a reset.
	State() State

	// Counter returns the number of frames since the last reset.
	Counter() int

	// Interval returns the refresh interval.
	Interval() int

	// SetInterval changes the refresh interval. Values below 1 are treated as 1.
	//
	// Parameters:
	//   - n: frames between regenerations
	SetInterval(n int)

	// Reset returns to Idle with the counter at 0, so the next frame regenerates.
	Reset()
}

var _ RefreshMachine = &refreshMachine{}

// NewRefreshMachine creates an idle RefreshMachine.
//
// Parameters:
//   - interval: frames between regenerations, clamped to at least 1
//
// Returns:
//   - RefreshMachine: the new machine
func NewRefreshMachine(interval int) RefreshMachine {
	return &refreshMachine{
		mu:       &sync.Mutex{},
		interval: max(interval, 1),
	}
}

func (m *refreshMachine) Next() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counter%m.interval == 0 {
		m.state = Regenerate
	} else {
		m.state = Reproject
	}
	common.Logger().Debug("cadence", "component", "cadence", "counter", m.counter, "state", m.state)
	m.counter++
	return m.state
}

func (m *refreshMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *refreshMachine) Counter() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counter
}

func (m *refreshMachine) Interval() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *refreshMachine) SetInterval(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = max(n, 1)
}

func (m *refreshMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter = 0
	m.state = Idle
}
