// Package engine drives render passes headlessly: each frame it runs the host's frame callback,
// executes every registered pass in ascending key order on one device and reports stage timings
// through the profiler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/pass"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
)

// ErrNoDevice is returned by NewEngine when no device was given.
var ErrNoDevice = errors.New("engine: no device")

// Node is a pass registered with the engine and the textures bound to it.
type Node struct {
	Pass pass.Pass
	Data pass.RenderData
}

// engine implements the Engine interface.
type engine struct {
	mu *sync.Mutex

	tickRateChannel chan time.Duration // dynamic tick rate updates while running

	running bool

	quitChannel chan struct{}
	quitOnce    sync.Once // ensures quitChannel is only closed once

	dev      device.Device
	ownsDev  bool
	scene    scene.Scene
	profiler profiler.Profiler

	engineTickRate time.Duration
	frameCallback  func(ctx context.Context, frame int, deltaTime float32) error
	maxFrames      int

	nodes map[int]Node
	frame int
}

// Engine is the main entry point of a host. It owns the frame loop and the pass graph.
type Engine interface {
	// Device returns the device the passes run on.
	//
	// Returns:
	//   - device.Device: the device
	Device() device.Device

	// Profiler returns the profiler timing every pass.
	//
	// Returns:
	//   - profiler.Profiler: the profiler
	Profiler() profiler.Profiler

	// EnableProfiler turns stage timing and the periodic report on.
	EnableProfiler()

	// DisableProfiler turns stage timing and the periodic report off.
	DisableProfiler()

	// SetTickRate sets the frame rate of Run in frames per second.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetFrameCallback registers the function called at the start of every frame, before any pass
	// executes. Hosts use it to move the camera and to rasterize pass inputs.
	//
	// Parameters:
	//   - callback: the function, receiving the frame index and the delta time in seconds
	SetFrameCallback(callback func(ctx context.Context, frame int, deltaTime float32) error)

	// SetScene binds sc to every registered pass and to passes added later.
	//
	// Parameters:
	//   - sc: the scene, or nil to unbind
	SetScene(sc scene.Scene)

	// AddPass registers a pass at the given key. Passes execute in ascending key order.
	// A pass already at key is released and replaced.
	//
	// Parameters:
	//   - key: the execution order key
	//   - p: the pass
	//   - data: the textures bound to the pass's fields
	AddPass(key int, p pass.Pass, data pass.RenderData)

	// RemovePass releases and removes the pass at key.
	//
	// Parameters:
	//   - key: the key of the pass to remove
	RemovePass(key int)

	// Pass returns the node registered at key, and whether one exists.
	//
	// Parameters:
	//   - key: the key of the pass
	//
	// Returns:
	//   - Node: the registered pass and its bindings
	//   - bool: true if a pass is registered at key
	Pass(key int) (Node, bool)

	// Passes returns a copy of every registered node keyed by execution order.
	//
	// Returns:
	//   - map[int]Node: a copy of the pass graph
	Passes() map[int]Node

	// Frame returns the number of frames executed so far.
	Frame() int

	// Step executes one frame synchronously.
	//
	// Parameters:
	//   - ctx: the context for the frame
	//
	// Returns:
	//   - error: the first error of the frame callback or of a pass
	Step(ctx context.Context) error

	// Run executes frames at the tick rate until ctx is done, Quit is called, the frame limit is
	// reached or a frame fails.
	//
	// Parameters:
	//   - ctx: the context for the run
	//
	// Returns:
	//   - error: the failing frame's error, or nil on a clean stop
	Run(ctx context.Context) error

	// Quit stops Run after the current frame. Safe to call multiple times.
	Quit()

	// Close releases every pass and, with WithOwnedDevice, the device.
	Close()
}

var _ Engine = &engine{}

// NewEngine creates a new Engine on the given device.
//
// Parameters:
//   - dev: the device every pass dispatches on
//   - options: functional options for engine configuration (profiling, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
//   - error: ErrNoDevice if dev is nil
func NewEngine(dev device.Device, options ...EngineBuilderOption) (Engine, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	e := &engine{
		mu:              &sync.Mutex{},
		tickRateChannel: make(chan time.Duration, 1),
		quitChannel:     make(chan struct{}),
		dev:             dev,
		profiler:        profiler.NewProfiler(profiler.WithDisabled()),
		engineTickRate:  time.Second / 60,
		nodes:           make(map[int]Node),
	}
	for _, opt := range options {
		opt(e)
	}
	common.Logger().Info("engine ready", "component", "engine", "device", dev.Name(), "passes", len(e.nodes), "tickRate", e.engineTickRate)
	return e, nil
}

func (e *engine) Device() device.Device {
	return e.dev
}

func (e *engine) Profiler() profiler.Profiler {
	return e.profiler
}

func (e *engine) EnableProfiler() {
	e.profiler.Enable()
}

func (e *engine) DisableProfiler() {
	e.profiler.Disable()
}

// SetTickRate sets the frame rate of Run.
// If the engine is running, the change takes effect on the next tick.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	e.mu.Lock()
	running := e.running
	if !running {
		e.engineTickRate = newRate
	}
	e.mu.Unlock()
	if !running {
		return
	}

	// Non-blocking send; a pending update is replaced.
	select {
	case e.tickRateChannel <- newRate:
	default:
		select {
		case <-e.tickRateChannel:
		default:
		}
		e.tickRateChannel <- newRate
	}
}

func (e *engine) SetFrameCallback(callback func(ctx context.Context, frame int, deltaTime float32) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frameCallback = callback
}

func (e *engine) SetScene(sc scene.Scene) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scene = sc
	for _, n := range e.nodes {
		n.Pass.SetScene(sc)
	}
}

func (e *engine) AddPass(key int, p pass.Pass, data pass.RenderData) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.nodes[key]; ok && old.Pass != p {
		old.Pass.Release()
	}
	if e.scene != nil {
		p.SetScene(e.scene)
	}
	e.nodes[key] = Node{Pass: p, Data: data}
}

func (e *engine) RemovePass(key int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[key]; ok {
		n.Pass.Release()
		delete(e.nodes, key)
	}
}

func (e *engine) Pass(key int) (Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[key]
	return n, ok
}

func (e *engine) Passes() map[int]Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.nodes)
}

func (e *engine) Frame() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

func (e *engine) Step(ctx context.Context) error {
	return e.step(ctx, 0)
}

// step runs the frame callback and every pass in ascending key order, then ticks the profiler.
func (e *engine) step(ctx context.Context, dt float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frameCallback != nil {
		if err := e.profiler.Scope("frame callback", func() error {
			return e.frameCallback(ctx, e.frame, dt)
		}); err != nil {
			return fmt.Errorf("engine: frame %d: callback: %w", e.frame, err)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(e.nodes)) {
		n := e.nodes[key]
		if err := e.profiler.Scope(n.Pass.Name(), func() error {
			return n.Pass.Execute(ctx, n.Data)
		}); err != nil {
			return fmt.Errorf("engine: frame %d: %s: %w", e.frame, n.Pass.Name(), err)
		}
	}
	e.frame++
	e.profiler.Tick()
	return nil
}

func (e *engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine: already running")
	}
	e.running = true
	rate := e.engineTickRate
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(rate)
	defer ticker.Stop()
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quitChannel:
			return nil
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.mu.Lock()
			e.engineTickRate = newRate
			e.mu.Unlock()
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if err := e.step(ctx, dt); err != nil {
				e.signalQuit()
				return err
			}
			if e.maxFrames > 0 && e.Frame() >= e.maxFrames {
				e.signalQuit()
				return nil
			}
		}
	}
}

// Quit signals Run to stop.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel.
func (e *engine) signalQuit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Close() {
	e.signalQuit()
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, n := range e.nodes {
		n.Pass.Release()
		delete(e.nodes, key)
	}
	if e.ownsDev {
		e.dev.Close()
	}
}
