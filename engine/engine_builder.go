package engine

import (
	"context"
	"time"

	"github.com/Carmen-Shannon/oxy-warp/engine/pass"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithProfiling enables or disables stage timing and the periodic report.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		if enabled {
			e.profiler.Enable()
		} else {
			e.profiler.Disable()
		}
	}
}

// WithProfiler replaces the engine's profiler, e.g. one shared with the passes.
// The profiler keeps its own enabled state.
//
// Parameters:
//   - p: the profiler
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiler(p profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		if p != nil {
			e.profiler = p
		}
	}
}

// WithTickRate sets the frame rate of Run in frames per second.
// Values <= 0 will be treated as the default (60Hz).
//
// Parameters:
//   - fps: target frames per second (default 60)
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickRate(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			fps = 60.0
		}
		e.engineTickRate = time.Duration(float64(time.Second) / fps)
	}
}

// WithMaxFrames stops Run after n frames. Zero runs until Quit or cancellation.
//
// Parameters:
//   - n: the frame limit
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithMaxFrames(n int) EngineBuilderOption {
	return func(e *engine) {
		e.maxFrames = max(n, 0)
	}
}

// WithFrameCallback registers the function called at the start of every frame.
func WithFrameCallback(callback func(ctx context.Context, frame int, deltaTime float32) error) EngineBuilderOption {
	return func(e *engine) {
		e.frameCallback = callback
	}
}

// WithScene binds a scene to every pass, including passes added later.
//
// Parameters:
//   - s: the Scene to bind
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.scene = s
		for _, n := range e.nodes {
			n.Pass.SetScene(s)
		}
	}
}

// WithPass registers a pass at the given key during engine construction.
// Passes execute in ascending key order.
//
// Parameters:
//   - key: the execution order key
//   - p: the pass
//   - data: the textures bound to the pass's fields
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithPass(key int, p pass.Pass, data pass.RenderData) EngineBuilderOption {
	return func(e *engine) {
		if e.scene != nil {
			p.SetScene(e.scene)
		}
		e.nodes[key] = Node{Pass: p, Data: data}
	}
}

// WithOwnedDevice makes Close also close the engine's device.
func WithOwnedDevice() EngineBuilderOption {
	return func(e *engine) {
		e.ownsDev = true
	}
}
