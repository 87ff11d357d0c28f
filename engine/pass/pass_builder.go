package pass

import (
	"github.com/Carmen-Shannon/oxy-warp/engine/dump"
	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/trajectory"
)

// TwoLayerBuilderOption is a functional option applied to a TwoLayeredGbuffers pass during construction.
type TwoLayerBuilderOption func(*twoLayeredGbuffers)

// WithTwoLayerSettings replaces the default settings.
//
// Parameters:
//   - s: the settings, clamped into their widget ranges
//
// Returns:
//   - TwoLayerBuilderOption: a function that applies the settings option to a pass
func WithTwoLayerSettings(s TwoLayerSettings) TwoLayerBuilderOption {
	return func(p *twoLayeredGbuffers) {
		p.settings = s.Clamped()
	}
}

// WithTwoLayerProfiler times the pass stages with prof.
//
// Parameters:
//   - prof: the profiler
//
// Returns:
//   - TwoLayerBuilderOption: a function that applies the profiler option to a pass
func WithTwoLayerProfiler(prof profiler.Profiler) TwoLayerBuilderOption {
	return func(p *twoLayeredGbuffers) {
		if prof != nil {
			p.prof = prof
		}
	}
}

// WithTwoLayerDumper writes the outputs through d when dumping is enabled.
func WithTwoLayerDumper(d dump.Dumper) TwoLayerBuilderOption {
	return func(p *twoLayeredGbuffers) {
		p.dumper = d
	}
}

// WithSamplerOptions configures the disocclusion sampler, e.g. a seeded random source.
//
// Parameters:
//   - options: the sampler options
//
// Returns:
//   - TwoLayerBuilderOption: a function that applies the sampler options to a pass
func WithSamplerOptions(options ...gbuffer.SamplerBuilderOption) TwoLayerBuilderOption {
	return func(p *twoLayeredGbuffers) {
		p.samplerOptions = append(p.samplerOptions, options...)
	}
}

// WithPlayback drives the scene camera from pb instead of the settings' trajectory file.
//
// Parameters:
//   - pb: the playback, started by the caller
//
// Returns:
//   - TwoLayerBuilderOption: a function that applies the playback option to a pass
func WithPlayback(pb trajectory.Playback) TwoLayerBuilderOption {
	return func(p *twoLayeredGbuffers) {
		p.fixedPlayback = pb
	}
}

// ForwardExtrapolationBuilderOption is a functional option applied to a ForwardExtrapolation pass
// during construction.
type ForwardExtrapolationBuilderOption func(*forwardExtrapolation)

// WithForwardExtrapolationSettings replaces the default settings.
//
// Parameters:
//   - s: the settings, clamped into their widget ranges
//
// Returns:
//   - ForwardExtrapolationBuilderOption: a function that applies the settings option to a pass
func WithForwardExtrapolationSettings(s ForwardExtrapolationSettings) ForwardExtrapolationBuilderOption {
	return func(p *forwardExtrapolation) {
		p.settings = s.Clamped()
	}
}

// WithForwardExtrapolationProfiler times the pass stages with prof.
func WithForwardExtrapolationProfiler(prof profiler.Profiler) ForwardExtrapolationBuilderOption {
	return func(p *forwardExtrapolation) {
		if prof != nil {
			p.prof = prof
		}
	}
}

// WithForwardExtrapolationDumper writes the outputs through d when dumping is enabled.
func WithForwardExtrapolationDumper(d dump.Dumper) ForwardExtrapolationBuilderOption {
	return func(p *forwardExtrapolation) {
		p.dumper = d
	}
}
