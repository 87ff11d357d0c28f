package gbuffer

import "math/rand/v2"

// SamplerBuilderOption is a functional option applied to a disocclusion sampler during construction.
type SamplerBuilderOption func(*disocclusionSampler)

// WithRand sets the random source of the random auxiliary views.
//
// Parameters:
//   - r: the random source
//
// Returns:
//   - SamplerBuilderOption: a function that applies the random source option to a sampler
func WithRand(r *rand.Rand) SamplerBuilderOption {
	return func(s *disocclusionSampler) {
		s.rng = r
	}
}
