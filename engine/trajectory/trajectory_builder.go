package trajectory

// PredictorBuilderOption configures a Predictor.
type PredictorBuilderOption func(*predictorImpl)

// WithMaxExtrapolation bounds how far Predict moves position and target past the current pose.
// Zero, the default, leaves extrapolation unbounded.
//
// Parameters:
//   - distance: the maximum world-space step
//
// Returns:
//   - PredictorBuilderOption: a function that sets the bound
func WithMaxExtrapolation(distance float32) PredictorBuilderOption {
	return func(p *predictorImpl) {
		p.maxStep = max(distance, 0)
	}
}

// PlaybackBuilderOption configures a Playback.
type PlaybackBuilderOption func(*playbackImpl)

// WithSamplesPerPosition sets how many ticks it takes to move from one waypoint to the next.
// The index advances by 1/samples per tick.
//
// Parameters:
//   - samples: ticks per waypoint segment, at least 1
//
// Returns:
//   - PlaybackBuilderOption: a function that sets the step
func WithSamplesPerPosition(samples int) PlaybackBuilderOption {
	return func(p *playbackImpl) {
		p.step = 1 / float32(max(samples, 1))
	}
}

// WithStep sets the fractional index advance per tick directly.
func WithStep(step float32) PlaybackBuilderOption {
	return func(p *playbackImpl) {
		if step > 0 {
			p.step = step
		}
	}
}

// WithAutoStart starts playback on construction.
func WithAutoStart() PlaybackBuilderOption {
	return func(p *playbackImpl) {
		p.playing = true
	}
}
