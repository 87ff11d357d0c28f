package profiler

import "time"

// ProfilerBuilderOption is a functional option applied to a profiler during construction via NewProfiler.
type ProfilerBuilderOption func(*profiler)

// WithUpdateInterval sets how often Tick logs a report.
//
// Parameters:
//   - interval: the report interval, ignored if not positive
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the interval option to a profiler
func WithUpdateInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *profiler) {
		if interval > 0 {
			p.updateInterval = interval
		}
	}
}

// WithClock replaces the time source.
//
// Parameters:
//   - now: returns the current time
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the clock option to a profiler
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *profiler) {
		if now != nil {
			p.now = now
		}
	}
}

// WithDisabled creates the profiler with scope recording off.
//
// Returns:
//   - ProfilerBuilderOption: a function that disables the profiler
func WithDisabled() ProfilerBuilderOption {
	return func(p *profiler) {
		p.enabled = false
	}
}
