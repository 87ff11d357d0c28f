// Package profiler times the named stages of a frame and periodically logs frame rate, stage
// averages and memory statistics.
package profiler

import (
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-warp/common"
)

type stage struct {
	open  time.Time
	total time.Duration
	count int
}

type profiler struct {
	mu *sync.Mutex

	now            func() time.Time
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	stages         map[string]*stage
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	enabled        bool
}

// Stat is the accumulated timing of one stage since the last report.
type Stat struct {
	Name  string
	Count int
	Total time.Duration
}

// Average returns the mean duration of one scope.
func (s Stat) Average() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// Profiler accumulates stage timings between reports. A disabled profiler ignores scopes.
type Profiler interface {
	// BeginScope starts timing a named stage. Re-opening an open scope restarts it.
	//
	// Parameters:
	//   - name: the stage name
	BeginScope(name string)

	// EndScope stops timing a named stage and adds the elapsed time to its total.
	// Ending a scope that is not open does nothing.
	//
	// Parameters:
	//   - name: the stage name
	EndScope(name string)

	// Scope times fn as a named stage.
	//
	// Parameters:
	//   - name: the stage name
	//   - fn: the work to time
	//
	// Returns:
	//   - error: the error returned by fn
	Scope(name string, fn func() error) error

	// Stats returns the accumulated stage timings sorted by name.
	Stats() []Stat

	// Tick should be called once per frame. When the update interval has elapsed it logs frame rate,
	// heap usage, allocation rate, GC pauses and the per-stage averages, then resets the totals.
	//
	// Returns:
	//   - bool: true if stats were logged this tick, false otherwise
	Tick() bool

	// Enable turns scope recording on.
	Enable()

	// Disable turns scope recording off and drops the accumulated totals.
	Disable()

	// Enabled reports whether scopes are recorded.
	Enabled() bool
}

var _ Profiler = &profiler{}

// NewProfiler creates an enabled Profiler. Update interval defaults to 1 second.
//
// Parameters:
//   - options: variadic list of ProfilerBuilderOption functions
//
// Returns:
//   - Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) Profiler {
	p := &profiler{
		mu:             &sync.Mutex{},
		now:            time.Now,
		updateInterval: time.Second,
		stages:         make(map[string]*stage),
		enabled:        true,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

func (p *profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	s, ok := p.stages[name]
	if !ok {
		s = &stage{}
		p.stages[name] = s
	}
	s.open = p.now()
}

func (p *profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.stages[name]
	if !ok || s.open.IsZero() {
		return
	}
	s.total += p.now().Sub(s.open)
	s.count++
	s.open = time.Time{}
}

func (p *profiler) Scope(name string, fn func() error) error {
	p.BeginScope(name)
	defer p.EndScope(name)
	return fn()
}

func (p *profiler) Stats() []Stat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats()
}

func (p *profiler) stats() []Stat {
	out := make([]Stat, 0, len(p.stages))
	for name, s := range p.stages {
		if s.count == 0 {
			continue
		}
		out = append(out, Stat{Name: name, Count: s.count, Total: s.total})
	}
	slices.SortFunc(out, func(a, b Stat) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}

func (p *profiler) Tick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frameCount++
	currentTime := p.now()
	elapsed := currentTime.Sub(p.lastTime)
	if !p.enabled || elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	// PauseNs is a circular buffer of the last 256 GC pauses.
	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			maxPauseUs = max(maxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	attrs := []any{
		"component", "profiler",
		"fps", fps,
		"heap_mb", allocMB,
		"alloc_rate_mb_s", allocRateMB,
		"gc", gcCount,
		"gc_last_us", lastPauseUs,
		"gc_max_us", maxPauseUs,
		"sys_mb", sysMB,
	}
	for _, s := range p.stats() {
		attrs = append(attrs, s.Name, s.Average())
	}
	common.Logger().Info("frame stats", attrs...)

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	for _, s := range p.stages {
		s.total, s.count = 0, 0
	}
	return true
}

func (p *profiler) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

func (p *profiler) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	clear(p.stages)
}

func (p *profiler) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}
