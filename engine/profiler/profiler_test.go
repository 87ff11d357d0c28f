package profiler

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestScopes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	p := NewProfiler(WithClock(clock.now))

	for range 2 {
		p.BeginScope("warp")
		clock.advance(4 * time.Millisecond)
		p.EndScope("warp")
	}
	p.EndScope("never-opened")
	wantErr := errors.New("boom")
	if err := p.Scope("merge", func() error {
		clock.advance(time.Millisecond)
		return wantErr
	}); !errors.Is(err, wantErr) {
		t.Errorf("Scope() error = %v, want %v", err, wantErr)
	}

	stats := p.Stats()
	if len(stats) != 2 {
		t.Fatalf("Stats() = %v, want 2 stages", stats)
	}
	if stats[0].Name != "merge" || stats[0].Count != 1 || stats[0].Total != time.Millisecond {
		t.Errorf("stats[0] = %+v, want merge x1 1ms", stats[0])
	}
	if stats[1].Name != "warp" || stats[1].Count != 2 || stats[1].Average() != 4*time.Millisecond {
		t.Errorf("stats[1] = %+v, want warp x2 avg 4ms", stats[1])
	}
}

func TestTickResetsAfterInterval(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	p := NewProfiler(WithClock(clock.now), WithUpdateInterval(time.Second))

	p.BeginScope("frame")
	clock.advance(10 * time.Millisecond)
	p.EndScope("frame")
	if p.Tick() {
		t.Fatal("Tick() reported before the interval elapsed")
	}
	clock.advance(time.Second)
	if !p.Tick() {
		t.Fatal("Tick() did not report after the interval elapsed")
	}
	if stats := p.Stats(); len(stats) != 0 {
		t.Errorf("Stats() after report = %v, want empty", stats)
	}
}

func TestDisabledIgnoresScopes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(100, 0)}
	p := NewProfiler(WithClock(clock.now), WithDisabled())
	if p.Enabled() {
		t.Fatal("Enabled() = true, want false")
	}
	p.BeginScope("warp")
	clock.advance(time.Second)
	p.EndScope("warp")
	if stats := p.Stats(); len(stats) != 0 {
		t.Errorf("Stats() = %v, want empty", stats)
	}
	clock.advance(time.Second)
	if p.Tick() {
		t.Error("Tick() reported while disabled")
	}

	p.Enable()
	p.BeginScope("warp")
	clock.advance(time.Millisecond)
	p.EndScope("warp")
	if stats := p.Stats(); len(stats) != 1 {
		t.Errorf("Stats() = %v, want one stage", stats)
	}
	p.Disable()
	if stats := p.Stats(); len(stats) != 0 {
		t.Errorf("Stats() after Disable = %v, want empty", stats)
	}
}
