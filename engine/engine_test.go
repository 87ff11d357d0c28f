package engine

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/device/cpu"
	"github.com/Carmen-Shannon/oxy-warp/engine/pass"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
)

// recordingPass appends its name to a shared log on every Execute.
type recordingPass struct {
	name     string
	log      *[]string
	err      error
	scene    scene.Scene
	released int
}

var _ pass.Pass = &recordingPass{}

func (p *recordingPass) Name() string { return p.name }
func (p *recordingPass) Reflect() pass.Reflection { return nil }
func (p *recordingPass) Fields() []pass.Param { return nil }
func (p *recordingPass) SetScene(sc scene.Scene) { p.scene = sc }
func (p *recordingPass) Release() { p.released++ }
func (p *recordingPass) Execute(ctx context.Context, data pass.RenderData) error {
	*p.log = append(*p.log, p.name)
	return p.err
}

func newTestDevice(t *testing.T) device.Device {
	t.Helper()
	dev := cpu.NewDevice(cpu.WithWorkers(1))
	t.Cleanup(dev.Close)
	return dev
}

func TestNewEngineRequiresDevice(t *testing.T) {
	if _, err := NewEngine(nil); !errors.Is(err, ErrNoDevice) {
		t.Errorf("NewEngine(nil) error = %v, want %v", err, ErrNoDevice)
	}
}

func TestStepRunsPassesInKeyOrder(t *testing.T) {
	var log []string
	e, err := NewEngine(newTestDevice(t),
		WithPass(20, &recordingPass{name: "late", log: &log}, pass.RenderData{}),
		WithPass(-5, &recordingPass{name: "early", log: &log}, pass.RenderData{}),
		WithFrameCallback(func(ctx context.Context, frame int, dt float32) error {
			log = append(log, "callback")
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	e.AddPass(3, &recordingPass{name: "middle", log: &log}, pass.RenderData{})

	for range 2 {
		if err := e.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	want := []string{"callback", "early", "middle", "late", "callback", "early", "middle", "late"}
	if !slices.Equal(log, want) {
		t.Errorf("execution order = %v, want %v", log, want)
	}
	if got := e.Frame(); got != 2 {
		t.Errorf("Frame() = %d, want 2", got)
	}
}

func TestStepStopsAtFirstError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	e, _ := NewEngine(newTestDevice(t),
		WithPass(0, &recordingPass{name: "a", log: &log, err: boom}, pass.RenderData{}),
		WithPass(1, &recordingPass{name: "b", log: &log}, pass.RenderData{}),
	)
	err := e.Step(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Step() error = %v, want %v", err, boom)
	}
	if !slices.Equal(log, []string{"a"}) {
		t.Errorf("executed = %v, want [a]", log)
	}
	if got := e.Frame(); got != 0 {
		t.Errorf("Frame() = %d, want 0", got)
	}
}

func TestFrameCallbackError(t *testing.T) {
	var log []string
	boom := errors.New("camera")
	e, _ := NewEngine(newTestDevice(t),
		WithPass(0, &recordingPass{name: "a", log: &log}, pass.RenderData{}),
	)
	e.SetFrameCallback(func(ctx context.Context, frame int, dt float32) error { return boom })
	if err := e.Step(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Step() error = %v, want %v", err, boom)
	}
	if len(log) != 0 {
		t.Errorf("passes ran after a failed callback: %v", log)
	}
}

func TestAddPassReplacesAndReleases(t *testing.T) {
	var log []string
	old := &recordingPass{name: "old", log: &log}
	repl := &recordingPass{name: "new", log: &log}
	e, _ := NewEngine(newTestDevice(t), WithPass(1, old, pass.RenderData{}))

	e.AddPass(1, repl, pass.RenderData{})
	if old.released != 1 {
		t.Errorf("replaced pass released %d times, want 1", old.released)
	}
	n, ok := e.Pass(1)
	if !ok || n.Pass != repl {
		t.Errorf("Pass(1) = %v, %v, want the replacement", n.Pass, ok)
	}

	e.RemovePass(1)
	if repl.released != 1 {
		t.Errorf("removed pass released %d times, want 1", repl.released)
	}
	if len(e.Passes()) != 0 {
		t.Errorf("Passes() = %v, want empty", e.Passes())
	}
	e.RemovePass(1)
}

func TestSetSceneBindsEveryPass(t *testing.T) {
	var log []string
	first := &recordingPass{name: "first", log: &log}
	e, _ := NewEngine(newTestDevice(t), WithPass(0, first, pass.RenderData{}))
	sc := scene.NewMeshScene(camera.NewCamera())

	e.SetScene(sc)
	if first.scene != sc {
		t.Errorf("registered pass scene = %v, want the engine scene", first.scene)
	}
	later := &recordingPass{name: "later", log: &log}
	e.AddPass(1, later, pass.RenderData{})
	if later.scene != sc {
		t.Errorf("added pass scene = %v, want the engine scene", later.scene)
	}
}

func TestProfilerTimesEveryPass(t *testing.T) {
	var log []string
	p := profiler.NewProfiler(profiler.WithUpdateInterval(time.Hour))
	e, _ := NewEngine(newTestDevice(t),
		WithProfiler(p),
		WithPass(0, &recordingPass{name: "warp", log: &log}, pass.RenderData{}),
		WithPass(1, &recordingPass{name: "merge", log: &log}, pass.RenderData{}),
	)
	for range 3 {
		if err := e.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	counts := map[string]int{}
	for _, s := range e.Profiler().Stats() {
		counts[s.Name] = s.Count
	}
	for _, name := range []string{"warp", "merge"} {
		if counts[name] != 3 {
			t.Errorf("stage %q count = %d, want 3", name, counts[name])
		}
	}
}

func TestRunStopsAtMaxFrames(t *testing.T) {
	var log []string
	e, _ := NewEngine(newTestDevice(t),
		WithTickRate(1000),
		WithMaxFrames(4),
		WithPass(0, &recordingPass{name: "a", log: &log}, pass.RenderData{}),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := e.Frame(); got != 4 {
		t.Errorf("Frame() = %d, want 4", got)
	}
}

func TestRunReturnsFrameError(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	e, _ := NewEngine(newTestDevice(t),
		WithTickRate(1000),
		WithPass(0, &recordingPass{name: "a", log: &log, err: boom}, pass.RenderData{}),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Run(ctx); !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want %v", err, boom)
	}
}

func TestQuitStopsRun(t *testing.T) {
	e, _ := NewEngine(newTestDevice(t), WithTickRate(1000))
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	e.Quit()
	e.Quit()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after Quit")
	}
}

func TestCloseReleasesPasses(t *testing.T) {
	var log []string
	a := &recordingPass{name: "a", log: &log}
	e, _ := NewEngine(newTestDevice(t), WithPass(0, a, pass.RenderData{}))
	e.Close()
	if a.released != 1 {
		t.Errorf("pass released %d times, want 1", a.released)
	}
	if len(e.Passes()) != 0 {
		t.Errorf("Passes() after Close = %d, want 0", len(e.Passes()))
	}
}
