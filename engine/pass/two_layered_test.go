package pass

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/cadence"
	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/Carmen-Shannon/oxy-warp/engine/trajectory"
	"github.com/go-gl/mathgl/mgl32"
)

func twoLayerSettings(interval int) TwoLayerSettings {
	s := DefaultTwoLayerSettings()
	s.RefreshInterval = interval
	s.CameraCount = 0
	s.MipLevels = 2
	return s
}

func TestTwoLayeredGbuffersCadence(t *testing.T) {
	f := newFixture(t)
	prof := profiler.NewProfiler()
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(3)), WithTwoLayerProfiler(prof))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)
	data := f.bind(t, p.Reflect().Outputs())

	if got := p.State(); got != cadence.Idle {
		t.Errorf("State() before first frame = %v, want %v", got, cadence.Idle)
	}
	want := []cadence.State{
		cadence.Regenerate, cadence.Reproject, cadence.Reproject,
		cadence.Regenerate, cadence.Reproject, cadence.Reproject,
		cadence.Regenerate,
	}
	for i, w := range want {
		if err := p.Execute(context.Background(), data); err != nil {
			t.Fatalf("Execute() frame %d error = %v", i, err)
		}
		if got := p.State(); got != w {
			t.Errorf("State() frame %d = %v, want %v", i, got, w)
		}
	}
	if got := p.Frame(); got != len(want) {
		t.Errorf("Frame() = %d, want %d", got, len(want))
	}

	counts := map[string]int{}
	for _, s := range prof.Stats() {
		counts[s.Name] = s.Count
	}
	if counts["two_layer.regenerate"] != 3 || counts["two_layer.reproject"] != 4 || counts["two_layer.project"] != 7 {
		t.Errorf("Stats() counts = %v, want 3 regenerate, 4 reproject, 7 project", counts)
	}
}

func TestTwoLayeredGbuffersStaticOutputs(t *testing.T) {
	f := newFixture(t)
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(2)))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)
	data := f.bind(t, p.Reflect().Outputs())
	for i := range 2 {
		if err := p.Execute(context.Background(), data); err != nil {
			t.Fatalf("Execute() frame %d error = %v", i, err)
		}
	}

	mask := f.read(t, data.Get(OutMask))
	for _, px := range [][2]int{{4, 4}, {0, 0}} {
		if got := mask.Uint(px[0], px[1]); got != kernel.MaskFirst {
			t.Errorf("%s at %v = %d, want %d", OutMask, px, got, kernel.MaskFirst)
		}
	}
	albedo := f.read(t, data.Get(OutFirstDiffOpacity))
	if got := albedo.Float4(4, 4); got != red {
		t.Errorf("%s at (4,4) = %v, want occluder", OutFirstDiffOpacity, got)
	}
	if got := albedo.Float4(0, 0); got != green {
		t.Errorf("%s at (0,0) = %v, want wall", OutFirstDiffOpacity, got)
	}
	second := f.read(t, data.Get(OutSecondDiffOpacity))
	if got := second.Float4(4, 4); got != green {
		t.Errorf("%s at (4,4) = %v, want wall behind occluder", OutSecondDiffOpacity, got)
	}
	coord := f.read(t, data.Get(OutFirstPrevCoord))
	if got := coord.At(3, 5); got[0] != 3 || got[1] != 5 {
		t.Errorf("%s at (3,5) = %v, want itself", OutFirstPrevCoord, got[:2])
	}

	render := f.read(t, data.Get(OutFirstPreTonemap))
	center := f.read(t, data.Get(OutCenterRender))
	for _, px := range [][2]int{{4, 4}, {1, 6}} {
		if got, want := render.Float4(px[0], px[1]), center.Float4(px[0], px[1]); got != want {
			t.Errorf("%s at %v = %v, want center render %v", OutFirstPreTonemap, px, got, want)
		}
	}
	pos := f.read(t, data.Get(OutCenterPosWS))
	if got := pos.Float4(4, 4); !near(got[2], -5) || got[3] != 1 {
		t.Errorf("%s at (4,4) = %v, want z=-5 w=1", OutCenterPosWS, got)
	}
}

func TestTwoLayeredGbuffersUsesBoundRender(t *testing.T) {
	f := newFixture(t)
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(2)))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)
	data := f.bind(t, p.Reflect().Outputs())
	gray := [4]float32{0.5, 0.5, 0.5, 1}
	data.Textures[InPreTonemapped] = f.create(t, InPreTonemapped, texture.FormatRGBA32Float)
	f.fill(t, data.Get(InPreTonemapped), gray)

	if err := p.Execute(context.Background(), data); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, name := range []string{OutCenterRender, OutFirstPreTonemap} {
		if got := f.read(t, data.Get(name)).Float4(4, 4); got != gray {
			t.Errorf("%s at (4,4) = %v, want %v", name, got, gray)
		}
	}
}

func TestTwoLayeredGbuffersCopiesUpstreamLayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(2)))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)

	upstream := gbuffer.NewLayer("upstream")
	if err := gbuffer.NewSingleLayerGenerator(f.dev, f.pool).Generate(ctx, f.scene, f.scene.Camera(), f.dim, upstream); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	t.Cleanup(func() { upstream.Invalidate(f.pool) })
	data := f.bind(t, p.Reflect().Outputs())
	data.Textures[InPosWS] = upstream.Position
	data.Textures[InNormalWS] = upstream.Normal
	data.Textures[InDiffOpacity] = upstream.Albedo
	data.Textures[InLinearZ] = upstream.Depth
	data.Textures[InRawInstance] = upstream.InstanceID
	data.Textures[InPosL] = upstream.LocalPos

	if err := p.Execute(ctx, data); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	first, _ := p.Layers()
	want := f.read(t, upstream.Albedo)
	got := f.read(t, first.Albedo)
	for _, px := range [][2]int{{4, 4}, {0, 0}, {7, 2}} {
		if got.Float4(px[0], px[1]) != want.Float4(px[0], px[1]) {
			t.Errorf("first albedo at %v = %v, want upstream %v", px, got.Float4(px[0], px[1]), want.Float4(px[0], px[1]))
		}
	}
	if got := f.read(t, first.Color).Float4(4, 4); got != ([4]float32{}) {
		t.Errorf("first color at (4,4) = %v, want cleared without a bound render", got)
	}
}

func TestTwoLayeredGbuffersSampler(t *testing.T) {
	f := newFixture(t)
	s := twoLayerSettings(2)
	s.CameraCount = 2
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(s),
		WithSamplerOptions(gbuffer.WithRand(rand.New(rand.NewPCG(1, 2)))))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)
	data := f.bind(t, p.Reflect().Outputs())
	for i := range 3 {
		if err := p.Execute(context.Background(), data); err != nil {
			t.Fatalf("Execute() frame %d error = %v", i, err)
		}
	}
	if got := f.read(t, data.Get(OutMask)).Uint(4, 4); got != kernel.MaskFirst {
		t.Errorf("%s at (4,4) = %d, want %d", OutMask, got, kernel.MaskFirst)
	}
}

func TestTwoLayeredGbuffersPlayback(t *testing.T) {
	f := newFixture(t)
	at := func(x float32) common.Pose {
		return common.Pose{Position: mgl32.Vec3{x, 0, 0}, Target: mgl32.Vec3{x, 0, -1}, Up: mgl32.Vec3{0, 1, 0}}
	}
	pb := trajectory.NewPlayback([]common.Pose{at(0.25), at(0.5)}, trajectory.WithAutoStart())
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(2)), WithPlayback(pb))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)
	data := f.bind(t, p.Reflect().Outputs())

	if err := p.Execute(context.Background(), data); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := f.scene.Camera().Pose(); got.Position != at(0.25).Position {
		t.Errorf("camera position = %v, want first waypoint %v", got.Position, at(0.25).Position)
	}
	if !pb.Playing() {
		t.Errorf("Playing() = false after one frame, want true")
	}
}

func TestTwoLayeredGbuffersSceneLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(2)))
	t.Cleanup(p.Release)
	data := f.bind(t, p.Reflect().Outputs())

	if err := p.Execute(ctx, data); err != nil {
		t.Errorf("Execute() without scene error = %v, want nil", err)
	}
	if got := p.Frame(); got != 0 {
		t.Errorf("Frame() without scene = %d, want 0", got)
	}

	p.SetScene(f.scene)
	for range 3 {
		if err := p.Execute(ctx, data); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	p.SetScene(f.scene)
	if got := p.Frame(); got != 0 {
		t.Errorf("Frame() after SetScene = %d, want 0", got)
	}
	if got := p.State(); got != cadence.Idle {
		t.Errorf("State() after SetScene = %v, want %v", got, cadence.Idle)
	}
	if err := p.Execute(ctx, data); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := p.State(); got != cadence.Regenerate {
		t.Errorf("State() first frame after SetScene = %v, want %v", got, cadence.Regenerate)
	}

	if err := p.Execute(ctx, RenderData{Textures: data.Textures}); err == nil {
		t.Errorf("Execute() with zero size error = nil, want error")
	}
}

func TestTwoLayeredGbuffersSetSettings(t *testing.T) {
	f := newFixture(t)
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(twoLayerSettings(2)))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)

	s := p.Settings()
	s.MipLevels = 4
	s.RefreshInterval = 0
	p.SetSettings(s)
	if got := p.Settings().RefreshInterval; got != 1 {
		t.Errorf("Settings().RefreshInterval = %d, want 1", got)
	}
	first, second := p.Projected()
	if first.Len() != 4 || second.Len() != 4 {
		t.Errorf("Projected() lengths = %d, %d, want 4", first.Len(), second.Len())
	}

	data := f.bind(t, p.Reflect().Outputs())
	for i := range 2 {
		if err := p.Execute(context.Background(), data); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if got := p.State(); got != cadence.Regenerate {
			t.Errorf("State() frame %d = %v, want %v with interval 1", i, got, cadence.Regenerate)
		}
	}
}

func TestTwoLayeredGbuffersKeyPose(t *testing.T) {
	f := newFixture(t)
	at := func(x float32) common.Pose {
		return common.Pose{Position: mgl32.Vec3{x, 0, 0}, Target: mgl32.Vec3{x, 0, -1}, Up: mgl32.Vec3{0, 1, 0}}
	}
	var waypoints []common.Pose
	for i := range 8 {
		waypoints = append(waypoints, at(float32(i)*0.1))
	}
	s := twoLayerSettings(3)
	s.UsePrediction = true
	pb := trajectory.NewPlayback(waypoints, trajectory.WithAutoStart())
	p := NewTwoLayeredGbuffers(f.dev, f.pool, WithTwoLayerSettings(s), WithPlayback(pb))
	t.Cleanup(p.Release)
	p.SetScene(f.scene)
	data := f.bind(t, p.Reflect().Outputs())
	predictor := p.(*twoLayeredGbuffers).state.predictor

	// Key frames land on frames 0 and 3; the frames between keep the pose of frame 0.
	want := []float32{0, 0, 0, 0.3, 0.3, 0.3}
	for i, w := range want {
		if err := p.Execute(context.Background(), data); err != nil {
			t.Fatalf("Execute() frame %d error = %v", i, err)
		}
		prev, ok := predictor.Previous()
		if !ok {
			t.Fatalf("Previous() frame %d recorded nothing", i)
		}
		if !mgl32.FloatEqualThreshold(prev.Position.X(), w, 1e-5) {
			t.Errorf("Previous() frame %d x = %v, want %v", i, prev.Position.X(), w)
		}
	}

	// Frame 5 sits at x = 0.5 with the key pose at 0.3: the prediction covers both steps.
	got := predictor.Predict(f.scene.Camera().Pose()).Position.X()
	if !mgl32.FloatEqualThreshold(got, 0.7, 1e-5) {
		t.Errorf("Predict() x = %v, want 0.7", got)
	}
	if speed := predictor.Speed(f.scene.Camera().Pose()); !mgl32.FloatEqualThreshold(speed.X(), 0.2, 1e-5) {
		t.Errorf("Speed() x = %v, want 0.2", speed.X())
	}
}
