package gbuffer

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/device/cpu"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

type fakeTexture struct {
	desc texture.Descriptor
}

func (f *fakeTexture) Label() string           { return f.desc.Label }
func (f *fakeTexture) Width() uint32           { return f.desc.Width }
func (f *fakeTexture) Height() uint32          { return f.desc.Height }
func (f *fakeTexture) ArraySize() uint32       { return f.desc.ArraySize }
func (f *fakeTexture) MipLevels() int          { return f.desc.MipLevels }
func (f *fakeTexture) Format() texture.Format  { return f.desc.Format }
func (f *fakeTexture) Bind() texture.BindFlags { return f.desc.Bind }
func (f *fakeTexture) Release()                {}

type fakeAllocator struct{}

func (fakeAllocator) Create2D(desc texture.Descriptor) (texture.Texture, error) {
	return &fakeTexture{desc: desc}, nil
}

func TestLayerAllocation(t *testing.T) {
	pool := texture.NewPool(fakeAllocator{})
	dim := common.Uint2{X: 640, Y: 480}

	first, second := NewLayer("first"), NewLayer("second")
	merged := NewMergedLayer("merged")
	for _, ensure := range []func() (bool, error){
		func() (bool, error) { return first.Ensure(pool, dim) },
		func() (bool, error) { return second.Ensure(pool, dim) },
		func() (bool, error) { return merged.Ensure(pool, dim) },
	} {
		if _, err := ensure(); err != nil {
			t.Fatalf("Ensure() error = %v", err)
		}
	}

	all := append(append(first.Textures(), second.Textures()...), merged.Textures()...)
	if len(all) != 20 {
		t.Fatalf("got %d textures, want 20", len(all))
	}
	for _, tex := range all {
		if tex.Width() != 640 || tex.Height() != 480 {
			t.Errorf("%s is %dx%d, want 640x480", tex.Label(), tex.Width(), tex.Height())
		}
	}
	if first.Dim() != dim || merged.Dim() != dim {
		t.Errorf("Dim() = %v / %v, want %v", first.Dim(), merged.Dim(), dim)
	}

	allocs := pool.Allocations()
	if re, err := first.Ensure(pool, dim); err != nil || re {
		t.Errorf("second Ensure() = %v, %v, want no reallocation", re, err)
	}
	if pool.Allocations() != allocs {
		t.Errorf("Allocations() = %d, want %d", pool.Allocations(), allocs)
	}

	first.Invalidate(pool)
	if len(first.Textures()) != 0 || first.Dim() != (common.Uint2{}) {
		t.Errorf("after Invalidate: %d textures, Dim() = %v", len(first.Textures()), first.Dim())
	}
}

func TestProjectedStack(t *testing.T) {
	pool := texture.NewPool(fakeAllocator{})
	stack := NewProjectedStack("proj", 3)
	if _, err := stack.Ensure(pool, common.Uint2{X: 640, Y: 480}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	want := []common.Uint2{{X: 640, Y: 480}, {X: 320, Y: 240}, {X: 160, Y: 120}}
	for m, dim := range want {
		level, err := stack.At(m)
		if err != nil {
			t.Fatalf("At(%d) error = %v", m, err)
		}
		if level.Dim() != dim || level.Mip != m {
			t.Errorf("At(%d) = mip %d %v, want %v", m, level.Mip, level.Dim(), dim)
		}
		if got := len(level.Textures()); got != 5 {
			t.Errorf("At(%d) has %d textures, want 5", m, got)
		}
	}
	for _, m := range []int{-1, 3} {
		if _, err := stack.At(m); !errors.Is(err, ErrMipOutOfRange) {
			t.Errorf("At(%d) error = %v, want ErrMipOutOfRange", m, err)
		}
	}
	if NewProjectedStack("empty", 0).Len() != 1 {
		t.Errorf("NewProjectedStack(0).Len() != 1")
	}
}

func TestTwoLayerProgram(t *testing.T) {
	ref := texture.NewImage(texture.FormatR32Float, 1, 1)
	ref.Set(0, 0, texture.Float4(5, 0, 0, 0))
	front := scene.Fragment{Normal: mgl32.Vec3{0, 0, 1}, ViewDir: mgl32.Vec3{0, 0, -1}}
	back := scene.Fragment{Normal: mgl32.Vec3{0, 0, -1}, ViewDir: mgl32.Vec3{0, 0, -1}}

	tests := []struct {
		name   string
		params TwoLayerParams
		frag   scene.Fragment
		depth  float32
		want   bool
	}{
		{"behind", TwoLayerParams{Eps: 0.1}, front, 6, true},
		{"within eps", TwoLayerParams{Eps: 0.1}, front, 5.05, false},
		{"first layer itself", TwoLayerParams{}, front, 5, false},
		{"first layer greater equal", TwoLayerParams{Compare: CompareGreaterEqual}, front, 5, true},
		{"negated eps", TwoLayerParams{Eps: 0.1, NegateEps: true}, front, 4.95, true},
		{"max depth", TwoLayerParams{Eps: 0.1, UseMaxDepth: true, MaxDepth: 5.5}, front, 6, false},
		{"back face kept", TwoLayerParams{Eps: 0.1}, back, 6, true},
		{"back face culled", TwoLayerParams{Eps: 0.1, UseNormalConstraint: true}, back, 6, false},
		{"front face passes constraint", TwoLayerParams{Eps: 0.1, UseNormalConstraint: true, NormalThreshold: 0.5}, front, 6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.frag
			f.Depth = tt.depth
			if got := tt.params.Program(ref)(&f); got != tt.want {
				t.Errorf("Program()(depth %v) = %v, want %v", tt.depth, got, tt.want)
			}
		})
	}
}

type fixture struct {
	dev   device.Device
	pool  texture.Pool
	scene scene.MeshScene
	dim   common.Uint2
}

// newFixture builds an 8x8 view down -Z of an occluder (instance 0, z=-5) in front of a wall
// (instance 1, z=-8).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := cpu.NewDevice(cpu.WithWorkers(2), cpu.WithBandRows(2))
	t.Cleanup(dev.Close)
	quad := func(name string, h, z float32, albedo [4]float32) scene.Mesh {
		return scene.Quad(name, [4]mgl32.Vec3{{-h, -h, z}, {h, -h, z}, {h, h, z}, {-h, h, z}}, albedo)
	}
	sc := scene.NewMeshScene(camera.NewCamera(),
		scene.WithMeshes(quad("occluder", 1, -5, [4]float32{1, 0, 0, 1}), quad("wall", 3, -8, [4]float32{0, 1, 0, 1})),
		scene.WithWorkers(2))
	t.Cleanup(sc.Close)
	return &fixture{dev: dev, pool: texture.NewPool(dev), scene: sc, dim: common.Uint2{X: 8, Y: 8}}
}

func (f *fixture) read(t *testing.T, tex texture.Texture) *texture.Image {
	t.Helper()
	img, err := f.dev.Readback(context.Background(), texture.Of(tex))
	if err != nil {
		t.Fatalf("Readback(%s) error = %v", tex.Label(), err)
	}
	return img
}

func (f *fixture) firstLayer(t *testing.T) *Layer {
	t.Helper()
	first := NewLayer("first")
	if err := NewSingleLayerGenerator(f.dev, f.pool).Generate(context.Background(), f.scene, f.scene.Camera(), f.dim, first); err != nil {
		t.Fatalf("single layer Generate() error = %v", err)
	}
	return first
}

func TestTwoLayerGenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.firstLayer(t)
	if got := f.read(t, first.InstanceID).Uint(4, 4); got != 0 {
		t.Fatalf("first layer center instance = %d, want occluder", got)
	}

	second := NewLayer("second")
	gen := NewTwoLayerGenerator(f.dev, f.pool)
	if err := gen.Generate(ctx, f.scene, f.scene.Camera(), first, second, TwoLayerParams{Eps: 0.1}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	ids := f.read(t, second.InstanceID)
	depth := f.read(t, second.Depth)
	if got := ids.Uint(4, 4); got != 1 {
		t.Errorf("second layer center instance = %d, want wall", got)
	}
	if got := depth.Float(4, 4); math.Abs(float64(got-8)) > 1e-3 {
		t.Errorf("second layer center depth = %v, want 8", got)
	}
	if got := f.read(t, second.Position).Float4(0, 0); got[3] != 0 {
		t.Errorf("second layer corner = %v, want empty: nothing lies behind the wall", got)
	}

	if err := gen.Generate(ctx, f.scene, f.scene.Camera(), first, second, TwoLayerParams{Eps: 0.1, UseMaxDepth: true, MaxDepth: 7}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := f.read(t, second.InstanceID).Uint(4, 4); got != scene.NoInstance {
		t.Errorf("second layer center instance with MaxDepth 7 = %d, want none", got)
	}

	if err := gen.Generate(ctx, f.scene, f.scene.Camera(), NewLayer("empty"), second, TwoLayerParams{}); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Generate(unallocated) error = %v, want ErrNotAllocated", err)
	}
}

func TestDisocclusionOffsets(t *testing.T) {
	s := NewDisocclusionSampler(nil, nil, WithRand(rand.New(rand.NewPCG(1, 2))))
	pose := common.Pose{Target: mgl32.Vec3{0, 0, -1}, Up: mgl32.Vec3{0, 1, 0}}
	speed := mgl32.Vec3{0.5, 0, 0}
	params := DisocclusionParams{CameraCount: 8, Adaptive: true, RadiusScale: 2, MinRadius: 0.25}

	got := s.Offsets(pose, speed, params)
	if len(got) != 8 {
		t.Fatalf("len(Offsets()) = %d, want 8", len(got))
	}
	fixed := []mgl32.Vec3{speed, {1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}}
	for i, want := range fixed {
		if !got[i].ApproxEqualThreshold(want, 1e-5) {
			t.Errorf("Offsets()[%d] = %v, want %v", i, got[i], want)
		}
	}
	for i := 5; i < len(got); i++ {
		if got[i].Len() > 1+1e-5 || got[i].Z() != 0 {
			t.Errorf("Offsets()[%d] = %v, want within radius 1 in the view plane", i, got[i])
		}
	}

	tests := []struct {
		params DisocclusionParams
		speed  mgl32.Vec3
		want   float32
	}{
		{DisocclusionParams{Radius: 0.7}, mgl32.Vec3{9, 0, 0}, 0.7},
		{DisocclusionParams{Adaptive: true, RadiusScale: 2, MinRadius: 0.25}, mgl32.Vec3{}, 0.25},
		{DisocclusionParams{Adaptive: true, RadiusScale: 2, MinRadius: 0.25}, mgl32.Vec3{0, 3, 4}, 10},
	}
	for _, tt := range tests {
		if got := tt.params.EffectiveRadius(tt.speed); math.Abs(float64(got-tt.want)) > 1e-5 {
			t.Errorf("EffectiveRadius(%v) = %v, want %v", tt.speed, got, tt.want)
		}
	}
}

func TestDisocclusionSampleFillsHiddenWall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.firstLayer(t)

	// An empty second layer: every fragment is deeper than MaxDepth.
	second := NewLayer("second")
	if err := NewTwoLayerGenerator(f.dev, f.pool).Generate(ctx, f.scene, f.scene.Camera(), first, second,
		TwoLayerParams{Eps: 0.1, UseMaxDepth: true, MaxDepth: 0}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// One view shifted 2 units right sees the wall behind the occluder's right half.
	sampler := NewDisocclusionSampler(f.dev, f.pool)
	t.Cleanup(sampler.Invalidate)
	params := DisocclusionParams{CameraCount: 1, RenderScale: 1, Eps: 0.1}
	if err := sampler.Sample(ctx, f.scene, f.scene.Camera(), mgl32.Vec3{2, 0, 0}, first, second, params); err != nil {
		t.Fatalf("Sample() error = %v", err)
	}

	ids := f.read(t, second.InstanceID)
	depth := f.read(t, second.Depth)
	pos := f.read(t, second.Position)
	for _, x := range []int{4, 5} {
		if got := ids.Uint(x, 4); got != 1 {
			t.Errorf("second (%d,4) instance = %d, want wall", x, got)
		}
		if got := depth.Float(x, 4); math.Abs(float64(got-8)) > 1e-3 {
			t.Errorf("second (%d,4) depth = %v, want 8", x, got)
		}
		if got := pos.Float4(x, 4); got[3] != 1 || math.Abs(float64(got[2]+8)) > 1e-3 {
			t.Errorf("second (%d,4) position = %v, want on the wall", x, got)
		}
	}
	if got := pos.Float4(0, 4); got[3] != 0 {
		t.Errorf("second (0,4) = %v, want empty: the wall is visible there", got)
	}
}

func TestRecomputeWorld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.firstLayer(t)

	moved := []mgl32.Mat4{mgl32.Translate3D(0, 0, 1), mgl32.Ident4()}
	if err := RecomputeWorld(ctx, f.dev, first, moved); err != nil {
		t.Fatalf("RecomputeWorld() error = %v", err)
	}
	pos := f.read(t, first.Position)
	if got := pos.Float4(4, 4); math.Abs(float64(got[2]+4)) > 1e-3 || got[3] != 1 {
		t.Errorf("occluder texel = %v, want moved to z=-4", got)
	}
	if got := pos.Float4(0, 0); math.Abs(float64(got[2]+8)) > 1e-3 {
		t.Errorf("wall texel = %v, want unchanged z=-8", got)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	first := f.firstLayer(t)
	center := NewLayer("center")
	if err := Snapshot(context.Background(), f.dev, f.pool, first, center); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if center.Dim() != f.dim {
		t.Fatalf("snapshot Dim() = %v, want %v", center.Dim(), f.dim)
	}
	want := f.read(t, first.Color).Float4(4, 4)
	if got := f.read(t, center.Color).Float4(4, 4); got != want {
		t.Errorf("snapshot color = %v, want %v", got, want)
	}
}
