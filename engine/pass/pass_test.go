package pass

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/device/cpu"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	red   = [4]float32{1, 0, 0, 1}
	green = [4]float32{0, 1, 0, 1}
)

type fixture struct {
	dev   device.Device
	pool  texture.Pool
	scene scene.MeshScene
	dim   common.Uint2
}

// newFixture is an 8x8 view down -Z of a red occluder (z=-5) in front of a green wall (z=-8).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := cpu.NewDevice(cpu.WithWorkers(2), cpu.WithBandRows(2))
	t.Cleanup(dev.Close)
	quad := func(name string, h, z float32, albedo [4]float32) scene.Mesh {
		return scene.Quad(name, [4]mgl32.Vec3{{-h, -h, z}, {h, -h, z}, {h, h, z}, {-h, h, z}}, albedo)
	}
	sc := scene.NewMeshScene(camera.NewCamera(),
		scene.WithMeshes(quad("occluder", 1, -5, red), quad("wall", 3, -8, green)),
		scene.WithWorkers(2))
	t.Cleanup(sc.Close)
	return &fixture{dev: dev, pool: texture.NewPool(dev), scene: sc, dim: common.Uint2{X: 8, Y: 8}}
}

func (f *fixture) create(t *testing.T, name string, format texture.Format) texture.Texture {
	t.Helper()
	tex, err := f.dev.Create2D(texture.Descriptor{
		Label: name, Width: f.dim.X, Height: f.dim.Y, ArraySize: 1, MipLevels: 1,
		Format: format, Bind: device.StorageBind,
	})
	if err != nil {
		t.Fatalf("Create2D(%s) error = %v", name, err)
	}
	t.Cleanup(tex.Release)
	return tex
}

// bind creates a texture for every field of r and returns the frame bindings.
func (f *fixture) bind(t *testing.T, r Reflection) RenderData {
	t.Helper()
	data := RenderData{Dim: f.dim, Textures: map[string]texture.Texture{}}
	for _, field := range r {
		data.Textures[field.Name] = f.create(t, field.Name, field.Format)
	}
	return data
}

func (f *fixture) fill(t *testing.T, tex texture.Texture, c [4]float32) {
	t.Helper()
	if err := device.ClearTo(context.Background(), f.dev, texture.Of(tex), texture.Float4(c[0], c[1], c[2], c[3])); err != nil {
		t.Fatalf("ClearTo(%s) error = %v", tex.Label(), err)
	}
	if err := f.dev.Barrier(context.Background()); err != nil {
		t.Fatalf("Barrier() error = %v", err)
	}
}

func (f *fixture) read(t *testing.T, tex texture.Texture) *texture.Image {
	t.Helper()
	img, err := f.dev.Readback(context.Background(), texture.Of(tex))
	if err != nil {
		t.Fatalf("Readback(%s) error = %v", tex.Label(), err)
	}
	return img
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-3
}

func TestReflectionLookup(t *testing.T) {
	r := Reflection{
		input("a", "", texture.FormatRGBA32Float, false),
		input("b", "", texture.FormatR32Float, true),
		output("c", "", texture.FormatR32Uint),
	}
	if got := len(r.Inputs()); got != 2 {
		t.Errorf("len(Inputs()) = %d, want 2", got)
	}
	if got := len(r.Outputs()); got != 1 {
		t.Errorf("len(Outputs()) = %d, want 1", got)
	}
	if f, ok := r.Field("c"); !ok || f.Direction != Output || !f.Optional {
		t.Errorf("Field(c) = %+v, %v, want optional output", f, ok)
	}
	if _, ok := r.Field("d"); ok {
		t.Errorf("Field(d) found, want missing")
	}
}

func TestReflectionValidate(t *testing.T) {
	f := newFixture(t)
	r := Reflection{
		input("color", "", texture.FormatRGBA32Float, false),
		input("depth", "", texture.FormatR32Float, true),
		output("out", "", texture.FormatRGBA32Float),
	}
	color := f.create(t, "color", texture.FormatRGBA32Float)
	wrongFormat := f.create(t, "depth", texture.FormatR32Uint)
	small, err := f.dev.Create2D(texture.Descriptor{Label: "small", Width: 4, Height: 4, ArraySize: 1, MipLevels: 1,
		Format: texture.FormatRGBA32Float, Bind: device.StorageBind})
	if err != nil {
		t.Fatalf("Create2D() error = %v", err)
	}
	t.Cleanup(small.Release)

	tests := []struct {
		name     string
		textures map[string]texture.Texture
		want     error
	}{
		{"required only", map[string]texture.Texture{"color": color}, nil},
		{"missing required", map[string]texture.Texture{"out": color}, ErrMissingResource},
		{"wrong format", map[string]texture.Texture{"color": color, "depth": wrongFormat}, ErrResourceMismatch},
		{"wrong size", map[string]texture.Texture{"color": color, "out": small}, ErrResourceMismatch},
		{"undeclared ignored", map[string]texture.Texture{"color": color, "other": wrongFormat}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Validate(RenderData{Dim: f.dim, Textures: tt.textures})
			if tt.want == nil && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRenderDataGetNil(t *testing.T) {
	if got := (RenderData{}).Get("x"); got != nil {
		t.Errorf("Get() = %v, want nil", got)
	}
}
