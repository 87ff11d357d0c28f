package scene

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

type hostTexture struct {
	label  string
	dim    common.Uint2
	format texture.Format
}

func (h *hostTexture) Label() string           { return h.label }
func (h *hostTexture) Width() uint32           { return h.dim.X }
func (h *hostTexture) Height() uint32          { return h.dim.Y }
func (h *hostTexture) ArraySize() uint32       { return 1 }
func (h *hostTexture) MipLevels() int          { return 1 }
func (h *hostTexture) Format() texture.Format  { return h.format }
func (h *hostTexture) Bind() texture.BindFlags { return texture.BindShaderResource }
func (h *hostTexture) Release()                {}

// captureUploader keeps the last image uploaded to each texture.
type captureUploader struct {
	images map[texture.Texture]*texture.Image
}

func (c *captureUploader) Upload(_ context.Context, view texture.View, img *texture.Image) error {
	if img.Width != int(view.Texture.Width()) || img.Height != int(view.Texture.Height()) {
		return errors.New("size mismatch")
	}
	c.images[view.Texture] = img
	return nil
}

type gbuffer struct {
	targets Targets
	out     *captureUploader
}

func newGBuffer(dim common.Uint2) gbuffer {
	tex := func(label string, f texture.Format) texture.Texture {
		return &hostTexture{label: label, dim: dim, format: f}
	}
	return gbuffer{
		targets: Targets{
			Position:   tex("pos", texture.FormatRGBA32Float),
			Normal:     tex("normal", texture.FormatRGBA32Float),
			Albedo:     tex("albedo", texture.FormatRGBA32Float),
			Depth:      tex("depth", texture.FormatR32Float),
			InstanceID: tex("id", texture.FormatR32Uint),
			LocalPos:   tex("local", texture.FormatRGBA32Float),
			Color:      tex("color", texture.FormatRGBA32Float),
		},
		out: &captureUploader{images: map[texture.Texture]*texture.Image{}},
	}
}

func (g gbuffer) img(t texture.Texture) *texture.Image {
	return g.out.images[t]
}

// square returns a quad of half-size h at depth z facing +Z, or -Z when flipped.
func square(name string, h, z float32, flipped bool, albedo [4]float32) Mesh {
	c := [4]mgl32.Vec3{{-h, -h, z}, {h, -h, z}, {h, h, z}, {-h, h, z}}
	if flipped {
		c = [4]mgl32.Vec3{c[0], c[3], c[2], c[1]}
	}
	return Quad(name, c, albedo)
}

func newTestScene(t *testing.T, meshes ...Mesh) MeshScene {
	t.Helper()
	s := NewMeshScene(camera.NewCamera(), WithMeshes(meshes...), WithWorkers(2), WithBandRows(3))
	t.Cleanup(s.Close)
	return s
}

func TestRasterizeQuad(t *testing.T) {
	s := newTestScene(t, square("front", 1, -5, false, [4]float32{1, 0, 0, 1}))
	dim := common.Uint2{X: 8, Y: 8}
	g := newGBuffer(dim)
	if err := s.Rasterize(context.Background(), g.out, RasterRequest{Camera: s.Camera(), Dim: dim, Targets: g.targets}); err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}

	pos := g.img(g.targets.Position).Float4(4, 4)
	if pos[3] != 1 || math.Abs(float64(pos[2]+5)) > 1e-4 {
		t.Errorf("center position = %v, want z=-5 w=1", pos)
	}
	if got := g.img(g.targets.Depth).Float(4, 4); math.Abs(float64(got-5)) > 1e-3 {
		t.Errorf("center depth = %v, want ~5", got)
	}
	if got := g.img(g.targets.Normal).Float4(4, 4); got[2] != 1 {
		t.Errorf("center normal = %v, want +Z", got)
	}
	if got := g.img(g.targets.InstanceID).Uint(4, 4); got != 0 {
		t.Errorf("center instance = %d, want 0", got)
	}
	if got := g.img(g.targets.Color).Float4(4, 4); got[0] <= 0 || got[1] != 0 {
		t.Errorf("center color = %v, want shaded red", got)
	}

	if got := g.img(g.targets.Position).Float4(0, 0); got[3] != 0 {
		t.Errorf("corner position = %v, want background w=0", got)
	}
	if got := g.img(g.targets.Depth).Float(0, 0); got != BackgroundDepth {
		t.Errorf("corner depth = %v, want BackgroundDepth", got)
	}
	if got := g.img(g.targets.InstanceID).Uint(0, 0); got != NoInstance {
		t.Errorf("corner instance = %d, want NoInstance", got)
	}
}

func TestRasterizeKeepsNearestAcceptedFragment(t *testing.T) {
	s := newTestScene(t,
		square("near", 1, -5, false, [4]float32{1, 0, 0, 1}),
		square("far", 3, -8, false, [4]float32{0, 1, 0, 1}),
	)
	dim := common.Uint2{X: 8, Y: 8}

	tests := []struct {
		name      string
		program   FragmentProgram
		wantID    uint32
		wantDepth float32
	}{
		{"accept all", nil, 0, 5},
		{"behind threshold", func(f *Fragment) bool { return f.Depth > 6 }, 1, 8},
		{"discard all", func(*Fragment) bool { return false }, NoInstance, BackgroundDepth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGBuffer(dim)
			req := RasterRequest{Camera: s.Camera(), Dim: dim, Program: tt.program, Targets: g.targets}
			if err := s.Rasterize(context.Background(), g.out, req); err != nil {
				t.Fatalf("Rasterize() error = %v", err)
			}
			if got := g.img(g.targets.InstanceID).Uint(4, 4); got != tt.wantID {
				t.Errorf("instance = %d, want %d", got, tt.wantID)
			}
			got := g.img(g.targets.Depth).Float(4, 4)
			if tt.wantDepth == BackgroundDepth {
				if got != BackgroundDepth {
					t.Errorf("depth = %v, want BackgroundDepth", got)
				}
			} else if math.Abs(float64(got-tt.wantDepth)) > 1e-3 {
				t.Errorf("depth = %v, want %v", got, tt.wantDepth)
			}
		})
	}
}

func TestRasterizeCulling(t *testing.T) {
	dim := common.Uint2{X: 8, Y: 8}
	tests := []struct {
		name    string
		flipped bool
		cull    CullMode
		wantHit bool
	}{
		{"front none", false, CullNone, true},
		{"front back-cull", false, CullBack, true},
		{"front front-cull", false, CullFront, false},
		{"back none", true, CullNone, true},
		{"back back-cull", true, CullBack, false},
		{"back front-cull", true, CullFront, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScene(t, square("q", 1, -5, tt.flipped, [4]float32{1, 1, 1, 1}))
			g := newGBuffer(dim)
			req := RasterRequest{Camera: s.Camera(), Dim: dim, Cull: tt.cull, Targets: g.targets}
			if err := s.Rasterize(context.Background(), g.out, req); err != nil {
				t.Fatalf("Rasterize() error = %v", err)
			}
			hit := g.img(g.targets.Position).Float4(4, 4)[3] == 1
			if hit != tt.wantHit {
				t.Errorf("hit = %v, want %v", hit, tt.wantHit)
			}
		})
	}
}

func TestRasterizeLocalPositionAndTransform(t *testing.T) {
	m := square("q", 1, 0, false, [4]float32{1, 1, 1, 1})
	m.Transform = mgl32.Translate3D(0, 0, -4)
	s := newTestScene(t, m)
	dim := common.Uint2{X: 8, Y: 8}

	g := newGBuffer(dim)
	if err := s.Rasterize(context.Background(), g.out, RasterRequest{Camera: s.Camera(), Dim: dim, Targets: g.targets}); err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	local := g.img(g.targets.LocalPos).Float4(4, 4)
	world := g.img(g.targets.Position).Float4(4, 4)
	if math.Abs(float64(local[2])) > 1e-4 || local[3] != 1 {
		t.Errorf("local = %v, want z=0 w=1", local)
	}
	if math.Abs(float64(world[2]+4)) > 1e-4 {
		t.Errorf("world = %v, want z=-4", world)
	}

	if err := s.SetTransform(0, mgl32.Translate3D(0, 0, -6)); err != nil {
		t.Fatalf("SetTransform() error = %v", err)
	}
	if got := s.Transforms()[0].Col(3); got[2] != -6 {
		t.Errorf("Transforms()[0] translation = %v, want z=-6", got)
	}
	if got := s.Bounds().Max[2]; got != -6 {
		t.Errorf("Bounds().Max.z = %v, want -6", got)
	}
}

func TestRasterizeErrors(t *testing.T) {
	s := newTestScene(t)
	g := newGBuffer(common.Uint2{X: 2, Y: 2})

	if err := s.Rasterize(context.Background(), g.out, RasterRequest{Dim: common.Uint2{X: 2, Y: 2}}); !errors.Is(err, ErrNoCamera) {
		t.Errorf("Rasterize(no camera) = %v, want ErrNoCamera", err)
	}
	if err := s.Rasterize(context.Background(), g.out, RasterRequest{Camera: s.Camera()}); !errors.Is(err, texture.ErrZeroDimension) {
		t.Errorf("Rasterize(zero dim) = %v, want ErrZeroDimension", err)
	}
	if err := s.SetTransform(3, mgl32.Ident4()); !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("SetTransform(3) = %v, want ErrUnknownInstance", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := RasterRequest{Camera: s.Camera(), Dim: common.Uint2{X: 2, Y: 2}, Targets: g.targets}
	if err := s.Rasterize(ctx, g.out, req); !errors.Is(err, context.Canceled) {
		t.Errorf("Rasterize(cancelled) = %v, want context.Canceled", err)
	}
}

func TestBoxBounds(t *testing.T) {
	box := common.BoundingBox{Min: mgl32.Vec3{-1, -2, -3}, Max: mgl32.Vec3{1, 2, 3}}
	s := newTestScene(t, Box("box", box, [4]float32{1, 1, 1, 1}))
	if got := s.Bounds(); got != box {
		t.Errorf("Bounds() = %v, want %v", got, box)
	}
	if got := s.MeshCount(); got != 1 {
		t.Errorf("MeshCount() = %d, want 1", got)
	}
}
