package gbuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrNotAllocated is returned when a generator is handed an input layer that has no textures yet.
var ErrNotAllocated = errors.New("gbuffer: layer not allocated")

// Compare is the comparison a second-layer fragment's depth must pass against the first layer.
type Compare int

const (
	// CompareGreater accepts depth > reference.
	CompareGreater Compare = iota
	// CompareGreaterEqual accepts depth >= reference.
	CompareGreaterEqual
)

// Test applies the comparison.
func (c Compare) Test(depth, reference float32) bool {
	if c == CompareGreaterEqual {
		return depth >= reference
	}
	return depth > reference
}

func (c Compare) String() string {
	if c == CompareGreaterEqual {
		return ">="
	}
	return ">"
}

// TwoLayerParams controls which fragments behind the first layer become the second layer.
type TwoLayerParams struct {
	// Eps is the minimum distance behind the first layer.
	Eps float32
	// NegateEps compares against (first - Eps) instead of (first + Eps).
	NegateEps bool
	// Compare is the depth comparison.
	Compare Compare
	// UseMaxDepth rejects fragments deeper than MaxDepth.
	UseMaxDepth bool
	MaxDepth    float32
	// UseNormalConstraint culls fragments whose facing, dot(normal, -viewDir), is below NormalThreshold.
	UseNormalConstraint bool
	NormalThreshold     float32
}

// Program returns the fragment program selecting second-layer fragments against a host copy of
// the first layer's linear depth.
//
// Parameters:
//   - firstDepth: the first layer's R32Float depth
//
// Returns:
//   - scene.FragmentProgram: the program
func (p TwoLayerParams) Program(firstDepth *texture.Image) scene.FragmentProgram {
	eps := p.Eps
	if p.NegateEps {
		eps = -eps
	}
	return func(f *scene.Fragment) bool {
		ref := firstDepth.Float(f.X, f.Y)
		if ref >= scene.BackgroundDepth {
			return false
		}
		if !p.Compare.Test(f.Depth, ref+eps) {
			return false
		}
		if p.UseMaxDepth && f.Depth > p.MaxDepth {
			return false
		}
		if p.UseNormalConstraint && -f.Normal.Dot(f.ViewDir) < p.NormalThreshold {
			return false
		}
		return true
	}
}

type generator struct {
	mu   *sync.Mutex
	dev  device.Device
	pool texture.Pool
}

// SingleLayerGenerator rasterizes the nearest visible surface.
type SingleLayerGenerator interface {
	// Generate rasterizes the scene from cam into dst, allocating dst at dim.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - sc: the scene
	//   - cam: the viewpoint
	//   - dim: the frame size
	//   - dst: the layer to fill
	//
	// Returns:
	//   - error: an allocation or rasterization error
	Generate(ctx context.Context, sc scene.Scene, cam camera.Camera, dim common.Uint2, dst *Layer) error
}

// TwoLayerGenerator rasterizes the surface just behind an existing first layer.
type TwoLayerGenerator interface {
	// Generate fills second with the nearest fragments that pass params against first.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - sc: the scene
	//   - cam: the viewpoint first was rendered from
	//   - first: the rendered first layer
	//   - second: the layer to fill, allocated at first's size
	//   - params: the acceptance policy
	//
	// Returns:
	//   - error: ErrNotAllocated, or an allocation, readback or rasterization error
	Generate(ctx context.Context, sc scene.Scene, cam camera.Camera, first, second *Layer, params TwoLayerParams) error
}

var (
	_ SingleLayerGenerator = &generator{}
	_ TwoLayerGenerator    = &twoLayerGenerator{}
)

// NewSingleLayerGenerator creates a SingleLayerGenerator.
//
// Parameters:
//   - dev: the device the layers live on
//   - pool: the pool the layers are allocated from
//
// Returns:
//   - SingleLayerGenerator: the generator
func NewSingleLayerGenerator(dev device.Device, pool texture.Pool) SingleLayerGenerator {
	return &generator{mu: &sync.Mutex{}, dev: dev, pool: pool}
}

func (g *generator) Generate(ctx context.Context, sc scene.Scene, cam camera.Camera, dim common.Uint2, dst *Layer) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := dst.Ensure(g.pool, dim); err != nil {
		return err
	}
	req := scene.RasterRequest{Camera: cam, Dim: dim, Cull: scene.CullNone, Targets: dst.Targets()}
	if err := sc.Rasterize(ctx, g.dev, req); err != nil {
		return fmt.Errorf("gbuffer: rasterize %s: %w", dst.Label, err)
	}
	return nil
}

type twoLayerGenerator struct {
	generator
}

// NewTwoLayerGenerator creates a TwoLayerGenerator.
//
// Parameters:
//   - dev: the device the layers live on
//   - pool: the pool the second layer is allocated from
//
// Returns:
//   - TwoLayerGenerator: the generator
func NewTwoLayerGenerator(dev device.Device, pool texture.Pool) TwoLayerGenerator {
	return &twoLayerGenerator{generator{mu: &sync.Mutex{}, dev: dev, pool: pool}}
}

func (g *twoLayerGenerator) Generate(ctx context.Context, sc scene.Scene, cam camera.Camera, first, second *Layer, params TwoLayerParams) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	dim := first.Dim()
	if dim == (common.Uint2{}) || first.Depth == nil {
		return fmt.Errorf("gbuffer: two-layer input %s: %w", first.Label, ErrNotAllocated)
	}
	if _, err := second.Ensure(g.pool, dim); err != nil {
		return err
	}
	depth, err := g.dev.Readback(ctx, texture.Of(first.Depth))
	if err != nil {
		return fmt.Errorf("gbuffer: read first layer depth: %w", err)
	}
	req := scene.RasterRequest{
		Camera:  cam,
		Dim:     dim,
		Program: params.Program(depth),
		Cull:    scene.CullNone,
		Targets: second.Targets(),
	}
	if err := sc.Rasterize(ctx, g.dev, req); err != nil {
		return fmt.Errorf("gbuffer: rasterize %s: %w", second.Label, err)
	}
	common.Logger().Debug("second layer generated", "component", "gbuffer", "eps", params.Eps, "compare", params.Compare.String())
	return nil
}

// Snapshot copies every member of src into dst, allocating dst at src's size, and waits for the copies.
//
// Parameters:
//   - ctx: the context for the operation
//   - dev: the device both layers live on
//   - pool: the pool dst is allocated from
//   - src: the layer to copy
//   - dst: the copy
//
// Returns:
//   - error: ErrNotAllocated, or an allocation or dispatch error
func Snapshot(ctx context.Context, dev device.Device, pool texture.Pool, src, dst *Layer) error {
	dim := src.Dim()
	if dim == (common.Uint2{}) {
		return fmt.Errorf("gbuffer: snapshot %s: %w", src.Label, ErrNotAllocated)
	}
	if _, err := dst.Ensure(pool, dim); err != nil {
		return err
	}
	from, to := src.slots(), dst.slots()
	for i := range from {
		if err := device.Copy(ctx, dev, *from[i].tex, *to[i].tex); err != nil {
			return fmt.Errorf("gbuffer: snapshot %s: %w", src.Label, err)
		}
	}
	return dev.Barrier(ctx)
}

// RecomputeWorld rebuilds layer.Position from its local positions and instance ids under the
// given object-to-world transforms, so moved instances land where they are now.
//
// Parameters:
//   - ctx: the context for the operation
//   - dev: the device the layer lives on
//   - layer: the layer to update
//   - transforms: object-to-world matrices indexed by instance id
//
// Returns:
//   - error: ErrNotAllocated or a dispatch error
func RecomputeWorld(ctx context.Context, dev device.Device, layer *Layer, transforms []mgl32.Mat4) error {
	dim := layer.Dim()
	if dim == (common.Uint2{}) {
		return fmt.Errorf("gbuffer: recompute %s: %w", layer.Label, ErrNotAllocated)
	}
	b := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcLocalPos, layer.LocalPos).
		SetTexture(kernel.SlotSrcInstanceID, layer.InstanceID).
		SetTexture(kernel.SlotOutPosition, layer.Position)
	p := &kernel.LocalToWorldParams{InstanceCount: uint32(len(transforms)), Transforms: transforms}
	if err := dev.Dispatch(ctx, kernel.New(kernel.LocalToWorld, p, b, dim)); err != nil {
		return fmt.Errorf("gbuffer: recompute %s: %w", layer.Label, err)
	}
	return dev.Barrier(ctx)
}
