package gbuffer

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

// DisocclusionParams controls the auxiliary views of one regeneration.
type DisocclusionParams struct {
	// CameraCount is the number of auxiliary views.
	CameraCount int
	// Radius is the offset of views 1-4 when Adaptive is off, and the bound of random views.
	Radius float32
	// Adaptive scales the radius with camera speed: max(|speed| * RadiusScale, MinRadius).
	Adaptive    bool
	RadiusScale float32
	MinRadius   float32
	// RenderScale enlarges the center projection footprint so samples just outside the frame
	// are kept on the border texels.
	RenderScale float32
	// Eps is the minimum distance behind the center first layer.
	Eps float32
}

// EffectiveRadius returns the offset radius for a camera moving at speed.
func (p DisocclusionParams) EffectiveRadius(speed mgl32.Vec3) float32 {
	if p.Adaptive {
		return max(speed.Len()*p.RadiusScale, p.MinRadius)
	}
	return p.Radius
}

type disocclusionSampler struct {
	mu   *sync.Mutex
	dev  device.Device
	pool texture.Pool
	rng  *rand.Rand

	scratch   *Layer
	depthTest texture.Texture
}

// DisocclusionSampler renders auxiliary views around the center camera and accumulates the
// geometry they see behind the center first layer into the second layer.
type DisocclusionSampler interface {
	// Offsets returns the eye offset of every auxiliary view. View 0 moves by the camera speed,
	// views 1-4 move right, left, up and down by the effective radius, and later views move a
	// random distance within the radius in a random direction of the view plane.
	//
	// Parameters:
	//   - center: the center camera pose
	//   - speed: the center camera displacement since the last key frame
	//   - params: the sampling parameters
	//
	// Returns:
	//   - []mgl32.Vec3: one offset per auxiliary view
	Offsets(center common.Pose, speed mgl32.Vec3, params DisocclusionParams) []mgl32.Vec3

	// Sample renders every auxiliary view and depth-tests its texels into second. A texel
	// replaces what second already holds only when it is nearer.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - sc: the scene
	//   - center: the center camera
	//   - speed: the center camera displacement since the last key frame
	//   - first: the center first layer
	//   - second: the running second layer, allocated at first's size
	//   - params: the sampling parameters
	//
	// Returns:
	//   - error: ErrNotAllocated, or an allocation, rasterization or dispatch error
	Sample(ctx context.Context, sc scene.Scene, center camera.Camera, speed mgl32.Vec3, first, second *Layer, params DisocclusionParams) error

	// Invalidate releases the scratch textures.
	Invalidate()
}

var _ DisocclusionSampler = &disocclusionSampler{}

// NewDisocclusionSampler creates a DisocclusionSampler.
//
// Parameters:
//   - dev: the device the layers live on
//   - pool: the pool scratch textures are allocated from
//   - options: variadic list of SamplerBuilderOption functions
//
// Returns:
//   - DisocclusionSampler: the sampler
func NewDisocclusionSampler(dev device.Device, pool texture.Pool, options ...SamplerBuilderOption) DisocclusionSampler {
	s := &disocclusionSampler{
		mu:      &sync.Mutex{},
		dev:     dev,
		pool:    pool,
		scratch: NewLayer("disocclusion.scratch"),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

func (s *disocclusionSampler) Offsets(center common.Pose, speed mgl32.Vec3, params DisocclusionParams) []mgl32.Vec3 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offsets(center, speed, params)
}

func (s *disocclusionSampler) offsets(center common.Pose, speed mgl32.Vec3, params DisocclusionParams) []mgl32.Vec3 {
	right, up := center.Basis()
	radius := params.EffectiveRadius(speed)
	axes := [4]mgl32.Vec3{right, right.Mul(-1), up, up.Mul(-1)}

	out := make([]mgl32.Vec3, 0, max(params.CameraCount, 0))
	for i := range max(params.CameraCount, 0) {
		switch {
		case i == 0:
			out = append(out, speed)
		case i <= 4:
			out = append(out, axes[i-1].Mul(radius))
		default:
			angle := s.rng.Float64() * 2 * math.Pi
			scale := s.rng.Float32() * radius
			dir := right.Mul(float32(math.Cos(angle))).Add(up.Mul(float32(math.Sin(angle))))
			out = append(out, dir.Mul(scale))
		}
	}
	return out
}

func (s *disocclusionSampler) Sample(ctx context.Context, sc scene.Scene, center camera.Camera, speed mgl32.Vec3, first, second *Layer, params DisocclusionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := first.Dim()
	if dim == (common.Uint2{}) || second.Dim() != dim {
		return fmt.Errorf("gbuffer: disocclusion sampling into %s: %w", second.Label, ErrNotAllocated)
	}
	if _, err := s.scratch.Ensure(s.pool, dim); err != nil {
		return err
	}
	if _, err := s.pool.Ensure(&s.depthTest, "disocclusion.depth_test", dim, texture.FormatR32Uint, device.StorageBind, 1); err != nil {
		return fmt.Errorf("gbuffer: %w", err)
	}

	seed := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, second.Position).
		SetTexture(kernel.SlotSrcDepth, second.Depth).
		SetTexture(kernel.SlotDepthTest, s.depthTest)
	if err := s.dev.Dispatch(ctx, kernel.New(kernel.SeedDepthKeys, &kernel.EmptyParams{}, seed, dim)); err != nil {
		return fmt.Errorf("gbuffer: seed disocclusion depth: %w", err)
	}
	if err := s.dev.Barrier(ctx); err != nil {
		return err
	}

	kp := &kernel.DisocclusionParams{
		CenterViewProj: center.ViewProjectionNoJitter(),
		FrameDim:       dim,
		Eps:            params.Eps,
		RenderScale:    params.RenderScale,
		SrcDim:         dim,
	}
	test := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, s.scratch.Position).
		SetTexture(kernel.SlotRefDepth, first.Depth).
		SetTexture(kernel.SlotDepthTest, s.depthTest)
	write := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, s.scratch.Position).
		SetTexture(kernel.SlotRefDepth, first.Depth).
		SetTexture(kernel.SlotDepthTest, s.depthTest).
		SetTexture(kernel.SlotSrcNormal, s.scratch.Normal).
		SetTexture(kernel.SlotSrcAlbedo, s.scratch.Albedo).
		SetTexture(kernel.SlotSrcInstanceID, s.scratch.InstanceID).
		SetTexture(kernel.SlotSrcLocalPos, s.scratch.LocalPos).
		SetTexture(kernel.SlotOutPosition, second.Position).
		SetTexture(kernel.SlotOutNormal, second.Normal).
		SetTexture(kernel.SlotOutAlbedo, second.Albedo).
		SetTexture(kernel.SlotOutInstanceID, second.InstanceID).
		SetTexture(kernel.SlotOutLocalPos, second.LocalPos).
		SetTexture(kernel.SlotOutDepth, second.Depth)

	targets := s.scratch.Targets()
	targets.Color = nil
	base := center.Pose()
	for i, offset := range s.offsets(base, speed, params) {
		aux := center.Clone()
		aux.SetPose(base.Translate(offset))
		req := scene.RasterRequest{Camera: aux, Dim: dim, Cull: scene.CullNone, Targets: targets}
		if err := sc.Rasterize(ctx, s.dev, req); err != nil {
			return fmt.Errorf("gbuffer: rasterize auxiliary view %d: %w", i, err)
		}
		if err := s.dev.Dispatch(ctx, kernel.New(kernel.DisocclusionDepthTest, kp, test, dim)); err != nil {
			return fmt.Errorf("gbuffer: auxiliary view %d depth test: %w", i, err)
		}
		if err := s.dev.Barrier(ctx); err != nil {
			return err
		}
		if err := s.dev.Dispatch(ctx, kernel.New(kernel.DisocclusionWrite, kp, write, dim)); err != nil {
			return fmt.Errorf("gbuffer: auxiliary view %d write: %w", i, err)
		}
		if err := s.dev.Barrier(ctx); err != nil {
			return err
		}
		common.Logger().Debug("auxiliary view sampled", "component", "gbuffer", "view", i, "offset", offset)
	}
	return nil
}

func (s *disocclusionSampler) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratch.Invalidate(s.pool)
	s.pool.Invalidate(&s.depthTest)
}
