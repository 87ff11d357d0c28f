package warp

import (
	"context"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

// SplatParams controls the Gaussian splat.
type SplatParams struct {
	// KernelSize is the number of taps per axis.
	KernelSize int
	// Sigma is the spatial falloff in texels.
	Sigma float32
	// DistSigma is the depth-similarity falloff against the nearest sample at each tap.
	DistSigma float32
	// Stride is the texel spacing between taps.
	Stride int
}

// DefaultSplatParams returns a 5x5 kernel with unit stride.
func DefaultSplatParams() SplatParams {
	return SplatParams{KernelSize: 5, Sigma: 1, DistSigma: 1, Stride: 1}
}

// SplatSource is the point set a splat scatters: world positions (w = 1 where valid) and their colors.
type SplatSource struct {
	Position texture.Texture
	Color    texture.Texture
}

type splatter struct {
	mu   *sync.Mutex
	dev  device.Device
	pool texture.Pool

	depthTest texture.Texture
	accum     texture.Texture
}

// Splatter forward-projects colored points into a target view and spreads each over a Gaussian
// footprint, so magnification leaves no pinholes.
type Splatter interface {
	// Splat renders src into dst. Texels no splat reaches take fallback, or zero when fallback is nil.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - src: the points to splat
	//   - targetViewProj: the target camera's view-projection
	//   - dst: the RGBA32Float output
	//   - fallback: optional color for uncovered texels, at dst's size
	//   - params: the splat parameters
	//
	// Returns:
	//   - error: an allocation or dispatch error
	Splat(ctx context.Context, src SplatSource, targetViewProj mgl32.Mat4, dst, fallback texture.Texture, params SplatParams) error

	// Invalidate releases the scratch textures.
	Invalidate()
}

var _ Splatter = &splatter{}

// NewSplatter creates a Splatter whose scratch textures come from pool.
func NewSplatter(dev device.Device, pool texture.Pool) Splatter {
	return &splatter{mu: &sync.Mutex{}, dev: dev, pool: pool}
}

func (s *splatter) Splat(ctx context.Context, src SplatSource, targetViewProj mgl32.Mat4, dst, fallback texture.Texture, params SplatParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.Position == nil || src.Color == nil || dst == nil {
		return fmt.Errorf("warp: splat needs a position, a color and a destination")
	}
	dstDim := texture.Of(dst).Dim()
	srcDim := texture.Of(src.Position).Dim()
	if _, err := s.pool.Ensure(&s.depthTest, "splat.depth_test", dstDim, texture.FormatR32Uint, device.StorageBind, 1); err != nil {
		return fmt.Errorf("warp: %w", err)
	}
	if _, err := s.pool.Ensure(&s.accum, "splat.accum", dstDim, texture.FormatRGBA32Float, device.StorageBind, 1); err != nil {
		return fmt.Errorf("warp: %w", err)
	}
	if err := device.Clear(ctx, s.dev, s.depthTest, s.accum); err != nil {
		return err
	}
	if err := s.dev.Barrier(ctx); err != nil {
		return err
	}

	wp := &kernel.WarpParams{TargetViewProj: targetViewProj, SrcDim: srcDim, DstDim: dstDim, SubPixelSamples: 1}
	test := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, src.Position).
		SetTexture(kernel.SlotDepthTest, s.depthTest)
	if err := s.dev.Dispatch(ctx, kernel.New(kernel.WarpDepthTest, wp, test, srcDim)); err != nil {
		return err
	}
	if err := s.dev.Barrier(ctx); err != nil {
		return err
	}

	sp := &kernel.SplatParams{
		TargetViewProj: targetViewProj,
		SrcDim:         srcDim,
		DstDim:         dstDim,
		KernelSize:     uint32(max(params.KernelSize, 1)),
		Stride:         uint32(max(params.Stride, 1)),
		Sigma:          params.Sigma,
		DistSigma:      params.DistSigma,
	}
	acc := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, src.Position).
		SetTexture(kernel.SlotSrcColor, src.Color).
		SetTexture(kernel.SlotDepthTest, s.depthTest).
		SetTexture(kernel.SlotOutColor, s.accum)
	if err := s.dev.Dispatch(ctx, kernel.New(kernel.SplatAccumulate, sp, acc, srcDim)); err != nil {
		return err
	}
	if err := s.dev.Barrier(ctx); err != nil {
		return err
	}

	norm := kernel.Bindings{}.
		SetTexture(kernel.SlotSrc, s.accum).
		SetTexture(kernel.SlotDst, dst).
		SetTexture(kernel.SlotFallback, fallback)
	if err := s.dev.Dispatch(ctx, kernel.New(kernel.SplatNormalize, &kernel.EmptyParams{}, norm, dstDim)); err != nil {
		return err
	}
	return s.dev.Barrier(ctx)
}

func (s *splatter) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool.Invalidate(&s.depthTest, &s.accum)
}
