// Package warp forward-projects layers into a target view. Every scatter is two dispatches with a
// barrier between them: a depth test that settles which source texel wins each target texel, and a
// write in which only the winners store their attributes.
package warp

import (
	"context"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

// Params controls a layer warp.
type Params struct {
	// SubPixel scatters SubPixelSamples x SubPixelSamples interpolated samples per source texel,
	// closing the gaps magnification leaves.
	SubPixel        bool
	SubPixelSamples int
	// Levels is the number of mip levels warped. Zero warps every level of the stack.
	Levels int
}

func (p Params) samples() uint32 {
	if !p.SubPixel {
		return 1
	}
	return uint32(max(p.SubPixelSamples, 1))
}

// Target receives one warp. DepthTest is required; nil attribute textures are skipped.
type Target struct {
	DepthTest texture.Texture
	Position  texture.Texture
	Normal    texture.Texture
	Albedo    texture.Texture
	Color     texture.Texture
	Coord     texture.Texture
}

// TargetOf returns one projected level as a warp target.
func TargetOf(level *gbuffer.ProjectedLayer) Target {
	return Target{
		DepthTest: level.DepthTest,
		Position:  level.Position,
		Normal:    level.Normal,
		Albedo:    level.Albedo,
		Coord:     level.Coord,
	}
}

type engine struct {
	mu  *sync.Mutex
	dev device.Device
}

// Engine scatters layers into target views.
type Engine interface {
	// Warp projects src into every mip level of stack through targetViewProj. Each level is
	// cleared to its sentinels first.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - src: the source layer
	//   - targetViewProj: the target camera's view-projection
	//   - stack: the allocated destination stack
	//   - params: the warp parameters
	//
	// Returns:
	//   - error: a dispatch error
	Warp(ctx context.Context, src *gbuffer.Layer, targetViewProj mgl32.Mat4, stack *gbuffer.ProjectedStack, params Params) error

	// WarpTo projects src into a single target through targetViewProj after clearing it.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - src: the source layer
	//   - targetViewProj: the target camera's view-projection
	//   - dst: the destination textures
	//   - params: the warp parameters
	//
	// Returns:
	//   - error: a missing depth-test texture or a dispatch error
	WarpTo(ctx context.Context, src *gbuffer.Layer, targetViewProj mgl32.Mat4, dst Target, params Params) error

	// Motion derives per-texel motion vectors and linear depth from a target WarpTo filled.
	// Motion points from a target texel back to its source texel in uv units; texels no source
	// reached get zero in both outputs.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - warped: the warped target, with DepthTest and Coord set
	//   - srcDim: the size of the layer that was warped
	//   - motion: RG32Float motion output
	//   - linearZ: RG32Float linear depth output, derivative channel zero
	//
	// Returns:
	//   - error: a missing input or a dispatch error
	Motion(ctx context.Context, warped Target, srcDim common.Uint2, motion, linearZ texture.Texture) error
}

var _ Engine = &engine{}

// NewEngine creates a warp Engine on dev.
func NewEngine(dev device.Device) Engine {
	return &engine{mu: &sync.Mutex{}, dev: dev}
}

func (e *engine) Warp(ctx context.Context, src *gbuffer.Layer, targetViewProj mgl32.Mat4, stack *gbuffer.ProjectedStack, params Params) error {
	levels := stack.Len()
	if params.Levels > 0 {
		levels = min(levels, params.Levels)
	}
	for m := range levels {
		level, err := stack.At(m)
		if err != nil {
			return err
		}
		if err := e.WarpTo(ctx, src, targetViewProj, TargetOf(level), params); err != nil {
			return fmt.Errorf("warp: %s: %w", level.Label, err)
		}
	}
	return nil
}

func (e *engine) WarpTo(ctx context.Context, src *gbuffer.Layer, targetViewProj mgl32.Mat4, dst Target, params Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dst.DepthTest == nil {
		return fmt.Errorf("warp: target has no depth-test texture")
	}
	if err := device.Clear(ctx, e.dev, dst.DepthTest, dst.Position, dst.Normal, dst.Albedo, dst.Color, dst.Coord); err != nil {
		return err
	}
	if err := e.dev.Barrier(ctx); err != nil {
		return err
	}

	srcDim, dstDim := src.Dim(), texture.Of(dst.DepthTest).Dim()
	p := &kernel.WarpParams{
		TargetViewProj:  targetViewProj,
		SrcDim:          srcDim,
		DstDim:          dstDim,
		SubPixelSamples: params.samples(),
	}
	test := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, src.Position).
		SetTexture(kernel.SlotDepthTest, dst.DepthTest)
	if err := e.dev.Dispatch(ctx, kernel.New(kernel.WarpDepthTest, p, test, srcDim)); err != nil {
		return err
	}
	if err := e.dev.Barrier(ctx); err != nil {
		return err
	}

	write := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcPosition, src.Position).
		SetTexture(kernel.SlotDepthTest, dst.DepthTest).
		SetTexture(kernel.SlotOutPosition, dst.Position).
		SetTexture(kernel.SlotOutCoord, dst.Coord)
	pair := func(s kernel.Slot, from texture.Texture, d kernel.Slot, to texture.Texture) {
		if from != nil && to != nil {
			write.SetTexture(s, from).SetTexture(d, to)
		}
	}
	pair(kernel.SlotSrcNormal, src.Normal, kernel.SlotOutNormal, dst.Normal)
	pair(kernel.SlotSrcAlbedo, src.Albedo, kernel.SlotOutAlbedo, dst.Albedo)
	pair(kernel.SlotSrcColor, src.Color, kernel.SlotOutColor, dst.Color)
	if err := e.dev.Dispatch(ctx, kernel.New(kernel.WarpWrite, p, write, srcDim)); err != nil {
		return err
	}
	if err := e.dev.Barrier(ctx); err != nil {
		return err
	}
	common.Logger().Debug("layer warped", "component", "warp", "src", src.Label, "dst", dst.DepthTest.Label(), "size", dstDim.String())
	return nil
}

func (e *engine) Motion(ctx context.Context, warped Target, srcDim common.Uint2, motion, linearZ texture.Texture) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if warped.DepthTest == nil || warped.Coord == nil {
		return fmt.Errorf("warp: motion needs the depth-test and coord textures of a warp target")
	}
	if motion == nil || linearZ == nil {
		return nil
	}
	b := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcCoord, warped.Coord).
		SetTexture(kernel.SlotDepthTest, warped.DepthTest).
		SetTexture(kernel.SlotDst, motion).
		SetTexture(kernel.SlotOutDepth, linearZ)
	dim := texture.Of(motion).Dim()
	p := &kernel.MotionParams{SrcDim: srcDim, DstDim: texture.Of(warped.DepthTest).Dim()}
	if err := e.dev.Dispatch(ctx, kernel.New(kernel.ForwardMotion, p, b, dim)); err != nil {
		return err
	}
	return e.dev.Barrier(ctx)
}
