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
)

// MergeParams controls the layer merge.
type MergeParams struct {
	// NearestThreshold is the nearest-fill search radius in texels. Zero disables the fill.
	NearestThreshold int
	// UsedMipLevel is the mip level trusted first. Coarser levels are only searched by the fill.
	UsedMipLevel int
}

type merger struct {
	mu  *sync.Mutex
	dev device.Device
}

// Merger combines two warped stacks into one merged layer.
type Merger interface {
	// Merge resolves every output texel from the first layer, then the second layer, then a
	// bounded nearest search over the trusted and coarser mips. Texels nothing resolves get
	// kernel.MaskInvalid.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - first: the warped first layer
	//   - second: the warped second layer, with as many levels as first
	//   - out: the allocated output
	//   - params: the merge parameters
	//
	// Returns:
	//   - error: a stack mismatch or a dispatch error
	Merge(ctx context.Context, first, second *gbuffer.ProjectedStack, out *gbuffer.MergedLayer, params MergeParams) error

	// Shade fills out.Render: texels resolved from the first layer take the center render at
	// their source texel, texels resolved from the second layer take their albedo.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - out: a merged layer filled by Merge
	//   - centerRender: the color of the frame the first layer was captured with
	//
	// Returns:
	//   - error: a dispatch error
	Shade(ctx context.Context, out *gbuffer.MergedLayer, centerRender texture.Texture) error
}

var _ Merger = &merger{}

// NewMerger creates a Merger on dev.
func NewMerger(dev device.Device) Merger {
	return &merger{mu: &sync.Mutex{}, dev: dev}
}

func bindStack(b kernel.Bindings, stack *gbuffer.ProjectedStack, depth, normal, albedo, position, coord kernel.Slot) error {
	for m := range stack.Len() {
		level, err := stack.At(m)
		if err != nil {
			return err
		}
		for _, s := range []struct {
			slot kernel.Slot
			tex  texture.Texture
		}{
			{depth, level.DepthTest},
			{normal, level.Normal},
			{albedo, level.Albedo},
			{position, level.Position},
			{coord, level.Coord},
		} {
			if s.tex != nil {
				b.SetLevel(s.slot, m, texture.Of(s.tex))
			}
		}
	}
	return nil
}

func (mg *merger) Merge(ctx context.Context, first, second *gbuffer.ProjectedStack, out *gbuffer.MergedLayer, params MergeParams) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if first.Len() != second.Len() {
		return fmt.Errorf("warp: merge of %d and %d mip levels", first.Len(), second.Len())
	}
	dim := out.Dim()
	if dim == (common.Uint2{}) {
		return fmt.Errorf("warp: merge into %s: %w", out.Label, gbuffer.ErrNotAllocated)
	}
	b := kernel.Bindings{}
	if err := bindStack(b, first, kernel.SlotFirstDepthTest, kernel.SlotFirstNormal, kernel.SlotFirstAlbedo, kernel.SlotFirstPosition, kernel.SlotFirstCoord); err != nil {
		return err
	}
	if err := bindStack(b, second, kernel.SlotSecondDepthTest, kernel.SlotSecondNormal, kernel.SlotSecondAlbedo, kernel.SlotSecondPosition, kernel.SlotSecondCoord); err != nil {
		return err
	}
	b.SetTexture(kernel.SlotOutMask, out.Mask).
		SetTexture(kernel.SlotOutNormal, out.Normal).
		SetTexture(kernel.SlotOutAlbedo, out.Albedo).
		SetTexture(kernel.SlotOutPosition, out.Position).
		SetTexture(kernel.SlotOutCoord, out.Coord)
	p := &kernel.MergeParams{
		FrameDim:         dim,
		UsedMipLevel:     uint32(common.Clamp(params.UsedMipLevel, 0, first.Len()-1)),
		MipCount:         uint32(first.Len()),
		NearestThreshold: uint32(max(params.NearestThreshold, 0)),
	}
	if err := mg.dev.Dispatch(ctx, kernel.New(kernel.Merge, p, b, dim)); err != nil {
		return fmt.Errorf("warp: merge: %w", err)
	}
	return mg.dev.Barrier(ctx)
}

func (mg *merger) Shade(ctx context.Context, out *gbuffer.MergedLayer, centerRender texture.Texture) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	b := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcMask, out.Mask).
		SetTexture(kernel.SlotSrcCoord, out.Coord).
		SetTexture(kernel.SlotSrcAlbedo, out.Albedo).
		SetTexture(kernel.SlotCenterRender, centerRender).
		SetTexture(kernel.SlotOutColor, out.Render)
	if err := mg.dev.Dispatch(ctx, kernel.New(kernel.ShadeMerged, &kernel.EmptyParams{}, b, out.Dim())); err != nil {
		return fmt.Errorf("warp: shade merged: %w", err)
	}
	return mg.dev.Barrier(ctx)
}
