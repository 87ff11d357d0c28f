package device

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

// StorageBind is the bind set of every texture a kernel both reads and writes.
const StorageBind = texture.BindShaderResource | texture.BindUnorderedAccess

// ClearValue returns the "empty" texel of a format: the depth sentinel for R32Uint depth-test
// buffers, the coordinate sentinel for RG32Uint coordinate buffers and zero for float formats.
func ClearValue(format texture.Format) [4]uint32 {
	switch format {
	case texture.FormatR32Uint:
		return [4]uint32{kernel.DepthSentinel}
	case texture.FormatRG32Uint:
		return [4]uint32{kernel.CoordSentinel, kernel.CoordSentinel}
	}
	return [4]uint32{}
}

// Clear dispatches the Clear kernel over mip 0 of every non-nil texture with its format's
// ClearValue. It does not issue a barrier.
//
// Parameters:
//   - ctx: the context for the operation
//   - dev: the device the textures belong to
//   - textures: the textures to clear
//
// Returns:
//   - error: the first dispatch error
func Clear(ctx context.Context, dev Device, textures ...texture.Texture) error {
	for _, t := range textures {
		if t == nil {
			continue
		}
		if err := ClearTo(ctx, dev, texture.Of(t), ClearValue(t.Format())); err != nil {
			return err
		}
	}
	return nil
}

// ClearTo dispatches the Clear kernel over one subresource with an explicit value.
//
// Parameters:
//   - ctx: the context for the operation
//   - dev: the device the texture belongs to
//   - view: the subresource to clear
//   - value: the raw channel words written to every texel
//
// Returns:
//   - error: the dispatch error
func ClearTo(ctx context.Context, dev Device, view texture.View, value [4]uint32) error {
	d := kernel.New(kernel.Clear, &kernel.ClearParams{Value: value},
		kernel.Bindings{}.Set(kernel.SlotDst, view), view.Dim())
	if err := dev.Dispatch(ctx, d); err != nil {
		return fmt.Errorf("device: clear %q: %w", view.Texture.Label(), err)
	}
	return nil
}

// Copy dispatches the Copy kernel from src to dst. Either being nil is a no-op.
// It does not issue a barrier.
//
// Parameters:
//   - ctx: the context for the operation
//   - dev: the device both textures belong to
//   - src: the source texture
//   - dst: the destination texture
//
// Returns:
//   - error: the dispatch error
func Copy(ctx context.Context, dev Device, src, dst texture.Texture) error {
	if src == nil || dst == nil {
		return nil
	}
	dim := common.Uint2{X: min(src.Width(), dst.Width()), Y: min(src.Height(), dst.Height())}
	b := kernel.Bindings{}.SetTexture(kernel.SlotSrc, src).SetTexture(kernel.SlotDst, dst)
	if err := dev.Dispatch(ctx, kernel.New(kernel.Copy, &kernel.EmptyParams{}, b, dim)); err != nil {
		return fmt.Errorf("device: copy %q to %q: %w", src.Label(), dst.Label(), err)
	}
	return nil
}
