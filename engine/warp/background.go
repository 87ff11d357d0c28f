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

type background struct {
	mu     *sync.Mutex
	dev    device.Device
	pool   texture.Pool
	engine Engine

	color    texture.Texture
	position texture.Texture
	filled   bool

	// reprojection of the stored background into the collecting view
	depthTest      texture.Texture
	warpedColor    texture.Texture
	warpedPosition texture.Texture
	outColor       texture.Texture
	outPosition    texture.Texture
}

// Background accumulates, per texel, the farthest surface seen across a series of frames, so
// regions an occluder uncovers later still have a color to show.
type Background interface {
	// Collect merges one frame into the background. The first frame after Reset is copied; later
	// frames are merged with the stored background reprojected into the frame's view, keeping the
	// farther sample along the view direction.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - pose: the frame's camera pose
	//   - viewProj: the frame's view-projection
	//   - color: the frame's RGBA32Float color
	//   - position: the frame's RGBA32Float world position, w = 1 where covered
	//
	// Returns:
	//   - error: an allocation or dispatch error
	Collect(ctx context.Context, pose common.Pose, viewProj mgl32.Mat4, color, position texture.Texture) error

	// Project warps the stored background into dst through viewProj.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - viewProj: the target view-projection
	//   - dst: the destination; DepthTest is required
	//
	// Returns:
	//   - error: an error if nothing was collected, or a dispatch error
	Project(ctx context.Context, viewProj mgl32.Mat4, dst Target) error

	// Color returns the stored background color, nil before the first Collect.
	Color() texture.Texture

	// Position returns the stored background world position, nil before the first Collect.
	Position() texture.Texture

	// Filled reports whether a frame has been collected since the last Reset.
	Filled() bool

	// Reset makes the next Collect start a new background.
	Reset()

	// Invalidate releases every texture and resets.
	Invalidate()
}

var _ Background = &background{}

// NewBackground creates an empty Background.
//
// Parameters:
//   - dev: the device the textures live on
//   - pool: the pool the textures are allocated from
//   - engine: the warp engine used for reprojection
//
// Returns:
//   - Background: the accumulator
func NewBackground(dev device.Device, pool texture.Pool, engine Engine) Background {
	return &background{mu: &sync.Mutex{}, dev: dev, pool: pool, engine: engine}
}

func (b *background) ensure(dim common.Uint2) error {
	rgba := []*texture.Texture{&b.color, &b.position, &b.warpedColor, &b.warpedPosition, &b.outColor, &b.outPosition}
	labels := []string{"color", "position", "warped_color", "warped_position", "out_color", "out_position"}
	for i, slot := range rgba {
		reallocated, err := b.pool.Ensure(slot, "background."+labels[i], dim, texture.FormatRGBA32Float, device.StorageBind, 1)
		if err != nil {
			return fmt.Errorf("warp: background: %w", err)
		}
		if reallocated && i < 2 {
			b.filled = false
		}
	}
	if _, err := b.pool.Ensure(&b.depthTest, "background.depth_test", dim, texture.FormatR32Uint, device.StorageBind, 1); err != nil {
		return fmt.Errorf("warp: background: %w", err)
	}
	return nil
}

func (b *background) Collect(ctx context.Context, pose common.Pose, viewProj mgl32.Mat4, color, position texture.Texture) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if color == nil || position == nil {
		return fmt.Errorf("warp: background needs a color and a position")
	}
	if err := b.ensure(texture.Of(color).Dim()); err != nil {
		return err
	}

	if !b.filled {
		if err := device.Copy(ctx, b.dev, color, b.color); err != nil {
			return err
		}
		if err := device.Copy(ctx, b.dev, position, b.position); err != nil {
			return err
		}
		if err := b.dev.Barrier(ctx); err != nil {
			return err
		}
		b.filled = true
		common.Logger().Debug("background started", "component", "warp")
		return nil
	}

	stored := &gbuffer.Layer{Label: "background", Position: b.position, Color: b.color}
	dst := Target{DepthTest: b.depthTest, Position: b.warpedPosition, Color: b.warpedColor}
	if err := b.engine.WarpTo(ctx, stored, viewProj, dst, Params{}); err != nil {
		return err
	}

	forward := pose.Target.Sub(pose.Position)
	bind := kernel.Bindings{}.
		SetTexture(kernel.SlotSrcColor, color).
		SetTexture(kernel.SlotSrcPosition, position).
		SetTexture(kernel.SlotBackgroundColor, b.warpedColor).
		SetTexture(kernel.SlotBackgroundPosition, b.warpedPosition).
		SetTexture(kernel.SlotOutColor, b.outColor).
		SetTexture(kernel.SlotOutPosition, b.outPosition)
	p := &kernel.BackgroundParams{Eye: pose.Position, Forward: forward}
	if err := b.dev.Dispatch(ctx, kernel.New(kernel.BackgroundCollect, p, bind, texture.Of(color).Dim())); err != nil {
		return fmt.Errorf("warp: background: %w", err)
	}
	if err := b.dev.Barrier(ctx); err != nil {
		return err
	}
	if err := device.Copy(ctx, b.dev, b.outColor, b.color); err != nil {
		return err
	}
	if err := device.Copy(ctx, b.dev, b.outPosition, b.position); err != nil {
		return err
	}
	return b.dev.Barrier(ctx)
}

func (b *background) Project(ctx context.Context, viewProj mgl32.Mat4, dst Target) error {
	b.mu.Lock()
	filled, color, position := b.filled, b.color, b.position
	b.mu.Unlock()
	if !filled {
		return fmt.Errorf("warp: background is empty")
	}
	stored := &gbuffer.Layer{Label: "background", Position: position, Color: color}
	return b.engine.WarpTo(ctx, stored, viewProj, dst, Params{})
}

func (b *background) Color() texture.Texture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.color
}

func (b *background) Position() texture.Texture {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

func (b *background) Filled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filled
}

func (b *background) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filled = false
}

func (b *background) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pool.Invalidate(&b.color, &b.position, &b.depthTest, &b.warpedColor, &b.warpedPosition, &b.outColor, &b.outPosition)
	b.filled = false
}
