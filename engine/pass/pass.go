// Package pass holds the frame-level render passes: TwoLayeredGbuffers, which regenerates a two-layer
// scene representation every few frames and reprojects it in between, and ForwardExtrapolation, which
// synthesizes frames between rendered ones by splatting the last rendered frame into a predicted view.
package pass

import (
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

// Pass is one node of a host render graph. Execute is called once per frame, never concurrently.
type Pass interface {
	// Name returns the pass name used in render graphs.
	Name() string

	// Reflect returns the named textures the pass reads and writes.
	Reflect() Reflection

	// Fields enumerates the pass's tunables for a host UI.
	Fields() []Param

	// SetScene binds a scene. Frame state resets and every owned texture is released.
	// A nil scene unbinds; Execute then does nothing.
	//
	// Parameters:
	//   - sc: the scene
	SetScene(sc scene.Scene)

	// Execute runs one frame.
	//
	// Parameters:
	//   - ctx: the context for the frame
	//   - data: the frame size and the textures bound to the pass's fields
	//
	// Returns:
	//   - error: a binding mismatch, or an allocation, rasterization or dispatch error
	Execute(ctx context.Context, data RenderData) error

	// Release frees every owned texture.
	Release()
}

// publish copies each named source into the output bound under the same name and waits for the copies.
func publish(ctx context.Context, dev device.Device, data RenderData, sources map[string]texture.Texture) error {
	for name, src := range sources {
		if err := device.Copy(ctx, dev, src, data.Get(name)); err != nil {
			return fmt.Errorf("pass: publish %s: %w", name, err)
		}
	}
	return dev.Barrier(ctx)
}
