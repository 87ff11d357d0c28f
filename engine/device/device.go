// Package device defines the compute collaborator the render passes drive: texture allocation,
// ordered kernel dispatch with explicit barriers, and readback of texture contents.
package device

import (
	"context"
	"errors"

	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

var (
	// ErrUnknownKernel is returned when a dispatch names a kernel the device cannot run.
	ErrUnknownKernel = errors.New("device: unknown kernel")

	// ErrForeignTexture is returned when a texture created by another device is bound or read back.
	ErrForeignTexture = errors.New("device: texture belongs to another device")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("device: closed")
)

// Device runs kernels over textures it allocated. Dispatches are executed in submission order;
// outputs of a dispatch are only guaranteed visible to later dispatches or readbacks after Barrier.
type Device interface {
	texture.Allocator
	texture.Uploader

	// Name returns a short backend name for logging.
	Name() string

	// Dispatch records or runs one kernel invocation.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - d: the dispatch description
	//
	// Returns:
	//   - error: ErrUnknownKernel, a binding error, or a backend failure
	Dispatch(ctx context.Context, d kernel.Dispatch) error

	// Barrier waits until every previously issued dispatch has completed and its writes are visible.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//
	// Returns:
	//   - error: a backend failure or ctx.Err()
	Barrier(ctx context.Context) error

	// Readback copies one subresource into host memory. Implies a barrier.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - view: the subresource to read
	//
	// Returns:
	//   - *texture.Image: the host copy
	//   - error: a backend failure
	Readback(ctx context.Context, view texture.View) (*texture.Image, error)

	// Close releases device resources.
	Close()
}
