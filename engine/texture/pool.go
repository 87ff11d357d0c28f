package texture

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
)

// Pool lazily (re)allocates textures held in caller-owned slots. A slot is reallocated only
// when it is empty or its size, array size or format no longer matches the request, so
// calling Ensure every frame is idempotent while the frame size is stable.
type Pool interface {
	// Ensure makes *slot a texture of the requested shape, allocating or reallocating as needed.
	// A held texture is kept when it carries at least the requested bind flags, and released
	// when it is replaced.
	//
	// Parameters:
	//   - slot: the caller-owned slot to fill
	//   - label: the debug label for a new allocation
	//   - dim: the requested width and height
	//   - format: the requested texel format
	//   - bind: the requested bind flags
	//   - layers: the requested array size (0 is treated as 1)
	//
	// Returns:
	//   - bool: true if a new texture was allocated
	//   - error: an error if the allocation failed, in which case *slot is left empty
	Ensure(slot *Texture, label string, dim common.Uint2, format Format, bind BindFlags, layers uint32) (bool, error)

	// Invalidate releases and clears every given slot so the next Ensure reallocates it.
	//
	// Parameters:
	//   - slots: the slots to clear; nil slots and empty slots are skipped
	Invalidate(slots ...*Texture)

	// Allocations returns the number of textures the pool has allocated since creation.
	//
	// Returns:
	//   - int: the allocation count
	Allocations() int

	// Allocator returns the allocator the pool creates textures with.
	//
	// Returns:
	//   - Allocator: the backing allocator
	Allocator() Allocator
}

type pool struct {
	mu          *sync.Mutex
	allocator   Allocator
	mipLevels   int
	allocations int
}

var _ Pool = &pool{}

// NewPool creates a Pool backed by the given allocator.
//
// Parameters:
//   - allocator: the device allocator new textures come from
//   - options: variadic list of PoolBuilderOption functions
//
// Returns:
//   - Pool: the new pool
func NewPool(allocator Allocator, options ...PoolBuilderOption) Pool {
	p := &pool{
		mu:        &sync.Mutex{},
		allocator: allocator,
		mipLevels: 1,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *pool) Ensure(slot *Texture, label string, dim common.Uint2, format Format, bind BindFlags, layers uint32) (bool, error) {
	if slot == nil {
		return false, fmt.Errorf("texture pool: nil slot for %q", label)
	}
	if layers == 0 {
		layers = 1
	}
	if cur := *slot; cur != nil &&
		cur.Width() == dim.X && cur.Height() == dim.Y &&
		cur.ArraySize() == layers && cur.Format() == format &&
		cur.Bind()&bind == bind {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if cur := *slot; cur != nil {
		cur.Release()
		*slot = nil
	}

	desc := Descriptor{
		Label:     label,
		Width:     dim.X,
		Height:    dim.Y,
		ArraySize: layers,
		MipLevels: p.mipLevels,
		Format:    format,
		Bind:      bind,
	}
	if err := desc.Validate(); err != nil {
		return false, fmt.Errorf("texture pool: %q: %w", label, err)
	}
	t, err := p.allocator.Create2D(desc)
	if err != nil {
		return false, fmt.Errorf("texture pool: failed to allocate %q: %w", label, err)
	}
	*slot = t
	p.allocations++
	common.Logger().Debug("texture allocated", "label", label, "size", dim.String(), "layers", layers, "format", format.String())
	return true, nil
}

func (p *pool) Invalidate(slots ...*Texture) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range slots {
		if s == nil || *s == nil {
			continue
		}
		(*s).Release()
		*s = nil
	}
}

func (p *pool) Allocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocations
}

func (p *pool) Allocator() Allocator {
	return p.allocator
}
