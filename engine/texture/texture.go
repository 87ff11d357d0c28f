// Package texture describes 2D GPU image resources and the pool that lazily (re)allocates them.
package texture

import (
	"context"
	"errors"
	"math"

	"github.com/Carmen-Shannon/oxy-warp/common"
)

// ErrZeroDimension is returned when a texture is requested with a zero width, height or array size.
var ErrZeroDimension = errors.New("texture: zero dimension")

// Format is the per-texel storage format of a texture.
type Format int

const (
	// FormatUnknown is the zero value and is never allocated.
	FormatUnknown Format = iota

	// FormatRGBA32Float stores four 32-bit floats per texel (positions, normals, albedo, color).
	FormatRGBA32Float

	// FormatR32Float stores one 32-bit float per texel (linear depth).
	FormatR32Float

	// FormatR32Uint stores one 32-bit unsigned integer per texel (depth-test keys, instance IDs, masks).
	FormatR32Uint

	// FormatRG32Uint stores two 32-bit unsigned integers per texel (source texel coordinates).
	FormatRG32Uint

	// FormatRG32Float stores two 32-bit floats per texel (screen-space motion vectors, linear depth pairs).
	FormatRG32Float
)

// Channels returns the number of 32-bit channels per texel.
func (f Format) Channels() int {
	switch f {
	case FormatRGBA32Float:
		return 4
	case FormatRG32Uint, FormatRG32Float:
		return 2
	case FormatR32Float, FormatR32Uint:
		return 1
	}
	return 0
}

// IsUint reports whether the format stores unsigned integers rather than floats.
func (f Format) IsUint() bool {
	return f == FormatR32Uint || f == FormatRG32Uint
}

func (f Format) String() string {
	switch f {
	case FormatRGBA32Float:
		return "RGBA32Float"
	case FormatR32Float:
		return "R32Float"
	case FormatR32Uint:
		return "R32Uint"
	case FormatRG32Uint:
		return "RG32Uint"
	case FormatRG32Float:
		return "RG32Float"
	}
	return "Unknown"
}

// BindFlags is a bitset describing how a texture may be bound.
type BindFlags uint32

const (
	// BindShaderResource allows read-only sampling/loading from kernels.
	BindShaderResource BindFlags = 1 << iota

	// BindUnorderedAccess allows random-access (and atomic) writes from kernels.
	BindUnorderedAccess

	// BindRenderTarget allows the texture to be a rasterization target.
	BindRenderTarget
)

// Has reports whether all bits of o are set in b.
func (b BindFlags) Has(o BindFlags) bool {
	return b&o == o
}

// Descriptor fully describes a 2D texture (optionally an array of slices) to allocate.
type Descriptor struct {
	Label     string
	Width     uint32
	Height    uint32
	ArraySize uint32
	MipLevels int
	Format    Format
	Bind      BindFlags
}

// Validate checks the descriptor for values no allocator can satisfy.
//
// Returns:
//   - error: ErrZeroDimension or nil
func (d Descriptor) Validate() error {
	if d.Width == 0 || d.Height == 0 || d.ArraySize == 0 || d.MipLevels < 1 {
		return ErrZeroDimension
	}
	if d.Format == FormatUnknown {
		return errors.New("texture: unknown format")
	}
	return nil
}

// Texture is an opaque handle to a device-resident 2D image. Contents are only reachable
// through the device (dispatch, readback) or through Accessor when the backing store is host memory.
type Texture interface {
	// Label returns the debug label given at creation.
	Label() string

	// Width returns the mip 0 width in texels.
	Width() uint32

	// Height returns the mip 0 height in texels.
	Height() uint32

	// ArraySize returns the number of array slices.
	ArraySize() uint32

	// MipLevels returns the number of mip levels.
	MipLevels() int

	// Format returns the per-texel format.
	Format() Format

	// Bind returns the bind flags the texture was created with.
	Bind() BindFlags

	// Release frees the device memory. The handle must not be used afterwards.
	Release()
}

// Allocator creates textures. Implemented by every device backend.
type Allocator interface {
	// Create2D allocates a zero-initialized 2D texture.
	//
	// Parameters:
	//   - desc: the texture description
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if the description is invalid or the device is out of memory
	Create2D(desc Descriptor) (Texture, error)
}

// Accessor is implemented by textures whose storage is host-addressable. Values are raw
// 32-bit channel words; float channels hold math.Float32bits values. Channels beyond the
// format's count are ignored on store and zero on load.
type Accessor interface {
	// Load reads the raw channels of one texel.
	Load(x, y, mip, slice int) [4]uint32

	// Store writes the raw channels of one texel.
	Store(x, y, mip, slice int, v [4]uint32)
}

// View addresses one subresource (mip level + array slice) of a texture.
type View struct {
	Texture Texture
	Mip     int
	Slice   int
}

// Of returns a view of mip 0, slice 0.
func Of(t Texture) View {
	return View{Texture: t}
}

// Dim returns the size of the viewed subresource.
func (v View) Dim() common.Uint2 {
	if v.Texture == nil {
		return common.Uint2{}
	}
	return common.Uint2{X: v.Texture.Width(), Y: v.Texture.Height()}.Mip(v.Mip)
}

// Float4 packs four floats into raw channel words.
func Float4(r, g, b, a float32) [4]uint32 {
	return [4]uint32{math.Float32bits(r), math.Float32bits(g), math.Float32bits(b), math.Float32bits(a)}
}

// AsFloat4 unpacks raw channel words into floats.
func AsFloat4(v [4]uint32) [4]float32 {
	return [4]float32{
		math.Float32frombits(v[0]), math.Float32frombits(v[1]),
		math.Float32frombits(v[2]), math.Float32frombits(v[3]),
	}
}

// Uploader copies host images into device textures.
type Uploader interface {
	// Upload writes img into one subresource. The image size must match the subresource size.
	//
	// Parameters:
	//   - ctx: the context for the operation
	//   - view: the destination subresource
	//   - img: the source image, in the texture's format
	//
	// Returns:
	//   - error: a size/format mismatch or backend failure
	Upload(ctx context.Context, view View, img *Image) error
}
