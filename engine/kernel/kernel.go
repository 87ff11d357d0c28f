// Package kernel defines the typed dispatch contract between the render passes and a compute device:
// which kernels exist, what parameter block each one reads and which texture slots it binds.
package kernel

import (
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

const (
	// DepthSentinel is the cleared value of a depth-test buffer, meaning "no source landed here".
	DepthSentinel uint32 = math.MaxUint32

	// CoordSentinel is the cleared value of a source-coordinate buffer, meaning "unfilled".
	CoordSentinel uint32 = 100000

	// MaxInstances is the number of instance transforms a LocalToWorld dispatch can carry.
	MaxInstances = 256
)

// Merge mask values, recording where each merged texel came from.
const (
	MaskInvalid    uint32 = 0
	MaskFirst      uint32 = 1
	MaskSecond     uint32 = 2
	MaskFillFirst  uint32 = 3
	MaskFillSecond uint32 = 4
)

// ID identifies a compute kernel.
type ID int

const (
	// Clear fills every texel of Dst with ClearParams.Value and resets its depth keys.
	Clear ID = iota

	// Copy copies Src into Dst texel for texel.
	Copy

	// LocalToWorld rebuilds world positions from local positions and per-instance transforms.
	LocalToWorld

	// SeedDepthKeys loads an existing layer's linear depth into a depth-test buffer so later
	// depth tests compete against it.
	SeedDepthKeys

	// DisocclusionDepthTest projects auxiliary-view texels into the center view and records the
	// nearest one that lies behind the center first layer.
	DisocclusionDepthTest

	// DisocclusionWrite writes the winning auxiliary-view texels into the second layer.
	DisocclusionWrite

	// WarpDepthTest projects source texels into a target view and records the nearest depth per target texel.
	WarpDepthTest

	// WarpWrite writes the attributes of the texels that won WarpDepthTest.
	WarpWrite

	// SplatAccumulate spreads each projected source color over a Gaussian neighborhood.
	SplatAccumulate

	// SplatNormalize divides accumulated splat color by accumulated weight.
	SplatNormalize

	// Merge combines the warped first and second layers into one buffer with nearest-valid fill.
	Merge

	// ShadeMerged fills the merged render target from the center render and merged attributes.
	ShadeMerged

	// BackgroundCollect keeps, per texel, the farther of the current frame and the reprojected background.
	BackgroundCollect

	// ForwardMotion turns a warp target into screen-space motion back to the source frame and
	// linear depth.
	ForwardMotion

	kernelCount
)

var kernelNames = [kernelCount]string{
	Clear:                 "clear",
	Copy:                  "copy",
	LocalToWorld:          "local_to_world",
	SeedDepthKeys:         "seed_depth_keys",
	DisocclusionDepthTest: "disocclusion_depth_test",
	DisocclusionWrite:     "disocclusion_write",
	WarpDepthTest:         "warp_depth_test",
	WarpWrite:             "warp_write",
	SplatAccumulate:       "splat_accumulate",
	SplatNormalize:        "splat_normalize",
	Merge:                 "merge",
	ShadeMerged:           "shade_merged",
	BackgroundCollect:     "background_collect",
	ForwardMotion:         "forward_motion",
}

// String returns the kernel's source name (the WGSL file stem for GPU devices).
func (id ID) String() string {
	if id < 0 || id >= kernelCount {
		return fmt.Sprintf("kernel(%d)", int(id))
	}
	return kernelNames[id]
}

// Valid reports whether id names a known kernel.
func (id ID) Valid() bool {
	return id >= 0 && id < kernelCount
}

// All returns every known kernel in declaration order.
func All() []ID {
	ids := make([]ID, 0, kernelCount)
	for id := ID(0); id < kernelCount; id++ {
		ids = append(ids, id)
	}
	return ids
}

// Slot is a typed texture binding point of a kernel.
type Slot int

// Texture binding slots. Src*/Out* slots are per-texel inputs and outputs, First*/Second*
// slots are the warped layer stacks read by Merge.
const (
	SlotSrc Slot = iota
	SlotDst

	SlotSrcPosition
	SlotSrcNormal
	SlotSrcAlbedo
	SlotSrcColor
	SlotSrcLocalPos
	SlotSrcInstanceID
	SlotSrcDepth
	SlotSrcCoord
	SlotSrcMask

	SlotRefDepth
	SlotDepthTest

	SlotOutPosition
	SlotOutNormal
	SlotOutAlbedo
	SlotOutColor
	SlotOutCoord
	SlotOutLocalPos
	SlotOutInstanceID
	SlotOutDepth
	SlotOutMask

	SlotBackgroundColor
	SlotBackgroundPosition
	SlotFallback
	SlotCenterRender

	SlotFirstDepthTest
	SlotFirstNormal
	SlotFirstAlbedo
	SlotFirstPosition
	SlotFirstCoord

	SlotSecondDepthTest
	SlotSecondNormal
	SlotSecondAlbedo
	SlotSecondPosition
	SlotSecondCoord

	slotCount
)

var slotNames = [slotCount]string{
	SlotSrc:                "src",
	SlotDst:                "dst",
	SlotSrcPosition:        "src_position",
	SlotSrcNormal:          "src_normal",
	SlotSrcAlbedo:          "src_albedo",
	SlotSrcColor:           "src_color",
	SlotSrcLocalPos:        "src_local_pos",
	SlotSrcInstanceID:      "src_instance_id",
	SlotSrcDepth:           "src_depth",
	SlotSrcCoord:           "src_coord",
	SlotSrcMask:            "src_mask",
	SlotRefDepth:           "ref_depth",
	SlotDepthTest:          "depth_test",
	SlotOutPosition:        "out_position",
	SlotOutNormal:          "out_normal",
	SlotOutAlbedo:          "out_albedo",
	SlotOutColor:           "out_color",
	SlotOutCoord:           "out_coord",
	SlotOutLocalPos:        "out_local_pos",
	SlotOutInstanceID:      "out_instance_id",
	SlotOutDepth:           "out_depth",
	SlotOutMask:            "out_mask",
	SlotBackgroundColor:    "bg_color",
	SlotBackgroundPosition: "bg_position",
	SlotFallback:           "fallback",
	SlotCenterRender:       "center_render",
	SlotFirstDepthTest:     "first_depth_test",
	SlotFirstNormal:        "first_normal",
	SlotFirstAlbedo:        "first_albedo",
	SlotFirstPosition:      "first_position",
	SlotFirstCoord:         "first_coord",
	SlotSecondDepthTest:    "second_depth_test",
	SlotSecondNormal:       "second_normal",
	SlotSecondAlbedo:       "second_albedo",
	SlotSecondPosition:     "second_position",
	SlotSecondCoord:        "second_coord",
}

func (s Slot) String() string {
	if s < 0 || s >= slotCount {
		return fmt.Sprintf("slot(%d)", int(s))
	}
	return slotNames[s]
}

// Binding addresses a slot at a given level. Level is non-zero only for kernels that read a whole
// mip stack (Merge), where level N of a slot binds the stack's mip N texture.
type Binding struct {
	Slot  Slot
	Level int
}

// Name returns the shader variable name of the binding: the slot name, suffixed with _<level> above level 0.
func (b Binding) Name() string {
	if b.Level == 0 {
		return b.Slot.String()
	}
	return fmt.Sprintf("%s_%d", b.Slot, b.Level)
}

// Bindings maps binding points to texture views.
type Bindings map[Binding]texture.View

// Set binds a view to slot level 0.
//
// Parameters:
//   - slot: the binding slot
//   - view: the texture view
//
// Returns:
//   - Bindings: the receiver, for chaining
func (b Bindings) Set(slot Slot, view texture.View) Bindings {
	b[Binding{Slot: slot}] = view
	return b
}

// SetTexture binds mip 0, slice 0 of a texture to slot level 0. A nil texture is skipped.
func (b Bindings) SetTexture(slot Slot, t texture.Texture) Bindings {
	if t != nil {
		b[Binding{Slot: slot}] = texture.Of(t)
	}
	return b
}

// SetLevel binds a view to a slot at the given level.
func (b Bindings) SetLevel(slot Slot, level int, view texture.View) Bindings {
	b[Binding{Slot: slot, Level: level}] = view
	return b
}

// Get returns the view bound to slot level 0.
func (b Bindings) Get(slot Slot) (texture.View, bool) {
	v, ok := b[Binding{Slot: slot}]
	return v, ok && v.Texture != nil
}

// GetLevel returns the view bound to a slot at the given level.
func (b Bindings) GetLevel(slot Slot, level int) (texture.View, bool) {
	v, ok := b[Binding{Slot: slot, Level: level}]
	return v, ok && v.Texture != nil
}

// Params is a kernel parameter block. Marshal produces the little-endian, 16-byte aligned
// layout the kernel's uniform block reads at binding 0.
type Params interface {
	// Size returns the marshaled size in bytes.
	Size() int

	// Marshal serializes the block for upload.
	Marshal() []byte
}

// Dispatch is one kernel invocation over an index domain.
type Dispatch struct {
	Kernel   ID
	Params   Params
	Bindings Bindings
	Domain   [3]uint32
}

// New builds a dispatch over a 2D domain.
//
// Parameters:
//   - id: the kernel to run
//   - params: the kernel's parameter block
//   - bindings: the texture bindings
//   - dim: the 2D index domain
//
// Returns:
//   - Dispatch: the dispatch description
func New(id ID, params Params, bindings Bindings, dim common.Uint2) Dispatch {
	return Dispatch{
		Kernel:   id,
		Params:   params,
		Bindings: bindings,
		Domain:   [3]uint32{dim.X, dim.Y, 1},
	}
}

// Require returns the view bound to slot level 0, or an error naming the kernel and slot.
func (d Dispatch) Require(slot Slot) (texture.View, error) {
	v, ok := d.Bindings.Get(slot)
	if !ok {
		return texture.View{}, fmt.Errorf("kernel %s: missing binding %s", d.Kernel, slot)
	}
	return v, nil
}
