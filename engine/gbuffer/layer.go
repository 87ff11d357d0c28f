// Package gbuffer holds the layered attribute bundles of the warp pipeline and the generators
// that fill them: single-layer rasterization, the second-layer depth-peel and the multi-view
// disocclusion sampler.
package gbuffer

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

// ErrMipOutOfRange is returned by ProjectedStack.At for a level the stack was not configured with.
var ErrMipOutOfRange = errors.New("gbuffer: mip level out of range")

// slot is one pool-managed member of a bundle.
type slot struct {
	name   string
	tex    *texture.Texture
	format texture.Format
}

func ensureSlots(pool texture.Pool, label string, dim common.Uint2, slots []slot) (bool, error) {
	reallocated := false
	for _, s := range slots {
		fresh, err := pool.Ensure(s.tex, label+"."+s.name, dim, s.format, device.StorageBind|texture.BindRenderTarget, 1)
		if err != nil {
			return false, fmt.Errorf("gbuffer: %s: %w", label, err)
		}
		reallocated = reallocated || fresh
	}
	return reallocated, nil
}

func invalidateSlots(pool texture.Pool, slots []slot) {
	ptrs := make([]*texture.Texture, len(slots))
	for i, s := range slots {
		ptrs[i] = s.tex
	}
	pool.Invalidate(ptrs...)
}

func collect(slots []slot) []texture.Texture {
	out := make([]texture.Texture, 0, len(slots))
	for _, s := range slots {
		if *s.tex != nil {
			out = append(out, *s.tex)
		}
	}
	return out
}

// Layer is one surface layer: co-registered attribute images at a shared resolution.
type Layer struct {
	Label string

	Position   texture.Texture // RGBA32Float world position, w = 1 where covered
	Normal     texture.Texture // RGBA32Float world normal
	Albedo     texture.Texture // RGBA32Float diffuse color and opacity
	Depth      texture.Texture // R32Float linear depth
	InstanceID texture.Texture // R32Uint instance id
	LocalPos   texture.Texture // RGBA32Float object-space position
	Color      texture.Texture // RGBA32Float shaded render
}

// NewLayer returns an empty layer whose textures are labeled "<label>.<member>".
func NewLayer(label string) *Layer {
	return &Layer{Label: label}
}

func (l *Layer) slots() []slot {
	return []slot{
		{"position", &l.Position, texture.FormatRGBA32Float},
		{"normal", &l.Normal, texture.FormatRGBA32Float},
		{"albedo", &l.Albedo, texture.FormatRGBA32Float},
		{"depth", &l.Depth, texture.FormatR32Float},
		{"instance_id", &l.InstanceID, texture.FormatR32Uint},
		{"local_pos", &l.LocalPos, texture.FormatRGBA32Float},
		{"color", &l.Color, texture.FormatRGBA32Float},
	}
}

// Ensure (re)allocates every member at dim. Members left over from another resolution are replaced.
//
// Parameters:
//   - pool: the texture pool
//   - dim: the frame size
//
// Returns:
//   - bool: true if any member was reallocated
//   - error: an allocation error
func (l *Layer) Ensure(pool texture.Pool, dim common.Uint2) (bool, error) {
	return ensureSlots(pool, l.Label, dim, l.slots())
}

// Invalidate releases every member so the next Ensure reallocates.
func (l *Layer) Invalidate(pool texture.Pool) {
	invalidateSlots(pool, l.slots())
}

// Dim returns the size of the bundle, or zero when it is not allocated.
func (l *Layer) Dim() common.Uint2 {
	if l.Position == nil {
		return common.Uint2{}
	}
	return common.Uint2{X: l.Position.Width(), Y: l.Position.Height()}
}

// Textures returns the allocated members.
func (l *Layer) Textures() []texture.Texture {
	return collect(l.slots())
}

// Targets returns the layer as rasterization targets.
func (l *Layer) Targets() scene.Targets {
	return scene.Targets{
		Position:   l.Position,
		Normal:     l.Normal,
		Albedo:     l.Albedo,
		Depth:      l.Depth,
		InstanceID: l.InstanceID,
		LocalPos:   l.LocalPos,
		Color:      l.Color,
	}
}

// ProjectedLayer is one mip level of a layer warped into a target view.
type ProjectedLayer struct {
	Label string
	Mip   int

	DepthTest texture.Texture // R32Uint winning depth bits, kernel.DepthSentinel where empty
	Normal    texture.Texture
	Albedo    texture.Texture
	Position  texture.Texture
	Coord     texture.Texture // RG32Uint winning source texel, kernel.CoordSentinel where empty
}

func (p *ProjectedLayer) slots() []slot {
	return []slot{
		{"depth_test", &p.DepthTest, texture.FormatR32Uint},
		{"normal", &p.Normal, texture.FormatRGBA32Float},
		{"albedo", &p.Albedo, texture.FormatRGBA32Float},
		{"position", &p.Position, texture.FormatRGBA32Float},
		{"coord", &p.Coord, texture.FormatRG32Uint},
	}
}

// Dim returns the size of the level, or zero when it is not allocated.
func (p *ProjectedLayer) Dim() common.Uint2 {
	if p.DepthTest == nil {
		return common.Uint2{}
	}
	return common.Uint2{X: p.DepthTest.Width(), Y: p.DepthTest.Height()}
}

// Textures returns the allocated members.
func (p *ProjectedLayer) Textures() []texture.Texture {
	return collect(p.slots())
}

// ProjectedStack is a warped layer at mip levels 0..Len()-1, level m being (dim >> m).
type ProjectedStack struct {
	label  string
	levels []ProjectedLayer
}

// NewProjectedStack creates a stack of mips levels. Values below 1 are treated as 1.
func NewProjectedStack(label string, mips int) *ProjectedStack {
	s := &ProjectedStack{label: label, levels: make([]ProjectedLayer, max(mips, 1))}
	for m := range s.levels {
		s.levels[m].Label = fmt.Sprintf("%s.mip%d", label, m)
		s.levels[m].Mip = m
	}
	return s
}

// Len returns the number of mip levels.
func (s *ProjectedStack) Len() int {
	return len(s.levels)
}

// At returns level mip.
//
// Parameters:
//   - mip: the mip level
//
// Returns:
//   - *ProjectedLayer: the level
//   - error: ErrMipOutOfRange if mip is not in [0, Len())
func (s *ProjectedStack) At(mip int) (*ProjectedLayer, error) {
	if mip < 0 || mip >= len(s.levels) {
		return nil, fmt.Errorf("%s: mip %d of %d: %w", s.label, mip, len(s.levels), ErrMipOutOfRange)
	}
	return &s.levels[mip], nil
}

// Ensure (re)allocates every level for a mip 0 size of dim.
func (s *ProjectedStack) Ensure(pool texture.Pool, dim common.Uint2) (bool, error) {
	reallocated := false
	for m := range s.levels {
		l := &s.levels[m]
		fresh, err := ensureSlots(pool, l.Label, dim.Mip(m), l.slots())
		if err != nil {
			return false, err
		}
		reallocated = reallocated || fresh
	}
	return reallocated, nil
}

// Invalidate releases every level.
func (s *ProjectedStack) Invalidate(pool texture.Pool) {
	for m := range s.levels {
		invalidateSlots(pool, s.levels[m].slots())
	}
}

// MergedLayer is the per-pixel combination of two projected stacks.
type MergedLayer struct {
	Label string

	Mask     texture.Texture // R32Uint provenance, one of the kernel.Mask* values
	Normal   texture.Texture
	Albedo   texture.Texture
	Position texture.Texture
	Coord    texture.Texture
	Render   texture.Texture // RGBA32Float shaded result
}

// NewMergedLayer returns an empty merged layer.
func NewMergedLayer(label string) *MergedLayer {
	return &MergedLayer{Label: label}
}

func (m *MergedLayer) slots() []slot {
	return []slot{
		{"mask", &m.Mask, texture.FormatR32Uint},
		{"normal", &m.Normal, texture.FormatRGBA32Float},
		{"albedo", &m.Albedo, texture.FormatRGBA32Float},
		{"position", &m.Position, texture.FormatRGBA32Float},
		{"coord", &m.Coord, texture.FormatRG32Uint},
		{"render", &m.Render, texture.FormatRGBA32Float},
	}
}

// Ensure (re)allocates every member at dim.
func (m *MergedLayer) Ensure(pool texture.Pool, dim common.Uint2) (bool, error) {
	return ensureSlots(pool, m.Label, dim, m.slots())
}

// Invalidate releases every member.
func (m *MergedLayer) Invalidate(pool texture.Pool) {
	invalidateSlots(pool, m.slots())
}

// Dim returns the size of the layer, or zero when it is not allocated.
func (m *MergedLayer) Dim() common.Uint2 {
	if m.Mask == nil {
		return common.Uint2{}
	}
	return common.Uint2{X: m.Mask.Width(), Y: m.Mask.Height()}
}

// Textures returns the allocated members.
func (m *MergedLayer) Textures() []texture.Texture {
	return collect(m.slots())
}
