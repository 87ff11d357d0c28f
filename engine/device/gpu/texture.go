package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/cogentcore/webgpu/wgpu"
)

// mirrorRowAlign is the byte alignment of every row copied between a texture and a buffer.
const mirrorRowAlign = 256

// textureUsage is the usage of every texture the device allocates: any texture may be loaded,
// written by a kernel, mirrored into a buffer or uploaded to.
const textureUsage = wgpu.TextureUsageTextureBinding | wgpu.TextureUsageStorageBinding |
	wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst

// wgpuFormatMap maps engine texture formats to wgpu formats.
var wgpuFormatMap = map[texture.Format]wgpu.TextureFormat{
	texture.FormatRGBA32Float: wgpu.TextureFormatRGBA32Float,
	texture.FormatR32Float:    wgpu.TextureFormatR32Float,
	texture.FormatR32Uint:     wgpu.TextureFormatR32Uint,
	texture.FormatRG32Uint:    wgpu.TextureFormatRG32Uint,
	texture.FormatRG32Float:   wgpu.TextureFormatRG32Float,
}

// engineFormatOf maps a wgpu format back to the engine format, for placeholder textures.
func engineFormatOf(f wgpu.TextureFormat) (texture.Format, bool) {
	for k, v := range wgpuFormatMap {
		if v == f {
			return k, true
		}
	}
	return texture.FormatUnknown, false
}

type gpuTexture struct {
	desc     texture.Descriptor
	owner    *gpuDevice
	texture  *wgpu.Texture
	released atomic.Bool
}

var _ texture.Texture = &gpuTexture{}

func newGPUTexture(owner *gpuDevice, desc texture.Descriptor) (*gpuTexture, error) {
	format, ok := wgpuFormatMap[desc.Format]
	if !ok {
		return nil, fmt.Errorf("unsupported format %s", desc.Format)
	}
	t, err := owner.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     desc.Label,
		Usage:     textureUsage,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.ArraySize,
		},
		Format:        format,
		MipLevelCount: uint32(desc.MipLevels),
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	return &gpuTexture{desc: desc, owner: owner, texture: t}, nil
}

func (t *gpuTexture) Label() string           { return t.desc.Label }
func (t *gpuTexture) Width() uint32           { return t.desc.Width }
func (t *gpuTexture) Height() uint32          { return t.desc.Height }
func (t *gpuTexture) ArraySize() uint32       { return t.desc.ArraySize }
func (t *gpuTexture) MipLevels() int          { return t.desc.MipLevels }
func (t *gpuTexture) Format() texture.Format  { return t.desc.Format }
func (t *gpuTexture) Bind() texture.BindFlags { return t.desc.Bind }

// Release destroys the wgpu texture. Pending command buffers that reference it keep it alive
// until they complete.
func (t *gpuTexture) Release() {
	if t.released.Swap(true) {
		return
	}
	t.texture.Release()
}

// subresource is a validated view of a gpuTexture.
type subresource struct {
	tex   *gpuTexture
	mip   uint32
	slice uint32
	dim   common.Uint2
}

func (t *gpuTexture) sub(mip, slice int) (subresource, error) {
	if t.released.Load() {
		return subresource{}, fmt.Errorf("gpu texture %q: used after release", t.desc.Label)
	}
	if mip < 0 || mip >= t.desc.MipLevels || slice < 0 || slice >= int(t.desc.ArraySize) {
		return subresource{}, fmt.Errorf("gpu texture %q: subresource mip %d slice %d out of range", t.desc.Label, mip, slice)
	}
	return subresource{
		tex:   t,
		mip:   uint32(mip),
		slice: uint32(slice),
		dim:   common.Uint2{X: t.desc.Width, Y: t.desc.Height}.Mip(mip),
	}, nil
}

// copyTexture addresses the subresource for copy commands.
func (s subresource) copyTexture() *wgpu.ImageCopyTexture {
	return &wgpu.ImageCopyTexture{
		Texture:  s.tex.texture,
		MipLevel: s.mip,
		Origin:   wgpu.Origin3D{Z: s.slice},
		Aspect:   wgpu.TextureAspectAll,
	}
}

func (s subresource) extent() *wgpu.Extent3D {
	return &wgpu.Extent3D{Width: s.dim.X, Height: s.dim.Y, DepthOrArrayLayers: 1}
}

// view creates a single-level, single-layer 2D view of the subresource.
func (s subresource) view() (*wgpu.TextureView, error) {
	return s.tex.texture.CreateView(&wgpu.TextureViewDescriptor{
		Label:           s.tex.desc.Label + " View",
		Format:          wgpuFormatMap[s.tex.desc.Format],
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    s.mip,
		MipLevelCount:   1,
		BaseArrayLayer:  s.slice,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspectAll,
	})
}

// texelBytes returns the size of one texel of the subresource.
func (s subresource) texelBytes() uint32 {
	return uint32(s.tex.desc.Format.Channels()) * 4
}

// paddedRowBytes returns the row pitch of the subresource in a buffer copy.
func (s subresource) paddedRowBytes() uint32 {
	return uint32(roundUpAlign(mirrorRowAlign, uint64(s.dim.X*s.texelBytes())))
}

// bufferLayout returns the layout of the subresource in a row-padded buffer.
func (s subresource) bufferLayout() wgpu.TextureDataLayout {
	return wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  s.paddedRowBytes(),
		RowsPerImage: s.dim.Y,
	}
}

// bufferSize returns the size of a row-padded buffer holding the subresource.
func (s subresource) bufferSize() uint64 {
	return uint64(s.paddedRowBytes()) * uint64(s.dim.Y)
}
