package kernel

import (
	_ "embed"
	"encoding/binary"
	"math"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

// packer appends little-endian words into a fixed-size parameter block.
type packer struct {
	buf []byte
	off int
}

func newPacker(size int) *packer {
	return &packer{buf: make([]byte, size)}
}

func (p *packer) u32(v uint32) *packer {
	binary.LittleEndian.PutUint32(p.buf[p.off:], v)
	p.off += 4
	return p
}

func (p *packer) f32(v float32) *packer {
	return p.u32(math.Float32bits(v))
}

func (p *packer) uint2(v common.Uint2) *packer {
	return p.u32(v.X).u32(v.Y)
}

// vec3 writes a vec3<f32> padded to 16 bytes.
func (p *packer) vec3(v mgl32.Vec3) *packer {
	return p.f32(v[0]).f32(v[1]).f32(v[2]).u32(0)
}

func (p *packer) mat4(m mgl32.Mat4) *packer {
	for i := range 16 {
		p.f32(m[i])
	}
	return p
}

func (p *packer) bytes() []byte {
	return p.buf
}

// ClearParams is the parameter block of Clear.
// Size: 16 bytes.
type ClearParams struct {
	Value [4]uint32 // offset 0: raw channel words written to every texel (vec4<u32>)
}

// Size returns the size of the ClearParams block in bytes.
//
// Returns:
//   - int: the block size in bytes (16)
func (c *ClearParams) Size() int {
	return 16
}

// Marshal serializes the ClearParams block for upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (c *ClearParams) Marshal() []byte {
	p := newPacker(c.Size())
	for _, v := range c.Value {
		p.u32(v)
	}
	return p.bytes()
}

// GPUEmptyParamsSource is the WGSL definition of the EmptyParams struct read by GPU kernels.
//
//go:embed assets/empty_params.wgsl
var GPUEmptyParamsSource string

// EmptyParams is the parameter block of kernels that only need their bindings
// (Copy, SeedDepthKeys, SplatNormalize, ShadeMerged). It marshals to 16 zero bytes.
type EmptyParams struct{}

// Size returns the size of the EmptyParams block in bytes.
func (e *EmptyParams) Size() int {
	return 16
}

// Marshal serializes the EmptyParams block for upload.
func (e *EmptyParams) Marshal() []byte {
	return make([]byte, e.Size())
}

// GPULocalToWorldParamsSource is the WGSL definition of the LocalToWorldParams struct read by GPU kernels.
//
//go:embed assets/local_to_world_params.wgsl
var GPULocalToWorldParamsSource string

// LocalToWorldParams is the parameter block of LocalToWorld. Transforms is indexed by instance ID;
// IDs at or past InstanceCount keep their local position.
// Size: 16 + 64*MaxInstances bytes.
type LocalToWorldParams struct {
	InstanceCount uint32       // offset  0: number of valid transforms (u32) + 12 bytes padding
	Transforms    []mgl32.Mat4 // offset 16: array<mat4x4<f32>, MaxInstances>
}

// Size returns the size of the LocalToWorldParams block in bytes.
//
// Returns:
//   - int: the block size in bytes
func (l *LocalToWorldParams) Size() int {
	return 16 + 64*MaxInstances
}

// Marshal serializes the LocalToWorldParams block for upload. Transforms beyond MaxInstances are dropped.
//
// Returns:
//   - []byte: the serialized byte buffer
func (l *LocalToWorldParams) Marshal() []byte {
	p := newPacker(l.Size())
	count := min(l.InstanceCount, uint32(len(l.Transforms)), MaxInstances)
	p.u32(count).u32(0).u32(0).u32(0)
	for i := range count {
		p.mat4(l.Transforms[i])
	}
	return p.bytes()
}

// GPUDisocclusionParamsSource is the WGSL definition of the DisocclusionParams struct read by GPU kernels.
//
//go:embed assets/disocclusion_params.wgsl
var GPUDisocclusionParamsSource string

// DisocclusionParams is the parameter block of DisocclusionDepthTest and DisocclusionWrite.
// Size: 96 bytes.
type DisocclusionParams struct {
	CenterViewProj mgl32.Mat4  // offset  0: center camera view-projection (mat4x4<f32>)
	FrameDim       common.Uint2 // offset 64: center frame size (vec2<u32>)
	Eps            float32     // offset 72: minimum distance behind the first layer (f32)
	RenderScale    float32     // offset 76: NDC footprint scale admitting near-edge samples (f32)
	SrcDim         common.Uint2 // offset 80: auxiliary view size (vec2<u32>) + 8 bytes padding
}

// Size returns the size of the DisocclusionParams block in bytes.
//
// Returns:
//   - int: the block size in bytes (96)
func (d *DisocclusionParams) Size() int {
	return 96
}

// Marshal serializes the DisocclusionParams block for upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (d *DisocclusionParams) Marshal() []byte {
	p := newPacker(d.Size())
	p.mat4(d.CenterViewProj).uint2(d.FrameDim).f32(d.Eps).f32(d.RenderScale).uint2(d.SrcDim)
	return p.bytes()
}

// GPUWarpParamsSource is the WGSL definition of the WarpParams struct read by GPU kernels.
//
//go:embed assets/warp_params.wgsl
var GPUWarpParamsSource string

// WarpParams is the parameter block of WarpDepthTest and WarpWrite.
// Size: 96 bytes.
type WarpParams struct {
	TargetViewProj  mgl32.Mat4  // offset  0: target camera view-projection (mat4x4<f32>)
	SrcDim          common.Uint2 // offset 64: source layer size (vec2<u32>)
	DstDim          common.Uint2 // offset 72: target mip size (vec2<u32>)
	SubPixelSamples uint32      // offset 80: samples per source texel axis, 1 disables sub-pixel warping (u32)
	_pad            [3]uint32   // offset 84: padding to 96 bytes
}

// Size returns the size of the WarpParams block in bytes.
//
// Returns:
//   - int: the block size in bytes (96)
func (w *WarpParams) Size() int {
	return 96
}

// Marshal serializes the WarpParams block for upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (w *WarpParams) Marshal() []byte {
	p := newPacker(w.Size())
	p.mat4(w.TargetViewProj).uint2(w.SrcDim).uint2(w.DstDim).u32(max(w.SubPixelSamples, 1))
	return p.bytes()
}

// GPUSplatParamsSource is the WGSL definition of the SplatParams struct read by GPU kernels.
//
//go:embed assets/splat_params.wgsl
var GPUSplatParamsSource string

// SplatParams is the parameter block of SplatAccumulate.
// Size: 96 bytes.
type SplatParams struct {
	TargetViewProj mgl32.Mat4  // offset  0: target camera view-projection (mat4x4<f32>)
	SrcDim         common.Uint2 // offset 64: source size (vec2<u32>)
	DstDim         common.Uint2 // offset 72: target size (vec2<u32>)
	KernelSize     uint32      // offset 80: taps per axis (u32)
	Stride         uint32      // offset 84: texel spacing between taps (u32)
	Sigma          float32     // offset 88: spatial falloff in texels (f32)
	DistSigma      float32     // offset 92: depth-similarity falloff in depth units (f32)
}

// Size returns the size of the SplatParams block in bytes.
//
// Returns:
//   - int: the block size in bytes (96)
func (s *SplatParams) Size() int {
	return 96
}

// Marshal serializes the SplatParams block for upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (s *SplatParams) Marshal() []byte {
	p := newPacker(s.Size())
	p.mat4(s.TargetViewProj).uint2(s.SrcDim).uint2(s.DstDim).
		u32(s.KernelSize).u32(s.Stride).f32(s.Sigma).f32(s.DistSigma)
	return p.bytes()
}

// GPUMergeParamsSource is the WGSL definition of the MergeParams struct read by GPU kernels.
//
//go:embed assets/merge_params.wgsl
var GPUMergeParamsSource string

// MergeParams is the parameter block of Merge.
// Size: 32 bytes.
type MergeParams struct {
	FrameDim         common.Uint2 // offset  0: output size (vec2<u32>)
	UsedMipLevel     uint32      // offset  8: mip level trusted first (u32)
	MipCount         uint32      // offset 12: number of bound mip levels (u32)
	NearestThreshold uint32      // offset 16: nearest-fill search radius in texels, 0 disables fill (u32)
	_pad             [3]uint32   // offset 20: padding to 32 bytes
}

// Size returns the size of the MergeParams block in bytes.
//
// Returns:
//   - int: the block size in bytes (32)
func (m *MergeParams) Size() int {
	return 32
}

// Marshal serializes the MergeParams block for upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (m *MergeParams) Marshal() []byte {
	p := newPacker(m.Size())
	p.uint2(m.FrameDim).u32(m.UsedMipLevel).u32(m.MipCount).u32(m.NearestThreshold)
	return p.bytes()
}

// GPUBackgroundParamsSource is the WGSL definition of the BackgroundParams struct read by GPU kernels.
//
//go:embed assets/background_params.wgsl
var GPUBackgroundParamsSource string

// BackgroundParams is the parameter block of BackgroundCollect.
// Size: 32 bytes.
type BackgroundParams struct {
	Eye     mgl32.Vec3 // offset  0: current camera position (vec3<f32>) + 4 bytes padding
	Forward mgl32.Vec3 // offset 16: current camera view direction (vec3<f32>) + 4 bytes padding
}

// Size returns the size of the BackgroundParams block in bytes.
//
// Returns:
//   - int: the block size in bytes (32)
func (b *BackgroundParams) Size() int {
	return 32
}

// Marshal serializes the BackgroundParams block for upload.
//
// Returns:
//   - []byte: the serialized byte buffer
func (b *BackgroundParams) Marshal() []byte {
	p := newPacker(b.Size())
	p.vec3(b.Eye).vec3(b.Forward)
	return p.bytes()
}

// GPUMotionParamsSource is the WGSL definition of the MotionParams struct read by GPU kernels.
//
//go:embed assets/motion_params.wgsl
var GPUMotionParamsSource string

// MotionParams is the parameter block of ForwardMotion.
// Size: 16 bytes.
type MotionParams struct {
	SrcDim common.Uint2 // offset 0: source frame size (vec2<u32>)
	DstDim common.Uint2 // offset 8: target size (vec2<u32>)
}

// Size returns the size of the MotionParams block in bytes.
func (m *MotionParams) Size() int {
	return 16
}

// Marshal serializes the MotionParams block for upload.
func (m *MotionParams) Marshal() []byte {
	p := newPacker(m.Size())
	p.uint2(m.SrcDim).uint2(m.DstDim)
	return p.bytes()
}
