package cpu

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

// subresource is one mip level of one array slice, stored as raw 32-bit channel words.
// R32Uint storage textures also carry a 64-bit key plane used by the nearest-wins depth tests:
// the high word is the depth bits, the low word the linear index of the source texel.
type subresource struct {
	width    int
	height   int
	channels int
	data     []uint32
	keys     []uint64
}

func newSubresource(width, height, channels int, withKeys bool) *subresource {
	s := &subresource{
		width:    width,
		height:   height,
		channels: channels,
		data:     make([]uint32, width*height*channels),
	}
	if withKeys {
		s.keys = make([]uint64, width*height)
		for i := range s.keys {
			s.keys[i] = math.MaxUint64
		}
	}
	return s
}

func (s *subresource) in(x, y int) bool {
	return x >= 0 && y >= 0 && x < s.width && y < s.height
}

func (s *subresource) index(x, y int) int {
	return y*s.width + x
}

func (s *subresource) dim() common.Uint2 {
	return common.Uint2{X: uint32(s.width), Y: uint32(s.height)}
}

func (s *subresource) load(x, y int) [4]uint32 {
	var out [4]uint32
	if !s.in(x, y) {
		return out
	}
	base := s.index(x, y) * s.channels
	copy(out[:s.channels], s.data[base:base+s.channels])
	return out
}

func (s *subresource) loadFloat4(x, y int) [4]float32 {
	return texture.AsFloat4(s.load(x, y))
}

func (s *subresource) loadFloat(x, y int) float32 {
	return math.Float32frombits(s.load(x, y)[0])
}

func (s *subresource) store(x, y int, v [4]uint32) {
	if !s.in(x, y) {
		return
	}
	base := s.index(x, y) * s.channels
	copy(s.data[base:base+s.channels], v[:s.channels])
}

type cpuTexture struct {
	desc     texture.Descriptor
	owner    *cpuDevice
	subs     []*subresource
	released atomic.Bool
}

var (
	_ texture.Texture  = &cpuTexture{}
	_ texture.Accessor = &cpuTexture{}
)

func newCPUTexture(owner *cpuDevice, desc texture.Descriptor) *cpuTexture {
	t := &cpuTexture{
		desc:  desc,
		owner: owner,
		subs:  make([]*subresource, 0, int(desc.ArraySize)*desc.MipLevels),
	}
	withKeys := desc.Format == texture.FormatR32Uint && desc.Bind.Has(texture.BindUnorderedAccess)
	for range desc.ArraySize {
		for mip := range desc.MipLevels {
			w := int(common.MipDim(desc.Width, mip))
			h := int(common.MipDim(desc.Height, mip))
			t.subs = append(t.subs, newSubresource(w, h, desc.Format.Channels(), withKeys))
		}
	}
	return t
}

func (t *cpuTexture) Label() string           { return t.desc.Label }
func (t *cpuTexture) Width() uint32           { return t.desc.Width }
func (t *cpuTexture) Height() uint32          { return t.desc.Height }
func (t *cpuTexture) ArraySize() uint32       { return t.desc.ArraySize }
func (t *cpuTexture) MipLevels() int          { return t.desc.MipLevels }
func (t *cpuTexture) Format() texture.Format  { return t.desc.Format }
func (t *cpuTexture) Bind() texture.BindFlags { return t.desc.Bind }

func (t *cpuTexture) Release() {
	if t.released.Swap(true) {
		return
	}
	t.subs = nil
}

func (t *cpuTexture) sub(mip, slice int) (*subresource, error) {
	if t.released.Load() {
		return nil, fmt.Errorf("cpu texture %q: used after release", t.desc.Label)
	}
	if mip < 0 || mip >= t.desc.MipLevels || slice < 0 || slice >= int(t.desc.ArraySize) {
		return nil, fmt.Errorf("cpu texture %q: subresource mip %d slice %d out of range", t.desc.Label, mip, slice)
	}
	return t.subs[slice*t.desc.MipLevels+mip], nil
}

func (t *cpuTexture) Load(x, y, mip, slice int) [4]uint32 {
	s, err := t.sub(mip, slice)
	if err != nil {
		return [4]uint32{}
	}
	return s.load(x, y)
}

func (t *cpuTexture) Store(x, y, mip, slice int, v [4]uint32) {
	s, err := t.sub(mip, slice)
	if err != nil {
		return
	}
	s.store(x, y, v)
}
