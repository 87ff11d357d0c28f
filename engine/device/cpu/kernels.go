package cpu

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

type kernelFunc func(d *cpuDevice, disp kernel.Dispatch) error

func defaultKernels() map[kernel.ID]kernelFunc {
	return map[kernel.ID]kernelFunc{
		kernel.Clear:                 clearKernel,
		kernel.Copy:                  copyKernel,
		kernel.LocalToWorld:          localToWorldKernel,
		kernel.SeedDepthKeys:         seedDepthKeysKernel,
		kernel.DisocclusionDepthTest: disocclusionDepthTestKernel,
		kernel.DisocclusionWrite:     disocclusionWriteKernel,
		kernel.WarpDepthTest:         warpDepthTestKernel,
		kernel.WarpWrite:             warpWriteKernel,
		kernel.SplatAccumulate:       splatAccumulateKernel,
		kernel.SplatNormalize:        splatNormalizeKernel,
		kernel.Merge:                 mergeKernel,
		kernel.ShadeMerged:           shadeMergedKernel,
		kernel.BackgroundCollect:     backgroundCollectKernel,
		kernel.ForwardMotion:         forwardMotionKernel,
	}
}

func valid(pos [4]float32) bool {
	return pos[3] > 0
}

func xyz(v [4]float32) mgl32.Vec3 {
	return mgl32.Vec3{v[0], v[1], v[2]}
}

func depthKey(depth float32, src uint32) uint64 {
	return uint64(math.Float32bits(depth))<<32 | uint64(src)
}

func atomicMinU64(addr *uint64, v uint64) {
	for {
		cur := atomic.LoadUint64(addr)
		if v >= cur || atomic.CompareAndSwapUint64(addr, cur, v) {
			return
		}
	}
}

func atomicMinU32(addr *uint32, v uint32) {
	for {
		cur := atomic.LoadUint32(addr)
		if v >= cur || atomic.CompareAndSwapUint32(addr, cur, v) {
			return
		}
	}
}

func atomicAddF32(addr *uint32, v float32) {
	for {
		cur := atomic.LoadUint32(addr)
		next := math.Float32bits(math.Float32frombits(cur) + v)
		if atomic.CompareAndSwapUint32(addr, cur, next) {
			return
		}
	}
}

func requireKeys(s *subresource, slot kernel.Slot) error {
	if s.keys == nil || s.channels != 1 {
		return fmt.Errorf("slot %s: depth-test buffer must be an R32Uint storage texture", slot)
	}
	return nil
}

// clearKernel fills Dst with the clear value and resets its depth keys.
func clearKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, err := params[*kernel.ClearParams](disp)
	if err != nil {
		return err
	}
	dst, err := d.bind(disp, kernel.SlotDst)
	if err != nil {
		return err
	}
	return d.rows(dst.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < dst.width; x++ {
				dst.store(x, y, p.Value)
				if dst.keys != nil {
					dst.keys[dst.index(x, y)] = math.MaxUint64
				}
			}
		}
	})
}

func copyKernel(d *cpuDevice, disp kernel.Dispatch) error {
	src, err := d.bind(disp, kernel.SlotSrc)
	if err != nil {
		return err
	}
	dst, err := d.bind(disp, kernel.SlotDst)
	if err != nil {
		return err
	}
	if src.channels != dst.channels {
		return fmt.Errorf("copy between formats with %d and %d channels", src.channels, dst.channels)
	}
	w, h := min(src.width, dst.width), min(src.height, dst.height)
	return d.rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			s := src.index(0, y) * src.channels
			t := dst.index(0, y) * dst.channels
			copy(dst.data[t:t+w*dst.channels], src.data[s:s+w*src.channels])
		}
	})
}

// localToWorldKernel rebuilds world positions from local positions and instance transforms.
func localToWorldKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, err := params[*kernel.LocalToWorldParams](disp)
	if err != nil {
		return err
	}
	local, err := d.bind(disp, kernel.SlotSrcLocalPos)
	if err != nil {
		return err
	}
	ids, err := d.bind(disp, kernel.SlotSrcInstanceID)
	if err != nil {
		return err
	}
	out, err := d.bind(disp, kernel.SlotOutPosition)
	if err != nil {
		return err
	}
	count := min(int(p.InstanceCount), len(p.Transforms), kernel.MaxInstances)
	w, h := min(local.width, out.width), min(local.height, out.height)
	return d.rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				lp := local.loadFloat4(x, y)
				if !valid(lp) {
					out.store(x, y, [4]uint32{})
					continue
				}
				world := xyz(lp)
				if id := int(ids.load(x, y)[0]); id < count {
					world = p.Transforms[id].Mul4x1(world.Vec4(1)).Vec3()
				}
				out.store(x, y, texture.Float4(world[0], world[1], world[2], 1))
			}
		}
	})
}

// seedDepthKeysKernel loads an existing layer's depth into a depth-test buffer. Seeded keys carry
// the maximum source index, so an incoming sample at exactly the same depth wins.
func seedDepthKeysKernel(d *cpuDevice, disp kernel.Dispatch) error {
	pos, err := d.bind(disp, kernel.SlotSrcPosition)
	if err != nil {
		return err
	}
	depth, err := d.bind(disp, kernel.SlotSrcDepth)
	if err != nil {
		return err
	}
	dt, err := d.bind(disp, kernel.SlotDepthTest)
	if err != nil {
		return err
	}
	if err := requireKeys(dt, kernel.SlotDepthTest); err != nil {
		return err
	}
	w, h := min(pos.width, dt.width), min(pos.height, dt.height)
	return d.rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				i := dt.index(x, y)
				if !valid(pos.loadFloat4(x, y)) {
					dt.data[i] = kernel.DepthSentinel
					dt.keys[i] = math.MaxUint64
					continue
				}
				bits := math.Float32bits(depth.loadFloat(x, y))
				dt.data[i] = bits
				dt.keys[i] = uint64(bits)<<32 | math.MaxUint32
			}
		}
	})
}

// projectScaled projects into the center view, admitting points up to scale times outside the
// NDC square and clamping them onto the border texels.
func projectScaled(viewProj mgl32.Mat4, world mgl32.Vec3, dim common.Uint2, scale float32) (tx, ty int, depth float32, ok bool) {
	clip := viewProj.Mul4x1(world.Vec4(1))
	w := clip.W()
	if w <= 1e-6 {
		return 0, 0, 0, false
	}
	nx, ny := clip.X()/w, clip.Y()/w
	scale = max(scale, 1)
	if nx < -scale || nx > scale || ny < -scale || ny > scale {
		return 0, 0, 0, false
	}
	px := (nx*0.5 + 0.5) * float32(dim.X)
	py := (0.5 - ny*0.5) * float32(dim.Y)
	tx = common.Clamp(int(math.Floor(float64(px))), 0, int(dim.X)-1)
	ty = common.Clamp(int(math.Floor(float64(py))), 0, int(dim.Y)-1)
	return tx, ty, w, true
}

type disocclusionBindings struct {
	src *subresource
	ref *subresource
	dt  *subresource
}

func bindDisocclusion(d *cpuDevice, disp kernel.Dispatch) (*kernel.DisocclusionParams, disocclusionBindings, error) {
	var b disocclusionBindings
	p, err := params[*kernel.DisocclusionParams](disp)
	if err != nil {
		return nil, b, err
	}
	if b.src, err = d.bind(disp, kernel.SlotSrcPosition); err != nil {
		return nil, b, err
	}
	if b.ref, err = d.bind(disp, kernel.SlotRefDepth); err != nil {
		return nil, b, err
	}
	if b.dt, err = d.bind(disp, kernel.SlotDepthTest); err != nil {
		return nil, b, err
	}
	return p, b, requireKeys(b.dt, kernel.SlotDepthTest)
}

// disocclusionCandidate returns the target texel and key of an auxiliary-view texel that lies
// behind the center first layer.
func disocclusionCandidate(p *kernel.DisocclusionParams, b disocclusionBindings, x, y int) (int, uint64, float32, bool) {
	pos := b.src.loadFloat4(x, y)
	if !valid(pos) {
		return 0, 0, 0, false
	}
	tx, ty, depth, ok := projectScaled(p.CenterViewProj, xyz(pos), b.dt.dim(), p.RenderScale)
	if !ok {
		return 0, 0, 0, false
	}
	if !(depth > b.ref.loadFloat(tx, ty)+p.Eps) {
		return 0, 0, 0, false
	}
	return b.dt.index(tx, ty), depthKey(depth, uint32(b.src.index(x, y))), depth, true
}

func disocclusionDepthTestKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, b, err := bindDisocclusion(d, disp)
	if err != nil {
		return err
	}
	return d.rows(b.src.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < b.src.width; x++ {
				i, key, depth, ok := disocclusionCandidate(p, b, x, y)
				if !ok {
					continue
				}
				atomicMinU64(&b.dt.keys[i], key)
				atomicMinU32(&b.dt.data[i], math.Float32bits(depth))
			}
		}
	})
}

func disocclusionWriteKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, b, err := bindDisocclusion(d, disp)
	if err != nil {
		return err
	}
	outPos, err := d.bind(disp, kernel.SlotOutPosition)
	if err != nil {
		return err
	}
	outDepth, err := d.bindOptional(disp, kernel.SlotOutDepth, 0)
	if err != nil {
		return err
	}
	pairs, err := d.bindPairs(disp, [][2]kernel.Slot{
		{kernel.SlotSrcNormal, kernel.SlotOutNormal},
		{kernel.SlotSrcAlbedo, kernel.SlotOutAlbedo},
		{kernel.SlotSrcInstanceID, kernel.SlotOutInstanceID},
		{kernel.SlotSrcLocalPos, kernel.SlotOutLocalPos},
	})
	if err != nil {
		return err
	}
	return d.rows(b.src.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < b.src.width; x++ {
				i, key, depth, ok := disocclusionCandidate(p, b, x, y)
				if !ok || b.dt.keys[i] != key {
					continue
				}
				tx, ty := i%b.dt.width, i/b.dt.width
				outPos.store(tx, ty, b.src.load(x, y))
				if outDepth != nil {
					outDepth.store(tx, ty, [4]uint32{math.Float32bits(depth)})
				}
				for _, cp := range pairs {
					cp.dst.store(tx, ty, cp.src.load(x, y))
				}
			}
		}
	})
}

// warpSampler yields the world positions a source texel scatters: its own position, or an
// n x n grid of positions bilinearly interpolated toward valid neighbors.
type warpSampler struct {
	src *subresource
	n   int
}

func (s warpSampler) neighbor(x, y int, fallback mgl32.Vec3) mgl32.Vec3 {
	if !s.src.in(x, y) {
		return fallback
	}
	p := s.src.loadFloat4(x, y)
	if !valid(p) {
		return fallback
	}
	return xyz(p)
}

func (s warpSampler) each(x, y int, center mgl32.Vec3, fn func(world mgl32.Vec3)) {
	if s.n <= 1 {
		fn(center)
		return
	}
	inv := 1 / float32(s.n)
	for j := range s.n {
		fy := (float32(j)+0.5)*inv - 0.5
		for i := range s.n {
			fx := (float32(i)+0.5)*inv - 0.5
			sx, sy := 1, 1
			if fx < 0 {
				sx = -1
			}
			if fy < 0 {
				sy = -1
			}
			ax, ay := float32(math.Abs(float64(fx))), float32(math.Abs(float64(fy)))
			right := s.neighbor(x+sx, y, center)
			down := s.neighbor(x, y+sy, center)
			diag := s.neighbor(x+sx, y+sy, center)
			top := common.Lerp3(center, right, ax)
			bottom := common.Lerp3(down, diag, ax)
			fn(common.Lerp3(top, bottom, ay))
		}
	}
}

type warpBindings struct {
	src *subresource
	dt  *subresource
}

func bindWarp(d *cpuDevice, disp kernel.Dispatch) (*kernel.WarpParams, warpBindings, error) {
	var b warpBindings
	p, err := params[*kernel.WarpParams](disp)
	if err != nil {
		return nil, b, err
	}
	if b.src, err = d.bind(disp, kernel.SlotSrcPosition); err != nil {
		return nil, b, err
	}
	if b.dt, err = d.bind(disp, kernel.SlotDepthTest); err != nil {
		return nil, b, err
	}
	return p, b, requireKeys(b.dt, kernel.SlotDepthTest)
}

// forEachWarpHit calls fn for every (source texel, target texel) hit of the scatter.
func forEachWarpHit(d *cpuDevice, p *kernel.WarpParams, b warpBindings, fn func(x, y, tx, ty int, key uint64, depth float32)) error {
	sampler := warpSampler{src: b.src, n: int(max(p.SubPixelSamples, 1))}
	dim := b.dt.dim()
	w := min(b.src.width, int(p.SrcDim.X))
	h := min(b.src.height, int(p.SrcDim.Y))
	if p.SrcDim.X == 0 || p.SrcDim.Y == 0 {
		w, h = b.src.width, b.src.height
	}
	return d.rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				pos := b.src.loadFloat4(x, y)
				if !valid(pos) {
					continue
				}
				index := uint32(b.src.index(x, y))
				sampler.each(x, y, xyz(pos), func(world mgl32.Vec3) {
					px, py, depth, ok := common.ProjectToTexel(p.TargetViewProj, world, dim)
					if !ok {
						return
					}
					fn(x, y, int(px), int(py), depthKey(depth, index), depth)
				})
			}
		}
	})
}

// warpDepthTestKernel records, per target texel, the nearest projected source sample.
// Ties in depth resolve to the lowest source index.
func warpDepthTestKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, b, err := bindWarp(d, disp)
	if err != nil {
		return err
	}
	return forEachWarpHit(d, p, b, func(_, _, tx, ty int, key uint64, depth float32) {
		i := b.dt.index(tx, ty)
		atomicMinU64(&b.dt.keys[i], key)
		atomicMinU32(&b.dt.data[i], math.Float32bits(depth))
	})
}

// warpWriteKernel writes the attributes of every source sample whose key won the depth test.
func warpWriteKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, b, err := bindWarp(d, disp)
	if err != nil {
		return err
	}
	coord, err := d.bindOptional(disp, kernel.SlotOutCoord, 0)
	if err != nil {
		return err
	}
	outPos, err := d.bindOptional(disp, kernel.SlotOutPosition, 0)
	if err != nil {
		return err
	}
	pairs, err := d.bindPairs(disp, [][2]kernel.Slot{
		{kernel.SlotSrcNormal, kernel.SlotOutNormal},
		{kernel.SlotSrcAlbedo, kernel.SlotOutAlbedo},
		{kernel.SlotSrcColor, kernel.SlotOutColor},
		{kernel.SlotSrcInstanceID, kernel.SlotOutInstanceID},
		{kernel.SlotSrcLocalPos, kernel.SlotOutLocalPos},
	})
	if err != nil {
		return err
	}
	return forEachWarpHit(d, p, b, func(x, y, tx, ty int, key uint64, _ float32) {
		if b.dt.keys[b.dt.index(tx, ty)] != key {
			return
		}
		if outPos != nil {
			outPos.store(tx, ty, b.src.load(x, y))
		}
		if coord != nil {
			coord.store(tx, ty, [4]uint32{uint32(x), uint32(y)})
		}
		for _, cp := range pairs {
			cp.dst.store(tx, ty, cp.src.load(x, y))
		}
	})
}

// splatAccumulateKernel spreads every projected source color over KernelSize x KernelSize taps
// spaced Stride texels apart. Each tap is weighted by a spatial Gaussian of its distance to the
// projected point and a depth Gaussian against the depth test winner at the tap.
// Out color accumulates rgb*w with the weight sum in alpha.
func splatAccumulateKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, err := params[*kernel.SplatParams](disp)
	if err != nil {
		return err
	}
	src, err := d.bind(disp, kernel.SlotSrcPosition)
	if err != nil {
		return err
	}
	color, err := d.bind(disp, kernel.SlotSrcColor)
	if err != nil {
		return err
	}
	dt, err := d.bind(disp, kernel.SlotDepthTest)
	if err != nil {
		return err
	}
	acc, err := d.bind(disp, kernel.SlotOutColor)
	if err != nil {
		return err
	}
	if acc.channels != 4 {
		return fmt.Errorf("slot %s: accumulation target must be RGBA32Float", kernel.SlotOutColor)
	}

	size := int(max(p.KernelSize, 1))
	stride := int(max(p.Stride, 1))
	lo := -(size - 1) / 2
	sigma2 := max(p.Sigma*p.Sigma, 1e-6)
	dist2 := max(p.DistSigma*p.DistSigma, 1e-6)
	dim := acc.dim()

	return d.rows(src.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < src.width; x++ {
				pos := src.loadFloat4(x, y)
				if !valid(pos) {
					continue
				}
				px, py, depth, ok := common.ProjectToTexel(p.TargetViewProj, xyz(pos), dim)
				if !ok {
					continue
				}
				c := color.loadFloat4(x, y)
				cx, cy := int(px), int(py)
				for j := lo; j < lo+size; j++ {
					for i := lo; i < lo+size; i++ {
						tx, ty := cx+i*stride, cy+j*stride
						if !acc.in(tx, ty) {
							continue
						}
						dx := float32(tx) + 0.5 - px
						dy := float32(ty) + 0.5 - py
						weight := float32(math.Exp(float64(-(dx*dx + dy*dy) / sigma2)))
						if dt.in(tx, ty) {
							if win := dt.data[dt.index(tx, ty)]; win != kernel.DepthSentinel {
								dz := depth - math.Float32frombits(win)
								weight *= float32(math.Exp(float64(-(dz * dz) / dist2)))
							}
						}
						if weight < 1e-8 {
							continue
						}
						base := acc.index(tx, ty) * 4
						atomicAddF32(&acc.data[base], c[0]*weight)
						atomicAddF32(&acc.data[base+1], c[1]*weight)
						atomicAddF32(&acc.data[base+2], c[2]*weight)
						atomicAddF32(&acc.data[base+3], weight)
					}
				}
			}
		}
	})
}

// splatNormalizeKernel resolves accumulated splats. Texels with no weight take the optional
// fallback color.
func splatNormalizeKernel(d *cpuDevice, disp kernel.Dispatch) error {
	acc, err := d.bind(disp, kernel.SlotSrc)
	if err != nil {
		return err
	}
	dst, err := d.bind(disp, kernel.SlotDst)
	if err != nil {
		return err
	}
	fallback, err := d.bindOptional(disp, kernel.SlotFallback, 0)
	if err != nil {
		return err
	}
	w, h := min(acc.width, dst.width), min(acc.height, dst.height)
	return d.rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				a := acc.loadFloat4(x, y)
				switch {
				case a[3] > 1e-6:
					dst.store(x, y, texture.Float4(a[0]/a[3], a[1]/a[3], a[2]/a[3], 1))
				case fallback != nil:
					dst.store(x, y, fallback.load(x, y))
				default:
					dst.store(x, y, [4]uint32{})
				}
			}
		}
	})
}

// backgroundCollectKernel keeps, per texel, the farther valid sample of the current frame and the
// reprojected background.
func backgroundCollectKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, err := params[*kernel.BackgroundParams](disp)
	if err != nil {
		return err
	}
	curColor, err := d.bind(disp, kernel.SlotSrcColor)
	if err != nil {
		return err
	}
	curPos, err := d.bind(disp, kernel.SlotSrcPosition)
	if err != nil {
		return err
	}
	bgColor, err := d.bind(disp, kernel.SlotBackgroundColor)
	if err != nil {
		return err
	}
	bgPos, err := d.bind(disp, kernel.SlotBackgroundPosition)
	if err != nil {
		return err
	}
	outColor, err := d.bind(disp, kernel.SlotOutColor)
	if err != nil {
		return err
	}
	outPos, err := d.bind(disp, kernel.SlotOutPosition)
	if err != nil {
		return err
	}
	forward := p.Forward
	if forward.Len() > 0 {
		forward = forward.Normalize()
	}
	return d.rows(outColor.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < outColor.width; x++ {
				cp, bp := curPos.loadFloat4(x, y), bgPos.loadFloat4(x, y)
				useBackground := false
				switch {
				case valid(cp) && valid(bp):
					useBackground = xyz(bp).Sub(p.Eye).Dot(forward) > xyz(cp).Sub(p.Eye).Dot(forward)
				case valid(bp):
					useBackground = true
				case !valid(cp):
					outColor.store(x, y, [4]uint32{})
					outPos.store(x, y, [4]uint32{})
					continue
				}
				if useBackground {
					outColor.store(x, y, bgColor.load(x, y))
					outPos.store(x, y, bgPos.load(x, y))
				} else {
					outColor.store(x, y, curColor.load(x, y))
					outPos.store(x, y, curPos.load(x, y))
				}
			}
		}
	})
}

// forwardMotionKernel writes, per warped texel, the uv offset back to the source texel that won it
// and the winning linear depth. Empty texels get zero in both.
func forwardMotionKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, err := params[*kernel.MotionParams](disp)
	if err != nil {
		return err
	}
	coord, err := d.bind(disp, kernel.SlotSrcCoord)
	if err != nil {
		return err
	}
	dt, err := d.bind(disp, kernel.SlotDepthTest)
	if err != nil {
		return err
	}
	motion, err := d.bind(disp, kernel.SlotDst)
	if err != nil {
		return err
	}
	depth, err := d.bind(disp, kernel.SlotOutDepth)
	if err != nil {
		return err
	}
	srcW, srcH := float32(max(p.SrcDim.X, 1)), float32(max(p.SrcDim.Y, 1))
	dstW, dstH := float32(max(p.DstDim.X, 1)), float32(max(p.DstDim.Y, 1))

	return d.rows(motion.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < motion.width; x++ {
				c := coord.load(x, y)
				z := dt.load(x, y)[0]
				if c[0] == kernel.CoordSentinel || z == kernel.DepthSentinel {
					motion.store(x, y, [4]uint32{})
					depth.store(x, y, [4]uint32{})
					continue
				}
				u := (float32(c[0])+0.5)/srcW - (float32(x)+0.5)/dstW
				v := (float32(c[1])+0.5)/srcH - (float32(y)+0.5)/dstH
				motion.store(x, y, texture.Float4(u, v, 0, 0))
				depth.store(x, y, [4]uint32{z})
			}
		}
	})
}
