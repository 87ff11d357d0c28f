package cpu

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

// warpedLevel is one mip level of one warped layer.
type warpedLevel struct {
	depth    *subresource
	normal   *subresource
	albedo   *subresource
	position *subresource
	coord    *subresource
}

func (l warpedLevel) valid(x, y int) bool {
	return l.depth.in(x, y) && l.depth.data[l.depth.index(x, y)] != kernel.DepthSentinel
}

type layerSlots struct {
	depth, normal, albedo, position, coord kernel.Slot
}

var (
	firstSlots  = layerSlots{kernel.SlotFirstDepthTest, kernel.SlotFirstNormal, kernel.SlotFirstAlbedo, kernel.SlotFirstPosition, kernel.SlotFirstCoord}
	secondSlots = layerSlots{kernel.SlotSecondDepthTest, kernel.SlotSecondNormal, kernel.SlotSecondAlbedo, kernel.SlotSecondPosition, kernel.SlotSecondCoord}
)

func bindLayer(d *cpuDevice, disp kernel.Dispatch, slots layerSlots, mips int) ([]warpedLevel, error) {
	levels := make([]warpedLevel, mips)
	for m := range mips {
		var err error
		l := &levels[m]
		if l.depth, err = d.bindOptional(disp, slots.depth, m); err != nil {
			return nil, err
		}
		if l.depth == nil {
			return nil, fmt.Errorf("slot %s level %d: not bound", slots.depth, m)
		}
		if l.normal, err = d.bindOptional(disp, slots.normal, m); err != nil {
			return nil, err
		}
		if l.albedo, err = d.bindOptional(disp, slots.albedo, m); err != nil {
			return nil, err
		}
		if l.position, err = d.bindOptional(disp, slots.position, m); err != nil {
			return nil, err
		}
		if l.coord, err = d.bindOptional(disp, slots.coord, m); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

type mergeOutputs struct {
	mask, normal, albedo, position, coord *subresource
}

func (o mergeOutputs) write(x, y int, mask uint32, l *warpedLevel, lx, ly int) {
	o.mask.store(x, y, [4]uint32{mask})
	if l == nil {
		for _, s := range []*subresource{o.normal, o.albedo, o.position} {
			if s != nil {
				s.store(x, y, [4]uint32{})
			}
		}
		if o.coord != nil {
			o.coord.store(x, y, [4]uint32{kernel.CoordSentinel, kernel.CoordSentinel})
		}
		return
	}
	copyTexel := func(dst, src *subresource) {
		if dst != nil && src != nil {
			dst.store(x, y, src.load(lx, ly))
		}
	}
	copyTexel(o.normal, l.normal)
	copyTexel(o.albedo, l.albedo)
	copyTexel(o.position, l.position)
	copyTexel(o.coord, l.coord)
}

// mergeKernel resolves each output texel by: first layer at the trusted mip, second layer at the
// trusted mip, then a ring search of growing radius (up to NearestThreshold) at the trusted and
// every coarser mip. Within a ring the first layer is preferred, then the smaller distance.
// A radius of zero disables the search.
func mergeKernel(d *cpuDevice, disp kernel.Dispatch) error {
	p, err := params[*kernel.MergeParams](disp)
	if err != nil {
		return err
	}
	mips := int(max(p.MipCount, 1))
	first, err := bindLayer(d, disp, firstSlots, mips)
	if err != nil {
		return err
	}
	second, err := bindLayer(d, disp, secondSlots, mips)
	if err != nil {
		return err
	}
	var out mergeOutputs
	if out.mask, err = d.bind(disp, kernel.SlotOutMask); err != nil {
		return err
	}
	for _, o := range []struct {
		slot kernel.Slot
		dst  **subresource
	}{
		{kernel.SlotOutNormal, &out.normal},
		{kernel.SlotOutAlbedo, &out.albedo},
		{kernel.SlotOutPosition, &out.position},
		{kernel.SlotOutCoord, &out.coord},
	} {
		if *o.dst, err = d.bindOptional(disp, o.slot, 0); err != nil {
			return err
		}
	}

	used := min(int(p.UsedMipLevel), mips-1)
	radius := int(p.NearestThreshold)
	w, h := out.mask.width, out.mask.height
	if p.FrameDim.X > 0 && p.FrameDim.Y > 0 {
		w, h = min(w, int(p.FrameDim.X)), min(h, int(p.FrameDim.Y))
	}

	return d.rows(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < w; x++ {
				ux, uy := x>>used, y>>used
				switch {
				case first[used].valid(ux, uy):
					out.write(x, y, kernel.MaskFirst, &first[used], ux, uy)
					continue
				case second[used].valid(ux, uy):
					out.write(x, y, kernel.MaskSecond, &second[used], ux, uy)
					continue
				}
				if radius > 0 {
					if mask, level, lx, ly, ok := searchNearest(first, second, used, radius, x, y); ok {
						out.write(x, y, mask, level, lx, ly)
						continue
					}
				}
				out.write(x, y, kernel.MaskInvalid, nil, 0, 0)
			}
		}
	})
}

func searchNearest(first, second []warpedLevel, used, radius, x, y int) (uint32, *warpedLevel, int, int, bool) {
	for m := used; m < len(first); m++ {
		cx, cy := x>>m, y>>m
		start := 1
		if m > used {
			start = 0
		}
		for r := start; r <= radius; r++ {
			if lx, ly, ok := nearestOnRing(&first[m], cx, cy, r); ok {
				return kernel.MaskFillFirst, &first[m], lx, ly, true
			}
			if lx, ly, ok := nearestOnRing(&second[m], cx, cy, r); ok {
				return kernel.MaskFillSecond, &second[m], lx, ly, true
			}
		}
	}
	return kernel.MaskInvalid, nil, 0, 0, false
}

// nearestOnRing scans the square ring at Chebyshev distance r around (cx, cy) and returns the
// valid texel with the smallest Euclidean distance, first in scan order on ties.
func nearestOnRing(l *warpedLevel, cx, cy, r int) (int, int, bool) {
	best := -1
	var bx, by int
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if max(abs(dx), abs(dy)) != r {
				continue
			}
			if !l.valid(cx+dx, cy+dy) {
				continue
			}
			if d2 := dx*dx + dy*dy; best < 0 || d2 < best {
				best, bx, by = d2, cx+dx, cy+dy
			}
		}
	}
	return bx, by, best >= 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// shadeMergedKernel fills the merged render: first-layer texels fetch the center render at their
// source coordinate, second-layer texels fall back to their albedo.
func shadeMergedKernel(d *cpuDevice, disp kernel.Dispatch) error {
	mask, err := d.bind(disp, kernel.SlotSrcMask)
	if err != nil {
		return err
	}
	coord, err := d.bind(disp, kernel.SlotSrcCoord)
	if err != nil {
		return err
	}
	albedo, err := d.bind(disp, kernel.SlotSrcAlbedo)
	if err != nil {
		return err
	}
	center, err := d.bind(disp, kernel.SlotCenterRender)
	if err != nil {
		return err
	}
	dst, err := d.bind(disp, kernel.SlotOutColor)
	if err != nil {
		return err
	}
	return d.rows(dst.height, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < dst.width; x++ {
				switch mask.load(x, y)[0] {
				case kernel.MaskFirst, kernel.MaskFillFirst:
					c := coord.load(x, y)
					if center.in(int(c[0]), int(c[1])) {
						dst.store(x, y, center.load(int(c[0]), int(c[1])))
					} else {
						dst.store(x, y, albedo.load(x, y))
					}
				case kernel.MaskSecond, kernel.MaskFillSecond:
					dst.store(x, y, albedo.load(x, y))
				default:
					dst.store(x, y, texture.Float4(0, 0, 0, 0))
				}
			}
		}
	})
}
