// Package gpu implements device.Device on WebGPU. Kernels are WGSL compute shaders, embedded
// under kernels/ and compiled on first use. Dispatches are recorded into one command encoder
// that Barrier submits and waits on.
//
// WGSL has no atomics on textures, so a kernel that needs them declares the texture as a
// var<storage> array instead. The device copies the bound texture into a row-padded buffer
// before the dispatch and, for read_write buffers, back into the texture after it.
package gpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/cogentcore/webgpu/wgpu"
)

// releaser is any wgpu object owned by the device until the next barrier.
type releaser interface {
	Release()
}

// placeholderKey identifies the stand-in texture bound to an unbound optional binding.
type placeholderKey struct {
	format  wgpu.TextureFormat
	binding uint32
}

type placeholder struct {
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

type gpuDevice struct {
	mu *sync.Mutex

	label         string
	forceFallback bool
	kernelDir     string
	overrides     map[kernel.ID]string
	validate      bool
	precompile    bool

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	preProcessor *preProcessor
	kernels      map[kernel.ID]*computeKernel
	placeholders map[placeholderKey]placeholder

	encoder    *wgpu.CommandEncoder
	transients []releaser
	closed     bool
}

var _ device.Device = &gpuDevice{}

// NewDevice creates a headless WebGPU device on the default adapter. The device requests the
// adapter's own limits, since Merge binds more textures than the WebGPU defaults allow.
//
// Parameters:
//   - options: variadic list of DeviceBuilderOption functions
//
// Returns:
//   - device.Device: the new device
//   - error: an error if no adapter or device is available, or a precompiled kernel fails
func NewDevice(options ...DeviceBuilderOption) (device.Device, error) {
	d := &gpuDevice{
		mu:           &sync.Mutex{},
		label:        "Warp Device",
		overrides:    map[kernel.ID]string{},
		preProcessor: newPreProcessor(),
		kernels:      map[kernel.ID]*computeKernel{},
		placeholders: map[placeholderKey]placeholder{},
	}
	for _, opt := range options {
		opt(d)
	}

	d.instance = wgpu.CreateInstance(nil)
	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallback,
	})
	if err != nil {
		d.instance.Release()
		return nil, fmt.Errorf("gpu device: request adapter: %w", err)
	}
	d.adapter = a

	supported := a.GetLimits()
	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: d.label,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: supported.Limits,
		},
	})
	if err != nil {
		d.adapter.Release()
		d.instance.Release()
		return nil, fmt.Errorf("gpu device: request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	if d.precompile {
		for _, id := range kernel.All() {
			if id == kernel.Clear || id == kernel.Copy {
				continue
			}
			if _, err := d.loadKernel(id); err != nil {
				d.Close()
				return nil, fmt.Errorf("gpu device: %w", err)
			}
		}
	}
	common.Logger().Info("gpu device ready", "component", "device", "label", d.label, "fallback", d.forceFallback, "precompiled", len(d.kernels))
	return d, nil
}

func (d *gpuDevice) Name() string {
	return "gpu"
}

func (d *gpuDevice) Create2D(desc texture.Descriptor) (texture.Texture, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("gpu device: create %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	t, err := newGPUTexture(d, desc)
	if err != nil {
		return nil, fmt.Errorf("gpu device: create %q: %w", desc.Label, err)
	}
	return t, nil
}

func (d *gpuDevice) Dispatch(ctx context.Context, disp kernel.Dispatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}

	var err error
	switch disp.Kernel {
	case kernel.Clear:
		err = d.clear(disp)
	case kernel.Copy:
		err = d.copy(disp)
	default:
		var k *computeKernel
		if k, err = d.loadKernel(disp.Kernel); err == nil {
			err = d.encode(k, disp)
		}
	}
	if err != nil {
		return fmt.Errorf("gpu device: dispatch %s: %w", disp.Kernel, err)
	}
	return nil
}

func (d *gpuDevice) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	if err := d.flush(); err != nil {
		return fmt.Errorf("gpu device: barrier: %w", err)
	}
	d.device.Poll(true, nil)
	d.releaseTransients()
	return nil
}

func (d *gpuDevice) Upload(ctx context.Context, view texture.View, img *texture.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.resolve(view)
	if err != nil {
		return fmt.Errorf("gpu device: upload: %w", err)
	}
	if img.Width != int(s.dim.X) || img.Height != int(s.dim.Y) || img.Format != view.Texture.Format() {
		return fmt.Errorf("gpu device: upload %q: image %dx%d %s does not match %dx%d %s",
			view.Texture.Label(), img.Width, img.Height, img.Format, s.dim.X, s.dim.Y, view.Texture.Format())
	}
	channels := img.Format.Channels()
	if err := d.stage(s, func(x, y int) []uint32 {
		base := (y*img.Width + x) * channels
		return img.Data[base : base+channels]
	}); err != nil {
		return fmt.Errorf("gpu device: upload %q: %w", view.Texture.Label(), err)
	}
	return nil
}

func (d *gpuDevice) Readback(ctx context.Context, view texture.View) (*texture.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.resolve(view)
	if err != nil {
		return nil, fmt.Errorf("gpu device: readback: %w", err)
	}

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: s.tex.desc.Label + " Readback Buffer",
		Size:  s.bufferSize(),
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu device: readback %q: %w", s.tex.desc.Label, err)
	}
	defer buf.Release()

	enc, err := d.commandEncoder()
	if err != nil {
		return nil, fmt.Errorf("gpu device: readback %q: %w", s.tex.desc.Label, err)
	}
	enc.CopyTextureToBuffer(s.copyTexture(), &wgpu.ImageCopyBuffer{Layout: s.bufferLayout(), Buffer: buf}, s.extent())
	if err := d.flush(); err != nil {
		return nil, fmt.Errorf("gpu device: readback %q: %w", s.tex.desc.Label, err)
	}

	var (
		status wgpu.BufferMapAsyncStatus
		done   bool
	)
	if err := buf.MapAsync(wgpu.MapModeRead, 0, s.bufferSize(), func(st wgpu.BufferMapAsyncStatus) {
		status, done = st, true
	}); err != nil {
		return nil, fmt.Errorf("gpu device: readback %q: map: %w", s.tex.desc.Label, err)
	}
	d.device.Poll(true, nil)
	d.releaseTransients()
	if !done || status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("gpu device: readback %q: map status %v", s.tex.desc.Label, status)
	}

	img := texture.NewImage(view.Texture.Format(), int(s.dim.X), int(s.dim.Y))
	mapped := buf.GetMappedRange(0, uint(s.bufferSize()))
	rowWords := int(s.dim.X) * img.Format.Channels()
	pitch := int(s.paddedRowBytes())
	for y := range int(s.dim.Y) {
		row := mapped[y*pitch:]
		for i := range rowWords {
			img.Data[y*rowWords+i] = binary.LittleEndian.Uint32(row[i*4:])
		}
	}
	buf.Unmap()
	return img, nil
}

func (d *gpuDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.encoder != nil {
		d.encoder.Release()
		d.encoder = nil
	}
	d.releaseTransients()
	for _, k := range d.kernels {
		k.Release()
	}
	for _, p := range d.placeholders {
		p.view.Release()
		p.texture.Release()
	}
	if d.queue != nil {
		d.queue.Release()
	}
	if d.device != nil {
		d.device.Release()
	}
	if d.adapter != nil {
		d.adapter.Release()
	}
	if d.instance != nil {
		d.instance.Release()
	}
}

// resolve maps a view to a validated subresource of one of the device's textures.
func (d *gpuDevice) resolve(view texture.View) (subresource, error) {
	if d.closed {
		return subresource{}, device.ErrClosed
	}
	t, ok := view.Texture.(*gpuTexture)
	if !ok || t.owner != d {
		return subresource{}, device.ErrForeignTexture
	}
	return t.sub(view.Mip, view.Slice)
}

// commandEncoder returns the open encoder, creating one if the last was flushed.
func (d *gpuDevice) commandEncoder() (*wgpu.CommandEncoder, error) {
	if d.encoder != nil {
		return d.encoder, nil
	}
	enc, err := d.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	d.encoder = enc
	return enc, nil
}

// flush submits the open encoder, if any.
func (d *gpuDevice) flush() error {
	if d.encoder == nil {
		return nil
	}
	enc := d.encoder
	d.encoder = nil
	defer enc.Release()

	cmd, err := enc.Finish(nil)
	if err != nil {
		return err
	}
	d.queue.Submit(cmd)
	cmd.Release()
	return nil
}

func (d *gpuDevice) hold(r releaser) {
	d.transients = append(d.transients, r)
}

func (d *gpuDevice) releaseTransients() {
	for _, r := range d.transients {
		r.Release()
	}
	d.transients = d.transients[:0]
}

// stage fills a row-padded buffer with the texels returned by texel and records a copy of it
// into the subresource. The buffer is written through the queue, which completes before the
// encoder that reads it is submitted.
func (d *gpuDevice) stage(s subresource, texel func(x, y int) []uint32) error {
	data := make([]byte, s.bufferSize())
	pitch := int(s.paddedRowBytes())
	tb := int(s.texelBytes())
	for y := range int(s.dim.Y) {
		for x := range int(s.dim.X) {
			off := y*pitch + x*tb
			for c, v := range texel(x, y) {
				binary.LittleEndian.PutUint32(data[off+c*4:], v)
			}
		}
	}

	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: s.tex.desc.Label + " Staging Buffer",
		Size:  uint64(len(data)),
		Usage: wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}
	d.hold(buf)
	d.queue.WriteBuffer(buf, 0, data)

	enc, err := d.commandEncoder()
	if err != nil {
		return err
	}
	enc.CopyBufferToTexture(&wgpu.ImageCopyBuffer{Layout: s.bufferLayout(), Buffer: buf}, s.copyTexture(), s.extent())
	return nil
}

// clear fills the Dst subresource with ClearParams.Value.
func (d *gpuDevice) clear(disp kernel.Dispatch) error {
	p, ok := disp.Params.(*kernel.ClearParams)
	if !ok {
		return fmt.Errorf("kernel %s: unexpected parameter block %T", disp.Kernel, disp.Params)
	}
	v, err := disp.Require(kernel.SlotDst)
	if err != nil {
		return err
	}
	s, err := d.resolve(v)
	if err != nil {
		return fmt.Errorf("slot %s: %w", kernel.SlotDst, err)
	}
	value := p.Value[:s.tex.desc.Format.Channels()]
	return d.stage(s, func(int, int) []uint32 { return value })
}

// copy records a texture-to-texture copy of the overlapping region of Src and Dst.
func (d *gpuDevice) copy(disp kernel.Dispatch) error {
	sv, err := disp.Require(kernel.SlotSrc)
	if err != nil {
		return err
	}
	dv, err := disp.Require(kernel.SlotDst)
	if err != nil {
		return err
	}
	src, err := d.resolve(sv)
	if err != nil {
		return fmt.Errorf("slot %s: %w", kernel.SlotSrc, err)
	}
	dst, err := d.resolve(dv)
	if err != nil {
		return fmt.Errorf("slot %s: %w", kernel.SlotDst, err)
	}
	if src.tex.desc.Format != dst.tex.desc.Format {
		return fmt.Errorf("copy %s to %s", src.tex.desc.Format, dst.tex.desc.Format)
	}
	enc, err := d.commandEncoder()
	if err != nil {
		return err
	}
	enc.CopyTextureToTexture(src.copyTexture(), dst.copyTexture(), &wgpu.Extent3D{
		Width:              min(src.dim.X, dst.dim.X),
		Height:             min(src.dim.Y, dst.dim.Y),
		DepthOrArrayLayers: 1,
	})
	return nil
}

// mirror is a storage buffer standing in for a texture during one dispatch.
type mirror struct {
	sub       subresource
	buffer    *wgpu.Buffer
	writeBack bool
}

// encode records one compute dispatch: parameter upload, mirror copies in, the pass itself and
// mirror copies out.
func (d *gpuDevice) encode(k *computeKernel, disp kernel.Dispatch) error {
	views := make(map[string]texture.View, len(disp.Bindings))
	for b, v := range disp.Bindings {
		views[b.Name()] = v
	}
	enc, err := d.commandEncoder()
	if err != nil {
		return err
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(k.source.bindings))
	var mirrors []mirror
	for _, b := range k.source.bindings {
		entry := wgpu.BindGroupEntry{Binding: b.entry.Binding}
		switch b.kind {
		case resourceUniform:
			buf, err := d.paramsBuffer(k, disp.Params)
			if err != nil {
				return err
			}
			entry.Buffer = buf
			entry.Size = wgpu.WholeSize

		case resourceSampled, resourceStorageTexture:
			v, ok := views[b.name]
			if !ok {
				if entry.TextureView, err = d.placeholder(b); err != nil {
					return err
				}
				break
			}
			s, err := d.resolve(v)
			if err != nil {
				return fmt.Errorf("binding %s: %w", b.name, err)
			}
			if b.kind == resourceStorageTexture && wgpuFormatMap[s.tex.desc.Format] != b.entry.StorageTexture.Format {
				return fmt.Errorf("binding %s: %s texture bound to a %v storage binding", b.name, s.tex.desc.Format, b.entry.StorageTexture.Format)
			}
			tv, err := s.view()
			if err != nil {
				return fmt.Errorf("binding %s: %w", b.name, err)
			}
			d.hold(tv)
			entry.TextureView = tv

		case resourceMirror:
			v, ok := views[b.name]
			if !ok {
				return fmt.Errorf("binding %s: not bound", b.name)
			}
			s, err := d.resolve(v)
			if err != nil {
				return fmt.Errorf("binding %s: %w", b.name, err)
			}
			buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: s.tex.desc.Label + " Mirror Buffer",
				Size:  s.bufferSize(),
				Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
			})
			if err != nil {
				return fmt.Errorf("binding %s: %w", b.name, err)
			}
			d.hold(buf)
			enc.CopyTextureToBuffer(s.copyTexture(), &wgpu.ImageCopyBuffer{Layout: s.bufferLayout(), Buffer: buf}, s.extent())
			mirrors = append(mirrors, mirror{
				sub:       s,
				buffer:    buf,
				writeBack: b.entry.Buffer.Type == wgpu.BufferBindingTypeStorage,
			})
			entry.Buffer = buf
			entry.Size = wgpu.WholeSize
		}
		entries = append(entries, entry)
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.source.name + " Bind Group",
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		return err
	}
	d.hold(bg)

	groups := k.workgroups(disp.Domain)
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(groups[0], groups[1], groups[2])
	pass.End()

	for _, m := range mirrors {
		if m.writeBack {
			enc.CopyBufferToTexture(&wgpu.ImageCopyBuffer{Layout: m.sub.bufferLayout(), Buffer: m.buffer}, m.sub.copyTexture(), m.sub.extent())
		}
	}
	common.Logger().Debug("kernel dispatched", "component", "device", "kernel", k.source.name, "domain", disp.Domain, "workgroups", groups)
	return nil
}

var errParamsTooSmall = errors.New("parameter block smaller than the kernel declares")

// paramsBuffer uploads the dispatch's parameter block into a fresh uniform buffer.
func (d *gpuDevice) paramsBuffer(k *computeKernel, params kernel.Params) (*wgpu.Buffer, error) {
	if params == nil {
		return nil, fmt.Errorf("%s: no parameter block", paramsVarName)
	}
	data := params.Marshal()
	if uint64(len(data)) < k.source.paramsSize {
		return nil, fmt.Errorf("%T: %d bytes, want %d: %w", params, len(data), k.source.paramsSize, errParamsTooSmall)
	}
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: k.source.name + " Params",
		Size:  k.source.paramsSize,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	d.hold(buf)
	d.queue.WriteBuffer(buf, 0, data[:k.source.paramsSize])
	return buf, nil
}

// placeholder returns the 1x1 zero texture bound in place of an optional binding left unbound.
// Kernels detect it by its size.
func (d *gpuDevice) placeholder(b kernelBinding) (*wgpu.TextureView, error) {
	var format wgpu.TextureFormat
	switch b.kind {
	case resourceStorageTexture:
		format = b.entry.StorageTexture.Format
	case resourceSampled:
		switch b.entry.Texture.SampleType {
		case wgpu.TextureSampleTypeUint:
			format = wgpu.TextureFormatR32Uint
		case wgpu.TextureSampleTypeUnfilterableFloat:
			format = wgpu.TextureFormatRGBA32Float
		default:
			return nil, fmt.Errorf("binding %s: not bound", b.name)
		}
	}
	key := placeholderKey{format: format, binding: b.entry.Binding}
	if p, ok := d.placeholders[key]; ok {
		return p.view, nil
	}
	if _, ok := engineFormatOf(format); !ok {
		return nil, fmt.Errorf("binding %s: no placeholder for format %v", b.name, format)
	}
	t, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         fmt.Sprintf("Placeholder %d", b.entry.Binding),
		Usage:         textureUsage,
		Dimension:     wgpu.TextureDimension2D,
		Size:          wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	v, err := t.CreateView(nil)
	if err != nil {
		t.Release()
		return nil, err
	}
	d.placeholders[key] = placeholder{texture: t, view: v}
	return v, nil
}
