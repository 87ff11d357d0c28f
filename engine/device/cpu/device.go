// Package cpu implements device.Device in host memory. Kernels are Go renditions of the compute
// kernels, executed in row bands on a worker pool. Each dispatch completes before Dispatch returns,
// so Barrier only checks for cancellation.
package cpu

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
)

var errParams = errors.New("unexpected parameter block")

type cpuDevice struct {
	mu *sync.Mutex

	pool     worker.DynamicWorkerPool
	ownsPool bool
	workers  int
	bandRows int

	kernels map[kernel.ID]kernelFunc
	closed  bool
}

var _ device.Device = &cpuDevice{}

// NewDevice creates a CPU reference device.
//
// Parameters:
//   - options: variadic list of DeviceBuilderOption functions
//
// Returns:
//   - device.Device: the new device
func NewDevice(options ...DeviceBuilderOption) device.Device {
	d := &cpuDevice{
		mu:       &sync.Mutex{},
		ownsPool: true,
		workers:  runtime.NumCPU(),
		bandRows: 16,
		kernels:  defaultKernels(),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.pool == nil {
		d.pool = worker.NewDynamicWorkerPool(d.workers, 256, 1*time.Second)
		d.ownsPool = true
	}
	common.Logger().Info("cpu device ready", "component", "device", "workers", d.pool.GetMaxWorkers(), "bandRows", d.bandRows)
	return d
}

func (d *cpuDevice) Name() string {
	return "cpu"
}

func (d *cpuDevice) Create2D(desc texture.Descriptor) (texture.Texture, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("cpu device: create %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, device.ErrClosed
	}
	return newCPUTexture(d, desc), nil
}

func (d *cpuDevice) Dispatch(ctx context.Context, disp kernel.Dispatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	fn, ok := d.kernels[disp.Kernel]
	if !ok {
		return fmt.Errorf("cpu device: %s: %w", disp.Kernel, device.ErrUnknownKernel)
	}
	if err := fn(d, disp); err != nil {
		return fmt.Errorf("cpu device: dispatch %s: %w", disp.Kernel, err)
	}
	return nil
}

func (d *cpuDevice) Barrier(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.ErrClosed
	}
	return nil
}

func (d *cpuDevice) Upload(ctx context.Context, view texture.View, img *texture.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.resolve(view)
	if err != nil {
		return fmt.Errorf("cpu device: upload: %w", err)
	}
	if img.Width != s.width || img.Height != s.height || img.Format != view.Texture.Format() {
		return fmt.Errorf("cpu device: upload %q: image %dx%d %s does not match %dx%d %s",
			view.Texture.Label(), img.Width, img.Height, img.Format, s.width, s.height, view.Texture.Format())
	}
	copy(s.data, img.Data)
	for i := range s.keys {
		s.keys[i] = math.MaxUint64
	}
	return nil
}

func (d *cpuDevice) Readback(ctx context.Context, view texture.View) (*texture.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.resolve(view)
	if err != nil {
		return nil, fmt.Errorf("cpu device: readback: %w", err)
	}
	img := texture.NewImage(view.Texture.Format(), s.width, s.height)
	copy(img.Data, s.data)
	return img, nil
}

func (d *cpuDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.ownsPool {
		d.pool.Stop()
	}
}

// resolve maps a view to the device's storage for it.
func (d *cpuDevice) resolve(view texture.View) (*subresource, error) {
	if d.closed {
		return nil, device.ErrClosed
	}
	t, ok := view.Texture.(*cpuTexture)
	if !ok || t.owner != d {
		return nil, device.ErrForeignTexture
	}
	return t.sub(view.Mip, view.Slice)
}

// bind resolves a required slot of a dispatch.
func (d *cpuDevice) bind(disp kernel.Dispatch, slot kernel.Slot) (*subresource, error) {
	v, err := disp.Require(slot)
	if err != nil {
		return nil, err
	}
	s, err := d.resolve(v)
	if err != nil {
		return nil, fmt.Errorf("slot %s: %w", slot, err)
	}
	return s, nil
}

// bindOptional resolves a slot that may be left unbound, in which case it returns nil.
func (d *cpuDevice) bindOptional(disp kernel.Dispatch, slot kernel.Slot, level int) (*subresource, error) {
	v, ok := disp.Bindings.GetLevel(slot, level)
	if !ok {
		return nil, nil
	}
	s, err := d.resolve(v)
	if err != nil {
		return nil, fmt.Errorf("slot %s level %d: %w", slot, level, err)
	}
	return s, nil
}

// copyPair is a source/destination pair of optional attribute slots.
type copyPair struct {
	src, dst *subresource
}

// bindPairs resolves every pair whose source and destination are both bound.
func (d *cpuDevice) bindPairs(disp kernel.Dispatch, slots [][2]kernel.Slot) ([]copyPair, error) {
	var out []copyPair
	for _, p := range slots {
		src, err := d.bindOptional(disp, p[0], 0)
		if err != nil {
			return nil, err
		}
		dst, err := d.bindOptional(disp, p[1], 0)
		if err != nil {
			return nil, err
		}
		if src != nil && dst != nil {
			out = append(out, copyPair{src: src, dst: dst})
		}
	}
	return out, nil
}

// rows runs fn over [0, height) in bands on the pool.
func (d *cpuDevice) rows(height int, fn func(y0, y1 int)) error {
	return common.ForRows(d.pool, height, d.bandRows, fn)
}

// params asserts the dispatch's parameter block type.
func params[T kernel.Params](disp kernel.Dispatch) (T, error) {
	p, ok := disp.Params.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%T: %w", disp.Params, errParams)
	}
	return p, nil
}
