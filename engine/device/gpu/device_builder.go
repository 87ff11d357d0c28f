package gpu

import (
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
)

// DeviceBuilderOption is a functional option applied to a GPU device during construction via NewDevice.
type DeviceBuilderOption func(*gpuDevice)

// WithLabel sets the label given to the wgpu device.
//
// Parameters:
//   - label: the device label
//
// Returns:
//   - DeviceBuilderOption: a function that applies the label option to a device
func WithLabel(label string) DeviceBuilderOption {
	return func(d *gpuDevice) {
		d.label = label
	}
}

// WithForceFallbackAdapter requests the software fallback adapter, for machines without a GPU.
//
// Parameters:
//   - force: whether to force the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that applies the adapter option to a device
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(d *gpuDevice) {
		d.forceFallback = force
	}
}

// WithKernelDir loads <dir>/<kernel>.wgsl in place of the built-in kernel when the file exists.
func WithKernelDir(dir string) DeviceBuilderOption {
	return func(d *gpuDevice) {
		d.kernelDir = dir
	}
}

// WithKernelSource replaces the WGSL source of one kernel. The source goes through the same
// @oxy: annotation processing as the built-in kernels.
//
// Parameters:
//   - id: the kernel to replace
//   - source: the raw WGSL source
//
// Returns:
//   - DeviceBuilderOption: a function that applies the source override to a device
func WithKernelSource(id kernel.ID, source string) DeviceBuilderOption {
	return func(d *gpuDevice) {
		d.overrides[id] = source
	}
}

// WithValidation runs every kernel through the naga WGSL front end before handing it to the
// driver, so malformed kernels fail with a source-level error.
func WithValidation(validate bool) DeviceBuilderOption {
	return func(d *gpuDevice) {
		d.validate = validate
	}
}

// WithPrecompile compiles every kernel in NewDevice instead of on first dispatch.
func WithPrecompile(precompile bool) DeviceBuilderOption {
	return func(d *gpuDevice) {
		d.precompile = precompile
	}
}
