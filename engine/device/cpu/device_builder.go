package cpu

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
)

// DeviceBuilderOption is a functional option applied to a CPU device during construction via NewDevice.
type DeviceBuilderOption func(*cpuDevice)

// WithWorkers sets the number of workers of the device's own pool.
// Ignored when WithWorkerPool is also given.
//
// Parameters:
//   - n: the worker count, values below 1 are ignored
//
// Returns:
//   - DeviceBuilderOption: a function that applies the worker count option to a device
func WithWorkers(n int) DeviceBuilderOption {
	return func(d *cpuDevice) {
		if n >= 1 {
			d.workers = n
		}
	}
}

// WithWorkerPool runs kernels on a caller-owned pool. The device does not stop it on Close.
//
// Parameters:
//   - pool: the worker pool to share
//
// Returns:
//   - DeviceBuilderOption: a function that applies the worker pool option to a device
func WithWorkerPool(pool worker.DynamicWorkerPool) DeviceBuilderOption {
	return func(d *cpuDevice) {
		d.pool = pool
		d.ownsPool = false
	}
}

// WithBandRows sets how many rows one pool task processes.
//
// Parameters:
//   - rows: rows per task, values below 1 are ignored
//
// Returns:
//   - DeviceBuilderOption: a function that applies the band size option to a device
func WithBandRows(rows int) DeviceBuilderOption {
	return func(d *cpuDevice) {
		if rows >= 1 {
			d.bandRows = rows
		}
	}
}
