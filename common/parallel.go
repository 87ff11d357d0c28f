package common

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

// ForRows splits rows [0, height) into bands of at most bandRows rows, runs fn on each band
// through the worker pool and blocks until every band has finished. A WaitGroup is the barrier;
// the pool's own Wait is not used since workers stay resident between calls.
// A panic inside fn is recovered and returned as an error.
//
// Parameters:
//   - pool: the worker pool to submit bands to; nil runs every band on the calling goroutine
//   - height: the number of rows
//   - bandRows: the maximum rows per band (values below 1 are treated as 1)
//   - fn: the band body, called with the half-open row range [y0, y1)
//
// Returns:
//   - error: the first recovered panic, or nil
func ForRows(pool worker.DynamicWorkerPool, height, bandRows int, fn func(y0, y1 int)) error {
	if height <= 0 {
		return nil
	}
	bandRows = max(bandRows, 1)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	run := func(y0, y1 int) {
		defer func() {
			if r := recover(); r != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("rows [%d, %d): %v", y0, y1, r)
				}
				errMu.Unlock()
			}
		}()
		fn(y0, y1)
	}

	taskID := 0
	for y0 := 0; y0 < height; y0 += bandRows {
		y1 := min(y0+bandRows, height)
		if pool == nil {
			run(y0, y1)
			continue
		}
		wg.Add(1)
		id := taskID
		taskID++
		pool.SubmitTask(worker.Task{
			ID: id,
			Do: func() (any, error) {
				defer wg.Done()
				run(y0, y1)
				return nil, nil
			},
		})
	}
	wg.Wait()
	return firstErr
}
