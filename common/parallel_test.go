package common

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

func TestForRowsCoversEveryRowOnce(t *testing.T) {
	pool := worker.NewDynamicWorkerPool(4, 256, time.Second)
	defer pool.Stop()

	tests := []struct {
		name     string
		height   int
		bandRows int
	}{
		{"exact bands", 64, 8},
		{"ragged last band", 65, 8},
		{"single row bands", 7, 0},
		{"one band", 5, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]atomic.Int32, tt.height)
			if err := ForRows(pool, tt.height, tt.bandRows, func(y0, y1 int) {
				for y := y0; y < y1; y++ {
					hits[y].Add(1)
				}
			}); err != nil {
				t.Fatalf("ForRows() error = %v", err)
			}
			for y := range hits {
				if got := hits[y].Load(); got != 1 {
					t.Errorf("row %d visited %d times, want 1", y, got)
				}
			}
		})
	}
}

func TestForRowsRecoversPanic(t *testing.T) {
	err := ForRows(nil, 4, 1, func(y0, y1 int) {
		if y0 == 2 {
			panic("boom")
		}
	})
	if err == nil {
		t.Fatal("ForRows() error = nil, want recovered panic")
	}
}
