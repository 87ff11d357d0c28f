package cadence

import "testing"

func TestRefreshMachineCadence(t *testing.T) {
	tests := []struct {
		interval int
		wantR    int
	}{
		{1, 1},
		{2, 2},
		{4, 4},
		{0, 1},
		{-3, 1},
	}
	for _, tt := range tests {
		m := NewRefreshMachine(tt.interval)
		if m.State() != Idle {
			t.Fatalf("initial State() = %v, want idle", m.State())
		}
		frames := 3 * tt.wantR
		regen := 0
		for i := range frames {
			s := m.Next()
			want := Reproject
			if i%tt.wantR == 0 {
				want = Regenerate
			}
			if s != want {
				t.Errorf("interval %d frame %d: Next() = %v, want %v", tt.interval, i, s, want)
			}
			if s == Regenerate {
				regen++
			}
		}
		if regen != 3 {
			t.Errorf("interval %d: %d regenerations over %d frames, want 3", tt.interval, regen, frames)
		}
		if got := m.Counter(); got != frames {
			t.Errorf("Counter() = %d, want %d", got, frames)
		}
	}
}

func TestRefreshMachineReset(t *testing.T) {
	m := NewRefreshMachine(3)
	m.Next()
	m.Next()
	m.Reset()
	if m.State() != Idle || m.Counter() != 0 {
		t.Errorf("after Reset: State() = %v, Counter() = %d", m.State(), m.Counter())
	}
	if got := m.Next(); got != Regenerate {
		t.Errorf("first Next() after Reset = %v, want regenerate", got)
	}
	m.SetInterval(0)
	if got := m.Interval(); got != 1 {
		t.Errorf("Interval() after SetInterval(0) = %d, want 1", got)
	}
}

func TestExtrapolationMachine(t *testing.T) {
	tests := []struct {
		count int
		want  []Phase
	}{
		{1, []Phase{Init, GroundTruth, Extrapolate, GroundTruth, Extrapolate}},
		{2, []Phase{Init, GroundTruth, Extrapolate, Extrapolate, GroundTruth}},
		{0, []Phase{Init, GroundTruth, GroundTruth, GroundTruth}},
	}
	for _, tt := range tests {
		m := NewExtrapolationMachine(tt.count)
		if got := m.Counter(); got != -1 {
			t.Fatalf("initial Counter() = %d, want -1", got)
		}
		for i, want := range tt.want {
			if got := m.Next(); got != want {
				t.Errorf("count %d frame %d: Next() = %v, want %v", tt.count, i, got, want)
			}
		}
		m.Reset()
		if got := m.Next(); got != Init {
			t.Errorf("Next() after Reset = %v, want init", got)
		}
	}
}
