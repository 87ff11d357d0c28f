package trajectory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

func at(x, y, z float32) common.Pose {
	return common.Pose{Position: mgl32.Vec3{x, y, z}, Target: mgl32.Vec3{x, y, z - 1}, Up: mgl32.Vec3{0, 1, 0}}
}

func TestPredictorLinear(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur mgl32.Vec3
		want      mgl32.Vec3
	}{
		{"unit step", mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{2, 0, 0}},
		{"stationary", mgl32.Vec3{3, 4, 5}, mgl32.Vec3{3, 4, 5}, mgl32.Vec3{3, 4, 5}},
		{"diagonal", mgl32.Vec3{1, 1, 1}, mgl32.Vec3{2, 3, 4}, mgl32.Vec3{3, 5, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPredictor()
			p.Capture(at(tt.prev[0], tt.prev[1], tt.prev[2]))
			got := p.Predict(at(tt.cur[0], tt.cur[1], tt.cur[2]))
			if got.Position != tt.want {
				t.Errorf("Predict().Position = %v, want %v", got.Position, tt.want)
			}
			if got.Up != (mgl32.Vec3{0, 1, 0}) {
				t.Errorf("Predict().Up = %v, want unchanged", got.Up)
			}
		})
	}
}

func TestPredictorWithoutCapture(t *testing.T) {
	p := NewPredictor()
	cur := at(1, 2, 3)
	if got := p.Predict(cur); got != cur {
		t.Errorf("Predict() without capture = %v, want %v", got, cur)
	}
	if _, ok := p.Previous(); ok {
		t.Error("Previous() ok = true before Capture")
	}
	p.Capture(at(0, 0, 0))
	if got := p.Speed(cur); got != (mgl32.Vec3{1, 2, 3}) {
		t.Errorf("Speed() = %v, want (1, 2, 3)", got)
	}
	p.Reset()
	if got := p.Speed(cur); got != (mgl32.Vec3{}) {
		t.Errorf("Speed() after Reset = %v, want zero", got)
	}
}

func TestPredictorMaxExtrapolation(t *testing.T) {
	p := NewPredictor(WithMaxExtrapolation(0.5))
	p.Capture(at(0, 0, 0))
	got := p.Predict(at(4, 0, 0))
	if !got.Position.ApproxEqual(mgl32.Vec3{4.5, 0, 0}) {
		t.Errorf("Predict().Position = %v, want (4.5, 0, 0)", got.Position)
	}
}

func TestPlaybackInterpolation(t *testing.T) {
	waypoints := []common.Pose{at(0, 0, 0), at(10, 0, 0)}
	p := NewPlayback(waypoints, WithStep(0.5))
	if _, ok := p.Tick(); ok {
		t.Fatal("Tick() before Start produced a pose")
	}
	p.Start()

	first, ok := p.Tick()
	if !ok || first.Position != (mgl32.Vec3{0, 0, 0}) {
		t.Fatalf("first Tick() = %v, %v, want origin", first.Position, ok)
	}
	if got := p.Index(); got != 0.5 {
		t.Fatalf("Index() after one tick = %v, want 0.5", got)
	}
	if mid, _ := p.At(p.Index()); mid.Position != (mgl32.Vec3{5, 0, 0}) {
		t.Errorf("At(0.5) = %v, want (5, 0, 0)", mid.Position)
	}
	second, ok := p.Tick()
	if !ok || second.Position != (mgl32.Vec3{5, 0, 0}) {
		t.Errorf("second Tick() = %v, %v, want (5, 0, 0)", second.Position, ok)
	}

	if _, ok := p.Tick(); ok {
		t.Error("Tick() past the last segment produced a pose")
	}
	if p.Playing() || p.Index() != 0 {
		t.Errorf("after finishing: Playing() = %v, Index() = %v, want idle at 0", p.Playing(), p.Index())
	}
}

func TestWithSamplesPerPosition(t *testing.T) {
	p := NewPlayback([]common.Pose{at(0, 0, 0), at(1, 0, 0), at(2, 0, 0)}, WithSamplesPerPosition(4), WithAutoStart())
	ticks := 0
	for {
		if _, ok := p.Tick(); !ok {
			break
		}
		ticks++
	}
	if ticks != 8 {
		t.Errorf("ticks = %d, want 8", ticks)
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traj.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWaypoints(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"with count", "2\n0 0 0 0 0 -1 0 1 0\n1 0 0 1 0 -1 0 1 0\n", 2},
		{"count smaller than data", "1\n0 0 0 0 0 -1 0 1 0\n1 0 0 1 0 -1 0 1 0\n", 1},
		{"no count with comments", "# path\n0 0 0 0 0 -1 0 1 0 # start\n", 1},
		{"float3 export", "float3(1, 2, 3) float3(0, 0, 0) float3(0, 1, 0)\n", 1},
		{"malformed width", "0 0 0 0\n", 0},
		{"not numbers", "a b c\n", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LoadWaypoints(writeFile(t, tt.body)); len(got) != tt.want {
				t.Errorf("LoadWaypoints() returned %d waypoints, want %d", len(got), tt.want)
			}
		})
	}

	if got := LoadWaypoints(filepath.Join(t.TempDir(), "missing.txt")); got != nil {
		t.Errorf("LoadWaypoints(missing) = %v, want nil", got)
	}
	got := LoadWaypoints(writeFile(t, "float3(1, 2, 3) float3(0, 0, 0) float3(0, 1, 0)\n"))
	if got[0].Position != (mgl32.Vec3{1, 2, 3}) || got[0].Up != (mgl32.Vec3{0, 1, 0}) {
		t.Errorf("parsed waypoint = %v", got[0])
	}
}

func TestGridProbes(t *testing.T) {
	bounds := common.BoundingBox{Min: mgl32.Vec3{0, 0, 0}, Max: mgl32.Vec3{4, 4, 4}}
	probes := GridProbes(bounds, 2)
	if len(probes) != 8 {
		t.Fatalf("len(GridProbes()) = %d, want 8", len(probes))
	}
	if probes[0] != (mgl32.Vec3{1, 1, 1}) || probes[7] != (mgl32.Vec3{3, 3, 3}) {
		t.Errorf("probe corners = %v, %v, want (1,1,1) and (3,3,3)", probes[0], probes[7])
	}
	if got := GridProbes(bounds, 0); got != nil {
		t.Errorf("GridProbes(0) = %v, want nil", got)
	}

	wps := ProbeWaypoints(probes[:1])
	if len(wps) != 6 {
		t.Fatalf("len(ProbeWaypoints()) = %d, want 6", len(wps))
	}
	if wps[4].Up != (mgl32.Vec3{0, 0, 1}) || wps[0].Up != (mgl32.Vec3{0, 1, 0}) {
		t.Errorf("probe ups = %v / %v", wps[0].Up, wps[4].Up)
	}
}

func TestNewPlaybackFromFileFallbacks(t *testing.T) {
	bounds := common.BoundingBox{Min: mgl32.Vec3{-1, -1, -1}, Max: mgl32.Vec3{1, 1, 1}}
	missing := filepath.Join(t.TempDir(), "missing.txt")
	probes := writeFile(t, "2\nfloat3(1, 2, 3), float3(4, 5, 6)\n")

	tests := []struct {
		name      string
		path      string
		probePath string
		want      int
	}{
		{"waypoint file", writeFile(t, "0 0 0 0 0 -1 0 1 0\n"), probes, 1},
		{"probe file", missing, probes, 2 * 6},
		{"probe grid", missing, missing, 8 * 6},
		{"no files", "", "", 8 * 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPlaybackFromFile(tt.path, tt.probePath, bounds, 2).Len(); got != tt.want {
				t.Errorf("Len() = %d, want %d", got, tt.want)
			}
		})
	}

	first, ok := NewPlaybackFromFile(missing, probes, bounds, 2).At(0)
	if !ok || first.Position != (mgl32.Vec3{1, 2, 3}) {
		t.Errorf("At(0) = %v, %v, want the first probe (1, 2, 3)", first.Position, ok)
	}
}
