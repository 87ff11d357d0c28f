package camera

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/go-gl/mathgl/mgl32"
)

func near(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b))) <= eps
}

func TestCameraJitterOnlyAffectsJitteredMatrix(t *testing.T) {
	dim := common.Uint2{X: 8, Y: 8}
	point := mgl32.Vec3{0, 0, -5}

	tests := []struct {
		name           string
		jx, jy         float32
		wantX, wantY   float32
		wantNoJitterXY float32
	}{
		{"none", 0, 0, 4, 4, 4},
		{"half pixel right", 0.5 / 8, 0, 4.5, 4, 4},
		{"one pixel down", 0, 1.0 / 8, 4, 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCamera(WithJitter(tt.jx, tt.jy))
			x, y, depth, ok := common.ProjectToTexel(c.ViewProjection(), point, dim)
			if !ok || !near(x, tt.wantX, 1e-4) || !near(y, tt.wantY, 1e-4) {
				t.Errorf("jittered projection = (%v, %v, ok=%v), want (%v, %v)", x, y, ok, tt.wantX, tt.wantY)
			}
			if !near(depth, 5, 1e-4) {
				t.Errorf("depth = %v, want 5", depth)
			}
			nx, ny, _, _ := common.ProjectToTexel(c.ViewProjectionNoJitter(), point, dim)
			if !near(nx, tt.wantNoJitterXY, 1e-4) || !near(ny, tt.wantNoJitterXY, 1e-4) {
				t.Errorf("unjittered projection = (%v, %v), want center", nx, ny)
			}
		})
	}
}

func TestCameraInverseViewProjection(t *testing.T) {
	c := NewCamera(WithPose(common.Pose{
		Position: mgl32.Vec3{1, 2, 3},
		Target:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
	}), WithJitter(0.01, -0.02))
	got := c.InverseViewProjection().Mul4(c.ViewProjection())
	if !got.ApproxEqualThreshold(mgl32.Ident4(), 1e-4) {
		t.Errorf("InverseViewProjection() * ViewProjection() = %v, want identity", got)
	}
}

func TestCameraFocalLength(t *testing.T) {
	tests := []struct {
		mm float32
	}{
		{18}, {35}, {50}, {120},
	}
	for _, tt := range tests {
		c := NewCamera()
		c.SetFocalLength(tt.mm)
		if got := c.FocalLength(); !near(got, tt.mm, 1e-3) {
			t.Errorf("FocalLength() after SetFocalLength(%v) = %v", tt.mm, got)
		}
	}

	c := NewCamera(WithFov(1))
	c.SetFocalLength(0)
	if got := c.Fov(); got != 1 {
		t.Errorf("SetFocalLength(0) changed fov to %v", got)
	}
}

func TestCameraCloneIsIndependent(t *testing.T) {
	c := NewCamera(WithController(NewCameraController()))
	clone := c.Clone()
	if clone.Controller() != nil {
		t.Error("Clone() kept the controller")
	}
	clone.SetPose(common.Pose{Position: mgl32.Vec3{5, 5, 5}, Up: mgl32.Vec3{0, 1, 0}})
	if c.Pose().Position == clone.Pose().Position {
		t.Error("SetPose on the clone moved the original")
	}
	if c.ViewProjection() == clone.ViewProjection() {
		t.Error("clone matrices were not recomputed")
	}
}

func TestControllerDrivesCamera(t *testing.T) {
	ctrl := NewCameraController(WithRadius(10), WithElevation(0), WithAzimuth(0))
	c := NewCamera(WithController(ctrl))

	if got := c.Pose().Position; !got.ApproxEqual(mgl32.Vec3{0, 0, 10}) {
		t.Fatalf("initial position = %v, want (0, 0, 10)", got)
	}

	ctrl.PanRight(1)
	c.Update()
	if got := c.Pose().Position; !got.ApproxEqualThreshold(mgl32.Vec3{1, 0, 10}, 1e-5) {
		t.Errorf("position after PanRight(1) = %v, want (1, 0, 10)", got)
	}
	if got := c.Pose().Target; !got.ApproxEqualThreshold(mgl32.Vec3{1, 0, 0}, 1e-5) {
		t.Errorf("target after PanRight(1) = %v, want (1, 0, 0)", got)
	}

	ctrl.Orbit(0, 10)
	if got := ctrl.Elevation(); got > float32(math.Pi/2) {
		t.Errorf("elevation = %v, want clamped below pi/2", got)
	}
	ctrl.SetRadius(1e9)
	if got := ctrl.Radius(); got != 1000 {
		t.Errorf("Radius() = %v, want clamped to 1000", got)
	}
}
