package pass

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
)

func TestTwoLayerSettingsFields(t *testing.T) {
	fields := DefaultTwoLayerSettings().Fields()
	if len(fields) != 27 {
		t.Fatalf("len(Fields()) = %d, want 27", len(fields))
	}
	seen := map[string]bool{}
	for _, f := range fields {
		if seen[f.Name] {
			t.Errorf("Fields() repeats %q", f.Name)
		}
		seen[f.Name] = true
		if f.Control == ControlSlider && f.Min >= f.Max {
			t.Errorf("slider %q range [%v, %v] is empty", f.Name, f.Min, f.Max)
		}
	}
	if !seen["Refresh Interval"] || !seen["Dump Dir Path"] {
		t.Errorf("Fields() = %v, want Refresh Interval and Dump Dir Path", fields)
	}
}

func TestTwoLayerSettingsClamped(t *testing.T) {
	tests := []struct {
		name  string
		in    TwoLayerSettings
		check func(TwoLayerSettings) bool
	}{
		{"interval floor", TwoLayerSettings{RefreshInterval: 0, MipLevels: 3}, func(s TwoLayerSettings) bool { return s.RefreshInterval == 1 }},
		{"interval ceiling", TwoLayerSettings{RefreshInterval: 600, MipLevels: 3}, func(s TwoLayerSettings) bool { return s.RefreshInterval == 60 }},
		{"used mip below mip count", TwoLayerSettings{MipLevels: 2, UsedMipLevel: 5}, func(s TwoLayerSettings) bool { return s.UsedMipLevel == 1 }},
		{"compare range", TwoLayerSettings{Compare: gbuffer.Compare(9), MipLevels: 1}, func(s TwoLayerSettings) bool { return s.Compare == gbuffer.CompareGreaterEqual }},
		{"normal threshold", TwoLayerSettings{NormalThreshold: -3, MipLevels: 1}, func(s TwoLayerSettings) bool { return s.NormalThreshold == -1 }},
		{"render scale", TwoLayerSettings{RenderScale: 0, MipLevels: 1}, func(s TwoLayerSettings) bool { return s.RenderScale == 0.1 }},
		{"defaults unchanged", DefaultTwoLayerSettings(), func(s TwoLayerSettings) bool { return s == DefaultTwoLayerSettings() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Clamped(); !tt.check(got) {
				t.Errorf("Clamped() = %+v", got)
			}
		})
	}
}

func TestForwardExtrapolationSettings(t *testing.T) {
	s := DefaultForwardExtrapolationSettings()
	if got := len(s.Fields()); got != 9 {
		t.Errorf("len(Fields()) = %d, want 9", got)
	}
	if got := s.Fields()[0].Options; len(got) != 2 || got[1] != "extrapolation" {
		t.Errorf("Mode options = %v, want [default extrapolation]", got)
	}

	c := ForwardExtrapolationSettings{Mode: Mode(4), ExtrapolationCount: 0, KernelSize: 99, SplatSigma: 0, SplatStride: 0}.Clamped()
	if c.Mode != ModeExtrapolation || c.ExtrapolationCount != 1 || c.KernelSize != 32 || c.SplatStride != 1 {
		t.Errorf("Clamped() = %+v", c)
	}
	if !near(c.SplatSigma, 0.1) {
		t.Errorf("Clamped().SplatSigma = %v, want 0.1", c.SplatSigma)
	}

	sp := s.splatParams()
	if sp.KernelSize != 3 || sp.Stride != 3 || sp.Sigma != 1 || sp.DistSigma != 8 {
		t.Errorf("splatParams() = %+v", sp)
	}
}
