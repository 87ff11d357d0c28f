package pass

import (
	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-warp/engine/warp"
)

// Control is the widget a host UI draws for a tunable.
type Control int

const (
	ControlSlider Control = iota
	ControlCheckbox
	ControlDropdown
	ControlText
)

func (c Control) String() string {
	switch c {
	case ControlCheckbox:
		return "checkbox"
	case ControlDropdown:
		return "dropdown"
	case ControlText:
		return "text"
	default:
		return "slider"
	}
}

// Param describes one tunable for the host's UI layer.
type Param struct {
	// Name is the label shown next to the widget.
	Name    string
	Control Control
	// Min and Max bound sliders.
	Min, Max float64
	// Integer sliders step by one.
	Integer bool
	// Options are the dropdown entries, indexed by value.
	Options []string
}

func slider(name string, lo, hi float64) Param {
	return Param{Name: name, Control: ControlSlider, Min: lo, Max: hi}
}

func intSlider(name string, lo, hi int) Param {
	return Param{Name: name, Control: ControlSlider, Min: float64(lo), Max: float64(hi), Integer: true}
}

func checkbox(name string) Param {
	return Param{Name: name, Control: ControlCheckbox}
}

func dropdown(name string, options ...string) Param {
	return Param{Name: name, Control: ControlDropdown, Max: float64(len(options) - 1), Integer: true, Options: options}
}

func text(name string) Param {
	return Param{Name: name, Control: ControlText}
}

// TwoLayerSettings are the tunables of the TwoLayeredGbuffers pass.
type TwoLayerSettings struct {
	// Second layer acceptance.
	Eps                 float32
	NegateEps           bool
	Compare             gbuffer.Compare
	UseNormalConstraint bool
	NormalThreshold     float32
	UseMaxDepth         bool
	MaxDepth            float32

	// RefreshInterval is the number of frames between regenerations.
	RefreshInterval int

	// Warp and merge.
	MipLevels        int
	UsedMipLevel     int
	NearestThreshold int
	SubPixel         bool
	SubPixelSamples  int
	UsePrediction    bool

	// Disocclusion sampling.
	CameraCount    int
	CameraRadius   float32
	AdaptiveRadius bool
	RadiusScale    float32
	MinRadius      float32
	RenderScale    float32

	// Scripted playback.
	Playback           bool
	TrajectoryPath     string
	ProbePath          string
	ProbeCount         int
	SamplesPerPosition int

	DumpData bool
	DumpDir  string
}

// DefaultTwoLayerSettings returns the settings a freshly created pass starts with.
func DefaultTwoLayerSettings() TwoLayerSettings {
	return TwoLayerSettings{
		Eps:                0.1,
		MaxDepth:           100,
		RefreshInterval:    2,
		MipLevels:          3,
		NearestThreshold:   2,
		SubPixelSamples:    2,
		UsePrediction:      true,
		CameraCount:        4,
		CameraRadius:       0.2,
		AdaptiveRadius:     true,
		RadiusScale:        1,
		MinRadius:          0.05,
		RenderScale:        1,
		ProbeCount:         3,
		SamplesPerPosition: 30,
	}
}

// Fields enumerates every tunable in declaration order.
func (s TwoLayerSettings) Fields() []Param {
	return []Param{
		slider("Eps", 0, 5),
		checkbox("Negate Eps"),
		dropdown("Compare", gbuffer.CompareGreater.String(), gbuffer.CompareGreaterEqual.String()),
		checkbox("Normal Constraint"),
		slider("Normal Threshold", -1, 1),
		checkbox("Max Depth Constraint"),
		slider("Max Depth", 0, 1000),
		intSlider("Refresh Interval", 1, 60),
		intSlider("Mip Levels", 1, 8),
		intSlider("Used Mip Level", 0, 7),
		intSlider("Nearest Threshold", 0, 16),
		checkbox("Enable Sub Pixel"),
		intSlider("Sub Pixel Samples", 1, 8),
		checkbox("Use Prediction"),
		intSlider("Camera Count", 0, 16),
		slider("Camera Radius", 0, 10),
		checkbox("Adaptive Radius"),
		slider("Radius Scale", 0, 10),
		slider("Min Radius", 0, 10),
		slider("Render Scale", 0.1, 4),
		checkbox("Playback"),
		text("Trajectory Path"),
		text("Probe Path"),
		intSlider("Probe Count", 1, 16),
		intSlider("Samples Per Position", 1, 240),
		checkbox("Dump Data"),
		text("Dump Dir Path"),
	}
}

// Clamped returns s with every numeric tunable clamped into its widget range.
func (s TwoLayerSettings) Clamped() TwoLayerSettings {
	s.Eps = common.Clamp(s.Eps, 0, 5)
	s.Compare = common.Clamp(s.Compare, gbuffer.CompareGreater, gbuffer.CompareGreaterEqual)
	s.NormalThreshold = common.Clamp(s.NormalThreshold, -1, 1)
	s.MaxDepth = common.Clamp(s.MaxDepth, 0, 1000)
	s.RefreshInterval = common.Clamp(s.RefreshInterval, 1, 60)
	s.MipLevels = common.Clamp(s.MipLevels, 1, 8)
	s.UsedMipLevel = common.Clamp(s.UsedMipLevel, 0, s.MipLevels-1)
	s.NearestThreshold = common.Clamp(s.NearestThreshold, 0, 16)
	s.SubPixelSamples = common.Clamp(s.SubPixelSamples, 1, 8)
	s.CameraCount = common.Clamp(s.CameraCount, 0, 16)
	s.CameraRadius = common.Clamp(s.CameraRadius, 0, 10)
	s.RadiusScale = common.Clamp(s.RadiusScale, 0, 10)
	s.MinRadius = common.Clamp(s.MinRadius, 0, 10)
	s.RenderScale = common.Clamp(s.RenderScale, 0.1, 4)
	s.ProbeCount = common.Clamp(s.ProbeCount, 1, 16)
	s.SamplesPerPosition = common.Clamp(s.SamplesPerPosition, 1, 240)
	return s
}

func (s TwoLayerSettings) twoLayerParams() gbuffer.TwoLayerParams {
	return gbuffer.TwoLayerParams{
		Eps:                 s.Eps,
		NegateEps:           s.NegateEps,
		Compare:             s.Compare,
		UseMaxDepth:         s.UseMaxDepth,
		MaxDepth:            s.MaxDepth,
		UseNormalConstraint: s.UseNormalConstraint,
		NormalThreshold:     s.NormalThreshold,
	}
}

func (s TwoLayerSettings) disocclusionParams() gbuffer.DisocclusionParams {
	return gbuffer.DisocclusionParams{
		CameraCount: s.CameraCount,
		Radius:      s.CameraRadius,
		Adaptive:    s.AdaptiveRadius,
		RadiusScale: s.RadiusScale,
		MinRadius:   s.MinRadius,
		RenderScale: s.RenderScale,
		Eps:         s.Eps,
	}
}

func (s TwoLayerSettings) warpParams() warp.Params {
	return warp.Params{SubPixel: s.SubPixel, SubPixelSamples: s.SubPixelSamples}
}

func (s TwoLayerSettings) mergeParams() warp.MergeParams {
	return warp.MergeParams{NearestThreshold: s.NearestThreshold, UsedMipLevel: s.UsedMipLevel}
}

// Mode selects what ForwardExtrapolation does on non ground-truth frames.
type Mode int

const (
	// ModeDefault passes every rendered frame through.
	ModeDefault Mode = iota
	// ModeExtrapolation synthesizes the frames between ground-truth frames.
	ModeExtrapolation
)

func (m Mode) String() string {
	if m == ModeExtrapolation {
		return "extrapolation"
	}
	return "default"
}

// ForwardExtrapolationSettings are the tunables of the ForwardExtrapolation pass.
type ForwardExtrapolationSettings struct {
	Mode Mode
	// ExtrapolationCount is the number of synthesized frames per ground-truth frame.
	ExtrapolationCount int

	// Splat.
	KernelSize     int
	SplatSigma     float32
	SplatDistSigma float32
	SplatStride    int

	// RefreshBackground starts a new background on the next ground-truth frame. The pass clears
	// it once consumed.
	RefreshBackground bool

	DumpData bool
	DumpDir  string
}

// DefaultForwardExtrapolationSettings returns the settings a freshly bound scene starts with.
func DefaultForwardExtrapolationSettings() ForwardExtrapolationSettings {
	return ForwardExtrapolationSettings{
		ExtrapolationCount: 1,
		KernelSize:         3,
		SplatSigma:         1,
		SplatDistSigma:     8,
		SplatStride:        3,
		RefreshBackground:  true,
	}
}

// Fields enumerates every tunable in declaration order.
func (s ForwardExtrapolationSettings) Fields() []Param {
	return []Param{
		dropdown("Mode", ModeDefault.String(), ModeExtrapolation.String()),
		intSlider("Extrapolation Num", 1, 8),
		intSlider("Kernel Size", 1, 32),
		slider("Splat Sigma", 0.1, 20),
		slider("Splat Dist Sigma", 0.1, 20),
		intSlider("Splat Stride Num", 1, 10),
		checkbox("Refresh background data"),
		checkbox("Dump Data"),
		text("Dump Dir Path"),
	}
}

// Clamped returns s with every numeric tunable clamped into its widget range.
func (s ForwardExtrapolationSettings) Clamped() ForwardExtrapolationSettings {
	s.Mode = common.Clamp(s.Mode, ModeDefault, ModeExtrapolation)
	s.ExtrapolationCount = common.Clamp(s.ExtrapolationCount, 1, 8)
	s.KernelSize = common.Clamp(s.KernelSize, 1, 32)
	s.SplatSigma = common.Clamp(s.SplatSigma, 0.1, 20)
	s.SplatDistSigma = common.Clamp(s.SplatDistSigma, 0.1, 20)
	s.SplatStride = common.Clamp(s.SplatStride, 1, 10)
	return s
}

func (s ForwardExtrapolationSettings) splatParams() warp.SplatParams {
	return warp.SplatParams{KernelSize: s.KernelSize, Sigma: s.SplatSigma, DistSigma: s.SplatDistSigma, Stride: s.SplatStride}
}
