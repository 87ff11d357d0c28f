package pass

import (
	"context"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/cadence"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/dump"
	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/Carmen-Shannon/oxy-warp/engine/trajectory"
	"github.com/Carmen-Shannon/oxy-warp/engine/warp"
)

// ForwardExtrapolation field names.
const (
	InPosW           = "PosW_in"
	InNextPosW       = "NextPosW_in"
	InRender         = "PreTonemapped_in"
	InMotionVector   = "MotionVector_in"
	InLinearZRG      = "LinearZ_in"
	OutRender        = "PreTonemapped_out"
	OutRenderNoSplat = "PreTonemapped_out_woSplat"
	OutMotionVector  = "MotionVector_out"
	OutLinearZRG     = "LinearZ_out"
	OutBackground    = "Background_Color"
)

var forwardExtrapolationReflection = Reflection{
	input(InPosW, "World position", texture.FormatRGBA32Float, false),
	input(InNextPosW, "World position rendered with next frame's transforms", texture.FormatRGBA32Float, true),
	input(InRender, "Pre-tonemapped render", texture.FormatRGBA32Float, false),
	input(InMotionVector, "Motion vectors", texture.FormatRG32Float, true),
	input(InLinearZRG, "Linear depth and its derivative", texture.FormatRG32Float, true),

	output(OutRender, "Displayed frame", texture.FormatRGBA32Float),
	output(OutRenderNoSplat, "Displayed frame warped without splatting", texture.FormatRGBA32Float),
	output(OutMotionVector, "Motion vectors, back to the ground-truth frame on synthesized frames", texture.FormatRG32Float),
	output(OutLinearZRG, "Linear depth, warped on synthesized frames", texture.FormatRG32Float),
	output(OutBackground, "Accumulated background", texture.FormatRGBA32Float),
}

// forwardState is everything the pass carries from one frame to the next.
type forwardState struct {
	machine   cadence.ExtrapolationMachine
	predictor trajectory.Predictor
	next      common.Pose
	frame     int

	// The last ground-truth frame.
	render   texture.Texture
	position texture.Texture

	warpDepth texture.Texture
	warpColor texture.Texture
	warpCoord texture.Texture
	splatOut  texture.Texture
	bgDepth   texture.Texture
	bgColor   texture.Texture
}

func (st *forwardState) slots() []*texture.Texture {
	return []*texture.Texture{&st.render, &st.position, &st.warpDepth, &st.warpColor, &st.warpCoord, &st.splatOut, &st.bgDepth, &st.bgColor}
}

type forwardExtrapolation struct {
	mu *sync.Mutex

	dev      device.Device
	pool     texture.Pool
	prof     profiler.Profiler
	dumper   dump.Dumper
	settings ForwardExtrapolationSettings

	warper     warp.Engine
	splatter   warp.Splatter
	background warp.Background

	scene scene.Scene
	state forwardState
}

// ForwardExtrapolation doubles the displayed frame rate: after every rendered (ground-truth) frame
// it synthesizes ExtrapolationCount frames by splatting the last rendered frame into a predicted
// camera pose, with holes filled from an accumulated background.
type ForwardExtrapolation interface {
	Pass

	// Settings returns the current settings.
	Settings() ForwardExtrapolationSettings

	// SetSettings replaces the settings. A new extrapolation count applies from the next frame.
	//
	// Parameters:
	//   - s: the settings, clamped into their widget ranges
	SetSettings(s ForwardExtrapolationSettings)

	// Phase returns the phase of the last frame. In ModeDefault every frame is GroundTruth.
	Phase() cadence.Phase

	// Counter returns the extrapolation counter, -1 before the first frame.
	Counter() int

	// Next returns the pose synthesized frames are rendered from.
	Next() common.Pose

	// Background returns the background accumulator.
	Background() warp.Background
}

var _ ForwardExtrapolation = &forwardExtrapolation{}

// NewForwardExtrapolation creates the pass. It does nothing until a scene is bound.
//
// Parameters:
//   - dev: the device every texture lives on
//   - pool: the pool owned textures are allocated from
//   - options: variadic list of ForwardExtrapolationBuilderOption functions
//
// Returns:
//   - ForwardExtrapolation: the pass
func NewForwardExtrapolation(dev device.Device, pool texture.Pool, options ...ForwardExtrapolationBuilderOption) ForwardExtrapolation {
	warper := warp.NewEngine(dev)
	p := &forwardExtrapolation{
		mu:         &sync.Mutex{},
		dev:        dev,
		pool:       pool,
		prof:       profiler.NewProfiler(profiler.WithDisabled()),
		settings:   DefaultForwardExtrapolationSettings(),
		warper:     warper,
		splatter:   warp.NewSplatter(dev, pool),
		background: warp.NewBackground(dev, pool, warper),
	}
	for _, opt := range options {
		opt(p)
	}
	p.state = p.newState()
	return p
}

func (p *forwardExtrapolation) newState() forwardState {
	return forwardState{
		machine:   cadence.NewExtrapolationMachine(p.settings.ExtrapolationCount),
		predictor: trajectory.NewPredictor(),
	}
}

func (p *forwardExtrapolation) Name() string {
	return "ForwardExtrapolation"
}

func (p *forwardExtrapolation) Reflect() Reflection {
	return forwardExtrapolationReflection
}

func (p *forwardExtrapolation) Fields() []Param {
	return p.Settings().Fields()
}

func (p *forwardExtrapolation) Settings() ForwardExtrapolationSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

func (p *forwardExtrapolation) SetSettings(s ForwardExtrapolationSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s = s.Clamped()
	p.state.machine.SetExtrapolationCount(s.ExtrapolationCount)
	p.settings = s
}

func (p *forwardExtrapolation) Phase() cadence.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settings.Mode == ModeDefault {
		return cadence.GroundTruth
	}
	return p.state.machine.Phase()
}

func (p *forwardExtrapolation) Counter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.machine.Counter()
}

func (p *forwardExtrapolation) Next() common.Pose {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.next
}

func (p *forwardExtrapolation) Background() warp.Background {
	return p.background
}

func (p *forwardExtrapolation) SetScene(sc scene.Scene) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
	p.scene = sc
	p.state = p.newState()
	p.settings.RefreshBackground = true
	if sc != nil {
		common.Logger().Info("scene bound", "component", "pass", "pass", p.Name(), "extrapolation_count", p.settings.ExtrapolationCount)
	}
}

func (p *forwardExtrapolation) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release()
}

func (p *forwardExtrapolation) release() {
	p.pool.Invalidate(p.state.slots()...)
	p.splatter.Invalidate()
	p.background.Invalidate()
}

func (p *forwardExtrapolation) Execute(ctx context.Context, data RenderData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scene == nil {
		return nil
	}
	if err := p.Reflect().Validate(data); err != nil {
		return err
	}
	p.prof.BeginScope("forward.frame")
	defer p.prof.EndScope("forward.frame")

	st := &p.state
	cur := p.scene.Camera().Pose()
	if p.settings.Mode == ModeDefault {
		if err := p.passthrough(ctx, data); err != nil {
			return err
		}
		st.predictor.Capture(cur)
		st.frame++
		return p.dump(ctx, data, st.frame)
	}

	var err error
	phase := st.machine.Next()
	switch phase {
	case cadence.Init:
		err = p.passthrough(ctx, data)
	case cadence.GroundTruth:
		err = p.prof.Scope("forward.ground_truth", func() error { return p.groundTruth(ctx, data, cur) })
	case cadence.Extrapolate:
		err = p.prof.Scope("forward.extrapolate", func() error { return p.extrapolate(ctx, data) })
	}
	if err != nil {
		return err
	}
	if phase != cadence.Extrapolate {
		st.predictor.Capture(cur)
	}
	st.frame++
	return p.dump(ctx, data, st.machine.Counter())
}

// passthrough publishes the rendered frame unchanged.
func (p *forwardExtrapolation) passthrough(ctx context.Context, data RenderData) error {
	return publish(ctx, p.dev, data, map[string]texture.Texture{
		OutRender:        data.Get(InRender),
		OutRenderNoSplat: data.Get(InRender),
		OutMotionVector:  data.Get(InMotionVector),
		OutLinearZRG:     data.Get(InLinearZRG),
	})
}

// groundTruth passes the frame through, keeps it for the synthesized frames, folds it into the
// background and predicts the pose the synthesized frames are rendered from.
func (p *forwardExtrapolation) groundTruth(ctx context.Context, data RenderData, cur common.Pose) error {
	st := &p.state
	if err := p.passthrough(ctx, data); err != nil {
		return err
	}
	if err := p.ensure(data.Dim); err != nil {
		return err
	}

	position := common.Coalesce(data.Get(InNextPosW), data.Get(InPosW))
	if err := device.Copy(ctx, p.dev, data.Get(InRender), st.render); err != nil {
		return err
	}
	if err := device.Copy(ctx, p.dev, position, st.position); err != nil {
		return err
	}
	if err := p.dev.Barrier(ctx); err != nil {
		return err
	}

	if p.settings.RefreshBackground {
		p.background.Reset()
		p.settings.RefreshBackground = false
	}
	vp := p.scene.Camera().ViewProjectionNoJitter()
	if err := p.background.Collect(ctx, cur, vp, data.Get(InRender), data.Get(InPosW)); err != nil {
		return err
	}
	if err := publish(ctx, p.dev, data, map[string]texture.Texture{OutBackground: p.background.Color()}); err != nil {
		return err
	}

	st.next = st.predictor.Predict(cur)
	return nil
}

// extrapolate renders the last ground-truth frame from the predicted pose.
func (p *forwardExtrapolation) extrapolate(ctx context.Context, data RenderData) error {
	st := &p.state
	if st.render == nil {
		return p.passthrough(ctx, data)
	}
	if err := p.ensure(data.Dim); err != nil {
		return err
	}
	cam := p.scene.Camera().Clone()
	cam.SetPose(st.next)
	vp := cam.ViewProjectionNoJitter()

	var fallback texture.Texture
	if p.background.Filled() {
		if err := p.background.Project(ctx, vp, warp.Target{DepthTest: st.bgDepth, Color: st.bgColor}); err != nil {
			return err
		}
		fallback = st.bgColor
	}

	last := &gbuffer.Layer{Label: "forward.last", Position: st.position, Color: st.render}
	warped := warp.Target{DepthTest: st.warpDepth, Color: st.warpColor, Coord: st.warpCoord}
	if err := p.warper.WarpTo(ctx, last, vp, warped, warp.Params{}); err != nil {
		return err
	}
	src := warp.SplatSource{Position: st.position, Color: st.render}
	if err := p.splatter.Splat(ctx, src, vp, st.splatOut, fallback, p.settings.splatParams()); err != nil {
		return err
	}
	if err := p.dev.Barrier(ctx); err != nil {
		return err
	}

	if err := p.warper.Motion(ctx, warped, data.Dim, data.Get(OutMotionVector), data.Get(OutLinearZRG)); err != nil {
		return err
	}
	return publish(ctx, p.dev, data, map[string]texture.Texture{
		OutRender:        st.splatOut,
		OutRenderNoSplat: st.warpColor,
		OutBackground:    fallback,
	})
}

func (p *forwardExtrapolation) ensure(dim common.Uint2) error {
	st := &p.state
	rgba := []*texture.Texture{&st.render, &st.position, &st.warpColor, &st.splatOut, &st.bgColor}
	labels := []string{"render", "position", "warp_color", "splat", "background_color"}
	for i, slot := range rgba {
		if _, err := p.pool.Ensure(slot, "forward."+labels[i], dim, texture.FormatRGBA32Float, device.StorageBind, 1); err != nil {
			return fmt.Errorf("pass: %s: %w", p.Name(), err)
		}
	}
	depth := []*texture.Texture{&st.warpDepth, &st.bgDepth}
	labels = []string{"warp_depth", "background_depth"}
	for i, slot := range depth {
		if _, err := p.pool.Ensure(slot, "forward."+labels[i], dim, texture.FormatR32Uint, device.StorageBind, 1); err != nil {
			return fmt.Errorf("pass: %s: %w", p.Name(), err)
		}
	}
	if _, err := p.pool.Ensure(&st.warpCoord, "forward.warp_coord", dim, texture.FormatRG32Uint, device.StorageBind, 1); err != nil {
		return fmt.Errorf("pass: %s: %w", p.Name(), err)
	}
	return nil
}

func (p *forwardExtrapolation) dump(ctx context.Context, data RenderData, frame int) error {
	if !p.settings.DumpData {
		return nil
	}
	if p.dumper == nil {
		p.dumper = dump.NewDumper(p.dev, p.settings.DumpDir, dump.WithStyle(dump.NameDotPadded))
	}
	if p.settings.DumpDir != "" {
		p.dumper.SetDir(p.settings.DumpDir)
	}
	named := map[string]texture.Texture{
		"Render":         data.Get(OutRender),
		"Render_woSplat": data.Get(OutRenderNoSplat),
		"MotionVector":   data.Get(OutMotionVector),
		"LinearZ":        data.Get(OutLinearZRG),
	}
	if p.state.machine.Phase() == cadence.GroundTruth || p.settings.Mode == ModeDefault {
		named["GT"] = data.Get(InRender)
	}
	return p.dumper.DumpAll(ctx, frame, named)
}
