package pass

import (
	"context"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/cadence"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/dump"
	"github.com/Carmen-Shannon/oxy-warp/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-warp/engine/profiler"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/Carmen-Shannon/oxy-warp/engine/trajectory"
	"github.com/Carmen-Shannon/oxy-warp/engine/warp"
)

// TwoLayeredGbuffers field names.
const (
	InPosWS         = "gPosWS"
	InNormalWS      = "gNormalWS"
	InDiffOpacity   = "gDiffOpacity"
	InLinearZ       = "gLinearZ"
	InRawInstance   = "gRawInstanceID"
	InPosL          = "gPosL"
	InPreTonemapped = "rPreTonemapped"

	OutMask              = "tl_Mask"
	OutFirstNormWS       = "tl_FirstNormWS"
	OutFirstDiffOpacity  = "tl_FirstDiffOpacity"
	OutFirstPosWS        = "tl_FirstPosWS"
	OutFirstPrevCoord    = "tl_FirstPrevCoord"
	OutFirstPreTonemap   = "tl_FirstPreTonemap"
	OutSecondNormWS      = "tl_SecondNormWS"
	OutSecondDiffOpacity = "tl_SecondDiffOpacity"
	OutSecondPosWS       = "tl_SecondPosWS"
	OutSecondPrevCoord   = "tl_SecondPrevCoord"
	OutCenterDiffOpacity = "tl_CenterDiffOpacity"
	OutCenterNormWS      = "tl_CenterNormWS"
	OutCenterPosWS       = "tl_CenterPosWS"
	OutCenterRender      = "tl_CenterRender"
)

var twoLayerReflection = Reflection{
	input(InPosWS, "World position", texture.FormatRGBA32Float, true),
	input(InNormalWS, "World normal", texture.FormatRGBA32Float, true),
	input(InDiffOpacity, "Diffuse albedo and opacity", texture.FormatRGBA32Float, true),
	input(InLinearZ, "Linear depth", texture.FormatR32Float, true),
	input(InRawInstance, "Instance id", texture.FormatR32Uint, true),
	input(InPosL, "Object-space position", texture.FormatRGBA32Float, true),
	input(InPreTonemapped, "Pre-tonemapped render", texture.FormatRGBA32Float, true),

	output(OutMask, "Merge provenance", texture.FormatR32Uint),
	output(OutFirstNormWS, "Merged normal", texture.FormatRGBA32Float),
	output(OutFirstDiffOpacity, "Merged albedo", texture.FormatRGBA32Float),
	output(OutFirstPosWS, "Merged world position", texture.FormatRGBA32Float),
	output(OutFirstPrevCoord, "Merged source coordinate", texture.FormatRG32Uint),
	output(OutFirstPreTonemap, "Merged render", texture.FormatRGBA32Float),
	output(OutSecondNormWS, "Projected second layer normal", texture.FormatRGBA32Float),
	output(OutSecondDiffOpacity, "Projected second layer albedo", texture.FormatRGBA32Float),
	output(OutSecondPosWS, "Projected second layer world position", texture.FormatRGBA32Float),
	output(OutSecondPrevCoord, "Projected second layer source coordinate", texture.FormatRG32Uint),
	output(OutCenterDiffOpacity, "Key frame albedo", texture.FormatRGBA32Float),
	output(OutCenterNormWS, "Key frame normal", texture.FormatRGBA32Float),
	output(OutCenterPosWS, "Key frame world position", texture.FormatRGBA32Float),
	output(OutCenterRender, "Key frame render", texture.FormatRGBA32Float),
}

// twoLayerState is everything the pass carries from one frame to the next.
type twoLayerState struct {
	refresh   cadence.RefreshMachine
	predictor trajectory.Predictor
	playback  trajectory.Playback
	frame     int

	first  *gbuffer.Layer
	second *gbuffer.Layer
	center *gbuffer.Layer

	firstStack  *gbuffer.ProjectedStack
	secondStack *gbuffer.ProjectedStack
	merged      *gbuffer.MergedLayer
}

func newTwoLayerState(s TwoLayerSettings) twoLayerState {
	return twoLayerState{
		refresh:     cadence.NewRefreshMachine(s.RefreshInterval),
		predictor:   trajectory.NewPredictor(),
		first:       gbuffer.NewLayer("two_layer.first"),
		second:      gbuffer.NewLayer("two_layer.second"),
		center:      gbuffer.NewLayer("two_layer.center"),
		firstStack:  gbuffer.NewProjectedStack("two_layer.proj_first", s.MipLevels),
		secondStack: gbuffer.NewProjectedStack("two_layer.proj_second", s.MipLevels),
		merged:      gbuffer.NewMergedLayer("two_layer.merged"),
	}
}

func (st *twoLayerState) release(pool texture.Pool) {
	st.first.Invalidate(pool)
	st.second.Invalidate(pool)
	st.center.Invalidate(pool)
	st.firstStack.Invalidate(pool)
	st.secondStack.Invalidate(pool)
	st.merged.Invalidate(pool)
}

type twoLayeredGbuffers struct {
	mu *sync.Mutex

	dev            device.Device
	pool           texture.Pool
	prof           profiler.Profiler
	dumper         dump.Dumper
	settings       TwoLayerSettings
	samplerOptions []gbuffer.SamplerBuilderOption
	fixedPlayback  trajectory.Playback

	single  gbuffer.SingleLayerGenerator
	two     gbuffer.TwoLayerGenerator
	sampler gbuffer.DisocclusionSampler
	warper  warp.Engine
	merger  warp.Merger

	scene scene.Scene
	state twoLayerState
}

// TwoLayeredGbuffers regenerates a two-layer G-buffer every RefreshInterval frames and reprojects
// it into the current view on the frames in between. Every frame ends with both layers warped into
// the target view, merged and shaded.
type TwoLayeredGbuffers interface {
	Pass

	// Settings returns the current settings.
	Settings() TwoLayerSettings

	// SetSettings replaces the settings. A new refresh interval applies from the next frame; a new
	// mip count reallocates the projected stacks.
	//
	// Parameters:
	//   - s: the settings, clamped into their widget ranges
	SetSettings(s TwoLayerSettings)

	// State returns the cadence state of the last frame, Idle before the first.
	State() cadence.State

	// Frame returns the number of frames executed since the scene was bound.
	Frame() int

	// Layers returns the key-frame first and second layers.
	Layers() (first, second *gbuffer.Layer)

	// Center returns the copy of the first layer taken at the last regeneration.
	Center() *gbuffer.Layer

	// Projected returns the first and second layers warped into the last target view.
	Projected() (first, second *gbuffer.ProjectedStack)

	// Merged returns the merged layer of the last frame.
	Merged() *gbuffer.MergedLayer
}

var _ TwoLayeredGbuffers = &twoLayeredGbuffers{}

// NewTwoLayeredGbuffers creates the pass. It does nothing until a scene is bound.
//
// Parameters:
//   - dev: the device every texture lives on
//   - pool: the pool owned textures are allocated from
//   - options: variadic list of TwoLayerBuilderOption functions
//
// Returns:
//   - TwoLayeredGbuffers: the pass
func NewTwoLayeredGbuffers(dev device.Device, pool texture.Pool, options ...TwoLayerBuilderOption) TwoLayeredGbuffers {
	p := &twoLayeredGbuffers{
		mu:       &sync.Mutex{},
		dev:      dev,
		pool:     pool,
		prof:     profiler.NewProfiler(profiler.WithDisabled()),
		settings: DefaultTwoLayerSettings(),
		single:   gbuffer.NewSingleLayerGenerator(dev, pool),
		two:      gbuffer.NewTwoLayerGenerator(dev, pool),
		warper:   warp.NewEngine(dev),
		merger:   warp.NewMerger(dev),
	}
	for _, opt := range options {
		opt(p)
	}
	p.sampler = gbuffer.NewDisocclusionSampler(dev, pool, p.samplerOptions...)
	p.state = newTwoLayerState(p.settings)
	return p
}

func (p *twoLayeredGbuffers) Name() string {
	return "TwoLayeredGbuffers"
}

func (p *twoLayeredGbuffers) Reflect() Reflection {
	return twoLayerReflection
}

func (p *twoLayeredGbuffers) Fields() []Param {
	return p.Settings().Fields()
}

func (p *twoLayeredGbuffers) Settings() TwoLayerSettings {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settings
}

func (p *twoLayeredGbuffers) SetSettings(s TwoLayerSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s = s.Clamped()
	if s.MipLevels != p.settings.MipLevels {
		p.state.firstStack.Invalidate(p.pool)
		p.state.secondStack.Invalidate(p.pool)
		p.state.firstStack = gbuffer.NewProjectedStack("two_layer.proj_first", s.MipLevels)
		p.state.secondStack = gbuffer.NewProjectedStack("two_layer.proj_second", s.MipLevels)
	}
	p.state.refresh.SetInterval(s.RefreshInterval)
	p.settings = s
}

func (p *twoLayeredGbuffers) SetScene(sc scene.Scene) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.release(p.pool)
	p.sampler.Invalidate()
	p.scene = sc
	p.state = newTwoLayerState(p.settings)
	if sc == nil {
		return
	}
	switch {
	case p.fixedPlayback != nil:
		p.state.playback = p.fixedPlayback
	case p.settings.Playback:
		p.state.playback = trajectory.NewPlaybackFromFile(p.settings.TrajectoryPath, p.settings.ProbePath, sc.Bounds(), p.settings.ProbeCount,
			trajectory.WithSamplesPerPosition(p.settings.SamplesPerPosition), trajectory.WithAutoStart())
	}
	common.Logger().Info("scene bound", "component", "pass", "pass", p.Name(), "refresh_interval", p.settings.RefreshInterval)
}

func (p *twoLayeredGbuffers) State() cadence.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.refresh.State()
}

func (p *twoLayeredGbuffers) Frame() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.frame
}

func (p *twoLayeredGbuffers) Layers() (*gbuffer.Layer, *gbuffer.Layer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.first, p.state.second
}

func (p *twoLayeredGbuffers) Center() *gbuffer.Layer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.center
}

func (p *twoLayeredGbuffers) Projected() (*gbuffer.ProjectedStack, *gbuffer.ProjectedStack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.firstStack, p.state.secondStack
}

func (p *twoLayeredGbuffers) Merged() *gbuffer.MergedLayer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.merged
}

func (p *twoLayeredGbuffers) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.release(p.pool)
	p.sampler.Invalidate()
}

func (p *twoLayeredGbuffers) Execute(ctx context.Context, data RenderData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scene == nil {
		return nil
	}
	if data.Dim == (common.Uint2{}) {
		return fmt.Errorf("pass: %s: zero frame size", p.Name())
	}
	if err := p.Reflect().Validate(data); err != nil {
		return err
	}
	p.prof.BeginScope("two_layer.frame")
	defer p.prof.EndScope("two_layer.frame")

	cam := p.scene.Camera()
	if p.state.playback != nil {
		if pose, ok := p.state.playback.Tick(); ok {
			cam.SetPose(pose)
		}
	}

	st := &p.state
	state := st.refresh.Next()
	switch state {
	case cadence.Regenerate:
		if err := p.prof.Scope("two_layer.regenerate", func() error { return p.regenerate(ctx, cam, data) }); err != nil {
			return err
		}
	case cadence.Reproject:
		if err := p.prof.Scope("two_layer.reproject", func() error { return p.reproject(ctx) }); err != nil {
			return err
		}
	}

	target := cam.Pose()
	if p.settings.UsePrediction {
		target = st.predictor.Predict(target)
	}
	targetCam := cam.Clone()
	targetCam.SetPose(target)
	if err := p.prof.Scope("two_layer.project", func() error { return p.project(ctx, targetCam, data.Dim) }); err != nil {
		return err
	}
	// Only key frames move the key pose; Speed and Predict above read the previous one.
	if state == cadence.Regenerate {
		st.predictor.Capture(cam.Pose())
	}

	outputs := p.outputs()
	if err := publish(ctx, p.dev, data, outputs); err != nil {
		return err
	}
	if p.settings.DumpData {
		if err := p.dump(ctx, outputs); err != nil {
			return err
		}
	}
	st.frame++
	return nil
}

// regenerate rebuilds the key frame: first layer, second layer, auxiliary views, center copy.
func (p *twoLayeredGbuffers) regenerate(ctx context.Context, cam camera.Camera, data RenderData) error {
	st := &p.state
	speed := st.predictor.Speed(cam.Pose())
	if err := p.firstLayer(ctx, cam, data); err != nil {
		return err
	}
	if err := p.two.Generate(ctx, p.scene, cam, st.first, st.second, p.settings.twoLayerParams()); err != nil {
		return err
	}
	if p.settings.CameraCount > 0 {
		if err := p.sampler.Sample(ctx, p.scene, cam, speed, st.first, st.second, p.settings.disocclusionParams()); err != nil {
			return err
		}
	}
	if err := gbuffer.Snapshot(ctx, p.dev, p.pool, st.first, st.center); err != nil {
		return err
	}
	common.Logger().Debug("key frame regenerated", "component", "pass", "frame", st.frame, "speed", speed.Len())
	return nil
}

// firstLayer copies the upstream G-buffer when every member is bound and rasterizes it otherwise.
// The render input, when bound, replaces the rasterized color.
func (p *twoLayeredGbuffers) firstLayer(ctx context.Context, cam camera.Camera, data RenderData) error {
	first := p.state.first
	upstream := map[string]*texture.Texture{
		InPosWS:       &first.Position,
		InNormalWS:    &first.Normal,
		InDiffOpacity: &first.Albedo,
		InLinearZ:     &first.Depth,
		InRawInstance: &first.InstanceID,
		InPosL:        &first.LocalPos,
	}
	complete := true
	for name := range upstream {
		if data.Get(name) == nil {
			complete = false
			break
		}
	}

	if !complete {
		if err := p.single.Generate(ctx, p.scene, cam, data.Dim, first); err != nil {
			return err
		}
	} else {
		if _, err := first.Ensure(p.pool, data.Dim); err != nil {
			return err
		}
		for name, dst := range upstream {
			if err := device.Copy(ctx, p.dev, data.Get(name), *dst); err != nil {
				return fmt.Errorf("pass: first layer %s: %w", name, err)
			}
		}
		if data.Get(InPreTonemapped) == nil {
			if err := device.Clear(ctx, p.dev, first.Color); err != nil {
				return err
			}
		}
	}
	if err := device.Copy(ctx, p.dev, data.Get(InPreTonemapped), first.Color); err != nil {
		return fmt.Errorf("pass: first layer render: %w", err)
	}
	return p.dev.Barrier(ctx)
}

// reproject moves the key-frame layers with the scene's current instance transforms.
func (p *twoLayeredGbuffers) reproject(ctx context.Context) error {
	st := &p.state
	transforms := p.scene.Transforms()
	if err := gbuffer.RecomputeWorld(ctx, p.dev, st.first, transforms); err != nil {
		return err
	}
	return gbuffer.RecomputeWorld(ctx, p.dev, st.second, transforms)
}

// project warps both key-frame layers into the target view, merges them and shades the result.
func (p *twoLayeredGbuffers) project(ctx context.Context, target camera.Camera, dim common.Uint2) error {
	st := &p.state
	if _, err := st.firstStack.Ensure(p.pool, dim); err != nil {
		return err
	}
	if _, err := st.secondStack.Ensure(p.pool, dim); err != nil {
		return err
	}
	if _, err := st.merged.Ensure(p.pool, dim); err != nil {
		return err
	}
	vp := target.ViewProjectionNoJitter()
	params := p.settings.warpParams()
	if err := p.warper.Warp(ctx, st.first, vp, st.firstStack, params); err != nil {
		return err
	}
	if err := p.warper.Warp(ctx, st.second, vp, st.secondStack, params); err != nil {
		return err
	}
	if err := p.merger.Merge(ctx, st.firstStack, st.secondStack, st.merged, p.settings.mergeParams()); err != nil {
		return err
	}
	return p.merger.Shade(ctx, st.merged, st.center.Color)
}

func (p *twoLayeredGbuffers) outputs() map[string]texture.Texture {
	st := &p.state
	out := map[string]texture.Texture{
		OutMask:              st.merged.Mask,
		OutFirstNormWS:       st.merged.Normal,
		OutFirstDiffOpacity:  st.merged.Albedo,
		OutFirstPosWS:        st.merged.Position,
		OutFirstPrevCoord:    st.merged.Coord,
		OutFirstPreTonemap:   st.merged.Render,
		OutCenterDiffOpacity: st.center.Albedo,
		OutCenterNormWS:      st.center.Normal,
		OutCenterPosWS:       st.center.Position,
		OutCenterRender:      st.center.Color,
	}
	if second, err := st.secondStack.At(0); err == nil {
		out[OutSecondNormWS] = second.Normal
		out[OutSecondDiffOpacity] = second.Albedo
		out[OutSecondPosWS] = second.Position
		out[OutSecondPrevCoord] = second.Coord
	}
	return out
}

func (p *twoLayeredGbuffers) dump(ctx context.Context, outputs map[string]texture.Texture) error {
	if p.dumper == nil {
		p.dumper = dump.NewDumper(p.dev, p.settings.DumpDir, dump.WithStyle(dump.NameUnderscore))
	}
	if p.settings.DumpDir != "" {
		p.dumper.SetDir(p.settings.DumpDir)
	}
	return p.dumper.DumpAll(ctx, p.state.frame, outputs)
}
