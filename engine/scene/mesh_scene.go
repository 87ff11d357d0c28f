package scene

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/camera"
	"github.com/Carmen-Shannon/oxy-warp/engine/texture"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrNoCamera is returned when a rasterization request has no camera.
	ErrNoCamera = errors.New("scene: request has no camera")
	// ErrUnknownInstance is returned for an instance id that does not exist.
	ErrUnknownInstance = errors.New("scene: unknown instance")
)

type meshScene struct {
	mu *sync.Mutex

	camera    camera.Camera
	instances []*instance
	bounds    common.BoundingBox

	lightDir   mgl32.Vec3
	ambient    float32
	background [4]float32

	pool     worker.DynamicWorkerPool
	ownsPool bool
	workers  int
	bandRows int
}

// MeshScene is a Scene of triangle meshes rendered by casting one ray per pixel on the CPU.
// Every hit along a ray is a fragment; the nearest one the request's program accepts is kept.
type MeshScene interface {
	Scene

	// AddMesh adds a mesh and returns its instance id.
	//
	// Parameters:
	//   - m: the mesh
	//
	// Returns:
	//   - uint32: the instance id, equal to the mesh's index in Transforms()
	AddMesh(m Mesh) uint32

	// SetTransform replaces an instance's object-to-world matrix.
	//
	// Parameters:
	//   - id: the instance id
	//   - xf: the new transform
	//
	// Returns:
	//   - error: ErrUnknownInstance if id does not exist
	SetTransform(id uint32, xf mgl32.Mat4) error

	// MeshCount returns the number of instances.
	MeshCount() int

	// Close stops the scene's worker pool if the scene created it.
	Close()
}

var _ MeshScene = &meshScene{}

// NewMeshScene creates an empty mesh scene viewed through cam.
//
// Parameters:
//   - cam: the scene camera
//   - options: variadic list of SceneBuilderOption functions
//
// Returns:
//   - MeshScene: the new scene
func NewMeshScene(cam camera.Camera, options ...SceneBuilderOption) MeshScene {
	s := &meshScene{
		mu:         &sync.Mutex{},
		camera:     cam,
		lightDir:   mgl32.Vec3{-0.3, -1, -0.5}.Normalize(),
		ambient:    0.2,
		background: [4]float32{0, 0, 0, 1},
		ownsPool:   true,
		workers:    runtime.NumCPU(),
		bandRows:   8,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.pool == nil {
		s.pool = worker.NewDynamicWorkerPool(s.workers, 256, 1*time.Second)
		s.ownsPool = true
	}
	s.recomputeBounds()
	return s
}

func (s *meshScene) Camera() camera.Camera {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

func (s *meshScene) Bounds() common.BoundingBox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bounds
}

func (s *meshScene) Transforms() []mgl32.Mat4 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mgl32.Mat4, len(s.instances))
	for i, inst := range s.instances {
		out[i] = inst.mesh.Transform
	}
	return out
}

func (s *meshScene) AddMesh(m Mesh) uint32 {
	inst := bake(m)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = append(s.instances, inst)
	s.recomputeBounds()
	id := uint32(len(s.instances) - 1)
	common.Logger().Debug("mesh added", "component", "scene", "name", m.Name, "id", id, "triangles", len(inst.triangles))
	return id
}

func (s *meshScene) SetTransform(id uint32, xf mgl32.Mat4) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(id) >= len(s.instances) {
		return fmt.Errorf("%w: %d", ErrUnknownInstance, id)
	}
	m := s.instances[id].mesh
	m.Transform = xf
	s.instances[id] = bake(m)
	s.recomputeBounds()
	return nil
}

func (s *meshScene) MeshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.instances)
}

func (s *meshScene) Close() {
	if s.ownsPool {
		s.pool.Stop()
	}
}

// recomputeBounds unions every instance's bounds. Caller must hold the mutex.
func (s *meshScene) recomputeBounds() {
	var b common.BoundingBox
	for i, inst := range s.instances {
		if i == 0 {
			b = inst.bounds
			continue
		}
		b = b.Union(inst.bounds)
	}
	s.bounds = b
}

type hit struct {
	t, u, v float32
	inst    uint32
	tri     *triangle
}

// rasterImages holds the host images of the requested targets.
type rasterImages struct {
	position, normal, albedo, depth, instanceID, localPos, color *texture.Image
}

func newRasterImages(t Targets, dim common.Uint2) rasterImages {
	w, h := int(dim.X), int(dim.Y)
	alloc := func(tex texture.Texture, f texture.Format) *texture.Image {
		if tex == nil {
			return nil
		}
		return texture.NewImage(f, w, h)
	}
	return rasterImages{
		position:   alloc(t.Position, texture.FormatRGBA32Float),
		normal:     alloc(t.Normal, texture.FormatRGBA32Float),
		albedo:     alloc(t.Albedo, texture.FormatRGBA32Float),
		depth:      alloc(t.Depth, texture.FormatR32Float),
		instanceID: alloc(t.InstanceID, texture.FormatR32Uint),
		localPos:   alloc(t.LocalPos, texture.FormatRGBA32Float),
		color:      alloc(t.Color, texture.FormatRGBA32Float),
	}
}

func (s *meshScene) Rasterize(ctx context.Context, dst texture.Uploader, req RasterRequest) error {
	if req.Camera == nil {
		return ErrNoCamera
	}
	if req.Dim.X == 0 || req.Dim.Y == 0 {
		return fmt.Errorf("scene: rasterize %v: %w", req.Dim, texture.ErrZeroDimension)
	}

	s.mu.Lock()
	instances := slices.Clone(s.instances)
	lightDir, ambient, background := s.lightDir, s.ambient, s.background
	s.mu.Unlock()

	vp := req.Camera.ViewProjection()
	inv := req.Camera.InverseViewProjection()
	pose := req.Camera.Pose()
	forward := pose.Forward()

	frustum := common.ExtractFrustum(vp)
	visible := make([]uint32, 0, len(instances))
	for i, inst := range instances {
		if len(inst.triangles) > 0 && frustum.ContainsBox(inst.bounds) {
			visible = append(visible, uint32(i))
		}
	}

	imgs := newRasterImages(req.Targets, req.Dim)
	shade := func(f *Fragment) [4]float32 {
		n := f.Normal
		if !f.FrontFacing() {
			n = n.Mul(-1)
		}
		lambert := max(0, n.Dot(lightDir.Mul(-1)))
		k := ambient + (1-ambient)*lambert
		return [4]float32{f.Albedo[0] * k, f.Albedo[1] * k, f.Albedo[2] * k, f.Albedo[3]}
	}

	err := common.ForRows(s.pool, int(req.Dim.Y), s.bandRows, func(y0, y1 int) {
		var hits []hit
		var frag Fragment
		for y := y0; y < y1; y++ {
			if ctx.Err() != nil {
				return
			}
			for x := 0; x < int(req.Dim.X); x++ {
				dir := common.RayThroughTexel(inv, pose.Position, float32(x)+0.5, float32(y)+0.5, req.Dim)
				hits = hits[:0]
				for _, id := range visible {
					inst := instances[id]
					if !hitsBox(pose.Position, dir, inst.bounds) {
						continue
					}
					for i := range inst.triangles {
						tri := &inst.triangles[i]
						t, u, v, ok := tri.intersect(pose.Position, dir)
						if !ok || culled(req.Cull, tri.normal, dir) {
							continue
						}
						hits = append(hits, hit{t: t, u: u, v: v, inst: id, tri: tri})
					}
				}
				slices.SortFunc(hits, func(a, b hit) int {
					switch {
					case a.t < b.t:
						return -1
					case a.t > b.t:
						return 1
					default:
						return int(a.inst) - int(b.inst)
					}
				})

				accepted := false
				for _, h := range hits {
					world := pose.Position.Add(dir.Mul(h.t))
					frag = Fragment{
						X: x, Y: y,
						Position:   world,
						Normal:     h.tri.normal,
						ViewDir:    dir,
						Depth:      world.Sub(pose.Position).Dot(forward),
						LocalPos:   h.tri.local(h.u, h.v),
						Albedo:     instances[h.inst].mesh.Albedo,
						InstanceID: h.inst,
					}
					if req.Program == nil || req.Program(&frag) {
						accepted = true
						break
					}
				}
				if accepted {
					imgs.write(x, y, &frag, shade(&frag))
				} else {
					imgs.clear(x, y, background)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("scene: rasterize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return imgs.upload(ctx, dst, req.Targets)
}

// culled reports whether a face with normal n seen along dir is rejected by mode.
func culled(mode CullMode, n, dir mgl32.Vec3) bool {
	facingAway := n.Dot(dir) > 0
	switch mode {
	case CullBack:
		return facingAway
	case CullFront:
		return !facingAway
	default:
		return false
	}
}

func (r rasterImages) write(x, y int, f *Fragment, color [4]float32) {
	if r.position != nil {
		r.position.Set(x, y, texture.Float4(f.Position[0], f.Position[1], f.Position[2], 1))
	}
	if r.normal != nil {
		r.normal.Set(x, y, texture.Float4(f.Normal[0], f.Normal[1], f.Normal[2], 0))
	}
	if r.albedo != nil {
		r.albedo.Set(x, y, texture.Float4(f.Albedo[0], f.Albedo[1], f.Albedo[2], f.Albedo[3]))
	}
	if r.depth != nil {
		r.depth.Set(x, y, [4]uint32{math.Float32bits(f.Depth)})
	}
	if r.instanceID != nil {
		r.instanceID.Set(x, y, [4]uint32{f.InstanceID})
	}
	if r.localPos != nil {
		r.localPos.Set(x, y, texture.Float4(f.LocalPos[0], f.LocalPos[1], f.LocalPos[2], 1))
	}
	if r.color != nil {
		r.color.Set(x, y, texture.Float4(color[0], color[1], color[2], color[3]))
	}
}

func (r rasterImages) clear(x, y int, background [4]float32) {
	for _, img := range []*texture.Image{r.position, r.normal, r.albedo, r.localPos} {
		if img != nil {
			img.Set(x, y, [4]uint32{})
		}
	}
	if r.depth != nil {
		r.depth.Set(x, y, [4]uint32{math.Float32bits(BackgroundDepth)})
	}
	if r.instanceID != nil {
		r.instanceID.Set(x, y, [4]uint32{NoInstance})
	}
	if r.color != nil {
		r.color.Set(x, y, texture.Float4(background[0], background[1], background[2], background[3]))
	}
}

func (r rasterImages) upload(ctx context.Context, dst texture.Uploader, t Targets) error {
	pairs := []struct {
		tex texture.Texture
		img *texture.Image
	}{
		{t.Position, r.position},
		{t.Normal, r.normal},
		{t.Albedo, r.albedo},
		{t.Depth, r.depth},
		{t.InstanceID, r.instanceID},
		{t.LocalPos, r.localPos},
		{t.Color, r.color},
	}
	for _, p := range pairs {
		if p.tex == nil {
			continue
		}
		if err := dst.Upload(ctx, texture.Of(p.tex), p.img); err != nil {
			return fmt.Errorf("scene: upload %q: %w", p.tex.Label(), err)
		}
	}
	return nil
}
