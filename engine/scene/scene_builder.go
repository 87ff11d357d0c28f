package scene

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/go-gl/mathgl/mgl32"
)

type SceneBuilderOption func(*meshScene)

// WithMeshes adds meshes at construction. Instance ids follow the slice order.
//
// Parameters:
//   - meshes: the meshes to add
//
// Returns:
//   - SceneBuilderOption: a function that adds the meshes
func WithMeshes(meshes ...Mesh) SceneBuilderOption {
	return func(s *meshScene) {
		for _, m := range meshes {
			s.instances = append(s.instances, bake(m))
		}
	}
}

// WithLight sets the direction the directional light travels in, used for the shaded Color target.
//
// Parameters:
//   - dir: light direction, normalized on use
//   - ambient: ambient term in [0, 1]
//
// Returns:
//   - SceneBuilderOption: a function that sets the light
func WithLight(dir mgl32.Vec3, ambient float32) SceneBuilderOption {
	return func(s *meshScene) {
		if dir.Len() > 0 {
			s.lightDir = dir.Normalize()
		}
		s.ambient = ambient
	}
}

// WithBackground sets the color written where no geometry is hit.
func WithBackground(color [4]float32) SceneBuilderOption {
	return func(s *meshScene) {
		s.background = color
	}
}

// WithWorkers sets the size of the scene's own ray-cast pool.
func WithWorkers(n int) SceneBuilderOption {
	return func(s *meshScene) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithWorkerPool shares an existing pool. The scene will not stop it on Close.
//
// Parameters:
//   - pool: the pool to use
//
// Returns:
//   - SceneBuilderOption: a function that sets the pool
func WithWorkerPool(pool worker.DynamicWorkerPool) SceneBuilderOption {
	return func(s *meshScene) {
		s.pool = pool
		s.ownsPool = false
	}
}

// WithBandRows sets how many pixel rows one pool task covers.
func WithBandRows(rows int) SceneBuilderOption {
	return func(s *meshScene) {
		if rows > 0 {
			s.bandRows = rows
		}
	}
}
