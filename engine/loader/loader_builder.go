package loader

import (
	"github.com/go-gl/mathgl/mgl32"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithDefaultAlbedo sets the albedo of primitives without a base color factor.
//
// Parameters:
//   - albedo: the diffuse color and opacity
//
// Returns:
//   - LoaderBuilderOption: a function that applies the albedo option to a loader
func WithDefaultAlbedo(albedo [4]float32) LoaderBuilderOption {
	return func(l *loader) {
		l.albedo = albedo
	}
}

// WithRootTransform places every loaded scene under xf, e.g. to convert units or axes.
//
// Parameters:
//   - xf: the transform applied above the root nodes
//
// Returns:
//   - LoaderBuilderOption: a function that applies the transform option to a loader
func WithRootTransform(xf mgl32.Mat4) LoaderBuilderOption {
	return func(l *loader) {
		l.transform = xf
	}
}

// WithSceneIndex loads the given scene instead of the document's default scene.
func WithSceneIndex(index int) LoaderBuilderOption {
	return func(l *loader) {
		l.sceneIdx = index
	}
}
