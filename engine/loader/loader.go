// Package loader imports static glTF 2.0 scenes (.gltf with external or embedded buffers, or .glb)
// as scene meshes. Node transforms are flattened into each mesh's object-to-world matrix and every
// primitive's base color factor becomes its albedo. Skins, animations and textures are ignored.
package loader

import (
	"fmt"
	"io"
	"sync"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// loader is the implementation of the Loader interface.
type loader struct {
	mu *sync.Mutex

	albedo    [4]float32
	transform mgl32.Mat4
	sceneIdx  int

	cache map[string][]scene.Mesh
}

// Loader imports glTF files as meshes and caches the result by path.
type Loader interface {
	// Load imports the default scene of a .gltf or .glb file. Repeated loads of a path return
	// the cached meshes.
	//
	// Parameters:
	//   - path: the file path
	//
	// Returns:
	//   - []scene.Mesh: one mesh per triangle primitive of every node in the scene
	//   - error: a read, decode or accessor error
	Load(path string) ([]scene.Mesh, error)

	// LoadReader imports a document from r without caching it. External buffer URIs resolve
	// against baseDir.
	//
	// Parameters:
	//   - r: the document bytes
	//   - isGLB: true for the GLB container
	//   - baseDir: the directory external buffers are read from
	//
	// Returns:
	//   - []scene.Mesh: the meshes
	//   - error: a read, decode or accessor error
	LoadReader(r io.Reader, isGLB bool, baseDir string) ([]scene.Mesh, error)

	// Forget drops a path from the cache.
	Forget(path string)
}

var _ Loader = &loader{}

// NewLoader creates a loader.
//
// Parameters:
//   - options: variadic list of LoaderBuilderOption functions
//
// Returns:
//   - Loader: the loader
func NewLoader(options ...LoaderBuilderOption) Loader {
	l := &loader{
		mu:        &sync.Mutex{},
		albedo:    [4]float32{0.8, 0.8, 0.8, 1},
		transform: mgl32.Ident4(),
		sceneIdx:  -1,
		cache:     make(map[string][]scene.Mesh),
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

func (l *loader) Load(path string) ([]scene.Mesh, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if meshes, ok := l.cache[path]; ok {
		return meshes, nil
	}
	p, err := parseGLTFFile(path)
	if err != nil {
		return nil, err
	}
	meshes, err := l.extract(p)
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", path, err)
	}
	l.cache[path] = meshes
	common.Logger().Info("scene loaded", "component", "loader", "path", path, "meshes", len(meshes))
	return meshes, nil
}

func (l *loader) LoadReader(r io.Reader, isGLB bool, baseDir string) ([]scene.Mesh, error) {
	p, err := parseGLTFReader(r, isGLB, baseDir)
	if err != nil {
		return nil, err
	}
	return l.extract(p)
}

func (l *loader) Forget(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, path)
}

// extract walks the selected scene's node hierarchy depth first.
func (l *loader) extract(p *gltfParser) ([]scene.Mesh, error) {
	doc := p.document
	roots, err := l.roots(doc)
	if err != nil {
		return nil, err
	}

	var meshes []scene.Mesh
	visited := make([]bool, len(doc.Nodes))
	var walk func(node int, parent mgl32.Mat4) error
	walk = func(node int, parent mgl32.Mat4) error {
		if node < 0 || node >= len(doc.Nodes) {
			return fmt.Errorf("node %d out of range", node)
		}
		if visited[node] {
			return fmt.Errorf("node %d appears twice in the hierarchy", node)
		}
		visited[node] = true

		n := &doc.Nodes[node]
		world := parent.Mul4(localTransform(n))
		if n.Mesh != nil {
			prims, err := l.meshPrimitives(p, *n.Mesh, world)
			if err != nil {
				return fmt.Errorf("node %d: %w", node, err)
			}
			meshes = append(meshes, prims...)
		}
		for _, child := range n.Children {
			if err := walk(child, world); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root, l.transform); err != nil {
			return nil, err
		}
	}
	return meshes, nil
}

// roots returns the root nodes of the configured scene, the document's default scene, or every
// parentless node when the document declares no scenes.
func (l *loader) roots(doc *gltfDocument) ([]int, error) {
	idx := l.sceneIdx
	if idx < 0 && doc.Scene != nil {
		idx = *doc.Scene
	}
	if idx < 0 && len(doc.Scenes) > 0 {
		idx = 0
	}
	if idx >= 0 {
		if idx >= len(doc.Scenes) {
			return nil, fmt.Errorf("scene %d out of range", idx)
		}
		return doc.Scenes[idx].Nodes, nil
	}

	child := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		for _, c := range n.Children {
			if c >= 0 && c < len(child) {
				child[c] = true
			}
		}
	}
	var roots []int
	for i, isChild := range child {
		if !isChild {
			roots = append(roots, i)
		}
	}
	return roots, nil
}

// meshPrimitives builds one scene mesh per triangle primitive. Point and line primitives are skipped.
func (l *loader) meshPrimitives(p *gltfParser, index int, world mgl32.Mat4) ([]scene.Mesh, error) {
	doc := p.document
	if index < 0 || index >= len(doc.Meshes) {
		return nil, fmt.Errorf("mesh %d out of range", index)
	}
	m := &doc.Meshes[index]

	var out []scene.Mesh
	for i := range m.Primitives {
		prim := &m.Primitives[i]
		mode := gltfModeTriangles
		if prim.Mode != nil {
			mode = *prim.Mode
		}
		if mode != gltfModeTriangles && mode != gltfModeTriangleStrip && mode != gltfModeTriangleFan {
			common.Logger().Debug("primitive skipped", "component", "loader", "mesh", m.Name, "primitive", i, "mode", mode)
			continue
		}

		posIdx, ok := prim.Attributes["POSITION"]
		if !ok {
			return nil, fmt.Errorf("mesh %d primitive %d has no POSITION", index, i)
		}
		raw, err := p.readVec3(posIdx)
		if err != nil {
			return nil, err
		}
		positions := make([]mgl32.Vec3, len(raw))
		for v, pos := range raw {
			positions[v] = mgl32.Vec3(pos)
		}

		var indices []uint32
		if prim.Indices != nil {
			if indices, err = p.readIndices(*prim.Indices); err != nil {
				return nil, err
			}
		} else {
			indices = make([]uint32, len(positions))
			for v := range indices {
				indices[v] = uint32(v)
			}
		}
		for _, v := range indices {
			if int(v) >= len(positions) {
				return nil, fmt.Errorf("mesh %d primitive %d: index %d out of %d vertices", index, i, v, len(positions))
			}
		}

		name := m.Name
		if len(m.Primitives) > 1 {
			name = fmt.Sprintf("%s.%d", m.Name, i)
		}
		out = append(out, scene.Mesh{
			Name:      name,
			Positions: positions,
			Indices:   triangulate(mode, indices),
			Albedo:    l.baseColor(doc, prim.Material),
			Transform: world,
		})
	}
	return out, nil
}

func (l *loader) baseColor(doc *gltfDocument, material *int) [4]float32 {
	if material == nil || *material < 0 || *material >= len(doc.Materials) {
		return l.albedo
	}
	pbr := doc.Materials[*material].PbrMetallicRoughness
	if pbr == nil || pbr.BaseColorFactor == nil {
		return l.albedo
	}
	return *pbr.BaseColorFactor
}

// triangulate turns strip and fan index lists into a triangle list with consistent winding.
func triangulate(mode int, indices []uint32) []uint32 {
	switch mode {
	case gltfModeTriangleStrip:
		var out []uint32
		for i := 0; i+2 < len(indices); i++ {
			if i%2 == 0 {
				out = append(out, indices[i], indices[i+1], indices[i+2])
			} else {
				out = append(out, indices[i+1], indices[i], indices[i+2])
			}
		}
		return out
	case gltfModeTriangleFan:
		var out []uint32
		for i := 1; i+1 < len(indices); i++ {
			out = append(out, indices[0], indices[i], indices[i+1])
		}
		return out
	}
	return indices[:len(indices)-len(indices)%3]
}

// localTransform returns a node's matrix, or T * R * S from its TRS properties.
func localTransform(n *gltfNode) mgl32.Mat4 {
	if n.Matrix != nil {
		return mgl32.Mat4(*n.Matrix)
	}
	m := mgl32.Ident4()
	if t := n.Translation; t != nil {
		m = m.Mul4(mgl32.Translate3D(t[0], t[1], t[2]))
	}
	if r := n.Rotation; r != nil {
		q := mgl32.Quat{W: r[3], V: mgl32.Vec3{r[0], r[1], r[2]}}
		m = m.Mul4(q.Normalize().Mat4())
	}
	if s := n.Scale; s != nil {
		m = m.Mul4(mgl32.Scale3D(s[0], s[1], s[2]))
	}
	return m
}
