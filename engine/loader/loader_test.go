package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/Carmen-Shannon/oxy-warp/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
)

// triangleBuffer packs three float positions followed by three uint16 indices.
func triangleBuffer() []byte {
	var buf bytes.Buffer
	for _, v := range []float32{0, 0, 0, 1, 0, 0, 0, 1, 0} {
		binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}
	for _, i := range []uint16{0, 1, 2} {
		binary.Write(&buf, binary.LittleEndian, i)
	}
	return buf.Bytes()
}

// triangleDocument is one indexed triangle under a translated parent and a scaled child.
func triangleDocument(uri string) map[string]any {
	return map[string]any{
		"asset":  map[string]any{"version": "2.0"},
		"scene":  0,
		"scenes": []any{map[string]any{"nodes": []int{0}}},
		"nodes": []any{
			map[string]any{"name": "root", "translation": []float32{1, 2, 3}, "children": []int{1}},
			map[string]any{"name": "tri", "scale": []float32{2, 2, 2}, "mesh": 0},
		},
		"meshes": []any{map[string]any{
			"name":       "tri",
			"primitives": []any{map[string]any{"attributes": map[string]int{"POSITION": 0}, "indices": 1, "material": 0}},
		}},
		"materials": []any{map[string]any{"pbrMetallicRoughness": map[string]any{"baseColorFactor": []float32{1, 0, 0, 1}}}},
		"accessors": []any{
			map[string]any{"bufferView": 0, "componentType": gltfComponentTypeFloat, "count": 3, "type": "VEC3"},
			map[string]any{"bufferView": 1, "componentType": gltfComponentTypeUnsignedShort, "count": 3, "type": "SCALAR"},
		},
		"bufferViews": []any{
			map[string]any{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			map[string]any{"buffer": 0, "byteOffset": 36, "byteLength": 6},
		},
		"buffers": []any{map[string]any{"uri": uri, "byteLength": 42}},
	}
}

func encode(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return data
}

func checkTriangle(t *testing.T, meshes []scene.Mesh) {
	t.Helper()
	if len(meshes) != 1 {
		t.Fatalf("len(meshes) = %d, want 1", len(meshes))
	}
	m := meshes[0]
	if !slices.Equal(m.Indices, []uint32{0, 1, 2}) {
		t.Errorf("Indices = %v, want [0 1 2]", m.Indices)
	}
	if m.Albedo != [4]float32{1, 0, 0, 1} {
		t.Errorf("Albedo = %v, want red", m.Albedo)
	}
	// Parent translation applied after child scale.
	got := m.Transform.Mul4x1(m.Positions[1].Vec4(1)).Vec3()
	if want := (mgl32.Vec3{3, 2, 3}); !got.ApproxEqual(want) {
		t.Errorf("world position of vertex 1 = %v, want %v", got, want)
	}
}

func TestLoadReaderDataURI(t *testing.T) {
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBuffer())
	meshes, err := NewLoader().LoadReader(bytes.NewReader(encode(t, triangleDocument(uri))), false, "")
	if err != nil {
		t.Fatalf("LoadReader() error = %v", err)
	}
	checkTriangle(t, meshes)
}

func TestLoadExternalBufferAndCache(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tri.bin"), triangleBuffer(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	path := filepath.Join(dir, "tri.gltf")
	if err := os.WriteFile(path, encode(t, triangleDocument("tri.bin")), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	l := NewLoader()
	meshes, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checkTriangle(t, meshes)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := l.Load(path); err != nil {
		t.Errorf("cached Load() error = %v, want nil", err)
	}
	l.Forget(path)
	if _, err := l.Load(path); err == nil {
		t.Errorf("Load() after Forget error = nil, want a read error")
	}
}

func TestLoadGLB(t *testing.T) {
	doc := triangleDocument("")
	delete(doc["buffers"].([]any)[0].(map[string]any), "uri")
	jsonChunk := encode(t, doc)
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}
	bin := triangleBuffer()
	for len(bin)%4 != 0 {
		bin = append(bin, 0)
	}

	var glb bytes.Buffer
	total := gltfGLBHeaderSize + 8 + len(jsonChunk) + 8 + len(bin)
	for _, v := range []uint32{gltfGLBMagic, gltfGLBVersion, uint32(total), uint32(len(jsonChunk)), gltfGLBChunkJSON} {
		binary.Write(&glb, binary.LittleEndian, v)
	}
	glb.Write(jsonChunk)
	binary.Write(&glb, binary.LittleEndian, uint32(len(bin)))
	binary.Write(&glb, binary.LittleEndian, uint32(gltfGLBChunkBIN))
	glb.Write(bin)

	path := filepath.Join(t.TempDir(), "tri.glb")
	if err := os.WriteFile(path, glb.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	meshes, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checkTriangle(t, meshes)
}

func TestLoadErrors(t *testing.T) {
	goodURI := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBuffer())
	tests := []struct {
		name   string
		mutate func(doc map[string]any)
		want   error
	}{
		{"version", func(doc map[string]any) { doc["asset"] = map[string]any{"version": "1.0"} }, errInvalidGLTFVersion},
		{"short buffer", func(doc map[string]any) {
			doc["buffers"] = []any{map[string]any{"uri": goodURI, "byteLength": 100}}
		}, errBufferSizeMismatch},
		{"bad uri", func(doc map[string]any) {
			doc["buffers"] = []any{map[string]any{"uri": "data:nocomma", "byteLength": 0}}
		}, errInvalidBufferURI},
		{"accessor past buffer", func(doc map[string]any) {
			doc["accessors"].([]any)[0].(map[string]any)["count"] = 30
		}, errAccessorRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := triangleDocument(goodURI)
			tt.mutate(doc)
			_, err := NewLoader().LoadReader(bytes.NewReader(encode(t, doc)), false, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("LoadReader() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadSkipsLinesAndDefaultsAlbedo(t *testing.T) {
	uri := "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(triangleBuffer())
	doc := triangleDocument(uri)
	lines := map[string]any{"attributes": map[string]int{"POSITION": 0}, "mode": 1}
	noMaterial := map[string]any{"attributes": map[string]int{"POSITION": 0}}
	doc["meshes"].([]any)[0].(map[string]any)["primitives"] = []any{lines, noMaterial}

	grey := [4]float32{0.5, 0.5, 0.5, 1}
	meshes, err := NewLoader(WithDefaultAlbedo(grey)).LoadReader(bytes.NewReader(encode(t, doc)), false, "")
	if err != nil {
		t.Fatalf("LoadReader() error = %v", err)
	}
	if len(meshes) != 1 {
		t.Fatalf("len(meshes) = %d, want 1", len(meshes))
	}
	if meshes[0].Albedo != grey {
		t.Errorf("Albedo = %v, want %v", meshes[0].Albedo, grey)
	}
	if meshes[0].Name != "tri.1" {
		t.Errorf("Name = %q, want tri.1", meshes[0].Name)
	}
	if !slices.Equal(meshes[0].Indices, []uint32{0, 1, 2}) {
		t.Errorf("Indices = %v, want [0 1 2]", meshes[0].Indices)
	}
}

func TestTriangulate(t *testing.T) {
	tests := []struct {
		name    string
		mode    int
		indices []uint32
		want    []uint32
	}{
		{"list drops partial", gltfModeTriangles, []uint32{0, 1, 2, 3}, []uint32{0, 1, 2}},
		{"strip", gltfModeTriangleStrip, []uint32{0, 1, 2, 3}, []uint32{0, 1, 2, 2, 1, 3}},
		{"fan", gltfModeTriangleFan, []uint32{0, 1, 2, 3}, []uint32{0, 1, 2, 0, 2, 3}},
	}
	for _, tt := range tests {
		if got := triangulate(tt.mode, tt.indices); !slices.Equal(got, tt.want) {
			t.Errorf("triangulate(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLocalTransformMatrixWins(t *testing.T) {
	m := mgl32.Translate3D(4, 5, 6)
	raw := [16]float32(m)
	n := &gltfNode{Matrix: &raw, Translation: &[3]float32{1, 1, 1}}
	if got := localTransform(n); got != m {
		t.Errorf("localTransform() = %v, want %v", got, m)
	}
}
