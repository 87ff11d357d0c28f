package loader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

var (
	errInvalidGLTFVersion = errors.New("loader: invalid glTF version: must be 2.x")
	errInvalidGLBMagic    = errors.New("loader: invalid GLB magic number")
	errInvalidGLBVersion  = errors.New("loader: invalid GLB version: must be 2")
	errMissingJSONChunk   = errors.New("loader: GLB file missing JSON chunk")
	errInvalidBufferURI   = errors.New("loader: invalid buffer URI")
	errBufferSizeMismatch = errors.New("loader: buffer shorter than its declared length")
	errAccessorRange      = errors.New("loader: accessor reads past its buffer")
)

// gltfParser decodes a glTF or GLB document with its buffers and reads typed accessors from it.
type gltfParser struct {
	baseDir  string
	document *gltfDocument
	binChunk []byte
}

// parseGLTFFile reads path, detecting GLB by extension or magic number.
func parseGLTFFile(path string) (*gltfParser, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	isGLB := strings.EqualFold(filepath.Ext(path), ".glb") ||
		(len(data) >= 4 && binary.LittleEndian.Uint32(data) == gltfGLBMagic)
	return parseGLTF(data, isGLB, filepath.Dir(path))
}

// parseGLTFReader parses a document from r. External buffer URIs resolve against baseDir.
func parseGLTFReader(r io.Reader, isGLB bool, baseDir string) (*gltfParser, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: read: %w", err)
	}
	return parseGLTF(data, isGLB, baseDir)
}

func parseGLTF(data []byte, isGLB bool, baseDir string) (*gltfParser, error) {
	p := &gltfParser{baseDir: baseDir}
	jsonData := data
	if isGLB {
		var err error
		if jsonData, p.binChunk, err = splitGLB(data); err != nil {
			return nil, err
		}
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("loader: decode glTF JSON: %w", err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return nil, errInvalidGLTFVersion
	}
	if err := p.loadBuffers(&doc); err != nil {
		return nil, err
	}
	p.document = &doc
	return p, nil
}

// splitGLB returns the JSON and BIN chunks of a GLB container.
func splitGLB(data []byte) (jsonChunk, binChunk []byte, err error) {
	if len(data) < gltfGLBHeaderSize {
		return nil, nil, errors.New("loader: GLB file too small")
	}
	if binary.LittleEndian.Uint32(data[0:]) != gltfGLBMagic {
		return nil, nil, errInvalidGLBMagic
	}
	if binary.LittleEndian.Uint32(data[4:]) != gltfGLBVersion {
		return nil, nil, errInvalidGLBVersion
	}

	rest := data[gltfGLBHeaderSize:]
	for len(rest) >= 8 {
		length := int(binary.LittleEndian.Uint32(rest[0:]))
		kind := binary.LittleEndian.Uint32(rest[4:])
		rest = rest[8:]
		if length > len(rest) {
			return nil, nil, fmt.Errorf("loader: GLB chunk of %d bytes truncated", length)
		}
		switch kind {
		case gltfGLBChunkJSON:
			jsonChunk = rest[:length]
		case gltfGLBChunkBIN:
			binChunk = rest[:length]
		}
		rest = rest[length:]
	}
	if jsonChunk == nil {
		return nil, nil, errMissingJSONChunk
	}
	return jsonChunk, binChunk, nil
}

// loadBuffers resolves every buffer from the GLB BIN chunk, a data URI or a file next to the document.
func (p *gltfParser) loadBuffers(doc *gltfDocument) error {
	for i := range doc.Buffers {
		buf := &doc.Buffers[i]
		switch {
		case buf.URI == "" && i == 0 && p.binChunk != nil:
			buf.Data = p.binChunk
		case buf.URI == "":
			return fmt.Errorf("loader: buffer %d has no URI and no GLB binary chunk", i)
		case strings.HasPrefix(buf.URI, "data:"):
			data, err := decodeDataURI(buf.URI)
			if err != nil {
				return fmt.Errorf("loader: buffer %d: %w", i, err)
			}
			buf.Data = data
		default:
			data, err := os.ReadFile(filepath.Join(p.baseDir, buf.URI))
			if err != nil {
				return fmt.Errorf("loader: buffer %d: %w", i, err)
			}
			buf.Data = data
		}
		if len(buf.Data) < buf.ByteLength {
			return fmt.Errorf("loader: buffer %d: %w", i, errBufferSizeMismatch)
		}
	}
	return nil
}

// decodeDataURI decodes data:[<mediatype>];base64,<data>.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, errInvalidBufferURI
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("loader: unsupported data URI encoding %q", header)
	}
	return base64.StdEncoding.DecodeString(payload)
}

// elements returns the tightly packed bytes of every element of an accessor.
func (p *gltfParser) elements(index int) (*gltfAccessor, []byte, error) {
	doc := p.document
	if index < 0 || index >= len(doc.Accessors) {
		return nil, nil, fmt.Errorf("loader: accessor %d out of range", index)
	}
	acc := &doc.Accessors[index]
	if acc.Sparse != nil {
		return nil, nil, fmt.Errorf("loader: accessor %d: sparse accessors are not supported", index)
	}
	if acc.BufferView == nil || *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) {
		return nil, nil, fmt.Errorf("loader: accessor %d has no buffer view", index)
	}
	bv := &doc.BufferViews[*acc.BufferView]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) {
		return nil, nil, fmt.Errorf("loader: buffer view %d: buffer %d out of range", *acc.BufferView, bv.Buffer)
	}
	data := doc.Buffers[bv.Buffer].Data

	size := componentSize(acc.ComponentType) * componentCount(acc.Type)
	if size == 0 {
		return nil, nil, fmt.Errorf("loader: accessor %d: unsupported %s of component type %d", index, acc.Type, acc.ComponentType)
	}
	stride := size
	if bv.ByteStride != nil && *bv.ByteStride > 0 {
		stride = *bv.ByteStride
	}

	base := bv.ByteOffset + acc.ByteOffset
	out := make([]byte, acc.Count*size)
	for i := range acc.Count {
		src := base + i*stride
		if src+size > len(data) {
			return nil, nil, fmt.Errorf("accessor %d element %d: %w", index, i, errAccessorRange)
		}
		copy(out[i*size:], data[src:src+size])
	}
	return acc, out, nil
}

// readVec3 reads a VEC3 FLOAT accessor.
func (p *gltfParser) readVec3(index int) ([][3]float32, error) {
	acc, data, err := p.elements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeVec3 || acc.ComponentType != gltfComponentTypeFloat {
		return nil, fmt.Errorf("loader: accessor %d is %s/%d, want VEC3 FLOAT", index, acc.Type, acc.ComponentType)
	}
	out := make([][3]float32, acc.Count)
	for i := range out {
		for c := range 3 {
			out[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(data[(i*3+c)*4:]))
		}
	}
	return out, nil
}

// readIndices reads a SCALAR unsigned byte, short or int accessor widened to uint32.
func (p *gltfParser) readIndices(index int) ([]uint32, error) {
	acc, data, err := p.elements(index)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltfAccessorTypeScalar {
		return nil, fmt.Errorf("loader: index accessor %d is %s, want SCALAR", index, acc.Type)
	}
	out := make([]uint32, acc.Count)
	switch acc.ComponentType {
	case gltfComponentTypeUnsignedByte:
		for i := range out {
			out[i] = uint32(data[i])
		}
	case gltfComponentTypeUnsignedShort:
		for i := range out {
			out[i] = uint32(binary.LittleEndian.Uint16(data[i*2:]))
		}
	case gltfComponentTypeUnsignedInt:
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("loader: index accessor %d: unsupported component type %d", index, acc.ComponentType)
	}
	return out, nil
}

func componentSize(componentType int) int {
	switch componentType {
	case gltfComponentTypeByte, gltfComponentTypeUnsignedByte:
		return 1
	case gltfComponentTypeShort, gltfComponentTypeUnsignedShort:
		return 2
	case gltfComponentTypeUnsignedInt, gltfComponentTypeFloat:
		return 4
	}
	return 0
}

func componentCount(accessorType string) int {
	switch accessorType {
	case gltfAccessorTypeScalar:
		return 1
	case gltfAccessorTypeVec2:
		return 2
	case gltfAccessorTypeVec3:
		return 3
	case gltfAccessorTypeVec4:
		return 4
	case gltfAccessorTypeMat4:
		return 16
	}
	return 0
}
