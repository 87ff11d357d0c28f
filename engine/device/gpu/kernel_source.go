package gpu

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
)

// paramsVarName is the variable name of a kernel's parameter block.
const paramsVarName = "params"

// resourceKind is how the device feeds one kernel binding.
type resourceKind int

const (
	// resourceUniform is the kernel's parameter block, uploaded from kernel.Params.
	resourceUniform resourceKind = iota

	// resourceSampled is a texture_2d<T> read with textureLoad.
	resourceSampled

	// resourceStorageTexture is a texture_storage_2d<format, access>.
	resourceStorageTexture

	// resourceMirror is a storage buffer mirroring a texture, for kernels that need atomics.
	// The texture is copied in before the dispatch and back out after it; rows are padded
	// to mirrorRowAlign bytes.
	resourceMirror
)

// kernelBinding is one @group(0) resource declaration of a kernel.
type kernelBinding struct {
	name  string
	kind  resourceKind
	entry wgpu.BindGroupLayoutEntry
}

// kernelSource is a pre-processed compute kernel and its reflected interface.
type kernelSource struct {
	name          string
	source        string
	entryPoint    string
	workgroupSize [3]uint32
	paramsSize    uint64
	bindings      []kernelBinding
}

// parsedField is a single field extracted from a WGSL struct.
type parsedField struct {
	name     string
	typeName string
}

// parsedStruct is a WGSL struct block extracted during parsing.
type parsedStruct struct {
	name   string
	fields []parsedField
}

var (
	// errNoEntryPoint is returned for sources without a @compute function.
	errNoEntryPoint = errors.New("no @compute entry point")

	// structBlockRegex matches struct declarations and captures the name and body
	structBlockRegex = regexp.MustCompile(`struct\s+(\w+)\s*\{([^}]*)\}`)

	// fieldRegex matches a struct field: optional attributes, name, colon, type.
	fieldRegex = regexp.MustCompile(`(?:@\w+\([^)]*\)\s*)*(\w+)\s*:\s*(.+)`)

	// computeEntryRegex matches @compute functions and captures the entry point name
	computeEntryRegex = regexp.MustCompile(`(?s)@compute\b.*?\bfn\s+(\w+)`)

	// workgroupSizeRegex captures 1-3 integer dimensions from @workgroup_size(x[, y[, z]])
	workgroupSizeRegex = regexp.MustCompile(`@workgroup_size\(\s*(\d+)\s*(?:,\s*(\d+)\s*(?:,\s*(\d+)\s*)?)?\)`)

	// bindGroupDeclRegex captures group, binding, optional address space, variable name and type
	// from declarations like: @group(0) @binding(3) var out_color: texture_storage_2d<rgba32float, write>;
	bindGroupDeclRegex = regexp.MustCompile(`@group\((\d+)\)\s*@binding\((\d+)\)\s*var(?:<([^>]*)>)?\s+(\w+)\s*:\s*([^;]+?)\s*;`)
)

// parseKernelSource reflects a pre-processed compute kernel: its entry point, workgroup size,
// parameter block size and every group 0 resource.
//
// Parameters:
//   - name: the kernel name, used in errors
//   - source: the pre-processed WGSL source
//
// Returns:
//   - *kernelSource: the reflected kernel
//   - error: an error if the source has no entry point, binds outside group 0, repeats a
//     binding or declares a resource type the device cannot feed
func parseKernelSource(name, source string) (*kernelSource, error) {
	cleaned := stripComments(source)
	k := &kernelSource{
		name:          name,
		source:        source,
		entryPoint:    parseEntryPoint(cleaned),
		workgroupSize: parseWorkgroupSize(cleaned),
	}
	if k.entryPoint == "" {
		return nil, fmt.Errorf("kernel %s: %w", name, errNoEntryPoint)
	}

	structSizes := computeStructSizes(parseStructBlocks(cleaned))
	seen := map[uint32]string{}
	for _, match := range bindGroupDeclRegex.FindAllStringSubmatch(cleaned, -1) {
		group, _ := strconv.Atoi(match[1])
		binding, _ := strconv.ParseUint(match[2], 10, 32)
		addressSpace := strings.TrimSpace(match[3])
		varName := strings.TrimSpace(match[4])
		typeName := strings.TrimSpace(match[5])

		if group != 0 {
			return nil, fmt.Errorf("kernel %s: %s: only @group(0) is bound, got %d", name, varName, group)
		}
		if prev, ok := seen[uint32(binding)]; ok {
			return nil, fmt.Errorf("kernel %s: %s and %s share binding %d", name, prev, varName, binding)
		}
		seen[uint32(binding)] = varName

		entry, kind, ok := classifyResource(uint32(binding), addressSpace, typeName)
		if !ok {
			return nil, fmt.Errorf("kernel %s: %s: unsupported resource type %q", name, varName, typeName)
		}
		if kind == resourceUniform {
			if varName != paramsVarName {
				return nil, fmt.Errorf("kernel %s: uniform %s must be named %s", name, varName, paramsVarName)
			}
			layout, ok := resolveTypeLayout(typeName, structSizes)
			if !ok {
				return nil, fmt.Errorf("kernel %s: cannot size parameter block %s", name, typeName)
			}
			entry.Buffer.MinBindingSize = layout.size
			k.paramsSize = layout.size
		}
		k.bindings = append(k.bindings, kernelBinding{name: varName, kind: kind, entry: entry})
	}

	slices.SortFunc(k.bindings, func(a, b kernelBinding) int {
		return int(a.entry.Binding) - int(b.entry.Binding)
	})
	return k, nil
}

// layoutDescriptor returns the group 0 layout of the kernel.
func (k *kernelSource) layoutDescriptor() wgpu.BindGroupLayoutDescriptor {
	entries := make([]wgpu.BindGroupLayoutEntry, len(k.bindings))
	for i, b := range k.bindings {
		entries[i] = b.entry
	}
	return wgpu.BindGroupLayoutDescriptor{
		Label:   k.name + " Bind Group Layout",
		Entries: entries,
	}
}

// parseWorkgroupSize extracts the @workgroup_size(x, y, z) dimensions from WGSL source.
// Omitted dimensions default to 1; a source without the attribute yields [1, 1, 1].
//
// Parameters:
//   - source: WGSL source with comments stripped
//
// Returns:
//   - [3]uint32: the workgroup size as [x, y, z]
func parseWorkgroupSize(source string) [3]uint32 {
	result := [3]uint32{1, 1, 1}
	match := workgroupSizeRegex.FindStringSubmatch(source)
	if match == nil {
		return result
	}
	for i := range 3 {
		if match[i+1] == "" {
			continue
		}
		if v, err := strconv.ParseUint(match[i+1], 10, 32); err == nil && v > 0 {
			result[i] = uint32(v)
		}
	}
	return result
}

// parseEntryPoint returns the name of the first @compute function, or an empty string.
func parseEntryPoint(source string) string {
	if match := computeEntryRegex.FindStringSubmatch(source); match != nil {
		return match[1]
	}
	return ""
}

// parseStructBlocks finds all struct { ... } blocks in the cleaned WGSL source.
//
// Parameters:
//   - source: WGSL source with comments already stripped
//
// Returns:
//   - []parsedStruct: all struct blocks found in the source
func parseStructBlocks(source string) []parsedStruct {
	matches := structBlockRegex.FindAllStringSubmatch(source, -1)
	structs := make([]parsedStruct, 0, len(matches))
	for _, match := range matches {
		var fields []parsedField
		for _, part := range splitAtTopLevelCommas(match[2]) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if fm := fieldRegex.FindStringSubmatch(part); fm != nil {
				fields = append(fields, parsedField{name: fm[1], typeName: strings.TrimSpace(fm[2])})
			}
		}
		structs = append(structs, parsedStruct{name: match[1], fields: fields})
	}
	return structs
}

// splitAtTopLevelCommas splits s on commas that are not nested inside angle brackets, so
// array<mat4x4<f32>, 256> stays one field type.
func splitAtTopLevelCommas(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
