// pre_processor.go implements the kernel pre-processor. It scans WGSL kernel source for @oxy:
// annotations and replaces them with registered struct sources or the generated parameter
// block declaration, so every kernel reads the exact layout kernel.Params marshals.
//
// Annotations are single-line comments:
//
//	//@oxy:include <key>   injects the WGSL source registered under key
//	//@oxy:params <key>    declares @group(0) @binding(0) var<uniform> params: <type of key>;
package gpu

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
)

// annotationPrefix is the marker that identifies an annotation within a WGSL comment line.
const annotationPrefix = "@oxy:"

// annotationType identifies the kind of annotation parsed from a WGSL comment line.
type annotationType string

const (
	annotationTypeInclude annotationType = "include"
	annotationTypeParams  annotationType = "params"
)

// GPUTexelSource holds the helpers shared by the built-in kernels: sentinels, texel
// projection and storage-buffer mirror addressing.
//
//go:embed kernels/texel.wgsl
var GPUTexelSource string

// GPUWarpSamplerSource holds the sub-pixel sampling shared by the warp kernels. It reads the
// src_position binding and the params block, so it must be included after both.
//
//go:embed kernels/warp_sampler.wgsl
var GPUWarpSamplerSource string

// registryEntry pairs an embedded WGSL source with the type name it declares, if any.
type registryEntry struct {
	Source string
	Type   string
}

// annotation is one parsed @oxy: line.
type annotation struct {
	kind annotationType
	arg  string
	line int
}

type preProcessor struct {
	registry map[string]registryEntry
}

// newPreProcessor creates a pre-processor with every kernel parameter struct and the shared
// texel helpers registered.
func newPreProcessor() *preProcessor {
	return &preProcessor{
		registry: map[string]registryEntry{
			"texel":                 {Source: GPUTexelSource},
			"warp_sampler":          {Source: GPUWarpSamplerSource},
			"empty_params":          {Source: kernel.GPUEmptyParamsSource, Type: "EmptyParams"},
			"local_to_world_params": {Source: kernel.GPULocalToWorldParamsSource, Type: "LocalToWorldParams"},
			"disocclusion_params":   {Source: kernel.GPUDisocclusionParamsSource, Type: "DisocclusionParams"},
			"warp_params":           {Source: kernel.GPUWarpParamsSource, Type: "WarpParams"},
			"splat_params":          {Source: kernel.GPUSplatParamsSource, Type: "SplatParams"},
			"merge_params":          {Source: kernel.GPUMergeParamsSource, Type: "MergeParams"},
			"background_params":     {Source: kernel.GPUBackgroundParamsSource, Type: "BackgroundParams"},
			"motion_params":         {Source: kernel.GPUMotionParamsSource, Type: "MotionParams"},
		},
	}
}

// Process replaces every annotation of source with its WGSL output. An entry is injected at
// most once, so a params annotation after an include of the same key only adds the declaration.
//
// Parameters:
//   - source: the raw kernel source
//
// Returns:
//   - string: the processed source
//   - error: an error if an annotation is malformed or names an unregistered key
func (p *preProcessor) Process(source string) (string, error) {
	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	injected := map[string]bool{}

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}
		entry, ok := p.registry[a.arg]
		if !ok {
			return "", fmt.Errorf("line %d: unknown @oxy:%s argument %q", a.line, a.kind, a.arg)
		}
		if !injected[a.arg] {
			out = append(out, entry.Source)
			injected[a.arg] = true
		}
		if a.kind == annotationTypeParams {
			if entry.Type == "" {
				return "", fmt.Errorf("line %d: %q declares no parameter type", a.line, a.arg)
			}
			out = append(out, fmt.Sprintf("@group(0) @binding(0) var<uniform> %s: %s;", paramsVarName, entry.Type))
		}
	}
	return strings.Join(out, "\n"), nil
}

// parseAnnotation parses a single line as an annotation. Lines without the prefix return nil
// and no error.
func parseAnnotation(line string, lineNum int) (*annotation, error) {
	trimmed := strings.TrimSpace(line)
	body, ok := strings.CutPrefix(trimmed, "//")
	if !ok {
		return nil, nil
	}
	_, after, ok := strings.Cut(strings.TrimSpace(body), annotationPrefix)
	if !ok {
		return nil, nil
	}
	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}
	switch annotationType(args[0]) {
	case annotationTypeInclude, annotationTypeParams:
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy:%s requires exactly one argument", lineNum, args[0])
		}
		return &annotation{kind: annotationType(args[0]), arg: args[1], line: lineNum}, nil
	}
	return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
}
