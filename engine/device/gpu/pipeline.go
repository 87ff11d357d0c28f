package gpu

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-warp/common"
	"github.com/Carmen-Shannon/oxy-warp/engine/device"
	"github.com/Carmen-Shannon/oxy-warp/engine/kernel"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/naga"
)

//go:embed kernels/*.wgsl
var builtinKernels embed.FS

// computeKernel is a compiled kernel: its reflected interface and the pipeline objects built from it.
type computeKernel struct {
	source   *kernelSource
	module   *wgpu.ShaderModule
	layout   *wgpu.BindGroupLayout
	pipeline *wgpu.ComputePipeline
	pLayout  *wgpu.PipelineLayout
}

func (k *computeKernel) Release() {
	if k.pipeline != nil {
		k.pipeline.Release()
	}
	if k.pLayout != nil {
		k.pLayout.Release()
	}
	if k.layout != nil {
		k.layout.Release()
	}
	if k.module != nil {
		k.module.Release()
	}
}

// kernelText returns the raw WGSL of a kernel: an override set with WithKernelSource, then
// <kernelDir>/<name>.wgsl, then the built-in kernel.
func (d *gpuDevice) kernelText(id kernel.ID) (string, error) {
	if src, ok := d.overrides[id]; ok {
		return src, nil
	}
	name := id.String() + ".wgsl"
	if d.kernelDir != "" {
		b, err := os.ReadFile(filepath.Join(d.kernelDir, name))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	b, err := builtinKernels.ReadFile("kernels/" + name)
	if err != nil {
		return "", fmt.Errorf("%s: %w", id, device.ErrUnknownKernel)
	}
	return string(b), nil
}

// loadKernel returns the compiled kernel for id, compiling it on first use.
func (d *gpuDevice) loadKernel(id kernel.ID) (*computeKernel, error) {
	if k, ok := d.kernels[id]; ok {
		return k, nil
	}
	raw, err := d.kernelText(id)
	if err != nil {
		return nil, err
	}
	processed, err := d.preProcessor.Process(raw)
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", id, err)
	}
	if d.validate {
		if _, err := naga.Compile(processed); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", id, err)
		}
	}
	src, err := parseKernelSource(id.String(), processed)
	if err != nil {
		return nil, err
	}

	k := &computeKernel{source: src}
	k.module, err = d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: src.name,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: src.source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("kernel %s: %w", id, err)
	}
	desc := src.layoutDescriptor()
	k.layout, err = d.device.CreateBindGroupLayout(&desc)
	if err != nil {
		k.Release()
		return nil, fmt.Errorf("kernel %s: bind group layout: %w", id, err)
	}
	k.pLayout, err = d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            src.name,
		BindGroupLayouts: []*wgpu.BindGroupLayout{k.layout},
	})
	if err != nil {
		k.Release()
		return nil, fmt.Errorf("kernel %s: pipeline layout: %w", id, err)
	}
	k.pipeline, err = d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  src.name + " Compute Pipeline",
		Layout: k.pLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     k.module,
			EntryPoint: src.entryPoint,
		},
	})
	if err != nil {
		k.Release()
		return nil, fmt.Errorf("kernel %s: compute pipeline: %w", id, err)
	}

	d.kernels[id] = k
	common.Logger().Debug("kernel compiled", "component", "device", "kernel", src.name, "bindings", len(src.bindings), "workgroup", src.workgroupSize)
	return k, nil
}

// workgroups returns the workgroup count covering domain.
func (k *computeKernel) workgroups(domain [3]uint32) [3]uint32 {
	var out [3]uint32
	for i := range 3 {
		n := max(domain[i], 1)
		out[i] = (n + k.source.workgroupSize[i] - 1) / k.source.workgroupSize[i]
	}
	return out
}
