package gpu

import (
	"fmt"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
)

// Logger receives layout mismatches and other recoverable problems.
type Logger interface {
	Warnf(format string, args ...any)
}

func (f Format) wgpu() wgpu.TextureFormat {
	switch f {
	case FormatD16:
		return wgpu.TextureFormatDepth16Unorm
	case FormatRG32Float:
		return wgpu.TextureFormatRG32Float
	case FormatRG32Uint:
		return wgpu.TextureFormatRG32Uint
	case FormatRGBA32Uint:
		return wgpu.TextureFormatRGBA32Uint
	}
	return wgpu.TextureFormatUndefined
}

func (u Usage) wgpu() wgpu.TextureUsage {
	var out wgpu.TextureUsage
	if u&UsageSampled != 0 {
		out |= wgpu.TextureUsageTextureBinding
	}
	if u&UsageStorage != 0 {
		out |= wgpu.TextureUsageStorageBinding
	}
	if u&(UsageColorTarget|UsageDepthTarget) != 0 {
		out |= wgpu.TextureUsageRenderAttachment
	}
	if u&UsageTransferDst != 0 {
		out |= wgpu.TextureUsageCopyDst
	}
	return out
}

// WGPUImage is a texture with one attachment view per layer and one view
// covering the whole image for sampling and storage.
type WGPUImage struct {
	desc    ImageDesc
	Texture *wgpu.Texture
	full    *wgpu.TextureView
	layers  []*wgpu.TextureView
	tracker *LayoutTracker
}

func (i *WGPUImage) Desc() ImageDesc                      { return i.desc }
func (i *WGPUImage) Layout(layer uint32) Layout           { return i.tracker.Layout(layer) }
func (i *WGPUImage) View() *wgpu.TextureView              { return i.full }
func (i *WGPUImage) LayerView(l uint32) *wgpu.TextureView { return i.layers[l] }

func (i *WGPUImage) Release() {
	if i.Texture == nil {
		return
	}
	if len(i.layers) > 1 {
		for _, v := range i.layers {
			v.Release()
		}
	}
	i.full.Release()
	i.Texture.Release()
	i.Texture = nil
	i.full = nil
	i.layers = nil
}

type WGPUBuffer struct {
	label  string
	size   uint64
	Buffer *wgpu.Buffer
}

func (b *WGPUBuffer) Label() string { return b.label }
func (b *WGPUBuffer) Size() uint64  { return b.size }

func (b *WGPUBuffer) Release() {
	if b.Buffer != nil {
		b.Buffer.Release()
		b.Buffer = nil
	}
}

type kernelKey struct {
	name    string
	storage Format
	sampled Format
	buffers int
}

type kernel struct {
	layout   *wgpu.BindGroupLayout
	pipeline *wgpu.ComputePipeline
}

type quadKey struct {
	name   string
	target Format
}

type clearKey struct {
	color   Format
	depth   Format
	samples uint32
}

type renderProgram struct {
	layout   *wgpu.BindGroupLayout
	pipeline *wgpu.RenderPipeline
}

// WGPUBackend runs recorded work on a WebGPU device. WebGPU synchronizes
// images itself, so layouts are only tracked to report misuse.
type WGPUBackend struct {
	Device *wgpu.Device
	Queue  *wgpu.Queue
	Logger Logger

	mu         sync.Mutex
	modules    map[string]*wgpu.ShaderModule
	kernels    map[kernelKey]*kernel
	quads      map[quadKey]*renderProgram
	clears     map[clearKey]*renderProgram
	transients map[ImageDesc]*WGPUImage
}

func NewWGPUBackend(device *wgpu.Device, logger Logger) *WGPUBackend {
	return &WGPUBackend{
		Device:     device,
		Queue:      device.GetQueue(),
		Logger:     logger,
		modules:    make(map[string]*wgpu.ShaderModule),
		kernels:    make(map[kernelKey]*kernel),
		quads:      make(map[quadKey]*renderProgram),
		clears:     make(map[clearKey]*renderProgram),
		transients: make(map[ImageDesc]*WGPUImage),
	}
}

func (b *WGPUBackend) warnf(format string, args ...any) {
	if b.Logger != nil {
		b.Logger.Warnf(format, args...)
	}
}

func (b *WGPUBackend) CreateImage(desc ImageDesc) Image {
	dim := wgpu.TextureDimension2D
	depthOrLayers := desc.LayerCount()
	if desc.Dimension == Dim3D {
		dim = wgpu.TextureDimension3D
		depthOrLayers = max(desc.Depth, 1)
	}

	tex, err := b.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: depthOrLayers},
		MipLevelCount: 1,
		SampleCount:   max(desc.Samples, 1),
		Dimension:     dim,
		Format:        desc.Format.wgpu(),
		Usage:         desc.Usage.wgpu(),
	})
	if err != nil {
		panic(err)
	}

	img := &WGPUImage{desc: desc, Texture: tex, tracker: NewLayoutTracker(desc, LayoutUndefined)}
	layers := desc.LayerCount()

	fullDim := wgpu.TextureViewDimension2D
	switch {
	case desc.Dimension == Dim3D:
		fullDim = wgpu.TextureViewDimension3D
	case desc.Cube && layers > 6:
		fullDim = wgpu.TextureViewDimensionCubeArray
	case desc.Cube:
		fullDim = wgpu.TextureViewDimensionCube
	case layers > 1:
		fullDim = wgpu.TextureViewDimension2DArray
	}
	img.full = b.createView(tex, desc, fmt.Sprintf("%s view", desc.Label), fullDim, 0, layers)

	if layers == 1 {
		img.layers = []*wgpu.TextureView{img.full}
		return img
	}
	img.layers = make([]*wgpu.TextureView, layers)
	for l := uint32(0); l < layers; l++ {
		img.layers[l] = b.createView(tex, desc, fmt.Sprintf("%s layer %d", desc.Label, l), wgpu.TextureViewDimension2D, l, 1)
	}
	return img
}

func (b *WGPUBackend) createView(tex *wgpu.Texture, desc ImageDesc, label string, dim wgpu.TextureViewDimension, base, count uint32) *wgpu.TextureView {
	arrayLayers := count
	if desc.Dimension == Dim3D {
		arrayLayers = 1
	}
	v, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Label:           label,
		Format:          desc.Format.wgpu(),
		Dimension:       dim,
		BaseMipLevel:    0,
		MipLevelCount:   1,
		BaseArrayLayer:  base,
		ArrayLayerCount: arrayLayers,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		panic(err)
	}
	return v
}

func (b *WGPUBackend) TransientImage(desc ImageDesc) Image {
	desc.Transient = true
	b.mu.Lock()
	defer b.mu.Unlock()
	if img, ok := b.transients[desc]; ok {
		return img
	}
	img := b.CreateImage(desc).(*WGPUImage)
	b.transients[desc] = img
	return img
}

// CreateBuffer uploads data into a new storage buffer.
func (b *WGPUBackend) CreateBuffer(label string, data []byte) Buffer {
	return b.newBuffer(label, data, wgpu.BufferUsageStorage)
}

// CreateUniformBuffer is for callers drawing into a WGPURecorder pass themselves.
func (b *WGPUBackend) CreateUniformBuffer(label string, data []byte) *WGPUBuffer {
	return b.newBuffer(label, data, wgpu.BufferUsageUniform)
}

// ShaderModule compiles source once per label.
func (b *WGPUBackend) ShaderModule(label, source string) *wgpu.ShaderModule {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.module(label, source)
}

// TextureFormat maps f to its WebGPU format.
func TextureFormat(f Format) wgpu.TextureFormat {
	return f.wgpu()
}

func (b *WGPUBackend) newBuffer(label string, data []byte, usage wgpu.BufferUsage) *WGPUBuffer {
	size := uint64(max(len(data), 16))
	if size%4 != 0 {
		size += 4 - size%4
	}
	buf, err := b.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            usage | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		panic(err)
	}
	if len(data) > 0 {
		b.Queue.WriteBuffer(buf, 0, data)
	}
	return &WGPUBuffer{label: label, size: uint64(len(data)), Buffer: buf}
}

// MaxSamples reports what core WebGPU guarantees: 32-bit two and four
// channel formats cannot be multisampled.
func (b *WGPUBackend) MaxSamples(f Format) uint32 {
	switch f {
	case FormatRG32Float, FormatRG32Uint, FormatRGBA32Uint:
		return 1
	}
	return 4
}

func (b *WGPUBackend) Begin(label string) (Recorder, error) {
	encoder, err := b.Device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, err
	}
	return &WGPURecorder{backend: b, encoder: encoder}, nil
}

// Release drops cached pipelines and transient images.
func (b *WGPUBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, img := range b.transients {
		img.Release()
		delete(b.transients, k)
	}
	for k, kern := range b.kernels {
		kern.pipeline.Release()
		kern.layout.Release()
		delete(b.kernels, k)
	}
	for k, p := range b.quads {
		p.pipeline.Release()
		p.layout.Release()
		delete(b.quads, k)
	}
	for k, p := range b.clears {
		p.pipeline.Release()
		p.layout.Release()
		delete(b.clears, k)
	}
	for k, m := range b.modules {
		m.Release()
		delete(b.modules, k)
	}
}

// module must be called with b.mu held.
func (b *WGPUBackend) module(label, source string) *wgpu.ShaderModule {
	if m, ok := b.modules[label]; ok {
		return m
	}
	m, err := b.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: source},
	})
	if err != nil {
		panic(err)
	}
	b.modules[label] = m
	return m
}

func sampleType(f Format) wgpu.TextureSampleType {
	switch f {
	case FormatRG32Uint, FormatRGBA32Uint:
		return wgpu.TextureSampleTypeUint
	case FormatD16:
		return wgpu.TextureSampleTypeDepth
	}
	return wgpu.TextureSampleTypeUnfilterableFloat
}

func viewDimension(desc ImageDesc) wgpu.TextureViewDimension {
	if desc.Dimension == Dim3D {
		return wgpu.TextureViewDimension3D
	}
	return wgpu.TextureViewDimension2D
}

// kernelFor builds the pipeline of a dispatch lazily. The layout follows
// the bindings the dispatch carries.
func (b *WGPUBackend) kernelFor(d Dispatch) (*kernel, error) {
	key := kernelKey{name: d.Kernel, buffers: len(d.Buffers)}
	if d.Storage != nil {
		key.storage = d.Storage.Desc().Format
	}
	if d.Sampled != nil {
		key.sampled = d.Sampled.Desc().Format
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if k, ok := b.kernels[key]; ok {
		return k, nil
	}

	entry, ok := shaders.Kernel(d.Kernel)
	if !ok {
		return nil, fmt.Errorf("gpu: unknown kernel %q", d.Kernel)
	}

	var entries []wgpu.BindGroupLayoutEntry
	if d.Storage != nil {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    0,
			Visibility: wgpu.ShaderStageCompute,
			StorageTexture: wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        key.storage.wgpu(),
				ViewDimension: viewDimension(d.Storage.Desc()),
			},
		})
	}
	if d.Sampled != nil {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    1,
			Visibility: wgpu.ShaderStageCompute,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    sampleType(key.sampled),
				ViewDimension: viewDimension(d.Sampled.Desc()),
			},
		})
	}
	if d.Uniforms != nil {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    2,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
		})
	}
	for i := range d.Buffers {
		entries = append(entries, wgpu.BindGroupLayoutEntry{
			Binding:    uint32(3 + i),
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage},
		})
	}

	bgl, err := b.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   entry.Label + " BGL",
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	layout, err := b.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}
	pipeline, err := b.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  entry.Label + " Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     b.module(entry.Label, entry.Source),
			EntryPoint: entry.EntryPoint,
		},
	})
	if err != nil {
		return nil, err
	}

	k := &kernel{layout: bgl, pipeline: pipeline}
	b.kernels[key] = k
	return k, nil
}

func fullscreenPrimitive() wgpu.PrimitiveState {
	return wgpu.PrimitiveState{
		Topology:  wgpu.PrimitiveTopologyTriangleList,
		FrontFace: wgpu.FrontFaceCCW,
		CullMode:  wgpu.CullModeNone,
	}
}

func (b *WGPUBackend) quadFor(name string, target Format) (*renderProgram, error) {
	key := quadKey{name: name, target: target}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.quads[key]; ok {
		return p, nil
	}

	entry, ok := shaders.Quad(name)
	if !ok {
		return nil, fmt.Errorf("gpu: unknown quad shader %q", name)
	}

	bgl, err := b.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: entry.Label + " BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	layout, err := b.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}

	module := b.module(entry.Label, entry.Source)
	pipeline, err := b.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  entry.Label + " Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: entry.EntryPoint,
			Targets: []wgpu.ColorTargetState{
				{Format: target.wgpu(), WriteMask: wgpu.ColorWriteMaskAll},
			},
		},
		Primitive: fullscreenPrimitive(),
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, err
	}

	p := &renderProgram{layout: bgl, pipeline: pipeline}
	b.quads[key] = p
	return p, nil
}

// clearFor returns the pipeline that clears a scissored region of a pass
// with a single color or depth attachment.
func (b *WGPUBackend) clearFor(key clearKey) (*renderProgram, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.clears[key]; ok {
		return p, nil
	}

	bgl, err := b.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Clear Region BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	layout, err := b.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}

	module := b.module("Clear Region", shaders.ClearRegionWGSL)
	desc := &wgpu.RenderPipelineDescriptor{
		Label:  "Clear Region Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Primitive: fullscreenPrimitive(),
		Multisample: wgpu.MultisampleState{
			Count: max(key.samples, 1),
			Mask:  0xFFFFFFFF,
		},
	}
	if key.depth != FormatUndefined {
		desc.Fragment = &wgpu.FragmentState{Module: module, EntryPoint: "clear_depth"}
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            key.depth.wgpu(),
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionAlways,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	} else {
		desc.Fragment = &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "clear_color",
			Targets: []wgpu.ColorTargetState{
				{Format: key.color.wgpu(), WriteMask: wgpu.ColorWriteMaskAll},
			},
		}
	}

	pipeline, err := b.Device.CreateRenderPipeline(desc)
	if err != nil {
		return nil, err
	}
	p := &renderProgram{layout: bgl, pipeline: pipeline}
	b.clears[key] = p
	return p, nil
}
