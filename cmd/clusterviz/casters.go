package main

import (
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/clusterer"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
	"github.com/gekko3d/clusterer/lightrt/rt/shadow"
	"github.com/go-gl/mathgl/mgl32"
)

type CasterVertex struct {
	Position [3]float32
}

type casterKey struct {
	info  gpu.PassInfo
	flags shadow.Flags
	vsm   bool
}

type casterPipeline struct {
	layout   *wgpu.BindGroupLayout
	pipeline *wgpu.RenderPipeline
}

// Casters draws a floor and a ring of boxes into shadow passes.
type Casters struct {
	backend   *gpu.WGPUBackend
	logger    clusterer.Logger
	vertices  *wgpu.Buffer
	count     uint32
	pipelines map[casterKey]*casterPipeline
}

func NewCasters(backend *gpu.WGPUBackend, logger clusterer.Logger) *Casters {
	verts := box(mgl32.Vec3{-40, -1.1, -40}, mgl32.Vec3{40, -1, 40})
	for i := 0; i < 8; i++ {
		a := float32(i) / 8 * 2 * 3.14159265
		c := mgl32.Vec3{12 * cos32(a), 0, 12 * sin32(a)}
		verts = append(verts, box(c.Sub(mgl32.Vec3{1, 1, 1}), c.Add(mgl32.Vec3{1, 2, 1}))...)
	}

	size := uint64(len(verts) * int(unsafe.Sizeof(CasterVertex{})))
	buf, err := backend.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Caster Vertices",
		Size:  size,
		Usage: wgpu.BufferUsageVertex | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		panic(err)
	}
	backend.Queue.WriteBuffer(buf, 0, unsafe.Slice((*byte)(unsafe.Pointer(&verts[0])), size))

	return &Casters{
		backend:   backend,
		logger:    logger,
		vertices:  buf,
		count:     uint32(len(verts)),
		pipelines: make(map[casterKey]*casterPipeline),
	}
}

func (c *Casters) RenderDepth(rec gpu.Recorder, v shadow.DepthView) {
	r, ok := rec.(*gpu.WGPURecorder)
	if !ok || r.RenderPass() == nil {
		c.logger.Warnf("casters: no wgpu render pass")
		return
	}
	p, err := c.pipeline(casterKey{info: r.PassInfo(), flags: v.Flags, vsm: v.VSM})
	if err != nil {
		c.logger.Errorf("casters: %v", err)
		return
	}

	uniforms := make([]byte, 80)
	vp := v.Proj.Mul4(v.View)
	copy(uniforms, unsafe.Slice((*byte)(unsafe.Pointer(&vp[0])), 64))
	params := [4]float32{v.ZFar}
	copy(uniforms[64:], unsafe.Slice((*byte)(unsafe.Pointer(&params[0])), 16))
	buf := c.backend.CreateUniformBuffer("Shadow Camera", uniforms)

	bg, err := c.backend.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Shadow Camera",
		Layout: p.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: buf.Buffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		buf.Release()
		c.logger.Errorf("casters: bind group: %v", err)
		return
	}
	r.ReleaseAfterSubmit(buf, bg)

	pass := r.RenderPass()
	pass.SetPipeline(p.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.SetVertexBuffer(0, c.vertices, 0, wgpu.WholeSize)
	pass.Draw(c.count, 1, 0, 0)
}

func (c *Casters) pipeline(key casterKey) (*casterPipeline, error) {
	if p, ok := c.pipelines[key]; ok {
		return p, nil
	}
	device := c.backend.Device

	bgl, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Shadow Camera BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return nil, err
	}
	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bgl},
	})
	if err != nil {
		return nil, err
	}

	module := c.backend.ShaderModule("Shadow Depth", shaders.ShadowDepthWGSL)
	var fragment *wgpu.FragmentState
	if key.vsm {
		fragment = &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_vsm",
			Targets: []wgpu.ColorTargetState{
				{Format: gpu.TextureFormat(key.info.Color), WriteMask: wgpu.ColorWriteMaskAll},
			},
		}
	}

	frontFace := wgpu.FrontFaceCCW
	if key.flags&shadow.FlagFrontFaceClockwise != 0 {
		frontFace = wgpu.FrontFaceCW
	}
	depth := &wgpu.DepthStencilState{
		Format:            gpu.TextureFormat(key.info.Depth),
		DepthWriteEnabled: true,
		DepthCompare:      wgpu.CompareFunctionLessEqual,
		StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
	}
	if key.flags&shadow.FlagDepthBias != 0 && !key.vsm {
		depth.DepthBias = 4
		depth.DepthBiasSlopeScale = 2
	}

	pipeline, err := device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Shadow Depth Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
			Buffers: []wgpu.VertexBufferLayout{
				{
					ArrayStride: uint64(unsafe.Sizeof(CasterVertex{})),
					StepMode:    wgpu.VertexStepModeVertex,
					Attributes: []wgpu.VertexAttribute{
						{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
					},
				},
			},
		},
		Fragment: fragment,
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: frontFace,
			CullMode:  wgpu.CullModeNone,
		},
		DepthStencil: depth,
		Multisample: wgpu.MultisampleState{
			Count: max(key.info.Samples, 1),
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return nil, err
	}

	p := &casterPipeline{layout: bgl, pipeline: pipeline}
	c.pipelines[key] = p
	return p, nil
}

func (c *Casters) Release() {
	for k, p := range c.pipelines {
		p.pipeline.Release()
		p.layout.Release()
		delete(c.pipelines, k)
	}
	c.vertices.Release()
}

// box returns the 12 triangles of an axis-aligned box.
func box(lo, hi mgl32.Vec3) []CasterVertex {
	corner := func(i int) CasterVertex {
		p := lo
		if i&1 != 0 {
			p[0] = hi[0]
		}
		if i&2 != 0 {
			p[1] = hi[1]
		}
		if i&4 != 0 {
			p[2] = hi[2]
		}
		return CasterVertex{Position: p}
	}
	faces := [6][4]int{
		{0, 2, 6, 4}, {1, 5, 7, 3},
		{0, 4, 5, 1}, {2, 3, 7, 6},
		{0, 1, 3, 2}, {4, 6, 7, 5},
	}
	out := make([]CasterVertex, 0, 36)
	for _, f := range faces {
		out = append(out,
			corner(f[0]), corner(f[1]), corner(f[2]),
			corner(f[0]), corner(f[2]), corner(f[3]),
		)
	}
	return out
}
