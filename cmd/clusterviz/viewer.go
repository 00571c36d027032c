package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/gekko3d/clusterer"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// Viewer owns the window surface and draws a heat map of one cluster band.
type Viewer struct {
	Window   *glfw.Window
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Surface  *wgpu.Surface
	Config   *wgpu.SurfaceConfiguration
	Backend  *gpu.WGPUBackend

	heatLayout   *wgpu.BindGroupLayout
	heatPipeline *wgpu.RenderPipeline

	Band    uint32
	Compact bool
}

func NewViewer(window *glfw.Window, logger clusterer.Logger) (*Viewer, error) {
	v := &Viewer{Window: window}
	v.Instance = wgpu.CreateInstance(nil)
	v.Surface = v.Instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(window))

	adapter, err := v.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: v.Surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, err
	}
	v.Adapter = adapter

	v.Device, err = adapter.RequestDevice(nil)
	if err != nil {
		return nil, err
	}
	v.Backend = gpu.NewWGPUBackend(v.Device, logger)

	width, height := window.GetFramebufferSize()
	caps := v.Surface.GetCapabilities(adapter)
	v.Config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	v.Surface.Configure(adapter, v.Device, v.Config)

	if err := v.setupHeat(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Viewer) setupHeat() error {
	var err error
	v.heatLayout, err = v.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Cluster Heat BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUint,
					ViewDimension: wgpu.TextureViewDimension3D,
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
		return err
	}
	layout, err := v.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{v.heatLayout},
	})
	if err != nil {
		return err
	}

	module := v.Backend.ShaderModule("Cluster Heat", shaders.ClusterHeatWGSL)
	v.heatPipeline, err = v.Device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "Cluster Heat Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     module,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     module,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{Format: v.Config.Format, WriteMask: wgpu.ColorWriteMaskAll},
			},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	return err
}

func (v *Viewer) Resize(w, h int) {
	if w > 0 && h > 0 {
		v.Config.Width = uint32(w)
		v.Config.Height = uint32(h)
		v.Surface.Configure(v.Adapter, v.Device, v.Config)
	}
}

// Present draws the current cluster volume of c, or a plain clear when
// clustering produced nothing yet.
func (v *Viewer) Present(c *clusterer.Clusterer) error {
	next, err := v.Surface.GetCurrentTexture()
	if err != nil {
		return fmt.Errorf("get current texture: %w", err)
	}
	defer next.Release()

	view, err := next.CreateView(nil)
	if err != nil {
		return fmt.Errorf("create view: %w", err)
	}
	defer view.Release()

	encoder, err := v.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	defer encoder.Release()

	var garbage []interface{ Release() }
	pass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0.02, G: 0.02, B: 0.05, A: 1},
		}},
	})
	if img, ok := c.ClusterImage().(*gpu.WGPUImage); ok {
		cfg := c.Config()
		uniforms := make([]byte, 16)
		binary.LittleEndian.PutUint32(uniforms[0:], min(v.Band, 8))
		binary.LittleEndian.PutUint32(uniforms[4:], cfg.ClusterResolution[2])
		if v.Compact {
			binary.LittleEndian.PutUint32(uniforms[8:], 1)
		}
		binary.LittleEndian.PutUint32(uniforms[12:], uint32(cfg.MaxSpotLights+cfg.MaxPointLights))
		buf := v.Backend.CreateUniformBuffer("Cluster Heat", uniforms)

		bg, err := v.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Layout: v.heatLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: img.View()},
				{Binding: 1, Buffer: buf.Buffer, Size: wgpu.WholeSize},
			},
		})
		if err == nil {
			garbage = append(garbage, buf, bg)
			pass.SetPipeline(v.heatPipeline)
			pass.SetBindGroup(0, bg, nil)
			pass.Draw(3, 1, 0, 0)
		} else {
			buf.Release()
		}
	}
	if err := pass.End(); err != nil {
		return fmt.Errorf("heat pass: %w", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return err
	}
	v.Device.GetQueue().Submit(cmd)
	cmd.Release()
	v.Surface.Present()

	for _, g := range garbage {
		g.Release()
	}
	return nil
}

func (v *Viewer) Release() {
	v.Backend.Release()
	if v.heatPipeline != nil {
		v.heatPipeline.Release()
	}
	if v.heatLayout != nil {
		v.heatLayout.Release()
	}
	v.Surface.Release()
	v.Device.Release()
	v.Adapter.Release()
	v.Instance.Release()
}

func cos32(a float32) float32 { return float32(math.Cos(float64(a))) }
func sin32(a float32) float32 { return float32(math.Sin(float64(a))) }
