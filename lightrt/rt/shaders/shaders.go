package shaders

import (
	_ "embed"
)

//go:embed clustering.wgsl
var ClusteringWGSL string

//go:embed copy_buffer_to_image_3d.wgsl
var CopyBufferToImage3DWGSL string

//go:embed vsm_blur.wgsl
var VSMBlurWGSL string

//go:embed clear_region.wgsl
var ClearRegionWGSL string

//go:embed shadow_depth.wgsl
var ShadowDepthWGSL string

//go:embed cluster_heat.wgsl
var ClusterHeatWGSL string

// Compute kernels, by gpu.Dispatch.Kernel name.
const (
	KernelClusterCull         = "cluster_cull"
	KernelClusterInherit      = "cluster_inherit"
	KernelCopyBufferToImage3D = "copy_buffer_to_image_3d"
)

// Fullscreen quad programs, by gpu.Quad.Shader name.
const (
	QuadVSMDownBlur = "vsm_down_blur"
	QuadVSMUpBlur   = "vsm_up_blur"
)

// Entry locates a shader entry point.
type Entry struct {
	Label      string
	Source     string
	EntryPoint string
}

var kernels = map[string]Entry{
	KernelClusterCull:         {"Cluster Cull", ClusteringWGSL, "cull_main"},
	KernelClusterInherit:      {"Cluster Inherit", ClusteringWGSL, "inherit_main"},
	KernelCopyBufferToImage3D: {"Copy Buffer To Image 3D", CopyBufferToImage3DWGSL, "main"},
}

var quads = map[string]Entry{
	QuadVSMDownBlur: {"VSM Down Blur", VSMBlurWGSL, "down_blur"},
	QuadVSMUpBlur:   {"VSM Up Blur", VSMBlurWGSL, "up_blur"},
}

func Kernel(name string) (Entry, bool) {
	e, ok := kernels[name]
	return e, ok
}

// Quad returns the fragment entry of a fullscreen program; its vertex
// entry is always vs_main in the same source.
func Quad(name string) (Entry, bool) {
	e, ok := quads[name]
	return e, ok
}
