package cluster

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

// UniformSize is the byte size of the clustering uniform block: a 128-byte
// header, spot and point light arrays and the spot cone table.
const UniformSize = 128 + 2*MaxLights*lights.FragmentInfoSize + MaxLights*16

// GPUBuilder fills the grid with two compute passes: a coarse cull at
// 1/PrepassDownsample resolution, then a full-resolution pass that only tests
// the lights its coarse cell kept.
type GPUBuilder struct {
	backend gpu.Backend
	cfg     Config

	prepass gpu.Image
	image   gpu.Image
}

func NewGPUBuilder(backend gpu.Backend, cfg Config) *GPUBuilder {
	return &GPUBuilder{backend: backend, cfg: cfg}
}

func (b *GPUBuilder) ensureTargets() {
	res := b.cfg.Resolution
	if b.prepass == nil {
		b.prepass = b.backend.CreateImage(gpu.ImageDesc{
			Label:     "cluster-prepass",
			Width:     res[0] / PrepassDownsample,
			Height:    res[1] / PrepassDownsample,
			Depth:     res[2] / PrepassDownsample * Bands,
			Dimension: gpu.Dim3D,
			Format:    gpu.FormatRG32Uint,
			Usage:     gpu.UsageStorage | gpu.UsageSampled,
		})
	}
	if b.image == nil {
		b.image = b.backend.CreateImage(gpu.ImageDesc{
			Label:     "cluster-volume",
			Width:     res[0],
			Height:    res[1],
			Depth:     res[2] * Bands,
			Dimension: gpu.Dim3D,
			Format:    gpu.FormatRG32Uint,
			Usage:     gpu.UsageStorage | gpu.UsageSampled,
		})
	}
}

func (b *GPUBuilder) Build(rec gpu.Recorder, in Input) (Output, error) {
	b.ensureTargets()
	res := b.cfg.Resolution
	coarse := [3]uint32{res[0] / PrepassDownsample, res[1] / PrepassDownsample, res[2] / PrepassDownsample}

	toGeneral := gpu.Barrier{
		SyncBefore:  gpu.SyncFragmentShader,
		SyncAfter:   gpu.SyncCompute,
		AccessAfter: gpu.AccessShaderWrite,
	}
	rec.Transition(
		gpu.Transition{Barrier: toGeneral, Image: b.prepass, LayoutBefore: gpu.LayoutUndefined, LayoutAfter: gpu.LayoutGeneral},
		gpu.Transition{Barrier: toGeneral, Image: b.image, LayoutBefore: gpu.LayoutUndefined, LayoutAfter: gpu.LayoutGeneral},
	)

	rec.Dispatch(gpu.Dispatch{
		Label:    "cluster-prepass",
		Kernel:   shaders.KernelClusterCull,
		Storage:  b.prepass,
		Uniforms: PackUniforms(coarse, in),
		Groups:   dispatchGroups(coarse),
	})

	rec.Transition(gpu.Transition{
		Barrier: gpu.Barrier{
			SyncBefore:   gpu.SyncCompute,
			SyncAfter:    gpu.SyncCompute,
			AccessBefore: gpu.AccessShaderWrite,
			AccessAfter:  gpu.AccessShaderRead,
		},
		Image:        b.prepass,
		LayoutBefore: gpu.LayoutGeneral,
		LayoutAfter:  gpu.LayoutGeneral,
	})

	rec.Dispatch(gpu.Dispatch{
		Label:    "cluster",
		Kernel:   shaders.KernelClusterInherit,
		Storage:  b.image,
		Sampled:  b.prepass,
		Uniforms: PackUniforms(res, in),
		Groups:   dispatchGroups(res),
	})

	rec.Transition(gpu.Transition{
		Barrier: gpu.Barrier{
			SyncBefore:   gpu.SyncCompute,
			SyncAfter:    gpu.SyncFragmentShader,
			AccessBefore: gpu.AccessShaderWrite,
			AccessAfter:  gpu.AccessShaderRead,
		},
		Image:        b.image,
		LayoutBefore: gpu.LayoutGeneral,
		LayoutAfter:  gpu.LayoutShaderRead,
	})

	return Output{Image: b.image}, nil
}

func (b *GPUBuilder) Release() {
	if b.prepass != nil {
		b.prepass.Release()
		b.prepass = nil
	}
	if b.image != nil {
		b.image.Release()
		b.image = nil
	}
}

// dispatchGroups covers every band with 4x4x4 workgroups.
func dispatchGroups(res [3]uint32) [3]uint32 {
	return [3]uint32{(res[0] + 3) / 4, (res[1] + 3) / 4, Bands * ((res[2] + 3) / 4)}
}

// PackUniforms lays out the clustering uniform block for a grid of size res.
func PackUniforms(res [3]uint32, in Input) []byte {
	buf := make([]byte, UniformSize)
	invT := in.Transform.Inv()
	invRes := mgl32.Vec3{1 / float32(res[0]), 1 / float32(res[1]), 1 / float32(res[2])}

	lights.MarshalMat4(buf[0:], invT)
	putU32(buf[64:], res[0], res[1], res[2], uint32(bits.TrailingZeros32(res[2])))
	putF32(buf[80:], invRes[0], invRes[1], 1/float32(Bands*res[2]), 1)
	putF32(buf[96:], invRes[0], invRes[1], invRes[2], voxelRadius(invT, invRes))
	putU32(buf[112:], uint32(len(in.Spots)), uint32(len(in.Points)), 0, 0)

	off := 128
	for i, s := range in.Spots {
		if i == MaxLights {
			break
		}
		o := off + i*lights.FragmentInfoSize
		putF32(buf[o+16:], s.Position[0], s.Position[1], s.Position[2], 0)
		putF32(buf[o+32:], s.Direction[0], s.Direction[1], s.Direction[2], 1/s.Size)
	}
	off += MaxLights * lights.FragmentInfoSize
	for i, p := range in.Points {
		if i == MaxLights {
			break
		}
		o := off + i*lights.FragmentInfoSize
		putF32(buf[o+16:], p.Position[0], p.Position[1], p.Position[2], 0)
		putF32(buf[o+44:], 1/p.Size)
	}
	off += MaxLights * lights.FragmentInfoSize
	for i, s := range in.Spots {
		if i == MaxLights {
			break
		}
		putF32(buf[off+i*16:], s.Cos, s.Sin, s.Size, 0)
	}
	return buf
}

func putU32(buf []byte, vs ...uint32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
}

func putF32(buf []byte, vs ...float32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
