package gpu

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrLayoutMismatch = errors.New("gpu: image layout mismatch")
	ErrNoPass         = errors.New("gpu: no render pass in progress")
	ErrPassActive     = errors.New("gpu: render pass already in progress")
	ErrReleased       = errors.New("gpu: use of released resource")
	ErrSubmitted      = errors.New("gpu: recorder already submitted")
)

type Format uint8

const (
	FormatUndefined Format = iota
	FormatD16
	FormatRG32Float
	FormatRG32Uint
	FormatRGBA32Uint
)

func (f Format) IsDepth() bool {
	return f == FormatD16
}

// TexelSize is the byte size of one texel.
func (f Format) TexelSize() int {
	switch f {
	case FormatD16:
		return 2
	case FormatRG32Float, FormatRG32Uint:
		return 8
	case FormatRGBA32Uint:
		return 16
	}
	return 0
}

type Dimension uint8

const (
	Dim2D Dimension = iota
	Dim3D
)

type Usage uint32

const (
	UsageSampled Usage = 1 << iota
	UsageStorage
	UsageColorTarget
	UsageDepthTarget
	UsageTransferDst
)

// ImageDesc describes an image. Layers counts array layers of a 2D image;
// Depth is the extent of a 3D image.
type ImageDesc struct {
	Label     string
	Width     uint32
	Height    uint32
	Depth     uint32
	Layers    uint32
	Dimension Dimension
	Format    Format
	Usage     Usage
	Samples   uint32
	Cube      bool
	Transient bool
}

// LayerCount is the number of independently tracked subresources.
func (d ImageDesc) LayerCount() uint32 {
	if d.Dimension == Dim3D || d.Layers == 0 {
		return 1
	}
	return d.Layers
}

// Layout is the state an image subresource is in.
type Layout uint8

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutColorTarget
	LayoutDepthTarget
	LayoutShaderRead
	LayoutTransferDst
)

func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "undefined"
	case LayoutGeneral:
		return "general"
	case LayoutColorTarget:
		return "color-target"
	case LayoutDepthTarget:
		return "depth-target"
	case LayoutShaderRead:
		return "shader-read"
	case LayoutTransferDst:
		return "transfer-dst"
	}
	return "invalid"
}

// Sync is a set of pipeline stages.
type Sync uint32

const (
	SyncNone Sync = 0
	SyncTop  Sync = 1 << iota
	SyncFragmentShader
	SyncColorOutput
	SyncEarlyFragmentTests
	SyncLateFragmentTests
	SyncCompute
	SyncTransfer

	SyncFragmentTests = SyncEarlyFragmentTests | SyncLateFragmentTests
)

// Access is a set of memory access types.
type Access uint32

const (
	AccessNone       Access = 0
	AccessColorRead  Access = 1 << iota
	AccessColorWrite
	AccessDSRead
	AccessDSWrite
	AccessShaderRead
	AccessShaderWrite
	AccessTransferWrite
)

// Barrier is an execution and memory dependency.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// Transition moves a range of layers of an image between layouts.
// LayerCount 0 means every layer from BaseLayer on. LayoutBefore
// LayoutUndefined discards the previous contents.
type Transition struct {
	Barrier
	Image        Image
	LayoutBefore Layout
	LayoutAfter  Layout
	BaseLayer    uint32
	LayerCount   uint32
}

type Rect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

func (r Rect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

type LoadOp uint8

const (
	LoadDontCare LoadOp = iota
	LoadClear
	LoadKeep
)

// Attachment binds one layer of an image to a render pass. For depth
// attachments Clear[0] is the depth clear value.
type Attachment struct {
	Image   Image
	Layer   uint32
	Load    LoadOp
	Clear   [4]float32
	Store   bool
	Resolve Image
}

// RenderPass describes one render pass. A non-empty Area restricts load
// clears to that region.
type RenderPass struct {
	Label string
	Color []Attachment
	Depth *Attachment
	Area  Rect
}

// Quad is a fullscreen draw sampling Source, with InvSize as its only constant.
type Quad struct {
	Shader  string
	Source  Image
	InvSize mgl32.Vec2
}

// Dispatch is one compute dispatch. Storage is bound at 0, Sampled at 1,
// Uniforms at 2 and Buffers from 3 on; nil bindings are omitted.
type Dispatch struct {
	Label    string
	Kernel   string
	Storage  Image
	Sampled  Image
	Uniforms []byte
	Buffers  []Buffer
	Groups   [3]uint32
}

type Image interface {
	Desc() ImageDesc
	// Layout reports the tracked layout of one layer.
	Layout(layer uint32) Layout
	Release()
}

type Buffer interface {
	Label() string
	Size() uint64
	Release()
}

// Backend creates resources and command recorders.
type Backend interface {
	CreateImage(desc ImageDesc) Image
	// TransientImage returns a frame-scoped attachment; equal descriptors may
	// return the same image.
	TransientImage(desc ImageDesc) Image
	// CreateBuffer returns a storage buffer holding data.
	CreateBuffer(label string, data []byte) Buffer
	// MaxSamples is the highest render-target sample count for f.
	MaxSamples(f Format) uint32
	Begin(label string) (Recorder, error)
}

// Recorder records commands for one submission.
type Recorder interface {
	Transition(ts ...Transition)
	ClearImage(img Image, value [4]float32)
	BeginRenderPass(rp RenderPass) error
	SetViewport(r Rect)
	SetScissor(r Rect)
	DrawQuad(q Quad)
	EndRenderPass()
	Dispatch(d Dispatch)
	Submit() error
	// Discard drops everything recorded so far without submitting it.
	Discard()
}
