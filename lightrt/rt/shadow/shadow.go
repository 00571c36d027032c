// Package shadow keeps the spot and point shadow atlases up to date.
package shadow

import (
	"errors"

	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/go-gl/mathgl/mgl32"
)

var ErrResolution = errors.New("shadow: resolution must be a power of two of at least 2")

type Type uint8

const (
	TypePCF Type = iota
	TypeVSM
)

func (t Type) String() string {
	if t == TypeVSM {
		return "vsm"
	}
	return "pcf"
}

// Format is the atlas texel format of the shadow type.
func (t Type) Format() gpu.Format {
	if t == TypeVSM {
		return gpu.FormatRG32Float
	}
	return gpu.FormatD16
}

type Flags uint8

const (
	FlagFrontFaceClockwise Flags = 1 << iota
	FlagDepthBias
)

// DepthView is one shadow camera the scene must draw its casters for.
// In VSM mode casters write (depth, depth^2) of linear view depth, clamped to ZFar.
type DepthView struct {
	Proj    mgl32.Mat4
	View    mgl32.Mat4
	Frustum core.Frustum
	ZFar    float32
	VSM     bool
	Samples uint32
	Flags   Flags
}

// DepthRenderer draws shadow casters into the current render pass.
type DepthRenderer interface {
	RenderDepth(rec gpu.Recorder, v DepthView)
}

type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type Config struct {
	Resolution uint32
	Type       Type
	VSMSamples uint32
	Logger     Logger
}

func (c Config) Validate() error {
	if c.Resolution < 2 || c.Resolution&(c.Resolution-1) != 0 {
		return ErrResolution
	}
	return nil
}

// Result reports one atlas update. Updates holds the shadow info of every
// active light whose slot changed or was re-rendered, plus lights reused as is.
type Result[T any] struct {
	Mask     uint32
	Updates  []lights.ShadowInfo[T]
	Rendered bool
}
