// Package cluster builds the 3D light-mask grid consumed by clustered shading.
package cluster

import (
	"errors"
	"math"

	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/gekko3d/clusterer/lightrt/rt/parallel"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	Hierarchies       = lights.ClusterHierarchies
	Bands             = Hierarchies + 1
	PrepassDownsample = 4
	MaxLights         = lights.MaxLights
)

var (
	ErrResolution  = errors.New("cluster: invalid grid resolution")
	ErrUnsupported = errors.New("cluster: encoding not supported by strategy")
)

type Strategy uint8

const (
	StrategyGPU Strategy = iota
	StrategyCPU
)

func (s Strategy) String() string {
	if s == StrategyCPU {
		return "cpu"
	}
	return "gpu"
}

type Encoding uint8

const (
	EncodingDense Encoding = iota
	EncodingCompact
)

func (e Encoding) String() string {
	if e == EncodingCompact {
		return "compact"
	}
	return "dense"
}

// Logger receives advisory messages. A nil Logger discards them.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// SpotVolume is the culling shape of a spot light. Cos and Sin are of the
// outer half angle; Size is the cutoff range.
type SpotVolume struct {
	Position  mgl32.Vec3
	Direction mgl32.Vec3
	Size      float32
	Cos       float32
	Sin       float32
}

type PointVolume struct {
	Position mgl32.Vec3
	Size     float32
}

// Input is one frame of clustering work.
type Input struct {
	Transform mgl32.Mat4
	Spots     []SpotVolume
	Points    []PointVolume
}

// NewInput gathers the culling volumes of the lights collected this frame.
func NewInput(transform mgl32.Mat4, spots *lights.SpotSet, points *lights.PointSet) Input {
	in := Input{Transform: transform}
	for i, info := range spots.Active() {
		v := SpotVolume{
			Position:  info.Position,
			Direction: info.Direction,
			Size:      info.Size(),
		}
		if h := spots.Handles[i]; h != nil {
			xy := float64(h.XYRange())
			v.Cos = float32(math.Cos(xy))
			v.Sin = float32(math.Sin(xy))
		}
		in.Spots = append(in.Spots, v)
	}
	for _, info := range points.Active() {
		in.Points = append(in.Points, PointVolume{Position: info.Position, Size: info.Size()})
	}
	return in
}

func (in Input) spotMask() uint32 {
	return countMask(len(in.Spots))
}

func (in Input) pointMask() uint32 {
	return countMask(len(in.Points))
}

func countMask(n int) uint32 {
	return uint32((uint64(1) << uint(min(n, MaxLights))) - 1)
}

// Output is what the shading stage reads. List is set only in compact encoding.
type Output struct {
	Image gpu.Image
	List  gpu.Buffer
}

// Builder records the work that fills the cluster grid.
type Builder interface {
	Build(rec gpu.Recorder, in Input) (Output, error)
	Release()
}

// Config is resolved once when a builder is created.
type Config struct {
	Resolution [3]uint32
	Encoding   Encoding
	Pool       *parallel.Pool
	Logger     Logger
}

// ValidateResolution checks grid dimensions. Every axis must be a multiple
// of PrepassDownsample and the depth axis a power of two, whichever strategy
// builds the grid.
func ValidateResolution(res [3]uint32) error {
	if res[0] == 0 || res[1] == 0 || res[2] == 0 {
		return ErrResolution
	}
	if res[2]&(res[2]-1) != 0 {
		return ErrResolution
	}
	for _, n := range res {
		if n%PrepassDownsample != 0 {
			return ErrResolution
		}
	}
	return nil
}

// NewBuilder picks the implementation for s.
func NewBuilder(backend gpu.Backend, s Strategy, cfg Config) (Builder, error) {
	if err := ValidateResolution(cfg.Resolution); err != nil {
		return nil, err
	}
	switch s {
	case StrategyCPU:
		return NewCPUBuilder(backend, cfg), nil
	default:
		if cfg.Encoding == EncodingCompact {
			return nil, ErrUnsupported
		}
		return NewGPUBuilder(backend, cfg), nil
	}
}
