package lights

import (
	"math"
	"sync/atomic"

	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// MaxLights bounds each light kind; masks are 32 bits wide.
const MaxLights = 32

type Kind uint8

const (
	KindSpot Kind = iota
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindSpot:
		return "spot"
	case KindPoint:
		return "point"
	}
	return "unknown"
}

var cookieCounter atomic.Uint32

func nextCookie() uint32 {
	for {
		c := cookieCounter.Add(1)
		if c != 0 {
			return c
		}
	}
}

// Light is a positional light owned by the scene.
// InnerCone and OuterCone are cosines of the spot half angles, InnerCone >= OuterCone.
type Light struct {
	ID        uuid.UUID
	Kind      Kind
	Color     mgl32.Vec3
	Range     float32
	InnerCone float32
	OuterCone float32

	cookie uint32
}

type Option func(*Light)

func WithColor(color mgl32.Vec3) Option {
	return func(l *Light) { l.Color = color }
}

func WithRange(r float32) Option {
	return func(l *Light) { l.Range = r }
}

// WithCone sets the spot cone from cosines of the inner and outer half angles.
func WithCone(inner, outer float32) Option {
	return func(l *Light) {
		l.InnerCone = clampCone(inner)
		l.OuterCone = clampCone(outer)
	}
}

func WithID(id uuid.UUID) Option {
	return func(l *Light) { l.ID = id }
}

func clampCone(c float32) float32 {
	return mgl32.Clamp(c, 0.001, 1)
}

func newLight(kind Kind, opts []Option) *Light {
	l := &Light{
		ID:        uuid.New(),
		Kind:      kind,
		Color:     mgl32.Vec3{1, 1, 1},
		Range:     100,
		InnerCone: 0.45,
		OuterCone: 0.4,
		cookie:    nextCookie(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func NewSpotLight(opts ...Option) *Light {
	return newLight(KindSpot, opts)
}

func NewPointLight(opts ...Option) *Light {
	return newLight(KindPoint, opts)
}

// Cookie identifies this light instance across frames. It is never zero.
func (l *Light) Cookie() uint32 {
	return l.cookie
}

// XYRange is the outer half angle of a spot cone in radians.
func (l *Light) XYRange() float32 {
	return float32(math.Acos(float64(l.OuterCone)))
}

func (l *Light) ShaderInfo(world mgl32.Mat4) FragmentInfo {
	info := FragmentInfo{
		Color:     l.Color,
		Position:  world.Col(3).Vec3(),
		Direction: world.Col(2).Vec3().Mul(-1).Normalize(),
		InvRadius: 1 / l.Range,
	}
	if l.Kind == KindSpot {
		info.SpotScale = 1 / float32(math.Max(0.001, float64(l.InnerCone-l.OuterCone)))
		info.SpotBias = -l.OuterCone * info.SpotScale
	}
	return info
}

// Bounds returns the world-space box used for frustum culling.
func (l *Light) Bounds(world mgl32.Mat4) core.AABB {
	if l.Kind == KindPoint {
		c := world.Col(3).Vec3()
		r := mgl32.Vec3{l.Range, l.Range, l.Range}
		return core.AABB{Min: c.Sub(r), Max: c.Add(r)}
	}

	lateral := l.Range * float32(math.Sin(float64(l.XYRange())))
	local := core.AABB{
		Min: mgl32.Vec3{-lateral, -lateral, -l.Range},
		Max: mgl32.Vec3{lateral, lateral, 0},
	}
	return local.Transform(world)
}
