package lights

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// FragmentInfo is the shader-ready form of a light, 48 bytes in std140.
type FragmentInfo struct {
	Color     mgl32.Vec3
	SpotScale float32
	Position  mgl32.Vec3
	SpotBias  float32
	Direction mgl32.Vec3
	InvRadius float32
}

const FragmentInfoSize = 48

func (f FragmentInfo) Marshal(buf []byte) {
	putVec3(buf[0:], f.Color)
	putFloat(buf[12:], f.SpotScale)
	putVec3(buf[16:], f.Position)
	putFloat(buf[28:], f.SpotBias)
	putVec3(buf[32:], f.Direction)
	putFloat(buf[44:], f.InvRadius)
}

// Size is the light's cutoff range.
func (f FragmentInfo) Size() float32 {
	return 1 / f.InvRadius
}

// PointTransform holds the depth reconstruction terms of a point light's cube
// (proj[2].zw, proj[3].zw) and the physical cube slice in Slice.X.
type PointTransform struct {
	Transform mgl32.Vec4
	Slice     mgl32.Vec4
}

const PointTransformSize = 32

func (p PointTransform) Marshal(buf []byte) {
	for i := 0; i < 4; i++ {
		putFloat(buf[i*4:], p.Transform[i])
		putFloat(buf[16+i*4:], p.Slice[i])
	}
}

func MarshalMat4(buf []byte, m mgl32.Mat4) {
	for i, v := range m {
		putFloat(buf[i*4:], v)
	}
}

func putFloat(buf []byte, v float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
}

func putVec3(buf []byte, v mgl32.Vec3) {
	putFloat(buf[0:], v[0])
	putFloat(buf[4:], v[1])
	putFloat(buf[8:], v[2])
}

// Set is the per-kind positional light set. Lights, Handles and Count are
// rebuilt every frame; Cookie, Transforms and IndexRemap persist and describe
// atlas slots. T is the per-slot shadow transform.
type Set[T any] struct {
	Kind  Kind
	Count int

	Lights  [MaxLights]FragmentInfo
	Handles [MaxLights]*Light

	Cookie     [MaxLights]uint32
	Transforms [MaxLights]T
	IndexRemap [MaxLights]uint8
}

type SpotSet = Set[mgl32.Mat4]
type PointSet = Set[PointTransform]

func NewSet[T any](kind Kind) *Set[T] {
	s := &Set[T]{Kind: kind}
	for i := range s.IndexRemap {
		s.IndexRemap[i] = uint8(i)
	}
	return s
}

func NewSpotSet() *SpotSet {
	return NewSet[mgl32.Mat4](KindSpot)
}

func NewPointSet() *PointSet {
	return NewSet[PointTransform](KindPoint)
}

// Active returns the shader infos gathered this frame.
func (s *Set[T]) Active() []FragmentInfo {
	return s.Lights[:s.Count]
}

// ActiveTransforms returns the shadow transforms of the lights gathered this frame.
func (s *Set[T]) ActiveTransforms() []T {
	return s.Transforms[:s.Count]
}

// ActiveMask has one bit per light gathered this frame.
func (s *Set[T]) ActiveMask() uint32 {
	return uint32((uint64(1) << uint(s.Count)) - 1)
}

// ResetSlots forgets every atlas slot, e.g. after the atlas image is lost.
func (s *Set[T]) ResetSlots() {
	for i := range s.Cookie {
		s.Cookie[i] = 0
	}
}

func (s *Set[T]) clearFrame() {
	s.Count = 0
	for i := range s.Handles {
		s.Handles[i] = nil
	}
}

func (s *Set[T]) push(l *Light, info FragmentInfo) {
	s.Lights[s.Count] = info
	s.Handles[s.Count] = l
	s.Count++
}

func (s *Set[T]) swapSlots(i, j int) {
	s.Cookie[i], s.Cookie[j] = s.Cookie[j], s.Cookie[i]
	s.Transforms[i], s.Transforms[j] = s.Transforms[j], s.Transforms[i]
	s.IndexRemap[i], s.IndexRemap[j] = s.IndexRemap[j], s.IndexRemap[i]
}
