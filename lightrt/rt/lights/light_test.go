package lights

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookiesAreUniqueAndNonZero(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 100; i++ {
		l := NewPointLight()
		require.NotZero(t, l.Cookie())
		require.False(t, seen[l.Cookie()], "cookie %d reused", l.Cookie())
		seen[l.Cookie()] = true
	}
}

func TestSpotShaderInfo(t *testing.T) {
	l := NewSpotLight(WithRange(20), WithCone(0.9, 0.8), WithColor(mgl32.Vec3{1, 0.5, 0}))
	world := mgl32.Translate3D(1, 2, 3).Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(-90)))

	info := l.ShaderInfo(world)
	assert.True(t, info.Position.ApproxEqual(mgl32.Vec3{1, 2, 3}))
	// -Z rotated -90 degrees about X points down.
	assert.InDelta(t, 0, info.Direction.Sub(mgl32.Vec3{0, -1, 0}).Len(), 1e-5, "direction %v", info.Direction)
	assert.InDelta(t, 0.05, info.InvRadius, 1e-6)
	assert.InDelta(t, 20, info.Size(), 1e-4)
	assert.InDelta(t, 10, info.SpotScale, 1e-3)
	assert.InDelta(t, -8, info.SpotBias, 1e-3)
	assert.InDelta(t, math.Acos(0.8), l.XYRange(), 1e-6)
}

func TestLightBounds(t *testing.T) {
	p := NewPointLight(WithRange(5))
	box := p.Bounds(mgl32.Translate3D(10, 0, 0))
	assert.True(t, box.Min.ApproxEqual(mgl32.Vec3{5, -5, -5}))
	assert.True(t, box.Max.ApproxEqual(mgl32.Vec3{15, 5, 5}))

	s := NewSpotLight(WithRange(10), WithCone(0.95, 0.9))
	box = s.Bounds(mgl32.Ident4())
	lateral := float32(10 * math.Sin(math.Acos(0.9)))
	assert.InDelta(t, -10, box.Min.Z(), 1e-5)
	assert.InDelta(t, 0, box.Max.Z(), 1e-5)
	assert.InDelta(t, lateral, box.Max.X(), 1e-4)
	assert.InDelta(t, -lateral, box.Min.Y(), 1e-4)
}

func TestPackParameters(t *testing.T) {
	spots := NewSpotSet()
	points := NewPointSet()
	l := NewSpotLight(WithRange(4))
	spots.push(l, l.ShaderInfo(mgl32.Translate3D(7, 0, 0)))
	spots.Transforms[0] = mgl32.Ident4()

	buf := PackParameters(mgl32.Scale3D(2, 2, 2), spots, points)
	require.Len(t, buf, ParametersSize)

	f32 := func(off int) float32 {
		return math.Float32frombits(uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24)
	}
	assert.Equal(t, float32(2), f32(0))
	// First spot position.x sits after the matrix and the color/scale vec4.
	assert.Equal(t, float32(7), f32(64+16))
	assert.Equal(t, float32(0.25), f32(64+44))
	// Spot matrix block starts after both info arrays.
	assert.Equal(t, float32(1), f32(64+2*MaxLights*FragmentInfoSize))
	// Second spot entry is untouched.
	assert.Equal(t, float32(0), f32(64+FragmentInfoSize+16))
}
