package lights

import (
	"iter"
	"slices"
	"testing"

	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCamera() core.RenderParameters {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return core.NewRenderParameters(view, proj, 0.1, 100)
}

func scene(instances ...Instance) iter.Seq[Instance] {
	return slices.Values(instances)
}

func at(l *Light, x, y, z float32) Instance {
	return Instance{Light: l, World: mgl32.Translate3D(x, y, z)}
}

func TestCollectSeparatesKindsInOrder(t *testing.T) {
	s1 := NewSpotLight(WithRange(5))
	p1 := NewPointLight(WithRange(5))
	s2 := NewSpotLight(WithRange(5))
	behind := NewPointLight(WithRange(1))

	spots, points := NewSpotSet(), NewPointSet()
	c := Collector{MaxSpots: MaxLights, MaxPoints: MaxLights}
	res := c.Collect(scene(
		at(s1, 0, 0, -10),
		at(p1, 1, 0, -20),
		at(behind, 0, 0, 50),
		at(s2, -1, 0, -30),
	), testCamera().Frustum(), spots, points)

	require.Equal(t, 2, spots.Count)
	require.Equal(t, 1, points.Count)
	assert.Same(t, s1, spots.Handles[0])
	assert.Same(t, s2, spots.Handles[1])
	assert.Same(t, p1, points.Handles[0])
	assert.InDelta(t, -30, spots.Lights[1].Position.Z(), 1e-5)
	assert.Len(t, res.Visible, 3)
	assert.Zero(t, res.DroppedPoints)
}

func TestCollectCapacity(t *testing.T) {
	var insts []Instance
	for i := 0; i < 40; i++ {
		insts = append(insts, at(NewPointLight(WithRange(2)), 0, 0, -float32(5+i)))
		insts = append(insts, at(NewSpotLight(WithRange(2)), 0, 0, -float32(5+i)))
	}

	tests := []struct {
		name      string
		maxSpots  int
		maxPoints int
		wantSpots int
		wantPts   int
	}{
		{"default cap", MaxLights, MaxLights, 32, 32},
		{"configured cap", 4, 7, 4, 7},
		{"cap above limit", 100, 100, 32, 32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spots, points := NewSpotSet(), NewPointSet()
			res := Collector{MaxSpots: tc.maxSpots, MaxPoints: tc.maxPoints}.
				Collect(scene(insts...), testCamera().Frustum(), spots, points)

			assert.Equal(t, tc.wantSpots, spots.Count)
			assert.Equal(t, tc.wantPts, points.Count)
			assert.Equal(t, 40-tc.wantSpots, res.DroppedSpots)
			assert.Equal(t, 40-tc.wantPts, res.DroppedPoints)
			// First-N in iteration order: the nearest lights win.
			assert.InDelta(t, -5, points.Lights[0].Position.Z(), 1e-5)
		})
	}
}

func TestCollectResetsPreviousFrame(t *testing.T) {
	spots, points := NewSpotSet(), NewPointSet()
	c := Collector{MaxSpots: MaxLights, MaxPoints: MaxLights}
	c.Collect(scene(at(NewPointLight(), 0, 0, -5)), testCamera().Frustum(), spots, points)
	require.Equal(t, 1, points.Count)

	c.Collect(scene(), testCamera().Frustum(), spots, points)
	assert.Zero(t, points.Count)
	assert.Nil(t, points.Handles[0])
}

func TestClusterTransform(t *testing.T) {
	params := testCamera()

	zero := ClusterTransform(params, false)
	assert.Equal(t, mgl32.Scale3D(0, 0, 0), zero)
	got := mgl32.TransformCoordinate(mgl32.Vec3{3, 4, -5}, zero)
	assert.Equal(t, mgl32.Vec3{0, 0, 0}, got)

	m := ClusterTransform(params, true)
	tests := []struct {
		name  string
		world mgl32.Vec3
		want  mgl32.Vec3
	}{
		{"eye", mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 0}},
		{"far center", mgl32.Vec3{0, 0, -100}, mgl32.Vec3{0, 0, 128}},
		{"far corner", mgl32.Vec3{-100, -100, -100}, mgl32.Vec3{-128, -128, 128}},
		{"mid depth", mgl32.Vec3{0, 0, -50}, mgl32.Vec3{0, 0, 64}},
	}
	for _, tc := range tests {
		got := mgl32.TransformCoordinate(tc.world, m)
		assert.InDelta(t, 0, got.Sub(tc.want).Len(), 1e-2, "%s: got %v want %v", tc.name, got, tc.want)
	}
}
