package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func project(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	return mgl32.TransformCoordinate(p, m)
}

func TestOrthoBox(t *testing.T) {
	box := AABB{Min: mgl32.Vec3{-4, -2, -50}, Max: mgl32.Vec3{4, 2, 0}}
	m := OrthoBox(box)

	tests := []struct {
		name string
		in   mgl32.Vec3
		want mgl32.Vec3
	}{
		{"min corner", mgl32.Vec3{-4, -2, -50}, mgl32.Vec3{-1, -1, 1}},
		{"max corner", mgl32.Vec3{4, 2, 0}, mgl32.Vec3{1, 1, 0}},
		{"center", mgl32.Vec3{0, 0, -25}, mgl32.Vec3{0, 0, 0.5}},
	}
	for _, tc := range tests {
		got := project(m, tc.in)
		if got.Sub(tc.want).Len() > 1e-5 {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLookAtArbitraryUp(t *testing.T) {
	dirs := []mgl32.Vec3{
		{1, 0, 0},
		{0, -1, 0},
		{0.3, 0.4, -0.5},
		{0, 0, -1},
		{0.1, 0, 1},
	}
	for _, d := range dirs {
		got := LookAtArbitraryUp(d).Rotate(d.Normalize())
		assert.InDelta(t, 0, got.Sub(mgl32.Vec3{0, 0, -1}).Len(), 1e-4, "dir %v rotated to %v", d, got)
	}
}

func TestCubeRenderTransformFacesCenter(t *testing.T) {
	center := mgl32.Vec3{3, -2, 7}
	for face := 0; face < 6; face++ {
		proj, view := CubeRenderTransform(center, face, 0.05, 10)
		p := center.Add(cubeFaceDirs[face].Mul(5))
		clip := proj.Mul4(view).Mul4x1(p.Vec4(1))

		assert.Greater(t, clip.W(), float32(0), "face %d: point behind camera", face)
		ndc := clip.Vec3().Mul(1 / clip.W())
		assert.InDelta(t, 0, ndc.X(), 1e-4, "face %d", face)
		assert.InDelta(t, 0, ndc.Y(), 1e-4, "face %d", face)
		assert.True(t, ndc.Z() > -1 && ndc.Z() < 1, "face %d depth %v", face, ndc.Z())
	}
}

func TestCubeRenderTransformMirrorsX(t *testing.T) {
	proj, _ := CubeRenderTransform(mgl32.Vec3{}, 0, 0.05, 10)
	plain := Projection(mgl32.DegToRad(90), 1, 0.05, 10)
	assert.InDelta(t, -plain[0], proj[0], 1e-6)
	assert.InDelta(t, plain[5], proj[5], 1e-6)
}

func TestSpotAtlasTransform(t *testing.T) {
	pos := mgl32.Vec3{1, 5, 2}
	dir := mgl32.Vec3{0, -1, 0}
	proj, view := SpotShadowCamera(pos, dir, 0.5, 20)

	tests := []struct {
		slot   uint8
		tileX  uint32
		tileY  uint32
		center [2]float32
	}{
		{0, 0, 0, [2]float32{0.5 / 8, 0.5 / 4}},
		{9, 1, 1, [2]float32{1.5 / 8, 1.5 / 4}},
		{31, 7, 3, [2]float32{7.5 / 8, 3.5 / 4}},
	}
	for _, tc := range tests {
		x, y := SpotAtlasTile(tc.slot)
		assert.Equal(t, tc.tileX, x)
		assert.Equal(t, tc.tileY, y)

		m := SpotAtlasTransform(tc.slot, proj, view)
		uv := project(m, pos.Add(dir.Mul(10)))
		assert.InDelta(t, tc.center[0], uv.X(), 1e-4, "slot %d", tc.slot)
		assert.InDelta(t, tc.center[1], uv.Y(), 1e-4, "slot %d", tc.slot)
	}
}
