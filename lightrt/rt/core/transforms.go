package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var cubeFaceDirs = [6]mgl32.Vec3{
	{1, 0, 0},
	{-1, 0, 0},
	{0, 1, 0},
	{0, -1, 0},
	{0, 0, 1},
	{0, 0, -1},
}

var cubeFaceUps = [6]mgl32.Vec3{
	{0, 1, 0},
	{0, 1, 0},
	{0, 0, -1},
	{0, 0, 1},
	{0, 1, 0},
	{0, 1, 0},
}

// Projection is the perspective used for every shadow camera.
func Projection(fovy, aspect, znear, zfar float32) mgl32.Mat4 {
	return mgl32.Perspective(fovy, aspect, znear, zfar)
}

// OrthoBox maps a right-handed view-space box onto x,y in [-1, 1] and z in [0, 1],
// with view z = box.Max.Z landing on 0 and z = box.Min.Z on 1.
func OrthoBox(box AABB) mgl32.Mat4 {
	near := -box.Max.Z()
	far := -box.Min.Z()
	rx := box.Max.X() - box.Min.X()
	ry := box.Max.Y() - box.Min.Y()
	rz := far - near

	var m mgl32.Mat4
	m[0] = 2 / rx
	m[5] = 2 / ry
	m[10] = -1 / rz
	m[12] = -(box.Max.X() + box.Min.X()) / rx
	m[13] = -(box.Max.Y() + box.Min.Y()) / ry
	m[14] = -near / rz
	m[15] = 1
	return m
}

// LookAtArbitraryUp returns the rotation taking dir onto -Z.
func LookAtArbitraryUp(dir mgl32.Vec3) mgl32.Quat {
	return mgl32.QuatBetweenVectors(dir.Normalize(), mgl32.Vec3{0, 0, -1})
}

// CubeRenderTransform returns the camera for one face of a point light's cube map.
// The projection mirrors X so the rendered faces match cube-map sampling.
func CubeRenderTransform(center mgl32.Vec3, face int, znear, zfar float32) (proj, view mgl32.Mat4) {
	view = mgl32.LookAtV(mgl32.Vec3{}, cubeFaceDirs[face], cubeFaceUps[face]).
		Mul4(mgl32.Translate3D(-center.X(), -center.Y(), -center.Z()))
	proj = mgl32.Scale3D(-1, 1, 1).Mul4(Projection(0.5*math.Pi, 1, znear, zfar))
	return proj, view
}

// SpotAtlasGrid is the 8x4 tile layout of the spot shadow atlas.
const (
	SpotAtlasColumns = 8
	SpotAtlasRows    = 4
)

// SpotAtlasTile returns the tile column and row of a physical atlas slot.
func SpotAtlasTile(slot uint8) (x, y uint32) {
	return uint32(slot & 7), uint32(slot >> 3)
}

// SpotAtlasTransform carves the tile of slot out of the atlas and composes it
// with the light's projection and view.
func SpotAtlasTransform(slot uint8, proj, view mgl32.Mat4) mgl32.Mat4 {
	tx, ty := SpotAtlasTile(slot)
	tile := mgl32.Translate3D(float32(tx)/SpotAtlasColumns, float32(ty)/SpotAtlasRows, 0).
		Mul4(mgl32.Scale3D(1.0/SpotAtlasColumns, 1.0/SpotAtlasRows, 1)).
		Mul4(mgl32.Translate3D(0.5, 0.5, 0)).
		Mul4(mgl32.Scale3D(0.5, 0.5, 1))
	return tile.Mul4(proj).Mul4(view)
}

// SpotShadowCamera returns the projection and view used to render a spot light.
// The tangent of the cone's half angle, doubled, is passed as the field of view.
func SpotShadowCamera(position, direction mgl32.Vec3, xyRange, lightRange float32) (proj, view mgl32.Mat4) {
	view = LookAtArbitraryUp(direction).Mat4().
		Mul4(mgl32.Translate3D(-position.X(), -position.Y(), -position.Z()))
	fov := float32(math.Tan(float64(xyRange))) * 2
	proj = Projection(fov, 1, 0.005*lightRange, lightRange)
	return proj, view
}
