package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// RenderParameters is the per-frame camera snapshot the light subsystem consumes.
type RenderParameters struct {
	View          mgl32.Mat4
	Projection    mgl32.Mat4
	InvProjection mgl32.Mat4
	ViewProj      mgl32.Mat4
	Position      mgl32.Vec3
	ZNear         float32
	ZFar          float32
}

func NewRenderParameters(view, proj mgl32.Mat4, znear, zfar float32) RenderParameters {
	invView := view.Inv()
	return RenderParameters{
		View:          view,
		Projection:    proj,
		InvProjection: proj.Inv(),
		ViewProj:      proj.Mul4(view),
		Position:      invView.Col(3).Vec3(),
		ZNear:         znear,
		ZFar:          zfar,
	}
}

func (p RenderParameters) Frustum() Frustum {
	return ExtractFrustum(p.ViewProj)
}

// CameraState is a Y-up orbit camera used by the demos.
type CameraState struct {
	Target   mgl32.Vec3
	Distance float32
	Yaw      float32
	Pitch    float32
	FovY     float32
	ZNear    float32
	ZFar     float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Target:   mgl32.Vec3{0, 0, 0},
		Distance: 30,
		Yaw:      0,
		Pitch:    0.4,
		FovY:     mgl32.DegToRad(60),
		ZNear:    0.1,
		ZFar:     200,
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(-math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Sin(float64(c.Pitch))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	eye := c.Target.Sub(c.GetForward().Mul(c.Distance))
	return mgl32.LookAtV(eye, c.Target, mgl32.Vec3{0, 1, 0})
}

func (c *CameraState) RenderParameters(aspect float32) RenderParameters {
	proj := mgl32.Perspective(c.FovY, aspect, c.ZNear, c.ZFar)
	return NewRenderParameters(c.GetViewMatrix(), proj, c.ZNear, c.ZFar)
}
