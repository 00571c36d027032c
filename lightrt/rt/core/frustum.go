package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned box in world or view space.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB returns an inverted box that any Extend call will overwrite.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func (b AABB) Extend(p mgl32.Vec3) AABB {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
	return b
}

func (b AABB) Corners() [8]mgl32.Vec3 {
	var c [8]mgl32.Vec3
	for i := 0; i < 8; i++ {
		for axis := 0; axis < 3; axis++ {
			if i&(1<<axis) != 0 {
				c[i][axis] = b.Max[axis]
			} else {
				c[i][axis] = b.Min[axis]
			}
		}
	}
	return c
}

// Transform returns the box enclosing all eight corners after applying m.
func (b AABB) Transform(m mgl32.Mat4) AABB {
	out := EmptyAABB()
	for _, c := range b.Corners() {
		out = out.Extend(mgl32.TransformCoordinate(c, m))
	}
	return out
}

// Frustum holds six inward-facing planes: Left, Right, Bottom, Top, Near, Far.
// Plane is Ax + By + Cz + D = 0.
type Frustum [6]mgl32.Vec4

// ExtractFrustum extracts the frustum planes from a view-projection matrix.
func ExtractFrustum(vp mgl32.Mat4) Frustum {
	var planes Frustum

	// Row 3 +/- Row 0, Row 1, Row 2 (OpenGL-style -1..1 clip volume).
	for axis := 0; axis < 3; axis++ {
		for side := 0; side < 2; side++ {
			sign := float32(1)
			if side == 1 {
				sign = -1
			}
			planes[axis*2+side] = mgl32.Vec4{
				vp.At(3, 0) + sign*vp.At(axis, 0),
				vp.At(3, 1) + sign*vp.At(axis, 1),
				vp.At(3, 2) + sign*vp.At(axis, 2),
				vp.At(3, 3) + sign*vp.At(axis, 3),
			}
		}
	}

	for i := range planes {
		length := planes[i].Vec3().Len()
		if length > 0 {
			planes[i] = planes[i].Mul(1.0 / length)
		}
	}

	return planes
}

// Intersects reports whether any part of the box lies inside the frustum.
// It is conservative: boxes near a frustum corner may pass.
func (f Frustum) Intersects(box AABB) bool {
	for _, plane := range f {
		// Most-inside corner along the plane normal; if it is still behind
		// the plane the whole box is outside.
		var p mgl32.Vec3
		for axis := 0; axis < 3; axis++ {
			if plane[axis] > 0 {
				p[axis] = box.Max[axis]
			} else {
				p[axis] = box.Min[axis]
			}
		}

		if plane.Vec3().Dot(p)+plane[3] < 0 {
			return false
		}
	}
	return true
}
