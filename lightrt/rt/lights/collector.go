package lights

import (
	"iter"

	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
)

// ClusterHierarchies is the number of scaled depth bands past band 0.
const ClusterHierarchies = 8

// Instance pairs a scene light with its world transform.
type Instance struct {
	Light *Light
	World mgl32.Mat4
}

// Collector frustum-culls scene lights into the spot and point sets.
type Collector struct {
	MaxSpots  int
	MaxPoints int
}

// Collection summarises one Collect call.
type Collection struct {
	// Visible lists every light that survived culling, including those
	// dropped past the cap. Their shadow info is stale until reassigned.
	Visible       []*Light
	DroppedSpots  int
	DroppedPoints int
}

// Collect rebuilds the per-frame part of both sets. Lights past the cap are
// dropped in scene iteration order.
func (c Collector) Collect(scene iter.Seq[Instance], frustum core.Frustum, spots *SpotSet, points *PointSet) Collection {
	spots.clearFrame()
	points.clearFrame()

	var out Collection
	maxSpots := min(c.MaxSpots, MaxLights)
	maxPoints := min(c.MaxPoints, MaxLights)

	for inst := range scene {
		l := inst.Light
		if l == nil {
			continue
		}
		if !frustum.Intersects(l.Bounds(inst.World)) {
			continue
		}
		out.Visible = append(out.Visible, l)

		switch l.Kind {
		case KindSpot:
			if spots.Count < maxSpots {
				spots.push(l, l.ShaderInfo(inst.World))
			} else {
				out.DroppedSpots++
			}
		case KindPoint:
			if points.Count < maxPoints {
				points.push(l, l.ShaderInfo(inst.World))
			} else {
				out.DroppedPoints++
			}
		}
	}
	return out
}

// ClusterTransform maps view space into cluster-grid space. The grid box is
// fitted to the far-plane corners with its near face pinned to the eye, then
// scaled so the last band reaches the far plane. With no active lights it
// collapses to zero scale.
func ClusterTransform(params core.RenderParameters, active bool) mgl32.Mat4 {
	if !active {
		return mgl32.Scale3D(0, 0, 0)
	}

	box := core.EmptyAABB()
	for _, xy := range [4][2]float32{{-1, -1}, {-1, 1}, {1, -1}, {1, 1}} {
		v := params.InvProjection.Mul4x1(mgl32.Vec4{xy[0], xy[1], 1, 1})
		box = box.Extend(v.Vec3().Mul(1 / v.W()))
	}
	box.Max[2] = 0

	s := float32(uint32(1) << (ClusterHierarchies - 1))
	return mgl32.Scale3D(s, s, s).Mul4(core.OrthoBox(box)).Mul4(params.View)
}
