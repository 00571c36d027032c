package cluster

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// cullState is shared by every task of one CPU build.
type cullState struct {
	res       [3]uint32
	invT      mgl32.Mat4
	invRes    mgl32.Vec3
	radius    float32
	spots     []SpotVolume
	points    []PointVolume
	spotMask  uint32
	pointMask uint32
}

func newCullState(res [3]uint32, in Input) *cullState {
	invRes := mgl32.Vec3{1 / float32(res[0]), 1 / float32(res[1]), 1 / float32(res[2])}
	invT := in.Transform.Inv()
	return &cullState{
		res:       res,
		invT:      invT,
		invRes:    invRes,
		radius:    voxelRadius(invT, invRes),
		spots:     in.Spots,
		points:    in.Points,
		spotMask:  in.spotMask(),
		pointMask: in.pointMask(),
	}
}

// voxelRadius is half the world-space diagonal of a band 0 cell.
func voxelRadius(invT mgl32.Mat4, invRes mgl32.Vec3) float32 {
	step := mgl32.Vec3{2 * invRes[0], 2 * invRes[1], 0.5 * invRes[2]}
	return 0.5 * invT.Mat3().Mul3x1(step).Len()
}

func bandScale(band uint32) (worldScale, zBias float32) {
	if band == 0 {
		return 1, 0
	}
	return float32(uint32(1) << (band - 1)), 0.5
}

// Sphere/cone test, https://bartwronski.com/2017/04/13/cull-that-cone/
func spotAffects(s SpotVolume, center mgl32.Vec3, radius float32) bool {
	v := center.Sub(s.Position)
	vSq := v.Dot(v)
	v1 := v.Dot(s.Direction)
	if v1 > radius+s.Size || -v1 > radius {
		return false
	}
	v2 := float32(math.Sqrt(math.Max(float64(vSq-v1*v1), 0)))
	return s.Cos*v2-s.Sin*v1 <= radius
}

func pointAffects(p PointVolume, center mgl32.Vec3, radius float32) bool {
	d := center.Sub(p.Position)
	cutoff := p.Size + radius
	return d.Dot(d) <= cutoff*cutoff
}

// cellCenter returns the world-space center of a block of scale^3 cells
// whose first cell is xyz.
func (s *cullState) cellCenter(x, y, z uint32, scale float32, worldScale, zBias float32) mgl32.Vec3 {
	half := 0.5 * scale
	view := mgl32.Vec3{
		2*(float32(x)+half)*s.invRes[0] - 1,
		2*(float32(y)+half)*s.invRes[1] - 1,
		0.5*(float32(z)+half)*s.invRes[2] + zBias,
	}.Mul(worldScale)
	return mgl32.TransformCoordinate(view, s.invT)
}

// clusterLights tests the candidate lights against a sphere.
func (s *cullState) clusterLights(center mgl32.Vec3, radius float32, candidates Mask) Mask {
	var out Mask
	for m := candidates.Spots; m != 0; m &= m - 1 {
		i := trailingZeros(m)
		if spotAffects(s.spots[i], center, radius) {
			out.Spots |= 1 << i
		}
	}
	for m := candidates.Points; m != 0; m &= m - 1 {
		i := trailingZeros(m)
		if pointAffects(s.points[i], center, radius) {
			out.Points |= 1 << i
		}
	}
	return out
}

// guardBand is the [lo, hi) cell range along an axis of size n that can
// intersect the view frustum at normalized depth rangeZ.
func guardBand(rangeZ float32, n uint32) (lo, hi uint32) {
	minF := math.Floor(float64((0.5 - 0.5*rangeZ) * float32(n)))
	maxF := math.Ceil(float64((0.5 + 0.5*rangeZ) * float32(n)))
	lo = uint32(max(minF, 0))
	hi = uint32(min(max(maxF, 0), float64(n)))
	return lo, hi
}

// guard bounds the cells of the slice group starting at cz.
func (s *cullState) guard(cz uint32, zBias float32) (minX, maxX, minY, maxY uint32) {
	rangeZ := zBias + 0.5*(float32(cz+PrepassDownsample)+0.5)*s.invRes[2]
	minX, maxX = guardBand(rangeZ, s.res[0])
	minY, maxY = guardBand(rangeZ, s.res[1])
	return minX, maxX, minY, maxY
}
