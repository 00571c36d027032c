package lights

import "github.com/go-gl/mathgl/mgl32"

// ParametersSize is the byte size of the std140 block consumed by shading:
// cluster transform, 32 spot infos, 32 point infos, 32 spot matrices and
// 32 point transforms.
const ParametersSize = 64 + MaxLights*FragmentInfoSize*2 + MaxLights*64 + MaxLights*PointTransformSize

// PackParameters lays out the shading parameter block. Entries past each
// set's Count are zero.
func PackParameters(clusterTransform mgl32.Mat4, spots *SpotSet, points *PointSet) []byte {
	buf := make([]byte, ParametersSize)
	MarshalMat4(buf, clusterTransform)

	off := 64
	for i := 0; i < spots.Count; i++ {
		spots.Lights[i].Marshal(buf[off+i*FragmentInfoSize:])
	}
	off += MaxLights * FragmentInfoSize
	for i := 0; i < points.Count; i++ {
		points.Lights[i].Marshal(buf[off+i*FragmentInfoSize:])
	}
	off += MaxLights * FragmentInfoSize
	for i := 0; i < spots.Count; i++ {
		MarshalMat4(buf[off+i*64:], spots.Transforms[i])
	}
	off += MaxLights * 64
	for i := 0; i < points.Count; i++ {
		points.Transforms[i].Marshal(buf[off+i*PointTransformSize:])
	}
	return buf
}
