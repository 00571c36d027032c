package cluster

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu/gputest"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/gekko3d/clusterer/lightrt/rt/parallel"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRes = [3]uint32{16, 8, 8}

func testCamera() core.RenderParameters {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return core.NewRenderParameters(view, proj, 0.1, 100)
}

func spotVolume(pos, dir mgl32.Vec3, size, halfAngle float32) SpotVolume {
	return SpotVolume{
		Position:  pos,
		Direction: dir.Normalize(),
		Size:      size,
		Cos:       float32(math.Cos(float64(halfAngle))),
		Sin:       float32(math.Sin(float64(halfAngle))),
	}
}

func randomInput(seed int64, spots, points int) Input {
	r := rand.New(rand.NewSource(seed))
	in := Input{Transform: lights.ClusterTransform(testCamera(), true)}
	randPos := func() mgl32.Vec3 {
		z := -5 - r.Float32()*60
		return mgl32.Vec3{(r.Float32()*2 - 1) * -z * 0.8, (r.Float32()*2 - 1) * -z * 0.8, z}
	}
	for i := 0; i < spots; i++ {
		dir := mgl32.Vec3{r.Float32()*2 - 1, r.Float32()*2 - 1, r.Float32()*2 - 1}
		if dir.Len() < 0.1 {
			dir = mgl32.Vec3{0, 0, -1}
		}
		in.Spots = append(in.Spots, spotVolume(randPos(), dir, 2+r.Float32()*15, 0.2+r.Float32()))
	}
	for i := 0; i < points; i++ {
		in.Points = append(in.Points, PointVolume{Position: randPos(), Size: 1 + r.Float32()*10})
	}
	return in
}

func newTestCPU(t *testing.T, enc Encoding) *CPUBuilder {
	pool := parallel.NewPool(4)
	t.Cleanup(pool.Close)
	return NewCPUBuilder(gputest.NewBackend(), Config{Resolution: testRes, Encoding: enc, Pool: pool})
}

func forEachCell(res [3]uint32, fn func(x, y, z, band uint32)) {
	for band := uint32(0); band < Bands; band++ {
		for z := uint32(0); z < res[2]; z++ {
			for y := uint32(0); y < res[1]; y++ {
				for x := uint32(0); x < res[0]; x++ {
					fn(x, y, z, band)
				}
			}
		}
	}
}

func TestCPUCullingIsSound(t *testing.T) {
	for seed := int64(1); seed <= 3; seed++ {
		in := randomInput(seed, 12, 12)
		grid := newTestCPU(t, EncodingDense).Compute(in)
		state := newCullState(testRes, in)

		set := 0
		forEachCell(testRes, func(x, y, z, band uint32) {
			ws, bias := bandScale(band)
			center := state.cellCenter(x, y, z, 1, ws, bias)
			radius := state.radius * ws
			m := grid.Mask(x, y, z, band)
			set += m.Count()
			for s := m.Spots; s != 0; s &= s - 1 {
				i := trailingZeros(s)
				if !spotAffects(in.Spots[i], center, radius) {
					t.Fatalf("seed %d: spot %d marked in cell (%d,%d,%d,%d) it does not touch", seed, i, x, y, z, band)
				}
				// The cell sphere must straddle the slab between the apex
				// plane and the far cap plane.
				spot := in.Spots[i]
				along := center.Sub(spot.Position).Dot(spot.Direction)
				if along > spot.Size+radius+1e-3 || along < -radius-1e-3 {
					t.Fatalf("seed %d: spot %d marked in cell (%d,%d,%d,%d) outside its range", seed, i, x, y, z, band)
				}
			}
			for p := m.Points; p != 0; p &= p - 1 {
				i := trailingZeros(p)
				if !pointAffects(in.Points[i], center, radius) {
					t.Fatalf("seed %d: point %d marked in cell (%d,%d,%d,%d) it does not touch", seed, i, x, y, z, band)
				}
			}
		})
		assert.Positive(t, set, "seed %d produced an empty grid", seed)
	}
}

func TestCPUCullingKeepsPointsInsideGuardBand(t *testing.T) {
	in := randomInput(7, 0, 16)
	grid := newTestCPU(t, EncodingDense).Compute(in)
	state := newCullState(testRes, in)

	forEachCell(testRes, func(x, y, z, band uint32) {
		ws, bias := bandScale(band)
		minX, maxX, minY, maxY := state.guard(z-z%PrepassDownsample, bias)
		if x < minX || x >= maxX || y < minY || y >= maxY {
			assert.True(t, grid.Mask(x, y, z, band).Empty())
			return
		}
		center := state.cellCenter(x, y, z, 1, ws, bias)
		radius := state.radius * ws
		m := grid.Mask(x, y, z, band)
		for i, p := range in.Points {
			d := center.Sub(p.Position).Len()
			if d < p.Size+radius*0.5 {
				assert.NotZero(t, m.Points&(1<<i), "point %d missing from cell (%d,%d,%d,%d)", i, x, y, z, band)
			}
		}
	})
}

func TestCPUCullingKeepsSpotsInsideGuardBand(t *testing.T) {
	in := randomInput(5, 16, 0)
	grid := newTestCPU(t, EncodingDense).Compute(in)
	state := newCullState(testRes, in)

	hits := 0
	forEachCell(testRes, func(x, y, z, band uint32) {
		ws, bias := bandScale(band)
		minX, maxX, minY, maxY := state.guard(z-z%PrepassDownsample, bias)
		if x < minX || x >= maxX || y < minY || y >= maxY {
			return
		}
		center := state.cellCenter(x, y, z, 1, ws, bias)
		radius := state.radius * ws
		m := grid.Mask(x, y, z, band)
		for i, s := range in.Spots {
			if spotAffects(s, center, radius*0.999) {
				hits++
				assert.NotZero(t, m.Spots&(1<<i), "spot %d dropped by the tile test in cell (%d,%d,%d,%d)", i, x, y, z, band)
			}
		}
	})
	assert.Positive(t, hits)
}

func TestDenseAndCompactAgree(t *testing.T) {
	in := randomInput(11, 10, 10)
	dense := newTestCPU(t, EncodingDense).Compute(in)
	compact := newTestCPU(t, EncodingCompact).Compute(in)

	require.NotEmpty(t, compact.List)
	forEachCell(testRes, func(x, y, z, band uint32) {
		want := dense.Mask(x, y, z, band)
		got := compact.Mask(x, y, z, band)
		if want != got {
			t.Fatalf("cell (%d,%d,%d,%d): dense %+v compact %+v", x, y, z, band, want, got)
		}
	})
}

func TestCompactNodesPointIntoList(t *testing.T) {
	in := randomInput(5, 6, 6)
	grid := newTestCPU(t, EncodingCompact).Compute(in)
	n := uint32(len(grid.List))
	for _, node := range grid.Cells {
		assert.LessOrEqual(t, node[0]+node[1], n)
		assert.LessOrEqual(t, node[2]+node[3], n)
		if node[1] > 0 {
			assert.Equal(t, node[0]+node[1], node[2])
		}
	}
}

func TestZeroLightsLeavesGridEmpty(t *testing.T) {
	in := Input{Transform: lights.ClusterTransform(testCamera(), false)}
	grid := newTestCPU(t, EncodingCompact).Compute(in)
	for _, node := range grid.Cells {
		assert.Equal(t, Node{}, node)
	}
	assert.Empty(t, grid.List)
	assert.Len(t, grid.ListBytes(), 16)
}

func TestMaskDecodesCompactNode(t *testing.T) {
	g := newGrid([3]uint32{4, 4, 4}, EncodingCompact)
	g.List = []uint32{9, 3, 31, 0, 5}
	g.Cells[g.index(1, 2, 3, 4)] = Node{1, 2, 3, 2}

	m := g.Mask(1, 2, 3, 4)
	assert.Equal(t, uint32(1<<3|1<<31), m.Spots)
	assert.Equal(t, uint32(1<<0|1<<5), m.Points)
	assert.Equal(t, 4, m.Count())
	assert.True(t, g.Mask(0, 0, 0, 0).Empty())
}

func TestNewInputFromCollectedSets(t *testing.T) {
	spot := lights.NewSpotLight(lights.WithRange(8), lights.WithCone(0.9, 0.7))
	point := lights.NewPointLight(lights.WithRange(4))
	spots, points := lights.NewSpotSet(), lights.NewPointSet()
	cam := testCamera()
	lights.Collector{MaxSpots: 32, MaxPoints: 32}.Collect(func(yield func(lights.Instance) bool) {
		if !yield(lights.Instance{Light: spot, World: mgl32.Translate3D(0, 0, -10)}) {
			return
		}
		yield(lights.Instance{Light: point, World: mgl32.Translate3D(2, 0, -12)})
	}, cam.Frustum(), spots, points)

	in := NewInput(lights.ClusterTransform(cam, true), spots, points)
	require.Len(t, in.Spots, 1)
	require.Len(t, in.Points, 1)
	assert.InDelta(t, 0.7, in.Spots[0].Cos, 1e-5)
	assert.InDelta(t, math.Sqrt(1-0.49), in.Spots[0].Sin, 1e-5)
	assert.InDelta(t, 8, in.Spots[0].Size, 1e-4)
	assert.InDelta(t, -1, in.Spots[0].Direction.Z(), 1e-5)
	assert.InDelta(t, 4, in.Points[0].Size, 1e-4)
	assert.Equal(t, uint32(1), in.spotMask())
}

func TestValidateResolution(t *testing.T) {
	tests := []struct {
		name string
		res  [3]uint32
		ok   bool
	}{
		{"default", [3]uint32{64, 32, 16}, true},
		{"small", [3]uint32{4, 4, 4}, true},
		{"odd width", [3]uint32{30, 32, 16}, false},
		{"odd height", [3]uint32{64, 17, 16}, false},
		{"depth not power of two", [3]uint32{64, 32, 12}, false},
		{"depth below downsample", [3]uint32{64, 32, 2}, false},
		{"zero", [3]uint32{0, 32, 16}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResolution(tt.res)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrResolution)
			}
		})
	}
}

func TestNewBuilder(t *testing.T) {
	backend := gputest.NewBackend()
	cfg := Config{Resolution: [3]uint32{64, 32, 16}}

	b, err := NewBuilder(backend, StrategyGPU, cfg)
	require.NoError(t, err)
	assert.IsType(t, &GPUBuilder{}, b)

	b, err = NewBuilder(backend, StrategyCPU, cfg)
	require.NoError(t, err)
	assert.IsType(t, &CPUBuilder{}, b)
	b.Release()

	cfg.Encoding = EncodingCompact
	_, err = NewBuilder(backend, StrategyGPU, cfg)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestGPUBuildRecordsTwoPasses(t *testing.T) {
	backend := gputest.NewBackend()
	b := NewGPUBuilder(backend, Config{Resolution: testRes})
	in := randomInput(3, 2, 3)

	rec, err := backend.Begin("cluster")
	require.NoError(t, err)
	out, err := b.Build(rec, in)
	require.NoError(t, err)
	require.NoError(t, rec.Submit())
	require.Empty(t, backend.Errors)

	assert.Nil(t, out.List)
	desc := out.Image.Desc()
	assert.Equal(t, gpu.FormatRG32Uint, desc.Format)
	assert.Equal(t, testRes[2]*Bands, desc.Depth)
	assert.Equal(t, gpu.LayoutShaderRead, out.Image.Layout(0))

	ops := make([]gputest.Op, 0)
	for _, c := range backend.Commands() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []gputest.Op{
		gputest.OpTransition, gputest.OpTransition,
		gputest.OpDispatch,
		gputest.OpTransition,
		gputest.OpDispatch,
		gputest.OpTransition,
		gputest.OpSubmit,
	}, ops)

	dispatches := backend.Filter(gputest.OpDispatch)
	cull, inherit := dispatches[0].Dispatch, dispatches[1].Dispatch
	assert.Equal(t, shaders.KernelClusterCull, cull.Kernel)
	assert.Equal(t, [3]uint32{1, 1, Bands}, cull.Groups)
	assert.Nil(t, cull.Sampled)
	assert.Equal(t, shaders.KernelClusterInherit, inherit.Kernel)
	assert.Equal(t, [3]uint32{4, 2, 2 * Bands}, inherit.Groups)
	assert.Same(t, cull.Storage, inherit.Sampled)

	barrier := backend.Filter(gputest.OpTransition)[2].Transition
	assert.Equal(t, gpu.SyncCompute, barrier.SyncBefore)
	assert.Equal(t, gpu.SyncCompute, barrier.SyncAfter)
	assert.Same(t, cull.Storage, barrier.Image)

	require.Len(t, inherit.Uniforms, UniformSize)
	u32 := func(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
	assert.Equal(t, []uint32{16, 8, 8, 3}, []uint32{u32(inherit.Uniforms, 64), u32(inherit.Uniforms, 68), u32(inherit.Uniforms, 72), u32(inherit.Uniforms, 76)})
	assert.Equal(t, []uint32{4, 2, 2, 1}, []uint32{u32(cull.Uniforms, 64), u32(cull.Uniforms, 68), u32(cull.Uniforms, 72), u32(cull.Uniforms, 76)})
	assert.Equal(t, uint32(2), u32(inherit.Uniforms, 112))
	assert.Equal(t, uint32(3), u32(inherit.Uniforms, 116))

	b.Release()
	assert.Empty(t, backend.LiveImages())
}

func TestCPUBuildUploadsGrid(t *testing.T) {
	tests := []struct {
		name     string
		enc      Encoding
		in       Input
		wantList int
	}{
		{"dense", EncodingDense, randomInput(2, 3, 3), -1},
		{"compact", EncodingCompact, randomInput(2, 3, 3), 0},
		{"compact empty", EncodingCompact, Input{Transform: mgl32.Scale3D(0, 0, 0)}, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := gputest.NewBackend()
			b := NewCPUBuilder(backend, Config{Resolution: testRes, Encoding: tt.enc})
			defer b.Release()

			rec, _ := backend.Begin("cluster")
			out, err := b.Build(rec, tt.in)
			require.NoError(t, err)
			require.NoError(t, rec.Submit())
			require.Empty(t, backend.Errors)

			assert.Equal(t, gpu.FormatRGBA32Uint, out.Image.Desc().Format)
			dispatches := backend.Filter(gputest.OpDispatch)
			require.Len(t, dispatches, 1)
			d := dispatches[0].Dispatch
			assert.Equal(t, shaders.KernelCopyBufferToImage3D, d.Kernel)
			assert.Equal(t, [3]uint32{2, 1, 8 * Bands}, d.Groups)
			require.Len(t, d.Buffers, 1)
			assert.Equal(t, uint64(16*8*8*Bands*16), d.Buffers[0].Size())
			assert.Equal(t, uint32(16*8), binary.LittleEndian.Uint32(d.Uniforms[12:]))

			switch {
			case tt.wantList < 0:
				assert.Nil(t, out.List)
			case tt.wantList > 0:
				require.NotNil(t, out.List)
				assert.Equal(t, uint64(tt.wantList), out.List.Size())
			default:
				require.NotNil(t, out.List)
				assert.Positive(t, out.List.Size())
			}
		})
	}
}

func TestCPUBuildReleasesPreviousUploads(t *testing.T) {
	backend := gputest.NewBackend()
	b := NewCPUBuilder(backend, Config{Resolution: testRes, Encoding: EncodingCompact})
	defer b.Release()
	in := randomInput(4, 2, 2)

	for i := 0; i < 2; i++ {
		rec, _ := backend.Begin("cluster")
		_, err := b.Build(rec, in)
		require.NoError(t, err)
		require.NoError(t, rec.Submit())
	}
	require.Len(t, backend.Buffers, 4)
	assert.True(t, backend.Buffers[0].Released)
	assert.True(t, backend.Buffers[1].Released)
	assert.False(t, backend.Buffers[2].Released)
	assert.Len(t, backend.LiveImages(), 1)
}
