package cluster

import (
	"encoding/binary"
	"math/bits"
	"sync"

	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/parallel"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
)

func trailingZeros(m uint32) uint32 {
	return uint32(bits.TrailingZeros32(m))
}

// CPUBuilder culls on the worker pool and uploads the finished grid.
type CPUBuilder struct {
	backend gpu.Backend
	cfg     Config
	pool    *parallel.Pool
	ownPool bool

	image   gpu.Image
	staging gpu.Buffer
	list    gpu.Buffer
}

func NewCPUBuilder(backend gpu.Backend, cfg Config) *CPUBuilder {
	b := &CPUBuilder{backend: backend, cfg: cfg, pool: cfg.Pool}
	if b.pool == nil {
		b.pool = parallel.NewPool(0)
		b.ownPool = true
	}
	return b
}

// Compute runs the culling and returns the grid without touching the GPU.
// One task covers PrepassDownsample z-slices of one band.
func (b *CPUBuilder) Compute(in Input) *Grid {
	res := b.cfg.Resolution
	grid := newGrid(res, b.cfg.Encoding)
	if len(in.Spots) == 0 && len(in.Points) == 0 {
		return grid
	}

	state := newCullState(res, in)
	var listMu sync.Mutex

	group := b.pool.NewGroup()
	for band := uint32(0); band < Bands; band++ {
		for cz := uint32(0); cz < res[2]; cz += PrepassDownsample {
			task := &cullTask{state: state, grid: grid, band: band, cz: cz, listMu: &listMu}
			group.Enqueue(task.run)
		}
	}
	group.Flush()
	group.Wait()
	return grid
}

type cullTask struct {
	state  *cullState
	grid   *Grid
	band   uint32
	cz     uint32
	listMu *sync.Mutex

	list    []uint32
	touched []int
	cached  Mask
	cache   Node
	hasNode bool
}

func (t *cullTask) run() {
	s := t.state
	res := s.res
	worldScale, zBias := bandScale(t.band)
	cubeRadius := s.radius * worldScale

	minX, maxX, minY, maxY := s.guard(t.cz, zBias)
	all := Mask{Spots: s.spotMask, Points: s.pointMask}
	zEnd := min(t.cz+PrepassDownsample, res[2])

	for by := minY - minY%PrepassDownsample; by < maxY; by += PrepassDownsample {
		for bx := minX - minX%PrepassDownsample; bx < maxX; bx += PrepassDownsample {
			center := s.cellCenter(bx, by, t.cz, PrepassDownsample, worldScale, zBias)
			coarse := s.clusterLights(center, cubeRadius*PrepassDownsample, all)
			if coarse.Empty() {
				// cells start zeroed
				continue
			}

			for z := t.cz; z < zEnd; z++ {
				for y := max(by, minY); y < min(by+PrepassDownsample, maxY); y++ {
					for x := max(bx, minX); x < min(bx+PrepassDownsample, maxX); x++ {
						c := s.cellCenter(x, y, z, 1, worldScale, zBias)
						m := s.clusterLights(c, cubeRadius, coarse)
						t.store(t.grid.index(x, y, z, t.band), m)
					}
				}
			}
		}
	}

	if t.grid.Encoding == EncodingCompact {
		t.publish()
	}
}

func (t *cullTask) store(idx int, m Mask) {
	if t.grid.Encoding == EncodingDense {
		t.grid.Cells[idx] = Node{m.Spots, m.Points, 0, 0}
		return
	}
	if m.Empty() {
		return
	}
	if !t.hasNode || m != t.cached {
		start := uint32(len(t.list))
		n := Node{start, 0, 0, 0}
		for s := m.Spots; s != 0; s &= s - 1 {
			t.list = append(t.list, trailingZeros(s))
		}
		n[1] = uint32(len(t.list)) - start
		n[2] = uint32(len(t.list))
		for p := m.Points; p != 0; p &= p - 1 {
			t.list = append(t.list, trailingZeros(p))
		}
		n[3] = uint32(len(t.list)) - n[2]
		t.cache, t.cached, t.hasNode = n, m, true
	}
	t.grid.Cells[idx] = t.cache
	t.touched = append(t.touched, idx)
}

// publish appends the task-local list to the shared one and rebases the
// starts of every node this task wrote.
func (t *cullTask) publish() {
	if len(t.list) == 0 {
		return
	}
	t.listMu.Lock()
	offset := uint32(len(t.grid.List))
	t.grid.List = append(t.grid.List, t.list...)
	t.listMu.Unlock()

	for _, idx := range t.touched {
		t.grid.Cells[idx][0] += offset
		t.grid.Cells[idx][2] += offset
	}
}

// Build computes the grid and records its upload into the cluster image.
func (b *CPUBuilder) Build(rec gpu.Recorder, in Input) (Output, error) {
	grid := b.Compute(in)
	res := b.cfg.Resolution

	b.releaseBuffers()
	if b.image == nil {
		b.image = b.backend.CreateImage(gpu.ImageDesc{
			Label:     "cluster-volume",
			Width:     res[0],
			Height:    res[1],
			Depth:     res[2] * Bands,
			Dimension: gpu.Dim3D,
			Format:    gpu.FormatRGBA32Uint,
			Usage:     gpu.UsageStorage | gpu.UsageSampled,
		})
	}
	b.staging = b.backend.CreateBuffer("cluster-staging", grid.Bytes())

	uniforms := make([]byte, 16)
	binary.LittleEndian.PutUint32(uniforms[0:], res[0])
	binary.LittleEndian.PutUint32(uniforms[4:], res[1])
	binary.LittleEndian.PutUint32(uniforms[8:], res[0])
	binary.LittleEndian.PutUint32(uniforms[12:], res[0]*res[1])

	rec.Transition(gpu.Transition{
		Barrier: gpu.Barrier{
			SyncBefore:  gpu.SyncFragmentShader,
			SyncAfter:   gpu.SyncCompute,
			AccessAfter: gpu.AccessShaderWrite,
		},
		Image:        b.image,
		LayoutBefore: gpu.LayoutUndefined,
		LayoutAfter:  gpu.LayoutGeneral,
	})
	rec.Dispatch(gpu.Dispatch{
		Label:    "cluster-upload",
		Kernel:   shaders.KernelCopyBufferToImage3D,
		Storage:  b.image,
		Uniforms: uniforms,
		Buffers:  []gpu.Buffer{b.staging},
		Groups:   [3]uint32{(res[0] + 7) / 8, (res[1] + 7) / 8, res[2] * Bands},
	})
	rec.Transition(gpu.Transition{
		Barrier: gpu.Barrier{
			SyncBefore:   gpu.SyncCompute,
			SyncAfter:    gpu.SyncFragmentShader,
			AccessBefore: gpu.AccessShaderWrite,
			AccessAfter:  gpu.AccessShaderRead,
		},
		Image:        b.image,
		LayoutBefore: gpu.LayoutGeneral,
		LayoutAfter:  gpu.LayoutShaderRead,
	})

	out := Output{Image: b.image}
	if b.cfg.Encoding == EncodingCompact {
		b.list = b.backend.CreateBuffer("cluster-list", grid.ListBytes())
		out.List = b.list
	}
	return out, nil
}

// releaseBuffers drops last frame's uploads; the frame that used them has completed.
func (b *CPUBuilder) releaseBuffers() {
	if b.staging != nil {
		b.staging.Release()
		b.staging = nil
	}
	if b.list != nil {
		b.list.Release()
		b.list = nil
	}
}

func (b *CPUBuilder) Release() {
	b.releaseBuffers()
	if b.image != nil {
		b.image.Release()
		b.image = nil
	}
	if b.ownPool {
		b.pool.Close()
		b.ownPool = false
	}
}
