// Package clusterer keeps the light cluster grid and shadow atlases of a
// renderer up to date, one frame at a time.
//
// A frame is driven as Refresh followed by BuildClusters. Refresh collects the
// visible lights, reassigns atlas slots and re-renders stale shadows; it
// returns the per-light shadow records the scene should apply.
// BuildClusters fills the cluster grid for the lights of that Refresh.
package clusterer

import (
	"fmt"
	"iter"
	"math/bits"

	"github.com/gekko3d/clusterer/lightrt/rt/cluster"
	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/gekko3d/clusterer/lightrt/rt/parallel"
	"github.com/gekko3d/clusterer/lightrt/rt/shadow"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Frame is the scene input of one Refresh.
type Frame struct {
	Camera core.RenderParameters
	Lights iter.Seq[lights.Instance]
}

// ShadowInfo is the shadow state of one visible light. Lights without a
// usable shadow this frame have Valid false and a nil Atlas.
type ShadowInfo struct {
	LightID        uuid.UUID
	Light          *lights.Light
	Kind           lights.Kind
	Atlas          gpu.Image
	Slot           int
	SpotTransform  mgl32.Mat4
	PointTransform lights.PointTransform
	Valid          bool
}

// FrameResult lists a ShadowInfo for every light that passed frustum culling,
// in scene order, and the slots re-rendered this frame.
type FrameResult struct {
	Shadows   []ShadowInfo
	SpotMask  uint32
	PointMask uint32
}

type Clusterer struct {
	backend gpu.Backend
	cfg     Config
	logger  Logger
	depth   shadow.DepthRenderer

	pool    *parallel.Pool
	ownPool bool

	spots   *lights.SpotSet
	points  *lights.PointSet
	shadows *shadow.Renderer
	builder cluster.Builder
	output  cluster.Output

	transform mgl32.Mat4
	stats     *FrameStats
}

func New(backend gpu.Backend, cfg Config, opts ...Option) (*Clusterer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Clusterer{
		backend:   backend,
		cfg:       cfg,
		spots:     lights.NewSpotSet(),
		points:    lights.NewPointSet(),
		transform: mgl32.Scale3D(0, 0, 0),
		stats:     NewFrameStats(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NewNopLogger()
	}
	if cfg.EnableShadows && c.depth == nil {
		return nil, ErrNoDepthRenderer
	}
	if c.pool == nil && cfg.Strategy == StrategyCPU {
		c.pool = parallel.NewPool(cfg.Workers)
		c.ownPool = true
	}

	var err error
	if c.shadows, err = shadow.NewRenderer(backend, c.depth, cfg.shadowConfig(c.logger)); err != nil {
		return nil, err
	}
	if c.builder, err = cluster.NewBuilder(backend, cfg.Strategy, cfg.clusterConfig(c.pool, c.logger)); err != nil {
		return nil, err
	}
	c.advise()
	c.logger.Infof("clusterer: %s clustering %v (%s), %s shadows %d", cfg.Strategy, cfg.ClusterResolution, cfg.Encoding, cfg.ShadowType, cfg.ShadowResolution)
	return c, nil
}

func (c *Clusterer) advise() {
	if c.cfg.EnableShadows && !c.cfg.EnableClustering {
		c.logger.Warnf("clusterer: shadows enabled without clustering, shading will not apply them")
	}
}

func (c *Clusterer) Config() Config {
	return c.cfg
}

// SetConfig applies cfg. GPU resources that depend on a changed setting are
// released and recreated on their next use.
func (c *Clusterer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.EnableShadows && c.depth == nil {
		return ErrNoDepthRenderer
	}

	if c.cfg.shadowsChanged(cfg) {
		shadows, err := shadow.NewRenderer(c.backend, c.depth, cfg.shadowConfig(c.logger))
		if err != nil {
			return err
		}
		c.resetShadows()
		c.shadows = shadows
	}

	if c.cfg.builderChanged(cfg) {
		if c.ownPool {
			c.pool.Close()
			c.pool = nil
			c.ownPool = false
		}
		if c.pool == nil && cfg.Strategy == StrategyCPU {
			c.pool = parallel.NewPool(cfg.Workers)
			c.ownPool = true
		}
		builder, err := cluster.NewBuilder(c.backend, cfg.Strategy, cfg.clusterConfig(c.pool, c.logger))
		if err != nil {
			return err
		}
		c.builder.Release()
		c.builder = builder
		c.output = cluster.Output{}
	}

	c.cfg = cfg
	c.advise()
	return nil
}

// Refresh collects this frame's lights and brings the shadow atlases up to date.
func (c *Clusterer) Refresh(frame Frame) (FrameResult, error) {
	c.stats.Reset()

	c.stats.BeginScope("collect")
	col := lights.Collector{
		MaxSpots:  c.cfg.MaxSpotLights,
		MaxPoints: c.cfg.MaxPointLights,
	}.Collect(frame.Lights, frame.Camera.Frustum(), c.spots, c.points)
	c.transform = lights.ClusterTransform(frame.Camera, c.spots.Count+c.points.Count > 0)
	c.stats.EndScope("collect")

	c.stats.SetCount("spots", c.spots.Count)
	c.stats.SetCount("points", c.points.Count)
	c.stats.SetCount("dropped", col.DroppedSpots+col.DroppedPoints)

	var res FrameResult
	index := make(map[*lights.Light]int, len(col.Visible))
	for _, l := range col.Visible {
		index[l] = len(res.Shadows)
		res.Shadows = append(res.Shadows, ShadowInfo{LightID: l.ID, Light: l, Kind: l.Kind})
	}

	if !c.cfg.EnableShadows {
		c.resetShadows()
		return res, nil
	}

	c.stats.BeginScope("shadows")
	defer c.stats.EndScope("shadows")

	rec, err := c.backend.Begin("shadow-atlas-spot")
	if err != nil {
		return res, fmt.Errorf("clusterer: spot shadows: %w", err)
	}
	spot, err := c.shadows.RenderSpots(rec, c.spots, c.cfg.ForceShadowUpdate)
	if err != nil {
		rec.Discard()
		return res, fmt.Errorf("clusterer: spot shadows: %w", err)
	}
	if err := rec.Submit(); err != nil {
		return res, fmt.Errorf("clusterer: spot shadows: %w", err)
	}
	for _, u := range spot.Updates {
		if i, ok := index[u.Light]; ok {
			res.Shadows[i].Atlas = c.shadows.SpotAtlas()
			res.Shadows[i].Slot = int(u.Atlas)
			res.Shadows[i].SpotTransform = u.Transform
			res.Shadows[i].Valid = true
		}
	}
	res.SpotMask = spot.Mask & c.spots.ActiveMask()

	rec, err = c.backend.Begin("shadow-atlas-point")
	if err != nil {
		return res, fmt.Errorf("clusterer: point shadows: %w", err)
	}
	point, err := c.shadows.RenderPoints(rec, c.points, c.cfg.ForceShadowUpdate)
	if err != nil {
		rec.Discard()
		return res, fmt.Errorf("clusterer: point shadows: %w", err)
	}
	if err := rec.Submit(); err != nil {
		return res, fmt.Errorf("clusterer: point shadows: %w", err)
	}
	for _, u := range point.Updates {
		if i, ok := index[u.Light]; ok {
			res.Shadows[i].Atlas = c.shadows.PointAtlas()
			res.Shadows[i].Slot = int(u.Atlas)
			res.Shadows[i].PointTransform = u.Transform
			res.Shadows[i].Valid = true
		}
	}
	res.PointMask = point.Mask & c.points.ActiveMask()

	c.stats.SetCount("spot_redraw", bits.OnesCount32(res.SpotMask))
	c.stats.SetCount("point_redraw", bits.OnesCount32(res.PointMask))
	return res, nil
}

// BuildClusters fills the cluster grid for the lights of the last Refresh.
func (c *Clusterer) BuildClusters() error {
	if !c.cfg.EnableClustering {
		return nil
	}
	c.stats.BeginScope("cluster")
	defer c.stats.EndScope("cluster")

	rec, err := c.backend.Begin("clustering")
	if err != nil {
		return fmt.Errorf("clusterer: clustering: %w", err)
	}
	out, err := c.builder.Build(rec, cluster.NewInput(c.transform, c.spots, c.points))
	if err != nil {
		rec.Discard()
		return fmt.Errorf("clusterer: clustering: %w", err)
	}
	if err := rec.Submit(); err != nil {
		return fmt.Errorf("clusterer: clustering: %w", err)
	}
	c.output = out
	if out.List != nil {
		c.stats.SetCount("cluster_list", int(out.List.Size()/4))
	}
	return nil
}

func (c *Clusterer) resetShadows() {
	if c.shadows.SpotAtlas() == nil && c.shadows.PointAtlas() == nil {
		return
	}
	c.shadows.Reset()
	c.spots.ResetSlots()
	c.points.ResetSlots()
}

func (c *Clusterer) ClusterImage() gpu.Image {
	if !c.cfg.EnableClustering || c.output.Image == nil {
		return nil
	}
	return c.output.Image
}

// ClusterListBuffer is set only with the compact encoding.
func (c *Clusterer) ClusterListBuffer() gpu.Buffer {
	if !c.cfg.EnableClustering || c.output.List == nil {
		return nil
	}
	return c.output.List
}

func (c *Clusterer) SpotLightShadows() gpu.Image {
	if !c.cfg.EnableShadows || c.shadows.SpotAtlas() == nil {
		return nil
	}
	return c.shadows.SpotAtlas()
}

func (c *Clusterer) PointLightShadows() gpu.Image {
	if !c.cfg.EnableShadows || c.shadows.PointAtlas() == nil {
		return nil
	}
	return c.shadows.PointAtlas()
}

func (c *Clusterer) ActiveSpotLights() []lights.FragmentInfo  { return c.spots.Active() }
func (c *Clusterer) ActivePointLights() []lights.FragmentInfo { return c.points.Active() }
func (c *Clusterer) ActiveSpotLightCount() int                { return c.spots.Count }
func (c *Clusterer) ActivePointLightCount() int               { return c.points.Count }

// SpotShadowMatrices is index-aligned with ActiveSpotLights.
func (c *Clusterer) SpotShadowMatrices() []mgl32.Mat4 {
	return c.spots.ActiveTransforms()
}

// PointShadowTransforms is index-aligned with ActivePointLights.
func (c *Clusterer) PointShadowTransforms() []lights.PointTransform {
	return c.points.ActiveTransforms()
}

// ClusterTransform maps view space into cluster space. It has zero scale
// when the last Refresh found no lights.
func (c *Clusterer) ClusterTransform() mgl32.Mat4 {
	return c.transform
}

// Parameters packs the shading parameter block of the last Refresh.
func (c *Clusterer) Parameters() []byte {
	return lights.PackParameters(c.transform, c.spots, c.points)
}

// Stats is overwritten by the next Refresh.
func (c *Clusterer) Stats() *FrameStats {
	return c.stats
}

// OnDeviceDestroyed drops every GPU resource and forgets the atlas slots.
func (c *Clusterer) OnDeviceDestroyed() {
	c.shadows.Reset()
	c.builder.Release()
	c.output = cluster.Output{}
	c.spots.ResetSlots()
	c.points.ResetSlots()
	c.logger.Infof("clusterer: device resources released")
}

// OnDeviceCreated rebinds to a new device after OnDeviceDestroyed.
func (c *Clusterer) OnDeviceCreated(backend gpu.Backend) error {
	builder, err := cluster.NewBuilder(backend, c.cfg.Strategy, c.cfg.clusterConfig(c.pool, c.logger))
	if err != nil {
		return err
	}
	c.backend = backend
	c.builder = builder
	c.shadows.SetBackend(backend)
	return nil
}

func (c *Clusterer) Close() {
	c.OnDeviceDestroyed()
	if c.ownPool {
		c.pool.Close()
		c.pool = nil
		c.ownPool = false
	}
}
