package clusterer

import (
	"errors"
	"fmt"

	"github.com/gekko3d/clusterer/lightrt/rt/cluster"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/gekko3d/clusterer/lightrt/rt/parallel"
	"github.com/gekko3d/clusterer/lightrt/rt/shadow"
)

var (
	ErrZeroResolution         = errors.New("clusterer: cluster resolution has a zero axis")
	ErrResolutionNotDivisible = errors.New("clusterer: cluster resolution not divisible by the prepass downsample")
	ErrDepthNotPowerOfTwo     = errors.New("clusterer: cluster depth is not a power of two")
	ErrTooManyLights          = errors.New("clusterer: light cap out of range")
	ErrShadowResolution       = errors.New("clusterer: shadow resolution must be a power of two of at least 2")
	ErrUnsupportedEncoding    = errors.New("clusterer: compact encoding requires the cpu strategy")
	ErrNoDepthRenderer        = errors.New("clusterer: shadows enabled without a depth renderer")
)

type (
	ShadowType = shadow.Type
	Strategy   = cluster.Strategy
	Encoding   = cluster.Encoding
)

const (
	ShadowPCF = shadow.TypePCF
	ShadowVSM = shadow.TypeVSM

	StrategyGPU = cluster.StrategyGPU
	StrategyCPU = cluster.StrategyCPU

	EncodingDense   = cluster.EncodingDense
	EncodingCompact = cluster.EncodingCompact
)

// Config is applied with New or SetConfig; nothing is read per frame from elsewhere.
type Config struct {
	ClusterResolution [3]uint32
	ShadowResolution  uint32
	MaxSpotLights     int
	MaxPointLights    int
	ShadowType        ShadowType

	EnableClustering  bool
	EnableShadows     bool
	ForceShadowUpdate bool

	Strategy Strategy
	Encoding Encoding
	// Workers sizes the CPU culling pool; 0 means GOMAXPROCS.
	Workers    int
	VSMSamples uint32
}

func DefaultConfig() Config {
	return Config{
		ClusterResolution: [3]uint32{64, 32, 16},
		ShadowResolution:  512,
		MaxSpotLights:     lights.MaxLights,
		MaxPointLights:    lights.MaxLights,
		ShadowType:        ShadowPCF,
		EnableClustering:  true,
		EnableShadows:     true,
		Strategy:          StrategyGPU,
		Encoding:          EncodingDense,
		VSMSamples:        4,
	}
}

func (c Config) Validate() error {
	res := c.ClusterResolution
	if res[0] == 0 || res[1] == 0 || res[2] == 0 {
		return fmt.Errorf("%w: %v", ErrZeroResolution, res)
	}
	if res[2]&(res[2]-1) != 0 {
		return fmt.Errorf("%w: %d", ErrDepthNotPowerOfTwo, res[2])
	}
	if res[0]%cluster.PrepassDownsample != 0 || res[1]%cluster.PrepassDownsample != 0 || res[2]%cluster.PrepassDownsample != 0 {
		return fmt.Errorf("%w: %v", ErrResolutionNotDivisible, res)
	}
	if c.Strategy == StrategyGPU && c.Encoding == EncodingCompact {
		return ErrUnsupportedEncoding
	}
	if c.MaxSpotLights < 0 || c.MaxSpotLights > lights.MaxLights {
		return fmt.Errorf("%w: %d spot lights", ErrTooManyLights, c.MaxSpotLights)
	}
	if c.MaxPointLights < 0 || c.MaxPointLights > lights.MaxLights {
		return fmt.Errorf("%w: %d point lights", ErrTooManyLights, c.MaxPointLights)
	}
	if err := c.shadowConfig(nil).Validate(); err != nil {
		return fmt.Errorf("%w: %d", ErrShadowResolution, c.ShadowResolution)
	}
	return nil
}

func (c Config) shadowConfig(logger shadow.Logger) shadow.Config {
	return shadow.Config{
		Resolution: c.ShadowResolution,
		Type:       c.ShadowType,
		VSMSamples: c.VSMSamples,
		Logger:     logger,
	}
}

func (c Config) clusterConfig(pool *parallel.Pool, logger cluster.Logger) cluster.Config {
	return cluster.Config{
		Resolution: c.ClusterResolution,
		Encoding:   c.Encoding,
		Pool:       pool,
		Logger:     logger,
	}
}

// builderChanged reports whether going from c to n needs a new cluster builder.
func (c Config) builderChanged(n Config) bool {
	return c.Strategy != n.Strategy || c.ClusterResolution != n.ClusterResolution ||
		c.Encoding != n.Encoding || c.Workers != n.Workers
}

// shadowsChanged reports whether going from c to n invalidates the atlases.
func (c Config) shadowsChanged(n Config) bool {
	return c.ShadowType != n.ShadowType || c.ShadowResolution != n.ShadowResolution ||
		c.VSMSamples != n.VSMSamples
}

type Option func(*Clusterer)

func WithLogger(l Logger) Option {
	return func(c *Clusterer) { c.logger = l }
}

// WithDepthRenderer sets the collaborator that draws shadow casters.
func WithDepthRenderer(d shadow.DepthRenderer) Option {
	return func(c *Clusterer) { c.depth = d }
}

// WithPool shares an existing worker pool with the CPU cluster builder.
// The pool is not closed by Close.
func WithPool(p *parallel.Pool) Option {
	return func(c *Clusterer) { c.pool = p }
}
