// Command clusterdump clusters a random scene on the CPU and writes one
// light-count heat map per depth band.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gekko3d/clusterer"
	"github.com/gekko3d/clusterer/lightrt/rt/cluster"
	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu/gputest"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/draw"
)

func parseResolution(s string) ([3]uint32, error) {
	var res [3]uint32
	parts := strings.Split(s, "x")
	if len(parts) != 3 {
		return res, fmt.Errorf("resolution %q: want WxHxD", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return res, fmt.Errorf("resolution %q: %w", s, err)
		}
		res[i] = uint32(v)
	}
	return res, nil
}

// randomScene scatters n lights in front of a camera at the origin looking down -Z.
func randomScene(n int, seed uint64) clusterer.LightList {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	var list clusterer.LightList
	for i := 0; i < n; i++ {
		t := core.NewTransform()
		t.Position = mgl32.Vec3{
			rng.Float32()*60 - 30,
			rng.Float32()*20 - 10,
			-5 - rng.Float32()*150,
		}
		var l *lights.Light
		if rng.IntN(2) == 0 {
			l = lights.NewSpotLight(lights.WithRange(5+rng.Float32()*20), lights.WithCone(0.9, 0.7))
			t.LookAt(t.Position.Add(mgl32.Vec3{rng.Float32() - 0.5, -1, rng.Float32() - 0.5}))
		} else {
			l = lights.NewPointLight(lights.WithRange(2 + rng.Float32()*10))
		}
		list.Add(l, t)
	}
	return list
}

// heatMaps returns one image per band holding the light count of each
// column, maximum over depth, scaled to the brightest column of all bands.
func heatMaps(g *cluster.Grid) []*image.Gray {
	rx, ry, rz := g.Resolution[0], g.Resolution[1], g.Resolution[2]
	counts := make([][]int, cluster.Bands)
	peak := 1
	for band := uint32(0); band < cluster.Bands; band++ {
		counts[band] = make([]int, rx*ry)
		for y := uint32(0); y < ry; y++ {
			for x := uint32(0); x < rx; x++ {
				best := 0
				for z := uint32(0); z < rz; z++ {
					best = max(best, g.Mask(x, y, z, band).Count())
				}
				counts[band][y*rx+x] = best
				peak = max(peak, best)
			}
		}
	}

	out := make([]*image.Gray, cluster.Bands)
	for band, cs := range counts {
		img := image.NewGray(image.Rect(0, 0, int(rx), int(ry)))
		for i, c := range cs {
			img.Pix[i] = uint8(c * 255 / peak)
		}
		out[band] = img
	}
	return out
}

func writePNG(path string, img image.Image, scale int) error {
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, dst); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func main() {
	count := flag.Int("lights", 32, "Number of random lights")
	seed := flag.Uint64("seed", 1, "Scene seed")
	resFlag := flag.String("res", "64x32x16", "Cluster resolution WxHxD")
	compact := flag.Bool("compact", false, "Use the compact cluster encoding")
	outDir := flag.String("out", ".", "Output directory")
	scale := flag.Int("scale", 8, "Upscale factor of the written images")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := clusterer.NewDefaultLogger("clusterdump", *debug)

	res, err := parseResolution(*resFlag)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(2)
	}
	if err := cluster.ValidateResolution(res); err != nil {
		logger.Errorf("%v: %v", err, res)
		os.Exit(2)
	}

	proj := mgl32.Perspective(mgl32.DegToRad(60), float32(res[0])/float32(res[1]), 0.1, 200)
	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	camera := core.NewRenderParameters(view, proj, 0.1, 200)

	spots, points := lights.NewSpotSet(), lights.NewPointSet()
	scene := randomScene(*count, *seed)
	col := lights.Collector{MaxSpots: lights.MaxLights, MaxPoints: lights.MaxLights}.Collect(scene.All(), camera.Frustum(), spots, points)
	transform := lights.ClusterTransform(camera, spots.Count+points.Count > 0)
	logger.Infof("%d spots, %d points visible, %d dropped", spots.Count, points.Count, col.DroppedSpots+col.DroppedPoints)

	enc := cluster.EncodingDense
	if *compact {
		enc = cluster.EncodingCompact
	}
	builder := cluster.NewCPUBuilder(gputest.NewBackend(), cluster.Config{Resolution: res, Encoding: enc, Logger: logger})
	defer builder.Release()

	grid := builder.Compute(cluster.NewInput(transform, spots, points))
	if *compact {
		logger.Infof("compact list holds %d entries", len(grid.List))
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	for band, img := range heatMaps(grid) {
		path := filepath.Join(*outDir, fmt.Sprintf("band_%d.png", band))
		if err := writePNG(path, img, max(*scale, 1)); err != nil {
			logger.Errorf("%s: %v", path, err)
			os.Exit(1)
		}
		logger.Debugf("wrote %s", path)
	}
}
