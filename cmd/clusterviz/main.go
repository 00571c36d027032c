package main

import (
	"flag"
	"fmt"
	"runtime"

	"github.com/gekko3d/clusterer"
	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	runtime.LockOSThread()
}

type orbiter struct {
	light     *lights.Light
	transform *core.Transform
	radius    float32
	speed     float32
	phase     float32
	height    float32
}

func (o *orbiter) animate(t float32) {
	a := o.phase + o.speed*t
	o.transform.Position = mgl32.Vec3{o.radius * cos32(a), o.height, o.radius * sin32(a)}
	if o.light.Kind == lights.KindSpot {
		o.transform.LookAt(mgl32.Vec3{0, -1, 0})
	}
}

func buildScene(n int) ([]*orbiter, clusterer.LightList) {
	var orbs []*orbiter
	var list clusterer.LightList
	for i := 0; i < n; i++ {
		f := float32(i) / float32(max(n, 1))
		var l *lights.Light
		if i%2 == 0 {
			l = lights.NewSpotLight(
				lights.WithRange(25),
				lights.WithCone(0.9, 0.8),
				lights.WithColor(mgl32.Vec3{1, 0.8, 0.6}),
			)
		} else {
			l = lights.NewPointLight(
				lights.WithRange(8),
				lights.WithColor(mgl32.Vec3{0.5, 0.7, 1}),
			)
		}
		o := &orbiter{
			light:     l,
			transform: core.NewTransform(),
			radius:    6 + 14*f,
			speed:     0.2 + 0.3*f,
			phase:     f * 2 * 3.14159265,
			height:    2 + 4*f,
		}
		orbs = append(orbs, o)
		list.Add(l, o.transform)
	}
	return orbs, list
}

func main() {
	cpu := flag.Bool("cpu", false, "Build clusters on the CPU")
	compact := flag.Bool("compact", false, "Use the compact cluster encoding (implies -cpu)")
	vsm := flag.Bool("vsm", false, "Use variance shadow maps")
	count := flag.Int("lights", 16, "Number of animated lights")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger := clusterer.NewDefaultLogger("clusterviz", *debug)

	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "clusterviz", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	viewer, err := NewViewer(window, logger)
	if err != nil {
		panic(err)
	}
	defer viewer.Release()

	casters := NewCasters(viewer.Backend, logger)
	defer casters.Release()

	cfg := clusterer.DefaultConfig()
	if *cpu || *compact {
		cfg.Strategy = clusterer.StrategyCPU
	}
	if *compact {
		cfg.Encoding = clusterer.EncodingCompact
		viewer.Compact = true
	}
	if *vsm {
		cfg.ShadowType = clusterer.ShadowVSM
	}

	c, err := clusterer.New(viewer.Backend, cfg, clusterer.WithLogger(logger), clusterer.WithDepthRenderer(casters))
	if err != nil {
		panic(err)
	}
	defer c.Close()

	window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		viewer.Resize(width, height)
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		switch {
		case key == glfw.KeyEscape:
			w.SetShouldClose(true)
		case key >= glfw.Key0 && key <= glfw.Key8:
			viewer.Band = uint32(key - glfw.Key0)
		case key == glfw.KeyF:
			cfg := c.Config()
			cfg.ForceShadowUpdate = !cfg.ForceShadowUpdate
			if err := c.SetConfig(cfg); err != nil {
				logger.Errorf("%v", err)
			}
		}
	})

	orbs, scene := buildScene(*count)
	camera := core.NewCameraState()
	camera.Distance = 40

	lastTitle := glfw.GetTime()
	frames := 0
	for !window.ShouldClose() {
		glfw.PollEvents()
		now := glfw.GetTime()
		for _, o := range orbs {
			o.animate(float32(now))
		}

		w, h := window.GetFramebufferSize()
		aspect := float32(w) / float32(max(h, 1))
		if _, err := c.Refresh(clusterer.Frame{Camera: camera.RenderParameters(aspect), Lights: scene.All()}); err != nil {
			logger.Errorf("refresh: %v", err)
			break
		}
		if err := c.BuildClusters(); err != nil {
			logger.Errorf("clusters: %v", err)
			break
		}
		if err := viewer.Present(c); err != nil {
			logger.Warnf("present: %v", err)
		}

		frames++
		if now-lastTitle >= 1 {
			fps := float64(frames) / (now - lastTitle)
			window.SetTitle(fmt.Sprintf("clusterviz: %d spots, %d points, band %d, %.0f fps",
				c.ActiveSpotLightCount(), c.ActivePointLightCount(), viewer.Band, fps))
			if logger.DebugEnabled() {
				logger.Debugf("\n%s", c.Stats())
			}
			lastTitle = now
			frames = 0
		}
	}
}
