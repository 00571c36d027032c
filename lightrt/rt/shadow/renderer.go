package shadow

import (
	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/gekko3d/clusterer/lightrt/rt/shaders"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	nearFactor = 0.005
	cubeFaces  = 6
)

// Renderer owns the atlases and the VSM scratch targets.
type Renderer struct {
	backend gpu.Backend
	depth   DepthRenderer
	cfg     Config

	spotAtlas   gpu.Image
	pointAtlas  gpu.Image
	scratchRT   gpu.Image
	scratchDown gpu.Image
}

func NewRenderer(backend gpu.Backend, depth DepthRenderer, cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Renderer{backend: backend, depth: depth, cfg: cfg}, nil
}

func (r *Renderer) SpotAtlas() gpu.Image  { return r.spotAtlas }
func (r *Renderer) PointAtlas() gpu.Image { return r.pointAtlas }

// SetBackend points the renderer at a new device. Existing images must
// already have been dropped with Reset.
func (r *Renderer) SetBackend(b gpu.Backend) {
	r.backend = b
}

// Reset releases every image; the next update recreates them.
func (r *Renderer) Reset() {
	for _, img := range []*gpu.Image{&r.spotAtlas, &r.pointAtlas, &r.scratchRT, &r.scratchDown} {
		if *img != nil {
			(*img).Release()
			*img = nil
		}
	}
}

// abandon drops an atlas whose update failed part way and forgets every
// slot of set.
func abandon[T any](atlas *gpu.Image, set *lights.Set[T]) {
	if *atlas != nil {
		(*atlas).Release()
		*atlas = nil
	}
	set.ResetSlots()
}

func (r *Renderer) vsm() bool {
	return r.cfg.Type == TypeVSM
}

func (r *Renderer) targetLayout() gpu.Layout {
	if r.vsm() {
		return gpu.LayoutColorTarget
	}
	return gpu.LayoutDepthTarget
}

func (r *Renderer) targetBarrier() gpu.Barrier {
	if r.vsm() {
		return gpu.Barrier{SyncBefore: gpu.SyncFragmentShader, SyncAfter: gpu.SyncColorOutput, AccessAfter: gpu.AccessColorWrite}
	}
	return gpu.Barrier{SyncBefore: gpu.SyncFragmentShader, SyncAfter: gpu.SyncFragmentTests, AccessAfter: gpu.AccessDSWrite}
}

func (r *Renderer) readBarrier() gpu.Barrier {
	if r.vsm() {
		return gpu.Barrier{SyncBefore: gpu.SyncColorOutput, SyncAfter: gpu.SyncFragmentShader, AccessBefore: gpu.AccessColorWrite, AccessAfter: gpu.AccessShaderRead}
	}
	return gpu.Barrier{SyncBefore: gpu.SyncLateFragmentTests, SyncAfter: gpu.SyncFragmentShader, AccessBefore: gpu.AccessDSWrite, AccessAfter: gpu.AccessShaderRead}
}

func (r *Renderer) targetUsage() gpu.Usage {
	if r.vsm() {
		return gpu.UsageSampled | gpu.UsageColorTarget | gpu.UsageTransferDst
	}
	return gpu.UsageSampled | gpu.UsageDepthTarget
}

// RenderSpots re-renders the spot tiles whose slot changed.
func (r *Renderer) RenderSpots(rec gpu.Recorder, set *lights.SpotSet, force bool) (Result[mgl32.Mat4], error) {
	if set.Count == 0 {
		return Result[mgl32.Mat4]{}, nil
	}

	mask, reused := lights.ReassignIndices(set)
	created := false
	if r.spotAtlas == nil {
		res := r.cfg.Resolution
		r.spotAtlas = r.backend.CreateImage(gpu.ImageDesc{
			Label:     "shadow-atlas-spot",
			Width:     res * core.SpotAtlasColumns,
			Height:    res * core.SpotAtlasRows,
			Dimension: gpu.Dim2D,
			Format:    r.cfg.Type.Format(),
			Usage:     r.targetUsage(),
		})
		created = true
	}
	if created || force {
		mask = lights.AllSlots
		reused = nil
	}
	if mask == 0 {
		return Result[mgl32.Mat4]{Updates: reused}, nil
	}

	full := mask == lights.AllSlots
	switch {
	case created && r.vsm():
		rec.Transition(gpu.Transition{
			Barrier:      gpu.Barrier{SyncAfter: gpu.SyncTransfer, AccessAfter: gpu.AccessTransferWrite},
			Image:        r.spotAtlas,
			LayoutBefore: gpu.LayoutUndefined,
			LayoutAfter:  gpu.LayoutTransferDst,
		})
		rec.ClearImage(r.spotAtlas, [4]float32{})
		rec.Transition(gpu.Transition{
			Barrier:      gpu.Barrier{SyncBefore: gpu.SyncTransfer, SyncAfter: gpu.SyncColorOutput, AccessBefore: gpu.AccessTransferWrite, AccessAfter: gpu.AccessColorWrite},
			Image:        r.spotAtlas,
			LayoutBefore: gpu.LayoutTransferDst,
			LayoutAfter:  gpu.LayoutColorTarget,
		})
	default:
		before := gpu.LayoutShaderRead
		if full {
			before = gpu.LayoutUndefined
		}
		rec.Transition(gpu.Transition{
			Barrier:      r.targetBarrier(),
			Image:        r.spotAtlas,
			LayoutBefore: before,
			LayoutAfter:  r.targetLayout(),
		})
	}

	res := r.cfg.Resolution
	updates := reused
	for i := 0; i < set.Count; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		info := set.Lights[i]
		light := set.Handles[i]
		slot := set.IndexRemap[i]

		proj, view := core.SpotShadowCamera(info.Position, info.Direction, light.XYRange(), info.Size())
		set.Transforms[i] = core.SpotAtlasTransform(slot, proj, view)

		tx, ty := core.SpotAtlasTile(slot)
		area := gpu.Rect{X: res * tx, Y: res * ty, Width: res, Height: res}
		dv := DepthView{
			Proj:    proj,
			View:    view,
			Frustum: core.ExtractFrustum(proj.Mul4(view)),
			ZFar:    info.Size(),
			VSM:     r.vsm(),
			Flags:   FlagDepthBias,
		}
		if err := r.renderInto(rec, dv, r.spotAtlas, 0, area); err != nil {
			abandon(&r.spotAtlas, set)
			return Result[mgl32.Mat4]{}, err
		}

		updates = append(updates, lights.ShadowInfo[mgl32.Mat4]{
			Light:     light,
			Slot:      i,
			Atlas:     slot,
			Transform: set.Transforms[i],
			Valid:     true,
		})
	}

	rec.Transition(gpu.Transition{
		Barrier:      r.readBarrier(),
		Image:        r.spotAtlas,
		LayoutBefore: r.targetLayout(),
		LayoutAfter:  gpu.LayoutShaderRead,
	})

	r.debugf("spot shadows: mask %#x, %d updated", mask, len(updates)-len(reused))
	return Result[mgl32.Mat4]{Mask: mask, Updates: updates, Rendered: true}, nil
}

// RenderPoints re-renders the cube slices whose slot changed.
func (r *Renderer) RenderPoints(rec gpu.Recorder, set *lights.PointSet, force bool) (Result[lights.PointTransform], error) {
	if set.Count == 0 {
		return Result[lights.PointTransform]{}, nil
	}

	mask, reused := lights.ReassignIndices(set)
	created := false
	if r.pointAtlas == nil {
		res := r.cfg.Resolution
		r.pointAtlas = r.backend.CreateImage(gpu.ImageDesc{
			Label:     "shadow-atlas-point",
			Width:     res,
			Height:    res,
			Layers:    cubeFaces * lights.MaxLights,
			Dimension: gpu.Dim2D,
			Format:    r.cfg.Type.Format(),
			Usage:     r.targetUsage(),
			Cube:      true,
		})
		created = true
	}
	if created || force {
		mask = lights.AllSlots
		reused = nil
	}
	if mask == 0 {
		return Result[lights.PointTransform]{Updates: reused}, nil
	}

	full := mask == lights.AllSlots
	if full {
		rec.Transition(gpu.Transition{
			Barrier:      r.targetBarrier(),
			Image:        r.pointAtlas,
			LayoutBefore: gpu.LayoutUndefined,
			LayoutAfter:  r.targetLayout(),
		})
	} else {
		rec.Transition(r.sliceTransitions(set, mask, gpu.LayoutUndefined, r.targetLayout(), r.targetBarrier())...)
	}

	res := r.cfg.Resolution
	area := gpu.Rect{Width: res, Height: res}
	updates := reused
	for i := 0; i < set.Count; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		info := set.Lights[i]
		slot := set.IndexRemap[i]
		zfar := info.Size()

		for face := 0; face < cubeFaces; face++ {
			proj, view := core.CubeRenderTransform(info.Position, face, nearFactor*zfar, zfar)
			if face == 0 {
				set.Transforms[i] = lights.PointTransform{
					Transform: mgl32.Vec4{proj[10], proj[11], proj[14], proj[15]},
					Slice:     mgl32.Vec4{float32(slot), 0, 0, 0},
				}
			}
			dv := DepthView{
				Proj:    proj,
				View:    view,
				Frustum: core.ExtractFrustum(proj.Mul4(view)),
				ZFar:    zfar,
				VSM:     r.vsm(),
				Flags:   FlagFrontFaceClockwise | FlagDepthBias,
			}
			layer := cubeFaces*uint32(slot) + uint32(face)
			if err := r.renderInto(rec, dv, r.pointAtlas, layer, area); err != nil {
				abandon(&r.pointAtlas, set)
				return Result[lights.PointTransform]{}, err
			}
		}

		updates = append(updates, lights.ShadowInfo[lights.PointTransform]{
			Light:     set.Handles[i],
			Slot:      i,
			Atlas:     slot,
			Transform: set.Transforms[i],
			Valid:     true,
		})
	}

	if full {
		rec.Transition(gpu.Transition{
			Barrier:      r.readBarrier(),
			Image:        r.pointAtlas,
			LayoutBefore: r.targetLayout(),
			LayoutAfter:  gpu.LayoutShaderRead,
		})
	} else {
		rec.Transition(r.sliceTransitions(set, mask, r.targetLayout(), gpu.LayoutShaderRead, r.readBarrier())...)
	}

	r.debugf("point shadows: mask %#x, %d updated", mask, len(updates)-len(reused))
	return Result[lights.PointTransform]{Mask: mask, Updates: updates, Rendered: true}, nil
}

// sliceTransitions covers the six faces of every physical slot named in mask.
func (r *Renderer) sliceTransitions(set *lights.PointSet, mask uint32, before, after gpu.Layout, b gpu.Barrier) []gpu.Transition {
	var ts []gpu.Transition
	for i := 0; i < set.Count; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		ts = append(ts, gpu.Transition{
			Barrier:      b,
			Image:        r.pointAtlas,
			LayoutBefore: before,
			LayoutAfter:  after,
			BaseLayer:    cubeFaces * uint32(set.IndexRemap[i]),
			LayerCount:   cubeFaces,
		})
	}
	return ts
}

func (r *Renderer) renderInto(rec gpu.Recorder, dv DepthView, target gpu.Image, layer uint32, area gpu.Rect) error {
	if r.vsm() {
		return r.renderVSM(rec, dv, target, layer, area)
	}
	return r.renderPCF(rec, dv, target, layer, area)
}

func (r *Renderer) renderPCF(rec gpu.Recorder, dv DepthView, target gpu.Image, layer uint32, area gpu.Rect) error {
	dv.Samples = 1
	err := rec.BeginRenderPass(gpu.RenderPass{
		Label: "shadow-depth",
		Depth: &gpu.Attachment{Image: target, Layer: layer, Load: gpu.LoadClear, Clear: [4]float32{1}, Store: true},
		Area:  area,
	})
	if err != nil {
		return err
	}
	rec.SetViewport(area)
	rec.SetScissor(area)
	r.depth.RenderDepth(rec, dv)
	rec.EndRenderPass()
	return nil
}

func (r *Renderer) ensureScratch() {
	res := r.cfg.Resolution
	if r.scratchRT == nil {
		r.scratchRT = r.backend.CreateImage(gpu.ImageDesc{
			Label:     "scratch-vsm-rt",
			Width:     res,
			Height:    res,
			Dimension: gpu.Dim2D,
			Format:    gpu.FormatRG32Float,
			Usage:     gpu.UsageSampled | gpu.UsageColorTarget,
		})
	}
	if r.scratchDown == nil {
		r.scratchDown = r.backend.CreateImage(gpu.ImageDesc{
			Label:     "scratch-vsm-down",
			Width:     res / 2,
			Height:    res / 2,
			Dimension: gpu.Dim2D,
			Format:    gpu.FormatRG32Float,
			Usage:     gpu.UsageSampled | gpu.UsageColorTarget,
		})
	}
}

// vsmSamples clamps the requested sample count to what both attachments support.
func (r *Renderer) vsmSamples() uint32 {
	s := min(r.cfg.VSMSamples, r.backend.MaxSamples(gpu.FormatRG32Float), r.backend.MaxSamples(gpu.FormatD16))
	return max(s, 1)
}

// renderVSM draws the casters into the scratch target, then blurs down and
// back up into the atlas region.
func (r *Renderer) renderVSM(rec gpu.Recorder, dv DepthView, target gpu.Image, layer uint32, area gpu.Rect) error {
	r.ensureScratch()
	res := r.cfg.Resolution
	samples := r.vsmSamples()
	dv.Samples = samples

	toColor := gpu.Barrier{SyncBefore: gpu.SyncFragmentShader, SyncAfter: gpu.SyncColorOutput, AccessAfter: gpu.AccessColorWrite}
	rec.Transition(
		gpu.Transition{Barrier: toColor, Image: r.scratchRT, LayoutBefore: gpu.LayoutUndefined, LayoutAfter: gpu.LayoutColorTarget},
		gpu.Transition{Barrier: toColor, Image: r.scratchDown, LayoutBefore: gpu.LayoutUndefined, LayoutAfter: gpu.LayoutColorTarget},
	)

	clearValue := [4]float32{dv.ZFar, dv.ZFar * dv.ZFar}
	depth := r.backend.TransientImage(gpu.ImageDesc{
		Label:     "vsm-depth",
		Width:     res,
		Height:    res,
		Dimension: gpu.Dim2D,
		Format:    gpu.FormatD16,
		Usage:     gpu.UsageDepthTarget,
		Samples:   samples,
	})
	color := gpu.Attachment{Image: r.scratchRT, Load: gpu.LoadClear, Clear: clearValue, Store: true}
	if samples > 1 {
		color = gpu.Attachment{
			Image: r.backend.TransientImage(gpu.ImageDesc{
				Label:     "vsm-msaa",
				Width:     res,
				Height:    res,
				Dimension: gpu.Dim2D,
				Format:    gpu.FormatRG32Float,
				Usage:     gpu.UsageColorTarget,
				Samples:   samples,
			}),
			Load:    gpu.LoadClear,
			Clear:   clearValue,
			Resolve: r.scratchRT,
		}
	}

	err := rec.BeginRenderPass(gpu.RenderPass{
		Label: "vsm-depth",
		Color: []gpu.Attachment{color},
		Depth: &gpu.Attachment{Image: depth, Load: gpu.LoadClear, Clear: [4]float32{1}},
	})
	if err != nil {
		return err
	}
	r.depth.RenderDepth(rec, dv)
	rec.EndRenderPass()

	toRead := gpu.Barrier{SyncBefore: gpu.SyncColorOutput, SyncAfter: gpu.SyncFragmentShader, AccessBefore: gpu.AccessColorWrite, AccessAfter: gpu.AccessShaderRead}
	rec.Transition(gpu.Transition{Barrier: toRead, Image: r.scratchRT, LayoutBefore: gpu.LayoutColorTarget, LayoutAfter: gpu.LayoutShaderRead})

	if err := rec.BeginRenderPass(gpu.RenderPass{
		Label: "vsm-down-blur",
		Color: []gpu.Attachment{{Image: r.scratchDown, Load: gpu.LoadDontCare, Store: true}},
	}); err != nil {
		return err
	}
	rec.DrawQuad(gpu.Quad{Shader: shaders.QuadVSMDownBlur, Source: r.scratchRT, InvSize: invSize(res)})
	rec.EndRenderPass()

	rec.Transition(gpu.Transition{Barrier: toRead, Image: r.scratchDown, LayoutBefore: gpu.LayoutColorTarget, LayoutAfter: gpu.LayoutShaderRead})

	if err := rec.BeginRenderPass(gpu.RenderPass{
		Label: "vsm-up-blur",
		Color: []gpu.Attachment{{Image: target, Layer: layer, Load: gpu.LoadKeep, Store: true}},
		Area:  area,
	}); err != nil {
		return err
	}
	rec.SetViewport(area)
	rec.SetScissor(area)
	rec.DrawQuad(gpu.Quad{Shader: shaders.QuadVSMUpBlur, Source: r.scratchDown, InvSize: invSize(res / 2)})
	rec.EndRenderPass()
	return nil
}

func invSize(n uint32) mgl32.Vec2 {
	inv := 1 / float32(n)
	return mgl32.Vec2{inv, inv}
}

func (r *Renderer) debugf(format string, args ...any) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Debugf(format, args...)
	}
}
