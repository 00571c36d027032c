package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
)

// PassInfo describes the attachments of the open render pass, for callers
// that build their own pipelines against it.
type PassInfo struct {
	Color   Format
	Depth   Format
	Samples uint32
}

// WGPURecorder encodes into one command encoder. Per-draw uniform buffers
// and bind groups are released once the encoder is submitted.
type WGPURecorder struct {
	backend *WGPUBackend
	encoder *wgpu.CommandEncoder
	pass    *wgpu.RenderPassEncoder
	info    PassInfo
	garbage []interface{ Release() }
	done    bool
}

// RenderPass is the open render pass encoder, or nil.
func (r *WGPURecorder) RenderPass() *wgpu.RenderPassEncoder {
	return r.pass
}

func (r *WGPURecorder) PassInfo() PassInfo {
	return r.info
}

// ReleaseAfterSubmit keeps res alive until the recorded work is submitted.
func (r *WGPURecorder) ReleaseAfterSubmit(res ...interface{ Release() }) {
	r.garbage = append(r.garbage, res...)
}

func (r *WGPURecorder) Transition(ts ...Transition) {
	for _, t := range ts {
		img, ok := t.Image.(*WGPUImage)
		if !ok {
			r.backend.warnf("transition of foreign image %T", t.Image)
			continue
		}
		if err := img.tracker.Apply(t); err != nil {
			r.backend.warnf("%s: %v", img.desc.Label, err)
		}
	}
}

func (r *WGPURecorder) expect(img Image, base, count uint32, l Layout) {
	if w, ok := img.(*WGPUImage); ok {
		if err := w.tracker.Expect(base, count, l); err != nil {
			r.backend.warnf("%s: %v", w.desc.Label, err)
		}
	}
}

func clearColor(v [4]float32) wgpu.Color {
	return wgpu.Color{R: float64(v[0]), G: float64(v[1]), B: float64(v[2]), A: float64(v[3])}
}

// ClearImage clears every layer through an empty render pass.
func (r *WGPURecorder) ClearImage(img Image, value [4]float32) {
	r.expect(img, 0, 0, LayoutTransferDst)
	w := img.(*WGPUImage)
	for _, view := range w.layers {
		desc := &wgpu.RenderPassDescriptor{Label: w.desc.Label + " clear"}
		if w.desc.Format.IsDepth() {
			desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
				View:            view,
				DepthLoadOp:     wgpu.LoadOpClear,
				DepthStoreOp:    wgpu.StoreOpStore,
				DepthClearValue: value[0],
			}
		} else {
			desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
				View:       view,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: clearColor(value),
			}}
		}
		pass := r.encoder.BeginRenderPass(desc)
		if err := pass.End(); err != nil {
			r.backend.warnf("clear pass End failed: %v", err)
		}
	}
}

func storeOp(store bool) wgpu.StoreOp {
	if store {
		return wgpu.StoreOpStore
	}
	return wgpu.StoreOpDiscard
}

// coversAll reports whether area is empty or spans the whole attachment.
func coversAll(area Rect, img Image) bool {
	d := img.Desc()
	return area.Empty() || (area.X == 0 && area.Y == 0 && area.Width >= d.Width && area.Height >= d.Height)
}

// BeginRenderPass opens a pass. WebGPU load clears always cover the whole
// attachment, so a clear restricted to a smaller Area loads instead and
// draws the clear value into the area.
func (r *WGPURecorder) BeginRenderPass(rp RenderPass) error {
	if r.pass != nil {
		return ErrPassActive
	}
	if err := CheckAttachments(rp); err != nil {
		r.backend.warnf("%s: %v", rp.Label, err)
	}

	desc := &wgpu.RenderPassDescriptor{Label: rp.Label}
	info := PassInfo{}
	var regionClear *clearKey
	var regionValue [4]float32

	for _, a := range rp.Color {
		img := a.Image.(*WGPUImage)
		att := wgpu.RenderPassColorAttachment{
			View:       img.layers[a.Layer],
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    storeOp(a.Store || a.Resolve == nil),
			ClearValue: clearColor(a.Clear),
		}
		switch {
		case a.Load == LoadKeep:
			att.LoadOp = wgpu.LoadOpLoad
		case a.Load == LoadClear && !coversAll(rp.Area, a.Image):
			att.LoadOp = wgpu.LoadOpLoad
			regionClear = &clearKey{color: img.desc.Format, samples: max(img.desc.Samples, 1)}
			regionValue = a.Clear
		}
		if a.Resolve != nil {
			att.ResolveTarget = a.Resolve.(*WGPUImage).layers[0]
		}
		desc.ColorAttachments = append(desc.ColorAttachments, att)
		info.Color = img.desc.Format
		info.Samples = max(img.desc.Samples, 1)
	}

	if a := rp.Depth; a != nil {
		img := a.Image.(*WGPUImage)
		att := &wgpu.RenderPassDepthStencilAttachment{
			View:            img.layers[a.Layer],
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    storeOp(a.Store),
			DepthClearValue: a.Clear[0],
		}
		switch {
		case a.Load == LoadKeep:
			att.DepthLoadOp = wgpu.LoadOpLoad
		case a.Load == LoadClear && !coversAll(rp.Area, a.Image):
			att.DepthLoadOp = wgpu.LoadOpLoad
			if regionClear != nil {
				r.backend.warnf("%s: region clear of color and depth together, clearing whole attachments", rp.Label)
				att.DepthLoadOp = wgpu.LoadOpClear
				for i := range desc.ColorAttachments {
					desc.ColorAttachments[i].LoadOp = wgpu.LoadOpClear
				}
				regionClear = nil
			} else {
				regionClear = &clearKey{depth: img.desc.Format, samples: max(img.desc.Samples, 1)}
				regionValue = a.Clear
			}
		}
		desc.DepthStencilAttachment = att
		info.Depth = img.desc.Format
		info.Samples = max(img.desc.Samples, 1)
	}

	r.pass = r.encoder.BeginRenderPass(desc)
	r.info = info

	if regionClear != nil {
		if err := r.clearRegion(*regionClear, rp.Area, regionValue); err != nil {
			return err
		}
	}
	return nil
}

func (r *WGPURecorder) clearRegion(key clearKey, area Rect, value [4]float32) error {
	prog, err := r.backend.clearFor(key)
	if err != nil {
		return err
	}
	uniforms := make([]byte, 16)
	putFloats(uniforms, value[:]...)
	buf := r.backend.newBuffer("clear-region uniforms", uniforms, wgpu.BufferUsageUniform)
	bg, err := r.backend.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Clear Region",
		Layout: prog.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: buf.Buffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		buf.Release()
		return err
	}
	r.garbage = append(r.garbage, buf, bg)

	r.SetViewport(area)
	r.SetScissor(area)
	r.pass.SetPipeline(prog.pipeline)
	r.pass.SetBindGroup(0, bg, nil)
	r.pass.Draw(3, 1, 0, 0)
	return nil
}

func (r *WGPURecorder) SetViewport(rect Rect) {
	if r.pass == nil {
		r.backend.warnf("%v", ErrNoPass)
		return
	}
	r.pass.SetViewport(float32(rect.X), float32(rect.Y), float32(rect.Width), float32(rect.Height), 0, 1)
}

func (r *WGPURecorder) SetScissor(rect Rect) {
	if r.pass == nil {
		r.backend.warnf("%v", ErrNoPass)
		return
	}
	r.pass.SetScissorRect(rect.X, rect.Y, rect.Width, rect.Height)
}

func (r *WGPURecorder) DrawQuad(q Quad) {
	if r.pass == nil {
		r.backend.warnf("%v", ErrNoPass)
		return
	}
	r.expect(q.Source, 0, 0, LayoutShaderRead)

	prog, err := r.backend.quadFor(q.Shader, r.info.Color)
	if err != nil {
		r.backend.warnf("quad %s: %v", q.Shader, err)
		return
	}
	uniforms := make([]byte, 16)
	putFloats(uniforms, q.InvSize[0], q.InvSize[1])
	buf := r.backend.newBuffer(q.Shader+" uniforms", uniforms, wgpu.BufferUsageUniform)
	bg, err := r.backend.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  q.Shader,
		Layout: prog.layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: q.Source.(*WGPUImage).full},
			{Binding: 1, Buffer: buf.Buffer, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		buf.Release()
		r.backend.warnf("quad %s bind group: %v", q.Shader, err)
		return
	}
	r.garbage = append(r.garbage, buf, bg)

	r.pass.SetPipeline(prog.pipeline)
	r.pass.SetBindGroup(0, bg, nil)
	r.pass.Draw(3, 1, 0, 0)
}

func (r *WGPURecorder) EndRenderPass() {
	if r.pass == nil {
		r.backend.warnf("%v", ErrNoPass)
		return
	}
	if err := r.pass.End(); err != nil {
		r.backend.warnf("render pass End failed: %v", err)
	}
	r.pass = nil
	r.info = PassInfo{}
}

func (r *WGPURecorder) Dispatch(d Dispatch) {
	if r.pass != nil {
		r.backend.warnf("%s: %v", d.Label, ErrPassActive)
		return
	}
	if d.Storage != nil {
		r.expect(d.Storage, 0, 0, LayoutGeneral)
	}

	k, err := r.backend.kernelFor(d)
	if err != nil {
		r.backend.warnf("%s: %v", d.Label, err)
		return
	}

	var entries []wgpu.BindGroupEntry
	if d.Storage != nil {
		entries = append(entries, wgpu.BindGroupEntry{Binding: 0, TextureView: d.Storage.(*WGPUImage).full})
	}
	if d.Sampled != nil {
		entries = append(entries, wgpu.BindGroupEntry{Binding: 1, TextureView: d.Sampled.(*WGPUImage).full})
	}
	if d.Uniforms != nil {
		buf := r.backend.newBuffer(d.Label+" uniforms", d.Uniforms, wgpu.BufferUsageUniform)
		r.garbage = append(r.garbage, buf)
		entries = append(entries, wgpu.BindGroupEntry{Binding: 2, Buffer: buf.Buffer, Size: wgpu.WholeSize})
	}
	for i, b := range d.Buffers {
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(3 + i), Buffer: b.(*WGPUBuffer).Buffer, Size: wgpu.WholeSize})
	}

	bg, err := r.backend.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   d.Label,
		Layout:  k.layout,
		Entries: entries,
	})
	if err != nil {
		r.backend.warnf("%s bind group: %v", d.Label, err)
		return
	}
	r.garbage = append(r.garbage, bg)

	pass := r.encoder.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(d.Groups[0], d.Groups[1], d.Groups[2])
	if err := pass.End(); err != nil {
		r.backend.warnf("%s: compute pass End failed: %v", d.Label, err)
	}
}

func (r *WGPURecorder) Submit() error {
	if r.done {
		return ErrSubmitted
	}
	if r.pass != nil {
		return fmt.Errorf("%w: submit inside render pass", ErrPassActive)
	}
	r.done = true

	cmd, err := r.encoder.Finish(nil)
	if err != nil {
		return err
	}
	r.backend.Queue.Submit(cmd)
	cmd.Release()
	r.encoder.Release()

	for _, g := range r.garbage {
		g.Release()
	}
	r.garbage = nil
	return nil
}

func (r *WGPURecorder) Discard() {
	if r.done {
		return
	}
	r.done = true
	if r.pass != nil {
		r.pass.Release()
		r.pass = nil
	}
	r.encoder.Release()
	for _, g := range r.garbage {
		g.Release()
	}
	r.garbage = nil
}

func putFloats(buf []byte, vs ...float32) {
	for i, v := range vs {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
