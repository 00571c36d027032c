// Package gputest provides an in-memory gpu.Backend that records commands
// instead of executing them.
package gputest

import (
	"fmt"
	"sync"

	"github.com/gekko3d/clusterer/lightrt/rt/gpu"
)

type Op uint8

const (
	OpTransition Op = iota
	OpClear
	OpBeginPass
	OpViewport
	OpScissor
	OpDrawQuad
	OpEndPass
	OpDispatch
	OpSubmit
)

func (o Op) String() string {
	return [...]string{"transition", "clear", "begin-pass", "viewport", "scissor", "draw-quad", "end-pass", "dispatch", "submit"}[o]
}

// Command is one recorded command; only the field matching Op is set.
type Command struct {
	Op         Op
	Transition gpu.Transition
	Image      gpu.Image
	Clear      [4]float32
	Pass       gpu.RenderPass
	Rect       gpu.Rect
	Quad       gpu.Quad
	Dispatch   gpu.Dispatch
}

type Image struct {
	ID       int
	desc     gpu.ImageDesc
	tracker  *gpu.LayoutTracker
	Released bool
}

func (i *Image) Desc() gpu.ImageDesc            { return i.desc }
func (i *Image) Layout(layer uint32) gpu.Layout { return i.tracker.Layout(layer) }
func (i *Image) Release()                       { i.Released = true }

type Buffer struct {
	label    string
	Data     []byte
	Released bool
}

func (b *Buffer) Label() string { return b.label }
func (b *Buffer) Size() uint64  { return uint64(len(b.Data)) }
func (b *Buffer) Release()      { b.Released = true }

// Backend records everything it is asked to do.
type Backend struct {
	Samples uint32
	// BeginErr, when set, is returned by every Begin call.
	BeginErr error
	// PassErr, when set, is returned by every BeginRenderPass call.
	PassErr error

	mu         sync.Mutex
	Images     []*Image
	Buffers    []*Buffer
	Submitted  [][]Command
	Discarded  int
	Errors     []error
	transients map[gpu.ImageDesc]*Image
}

func NewBackend() *Backend {
	return &Backend{Samples: 8, transients: make(map[gpu.ImageDesc]*Image)}
}

func (b *Backend) CreateImage(desc gpu.ImageDesc) gpu.Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	img := &Image{ID: len(b.Images), desc: desc, tracker: gpu.NewLayoutTracker(desc, gpu.LayoutUndefined)}
	b.Images = append(b.Images, img)
	return img
}

func (b *Backend) TransientImage(desc gpu.ImageDesc) gpu.Image {
	desc.Transient = true
	b.mu.Lock()
	if img, ok := b.transients[desc]; ok {
		b.mu.Unlock()
		return img
	}
	b.mu.Unlock()

	img := b.CreateImage(desc).(*Image)
	b.mu.Lock()
	b.transients[desc] = img
	b.mu.Unlock()
	return img
}

func (b *Backend) CreateBuffer(label string, data []byte) gpu.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := &Buffer{label: label, Data: append([]byte(nil), data...)}
	b.Buffers = append(b.Buffers, buf)
	return buf
}

func (b *Backend) MaxSamples(gpu.Format) uint32 {
	return b.Samples
}

func (b *Backend) Begin(label string) (gpu.Recorder, error) {
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	return &Recorder{backend: b, Label: label}, nil
}

// LiveImages returns images that were created and not released, transients excluded.
func (b *Backend) LiveImages() []*Image {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Image
	for _, img := range b.Images {
		if !img.Released && !img.desc.Transient {
			out = append(out, img)
		}
	}
	return out
}

// Commands flattens every submitted command list.
func (b *Backend) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Command
	for _, list := range b.Submitted {
		out = append(out, list...)
	}
	return out
}

// Filter returns the submitted commands with the given op.
func (b *Backend) Filter(op Op) []Command {
	var out []Command
	for _, c := range b.Commands() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets submitted commands and errors but keeps resources.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Submitted = nil
	b.Discarded = 0
	b.Errors = nil
}

func (b *Backend) fail(err error) {
	b.mu.Lock()
	b.Errors = append(b.Errors, err)
	b.mu.Unlock()
}

// Recorder validates layouts as commands arrive; problems land in Backend.Errors.
type Recorder struct {
	Label    string
	backend  *Backend
	cmds     []Command
	inPass   bool
	finished bool
}

func (r *Recorder) Transition(ts ...gpu.Transition) {
	for _, t := range ts {
		img := t.Image.(*Image)
		if img.Released {
			r.backend.fail(fmt.Errorf("%w: transition of %s", gpu.ErrReleased, img.desc.Label))
		}
		if err := img.tracker.Apply(t); err != nil {
			r.backend.fail(err)
		}
		r.cmds = append(r.cmds, Command{Op: OpTransition, Transition: t, Image: t.Image})
	}
}

func (r *Recorder) ClearImage(img gpu.Image, value [4]float32) {
	if err := img.(*Image).tracker.Expect(0, 0, gpu.LayoutTransferDst); err != nil {
		r.backend.fail(err)
	}
	r.cmds = append(r.cmds, Command{Op: OpClear, Image: img, Clear: value})
}

func (r *Recorder) BeginRenderPass(rp gpu.RenderPass) error {
	if r.inPass {
		return gpu.ErrPassActive
	}
	if r.backend.PassErr != nil {
		return r.backend.PassErr
	}
	if err := gpu.CheckAttachments(rp); err != nil {
		r.backend.fail(err)
		return err
	}
	r.inPass = true
	r.cmds = append(r.cmds, Command{Op: OpBeginPass, Pass: rp})
	return nil
}

func (r *Recorder) SetViewport(rect gpu.Rect) {
	r.requirePass()
	r.cmds = append(r.cmds, Command{Op: OpViewport, Rect: rect})
}

func (r *Recorder) SetScissor(rect gpu.Rect) {
	r.requirePass()
	r.cmds = append(r.cmds, Command{Op: OpScissor, Rect: rect})
}

func (r *Recorder) DrawQuad(q gpu.Quad) {
	r.requirePass()
	if err := q.Source.(*Image).tracker.Expect(0, 0, gpu.LayoutShaderRead); err != nil {
		r.backend.fail(err)
	}
	r.cmds = append(r.cmds, Command{Op: OpDrawQuad, Quad: q})
}

func (r *Recorder) EndRenderPass() {
	r.requirePass()
	r.inPass = false
	r.cmds = append(r.cmds, Command{Op: OpEndPass})
}

func (r *Recorder) Dispatch(d gpu.Dispatch) {
	if r.inPass {
		r.backend.fail(fmt.Errorf("%w: dispatch inside render pass", gpu.ErrPassActive))
	}
	if err := d.Storage.(*Image).tracker.Expect(0, 0, gpu.LayoutGeneral); err != nil {
		r.backend.fail(err)
	}
	d.Uniforms = append([]byte(nil), d.Uniforms...)
	r.cmds = append(r.cmds, Command{Op: OpDispatch, Dispatch: d})
}

func (r *Recorder) Submit() error {
	if r.finished {
		return gpu.ErrSubmitted
	}
	if r.inPass {
		r.backend.fail(fmt.Errorf("%w: submit inside render pass", gpu.ErrPassActive))
	}
	r.finished = true
	r.cmds = append(r.cmds, Command{Op: OpSubmit})
	r.backend.mu.Lock()
	r.backend.Submitted = append(r.backend.Submitted, r.cmds)
	r.backend.mu.Unlock()
	return nil
}

func (r *Recorder) Discard() {
	if r.finished {
		return
	}
	r.finished = true
	r.inPass = false
	r.cmds = nil
	r.backend.mu.Lock()
	r.backend.Discarded++
	r.backend.mu.Unlock()
}

// Commands returns what has been recorded so far.
func (r *Recorder) Commands() []Command {
	return r.cmds
}

func (r *Recorder) requirePass() {
	if !r.inPass {
		r.backend.fail(gpu.ErrNoPass)
	}
}
