package gpu

import (
	"fmt"
	"sync"
)

// LayoutTracker records the layout of every layer of one image.
type LayoutTracker struct {
	mu      sync.Mutex
	layouts []Layout
}

func NewLayoutTracker(desc ImageDesc, initial Layout) *LayoutTracker {
	t := &LayoutTracker{layouts: make([]Layout, desc.LayerCount())}
	for i := range t.layouts {
		t.layouts[i] = initial
	}
	return t
}

func (t *LayoutTracker) Layout(layer uint32) Layout {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(layer) >= len(t.layouts) {
		return LayoutUndefined
	}
	return t.layouts[layer]
}

func (t *LayoutTracker) span(base, count uint32) (uint32, uint32, error) {
	n := uint32(len(t.layouts))
	if count == 0 {
		if base >= n {
			return 0, 0, fmt.Errorf("%w: base layer %d of %d", ErrLayoutMismatch, base, n)
		}
		count = n - base
	}
	if base+count > n {
		return 0, 0, fmt.Errorf("%w: layers %d..%d of %d", ErrLayoutMismatch, base, base+count, n)
	}
	return base, base + count, nil
}

// Apply moves the layers of tr into tr.LayoutAfter. Unless LayoutBefore is
// undefined, every touched layer must currently be in LayoutBefore; the
// transition is still applied and the mismatch returned.
func (t *LayoutTracker) Apply(tr Transition) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lo, hi, err := t.span(tr.BaseLayer, tr.LayerCount)
	if err != nil {
		return err
	}
	for i := lo; i < hi; i++ {
		if tr.LayoutBefore != LayoutUndefined && t.layouts[i] != tr.LayoutBefore && err == nil {
			err = fmt.Errorf("%w: layer %d is %s, expected %s", ErrLayoutMismatch, i, t.layouts[i], tr.LayoutBefore)
		}
		t.layouts[i] = tr.LayoutAfter
	}
	return err
}

// Expect checks that layers [base, base+count) are in layout l.
func (t *LayoutTracker) Expect(base, count uint32, l Layout) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lo, hi, err := t.span(base, count)
	if err != nil {
		return err
	}
	for i := lo; i < hi; i++ {
		if t.layouts[i] != l {
			return fmt.Errorf("%w: layer %d is %s, expected %s", ErrLayoutMismatch, i, t.layouts[i], l)
		}
	}
	return nil
}

// CheckAttachments verifies the layouts a render pass needs.
func CheckAttachments(rp RenderPass) error {
	for _, c := range rp.Color {
		if err := expectAttachment(c.Image, c.Layer, LayoutColorTarget); err != nil {
			return err
		}
		if c.Resolve != nil {
			if err := expectAttachment(c.Resolve, 0, LayoutColorTarget); err != nil {
				return err
			}
		}
	}
	if rp.Depth != nil {
		return expectAttachment(rp.Depth.Image, rp.Depth.Layer, LayoutDepthTarget)
	}
	return nil
}

func expectAttachment(img Image, layer uint32, l Layout) error {
	if img.Desc().Transient {
		return nil
	}
	if got := img.Layout(layer); got != l {
		return fmt.Errorf("%w: %s layer %d is %s, expected %s", ErrLayoutMismatch, img.Desc().Label, layer, got, l)
	}
	return nil
}
