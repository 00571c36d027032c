package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutTrackerRanges(t *testing.T) {
	desc := ImageDesc{Label: "atlas", Layers: 12}
	tr := NewLayoutTracker(desc, LayoutUndefined)

	require.NoError(t, tr.Apply(Transition{LayoutBefore: LayoutUndefined, LayoutAfter: LayoutShaderRead}))
	require.NoError(t, tr.Expect(0, 0, LayoutShaderRead))

	// Only layers 6..11 move.
	require.NoError(t, tr.Apply(Transition{LayoutBefore: LayoutUndefined, LayoutAfter: LayoutDepthTarget, BaseLayer: 6, LayerCount: 6}))
	assert.Equal(t, LayoutShaderRead, tr.Layout(5))
	assert.Equal(t, LayoutDepthTarget, tr.Layout(6))
	assert.Equal(t, LayoutDepthTarget, tr.Layout(11))
	assert.NoError(t, tr.Expect(0, 6, LayoutShaderRead))
	assert.ErrorIs(t, tr.Expect(0, 0, LayoutShaderRead), ErrLayoutMismatch)
}

func TestLayoutTrackerMismatch(t *testing.T) {
	tr := NewLayoutTracker(ImageDesc{Layers: 2}, LayoutShaderRead)

	tests := []struct {
		name    string
		tr      Transition
		wantErr bool
	}{
		{"matching before", Transition{LayoutBefore: LayoutShaderRead, LayoutAfter: LayoutColorTarget, LayerCount: 1}, false},
		{"stale before", Transition{LayoutBefore: LayoutShaderRead, LayoutAfter: LayoutShaderRead, LayerCount: 1}, true},
		{"undefined discards", Transition{LayoutBefore: LayoutUndefined, LayoutAfter: LayoutGeneral}, false},
		{"out of range", Transition{BaseLayer: 1, LayerCount: 4}, true},
	}
	for _, tc := range tests {
		err := tr.Apply(tc.tr)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrLayoutMismatch, tc.name)
		} else {
			assert.NoError(t, err, tc.name)
		}
	}
	assert.Equal(t, LayoutGeneral, tr.Layout(0))
}

func TestLayerCount(t *testing.T) {
	assert.Equal(t, uint32(1), ImageDesc{Dimension: Dim3D, Depth: 64}.LayerCount())
	assert.Equal(t, uint32(1), ImageDesc{}.LayerCount())
	assert.Equal(t, uint32(192), ImageDesc{Layers: 192, Cube: true}.LayerCount())
}
