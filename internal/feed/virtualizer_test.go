package feed

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newUniformVirtualizer(n int, overscan float64) *Virtualizer {
	b := NewBuffer()
	b.Replace(history(n))
	s := NewSizeModel(uniform)
	s.Sync(b)
	return NewVirtualizer(s, overscan)
}

func TestVisibleRange(t *testing.T) {
	v := newUniformVirtualizer(30, 20)

	r := v.VisibleRange(95, 50, 20)
	require.Equal(t, 9, r.Start)
	require.Equal(t, 14, r.End)
	require.Len(t, r.Items, 10)
	require.Equal(t, 7, r.Items[0].Index)
	require.Equal(t, 16, r.Items[len(r.Items)-1].Index)
	require.Equal(t, msgAt(7).ID, r.Items[0].ID)
	require.Equal(t, 70.0, r.Items[0].Start)
	require.Equal(t, 11, r.Center())
}

func TestVisibleRangeClampsAtEdges(t *testing.T) {
	v := newUniformVirtualizer(30, 400)

	r := v.Range(Viewport{Offset: 0, Extent: 50})
	require.Equal(t, 0, r.Start)
	require.Equal(t, 4, r.End)
	require.Len(t, r.Items, 30)

	r = v.Range(Viewport{Offset: 250, Extent: 50})
	require.Equal(t, 25, r.Start)
	require.Equal(t, 29, r.End)
}

func TestVisibleRangeEmpty(t *testing.T) {
	v := newUniformVirtualizer(0, 20)

	r := v.VisibleRange(0, 50, 20)
	require.True(t, r.Empty())
	require.Equal(t, -1, r.Center())

	v = newUniformVirtualizer(10, 20)
	require.True(t, v.VisibleRange(0, 0, 20).Empty())
}

func TestScrollToIndex(t *testing.T) {
	v := newUniformVirtualizer(30, 0)
	vp := Viewport{Offset: 0, Extent: 50}

	tests := []struct {
		name  string
		index int
		align Align
		want  float64
	}{
		{name: "start", index: 5, align: AlignStart, want: 50},
		{name: "end", index: 5, align: AlignEnd, want: 10},
		{name: "start clamped to max offset", index: 29, align: AlignStart, want: 250},
		{name: "index past the end", index: 100, align: AlignEnd, want: 250},
		{name: "end clamped to zero", index: 0, align: AlignEnd, want: 0},
		{name: "negative index", index: -4, align: AlignStart, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := v.ScrollToIndex(vp, tt.index, tt.align, true)
			require.Equal(t, tt.want, req.Offset)
			require.True(t, req.Animate)
		})
	}
}

func TestClamp(t *testing.T) {
	v := newUniformVirtualizer(3, 0)

	require.Equal(t, 0.0, v.MaxOffset(Viewport{Extent: 100}))
	require.Equal(t, 0.0, v.Clamp(Viewport{Extent: 100}, 40))
	require.Equal(t, 20.0, v.Clamp(Viewport{Extent: 10}, 40))
	require.Equal(t, 0.0, v.Clamp(Viewport{Extent: 10}, -3))
}
