package feed

type Align int

const (
	// AlignStart puts the item's top edge at the viewport top.
	AlignStart Align = iota
	// AlignEnd puts the item's bottom edge at the viewport bottom.
	AlignEnd
)

func (a Align) String() string {
	switch a {
	case AlignStart:
		return "start"
	case AlignEnd:
		return "end"
	default:
		return "unknown"
	}
}

type VirtualItem struct {
	Index int
	ID    string
	Start float64
	Size  float64
}

// Range is the rendered window. Start and End are the strictly visible indices
// (inclusive); Items also covers the overscan on both sides.
type Range struct {
	Start int
	End   int
	Items []VirtualItem
}

func (r Range) Empty() bool {
	return len(r.Items) == 0
}

// Center is the index in the middle of the visible range, or -1 when empty.
func (r Range) Center() int {
	if r.Empty() {
		return -1
	}
	return r.Start + (r.End-r.Start)/2
}

type Viewport struct {
	Offset float64
	Extent float64
}

// ScrollRequest asks the renderer to move to Offset.
type ScrollRequest struct {
	Offset  float64
	Animate bool
}

// Virtualizer maps a viewport onto a SizeModel.
type Virtualizer struct {
	sizes    *SizeModel
	overscan float64
}

func NewVirtualizer(sizes *SizeModel, overscan float64) *Virtualizer {
	return &Virtualizer{sizes: sizes, overscan: overscan}
}

func (v *Virtualizer) VisibleRange(offset, extent, overscan float64) Range {
	n := v.sizes.Len()
	if n == 0 || extent <= 0 {
		return Range{Start: -1, End: -1}
	}

	start := v.sizes.IndexAt(offset)
	end := v.sizes.IndexAt(offset + extent - epsilon)
	if end < start {
		end = start
	}

	first := v.sizes.IndexAt(offset - overscan)
	last := v.sizes.IndexAt(offset + extent + overscan - epsilon)

	items := make([]VirtualItem, 0, last-first+1)
	for i := first; i <= last; i++ {
		items = append(items, VirtualItem{
			Index: i,
			ID:    v.sizes.ids[i],
			Start: v.sizes.Start(i),
			Size:  v.sizes.Size(i),
		})
	}
	return Range{Start: start, End: end, Items: items}
}

func (v *Virtualizer) Range(vp Viewport) Range {
	return v.VisibleRange(vp.Offset, vp.Extent, v.overscan)
}

// ScrollToIndex computes the offset that brings index into view with the given
// alignment, clamped to the scrollable extent.
func (v *Virtualizer) ScrollToIndex(vp Viewport, index int, align Align, animate bool) ScrollRequest {
	n := v.sizes.Len()
	if n == 0 {
		return ScrollRequest{Offset: 0, Animate: animate}
	}
	index = max(0, min(index, n-1))

	var target float64
	switch align {
	case AlignEnd:
		target = v.sizes.End(index) - vp.Extent
	default:
		target = v.sizes.Start(index)
	}
	return ScrollRequest{Offset: v.Clamp(vp, target), Animate: animate}
}

func (v *Virtualizer) MaxOffset(vp Viewport) float64 {
	return max(0, v.sizes.TotalExtent()-vp.Extent)
}

func (v *Virtualizer) Clamp(vp Viewport, offset float64) float64 {
	return max(0, min(offset, v.MaxOffset(vp)))
}

const epsilon = 1e-6
