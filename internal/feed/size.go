package feed

import (
	"math"
	"sort"
	"time"

	"chatfeed/internal/models"
)

// GroupWindow is how close two messages from the same author must be for the
// second one to render in the compact (header-less) form.
const GroupWindow = 5 * time.Minute

// Heuristics are the additive constants used to estimate an item's extent
// before it has been laid out.
type Heuristics struct {
	Compact   float64 `yaml:"compact"`
	Full      float64 `yaml:"full"`
	Image     float64 `yaml:"image"`
	CodeBlock float64 `yaml:"code_block"`
	Reactions float64 `yaml:"reactions"`
}

// DefaultHeuristics are pixel estimates for a graphical renderer.
var DefaultHeuristics = Heuristics{
	Compact:   28,
	Full:      64,
	Image:     300,
	CodeBlock: 120,
	Reactions: 32,
}

// LineHeuristics estimate extents in terminal rows.
var LineHeuristics = Heuristics{
	Compact:   1,
	Full:      2,
	Image:     1,
	CodeBlock: 4,
	Reactions: 1,
}

func (h Heuristics) Estimate(m *models.Message, compact bool) float64 {
	size := h.Full
	if compact {
		size = h.Compact
	}
	if m.HasImage() {
		size += h.Image
	}
	if m.HasCodeBlock() {
		size += h.CodeBlock
	}
	if m.HasReactions() {
		size += h.Reactions
	}
	return size
}

// IsCompact reports whether cur continues prev's group and renders without a
// header.
func IsCompact(prev, cur *models.Message) bool {
	if prev == nil || prev.AuthorID != cur.AuthorID {
		return false
	}
	gap := cur.CreatedAt.Sub(prev.CreatedAt)
	return gap >= 0 && gap < GroupWindow
}

// SizeModel tracks the extent of every buffered item. Measured sizes are keyed by
// message ID so they survive the index shift caused by a prepend.
type SizeModel struct {
	heuristics Heuristics
	measured   map[string]float64

	ids     []string
	sizes   []float64
	offsets []float64 // offsets[i] is the top of item i; offsets[n] is the total extent
	dirty   bool
}

func NewSizeModel(h Heuristics) *SizeModel {
	return &SizeModel{
		heuristics: h,
		measured:   make(map[string]float64),
		offsets:    []float64{0},
	}
}

// Sync rebuilds per-index sizes from the buffer and drops measurements of
// messages no longer buffered.
func (s *SizeModel) Sync(b *Buffer) {
	for id := range s.measured {
		if !b.Contains(id) {
			delete(s.measured, id)
		}
	}

	n := b.Len()
	s.ids = s.ids[:0]
	s.sizes = s.sizes[:0]

	var prev *models.Message
	for i := 0; i < n; i++ {
		m := b.At(i)
		s.ids = append(s.ids, m.ID)
		if size, ok := s.measured[m.ID]; ok {
			s.sizes = append(s.sizes, size)
		} else {
			s.sizes = append(s.sizes, s.heuristics.Estimate(&m, IsCompact(prev, &m)))
		}
		prev = &m
	}
	s.dirty = true
}

// Measure records the laid-out size of the item at index. It reports whether
// the stored size changed. Negative and non-finite sizes are ignored.
func (s *SizeModel) Measure(index int, size float64) bool {
	if index < 0 || index >= len(s.sizes) || !validSize(size) {
		return false
	}
	s.measured[s.ids[index]] = size
	if s.sizes[index] == size {
		return false
	}
	s.sizes[index] = size
	s.dirty = true
	return true
}

func validSize(size float64) bool {
	return size >= 0 && !math.IsNaN(size) && !math.IsInf(size, 0)
}

func (s *SizeModel) IsMeasured(id string) bool {
	_, ok := s.measured[id]
	return ok
}

// Forget drops measurements, used for evicted and edited items.
func (s *SizeModel) Forget(ids ...string) {
	for _, id := range ids {
		delete(s.measured, id)
	}
}

func (s *SizeModel) Len() int {
	return len(s.sizes)
}

func (s *SizeModel) Size(i int) float64 {
	return s.sizes[i]
}

func (s *SizeModel) Start(i int) float64 {
	s.recompute()
	return s.offsets[i]
}

func (s *SizeModel) End(i int) float64 {
	s.recompute()
	return s.offsets[i+1]
}

func (s *SizeModel) TotalExtent() float64 {
	s.recompute()
	return s.offsets[len(s.sizes)]
}

// IndexAt returns the index of the item covering offset, clamped to the
// valid range. It returns -1 for an empty model.
func (s *SizeModel) IndexAt(offset float64) int {
	n := len(s.sizes)
	if n == 0 {
		return -1
	}
	s.recompute()
	i := sort.Search(n, func(i int) bool { return s.offsets[i+1] > offset })
	return min(i, n-1)
}

func (s *SizeModel) recompute() {
	if !s.dirty {
		return
	}
	n := len(s.sizes)
	if cap(s.offsets) < n+1 {
		s.offsets = make([]float64, n+1)
	}
	s.offsets = s.offsets[:n+1]
	s.offsets[0] = 0
	for i, size := range s.sizes {
		s.offsets[i+1] = s.offsets[i] + size
	}
	s.dirty = false
}
