package feed

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatfeed/internal/models"
)

func TestHeuristicsEstimate(t *testing.T) {
	plain := models.Message{ID: "a", Content: "hi"}
	rich := models.Message{
		ID:          "b",
		Content:     "```go\nfmt.Println()\n```",
		Attachments: []models.Attachment{{ID: "f", MimeType: "image/png"}},
		Reactions:   []models.Reaction{{Emoji: ":+1:", Count: 2}},
	}

	tests := []struct {
		name    string
		msg     models.Message
		compact bool
		want    float64
	}{
		{name: "full", msg: plain, want: 64},
		{name: "compact", msg: plain, compact: true, want: 28},
		{name: "everything", msg: rich, want: 64 + 300 + 120 + 32},
		{name: "everything compact", msg: rich, compact: true, want: 28 + 300 + 120 + 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DefaultHeuristics.Estimate(&tt.msg, tt.compact))
		})
	}
}

func TestIsCompact(t *testing.T) {
	prev := &models.Message{AuthorID: "u1", CreatedAt: baseTime}

	require.False(t, IsCompact(nil, prev))
	require.True(t, IsCompact(prev, &models.Message{AuthorID: "u1", CreatedAt: baseTime.Add(time.Minute)}))
	require.False(t, IsCompact(prev, &models.Message{AuthorID: "u2", CreatedAt: baseTime.Add(time.Minute)}))
	require.False(t, IsCompact(prev, &models.Message{AuthorID: "u1", CreatedAt: baseTime.Add(GroupWindow)}))
}

func TestSizeModelGroupsConsecutiveAuthors(t *testing.T) {
	b := NewBuffer()
	b.Replace([]models.Message{
		{ID: "a", AuthorID: "u1", CreatedAt: baseTime},
		{ID: "b", AuthorID: "u1", CreatedAt: baseTime.Add(time.Minute)},
		{ID: "c", AuthorID: "u2", CreatedAt: baseTime.Add(2 * time.Minute)},
	})

	s := NewSizeModel(DefaultHeuristics)
	s.Sync(b)

	require.Equal(t, 64.0, s.Size(0))
	require.Equal(t, 28.0, s.Size(1))
	require.Equal(t, 64.0, s.Size(2))
	require.Equal(t, 156.0, s.TotalExtent())
}

func TestSizeModelMeasurementSurvivesPrepend(t *testing.T) {
	b := NewBuffer()
	b.Replace(history(20)[10:])

	s := NewSizeModel(uniform)
	s.Sync(b)
	require.True(t, s.Measure(2, 37))
	require.False(t, s.Measure(2, 37))
	require.Equal(t, 127.0, s.TotalExtent())

	b.Prepend(history(20)[:10])
	s.Sync(b)

	require.Equal(t, 37.0, s.Size(12))
	require.Equal(t, 10.0, s.Size(2))
	require.True(t, s.IsMeasured(msgAt(12).ID))
	require.Equal(t, 227.0, s.TotalExtent())
}

func TestSizeModelIgnoresInvalidMeasurements(t *testing.T) {
	b := NewBuffer()
	b.Replace(history(5))
	s := NewSizeModel(uniform)
	s.Sync(b)

	for _, size := range []float64{-1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		require.False(t, s.Measure(3, size), "size %v", size)
	}
	require.False(t, s.IsMeasured(msgAt(3).ID))
	require.Equal(t, 50.0, s.TotalExtent())
	require.True(t, s.Measure(3, 0))
	require.Equal(t, 40.0, s.TotalExtent())
}

func TestChannelMeasureKeepsGeometryFinite(t *testing.T) {
	ch, _ := loadedChannel(t, &historyLoader{history: history(300)})
	before := ch.State()

	ch.Measure(3, math.NaN())
	ch.Measure(4, math.Inf(1))

	after := ch.State()
	require.Equal(t, before.TotalExtent, after.TotalExtent)
	require.Equal(t, before.Viewport.Offset, after.Viewport.Offset)
	require.False(t, math.IsNaN(after.Viewport.Offset))
}

func TestSizeModelSyncDropsMeasurementsOfEvictedItems(t *testing.T) {
	b := NewBuffer()
	b.Replace(history(10))

	s := NewSizeModel(uniform)
	s.Sync(b)
	s.Measure(0, 50)
	s.Measure(9, 50)

	b.Trim(1, 10)
	s.Sync(b)

	require.False(t, s.IsMeasured(msgAt(0).ID))
	require.True(t, s.IsMeasured(msgAt(9).ID))

	s.Forget(msgAt(9).ID)
	s.Sync(b)
	require.Equal(t, 10.0, s.Size(8))
}

func TestSizeModelIndexAt(t *testing.T) {
	b := NewBuffer()
	b.Replace(history(5))

	s := NewSizeModel(uniform)
	require.Equal(t, -1, s.IndexAt(0))

	s.Sync(b)
	s.Measure(1, 30)

	tests := []struct {
		offset float64
		want   int
	}{
		{offset: -5, want: 0},
		{offset: 0, want: 0},
		{offset: 9.99, want: 0},
		{offset: 10, want: 1},
		{offset: 39.99, want: 1},
		{offset: 40, want: 2},
		{offset: 69, want: 4},
		{offset: 500, want: 4},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, s.IndexAt(tt.offset), "offset %v", tt.offset)
	}

	require.Equal(t, 10.0, s.Start(1))
	require.Equal(t, 40.0, s.End(1))
}
