package feed

import (
	"slices"
	"sort"

	"chatfeed/internal/models"
)

// Buffer is the in-memory window of a channel's history. Messages are unique by ID
// and ordered ascending by CreatedAt; messages with equal timestamps keep arrival order.
type Buffer struct {
	messages []models.Message
	ids      map[string]struct{}

	HasMoreOlder   bool
	HasMoreNewer   bool
	IsLoadingOlder bool
}

func NewBuffer() *Buffer {
	return &Buffer{ids: make(map[string]struct{})}
}

func (b *Buffer) Len() int {
	return len(b.messages)
}

func (b *Buffer) At(i int) models.Message {
	return b.messages[i]
}

// Messages returns a copy of the buffered messages.
func (b *Buffer) Messages() []models.Message {
	return slices.Clone(b.messages)
}

func (b *Buffer) Contains(id string) bool {
	_, ok := b.ids[id]
	return ok
}

func (b *Buffer) IndexOf(id string) int {
	if !b.Contains(id) {
		return -1
	}
	for i := range b.messages {
		if b.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Buffer) First() (models.Message, bool) {
	if len(b.messages) == 0 {
		return models.Message{}, false
	}
	return b.messages[0], true
}

func (b *Buffer) Last() (models.Message, bool) {
	if len(b.messages) == 0 {
		return models.Message{}, false
	}
	return b.messages[len(b.messages)-1], true
}

// Replace swaps the whole buffer for an initial load.
func (b *Buffer) Replace(msgs []models.Message) {
	b.messages = b.messages[:0]
	b.ids = make(map[string]struct{}, len(msgs))
	b.HasMoreNewer = false
	for _, m := range msgs {
		if _, dup := b.ids[m.ID]; dup {
			continue
		}
		b.ids[m.ID] = struct{}{}
		b.messages = append(b.messages, m)
	}
	sortByCreatedAt(b.messages)
}

// Prepend inserts an older page in front of the buffer and returns how many
// messages were actually added. IDs already present are skipped.
func (b *Buffer) Prepend(older []models.Message) int {
	page := b.fresh(older)
	if len(page) == 0 {
		return 0
	}
	sortByCreatedAt(page)

	needsSort := len(b.messages) > 0 && page[len(page)-1].CreatedAt.After(b.messages[0].CreatedAt)

	merged := make([]models.Message, 0, len(page)+len(b.messages))
	merged = append(merged, page...)
	merged = append(merged, b.messages...)
	if needsSort {
		sortByCreatedAt(merged)
	}

	for _, m := range page {
		b.ids[m.ID] = struct{}{}
	}
	b.messages = merged
	return len(page)
}

// Append adds live messages at the tail and returns how many were added.
// A message older than the current tail is inserted at its ordered position.
func (b *Buffer) Append(msgs ...models.Message) int {
	added := 0
	for _, m := range b.fresh(msgs) {
		b.ids[m.ID] = struct{}{}
		n := len(b.messages)
		if n == 0 || !m.CreatedAt.Before(b.messages[n-1].CreatedAt) {
			b.messages = append(b.messages, m)
		} else {
			at := sort.Search(n, func(i int) bool {
				return b.messages[i].CreatedAt.After(m.CreatedAt)
			})
			b.messages = slices.Insert(b.messages, at, m)
		}
		added++
	}
	return added
}

// Trim keeps only [keepStart, keepEnd). An empty window leaves the buffer
// untouched and reports false.
func (b *Buffer) Trim(keepStart, keepEnd int) bool {
	keepStart = max(0, keepStart)
	keepEnd = min(len(b.messages), keepEnd)
	if keepEnd <= keepStart {
		return false
	}
	if keepStart == 0 && keepEnd == len(b.messages) {
		return true
	}

	for _, m := range b.messages[:keepStart] {
		delete(b.ids, m.ID)
	}
	for _, m := range b.messages[keepEnd:] {
		delete(b.ids, m.ID)
	}

	kept := make([]models.Message, keepEnd-keepStart)
	copy(kept, b.messages[keepStart:keepEnd])
	b.messages = kept
	return true
}

// Update replaces a buffered message in place. Unknown IDs are ignored.
func (b *Buffer) Update(m models.Message) bool {
	i := b.IndexOf(m.ID)
	if i < 0 {
		return false
	}
	moved := !b.messages[i].CreatedAt.Equal(m.CreatedAt)
	b.messages[i] = m
	if moved {
		sortByCreatedAt(b.messages)
	}
	return true
}

func (b *Buffer) Remove(id string) bool {
	i := b.IndexOf(id)
	if i < 0 {
		return false
	}
	delete(b.ids, id)
	b.messages = slices.Delete(b.messages, i, i+1)
	return true
}

// fresh filters out messages already buffered or repeated within msgs.
func (b *Buffer) fresh(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID == "" || b.Contains(m.ID) {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

func sortByCreatedAt(msgs []models.Message) {
	slices.SortStableFunc(msgs, func(a, b models.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
