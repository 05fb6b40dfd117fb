package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatfeed/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// uniform makes every estimate 10 units so offsets are easy to reason about.
var uniform = Heuristics{Compact: 10, Full: 10}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Heuristics = uniform
	return opts
}

func msgAt(i int) models.Message {
	return models.Message{
		ID:        fmt.Sprintf("m%05d", i),
		ChannelID: "general",
		AuthorID:  fmt.Sprintf("u%d", i%3),
		Content:   fmt.Sprintf("message %d", i),
		CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
	}
}

func history(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		msgs[i] = msgAt(i)
	}
	return msgs
}

// historyLoader serves pages from an in-memory ascending history.
type historyLoader struct {
	mu         sync.Mutex
	history    []models.Message
	initial    int // overrides the initial page size when > 0
	older      int // overrides the older page size when > 0
	initialErr error
	olderErr   error
	gate       chan struct{}
	dupes      bool // serve the current head again instead of older messages

	initialCalls int
	olderCalls   int
}

func (l *historyLoader) LoadInitial(_ context.Context, _ string, limit int) (Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialCalls++
	if l.initialErr != nil {
		return Page{}, l.initialErr
	}
	if l.initial > 0 {
		limit = l.initial
	}
	start := max(0, len(l.history)-limit)
	return Page{Messages: clone(l.history[start:]), HasMore: start > 0}, nil
}

func (l *historyLoader) LoadOlder(ctx context.Context, _ string, beforeID string, limit int) (Page, error) {
	l.mu.Lock()
	l.olderCalls++
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Page{}, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.olderErr != nil {
		return Page{}, l.olderErr
	}
	if l.older > 0 {
		limit = l.older
	}
	end := 0
	for i, m := range l.history {
		if m.ID == beforeID {
			end = i
			break
		}
	}
	if l.dupes {
		return Page{Messages: clone(l.history[end : end+1]), HasMore: true}, nil
	}
	start := max(0, end-limit)
	return Page{Messages: clone(l.history[start:end]), HasMore: start > 0}, nil
}

func (l *historyLoader) calls() (initial, older int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialCalls, l.olderCalls
}

func clone(msgs []models.Message) []models.Message {
	return append([]models.Message(nil), msgs...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) scrolls() []ScrollRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScrollRequest
	for _, ev := range r.events {
		if ev.Kind == EventScroll {
			out = append(out, ev.Scroll)
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newTestChannel(t *testing.T, loader Loader, opts Options) (*Channel, *recorder) {
	t.Helper()
	rec := &recorder{}
	ch := NewChannel("general", loader, opts, nil, rec.listen)
	return ch, rec
}

// anchorTop returns the top of the item with id relative to the scroll offset.
func anchorTop(ch *Channel, id string) float64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.sizes.Start(ch.buf.IndexOf(id)) - ch.view.Offset
}
