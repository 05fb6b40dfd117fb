package feed

import (
	"context"

	"chatfeed/internal/metrics"
)

type PaginationState int

const (
	StateIdle PaginationState = iota
	StateLoadingOlder
	StateRestoringAnchor
	StateEvicting
)

func (s PaginationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoadingOlder:
		return "loading_older"
	case StateRestoringAnchor:
		return "restoring_anchor"
	case StateEvicting:
		return "evicting"
	default:
		return "unknown"
	}
}

// ScrollAnchor pins the topmost visible item across a prepend. PixelOffset is
// the item's top edge relative to the scroll offset (zero or negative).
type ScrollAnchor struct {
	Index       int
	ID          string
	PixelOffset float64
}

// TryLoadOlder starts a backward pagination cycle if none is in flight and older
// history exists. The guard is taken before it returns, so the returned fetch can
// run on another goroutine without a second trigger slipping in. The fetch must
// be called exactly once.
func (c *Channel) TryLoadOlder() (func(context.Context) error, bool) {
	if !c.guard.CompareAndSwap(false, true) {
		return nil, false
	}

	c.mu.Lock()
	first, ok := c.buf.First()
	if !ok || !c.loaded || !c.buf.HasMoreOlder || c.buf.IsLoadingOlder {
		c.guard.Store(false)
		c.mu.Unlock()
		return nil, false
	}

	top := c.sizes.IndexAt(c.view.Offset)
	c.anchor = &ScrollAnchor{
		Index:       top,
		ID:          c.buf.At(top).ID,
		PixelOffset: c.sizes.Start(top) - c.view.Offset,
	}
	c.state = StateLoadingOlder
	c.buf.IsLoadingOlder = true
	c.pageErr = nil
	generation := c.generation
	beforeID := first.ID
	c.emitLocked(Event{Kind: EventPaginationChanged})
	c.unlockAndDispatch()

	return func(ctx context.Context) error {
		return c.fetchOlder(ctx, generation, beforeID)
	}, true
}

// LoadOlder runs a full backward fetch synchronously. It reports false without
// side effects when a cycle is already in flight or nothing older exists.
func (c *Channel) LoadOlder(ctx context.Context) (bool, error) {
	fetch, ok := c.TryLoadOlder()
	if !ok {
		return false, nil
	}
	return true, fetch(ctx)
}

// TryRetry re-enters the pagination flow after a failed fetch.
func (c *Channel) TryRetry() (func(context.Context) error, error) {
	if c.PaginationError() == nil {
		return nil, ErrNoPaginationError
	}
	fetch, ok := c.TryLoadOlder()
	if !ok {
		return func(context.Context) error { return nil }, nil
	}
	return fetch, nil
}

func (c *Channel) Retry(ctx context.Context) error {
	fetch, err := c.TryRetry()
	if err != nil {
		return err
	}
	return fetch(ctx)
}

func (c *Channel) fetchOlder(ctx context.Context, generation uint64, beforeID string) error {
	page, err := c.loader.LoadOlder(ctx, c.id, beforeID, c.opts.PageSize)
	metrics.ObserveFetch("older", err)

	c.mu.Lock()
	c.buf.IsLoadingOlder = false

	if generation != c.generation {
		c.logger.Debug("discarding history page for reloaded channel", "before_id", beforeID)
		c.finishCycleLocked()
		c.emitLocked(Event{Kind: EventPaginationChanged})
		c.unlockAndDispatch()
		return nil
	}

	if err != nil {
		c.pageErr = &PaginationFetchError{ChannelID: c.id, BeforeID: beforeID, Err: err}
		c.finishCycleLocked()
		c.logger.Warn("loading older messages failed", "before_id", beforeID, "error", err)
		fetchErr := c.pageErr
		c.emitLocked(Event{Kind: EventPaginationFailed, Err: fetchErr})
		c.unlockAndDispatch()
		return fetchErr
	}

	c.buf.HasMoreOlder = page.HasMore
	added := c.buf.Prepend(page.Messages)
	if added == 0 {
		c.finishCycleLocked()
		c.emitLocked(Event{Kind: EventPaginationChanged})
		c.unlockAndDispatch()
		return nil
	}

	c.sizes.Sync(c.buf)
	c.state = StateRestoringAnchor
	index := c.buf.IndexOf(c.anchor.ID)
	if index < 0 {
		index = c.anchor.Index + added
	}
	c.emitLocked(Event{Kind: EventBufferChanged})
	c.scrollToLocked(c.virt.ScrollToIndex(c.view, index, AlignStart, false))
	c.emitLocked(Event{Kind: EventPaginationChanged})
	c.logger.Debug("older messages prepended", "added", added, "len", c.buf.Len(), "has_more", page.HasMore)
	c.unlockAndDispatch()
	return nil
}

// restoreAnchorLocked applies the residual pixel offset once the prepended
// items have been laid out and measured.
func (c *Channel) restoreAnchorLocked() {
	if c.anchor == nil {
		return
	}
	index := c.buf.IndexOf(c.anchor.ID)
	if index < 0 {
		return
	}
	target := c.sizes.Start(index) - c.anchor.PixelOffset
	c.scrollToLocked(ScrollRequest{Offset: c.virt.Clamp(c.view, target)})
}

// evictLocked trims the buffer around the middle of the live visible range.
func (c *Channel) evictLocked() {
	length := c.buf.Len()
	plan := c.policy.Plan(length, c.virt.Range(c.view).Center())
	if !plan.Triggered {
		return
	}
	if plan.Skipped {
		c.logger.Debug("eviction skipped", "len", length, "keep_start", plan.KeepStart, "keep_end", plan.KeepEnd)
		metrics.ObserveEviction(true, 0)
		return
	}

	removedHead := c.sizes.Start(plan.KeepStart)
	if !c.buf.Trim(plan.KeepStart, plan.KeepEnd) {
		c.logger.Debug("eviction skipped", "len", length)
		metrics.ObserveEviction(true, 0)
		return
	}
	if plan.KeepStart > 0 {
		c.buf.HasMoreOlder = true
	}
	if plan.KeepEnd < length {
		c.buf.HasMoreNewer = true
	}
	c.sizes.Sync(c.buf)

	removed := plan.Removed(length)
	metrics.ObserveEviction(false, removed)
	c.logger.Info("evicted buffered messages", "removed", removed, "len", c.buf.Len(), "keep_start", plan.KeepStart)

	c.emitLocked(Event{Kind: EventBufferChanged})
	c.scrollToLocked(ScrollRequest{Offset: c.virt.Clamp(c.view, c.view.Offset-removedHead)})
}

// finishCycleLocked returns the controller to idle and releases the guard.
func (c *Channel) finishCycleLocked() {
	c.state = StateIdle
	c.anchor = nil
	c.guard.Store(false)
}

// resetPaginationLocked abandons a cycle whose fetch has already been applied.
// A fetch still in flight releases the guard itself when it returns.
func (c *Channel) resetPaginationLocked() {
	if c.state == StateRestoringAnchor || c.state == StateEvicting {
		c.finishCycleLocked()
	}
	c.pageErr = nil
}
