package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"chatfeed/internal/metrics"
	"chatfeed/internal/models"
)

// Channel is the windowed feed of a single channel: its buffer, size model,
// viewport, pagination cycle and new-message indicator. All methods are safe
// for concurrent use; the loader is always called without the lock held.
type Channel struct {
	id       string
	loader   Loader
	opts     Options
	policy   EvictionPolicy
	logger   *slog.Logger
	listener Listener

	// guard is held from the moment a backward fetch is accepted until anchor
	// restore and eviction have both completed.
	guard atomic.Bool

	mu             sync.Mutex
	buf            *Buffer
	sizes          *SizeModel
	virt           *Virtualizer
	view           Viewport
	atBottom       bool
	indicator      Indicator
	state          PaginationState
	anchor         *ScrollAnchor
	pageErr        *PaginationFetchError
	initErr        *InitialLoadError
	loadingInitial bool
	loaded         bool
	generation     uint64
	followPending  bool
	pending        []Event
}

// State is a consistent snapshot of a channel for the renderer.
type State struct {
	ChannelID      string
	Len            int
	Viewport       Viewport
	TotalExtent    float64
	AtBottom       bool
	Indicator      Indicator
	Pagination     PaginationState
	HasMoreOlder   bool
	HasMoreNewer   bool
	IsLoadingOlder bool
	LoadingInitial bool
	Loaded         bool
	PaginationErr  error
	InitialErr     error
}

// ScrollStatus is returned from every scroll tick.
type ScrollStatus struct {
	AtBottom bool
	NearTop  bool
}

func NewChannel(id string, loader Loader, opts Options, logger *slog.Logger, listener Listener) *Channel {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	sizes := NewSizeModel(opts.Heuristics)
	return &Channel{
		id:       id,
		loader:   loader,
		opts:     opts,
		policy:   EvictionPolicy{Cap: opts.Cap, KeepWindow: opts.KeepWindow},
		logger:   logger.With("component", "feed", "channel_id", id),
		listener: listener,
		buf:      NewBuffer(),
		sizes:    sizes,
		virt:     NewVirtualizer(sizes, opts.Overscan),
		atBottom: true,
	}
}

func (c *Channel) ID() string {
	return c.id
}

// LoadInitial replaces the buffer with the latest page and jumps to the bottom.
// On failure the channel keeps its previous contents and records an
// InitialLoadError; calling LoadInitial again retries.
func (c *Channel) LoadInitial(ctx context.Context) error {
	c.mu.Lock()
	c.loadingInitial = true
	c.initErr = nil
	c.unlockAndDispatch()

	page, err := c.loader.LoadInitial(ctx, c.id, c.opts.PageSize)
	metrics.ObserveFetch("initial", err)

	c.mu.Lock()
	c.loadingInitial = false
	if err != nil {
		c.initErr = &InitialLoadError{ChannelID: c.id, Err: err}
		c.logger.Warn("initial load failed", "error", err)
		c.emitLocked(Event{Kind: EventInitialLoadFailed, Err: c.initErr})
		loadErr := c.initErr
		c.unlockAndDispatch()
		return loadErr
	}

	c.generation++
	c.buf.Replace(page.Messages)
	c.buf.HasMoreOlder = page.HasMore
	c.sizes.Sync(c.buf)
	c.loaded = true
	c.resetPaginationLocked()
	c.followPending = false
	c.resetIndicatorLocked()
	c.emitLocked(Event{Kind: EventBufferChanged})
	c.scrollToBottomLocked(false)
	c.logger.Debug("initial page loaded", "count", c.buf.Len(), "has_more", page.HasMore)
	c.unlockAndDispatch()
	return nil
}

// Resize sets the viewport extent. A viewport pinned to the bottom stays pinned.
func (c *Channel) Resize(extent float64) {
	c.mu.Lock()
	pinned := c.atBottom
	c.view.Extent = max(0, extent)
	if pinned {
		c.view.Offset = c.virt.MaxOffset(c.view)
	} else {
		c.view.Offset = c.virt.Clamp(c.view, c.view.Offset)
	}
	c.updateAtBottomLocked()
	c.unlockAndDispatch()
}

// OnScroll records a scroll tick from the renderer.
func (c *Channel) OnScroll(offset float64) ScrollStatus {
	c.mu.Lock()
	prev := c.view.Offset
	c.view.Offset = c.virt.Clamp(c.view, offset)
	if c.view.Offset < prev {
		c.followPending = false
	}
	c.updateAtBottomLocked()
	status := ScrollStatus{AtBottom: c.atBottom, NearTop: c.nearTopLocked()}
	c.unlockAndDispatch()
	return status
}

// ScrollBy moves the viewport relative to its current offset.
func (c *Channel) ScrollBy(delta float64) ScrollStatus {
	c.mu.Lock()
	offset := c.view.Offset + delta
	c.mu.Unlock()
	return c.OnScroll(offset)
}

// ShouldLoadOlder reports whether the top sentinel is within the lookahead
// margin and a backward fetch may start. After a failed fetch only Retry
// starts the next one.
func (c *Channel) ShouldLoadOlder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.pageErr == nil && c.nearTopLocked() && c.buf.HasMoreOlder && !c.buf.IsLoadingOlder && !c.guard.Load()
}

func (c *Channel) ScrollToIndex(index int, align Align, animate bool) ScrollRequest {
	c.mu.Lock()
	req := c.virt.ScrollToIndex(c.view, index, align, animate)
	c.scrollToLocked(req)
	c.unlockAndDispatch()
	return req
}

// Measure records the laid-out size of the item at index. When an item above
// the viewport changes size the offset moves with it so the visible content
// stays put.
func (c *Channel) Measure(index int, size float64) {
	c.mu.Lock()
	if index < 0 || index >= c.sizes.Len() {
		c.mu.Unlock()
		return
	}
	old := c.sizes.Size(index)
	above := c.sizes.End(index) <= c.view.Offset
	if !c.sizes.Measure(index, size) {
		c.mu.Unlock()
		return
	}
	switch {
	case c.atBottom && c.state == StateIdle:
		c.scrollToLocked(ScrollRequest{Offset: c.virt.MaxOffset(c.view)})
	case above:
		c.scrollToLocked(ScrollRequest{Offset: c.virt.Clamp(c.view, c.view.Offset+size-old)})
	}
	c.unlockAndDispatch()
}

func (c *Channel) Range() Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.virt.Range(c.view)
}

// Window returns the rendered range together with the messages it covers,
// taken under one lock so they are consistent.
func (c *Channel) Window() (Range, []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.virt.Range(c.view)
	msgs := make([]models.Message, len(r.Items))
	for i, item := range r.Items {
		msgs[i] = c.buf.At(item.Index)
	}
	return r, msgs
}

func (c *Channel) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Messages()
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		ChannelID:      c.id,
		Len:            c.buf.Len(),
		Viewport:       c.view,
		TotalExtent:    c.sizes.TotalExtent(),
		AtBottom:       c.atBottom,
		Indicator:      c.indicator,
		Pagination:     c.state,
		HasMoreOlder:   c.buf.HasMoreOlder,
		HasMoreNewer:   c.buf.HasMoreNewer,
		IsLoadingOlder: c.buf.IsLoadingOlder,
		LoadingInitial: c.loadingInitial,
		Loaded:         c.loaded,
	}
	if c.pageErr != nil {
		s.PaginationErr = c.pageErr
	}
	if c.initErr != nil {
		s.InitialErr = c.initErr
	}
	return s
}

func (c *Channel) Indicator() Indicator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indicator
}

// PaginationError returns the last failed backward fetch, if any.
func (c *Channel) PaginationError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pageErr == nil {
		return nil
	}
	return c.pageErr
}

// AwaitingLayout reports whether the channel has work queued for the next
// LayoutSettled notification.
func (c *Channel) AwaitingLayout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.followPending || c.state == StateRestoringAnchor || c.state == StateEvicting
}

// LayoutSettled is the renderer's notification that a frame reflecting the
// current buffer has been laid out. It advances anchor restore and eviction
// one step per call and performs a pending follow-to-bottom.
func (c *Channel) LayoutSettled() {
	c.mu.Lock()
	switch c.state {
	case StateRestoringAnchor:
		c.restoreAnchorLocked()
		c.state = StateEvicting
		c.emitLocked(Event{Kind: EventPaginationChanged})
	case StateEvicting:
		c.evictLocked()
		c.finishCycleLocked()
		c.emitLocked(Event{Kind: EventPaginationChanged})
	}
	if c.followPending {
		c.followPending = false
		c.scrollToBottomLocked(true)
	}
	c.unlockAndDispatch()
}

func (c *Channel) nearTopLocked() bool {
	return c.buf.Len() > 0 && c.view.Offset <= c.opts.Lookahead
}

func (c *Channel) scrollToLocked(req ScrollRequest) {
	c.view.Offset = req.Offset
	c.updateAtBottomLocked()
	c.emitLocked(Event{Kind: EventScroll, Scroll: req})
}

func (c *Channel) scrollToBottomLocked(animate bool) {
	c.scrollToLocked(ScrollRequest{Offset: c.virt.MaxOffset(c.view), Animate: animate})
}

// updateAtBottomLocked recomputes the at-bottom predicate. A buffer whose tail
// was evicted is never at the bottom of the feed.
func (c *Channel) updateAtBottomLocked() {
	remaining := c.sizes.TotalExtent() - c.view.Offset - c.view.Extent
	c.atBottom = !c.buf.HasMoreNewer && remaining < c.opts.AtBottomThreshold
	if c.atBottom {
		c.resetIndicatorLocked()
	}
}

func (c *Channel) emitLocked(ev Event) {
	c.pending = append(c.pending, ev)
}

// unlockAndDispatch releases c.mu and delivers the events queued while it was held.
func (c *Channel) unlockAndDispatch() {
	events := c.pending
	c.pending = nil
	c.mu.Unlock()

	if c.listener == nil {
		return
	}
	for _, ev := range events {
		ev.ChannelID = c.id
		c.listener(ev)
	}
}
