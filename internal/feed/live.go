package feed

import (
	"context"

	"chatfeed/internal/models"
)

// Indicator is the "new messages below" state shown while the user reads history.
type Indicator struct {
	HasNewMessages  bool
	NewMessageCount int
}

// Append delivers live messages to the tail and returns how many were added.
//
// The first data for an empty channel jumps to the bottom without animation.
// Otherwise a viewport at the bottom follows the new tail on the next layout,
// and one scrolled away counts the messages on the indicator.
func (c *Channel) Append(msgs ...models.Message) int {
	c.mu.Lock()

	if c.buf.HasMoreNewer {
		// The tail was evicted; these arrive again with the next reload.
		unseen := 0
		for _, m := range msgs {
			if !c.buf.Contains(m.ID) {
				unseen++
			}
		}
		if unseen > 0 {
			c.bumpIndicatorLocked(unseen)
		}
		c.unlockAndDispatch()
		return 0
	}

	prev := c.buf.Len()
	added := c.buf.Append(msgs...)
	if added == 0 {
		c.mu.Unlock()
		return 0
	}
	c.sizes.Sync(c.buf)
	c.emitLocked(Event{Kind: EventBufferChanged})

	switch {
	case prev == 0:
		c.scrollToBottomLocked(false)
	case c.atBottom:
		c.followPending = true
	default:
		c.bumpIndicatorLocked(added)
	}
	c.unlockAndDispatch()
	return added
}

// Update applies a live edit. The item's measurement is dropped so the renderer
// measures it again.
func (c *Channel) Update(m models.Message) bool {
	c.mu.Lock()
	if !c.buf.Update(m) {
		c.mu.Unlock()
		return false
	}
	c.sizes.Forget(m.ID)
	c.sizes.Sync(c.buf)
	c.emitLocked(Event{Kind: EventBufferChanged})
	if c.atBottom && c.state == StateIdle {
		c.followPending = true
	}
	c.unlockAndDispatch()
	return true
}

// Remove applies a live delete.
func (c *Channel) Remove(id string) bool {
	c.mu.Lock()
	index := c.buf.IndexOf(id)
	if index < 0 {
		c.mu.Unlock()
		return false
	}
	above := c.sizes.End(index) <= c.view.Offset
	size := c.sizes.Size(index)

	c.buf.Remove(id)
	c.sizes.Forget(id)
	c.sizes.Sync(c.buf)
	c.emitLocked(Event{Kind: EventBufferChanged})

	offset := c.view.Offset
	if above {
		offset -= size
	}
	c.scrollToLocked(ScrollRequest{Offset: c.virt.Clamp(c.view, offset)})
	c.unlockAndDispatch()
	return true
}

// JumpToLatest scrolls to the newest message with animation and clears the
// indicator. If eviction dropped the tail, the latest page is reloaded first.
func (c *Channel) JumpToLatest(ctx context.Context) error {
	c.mu.Lock()
	reload := c.buf.HasMoreNewer
	c.mu.Unlock()

	if reload {
		if err := c.LoadInitial(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.followPending = false
	c.scrollToBottomLocked(true)
	c.resetIndicatorLocked()
	c.unlockAndDispatch()
	return nil
}

func (c *Channel) bumpIndicatorLocked(n int) {
	c.indicator.HasNewMessages = true
	c.indicator.NewMessageCount += n
	c.emitLocked(Event{Kind: EventIndicatorChanged})
}

func (c *Channel) resetIndicatorLocked() {
	if c.indicator == (Indicator{}) {
		return
	}
	c.indicator = Indicator{}
	c.emitLocked(Event{Kind: EventIndicatorChanged})
}
