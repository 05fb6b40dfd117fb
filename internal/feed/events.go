package feed

type EventKind int

const (
	EventBufferChanged EventKind = iota
	EventScroll
	EventIndicatorChanged
	EventPaginationChanged
	EventPaginationFailed
	EventInitialLoadFailed
)

func (k EventKind) String() string {
	switch k {
	case EventBufferChanged:
		return "buffer_changed"
	case EventScroll:
		return "scroll"
	case EventIndicatorChanged:
		return "indicator_changed"
	case EventPaginationChanged:
		return "pagination_changed"
	case EventPaginationFailed:
		return "pagination_failed"
	case EventInitialLoadFailed:
		return "initial_load_failed"
	default:
		return "unknown"
	}
}

// Event notifies the renderer that a channel's state changed.
type Event struct {
	ChannelID string
	Kind      EventKind
	Scroll    ScrollRequest
	Err       error
}

// Listener receives events after the channel lock has been released, so it may
// call back into the channel.
type Listener func(Event)
