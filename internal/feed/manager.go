package feed

import (
	"log/slog"
	"sync"

	"chatfeed/internal/models"
)

type LiveKind int

const (
	LiveCreate LiveKind = iota
	LiveUpdate
	LiveDelete
)

// LiveEvent is a message change pushed by the live transport.
type LiveEvent struct {
	Kind      LiveKind
	ChannelID string
	Message   models.Message
	MessageID string
}

// Manager keys every channel's feed state by channel ID. Switching channels
// only changes which entry is active; warm channels keep their state.
type Manager struct {
	loader Loader
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
	active   string
	listener Listener
}

func NewManager(loader Loader, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		loader:   loader,
		opts:     opts.WithDefaults(),
		logger:   logger,
		channels: make(map[string]*Channel),
	}
}

// SetListener installs the listener that receives events from every channel.
func (m *Manager) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

func (m *Manager) dispatch(ev Event) {
	m.mu.RLock()
	l := m.listener
	m.mu.RUnlock()
	if l != nil {
		l(ev)
	}
}

// Channel returns the state for id, creating it on first use.
func (m *Manager) Channel(id string) *Channel {
	m.mu.RLock()
	ch, ok := m.channels[id]
	m.mu.RUnlock()
	if ok {
		return ch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[id]; ok {
		return ch
	}
	ch = NewChannel(id, m.loader, m.opts, m.logger, m.dispatch)
	m.channels[id] = ch
	return ch
}

func (m *Manager) Lookup(id string) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Switch makes id the active channel and returns its state.
func (m *Manager) Switch(id string) *Channel {
	ch := m.Channel(id)
	m.mu.Lock()
	m.active = id
	m.mu.Unlock()
	return ch
}

// Active returns the active channel, or nil before the first Switch.
func (m *Manager) Active() *Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil
	}
	return m.channels[m.active]
}

// Drop forgets a channel's state. A fetch still in flight for it completes
// against the dropped state and is never seen again.
func (m *Manager) Drop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
	if m.active == id {
		m.active = ""
	}
}

func (m *Manager) ChannelIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	return ids
}

// Deliver routes a live event to the channel it belongs to. Events for channels
// that are not warm are ignored; those channels load fresh when opened.
func (m *Manager) Deliver(ev LiveEvent) bool {
	ch, ok := m.Lookup(ev.ChannelID)
	if !ok {
		return false
	}
	switch ev.Kind {
	case LiveCreate:
		return ch.Append(ev.Message) > 0
	case LiveUpdate:
		return ch.Update(ev.Message)
	case LiveDelete:
		id := ev.MessageID
		if id == "" {
			id = ev.Message.ID
		}
		return ch.Remove(id)
	default:
		m.logger.Warn("unknown live event kind", "component", "feed", "kind", int(ev.Kind))
		return false
	}
}
