package ws

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"chatfeed/internal/auth"
	"chatfeed/internal/constants"
	"chatfeed/internal/db"
	"chatfeed/internal/metrics"
	"chatfeed/internal/models"
)

const (
	// maxDroppedMessagesBeforeDisconnect is the threshold for disconnecting slow clients
	maxDroppedMessagesBeforeDisconnect = 100
)

// registerRequest is used for synchronous registration with a callback
type registerRequest struct {
	client *Client
	done   chan struct{}
}

// channelMessage is a dispatch addressed to the subscribers of one channel.
type channelMessage struct {
	channelID string
	msg       *WSMessage
}

type Hub struct {
	clients      map[*Client]bool
	subscribers  map[string]map[*Client]bool
	broadcast    chan channelMessage
	registerSync chan registerRequest
	unregister   chan *Client
	shutdown     chan struct{}
	shutdownOnce sync.Once
	jwtService   *auth.JWTService
	userRepo     *db.UserRepository
	channelRepo  *db.ChannelRepository
	sequence     int64
	mu           sync.RWMutex
}

func NewHub(jwtService *auth.JWTService, userRepo *db.UserRepository, channelRepo *db.ChannelRepository) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		subscribers:  make(map[string]map[*Client]bool),
		broadcast:    make(chan channelMessage, constants.WSBroadcastBufferSize),
		registerSync: make(chan registerRequest),
		unregister:   make(chan *Client),
		shutdown:     make(chan struct{}),
		jwtService:   jwtService,
		userRepo:     userRepo,
		channelRepo:  channelRepo,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				client.CloseSend()
				delete(h.clients, client)
			}
			h.subscribers = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			metrics.WSClients.Set(0)
			slog.Info("shutdown complete", "component", "hub")
			return

		case req := <-h.registerSync:
			h.mu.Lock()
			h.clients[req.client] = true
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(count))
			close(req.done)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.unsubscribeAllLocked(client)
				client.CloseSend()
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.WSClients.Set(float64(count))

		case cm := <-h.broadcast:
			h.mu.RLock()
			for client := range h.subscribers[cm.channelID] {
				h.sendToClientLocked(client, cm.msg)
			}
			h.mu.RUnlock()
		}
	}
}

// Shutdown stops Run and closes every client. Safe to call more than once.
func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

// Caller must hold at least a read lock on h.mu.
func (h *Hub) sendToClientLocked(client *Client, msg *WSMessage) {
	if !client.IsIdentified() {
		return
	}

	if !client.trySend(msg) {
		dropped := atomic.AddInt64(&client.DroppedMessages, 1)
		metrics.WSDroppedMessages.Inc()

		// Log warning periodically (every 10 drops)
		if dropped%10 == 1 {
			slog.Warn("dropped messages for slow client", "component", "hub", "dropped", dropped, "user_id", client.getUserID())
		}

		if dropped >= maxDroppedMessagesBeforeDisconnect {
			slog.Warn("disconnecting slow client", "component", "hub", "user_id", client.getUserID(), "dropped", dropped)
			// Close will be handled by the client's pumps
			client.Close()
		}
	}
}

func (h *Hub) nextSequence() int64 {
	return atomic.AddInt64(&h.sequence, 1)
}

// Subscribe adds client to each channel's subscriber set and returns the
// client's full subscription list.
func (h *Hub) Subscribe(client *Client, channelIDs []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[client] {
		return nil
	}
	for _, id := range channelIDs {
		subs, ok := h.subscribers[id]
		if !ok {
			subs = make(map[*Client]bool)
			h.subscribers[id] = subs
		}
		subs[client] = true
		client.channels[id] = true
	}
	return client.subscriptionsLocked()
}

func (h *Hub) Unsubscribe(client *Client, channelIDs []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range channelIDs {
		h.removeSubscriberLocked(id, client)
	}
	return client.subscriptionsLocked()
}

// Caller must hold h.mu.
func (h *Hub) unsubscribeAllLocked(client *Client) {
	for id := range client.channels {
		h.removeSubscriberLocked(id, client)
	}
}

// Caller must hold h.mu.
func (h *Hub) removeSubscriberLocked(channelID string, client *Client) {
	delete(client.channels, channelID)
	subs, ok := h.subscribers[channelID]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscribers, channelID)
	}
}

// SubscriberCount reports how many clients receive dispatches for a channel.
func (h *Hub) SubscriberCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channelID])
}

// PublishToChannel sends a DISPATCH to every subscriber of channelID with a
// sequence number.
func (h *Hub) PublishToChannel(channelID, eventType string, data any) {
	seq := h.nextSequence()
	msg := &WSMessage{
		Op:   OpDispatch,
		Type: eventType,
		Data: data,
		Seq:  &seq,
	}

	select {
	case h.broadcast <- channelMessage{channelID: channelID, msg: msg}:
	case <-h.shutdown:
	}
}

func (h *Hub) PublishMessageCreate(m *models.Message) {
	h.PublishToChannel(m.ChannelID, EventMessageCreate, m)
}

func (h *Hub) PublishMessageUpdate(m *models.Message) {
	h.PublishToChannel(m.ChannelID, EventMessageUpdate, m)
}

func (h *Hub) PublishMessageDelete(channelID, messageID string) {
	h.PublishToChannel(channelID, EventMessageDelete, MessageDeletePayload{
		ID:        messageID,
		ChannelID: channelID,
	})
}

// ClientCount returns the number of registered (identified) clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
