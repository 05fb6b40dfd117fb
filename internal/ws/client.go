package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chatfeed/internal/auth"
	"chatfeed/internal/constants"
	"chatfeed/internal/models"
)

const (
	registerTimeout = 5 * time.Second

	// Subscription changes: 5 per second
	subscribeRateLimit = 200 * time.Millisecond

	// Upper bound on channels a single SUBSCRIBE may name
	maxSubscribeChannels = 50
)

// Client is one websocket connection. ReadPump and WritePump each own a
// goroutine; everything else is safe to call from the hub.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan *WSMessage
	sendMu        sync.RWMutex
	sendClosed    bool
	connCloseOnce sync.Once

	state atomic.Int32

	// Set once by IDENTIFY.
	user      *models.User
	sessionID string

	// Guarded by hub.mu
	channels map[string]bool

	// Dispatches lost to a full send buffer. Updated atomically.
	DroppedMessages int64

	// Called once when the client leaves the connected state, either by
	// identifying or by closing.
	preAuthDone     func()
	preAuthDoneOnce sync.Once

	// Only accessed from the ReadPump goroutine.
	lastSubscribe time.Time
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan *WSMessage, constants.WSClientSendBufferSize),
		channels: make(map[string]bool),
	}
	c.state.Store(int32(ClientStateConnected))
	return c
}

// OnPreAuthDone registers fn to run once the client identifies or closes.
// It must be called before the pumps start.
func (c *Client) OnPreAuthDone(fn func()) {
	c.preAuthDone = fn
}

func (c *Client) finishPreAuth() {
	c.preAuthDoneOnce.Do(func() {
		if c.preAuthDone != nil {
			c.preAuthDone()
		}
	})
}

// Close is idempotent.
func (c *Client) Close() {
	c.transitionTo(ClientStateClosing)
	c.closeConn()
	c.transitionTo(ClientStateClosed)
	c.finishPreAuth()
}

func (c *Client) closeConn() {
	c.connCloseOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) ReadPump() {
	defer func() {
		if c.hub != nil {
			select {
			case c.hub.unregister <- c:
			case <-c.hub.shutdown:
			}
		}
		c.Close()
	}()

	c.conn.SetReadLimit(constants.WSMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WSPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "component", "ws", "user_id", c.getUserID(), "error", err)
			}
			break
		}

		var msg Envelope
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("malformed frame", "component", "ws", "user_id", c.getUserID(), "error", err)
			c.sendError(ErrCodeInvalidRequest, "Malformed frame")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(constants.WSPingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				slog.Debug("websocket write failed", "component", "ws", "user_id", c.getUserID(), "error", err)
				return
			}

		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) getUserID() string {
	if c.user != nil {
		return c.user.ID
	}
	return "unknown"
}

// SendHello opens the handshake with the heartbeat interval.
func (c *Client) SendHello() {
	c.enqueue(&WSMessage{
		Op:   OpHello,
		Data: HelloPayload{HeartbeatIntervalMS: constants.WSPingPeriod.Milliseconds()},
	})
}

// trySend queues msg without blocking. It reports false only when the
// buffer is full; sends after the channel closed are discarded silently.
func (c *Client) trySend(msg *WSMessage) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSendChan() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// enqueue queues a direct reply. Replies never block the read loop; a full
// buffer means the connection is already falling behind.
func (c *Client) enqueue(msg *WSMessage) {
	if !c.trySend(msg) {
		atomic.AddInt64(&c.DroppedMessages, 1)
	}
}

func (c *Client) sendError(code, message string) {
	c.enqueue(&WSMessage{Op: OpDispatch, Type: EventError, Data: ErrorPayload{Code: code, Message: message}})
}

func (c *Client) handleMessage(msg *Envelope) {
	switch msg.Op {
	case OpDispatch:
		c.handleDispatch(msg)
	default:
		slog.Debug("unknown op code", "component", "ws", "op", msg.Op)
		c.sendError(ErrCodeUnknownOperation, fmt.Sprintf("Unknown op code %d", msg.Op))
	}
}

func (c *Client) handleDispatch(msg *Envelope) {
	if msg.Type != CmdIdentify && !c.IsIdentified() {
		c.sendError(ErrCodeAuthFailed, "Identify first")
		return
	}

	switch msg.Type {
	case CmdIdentify:
		c.handleIdentify(msg)
	case CmdSubscribe:
		c.handleSubscribe(msg, true)
	case CmdUnsubscribe:
		c.handleSubscribe(msg, false)
	default:
		slog.Debug("unknown dispatch type", "component", "ws", "type", msg.Type)
		c.sendError(ErrCodeUnknownOperation, "Unknown command "+msg.Type)
	}
}

func (c *Client) handleIdentify(msg *Envelope) {
	if c.State() != ClientStateConnected {
		return
	}

	var payload IdentifyPayload
	if err := msg.Decode(&payload); err != nil || payload.Token == "" {
		c.rejectIdentify(ErrCodeAuthFailed, "Missing token")
		return
	}

	claims, err := c.hub.jwtService.ValidateAccessToken(payload.Token)
	if err != nil {
		slog.Info("identify rejected", "component", "ws", "error", err)
		code := ErrCodeAuthFailed
		if errors.Is(err, auth.ErrTokenExpired) {
			code = ErrCodeAuthExpired
		}
		c.rejectIdentify(code, "Invalid token")
		return
	}

	user, err := c.hub.userRepo.FindByID(claims.UserID)
	if err != nil {
		slog.Info("identify user lookup failed", "component", "ws", "user_id", claims.UserID, "error", err)
		c.rejectIdentify(ErrCodeAuthFailed, "User not found")
		return
	}

	c.user = user
	if !c.transitionTo(ClientStateIdentified) {
		return // Race: already closing
	}
	c.sessionID = uuid.NewString()
	c.finishPreAuth()

	// Register synchronously so dispatches published after READY reach us
	done := make(chan struct{})
	select {
	case c.hub.registerSync <- registerRequest{client: c, done: done}:
		select {
		case <-done:
		case <-time.After(registerTimeout):
			slog.Warn("registration timeout", "component", "ws", "user_id", user.ID)
			return
		}
	case <-time.After(registerTimeout):
		slog.Warn("registration send timeout", "component", "ws", "user_id", user.ID)
		return
	}

	c.enqueue(&WSMessage{
		Op: OpReady,
		Data: ReadyPayload{
			ProtocolVersion: ProtocolVersion,
			SessionID:       c.sessionID,
			User:            user,
		},
	})

	slog.Info("client identified", "component", "ws", "user_id", user.ID, "session_id", c.sessionID)
}

// rejectIdentify tells the client why and lets the write pump flush the
// reply before the connection drops.
func (c *Client) rejectIdentify(code, message string) {
	c.sendError(code, message)
	c.enqueue(&WSMessage{Op: OpInvalidSession, Data: InvalidSessionPayload{Resumable: false}})
	c.transitionTo(ClientStateClosing)
	c.closeSendChan()
	c.finishPreAuth()
}

func (c *Client) handleSubscribe(msg *Envelope, subscribe bool) {
	now := time.Now()
	if now.Sub(c.lastSubscribe) < subscribeRateLimit {
		c.enqueue(&WSMessage{Op: OpDispatch, Type: EventError, Data: ErrorPayload{
			Code:       ErrCodeRateLimited,
			Message:    "Subscription changes are rate limited",
			RetryAfter: c.lastSubscribe.Add(subscribeRateLimit).UnixMilli(),
		}})
		return
	}
	c.lastSubscribe = now

	var payload SubscribePayload
	if err := msg.Decode(&payload); err != nil || len(payload.ChannelIDs) == 0 {
		c.sendError(ErrCodeInvalidRequest, "channel_ids is required")
		return
	}
	if len(payload.ChannelIDs) > maxSubscribeChannels {
		c.sendError(ErrCodeInvalidRequest, fmt.Sprintf("At most %d channels per request", maxSubscribeChannels))
		return
	}

	var current []string
	if subscribe {
		for _, id := range payload.ChannelIDs {
			exists, err := c.hub.channelRepo.Exists(id)
			if err != nil {
				slog.Error("checking channel", "component", "ws", "channel_id", id, "error", err)
				c.sendError(constants.ErrCodeInternal, "Internal server error")
				return
			}
			if !exists {
				c.sendError(ErrCodeChannelNotFound, "Unknown channel "+id)
				return
			}
		}
		current = c.hub.Subscribe(c, payload.ChannelIDs)
	} else {
		current = c.hub.Unsubscribe(c, payload.ChannelIDs)
	}

	c.enqueue(&WSMessage{Op: OpDispatch, Type: EventSubscribed, Data: SubscribedPayload{ChannelIDs: current}})
}

// Caller must hold hub.mu.
func (c *Client) subscriptionsLocked() []string {
	return sortedKeys(c.channels)
}

// CloseSend is the hub-side teardown.
func (c *Client) CloseSend() {
	c.transitionTo(ClientStateClosing)
	c.closeSendChan()
	c.closeConn()
	c.transitionTo(ClientStateClosed)
}
