package feedclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatfeed/internal/feed"
	"chatfeed/internal/models"
	"chatfeed/internal/ws"
)

const (
	maxReconnectDelay = 30 * time.Second
	handshakeTimeout  = 10 * time.Second
	writeWait         = 10 * time.Second
)

// ErrSessionRejected is returned by Run when the server refuses the token.
// Reconnecting would not help.
var ErrSessionRejected = errors.New("session rejected by server")

// Live keeps a WebSocket session open and routes message changes into a
// feed.Manager. Subscriptions survive reconnects.
type Live struct {
	wsURL          string
	token          string
	manager        *feed.Manager
	logger         *slog.Logger
	reconnectDelay time.Duration

	mu           sync.Mutex
	conn         *websocket.Conn
	subs         map[string]bool
	onReconnect  func()
	onStatus     func(connected bool)
	onSubscribed func(channelIDs []string)
}

func NewLive(serverURL, token string, manager *feed.Manager, reconnectDelay time.Duration, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &Live{
		wsURL:          websocketURL(serverURL),
		token:          token,
		manager:        manager,
		logger:         logger.With("component", "live"),
		reconnectDelay: reconnectDelay,
		subs:           make(map[string]bool),
	}
}

func websocketURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// OnReconnect registers fn to run after a session is re-established. Changes
// published while disconnected are lost, so callers reload what they show.
func (l *Live) OnReconnect(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReconnect = fn
}

// OnStatus registers fn to observe connection state changes.
func (l *Live) OnStatus(fn func(connected bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStatus = fn
}

// OnSubscribed registers fn to receive the server's confirmed subscription
// list after every SUBSCRIBE or UNSUBSCRIBE.
func (l *Live) OnSubscribed(fn func(channelIDs []string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSubscribed = fn
}

// Subscribe adds channels to the live subscription. It is sent immediately
// when connected and replayed on every reconnect.
func (l *Live) Subscribe(channelIDs ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []string
	for _, id := range channelIDs {
		if !l.subs[id] {
			l.subs[id] = true
			fresh = append(fresh, id)
		}
	}
	if l.conn == nil || len(fresh) == 0 {
		return nil
	}
	return l.writeLocked(ws.CmdSubscribe, ws.SubscribePayload{ChannelIDs: fresh})
}

// Unsubscribe removes channels from the live subscription.
func (l *Live) Unsubscribe(channelIDs ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range channelIDs {
		delete(l.subs, id)
	}
	if l.conn == nil {
		return nil
	}
	return l.writeLocked(ws.CmdUnsubscribe, ws.SubscribePayload{ChannelIDs: channelIDs})
}

// Caller must hold l.mu.
func (l *Live) writeLocked(cmd string, data any) error {
	l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := l.conn.WriteJSON(ws.WSMessage{Op: ws.OpDispatch, Type: cmd, Data: data}); err != nil {
		return fmt.Errorf("sending %s: %w", cmd, err)
	}
	return nil
}

// Run connects and reconnects with exponential backoff until ctx is done or
// the server rejects the session.
func (l *Live) Run(ctx context.Context) error {
	delay := l.reconnectDelay
	connectedBefore := false

	for {
		established, err := l.session(ctx, connectedBefore)
		if established {
			connectedBefore = true
			delay = l.reconnectDelay
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrSessionRejected) {
			return err
		}
		l.logger.Warn("live connection lost", "error", err, "retry_in", delay.String())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection. established reports whether READY was
// received, which resets the backoff.
func (l *Live) session(ctx context.Context, reconnect bool) (established bool, err error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", l.wsURL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	heartbeat, err := l.handshake(conn)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	l.conn = conn
	subs := sortedSubs(l.subs)
	var subErr error
	if len(subs) > 0 {
		subErr = l.writeLocked(ws.CmdSubscribe, ws.SubscribePayload{ChannelIDs: subs})
	}
	onReconnect, onStatus := l.onReconnect, l.onStatus
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.conn = nil
		onStatus := l.onStatus
		l.mu.Unlock()
		if onStatus != nil {
			onStatus(false)
		}
	}()

	if subErr != nil {
		return true, subErr
	}
	if onStatus != nil {
		onStatus(true)
	}
	if reconnect && onReconnect != nil {
		onReconnect()
	}
	l.logger.Info("live session established", "channels", len(subs))

	return true, l.readLoop(conn, heartbeat)
}

// handshake performs HELLO, IDENTIFY and READY and returns the server's ping
// interval.
func (l *Live) handshake(conn *websocket.Conn) (time.Duration, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var hello ws.Envelope
	if err := conn.ReadJSON(&hello); err != nil {
		return 0, fmt.Errorf("reading hello: %w", err)
	}
	if hello.Op != ws.OpHello {
		return 0, fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloPayload ws.HelloPayload
	if err := hello.Decode(&helloPayload); err != nil {
		return 0, fmt.Errorf("decoding hello: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	identify := ws.WSMessage{Op: ws.OpDispatch, Type: ws.CmdIdentify, Data: ws.IdentifyPayload{Token: l.token}}
	if err := conn.WriteJSON(identify); err != nil {
		return 0, fmt.Errorf("sending identify: %w", err)
	}

	for {
		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return 0, fmt.Errorf("awaiting ready: %w", err)
		}
		switch {
		case env.Op == ws.OpReady:
			return time.Duration(helloPayload.HeartbeatIntervalMS) * time.Millisecond, nil
		case env.Op == ws.OpInvalidSession:
			return 0, ErrSessionRejected
		case env.Type == ws.EventError:
			var payload ws.ErrorPayload
			if env.Decode(&payload) == nil && (payload.Code == ws.ErrCodeAuthFailed || payload.Code == ws.ErrCodeAuthExpired) {
				return 0, fmt.Errorf("%w: %s", ErrSessionRejected, payload.Message)
			}
		}
	}
}

// readLoop applies dispatches until the connection fails. Missing two server
// pings in a row counts as a dead connection.
func (l *Live) readLoop(conn *websocket.Conn, heartbeat time.Duration) error {
	extend := func() {
		if heartbeat > 0 {
			conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		} else {
			conn.SetReadDeadline(time.Time{})
		}
	}
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var env ws.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("reading: %w", err)
		}
		extend()
		if env.Op == ws.OpInvalidSession {
			return errors.New("session invalidated")
		}
		if env.Op != ws.OpDispatch {
			continue
		}
		l.dispatch(&env)
	}
}

func (l *Live) dispatch(env *ws.Envelope) {
	switch env.Type {
	case ws.EventMessageCreate, ws.EventMessageUpdate:
		var m models.Message
		if err := env.Decode(&m); err != nil {
			l.logger.Warn("malformed message event", "type", env.Type, "error", err)
			return
		}
		kind := feed.LiveCreate
		if env.Type == ws.EventMessageUpdate {
			kind = feed.LiveUpdate
		}
		applied := l.manager.Deliver(feed.LiveEvent{Kind: kind, ChannelID: m.ChannelID, Message: m})
		l.logger.Debug("live event", "type", env.Type, "channel_id", m.ChannelID, "message_id", m.ID, "applied", applied)

	case ws.EventMessageDelete:
		var p ws.MessageDeletePayload
		if err := env.Decode(&p); err != nil {
			l.logger.Warn("malformed delete event", "error", err)
			return
		}
		applied := l.manager.Deliver(feed.LiveEvent{Kind: feed.LiveDelete, ChannelID: p.ChannelID, MessageID: p.ID})
		l.logger.Debug("live event", "type", env.Type, "channel_id", p.ChannelID, "message_id", p.ID, "applied", applied)

	case ws.EventSubscribed:
		var p ws.SubscribedPayload
		if env.Decode(&p) != nil {
			return
		}
		l.logger.Debug("subscriptions updated", "channels", p.ChannelIDs)
		l.mu.Lock()
		fn := l.onSubscribed
		l.mu.Unlock()
		if fn != nil {
			fn(p.ChannelIDs)
		}

	case ws.EventError:
		var p ws.ErrorPayload
		if env.Decode(&p) == nil {
			l.logger.Warn("server error", "code", p.Code, "message", p.Message)
		}
	}
}

func sortedSubs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
