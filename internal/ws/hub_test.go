package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chatfeed/internal/auth"
	"chatfeed/internal/constants"
	"chatfeed/internal/db"
	"chatfeed/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type hubFixture struct {
	hub     *Hub
	jwt     *auth.JWTService
	user    *models.User
	channel *models.Channel
	server  *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	users := db.NewUserRepository(database)
	channels := db.NewChannelRepository(database)
	user, err := users.Ensure("alice")
	if err != nil {
		t.Fatalf("Ensure(user) error = %v", err)
	}
	channel, err := channels.Ensure("general")
	if err != nil {
		t.Fatalf("Ensure(channel) error = %v", err)
	}

	jwtService := auth.NewJWTService(testSecret, time.Hour)
	hub := NewHub(jwtService, users, channels)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		client.SendHello()
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(server.Close)

	return &hubFixture{hub: hub, jwt: jwtService, user: user, channel: channel, server: server}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if env := readFrame(t, conn); env.Op != OpHello {
		t.Fatalf("first frame op = %d, want HELLO", env.Op)
	}
	return conn
}

func (f *hubFixture) identify(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	token, err := f.jwt.GenerateAccessToken(f.user)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	writeFrame(t, conn, CmdIdentify, IdentifyPayload{Token: token.AccessToken})

	env := readFrame(t, conn)
	if env.Op != OpReady {
		t.Fatalf("identify reply op = %d type %q, want READY", env.Op, env.Type)
	}
	var ready ReadyPayload
	if err := env.Decode(&ready); err != nil {
		t.Fatalf("Decode(ready) error = %v", err)
	}
	if ready.ProtocolVersion != ProtocolVersion || ready.User == nil || ready.User.ID != f.user.ID {
		t.Fatalf("ready = %+v", ready)
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, cmd string, data any) {
	t.Helper()
	if err := conn.WriteJSON(WSMessage{Op: OpDispatch, Type: cmd, Data: data}); err != nil {
		t.Fatalf("WriteJSON(%s) error = %v", cmd, err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return env
}

func expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	env := readFrame(t, conn)
	if env.Type != EventError {
		t.Fatalf("frame type = %q, want ERROR", env.Type)
	}
	var payload ErrorPayload
	if err := env.Decode(&payload); err != nil {
		t.Fatalf("Decode(error) error = %v", err)
	}
	if payload.Code != code {
		t.Fatalf("error code = %q, want %q", payload.Code, code)
	}
}

func TestHubDeliversOnlySubscribedChannels(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)
	f.identify(t, conn)

	writeFrame(t, conn, CmdSubscribe, SubscribePayload{ChannelIDs: []string{f.channel.ID}})
	env := readFrame(t, conn)
	if env.Type != EventSubscribed {
		t.Fatalf("subscribe reply type = %q, want SUBSCRIBED", env.Type)
	}
	if got := f.hub.SubscriberCount(f.channel.ID); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	f.hub.PublishMessageCreate(&models.Message{ID: "msg_other", ChannelID: "chn_other", Content: "elsewhere"})
	f.hub.PublishMessageCreate(&models.Message{ID: "msg_1", ChannelID: f.channel.ID, Content: "hello"})
	f.hub.PublishMessageDelete(f.channel.ID, "msg_1")

	env = readFrame(t, conn)
	if env.Type != EventMessageCreate {
		t.Fatalf("dispatch type = %q, want MESSAGE_CREATE", env.Type)
	}
	var created models.Message
	if err := env.Decode(&created); err != nil {
		t.Fatalf("Decode(message) error = %v", err)
	}
	if created.ID != "msg_1" {
		t.Fatalf("delivered message %q, want msg_1", created.ID)
	}
	if env.Seq == nil {
		t.Fatal("dispatch carries no sequence number")
	}
	firstSeq := *env.Seq

	env = readFrame(t, conn)
	if env.Type != EventMessageDelete {
		t.Fatalf("dispatch type = %q, want MESSAGE_DELETE", env.Type)
	}
	var deleted MessageDeletePayload
	if err := env.Decode(&deleted); err != nil {
		t.Fatalf("Decode(delete) error = %v", err)
	}
	if deleted.ID != "msg_1" || deleted.ChannelID != f.channel.ID {
		t.Fatalf("delete payload = %+v", deleted)
	}
	if env.Seq == nil || *env.Seq <= firstSeq {
		t.Fatalf("sequence did not advance past %d", firstSeq)
	}
}

func TestHubRejectsCommandsBeforeIdentify(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	writeFrame(t, conn, CmdSubscribe, SubscribePayload{ChannelIDs: []string{f.channel.ID}})
	expectError(t, conn, ErrCodeAuthFailed)
}

func TestHubRejectsInvalidToken(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	writeFrame(t, conn, CmdIdentify, IdentifyPayload{Token: "garbage"})
	expectError(t, conn, ErrCodeAuthFailed)

	if env := readFrame(t, conn); env.Op != OpInvalidSession {
		t.Fatalf("frame op = %d, want INVALID_SESSION", env.Op)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("connection stayed open after rejected identify")
	}
}

func TestHubSubscribeUnknownChannel(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)
	f.identify(t, conn)

	writeFrame(t, conn, CmdSubscribe, SubscribePayload{ChannelIDs: []string{"chn_missing"}})
	expectError(t, conn, ErrCodeChannelNotFound)

	writeFrame(t, conn, "NOPE", nil)
	expectError(t, conn, ErrCodeUnknownOperation)
}

func TestSubscriptionBookkeeping(t *testing.T) {
	h := NewHub(nil, nil, nil)
	a := NewClient(h, nil)
	b := NewClient(h, nil)
	h.clients[a] = true
	h.clients[b] = true

	if got := h.Subscribe(a, []string{"c2", "c1"}); strings.Join(got, ",") != "c1,c2" {
		t.Fatalf("Subscribe() = %v, want [c1 c2]", got)
	}
	h.Subscribe(b, []string{"c1"})

	if got := h.SubscriberCount("c1"); got != 2 {
		t.Fatalf("SubscriberCount(c1) = %d, want 2", got)
	}

	if got := h.Unsubscribe(a, []string{"c1"}); strings.Join(got, ",") != "c2" {
		t.Fatalf("Unsubscribe() = %v, want [c2]", got)
	}

	h.mu.Lock()
	h.unsubscribeAllLocked(b)
	h.mu.Unlock()
	if got := h.SubscriberCount("c1"); got != 0 {
		t.Fatalf("SubscriberCount(c1) after cleanup = %d, want 0", got)
	}
	if _, ok := h.subscribers["c1"]; ok {
		t.Fatal("empty subscriber set was not removed")
	}

	stranger := NewClient(h, nil)
	if got := h.Subscribe(stranger, []string{"c1"}); got != nil {
		t.Fatalf("Subscribe() for unregistered client = %v, want nil", got)
	}
}

func TestSlowClientIsDisconnected(t *testing.T) {
	h := NewHub(nil, nil, nil)
	c := NewClient(h, nil)
	c.state.Store(int32(ClientStateIdentified))

	msg := &WSMessage{Op: OpDispatch, Type: EventMessageCreate}
	for i := 0; i < constants.WSClientSendBufferSize; i++ {
		h.sendToClientLocked(c, msg)
	}
	if c.DroppedMessages != 0 {
		t.Fatalf("DroppedMessages = %d before buffer filled", c.DroppedMessages)
	}

	for i := 0; i < maxDroppedMessagesBeforeDisconnect; i++ {
		h.sendToClientLocked(c, msg)
	}
	if c.DroppedMessages != maxDroppedMessagesBeforeDisconnect {
		t.Fatalf("DroppedMessages = %d, want %d", c.DroppedMessages, maxDroppedMessagesBeforeDisconnect)
	}
	if !c.IsClosed() {
		t.Fatal("slow client was not closed")
	}
}
