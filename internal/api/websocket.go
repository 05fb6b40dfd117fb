package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatfeed/internal/config"
	"chatfeed/internal/ws"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	cfg      config.WebSocketConfig
	budget   *preAuthBudget
}

func NewWebSocketHandler(hub *ws.Hub, cfg config.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		hub:    hub,
		cfg:    cfg,
		budget: newPreAuthBudget(cfg.MaxUnauthenticatedPerIP, cfg.MaxUnauthenticatedGlobal),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits non-browser clients (no Origin header), loopback
// origins and the configured allow list.
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return isOriginAllowed(origin, h.cfg.AllowedOrigins)
}

// GET /ws
// Authentication happens in-band with IDENTIFY. Until then the connection
// holds a slot in the pre-auth budget and is closed after the timeout.
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !h.budget.reserve(ip) {
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many pending connections")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.budget.releaseReservation(ip)
		slog.Debug("websocket upgrade failed", "component", "http", "error", err)
		return
	}

	client := ws.NewClient(h.hub, conn)
	client.OnPreAuthDone(func() { h.budget.releaseReservation(ip) })

	if timeout := h.cfg.UnauthenticatedTimeout; timeout > 0 {
		time.AfterFunc(timeout, func() {
			if !client.IsIdentified() && !client.IsClosed() {
				slog.Info("closing unidentified connection", "component", "http", "remote", ip)
				client.Close()
			}
		})
	}

	client.SendHello()

	go client.WritePump()
	go client.ReadPump()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// preAuthBudget caps connections that have not identified yet, per IP and
// overall. A limit of zero disables that check.
type preAuthBudget struct {
	mu     sync.Mutex
	perIP  int
	global int
	byIP   map[string]int
	total  int
}

func newPreAuthBudget(perIP, global int) *preAuthBudget {
	return &preAuthBudget{
		perIP:  perIP,
		global: global,
		byIP:   make(map[string]int),
	}
}

func (b *preAuthBudget) reserve(ip string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.global > 0 && b.total >= b.global {
		return false
	}
	if b.perIP > 0 && b.byIP[ip] >= b.perIP {
		return false
	}
	b.byIP[ip]++
	b.total++
	return true
}

func (b *preAuthBudget) releaseReservation(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.byIP[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(b.byIP, ip)
	} else {
		b.byIP[ip] = n - 1
	}
	b.total--
}
