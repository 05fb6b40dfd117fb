package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatfeed/internal/auth"
	"chatfeed/internal/config"
	"chatfeed/internal/db"
	"chatfeed/internal/metrics"
	"chatfeed/internal/ws"
)

type Server struct {
	router *chi.Mux
	config *config.Config
	hub    *ws.Hub
}

func NewServer(
	cfg *config.Config,
	database *db.DB,
	jwtService *auth.JWTService,
	userRepo *db.UserRepository,
	channelRepo *db.ChannelRepository,
	messageRepo *db.MessageRepository,
) *Server {
	hub := ws.NewHub(jwtService, userRepo, channelRepo)
	go hub.Run()

	userHandler := NewUserHandler(userRepo)
	channelHandler := NewChannelHandler(channelRepo)
	messageHandler := NewMessageHandler(messageRepo, channelRepo, hub, cfg.Server.BaseURL)
	wsHandler := NewWebSocketHandler(hub, cfg.WebSocket)
	healthHandler := NewHealthHandler(database, hub)

	authMiddleware := NewAuthMiddleware(jwtService)
	historyLimit := rateLimit(cfg.RateLimit.HistoryPerMinute, time.Minute)
	writeLimit := rateLimit(cfg.RateLimit.WritesPerMinute, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.WebSocket.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB
		r.Use(authMiddleware.RequireAuth)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", userHandler.GetAll)
			r.Get("/me", userHandler.GetMe)
			r.With(writeLimit).Patch("/me", userHandler.UpdateMe)
		})

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", channelHandler.List)
			r.With(writeLimit).Post("/", channelHandler.Create)

			r.Route("/{channelID}/messages", func(r chi.Router) {
				r.With(historyLimit).Get("/", messageHandler.GetHistory)
				r.With(writeLimit).Post("/", messageHandler.Create)
			})
		})

		r.Route("/messages/{messageID}", func(r chi.Router) {
			r.Use(writeLimit)
			r.Patch("/", messageHandler.Update)
			r.Delete("/", messageHandler.Delete)
			r.Put("/reactions/{emoji}", messageHandler.AddReaction)
			r.Delete("/reactions/{emoji}", messageHandler.RemoveReaction)
		})
	})

	r.With(rateLimit(10, time.Minute)).Get("/ws", wsHandler.ServeWS)

	return &Server{
		router: r,
		config: cfg,
		hub:    hub,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Shutdown() {
	s.hub.Shutdown()
}
