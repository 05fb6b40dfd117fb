package api

import (
	"errors"
	"log/slog"
	"net/http"

	"chatfeed/internal/db"
)

type ChannelHandler struct {
	channels *db.ChannelRepository
}

func NewChannelHandler(channels *db.ChannelRepository) *ChannelHandler {
	return &ChannelHandler{channels: channels}
}

type createChannelRequest struct {
	Name string `json:"name" validate:"required,max=64,excludesall=/\\#"`
}

// GET /api/v1/channels
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	channels, err := h.channels.FindAll()
	if err != nil {
		slog.Error("listing channels", "component", "http", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// POST /api/v1/channels
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	name := sanitizeContent(req.Name)
	if name == "" {
		badRequest(w, "name is required")
		return
	}

	channel, err := h.channels.Create(name)
	if errors.Is(err, db.ErrDuplicate) {
		conflict(w, "Channel already exists")
		return
	}
	if err != nil {
		slog.Error("creating channel", "component", "http", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusCreated, channel)
}
