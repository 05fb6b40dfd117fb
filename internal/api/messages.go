package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"chatfeed/internal/constants"
	"chatfeed/internal/db"
	"chatfeed/internal/metrics"
	"chatfeed/internal/models"
)

const maxReactionLength = 64

// Publisher fans message changes out to live subscribers.
type Publisher interface {
	PublishMessageCreate(m *models.Message)
	PublishMessageUpdate(m *models.Message)
	PublishMessageDelete(channelID, messageID string)
}

type MessageHandler struct {
	messages  *db.MessageRepository
	channels  *db.ChannelRepository
	publisher Publisher
	baseURL   string
}

func NewMessageHandler(messages *db.MessageRepository, channels *db.ChannelRepository, publisher Publisher, baseURL string) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		channels:  channels,
		publisher: publisher,
		baseURL:   baseURL,
	}
}

type attachmentRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	MimeType string `json:"mimeType" validate:"required,max=127"`
	Size     int64  `json:"size" validate:"gte=0"`
}

type createMessageRequest struct {
	Content     string              `json:"content" validate:"required"`
	Attachments []attachmentRequest `json:"attachments" validate:"max=10,dive"`
}

type updateMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// POST /api/v1/channels/{channelID}/messages
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	var req createMessageRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	content, ok := validContent(w, req.Content)
	if !ok {
		return
	}

	if !h.requireChannel(w, channelID) {
		return
	}

	attachments := make([]models.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, models.Attachment{
			Name:     sanitizeContent(a.Name),
			MimeType: a.MimeType,
			Size:     a.Size,
		})
	}

	m, err := h.messages.Create(channelID, GetUserID(r), content, attachments)
	if err != nil {
		slog.Error("creating message", "component", "http", "channel_id", channelID, "error", err)
		internalError(w)
		return
	}
	metrics.MessagesCreated.Inc()

	h.decorate(m)
	h.publisher.PublishMessageCreate(broadcastCopy(m))
	writeJSON(w, http.StatusCreated, m)
}

// PATCH /api/v1/messages/{messageID}
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	var req updateMessageRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	content, ok := validContent(w, req.Content)
	if !ok {
		return
	}

	m, err := h.messages.Update(messageID, GetUserID(r), content)
	if !h.handleRepoError(w, err, "updating message", messageID) {
		return
	}

	h.decorate(m)
	h.publisher.PublishMessageUpdate(broadcastCopy(m))
	writeJSON(w, http.StatusOK, m)
}

// DELETE /api/v1/messages/{messageID}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	channelID, err := h.messages.Delete(messageID, GetUserID(r))
	if !h.handleRepoError(w, err, "deleting message", messageID) {
		return
	}

	h.publisher.PublishMessageDelete(channelID, messageID)
	w.WriteHeader(http.StatusNoContent)
}

// PUT /api/v1/messages/{messageID}/reactions/{emoji}
func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	h.changeReaction(w, r, h.messages.AddReaction, "adding reaction")
}

// DELETE /api/v1/messages/{messageID}/reactions/{emoji}
func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	h.changeReaction(w, r, h.messages.RemoveReaction, "removing reaction")
}

func (h *MessageHandler) changeReaction(
	w http.ResponseWriter,
	r *http.Request,
	apply func(messageID, userID, emoji string) (*models.Message, error),
	action string,
) {
	messageID := chi.URLParam(r, "messageID")
	emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
	emoji = strings.TrimSpace(emoji)
	if err != nil || emoji == "" || utf8.RuneCountInString(emoji) > maxReactionLength {
		badRequest(w, "Invalid reaction")
		return
	}

	m, err := apply(messageID, GetUserID(r), emoji)
	if !h.handleRepoError(w, err, action, messageID) {
		return
	}

	h.decorate(m)
	h.publisher.PublishMessageUpdate(broadcastCopy(m))
	writeJSON(w, http.StatusOK, m)
}

// handleRepoError writes the response for a failed repository call and
// reports whether the caller may continue.
func (h *MessageHandler) handleRepoError(w http.ResponseWriter, err error, action, messageID string) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, db.ErrNotFound):
		notFound(w, "Message not found")
	case errors.Is(err, db.ErrForbidden):
		forbidden(w, "Only the author can change this message")
	default:
		slog.Error(action, "component", "http", "message_id", messageID, "error", err)
		internalError(w)
	}
	return false
}

func validContent(w http.ResponseWriter, raw string) (string, bool) {
	content := sanitizeContent(raw)
	if content == "" {
		badRequest(w, "content is required")
		return "", false
	}
	if utf8.RuneCountInString(content) > constants.MessageMaxLength {
		writeError(w, http.StatusBadRequest, ErrCodeMessageTooLong, "Message exceeds maximum length")
		return "", false
	}
	return content, true
}

// broadcastCopy strips viewer-relative state before a message is fanned out
// to every subscriber.
func broadcastCopy(m *models.Message) *models.Message {
	c := *m
	if len(m.Reactions) > 0 {
		c.Reactions = make([]models.Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			r.Me = false
			c.Reactions[i] = r
		}
	}
	return &c
}
