package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chatfeed/internal/constants"
	"chatfeed/internal/db"
	"chatfeed/internal/mediaurl"
	"chatfeed/internal/metrics"
	"chatfeed/internal/models"
)

const defaultMessageHistoryLimit = constants.MessageHistoryDefaultLimit

// HistoryResponse is one page of history, newest first. NextCursor is the
// oldest ID in Items and is only set while HasMore is true.
type HistoryResponse struct {
	Items      []*models.Message `json:"items"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// GET /api/v1/channels/{channelID}/messages?before=&limit=
func (h *MessageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	channelID := chi.URLParam(r, "channelID")

	q, err := parseHistoryQuery(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if !h.requireChannel(w, channelID) {
		return
	}

	page, err := h.messages.ListHistory(channelID, q.before, GetUserID(r), q.limit)
	metrics.ObserveHistoryPage(q.before != "", start, err)
	if errors.Is(err, db.ErrCursorNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeCursorNotFound, "Cursor does not match any message in this channel")
		return
	}
	if err != nil {
		slog.Error("listing history", "component", "http", "channel_id", channelID, "error", err)
		internalError(w)
		return
	}

	for _, m := range page.Messages {
		h.decorate(m)
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Items:      page.Messages,
		HasMore:    page.HasMore,
		NextCursor: page.NextCursor,
	})
}

type historyQuery struct {
	limit  int
	before string
}

func parseHistoryQuery(r *http.Request) (historyQuery, error) {
	q := historyQuery{limit: defaultMessageHistoryLimit}
	values := r.URL.Query()

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return historyQuery{}, errors.New("Query parameter 'limit' must be an integer")
		}
		if n < 1 || n > constants.MessageHistoryMaxLimit {
			return historyQuery{}, fmt.Errorf("Query parameter 'limit' must be between 1 and %d", constants.MessageHistoryMaxLimit)
		}
		q.limit = n
	}

	q.before = strings.TrimSpace(values.Get("before"))
	if q.before != "" && !isValidMessageID(q.before) {
		return historyQuery{}, errors.New("Query parameter 'before' must be a valid message ID")
	}
	return q, nil
}

// isValidMessageID accepts "msg_" followed by a canonical lowercase UUID.
func isValidMessageID(id string) bool {
	raw, ok := strings.CutPrefix(id, "msg_")
	if !ok {
		return false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.String() == raw
}

// decorate fills server-derived fields before a message leaves the API.
func (h *MessageHandler) decorate(m *models.Message) {
	for i := range m.Attachments {
		m.Attachments[i].URL = mediaurl.Attachment(h.baseURL, m.Attachments[i].ID)
	}
}

func (h *MessageHandler) requireChannel(w http.ResponseWriter, channelID string) bool {
	exists, err := h.channels.Exists(channelID)
	if err != nil {
		slog.Error("checking channel", "component", "http", "channel_id", channelID, "error", err)
		internalError(w)
		return false
	}
	if !exists {
		writeError(w, http.StatusNotFound, ErrCodeChannelNotFound, "Channel not found")
		return false
	}
	return true
}
