package api

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"chatfeed/internal/db"
)

type UserHandler struct {
	users *db.UserRepository
}

func NewUserHandler(users *db.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.FindByID(GetUserID(r))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "component", "http", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GET /api/v1/users
func (h *UserHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.FindAll()
	if err != nil {
		slog.Error("error listing users", "component", "http", "error", err)
		internalError(w)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type updateUserRequest struct {
	Username string `json:"username" validate:"required"`
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,32}$`)

// PATCH /api/v1/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	username := strings.TrimSpace(req.Username)
	if !usernameRegex.MatchString(username) {
		badRequest(w, "Username must be 3-32 characters: letters, digits, '_' or '-'")
		return
	}

	userID := GetUserID(r)
	err := h.users.UpdateUsername(userID, username)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		conflict(w, "Username already taken")
		return
	case errors.Is(err, db.ErrNotFound):
		notFound(w, "User not found")
		return
	case err != nil:
		slog.Error("error updating user", "component", "http", "user_id", userID, "error", err)
		internalError(w)
		return
	}

	h.GetMe(w, r)
}
