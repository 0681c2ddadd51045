package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chat-server/internal/auth"
	"chat-server/internal/database"
	"chat-server/pkg/logger"

	"github.com/go-chi/chi/v5"
)

// ChatHandlers serves the history reads a client uses to seed its local
// view before live updates take over.
type ChatHandlers struct {
	authService *auth.Service
	store       database.Store
}

func NewChatHandlers(authService *auth.Service, store database.Store) *ChatHandlers {
	return &ChatHandlers{authService: authService, store: store}
}

// GetRoomMessages returns a page of room history, newest first.
func (h *ChatHandlers) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	username, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	roomID := chi.URLParam(r, "roomID")
	if _, err := h.store.GetMembership(r.Context(), roomID, username); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "not a member of this room", http.StatusForbidden)
			return
		}
		logger.Error("membership lookup: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.store.GetRoomMessages(r.Context(), roomID, offset, limit)
	if err != nil {
		logger.Error("load messages for %s: %v", roomID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandlers) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) <= 7 || authHeader[:7] != "Bearer " {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return "", false
	}

	username, err := h.authService.UsernameFromToken(authHeader[7:])
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	return username, true
}
