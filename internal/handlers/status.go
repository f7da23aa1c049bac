package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/middleware"
	"github.com/marcogenualdo/auth-proxy/internal/tokens"
)

type StatusHandler struct {
	tokens *tokens.Manager
	logger *slog.Logger
}

func NewStatusHandler(manager *tokens.Manager, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		tokens: manager,
		logger: logger,
	}
}

type StatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
}

// ServeHTTP reports whether the session holds a usable token set, refreshing
// it when that is still allowed.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())

	authenticated := false
	if sessionID != "" {
		_, err := h.tokens.Resolve(r.Context(), sessionID)
		switch {
		case err == nil:
			authenticated = true
		case errors.Is(err, auth.ErrNotAuthenticated):
		default:
			h.logger.Error("failed to resolve session", "session_id", sessionID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(StatusResponse{IsAuthenticated: authenticated}); err != nil {
		h.logger.Warn("failed to write status response", "error", err)
	}
}
