package handlers

import (
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/auth-proxy/internal/login"
	"github.com/marcogenualdo/auth-proxy/internal/middleware"
)

type LoginHandler struct {
	flow   *login.Flow
	logger *slog.Logger
}

func NewLoginHandler(flow *login.Flow, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		flow:   flow,
		logger: logger,
	}
}

// Login sends the browser to the identity provider, or straight to the
// requested redirect when the session is already authenticated.
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionID(r.Context())

	location, err := h.flow.Begin(r.Context(), sessionID, r.URL.Query().Get("redirect"))
	if err != nil {
		h.logger.Error("failed to start login", "session_id", sessionID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, location, http.StatusFound)
}
