package handlers

import (
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/internal/middleware"
	"github.com/marcogenualdo/auth-proxy/internal/session"
	"github.com/marcogenualdo/auth-proxy/pkg/security"
)

type LogoutHandler struct {
	cfg         config.ServerConfig
	coordinator *session.LogoutCoordinator
	logger      *slog.Logger
}

func NewLogoutHandler(cfg config.ServerConfig, coordinator *session.LogoutCoordinator, logger *slog.Logger) *LogoutHandler {
	return &LogoutHandler{
		cfg:         cfg,
		coordinator: coordinator,
		logger:      logger,
	}
}

// ServeHTTP logs out either the session named by the provider's sid
// (frontchannel logout) or the caller's own session.
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if sid := r.URL.Query().Get("sid"); sid != "" {
		found, err := h.coordinator.FrontchannelLogout(r.Context(), sid)
		if err != nil {
			h.logger.Error("frontchannel logout failed", "sid", sid, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !found {
			h.logger.Info("frontchannel logout for unknown sid", "sid", sid)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if sessionID := middleware.SessionID(r.Context()); sessionID != "" {
		if err := h.coordinator.Logout(r.Context(), sessionID); err != nil {
			h.logger.Error("logout failed", "session_id", sessionID, "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		h.logger.Info("user logged out", "session_id", sessionID)
	}

	http.SetCookie(w, security.ClearSessionCookie(h.cfg))
	w.WriteHeader(http.StatusNoContent)
}
