package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/login"
	"github.com/marcogenualdo/auth-proxy/internal/middleware"
)

type CallbackHandler struct {
	flow   *login.Flow
	logger *slog.Logger
}

func NewCallbackHandler(flow *login.Flow, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		flow:   flow,
		logger: logger,
	}
}

// ServeHTTP handles the form_post response from the identity provider. The
// browser only ever sees a generic error body.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.logger.Warn("failed to parse callback form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	sessionID := middleware.SessionID(r.Context())
	params := login.CallbackParams{
		State:            r.PostForm.Get("state"),
		Code:             r.PostForm.Get("code"),
		Error:            r.PostForm.Get("error"),
		ErrorDescription: r.PostForm.Get("error_description"),
	}

	redirect, err := h.flow.Complete(r.Context(), sessionID, params)
	switch {
	case errors.Is(err, auth.ErrMissingState):
		h.logger.Warn("callback without state", "session_id", sessionID)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("login callback failed", "session_id", sessionID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}
