package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/pkg/security"
)

type contextKey string

const SessionIDContextKey contextKey = "session_id"

// Sessions binds each browser to an opaque internal session id carried in
// the session cookie.
type Sessions struct {
	cfg    config.ServerConfig
	logger *slog.Logger
}

func NewSessions(cfg config.ServerConfig, logger *slog.Logger) *Sessions {
	return &Sessions{cfg: cfg, logger: logger}
}

// Ensure puts the request's session id in the context, minting a new id and
// cookie when the request has none or an invalid one.
func (s *Sessions) Ensure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := s.fromCookie(r)
		if !ok {
			sessionID = uuid.NewString()
			http.SetCookie(w, security.CreateSessionCookie(s.cfg, sessionID, s.cfg.CookieMaxAge))
			s.logger.Debug("new session", "session_id", sessionID, "path", r.URL.Path)
		}

		ctx := context.WithValue(r.Context(), SessionIDContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Load is like Ensure but never mints a session. Requests without a valid
// cookie get an empty session id.
func (s *Sessions) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID, _ := s.fromCookie(r)
		ctx := context.WithValue(r.Context(), SessionIDContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Sessions) fromCookie(r *http.Request) (string, bool) {
	cookie, err := security.GetSessionCookie(r, s.cfg.CookieName)
	if err != nil {
		return "", false
	}
	if err := uuid.Validate(cookie.Value); err != nil {
		s.logger.Debug("ignoring malformed session cookie", "path", r.URL.Path)
		return "", false
	}
	return cookie.Value, true
}

func SessionID(ctx context.Context) string {
	sessionID, _ := ctx.Value(SessionIDContextKey).(string)
	return sessionID
}
