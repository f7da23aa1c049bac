package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/middleware"
)

type TokenResolver interface {
	Resolve(ctx context.Context, sessionID string) (*auth.OidcTokenSet, error)
}

type OboTokenSource interface {
	GetOrExchange(ctx context.Context, sessionID, appIdentifier, userAccessToken string) (*auth.OboToken, error)
}

// Authorizer gates proxied requests. A request reaches the downstream app
// only with an Authorization header carrying a token issued for that app.
type Authorizer struct {
	tokens  TokenResolver
	obo     OboTokenSource
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAuthorizer(tokens TokenResolver, obo OboTokenSource, m *metrics.Metrics, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		tokens:  tokens,
		obo:     obo,
		metrics: m,
		logger:  logger,
	}
}

// Authorize wraps next for one downstream app. Token values are never logged.
func (a *Authorizer) Authorize(appName, appIdentifier string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := middleware.SessionID(r.Context())
		if sessionID == "" {
			a.deny(w, r, appName, http.StatusUnauthorized)
			return
		}

		userTokens, err := a.tokens.Resolve(r.Context(), sessionID)
		switch {
		case errors.Is(err, auth.ErrNotAuthenticated):
			a.logger.Debug("session not authenticated", "app", appName, "path", r.URL.Path, "session_id", sessionID)
			a.deny(w, r, appName, http.StatusUnauthorized)
			return
		case err != nil:
			a.logger.Error("failed to resolve user token", "app", appName, "path", r.URL.Path, "session_id", sessionID, "error", err)
			a.deny(w, r, appName, http.StatusInternalServerError)
			return
		}

		oboToken, err := a.obo.GetOrExchange(r.Context(), sessionID, appIdentifier, userTokens.AccessToken)
		if err != nil {
			a.logger.Error("failed to get on-behalf-of token", "app", appName, "path", r.URL.Path, "session_id", sessionID, "error", err)
			a.deny(w, r, appName, http.StatusInternalServerError)
			return
		}

		r.Header.Set("Authorization", "Bearer "+oboToken.AccessToken)

		a.logger.Info("proxying request", "app", appName, "path", r.URL.Path)

		next.ServeHTTP(w, r)
	})
}

func (a *Authorizer) deny(w http.ResponseWriter, r *http.Request, appName string, status int) {
	a.metrics.ProxyDenied(appName, status)
	http.Error(w, http.StatusText(status), status)
}
