package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/session"
)

type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenResponse, error)
}

// Manager decides whether a session holds a usable user token, refreshing it
// when allowed.
type Manager struct {
	store         *session.Store
	refresher     Refresher
	enableRefresh bool
	skew          time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
	now           func() time.Time

	refreshes singleflight.Group
}

func NewManager(store *session.Store, refresher Refresher, cfg config.AuthConfig, m *metrics.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		store:         store,
		refresher:     refresher,
		enableRefresh: cfg.EnableRefresh,
		skew:          cfg.ClockSkew,
		metrics:       m,
		logger:        logger,
		now:           time.Now,
	}
}

// Resolve returns the session's token set, or an error matching
// auth.ErrNotAuthenticated when there is none or it can no longer be used.
// Store failures are returned as they are.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (*auth.OidcTokenSet, error) {
	ts, err := m.store.GetOidcTokenSet(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, auth.ErrNotAuthenticated
	}

	if !ts.IsExpiredOrExpiresSoon(m.now(), m.skew) {
		return ts, nil
	}

	if !m.enableRefresh || ts.RefreshToken == "" {
		m.logger.Debug("token set expired and cannot be refreshed", "session_id", sessionID)
		return nil, auth.ErrNotAuthenticated
	}

	// Concurrent requests on one session share a single refresh in this
	// process. The refresh runs detached so one caller giving up does not
	// fail the others.
	v, err, _ := m.refreshes.Do(sessionID, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx), sessionID, ts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.OidcTokenSet), nil
}

func (m *Manager) refresh(ctx context.Context, sessionID string, previous *auth.OidcTokenSet) (*auth.OidcTokenSet, error) {
	allowedUntil, err := m.store.GetRefreshAllowedWithin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if allowedUntil.IsZero() || !m.now().Before(allowedUntil) {
		m.logger.Info("refresh window has passed", "session_id", sessionID)
		return nil, auth.ErrNotAuthenticated
	}

	raw, err := m.refresher.Refresh(ctx, previous.RefreshToken)
	if err != nil {
		m.metrics.Refreshed(err)
		m.logRefreshFailure(sessionID, err)
		return nil, fmt.Errorf("%w: %w: %v", auth.ErrNotAuthenticated, auth.ErrRefreshFailed, err)
	}

	// Providers that do not rotate refresh tokens, or omit the ID token on
	// refresh, keep the previous values.
	if raw.RefreshToken == "" {
		raw.RefreshToken = previous.RefreshToken
	}
	if raw.IDToken == "" {
		raw.IDToken = previous.IDToken
	}

	now := m.now()
	ts, err := auth.ToOidcTokenSet(raw, now)
	if err != nil {
		m.metrics.Refreshed(err)
		m.logRefreshFailure(sessionID, err)
		return nil, fmt.Errorf("%w: %w: %v", auth.ErrNotAuthenticated, auth.ErrRefreshFailed, err)
	}

	ttl := auth.SecondsUntil(now, allowedUntil)
	if ttl <= 0 {
		return nil, auth.ErrNotAuthenticated
	}
	if err := m.store.SetOidcTokenSet(ctx, sessionID, ttl, ts); err != nil {
		return nil, err
	}

	m.metrics.Refreshed(nil)
	m.logger.Debug("refreshed token set", "session_id", sessionID, "expires_at", ts.Expiry())
	return ts, nil
}

func (m *Manager) logRefreshFailure(sessionID string, err error) {
	var perr *auth.ProviderError
	if errors.As(err, &perr) {
		m.logger.Warn("token refresh rejected by identity provider",
			"session_id", sessionID,
			"error_code", perr.Code,
			"error_description", perr.Description,
			"status", perr.StatusCode,
		)
		return
	}
	m.logger.Warn("token refresh failed", "session_id", sessionID, "error", err)
}
