package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/session"
)

type Exchanger interface {
	Exchange(ctx context.Context, appIdentifier, subjectToken string) (*auth.TokenResponse, error)
}

// OboCache hands out on-behalf-of tokens per session and app, exchanging the
// user's access token only on a cache miss.
type OboCache struct {
	store     *session.Store
	exchanger Exchanger
	skew      time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	exchanges singleflight.Group
}

func NewOboCache(store *session.Store, exchanger Exchanger, skew time.Duration, m *metrics.Metrics, logger *slog.Logger) *OboCache {
	return &OboCache{
		store:     store,
		exchanger: exchanger,
		skew:      skew,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// GetOrExchange returns the cached token for (sessionID, appIdentifier) or
// exchanges userAccessToken for a new one. Exchange failures match
// auth.ErrOboExchangeFailed.
func (c *OboCache) GetOrExchange(ctx context.Context, sessionID, appIdentifier, userAccessToken string) (*auth.OboToken, error) {
	cached, err := c.store.GetUserOboToken(ctx, sessionID, appIdentifier)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		c.metrics.OboCacheHit(appIdentifier)
		return cached, nil
	}

	v, err, _ := c.exchanges.Do(sessionID+"\x00"+appIdentifier, func() (any, error) {
		return c.exchange(context.WithoutCancel(ctx), sessionID, appIdentifier, userAccessToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.OboToken), nil
}

func (c *OboCache) exchange(ctx context.Context, sessionID, appIdentifier, userAccessToken string) (*auth.OboToken, error) {
	raw, err := c.exchanger.Exchange(ctx, appIdentifier, userAccessToken)
	if err != nil {
		c.metrics.OboExchanged(appIdentifier, err)
		c.logExchangeFailure(appIdentifier, err)
		return nil, fmt.Errorf("%w: %w", auth.ErrOboExchangeFailed, err)
	}

	now := c.now()
	tok, err := auth.ToOboToken(raw, now)
	if err != nil {
		c.metrics.OboExchanged(appIdentifier, err)
		c.logExchangeFailure(appIdentifier, err)
		return nil, fmt.Errorf("%w: %w", auth.ErrOboExchangeFailed, err)
	}
	c.metrics.OboExchanged(appIdentifier, nil)

	ttl := auth.SecondsUntil(now, tok.Expiry()) - int64(c.skew/time.Second)
	if ttl <= 0 {
		c.logger.Debug("on-behalf-of token too short-lived to cache", "app", appIdentifier, "session_id", sessionID)
		return tok, nil
	}
	if err := c.store.SetUserOboToken(ctx, sessionID, appIdentifier, ttl, tok); err != nil {
		return nil, err
	}

	return tok, nil
}

func (c *OboCache) logExchangeFailure(appIdentifier string, err error) {
	var perr *auth.ProviderError
	if errors.As(err, &perr) {
		c.logger.Error("on-behalf-of exchange rejected by identity provider",
			"app", appIdentifier,
			"error_code", perr.Code,
			"error_description", perr.Description,
			"status", perr.StatusCode,
		)
		return
	}
	c.logger.Error("on-behalf-of exchange failed", "app", appIdentifier, "error", err)
}
