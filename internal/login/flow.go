package login

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/session"
)

// Client is the part of the identity provider client the login flow needs.
type Client interface {
	AuthorizationURL(state, nonce, codeVerifier string) string
	ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*auth.TokenResponse, error)
	SupportsFrontchannelLogout() bool
}

// CallbackParams are the form_post parameters sent to /oauth2/callback.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Flow runs the authorization code flow with PKCE for one browser session at
// a time: Begin sends the user to the provider, Complete handles the return.
type Flow struct {
	store          *session.Store
	client         Client
	applicationURL string
	allowedHosts   []string
	loginStateTTL  time.Duration
	skew           time.Duration
	enableRefresh  bool
	refreshWindow  time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time
}

func NewFlow(cfg *config.Config, store *session.Store, client Client, m *metrics.Metrics, logger *slog.Logger) *Flow {
	return &Flow{
		store:          store,
		client:         client,
		applicationURL: cfg.Server.ApplicationURL,
		allowedHosts:   cfg.Server.AllowedRedirectHosts,
		loginStateTTL:  cfg.Auth.LoginStateTTL,
		skew:           cfg.Auth.ClockSkew,
		enableRefresh:  cfg.Auth.EnableRefresh,
		refreshWindow:  cfg.Auth.RefreshAllowedWithin,
		metrics:        m,
		logger:         logger,
		now:            time.Now,
	}
}

// Begin returns where to send the browser: the provider's authorization
// endpoint, or straight back to redirect when the session already holds a
// valid token set.
func (f *Flow) Begin(ctx context.Context, sessionID, redirect string) (string, error) {
	redirect = f.safeRedirect(redirect)

	existing, err := f.store.GetOidcTokenSet(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if existing != nil && !existing.IsExpiredOrExpiresSoon(f.now(), f.skew) {
		f.logger.Debug("session already authenticated, skipping login", "session_id", sessionID)
		return redirect, nil
	}

	codeVerifier := oauth2.GenerateVerifier()
	state, err := auth.GenerateState()
	if err != nil {
		return "", err
	}
	nonce, err := auth.GenerateNonce()
	if err != nil {
		return "", err
	}

	ls := &auth.LoginState{
		Nonce:        nonce,
		State:        state,
		CodeVerifier: codeVerifier,
		RedirectURI:  redirect,
	}
	if err := f.store.SetLoginState(ctx, state, int64(f.loginStateTTL/time.Second), ls); err != nil {
		return "", err
	}

	f.metrics.LoginStarted()
	f.logger.Debug("login started", "session_id", sessionID)

	return f.client.AuthorizationURL(state, nonce, codeVerifier), nil
}

// Complete redeems the callback for sessionID and returns the redirect URI
// recorded when the flow began. A state is accepted once; the login state is
// deleted before the code is exchanged.
func (f *Flow) Complete(ctx context.Context, sessionID string, params CallbackParams) (string, error) {
	redirect, err := f.complete(ctx, sessionID, params)
	f.metrics.LoginCompleted(err)
	return redirect, err
}

func (f *Flow) complete(ctx context.Context, sessionID string, params CallbackParams) (string, error) {
	if params.State == "" {
		return "", auth.ErrMissingState
	}

	ls, err := f.store.GetLoginState(ctx, params.State)
	if err != nil {
		return "", err
	}
	if ls == nil {
		f.logger.Warn("login state not found", "state", params.State, "session_id", sessionID)
		return "", fmt.Errorf("%w: state %s", auth.ErrLoginStateNotFound, params.State)
	}
	if err := f.store.DestroyLoginState(ctx, params.State); err != nil {
		return "", err
	}

	if params.Error != "" {
		f.logger.Error("identity provider returned an error to the callback",
			"error_code", params.Error,
			"error_description", params.ErrorDescription,
			"session_id", sessionID,
		)
		return "", fmt.Errorf("%w: %s", auth.ErrProviderCallback, params.Error)
	}
	if params.Code == "" {
		return "", fmt.Errorf("%w: missing code", auth.ErrProviderCallback)
	}

	raw, err := f.client.ExchangeCode(ctx, params.Code, ls.CodeVerifier, ls.Nonce)
	if err != nil {
		f.logger.Error("failed to exchange authorization code", "session_id", sessionID, "error", err)
		return "", err
	}

	now := f.now()
	ts, err := auth.ToOidcTokenSet(raw, now)
	if err != nil {
		f.logger.Error("invalid token response from identity provider", "session_id", sessionID, "error", err)
		return "", err
	}

	var (
		ttl          int64
		allowedUntil time.Time
	)
	if f.enableRefresh {
		allowedUntil = now.Add(f.refreshWindow)
		ttl = auth.SecondsUntil(now, allowedUntil)
	} else {
		ttl = auth.SecondsUntil(now, ts.Expiry())
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: token already expired", auth.ErrMalformedTokenResponse)
	}

	var providerSID string
	if f.client.SupportsFrontchannelLogout() {
		providerSID, err = auth.ExtractSID(ts.IDToken)
		if err != nil {
			f.logger.Error("failed to read sid from id_token", "session_id", sessionID, "error", err)
			return "", err
		}
		if providerSID == "" {
			f.logger.Error("id_token has no sid claim", "session_id", sessionID)
			return "", fmt.Errorf("%w: missing sid claim", auth.ErrInvalidToken)
		}
	}

	if providerSID != "" {
		if err := f.store.SetLogoutSessionID(ctx, providerSID, ttl, sessionID); err != nil {
			return "", err
		}
	}
	if f.enableRefresh {
		if err := f.store.SetRefreshAllowedWithin(ctx, sessionID, ttl, allowedUntil); err != nil {
			return "", err
		}
	}
	if err := f.store.SetOidcTokenSet(ctx, sessionID, ttl, ts); err != nil {
		return "", err
	}

	f.logger.Info("login completed", "session_id", sessionID, "sid", providerSID)

	return f.safeRedirect(ls.RedirectURI), nil
}

// safeRedirect falls back to the application URL for empty redirects and
// redirects outside the allowed hosts. It never rejects.
func (f *Flow) safeRedirect(redirect string) string {
	if redirect == "" {
		return f.applicationURL
	}
	if !auth.IsAllowedRedirect(redirect, f.allowedHosts) {
		f.logger.Warn("redirect not allowed, using application url", "redirect", redirect)
		return f.applicationURL
	}
	return redirect
}
