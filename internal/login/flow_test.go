package login

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/cache"
	"github.com/marcogenualdo/auth-proxy/internal/config"
	"github.com/marcogenualdo/auth-proxy/internal/metrics"
	"github.com/marcogenualdo/auth-proxy/internal/session"
)

var testNow = time.Unix(1_700_000_000, 0)

type fakeClient struct {
	frontchannel bool
	response     *auth.TokenResponse
	err          error

	exchanges    atomic.Int32
	lastVerifier string
	lastNonce    string
}

func (c *fakeClient) AuthorizationURL(state, nonce, codeVerifier string) string {
	q := url.Values{}
	q.Set("state", state)
	q.Set("nonce", nonce)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(codeVerifier))
	return "https://idp.example/authorize?" + q.Encode()
}

func (c *fakeClient) ExchangeCode(_ context.Context, _, codeVerifier, nonce string) (*auth.TokenResponse, error) {
	c.exchanges.Add(1)
	c.lastVerifier = codeVerifier
	c.lastNonce = nonce
	if c.err != nil {
		return nil, c.err
	}
	resp := *c.response
	return &resp, nil
}

func (c *fakeClient) SupportsFrontchannelLogout() bool {
	return c.frontchannel
}

func idTokenWithClaims(payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"RS256"}`)) + "." + enc.EncodeToString([]byte(payload)) + ".sig"
}

func testConfig(enableRefresh bool) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ApplicationURL:       "https://app.nav.no",
			AllowedRedirectHosts: []string{"nav.no", "localhost"},
		},
		Auth: config.AuthConfig{
			EnableRefresh:        enableRefresh,
			RefreshAllowedWithin: 12 * time.Hour,
			ClockSkew:            15 * time.Second,
			LoginStateTTL:        time.Hour,
		},
	}
}

func newTestFlow(t *testing.T, cfg *config.Config, client Client) (*Flow, *session.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store := session.NewStore(cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ""))
	t.Cleanup(func() { _ = store.Close() })

	f := NewFlow(cfg, store, client, metrics.New(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.now = func() time.Time { return testNow }
	return f, store, mr
}

func stateFrom(t *testing.T, authURL string) url.Values {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query()
}

func TestFlow_Begin(t *testing.T) {
	t.Parallel()

	f, store, mr := newTestFlow(t, testConfig(false), &fakeClient{})
	ctx := context.Background()

	authURL, err := f.Begin(ctx, "sess", "https://app.nav.no/x")
	require.NoError(t, err)

	q := stateFrom(t, authURL)
	state := q.Get("state")
	require.NotEmpty(t, state)
	assert.NotEmpty(t, q.Get("nonce"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	ls, err := store.GetLoginState(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, ls)
	assert.Equal(t, state, ls.State)
	assert.Equal(t, q.Get("nonce"), ls.Nonce)
	assert.Equal(t, "https://app.nav.no/x", ls.RedirectURI)
	assert.Len(t, ls.CodeVerifier, 43)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(ls.CodeVerifier), q.Get("code_challenge"))
	assert.Equal(t, time.Hour, mr.TTL("loginState."+state))
}

func TestFlow_BeginUntrustedRedirect(t *testing.T) {
	t.Parallel()

	f, store, _ := newTestFlow(t, testConfig(false), &fakeClient{})
	ctx := context.Background()

	for _, redirect := range []string{"https://evil.example/x", ""} {
		authURL, err := f.Begin(ctx, "sess", redirect)
		require.NoError(t, err)

		ls, err := store.GetLoginState(ctx, stateFrom(t, authURL).Get("state"))
		require.NoError(t, err)
		assert.Equal(t, "https://app.nav.no", ls.RedirectURI)
	}
}

func TestFlow_BeginAlreadyAuthenticated(t *testing.T) {
	t.Parallel()

	f, store, mr := newTestFlow(t, testConfig(false), &fakeClient{})
	ctx := context.Background()
	require.NoError(t, store.SetOidcTokenSet(ctx, "sess", 600, &auth.OidcTokenSet{
		TokenType: "Bearer", Scope: "openid", ExpiresAt: testNow.Add(10 * time.Minute).UnixMilli(),
		AccessToken: "at", IDToken: "it",
	}))

	target, err := f.Begin(ctx, "sess", "https://app.nav.no/x")
	require.NoError(t, err)
	assert.Equal(t, "https://app.nav.no/x", target)
	assert.Len(t, mr.Keys(), 1)
}

func TestFlow_CompleteWithRefresh(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &auth.TokenResponse{
		TokenType: "Bearer", Scope: "openid profile offline_access", ExpiresIn: 3600,
		AccessToken: "at", IDToken: idTokenWithClaims(`{"sub":"u"}`), RefreshToken: "rt",
	}}
	f, store, mr := newTestFlow(t, testConfig(true), client)
	ctx := context.Background()

	authURL, err := f.Begin(ctx, "sess", "https://app.nav.no/x")
	require.NoError(t, err)
	state := stateFrom(t, authURL).Get("state")
	ls, err := store.GetLoginState(ctx, state)
	require.NoError(t, err)

	target, err := f.Complete(ctx, "sess", CallbackParams{State: state, Code: "code"})
	require.NoError(t, err)
	assert.Equal(t, "https://app.nav.no/x", target)
	assert.Equal(t, ls.CodeVerifier, client.lastVerifier)
	assert.Equal(t, ls.Nonce, client.lastNonce)

	ts, err := store.GetOidcTokenSet(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "rt", ts.RefreshToken)
	assert.Equal(t, testNow.Add(time.Hour).UnixMilli(), ts.ExpiresAt)

	// The token set lives exactly as long as refresh is allowed.
	assert.Equal(t, 12*time.Hour, mr.TTL("oidcTokenSet.sess"))
	assert.Equal(t, 12*time.Hour, mr.TTL("refreshAllowedWithinEpoch.sess"))
	until, err := store.GetRefreshAllowedWithin(ctx, "sess")
	require.NoError(t, err)
	assert.True(t, until.Equal(testNow.Add(12*time.Hour)))

	assert.False(t, mr.Exists("loginState."+state))
}

func TestFlow_CompleteWithoutRefresh(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &auth.TokenResponse{
		TokenType: "Bearer", Scope: "openid profile", ExpiresIn: 300,
		AccessToken: "at", IDToken: idTokenWithClaims(`{"sub":"u"}`),
	}}
	f, _, mr := newTestFlow(t, testConfig(false), client)
	ctx := context.Background()

	authURL, err := f.Begin(ctx, "sess", "https://app.nav.no/x")
	require.NoError(t, err)

	_, err = f.Complete(ctx, "sess", CallbackParams{State: stateFrom(t, authURL).Get("state"), Code: "code"})
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, mr.TTL("oidcTokenSet.sess"))
	assert.False(t, mr.Exists("refreshAllowedWithinEpoch.sess"))
}

func TestFlow_CompleteRecordsFrontchannelSID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{frontchannel: true, response: &auth.TokenResponse{
		TokenType: "Bearer", Scope: "openid profile", ExpiresIn: 300,
		AccessToken: "at", IDToken: idTokenWithClaims(`{"sub":"u","sid":"abc123"}`),
	}}
	f, store, mr := newTestFlow(t, testConfig(false), client)
	ctx := context.Background()

	authURL, err := f.Begin(ctx, "sess", "https://app.nav.no/x")
	require.NoError(t, err)

	target, err := f.Complete(ctx, "sess", CallbackParams{State: stateFrom(t, authURL).Get("state"), Code: "code"})
	require.NoError(t, err)
	assert.Equal(t, "https://app.nav.no/x", target)

	mapped, err := store.GetLogoutSessionID(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "sess", mapped)
	assert.Equal(t, mr.TTL("oidcTokenSet.sess"), mr.TTL("authProviderSid.abc123"))
}

func TestFlow_CompleteFrontchannelWithoutSID(t *testing.T) {
	t.Parallel()

	client := &fakeClient{frontchannel: true, response: &auth.TokenResponse{
		TokenType: "Bearer", Scope: "openid profile", ExpiresIn: 300,
		AccessToken: "at", IDToken: idTokenWithClaims(`{"sub":"u"}`),
	}}
	f, store, _ := newTestFlow(t, testConfig(false), client)
	ctx := context.Background()

	authURL, err := f.Begin(ctx, "sess", "")
	require.NoError(t, err)

	_, err = f.Complete(ctx, "sess", CallbackParams{State: stateFrom(t, authURL).Get("state"), Code: "code"})
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	ts, err := store.GetOidcTokenSet(ctx, "sess")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestFlow_CompleteStateIsSingleUse(t *testing.T) {
	t.Parallel()

	client := &fakeClient{response: &auth.TokenResponse{
		TokenType: "Bearer", Scope: "openid", ExpiresIn: 300,
		AccessToken: "at", IDToken: idTokenWithClaims(`{}`),
	}}
	f, _, _ := newTestFlow(t, testConfig(false), client)
	ctx := context.Background()

	authURL, err := f.Begin(ctx, "sess", "")
	require.NoError(t, err)
	params := CallbackParams{State: stateFrom(t, authURL).Get("state"), Code: "code"}

	_, err = f.Complete(ctx, "sess", params)
	require.NoError(t, err)

	_, err = f.Complete(ctx, "sess", params)
	assert.ErrorIs(t, err, auth.ErrLoginStateNotFound)
	assert.Equal(t, int32(1), client.exchanges.Load())
}

func TestFlow_CompleteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		client  *fakeClient
		params  func(state string) CallbackParams
		wantErr error
	}{
		{
			name:    "missing state",
			client:  &fakeClient{},
			params:  func(string) CallbackParams { return CallbackParams{Code: "code"} },
			wantErr: auth.ErrMissingState,
		},
		{
			name:    "unknown state",
			client:  &fakeClient{},
			params:  func(string) CallbackParams { return CallbackParams{State: "forged", Code: "code"} },
			wantErr: auth.ErrLoginStateNotFound,
		},
		{
			name:   "provider error",
			client: &fakeClient{},
			params: func(state string) CallbackParams {
				return CallbackParams{State: state, Error: "access_denied", ErrorDescription: "user cancelled"}
			},
			wantErr: auth.ErrProviderCallback,
		},
		{
			name:    "exchange failure",
			client:  &fakeClient{err: &auth.ProviderError{Code: "invalid_grant", StatusCode: 400}},
			params:  func(state string) CallbackParams { return CallbackParams{State: state, Code: "code"} },
			wantErr: &auth.ProviderError{},
		},
		{
			name:    "malformed response",
			client:  &fakeClient{response: &auth.TokenResponse{TokenType: "Bearer", AccessToken: "at"}},
			params:  func(state string) CallbackParams { return CallbackParams{State: state, Code: "code"} },
			wantErr: auth.ErrMalformedTokenResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, store, mr := newTestFlow(t, testConfig(false), tt.client)
			ctx := context.Background()

			authURL, err := f.Begin(ctx, "sess", "")
			require.NoError(t, err)
			state := stateFrom(t, authURL).Get("state")

			_, err = f.Complete(ctx, "sess", tt.params(state))
			require.Error(t, err)
			var perr *auth.ProviderError
			if errors.As(tt.wantErr, &perr) {
				assert.ErrorAs(t, err, &perr)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			ts, err := store.GetOidcTokenSet(ctx, "sess")
			require.NoError(t, err)
			assert.Nil(t, ts)
			assert.False(t, mr.Exists("oidcTokenSet.sess"))
		})
	}
}
