package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/config"
)

// Client talks to the login identity provider: it builds authorization URLs,
// redeems authorization codes and refreshes tokens.
type Client struct {
	loginProvider config.LoginProvider
	metadata      *Metadata
	oauth2Config  oauth2.Config
	verifier      *oidc.IDTokenVerifier
	signer        *AssertionSigner
	httpClient    *http.Client
}

// NewClient discovers the login provider and prepares its client. redirectURL
// is the absolute callback URL registered with the provider.
func NewClient(ctx context.Context, cfg config.AuthConfig, redirectURL string, httpClient *http.Client) (*Client, error) {
	md, err := Discover(ctx, httpClient, cfg.DiscoveryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover %s: %w", cfg.LoginProvider, err)
	}

	signer, err := NewAssertionSigner(cfg.ClientID, cfg.PrivateJWK)
	if err != nil {
		return nil, fmt.Errorf("failed to load client key for %s: %w", cfg.LoginProvider, err)
	}

	provider := md.NewProvider(httpClient)

	oauth2Config := oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURL,
		Scopes:      loginScopes(cfg),
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &Client{
		loginProvider: cfg.LoginProvider,
		metadata:      md,
		oauth2Config:  oauth2Config,
		verifier:      verifier,
		signer:        signer,
		httpClient:    httpClient,
	}, nil
}

// loginScopes always asks for openid and profile. offline_access is only
// requested when refresh is enabled; Azure AD also gets the proxy's own
// resource so the first access token is usable for on-behalf-of.
func loginScopes(cfg config.AuthConfig) []string {
	scopes := []string{oidc.ScopeOpenID, "profile"}
	if cfg.EnableRefresh {
		scopes = append(scopes, oidc.ScopeOfflineAccess)
	}
	if cfg.LoginProvider == config.LoginProviderAzureAD {
		scopes = append(scopes, "api://"+cfg.ClientID+"/.default")
	}
	return scopes
}

// AuthorizationURL builds the login redirect. Only the S256 challenge of
// codeVerifier leaves the proxy.
func (c *Client) AuthorizationURL(state, nonce, codeVerifier string) string {
	return c.oauth2Config.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("response_mode", "form_post"),
		oauth2.S256ChallengeOption(codeVerifier),
		oidc.Nonce(nonce),
	)
}

// ExchangeCode redeems an authorization code with its PKCE verifier and
// checks the returned ID token against nonce.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*auth.TokenResponse, error) {
	assertion, err := c.signer.Sign(c.metadata.TokenEndpoint)
	if err != nil {
		return nil, err
	}

	ctx = oidc.ClientContext(ctx, c.httpClient)
	token, err := c.oauth2Config.Exchange(
		ctx,
		code,
		oauth2.VerifierOption(codeVerifier),
		oauth2.SetAuthURLParam("client_assertion_type", clientAssertionType),
		oauth2.SetAuthURLParam("client_assertion", assertion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", providerErrorFrom(err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: no id_token in token response", auth.ErrMalformedTokenResponse)
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidToken, err)
	}
	if idToken.Nonce != nonce {
		return nil, fmt.Errorf("%w: nonce mismatch", auth.ErrInvalidToken)
	}

	return tokenResponseFrom(token, rawIDToken), nil
}

// Refresh runs the refresh_token grant. The response is returned undecoded
// so the caller can decide how to merge it with the previous token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	tr, err := postGrant(ctx, c.httpClient, c.signer, c.metadata.TokenEndpoint, form)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if tr.IDToken != "" {
		if _, err := c.verifier.Verify(oidc.ClientContext(ctx, c.httpClient), tr.IDToken); err != nil {
			return nil, fmt.Errorf("%w: refreshed id_token: %v", auth.ErrInvalidToken, err)
		}
	}
	return tr, nil
}

// SupportsFrontchannelLogout reports whether the provider calls back with a
// sid on logout, in which case every login must record the sid mapping.
func (c *Client) SupportsFrontchannelLogout() bool {
	return c.loginProvider == config.LoginProviderIDPorten
}

func (c *Client) TokenEndpoint() string {
	return c.metadata.TokenEndpoint
}

func (c *Client) Signer() *AssertionSigner {
	return c.signer
}

func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func tokenResponseFrom(token *oauth2.Token, rawIDToken string) *auth.TokenResponse {
	tr := &auth.TokenResponse{
		TokenType:    token.TokenType,
		AccessToken:  token.AccessToken,
		IDToken:      rawIDToken,
		RefreshToken: token.RefreshToken,
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tr.Scope = scope
	}
	// Some Azure endpoints send expires_in as a string.
	switch v := token.Extra("expires_in").(type) {
	case float64:
		tr.ExpiresIn = int64(v)
	case string:
		tr.ExpiresIn, _ = strconv.ParseInt(v, 10, 64)
	}
	if tr.ExpiresIn == 0 && !token.Expiry.IsZero() {
		tr.ExpiresAt = token.Expiry.Unix()
	}
	return tr
}

func providerErrorFrom(err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return err
	}
	perr := &auth.ProviderError{
		Code:        rerr.ErrorCode,
		Description: rerr.ErrorDescription,
	}
	if rerr.Response != nil {
		perr.StatusCode = rerr.Response.StatusCode
	}
	if perr.Code == "" {
		perr.Code = "unknown_error"
	}
	return perr
}

// NewHTTPClient returns the client used for every identity provider call.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// CallbackURL is the redirect_uri registered with the provider.
func CallbackURL(applicationURL string) string {
	return strings.TrimSuffix(applicationURL, "/") + "/oauth2/callback"
}
