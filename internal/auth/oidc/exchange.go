package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
	"github.com/marcogenualdo/auth-proxy/internal/config"
)

const (
	grantTypeJWTBearer     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	grantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	tokenTypeJWT           = "urn:ietf:params:oauth:token-type:jwt"
)

// DelegationExchange is the Azure AD on-behalf-of flow. It authenticates as
// the login client itself.
type DelegationExchange struct {
	tokenURL   string
	signer     *AssertionSigner
	httpClient *http.Client
}

func NewDelegationExchange(tokenURL string, signer *AssertionSigner, httpClient *http.Client) *DelegationExchange {
	return &DelegationExchange{tokenURL: tokenURL, signer: signer, httpClient: httpClient}
}

func (e *DelegationExchange) AppIdentifier(app config.ProxyApp) string {
	return fmt.Sprintf("api://%s.%s.%s/.default", app.Cluster, app.Namespace, app.Name)
}

func (e *DelegationExchange) Exchange(ctx context.Context, appIdentifier, subjectToken string) (*auth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("requested_token_use", "on_behalf_of")
	form.Set("assertion", subjectToken)
	form.Set("scope", appIdentifier)
	form.Set("audience", appIdentifier)

	return postGrant(ctx, e.httpClient, e.signer, e.tokenURL, form)
}

// TokenExchange is the RFC 8693 exchange against TokenX, used when users log
// in through ID-porten. It authenticates as the TokenX client.
type TokenExchange struct {
	tokenURL   string
	signer     *AssertionSigner
	httpClient *http.Client
}

func NewTokenExchange(tokenURL string, signer *AssertionSigner, httpClient *http.Client) *TokenExchange {
	return &TokenExchange{tokenURL: tokenURL, signer: signer, httpClient: httpClient}
}

func (e *TokenExchange) AppIdentifier(app config.ProxyApp) string {
	return fmt.Sprintf("%s:%s:%s", app.Cluster, app.Namespace, app.Name)
}

func (e *TokenExchange) Exchange(ctx context.Context, appIdentifier, subjectToken string) (*auth.TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", grantTypeTokenExchange)
	form.Set("subject_token_type", tokenTypeJWT)
	form.Set("subject_token", subjectToken)
	form.Set("scope", appIdentifier)
	form.Set("audience", appIdentifier)

	return postGrant(ctx, e.httpClient, e.signer, e.tokenURL, form)
}

// Exchanger is implemented by DelegationExchange and TokenExchange.
type Exchanger interface {
	AppIdentifier(app config.ProxyApp) string
	Exchange(ctx context.Context, appIdentifier, subjectToken string) (*auth.TokenResponse, error)
}

// NewExchanger picks the exchange variant for the configured login provider.
// ID-porten needs a separate TokenX discovery; Azure AD reuses the login
// client.
func NewExchanger(ctx context.Context, cfg config.AuthConfig, login *Client) (Exchanger, error) {
	switch cfg.LoginProvider {
	case config.LoginProviderAzureAD:
		return NewDelegationExchange(login.TokenEndpoint(), login.Signer(), login.HTTPClient()), nil
	case config.LoginProviderIDPorten:
		if cfg.TokenX == nil {
			return nil, fmt.Errorf("token_x config is required for %s", cfg.LoginProvider)
		}
		md, err := Discover(ctx, login.HTTPClient(), cfg.TokenX.DiscoveryURL)
		if err != nil {
			return nil, fmt.Errorf("failed to discover token_x: %w", err)
		}
		signer, err := NewAssertionSigner(cfg.TokenX.ClientID, cfg.TokenX.PrivateJWK)
		if err != nil {
			return nil, fmt.Errorf("failed to load token_x client key: %w", err)
		}
		return NewTokenExchange(md.TokenEndpoint, signer, login.HTTPClient()), nil
	default:
		return nil, fmt.Errorf("unsupported login provider: %s", cfg.LoginProvider)
	}
}
