package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
)

const maxResponseBodySize = 1 << 20

// Metadata is the subset of the OpenID Provider discovery document the proxy
// relies on.
type Metadata struct {
	Issuer                      string   `json:"issuer"`
	AuthorizationEndpoint       string   `json:"authorization_endpoint"`
	TokenEndpoint               string   `json:"token_endpoint"`
	JWKSURI                     string   `json:"jwks_uri"`
	UserInfoEndpoint            string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint          string   `json:"end_session_endpoint,omitempty"`
	IDTokenSigningAlgValues     []string `json:"id_token_signing_alg_values_supported,omitempty"`
	FrontchannelLogoutSupported bool     `json:"frontchannel_logout_supported,omitempty"`
}

// Discover fetches the discovery document at wellKnownURL. The URL is used as
// given; some providers publish it under a path that does not derive from the
// issuer.
func Discover(ctx context.Context, client *http.Client, wellKnownURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}

	var md Metadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}
	if md.Issuer == "" || md.TokenEndpoint == "" || md.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document at %s lacks issuer, token_endpoint or jwks_uri", wellKnownURL)
	}

	return &md, nil
}

// NewProvider builds a go-oidc provider from discovered metadata. The key set
// keeps the client's context for later JWKS fetches, so it must not be a
// request-scoped one.
func (md *Metadata) NewProvider(client *http.Client) *oidc.Provider {
	pc := oidc.ProviderConfig{
		IssuerURL:   md.Issuer,
		AuthURL:     md.AuthorizationEndpoint,
		TokenURL:    md.TokenEndpoint,
		UserInfoURL: md.UserInfoEndpoint,
		JWKSURL:     md.JWKSURI,
		Algorithms:  md.IDTokenSigningAlgValues,
	}
	return pc.NewProvider(oidc.ClientContext(context.Background(), client))
}
