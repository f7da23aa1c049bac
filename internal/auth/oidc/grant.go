package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/marcogenualdo/auth-proxy/internal/auth"
)

// postGrant sends a form encoded grant to tokenURL, authenticating with a
// freshly signed client assertion, and decodes the token response.
func postGrant(ctx context.Context, client *http.Client, signer *AssertionSigner, tokenURL string, form url.Values) (*auth.TokenResponse, error) {
	assertion, err := signer.Sign(tokenURL)
	if err != nil {
		return nil, err
	}
	form.Set("client_id", signer.ClientID())
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseProviderError(resp.StatusCode, body)
	}

	var tr auth.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrMalformedTokenResponse, err)
	}
	return &tr, nil
}

func parseProviderError(status int, body []byte) error {
	perr := &auth.ProviderError{StatusCode: status}
	if err := json.Unmarshal(body, perr); err != nil || perr.Code == "" {
		perr.Code = "unknown_error"
	}
	return perr
}
