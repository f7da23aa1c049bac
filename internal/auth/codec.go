package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TokenResponse is the raw token endpoint response as sent by the identity
// provider. ExpiresAt is epoch seconds and is only set when the response (or
// the client library) supplied an absolute expiry.
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// UnmarshalJSON accepts expires_in and expires_at either as JSON numbers or
// as numeric strings, which some Azure endpoints send.
func (r *TokenResponse) UnmarshalJSON(data []byte) error {
	type plain TokenResponse
	aux := struct {
		*plain
		ExpiresIn json.RawMessage `json:"expires_in"`
		ExpiresAt json.RawMessage `json:"expires_at"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if r.ExpiresIn, err = parseSeconds(aux.ExpiresIn); err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	if r.ExpiresAt, err = parseSeconds(aux.ExpiresAt); err != nil {
		return fmt.Errorf("expires_at: %w", err)
	}
	return nil
}

func parseSeconds(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	num := json.Number(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		num = json.Number(s)
	}

	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return int64(f), nil
}

// expiresAtMillis resolves the absolute expiry, preferring expires_at over
// expires_in.
func (r *TokenResponse) expiresAtMillis(now time.Time) (int64, error) {
	switch {
	case r.ExpiresAt > 0:
		return r.ExpiresAt * 1000, nil
	case r.ExpiresIn > 0:
		return now.Add(time.Duration(r.ExpiresIn) * time.Second).UnixMilli(), nil
	default:
		return 0, fmt.Errorf("%w: missing expires_at/expires_in", ErrMalformedTokenResponse)
	}
}

func (r *TokenResponse) requireCommon() error {
	if r == nil {
		return fmt.Errorf("%w: empty response", ErrMalformedTokenResponse)
	}
	if r.TokenType == "" {
		return fmt.Errorf("%w: missing token_type", ErrMalformedTokenResponse)
	}
	if r.Scope == "" {
		return fmt.Errorf("%w: missing scope", ErrMalformedTokenResponse)
	}
	if r.AccessToken == "" {
		return fmt.Errorf("%w: missing access_token", ErrMalformedTokenResponse)
	}
	return nil
}

// ToOidcTokenSet converts a user token response into an OidcTokenSet. The
// expiry is fixed here and never recomputed later.
func ToOidcTokenSet(raw *TokenResponse, now time.Time) (*OidcTokenSet, error) {
	if err := raw.requireCommon(); err != nil {
		return nil, err
	}
	if raw.IDToken == "" {
		return nil, fmt.Errorf("%w: missing id_token", ErrMalformedTokenResponse)
	}
	expiresAt, err := raw.expiresAtMillis(now)
	if err != nil {
		return nil, err
	}

	return &OidcTokenSet{
		TokenType:    raw.TokenType,
		Scope:        raw.Scope,
		ExpiresAt:    expiresAt,
		AccessToken:  raw.AccessToken,
		IDToken:      raw.IDToken,
		RefreshToken: raw.RefreshToken,
	}, nil
}

// ToOboToken converts an exchange grant response into an OboToken.
func ToOboToken(raw *TokenResponse, now time.Time) (*OboToken, error) {
	if err := raw.requireCommon(); err != nil {
		return nil, err
	}
	expiresAt, err := raw.expiresAtMillis(now)
	if err != nil {
		return nil, err
	}

	return &OboToken{
		TokenType:   raw.TokenType,
		Scope:       raw.Scope,
		ExpiresAt:   expiresAt,
		AccessToken: raw.AccessToken,
	}, nil
}

// TokenResponse re-encodes the token set in the provider wire shape.
func (t *OidcTokenSet) TokenResponse() *TokenResponse {
	return &TokenResponse{
		TokenType:    t.TokenType,
		Scope:        t.Scope,
		ExpiresAt:    t.ExpiresAt / 1000,
		AccessToken:  t.AccessToken,
		IDToken:      t.IDToken,
		RefreshToken: t.RefreshToken,
	}
}

// ExtractSID returns the "sid" claim of a signed JWT without verifying it.
// A token without the claim yields "" and no error.
func ExtractSID(idToken string) (string, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 parts, got %d", ErrInvalidToken, len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", fmt.Errorf("%w: payload is not base64url: %v", ErrInvalidToken, err)
	}

	var claims struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("%w: payload is not json: %v", ErrInvalidToken, err)
	}

	return claims.SID, nil
}
