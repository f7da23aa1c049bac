package auth

import (
	"errors"
	"fmt"
)

var (
	// Token errors
	ErrMalformedTokenResponse = errors.New("malformed token response")
	ErrInvalidToken           = errors.New("invalid token")

	// Login flow errors
	ErrMissingState       = errors.New("state is missing from callback")
	ErrLoginStateNotFound = errors.New("login state not found")
	ErrProviderCallback   = errors.New("identity provider returned an error to the callback")

	// Token resolution errors
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrRefreshFailed     = errors.New("token refresh failed")
	ErrOboExchangeFailed = errors.New("on-behalf-of exchange failed")

	// ErrStore means the session store backend failed; the state of the
	// affected record is unknown.
	ErrStore = errors.New("session store error")
)

// ProviderError is an OAuth 2.0 error response (RFC 6749 section 5.2) returned
// by the identity provider. It is meant for logs only.
type ProviderError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	StatusCode  int    `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("identity provider error %q (status %d): %s", e.Code, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("identity provider error %q (status %d)", e.Code, e.StatusCode)
}
