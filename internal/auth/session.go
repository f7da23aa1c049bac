package auth

import "time"

// LoginState is the per-flow state persisted between /login and /oauth2/callback,
// keyed by the OAuth state value.
type LoginState struct {
	Nonce        string `json:"nonce"`
	State        string `json:"state"`
	CodeVerifier string `json:"codeVerifier"`
	RedirectURI  string `json:"redirectUri"`
}

// OidcTokenSet is the user's token set bound to an internal session id.
type OidcTokenSet struct {
	TokenType    string `json:"tokenType"`
	Scope        string `json:"scope"`
	ExpiresAt    int64  `json:"expiresAt"` // epoch ms
	AccessToken  string `json:"accessToken"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Expiry returns ExpiresAt as a time.Time.
func (t *OidcTokenSet) Expiry() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// IsExpiredOrExpiresSoon reports whether the token set is expired at now, or
// will expire within skew.
func (t *OidcTokenSet) IsExpiredOrExpiresSoon(now time.Time, skew time.Duration) bool {
	if t == nil {
		return true
	}
	return !now.Before(t.Expiry().Add(-skew))
}

// OboToken is a downstream-scoped token obtained for exactly one app identifier.
type OboToken struct {
	TokenType   string `json:"tokenType"`
	Scope       string `json:"scope"`
	ExpiresAt   int64  `json:"expiresAt"` // epoch ms
	AccessToken string `json:"accessToken"`
}

func (t *OboToken) Expiry() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// SecondsUntil returns the whole seconds from now until t, rounded up. It
// never returns a negative value.
func SecondsUntil(now, t time.Time) int64 {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
