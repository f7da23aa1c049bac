package oidc

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// testIdP is a minimal OpenID provider: discovery, JWKS and a token endpoint
// whose response is chosen per test.
type testIdP struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	clientKey *rsa.PrivateKey
	clientJWK string

	mu      sync.Mutex
	forms   []url.Values
	respond func(form url.Values) (int, any)
}

func newTestIdP(t *testing.T) *testIdP {
	t.Helper()

	idpKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwk := jose.JSONWebKey{Key: clientKey, KeyID: "client-key", Algorithm: "RS256", Use: "sig"}
	raw, err := jwk.MarshalJSON()
	require.NoError(t, err)

	idp := &testIdP{t: t, key: idpKey, clientKey: clientKey, clientJWK: string(raw)}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                                idp.server.URL,
			"authorization_endpoint":                idp.server.URL + "/authorize",
			"token_endpoint":                        idp.server.URL + "/token",
			"jwks_uri":                              idp.server.URL + "/jwks",
			"frontchannel_logout_supported":         true,
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			{Key: &idpKey.PublicKey, KeyID: "idp-key", Algorithm: "RS256", Use: "sig"},
		}})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		idp.mu.Lock()
		idp.forms = append(idp.forms, r.PostForm)
		respond := idp.respond
		idp.mu.Unlock()

		status, body := respond(r.PostForm)
		writeJSON(w, status, body)
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)

	return idp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (idp *testIdP) wellKnownURL() string {
	return idp.server.URL + "/.well-known/openid-configuration"
}

func (idp *testIdP) tokenURL() string {
	return idp.server.URL + "/token"
}

func (idp *testIdP) setResponse(fn func(form url.Values) (int, any)) {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	idp.respond = fn
}

func (idp *testIdP) lastForm() url.Values {
	idp.mu.Lock()
	defer idp.mu.Unlock()
	require.NotEmpty(idp.t, idp.forms)
	return idp.forms[len(idp.forms)-1]
}

// signIDToken issues an ID token for clientID signed with the IdP key.
func (idp *testIdP) signIDToken(clientID string, claims map[string]any) string {
	idp.t.Helper()

	now := time.Now()
	payload := map[string]any{
		"iss": idp.server.URL,
		"sub": "user-1",
		"aud": clientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		payload[k] = v
	}
	raw, err := json.Marshal(payload)
	require.NoError(idp.t, err)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: idp.key, KeyID: "idp-key"}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(idp.t, err)

	sig, err := signer.Sign(raw)
	require.NoError(idp.t, err)
	token, err := sig.CompactSerialize()
	require.NoError(idp.t, err)
	return token
}

// parseAssertion verifies a client assertion with the client public key.
func (idp *testIdP) parseAssertion(assertion string) *jwt.RegisteredClaims {
	idp.t.Helper()

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(assertion, claims, func(token *jwt.Token) (any, error) {
		require.Equal(idp.t, "client-key", token.Header["kid"])
		return &idp.clientKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(idp.t, err)
	return claims
}
