package oidc

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	clientAssertionType     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	clientAssertionLifetime = 60 * time.Second
)

// AssertionSigner produces private_key_jwt client assertions (RFC 7523) for
// one client.
type AssertionSigner struct {
	clientID string
	keyID    string
	key      any
	method   jwt.SigningMethod
	now      func() time.Time
}

// NewAssertionSigner parses a private JWK. Any x5c member is dropped before
// parsing since the chain is irrelevant for signing.
func NewAssertionSigner(clientID, privateJWK string) (*AssertionSigner, error) {
	var members map[string]any
	if err := json.Unmarshal([]byte(privateJWK), &members); err != nil {
		return nil, fmt.Errorf("private jwk is not valid json: %w", err)
	}
	delete(members, "x5c")
	stripped, err := json.Marshal(members)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode private jwk: %w", err)
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(stripped); err != nil {
		return nil, fmt.Errorf("failed to parse private jwk: %w", err)
	}
	if jwk.IsPublic() {
		return nil, fmt.Errorf("jwk %q is not a private key", jwk.KeyID)
	}

	var method jwt.SigningMethod
	switch k := jwk.Key.(type) {
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PrivateKey:
		switch k.Curve.Params().BitSize {
		case 256:
			method = jwt.SigningMethodES256
		case 384:
			method = jwt.SigningMethodES384
		default:
			return nil, fmt.Errorf("unsupported ec curve %s", k.Curve.Params().Name)
		}
	default:
		return nil, fmt.Errorf("unsupported jwk key type %T", jwk.Key)
	}

	return &AssertionSigner{
		clientID: clientID,
		keyID:    jwk.KeyID,
		key:      jwk.Key,
		method:   method,
		now:      time.Now,
	}, nil
}

// Sign returns a fresh client assertion for audience, normally the token
// endpoint. Every call gets a new jti and nbf.
func (s *AssertionSigner) Sign(audience string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.clientID,
		Subject:   s.clientID,
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(clientAssertionLifetime)),
	}

	token := jwt.NewWithClaims(s.method, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}

func (s *AssertionSigner) ClientID() string {
	return s.clientID
}
