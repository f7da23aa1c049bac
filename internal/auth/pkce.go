package auth

import (
	"fmt"

	"github.com/marcogenualdo/auth-proxy/pkg/security"
)

const randomValueBytes = 32

func GenerateState() (string, error) {
	v, err := security.GenerateRandomString(randomValueBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return v, nil
}

func GenerateNonce() (string, error) {
	v, err := security.GenerateRandomString(randomValueBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return v, nil
}
