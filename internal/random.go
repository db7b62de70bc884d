package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// Duo accepts state values between 16 and 1024 characters.
const (
	minStateLength = 16
	maxStateLength = 1024
)

// NewStateToken returns an unguessable URL-safe correlation token of
// exactly length characters.
func NewStateToken(length int) (string, error) {
	if length < minStateLength || length > maxStateLength {
		return "", errors.New("invalid state token length")
	}

	// base64url expands 3 bytes to 4 chars; over-provision and trim.
	raw := make([]byte, (length*3+3)/4+3)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	token := base64.RawURLEncoding.EncodeToString(raw)
	if len(token) < length {
		return "", errors.New("state token generation underflow")
	}
	return token[:length], nil
}
