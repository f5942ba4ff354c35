package group

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32 // 256 bits, comfortably above the 128-bit floor

// NewToken returns an unguessable, URL-safe invitation token
func NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
