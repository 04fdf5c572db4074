package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenByteLength gives generated secrets 256 bits of entropy.
const tokenByteLength = 32

// GenerateSecureToken returns 32 random bytes, hex-encoded.
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secure token: crypto/rand failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
