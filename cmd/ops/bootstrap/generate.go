package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a minted credential; hex encoding doubles
// it to a 64-character string.
const tokenBytes = 32

// mintToken returns a fresh random credential for parameters the platform
// issues itself, such as the admin API key.
func mintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
