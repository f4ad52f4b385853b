package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TokenGenerator produces opaque auth tokens.
type TokenGenerator interface {
	NewToken() (string, error)
}

// HexTokenGenerator reads Bytes of crypto/rand entropy and hex encodes them.
type HexTokenGenerator struct {
	Bytes int
}

const defaultTokenBytes = 32

func (g HexTokenGenerator) NewToken() (string, error) {
	n := g.Bytes
	if n <= 0 {
		n = defaultTokenBytes
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
