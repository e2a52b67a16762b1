package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// backupCodeAlphabet excludes ambiguous characters (0/O, 1/I/l).
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateBackupCode returns a random recovery code of the given length.
func GenerateBackupCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate backup code: %w", err)
	}

	code := make([]byte, length)
	for i, b := range buf {
		code[i] = backupCodeAlphabet[int(b)%len(backupCodeAlphabet)]
	}

	return string(code), nil
}

// TokenHasher derives storage hashes for magic-link tokens using a keyed
// HMAC so a leaked database cannot be used to forge valid links.
type TokenHasher struct {
	secret []byte
}

// NewTokenHasher constructs a TokenHasher keyed with the server secret.
func NewTokenHasher(serverSecret string) (*TokenHasher, error) {
	if serverSecret == "" {
		return nil, fmt.Errorf("server secret is required")
	}
	return &TokenHasher{secret: []byte(serverSecret)}, nil
}

// Hash calculates the keyed HMAC-SHA256 digest of the provided value.
func (h *TokenHasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Matches compares a presented raw token against a stored hash in constant time.
func (h *TokenHasher) Matches(rawToken, storedHash string) bool {
	computed := h.Hash(rawToken)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}
