// Package crypto provides the security primitives for the license server:
// one-way digests used to fingerprint codes and tokens, HMAC signatures for
// webhook verification, constant-time comparison, and cryptographically
// secure random credential generation.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// TokenBytes is the default entropy for opaque session bearer tokens.
const TokenBytes = 32

// SHA256Hex returns the lowercase hex SHA-256 digest of input.
func SHA256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of payload under secret.
func HMACSHA256Hex(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashWithPepper fingerprints a secret value for storage: sha256(value:pepper).
// The plaintext value is never persisted or logged.
func HashWithPepper(value, pepper string) string {
	return SHA256Hex(value + ":" + pepper)
}

// SecureCompare reports whether a and b are equal without early exit on the
// first differing byte. Length mismatch fails closed.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RandomDigits returns a string of n random decimal digits suitable for
// human-enterable login codes.
func RandomDigits(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("digit count must be positive, got %d", n)
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random digits: %w", err)
	}
	out := make([]byte, n)
	for i, b := range raw {
		out[i] = '0' + b%10
	}
	return string(out), nil
}

// RandomToken returns a random hex token of the given byte length
// (32 bytes → 64 hex characters). Used for opaque session bearer tokens.
func RandomToken(bytes int) (string, error) {
	if bytes <= 0 {
		return "", fmt.Errorf("token byte count must be positive, got %d", bytes)
	}
	raw := make([]byte, bytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
