package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashString returns the hex SHA-256 digest of s.
func HashString(s string) string {
	hasher := sha256.New()
	hasher.Write([]byte(s))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Fingerprint returns a short, log-safe digest of a secret value.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return HashString(secret)[:12]
}
