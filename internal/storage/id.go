package storage

import (
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"strings"
)

const (
	// SHA1Short is the short display length used in CLI output.
	SHA1Short = 7
	// SHA1MinLen is the minimum prefix length considered for ID matching.
	SHA1MinLen = 4
)

// Fingerprint returns the record ID of a token: the hex SHA-1 of the token
// with any "sso=" cookie prefix removed.
func Fingerprint(token string) string {
	//nolint:gosec // identifier derivation; not used for cryptographic security.
	sum := sha1.Sum([]byte(CleanToken(token)))
	return hex.EncodeToString(sum[:])
}

// CleanToken trims whitespace and a leading "sso=" cookie prefix.
func CleanToken(token string) string {
	token = strings.TrimSpace(token)
	token, _ = strings.CutPrefix(token, "sso=")
	return token
}

// Mask hides the middle of a token for display.
func Mask(token string) string {
	token = CleanToken(token)
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:6] + "..." + token[len(token)-4:]
}
