// Package security implements keyed hashing and verification of API key
// secrets. Raw secrets never touch persistent storage; only the HMAC digest
// produced here is stored and compared.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Hasher derives deterministic keyed digests from raw API key secrets.
// The pepper is the HMAC key; the salt is mixed into the message so that
// digests from deployments with different salts never collide.
type Hasher struct {
	salt   string
	pepper string
}

// New validates the salt/pepper pair and returns a Hasher.
// Both values are required and must differ; a missing or reused value would
// silently weaken every stored digest, so startup must fail instead.
func New(salt, pepper string) (*Hasher, error) {
	if salt == "" {
		return nil, errors.New("security: HASH_SALT is required")
	}
	if pepper == "" {
		return nil, errors.New("security: KEY_HASH_PEPPER is required")
	}
	if salt == pepper {
		return nil, errors.New("security: HASH_SALT and KEY_HASH_PEPPER must differ")
	}
	return &Hasher{salt: salt, pepper: pepper}, nil
}

// Hash returns the lowercase hex HMAC-SHA256 digest of a raw API key secret.
// The same secret always yields the same digest for a given salt/pepper pair,
// which is what makes digest-keyed lookups possible.
func (h *Hasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, []byte(h.pepper))
	mac.Write([]byte(h.salt))
	mac.Write([]byte{':'})
	mac.Write([]byte(secret))
	mac.Write([]byte{':'})
	mac.Write([]byte(h.pepper))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the secret hashes to the stored digest.
// Comparison is constant-time.
func (h *Hasher) Verify(secret, digest string) bool {
	computed := h.Hash(secret)
	return hmac.Equal([]byte(computed), []byte(digest))
}

// ExtractBearer pulls the token out of an Authorization header value.
// The "Bearer " scheme match is exact and case-sensitive; surrounding
// whitespace around the token is trimmed. Returns false for a missing,
// malformed, or empty token.
func ExtractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}
