// Package auth implements bearer API key authentication for the CF-X router.
// Keys are validated against the store and cached in a W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/security"
	"github.com/cfx-labs/cfx-router/internal/storage"
	"github.com/maypok86/otter/v2"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000           // max concurrent active keys expected per deployment
)

// APIKeyAuth authenticates requests using API keys with the "cfx_" prefix.
// It caches resolved API keys in an otter W-TinyLFU cache keyed by digest,
// so a hot key costs one HMAC and one cache hit instead of a store query.
type APIKeyAuth struct {
	hasher *security.Hasher
	store  storage.APIKeyStore
	cache  *otter.Cache[string, *gateway.APIKey]
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(hasher *security.Hasher, store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *gateway.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{hasher: hasher, store: store, cache: c}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates its digest against the store, and returns the caller's identity.
// Missing, malformed, unknown, and revoked keys all collapse into
// ErrUnauthorized so responses never reveal which check failed. A store
// outage is the one distinct failure: it maps to ErrAuthUnavailable and is
// never treated as a valid key.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.AuthDecision, error) {
	raw, ok := security.ExtractBearer(r.Header.Get("Authorization"))
	if !ok {
		return nil, gateway.ErrUnauthorized
	}

	digest := a.hasher.Hash(raw)

	if key, ok := a.cache.GetIfPresent(digest); ok {
		if key.Status != gateway.KeyStatusActive {
			return nil, gateway.ErrUnauthorized
		}
		return &gateway.AuthDecision{UserID: key.UserID, APIKeyID: key.ID}, nil
	}

	key, err := a.store.GetKeyByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %w", gateway.ErrAuthUnavailable, err)
	}

	// The lookup matched on the digest; re-check it in constant time before
	// trusting the row.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(digest)) != 1 {
		return nil, gateway.ErrUnauthorized
	}

	if key.Status != gateway.KeyStatusActive {
		return nil, gateway.ErrUnauthorized
	}

	a.cache.Set(digest, key)

	return &gateway.AuthDecision{UserID: key.UserID, APIKeyID: key.ID}, nil
}
