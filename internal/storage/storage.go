// Package storage defines persistence interfaces for the router.
//
// Implementations map their backend failures to gateway.ErrStoreUnavailable
// (wrapped) so callers can decide between fail-closed (auth) and fail-open
// (quota) without knowing the backend.
package storage

import (
	"context"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	// GetKeyByHash retrieves a key by its HMAC digest regardless of status;
	// returns gateway.ErrNotFound when no row matches.
	GetKeyByHash(ctx context.Context, digest string) (*gateway.APIKey, error)
	RevokeKey(ctx context.Context, id string) error
}

// UserStore reads per-user limit overrides.
type UserStore interface {
	// GetUserLimits returns the user's plan and overrides; gateway.ErrNotFound
	// when the user row does not exist.
	GetUserLimits(ctx context.Context, userID string) (*gateway.User, error)
}

// CounterStore manages atomic daily request counters.
type CounterStore interface {
	// IncrementCounter atomically increments the (userID, day) counter and
	// returns the post-increment value. The increment and read are one
	// operation; concurrent callers each observe a distinct value.
	IncrementCounter(ctx context.Context, userID, day string) (int, error)
}

// RequestLogStore appends usage log records.
type RequestLogStore interface {
	InsertRequestLog(ctx context.Context, rec *gateway.RequestLog) error
}

// Store combines all storage interfaces.
type Store interface {
	APIKeyStore
	UserStore
	CounterStore
	RequestLogStore
	Ping(ctx context.Context) error
	Close() error
}
