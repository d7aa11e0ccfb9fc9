package testutil

import (
	"context"
	"net/http"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// FakeAuth authenticates every request as the configured user.
type FakeAuth struct {
	UserID   string
	APIKeyID string
}

// Authenticate returns the configured identity.
func (f FakeAuth) Authenticate(context.Context, *http.Request) (*gateway.AuthDecision, error) {
	userID := f.UserID
	if userID == "" {
		userID = "user-test"
	}
	keyID := f.APIKeyID
	if keyID == "" {
		keyID = "key-test"
	}
	return &gateway.AuthDecision{UserID: userID, APIKeyID: keyID}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns ErrUnauthorized.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.AuthDecision, error) {
	return nil, gateway.ErrUnauthorized
}

// DownAuth simulates an auth backend outage.
type DownAuth struct{}

// Authenticate always returns ErrAuthUnavailable.
func (DownAuth) Authenticate(context.Context, *http.Request) (*gateway.AuthDecision, error) {
	return nil, gateway.ErrAuthUnavailable
}
