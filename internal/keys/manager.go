// Package keys handles API key lifecycle for the router.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/security"
	"github.com/cfx-labs/cfx-router/internal/storage"
)

// Manager handles API key creation and revocation. Only the keyed digest is
// persisted; the plaintext exists once, at creation.
type Manager struct {
	store  storage.APIKeyStore
	hasher *security.Hasher
}

// NewManager returns a Manager backed by store.
func NewManager(store storage.APIKeyStore, hasher *security.Hasher) *Manager {
	return &Manager{store: store, hasher: hasher}
}

// CreateKey generates a new API key for the user, stores its digest, and
// returns the plaintext (shown once) along with the persisted record.
func (m *Manager) CreateKey(ctx context.Context, userID string) (string, *gateway.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}

	plaintext := gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	key := &gateway.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    userID,
		KeyHash:   m.hasher.Hash(plaintext),
		Status:    gateway.KeyStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}

	return plaintext, key, nil
}

// RevokeKey marks the key with the given ID as revoked.
func (m *Manager) RevokeKey(ctx context.Context, id string) error {
	return m.store.RevokeKey(ctx, id)
}
