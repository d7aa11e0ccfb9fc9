package keys

import (
	"context"
	"strings"
	"testing"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/security"
	"github.com/cfx-labs/cfx-router/internal/testutil"
)

func newManager(t *testing.T) (*Manager, *testutil.FakeStore, *security.Hasher) {
	t.Helper()
	hasher, err := security.New("test-salt", "test-pepper")
	if err != nil {
		t.Fatal(err)
	}
	store := testutil.NewFakeStore()
	return NewManager(store, hasher), store, hasher
}

func TestCreateKeyStoresDigestNotPlaintext(t *testing.T) {
	m, store, hasher := newManager(t)
	ctx := context.Background()

	plaintext, key, err := m.CreateKey(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(plaintext, gateway.APIKeyPrefix) {
		t.Errorf("plaintext %q missing prefix %q", plaintext, gateway.APIKeyPrefix)
	}
	if key.KeyHash == plaintext || strings.Contains(key.KeyHash, plaintext) {
		t.Error("plaintext leaked into the stored record")
	}
	if key.KeyHash != hasher.Hash(plaintext) {
		t.Error("stored digest does not verify against the plaintext")
	}
	if key.Status != gateway.KeyStatusActive {
		t.Errorf("status = %q, want active", key.Status)
	}

	// The key authenticates through the digest lookup path.
	got, err := store.GetKeyByHash(ctx, hasher.Hash(plaintext))
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "user-1" {
		t.Errorf("user = %q, want user-1", got.UserID)
	}
}

func TestCreateKeyUniquePerCall(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()

	a, _, err := m.CreateKey(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := m.CreateKey(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two generated keys are identical")
	}
}

func TestRevokeKey(t *testing.T) {
	m, store, hasher := newManager(t)
	ctx := context.Background()

	plaintext, key, err := m.CreateKey(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RevokeKey(ctx, key.ID); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetKeyByHash(ctx, hasher.Hash(plaintext))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != gateway.KeyStatusRevoked {
		t.Errorf("status after revoke = %q, want revoked", got.Status)
	}
}

func TestRevokeUnknownKey(t *testing.T) {
	m, _, _ := newManager(t)
	if err := m.RevokeKey(context.Background(), "no-such-id"); err == nil {
		t.Error("revoking an unknown key should fail")
	}
}
