package testutil

import (
	"context"
	"fmt"
	"sync"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Setting Down makes every call fail with a wrapped ErrStoreUnavailable,
// the same shape the sqlite layer produces.
type FakeStore struct {
	mu       sync.RWMutex
	keys     map[string]*gateway.APIKey // by hash
	users    map[string]*gateway.User
	counters map[string]int // userID + "|" + day
	logs     []gateway.RequestLog
	down     bool
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:     make(map[string]*gateway.APIKey),
		users:    make(map[string]*gateway.User),
		counters: make(map[string]int),
	}
}

// SetDown toggles simulated backend failure.
func (s *FakeStore) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// AddKey inserts a key into the fake store.
func (s *FakeStore) AddKey(k *gateway.APIKey) {
	s.mu.Lock()
	s.keys[k.KeyHash] = k
	s.mu.Unlock()
}

// AddUser inserts a user row into the fake store.
func (s *FakeStore) AddUser(u *gateway.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

// SetCount seeds a counter for a given user and day.
func (s *FakeStore) SetCount(userID, day string, n int) {
	s.mu.Lock()
	s.counters[userID+"|"+day] = n
	s.mu.Unlock()
}

// Logs returns a copy of the inserted request log records.
func (s *FakeStore) Logs() []gateway.RequestLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.RequestLog, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *FakeStore) unavailable() error {
	return fmt.Errorf("%w: fake store down", gateway.ErrStoreUnavailable)
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, k *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return s.unavailable()
	}
	s.keys[k.KeyHash] = k
	return nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, digest string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, s.unavailable()
	}
	k, ok := s.keys[digest]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return k, nil
}

func (s *FakeStore) RevokeKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return s.unavailable()
	}
	for _, k := range s.keys {
		if k.ID == id {
			k.Status = gateway.KeyStatusRevoked
			return nil
		}
	}
	return gateway.ErrNotFound
}

// --- UserStore ---

func (s *FakeStore) GetUserLimits(_ context.Context, userID string) (*gateway.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return nil, s.unavailable()
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return u, nil
}

// --- CounterStore ---

func (s *FakeStore) IncrementCounter(_ context.Context, userID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return 0, s.unavailable()
	}
	key := userID + "|" + day
	s.counters[key]++
	return s.counters[key], nil
}

// --- RequestLogStore ---

func (s *FakeStore) InsertRequestLog(_ context.Context, rec *gateway.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return s.unavailable()
	}
	s.logs = append(s.logs, *rec)
	return nil
}

func (s *FakeStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.down {
		return s.unavailable()
	}
	return nil
}

func (s *FakeStore) Close() error { return nil }
