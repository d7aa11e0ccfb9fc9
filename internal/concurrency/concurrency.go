// Package concurrency tracks in-flight streaming requests per user and
// enforces a per-user slot cap. State is a process-local map guarded by one
// mutex; it is advisory across replicas, which is acceptable for stream
// admission.
package concurrency

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/storage"
)

// Per-plan streaming slot caps.
var planCaps = map[string]int{
	gateway.PlanStarter: 1,
	gateway.PlanPro:     2,
	gateway.PlanAgency:  5,
}

// Limiter hands out streaming slots.
type Limiter struct {
	users      storage.UserStore
	defaultCap int

	mu     sync.Mutex
	active map[string]int
}

// NewLimiter returns a Limiter with the given fallback cap, used when a user
// has neither an override nor a recognized plan.
func NewLimiter(users storage.UserStore, defaultCap int) *Limiter {
	return &Limiter{users: users, defaultCap: defaultCap, active: make(map[string]int)}
}

// Acquire takes a slot for the user if one is free. The cap is resolved
// outside the lock (it may hit the store); the check-and-increment itself is
// atomic under the mutex.
func (l *Limiter) Acquire(ctx context.Context, userID string) bool {
	capacity := l.Cap(ctx, userID)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[userID] >= capacity {
		return false
	}
	l.active[userID]++
	return true
}

// Release returns a slot. Surplus releases are clamped at zero so a double
// release can never manufacture capacity.
func (l *Limiter) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[userID] <= 1 {
		delete(l.active, userID)
		return
	}
	l.active[userID]--
}

// Active returns the user's current in-flight stream count.
func (l *Limiter) Active(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[userID]
}

// Cap resolves the user's slot cap: explicit override, then plan cap, then
// the configured default. Lookup failures fall back to the default.
func (l *Limiter) Cap(ctx context.Context, userID string) int {
	u, err := l.users.GetUserLimits(ctx, userID)
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			slog.WarnContext(ctx, "stream cap lookup failed, using default",
				"user_id", userID, "error", err)
		}
		return l.defaultCap
	}
	if u.StreamingConcurrencyCap != nil && *u.StreamingConcurrencyCap > 0 {
		return *u.StreamingConcurrencyCap
	}
	if c, ok := planCaps[u.Plan]; ok {
		return c
	}
	return l.defaultCap
}
