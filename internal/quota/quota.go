// Package quota enforces the per-user daily request quota.
//
// The counter increment is delegated to the store, which performs it
// atomically. Enforcement is deliberately fail-open: when the store is
// unreachable the request proceeds, because blocking all traffic on a
// counter outage is worse than briefly under-counting.
package quota

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/storage"
)

// Per-plan daily request limits.
var planLimits = map[string]int{
	gateway.PlanStarter: 1000,
	gateway.PlanPro:     4000,
	gateway.PlanAgency:  15000,
}

// Checker charges and enforces the daily counter.
type Checker struct {
	counters     storage.CounterStore
	users        storage.UserStore
	defaultLimit int

	now func() time.Time // injectable for tests
}

// NewChecker returns a Checker with the given fallback daily limit, used when
// a user has neither an override nor a recognized plan.
func NewChecker(counters storage.CounterStore, users storage.UserStore, defaultLimit int) *Checker {
	return &Checker{counters: counters, users: users, defaultLimit: defaultLimit, now: time.Now}
}

// Check charges one request against the user's daily counter and decides
// admission. It never returns an error: a store failure yields an allowed
// decision with an optimistic remaining count.
func (c *Checker) Check(ctx context.Context, userID string) gateway.QuotaDecision {
	limit := c.resolveLimit(ctx, userID)

	now := c.now().UTC()
	day := now.Format(time.DateOnly)
	reset := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC).Unix()

	count, err := c.counters.IncrementCounter(ctx, userID, day)
	if err != nil {
		slog.WarnContext(ctx, "quota counter unavailable, failing open",
			"user_id", userID, "error", err)
		return gateway.QuotaDecision{
			Allowed:    true,
			Limit:      limit,
			Remaining:  limit - 1,
			ResetEpoch: reset,
		}
	}

	return gateway.QuotaDecision{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  max(0, limit-count),
		ResetEpoch: reset,
	}
}

// resolveLimit returns, in precedence order, the user's explicit override,
// their plan limit, or the configured default. User lookup failures fall
// back to the default rather than blocking the request.
func (c *Checker) resolveLimit(ctx context.Context, userID string) int {
	u, err := c.users.GetUserLimits(ctx, userID)
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			slog.WarnContext(ctx, "user limit lookup failed, using default",
				"user_id", userID, "error", err)
		}
		return c.defaultLimit
	}
	if u.DailyLimit != nil && *u.DailyLimit > 0 {
		return *u.DailyLimit
	}
	if limit, ok := planLimits[u.Plan]; ok {
		return limit
	}
	return c.defaultLimit
}
