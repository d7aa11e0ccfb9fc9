package sqlite

import (
	"context"
	"database/sql"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// GetUserLimits returns the plan and limit overrides for a user.
func (s *Store) GetUserLimits(ctx context.Context, userID string) (*gateway.User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, plan, daily_limit, streaming_concurrency_cap
		 FROM users WHERE id = ?`, userID,
	)

	var u gateway.User
	var plan sql.NullString
	var dailyLimit, streamCap sql.NullInt64
	if err := row.Scan(&u.ID, &plan, &dailyLimit, &streamCap); err != nil {
		return nil, storeErr(err)
	}
	u.Plan = plan.String
	u.DailyLimit = intPtr(dailyLimit)
	u.StreamingConcurrencyCap = intPtr(streamCap)
	return &u, nil
}

// UpsertUser creates or replaces a user row. Used by provisioning tooling.
func (s *Store) UpsertUser(ctx context.Context, u *gateway.User) error {
	var plan sql.NullString
	if u.Plan != "" {
		plan = sql.NullString{String: u.Plan, Valid: true}
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO users (id, plan, daily_limit, streaming_concurrency_cap)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   plan = excluded.plan,
		   daily_limit = excluded.daily_limit,
		   streaming_concurrency_cap = excluded.streaming_concurrency_cap`,
		u.ID, plan, nullInt(u.DailyLimit), nullInt(u.StreamingConcurrencyCap),
	)
	return storeErr(err)
}
