package sqlite

import (
	"context"
	"time"
)

// IncrementCounter atomically bumps the per-user daily counter and returns
// the post-increment value. The upsert and the read happen in one statement
// on the single-writer connection, so concurrent callers for the same
// (user, day) each observe a distinct count and none is lost.
func (s *Store) IncrementCounter(ctx context.Context, userID, day string) (int, error) {
	var count int
	err := s.write.QueryRowContext(ctx,
		`INSERT INTO usage_counters (user_id, day, request_count, updated_at)
		 VALUES (?, ?, 1, ?)
		 ON CONFLICT(user_id, day) DO UPDATE SET
		   request_count = request_count + 1,
		   updated_at = excluded.updated_at
		 RETURNING request_count`,
		userID, day, time.Now().UTC().Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, storeErr(err)
	}
	return count, nil
}
