package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// CreateKey inserts a new API key record.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	status := key.Status
	if status == "" {
		status = gateway.KeyStatusActive
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.UserID, key.KeyHash, status, createdAt.UTC().Format(time.RFC3339),
	)
	return storeErr(err)
}

// GetKeyByHash retrieves an API key by its HMAC digest.
func (s *Store) GetKeyByHash(ctx context.Context, digest string) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, key_hash, status, created_at
		 FROM api_keys WHERE key_hash = ?`, digest,
	)
	return scanKey(row)
}

// RevokeKey marks a key as revoked. Revocation takes effect for new lookups
// immediately; cached auth decisions expire within the cache TTL.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET status = ? WHERE id = ?`, gateway.KeyStatusRevoked, id,
	)
	if err != nil {
		return storeErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return gateway.ErrNotFound
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanKey(sc scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var createdAt sql.NullString

	if err := sc.Scan(&k.ID, &k.UserID, &k.KeyHash, &k.Status, &createdAt); err != nil {
		return nil, storeErr(err)
	}
	if t := parseTime(createdAt); t != nil {
		k.CreatedAt = *t
	}
	return &k, nil
}

// helpers

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullStr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intPtr(ns sql.NullInt64) *int {
	if !ns.Valid {
		return nil
	}
	v := int(ns.Int64)
	return &v
}
