package sqlite

import (
	"context"
	"time"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// InsertRequestLog appends one usage record.
func (s *Store) InsertRequestLog(ctx context.Context, rec *gateway.RequestLog) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO request_logs
		 (id, user_id, api_key_id, request_id, session_id, stage, model,
		  input_tokens, output_tokens, total_tokens, cost_usd,
		  latency_ms, status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.APIKeyID, rec.RequestID, nullStr(rec.SessionID),
		rec.Stage, rec.Model,
		nullInt(rec.InputTokens), nullInt(rec.OutputTokens), nullInt(rec.TotalTokens),
		nullFloat(rec.CostUSD),
		rec.LatencyMs, rec.Status, nullStr(errMsg),
		createdAt.UTC().Format(time.RFC3339),
	)
	return storeErr(err)
}
