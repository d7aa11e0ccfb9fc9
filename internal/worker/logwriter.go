// Package worker provides background task infrastructure for the router.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/storage"
)

const (
	logChanSize     = 1000
	logInsertBudget = 5 * time.Second
)

// LogWriter moves request logs from the hot path to the store through a
// bounded queue. Enqueue never blocks a request: when the queue is full the
// record is dropped and counted. The single consumer stops after the insert
// in flight when its context is cancelled; whatever is still queued is
// discarded.
type LogWriter struct {
	ch    chan gateway.RequestLog
	store storage.RequestLogStore

	onDrop func() // optional drop counter hook
}

// NewLogWriter creates a LogWriter backed by store. onDrop, if non-nil, is
// invoked once per dropped record.
func NewLogWriter(store storage.RequestLogStore, onDrop func()) *LogWriter {
	return &LogWriter{
		ch:    make(chan gateway.RequestLog, logChanSize),
		store: store,
		onDrop: func() {
			if onDrop != nil {
				onDrop()
			}
		},
	}
}

// Name returns the worker identifier.
func (w *LogWriter) Name() string { return "log_writer" }

// Enqueue offers a record to the queue. It never blocks; returns false when
// the record was dropped because the queue is full.
func (w *LogWriter) Enqueue(rec gateway.RequestLog) bool {
	select {
	case w.ch <- rec:
		return true
	default:
		w.onDrop()
		slog.Warn("request log dropped, queue full", "request_id", rec.RequestID)
		return false
	}
}

// Depth returns the current queue occupancy, for metrics.
func (w *LogWriter) Depth() int { return len(w.ch) }

// Run consumes records one at a time until ctx is cancelled. Insert failures
// are logged and skipped; a dead store must not stop the consumer.
func (w *LogWriter) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-w.ch:
			w.insert(rec)
		case <-ctx.Done():
			if n := len(w.ch); n > 0 {
				slog.Warn("log writer stopping, discarding queued records", "count", n)
			}
			return nil
		}
	}
}

func (w *LogWriter) insert(rec gateway.RequestLog) {
	if rec.ID == "" {
		rec.ID = uuid.Must(uuid.NewV7()).String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	// The consumer outlives request contexts, so inserts get their own budget.
	ctx, cancel := context.WithTimeout(context.Background(), logInsertBudget)
	defer cancel()

	if err := w.store.InsertRequestLog(ctx, &rec); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log insert failed",
			slog.String("request_id", rec.RequestID),
			slog.String("error", err.Error()),
		)
	}
}
