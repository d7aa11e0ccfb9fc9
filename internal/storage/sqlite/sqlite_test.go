package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAPIKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &gateway.APIKey{
		ID:      "key-1",
		UserID:  "user-1",
		KeyHash: "digest-abc",
		Status:  gateway.KeyStatusActive,
	}
	if err := s.CreateKey(ctx, key); err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	got, err := s.GetKeyByHash(ctx, "digest-abc")
	if err != nil {
		t.Fatalf("GetKeyByHash: %v", err)
	}
	if got.ID != "key-1" || got.UserID != "user-1" || got.Status != gateway.KeyStatusActive {
		t.Errorf("got key %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at not populated")
	}

	if _, err := s.GetKeyByHash(ctx, "unknown-digest"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("unknown digest error = %v, want ErrNotFound", err)
	}
}

func TestRevokeKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key := &gateway.APIKey{ID: "key-1", UserID: "user-1", KeyHash: "digest-abc"}
	if err := s.CreateKey(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := s.RevokeKey(ctx, "key-1"); err != nil {
		t.Fatalf("RevokeKey: %v", err)
	}

	got, err := s.GetKeyByHash(ctx, "digest-abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != gateway.KeyStatusRevoked {
		t.Errorf("status = %q, want revoked", got.Status)
	}

	if err := s.RevokeKey(ctx, "missing"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("revoking missing key error = %v, want ErrNotFound", err)
	}
}

func TestUserLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	limit := 4000
	streamCap := 2
	u := &gateway.User{ID: "user-1", Plan: gateway.PlanPro, DailyLimit: &limit, StreamingConcurrencyCap: &streamCap}
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	got, err := s.GetUserLimits(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUserLimits: %v", err)
	}
	if got.Plan != gateway.PlanPro {
		t.Errorf("plan = %q, want pro", got.Plan)
	}
	if got.DailyLimit == nil || *got.DailyLimit != 4000 {
		t.Errorf("daily_limit = %v, want 4000", got.DailyLimit)
	}
	if got.StreamingConcurrencyCap == nil || *got.StreamingConcurrencyCap != 2 {
		t.Errorf("stream cap = %v, want 2", got.StreamingConcurrencyCap)
	}

	if _, err := s.GetUserLimits(ctx, "ghost"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("missing user error = %v, want ErrNotFound", err)
	}

	// Overrides are optional.
	if err := s.UpsertUser(ctx, &gateway.User{ID: "user-2", Plan: gateway.PlanStarter}); err != nil {
		t.Fatal(err)
	}
	got2, err := s.GetUserLimits(ctx, "user-2")
	if err != nil {
		t.Fatal(err)
	}
	if got2.DailyLimit != nil || got2.StreamingConcurrencyCap != nil {
		t.Errorf("expected nil overrides, got %+v", got2)
	}
}

func TestIncrementCounterSequential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 5; want++ {
		got, err := s.IncrementCounter(ctx, "user-1", "2026-08-24")
		if err != nil {
			t.Fatalf("IncrementCounter: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// A new day starts a fresh counter.
	got, err := s.IncrementCounter(ctx, "user-1", "2026-08-25")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("new day count = %d, want 1", got)
	}

	// Another user is independent.
	got, err = s.IncrementCounter(ctx, "user-2", "2026-08-24")
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("other user count = %d, want 1", got)
	}
}

func TestIncrementCounterConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	counts := make(chan int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.IncrementCounter(ctx, "user-1", "2026-08-24")
			if err != nil {
				t.Errorf("IncrementCounter: %v", err)
				return
			}
			counts <- c
		}()
	}
	wg.Wait()
	close(counts)

	seen := make(map[int]bool)
	for c := range counts {
		if seen[c] {
			t.Errorf("duplicate count %d observed", c)
		}
		seen[c] = true
	}
	if len(seen) != n {
		t.Fatalf("observed %d distinct counts, want %d", len(seen), n)
	}
	if !seen[n] {
		t.Errorf("final count %d never observed", n)
	}
}

func TestInsertRequestLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in, out, total := 10, 20, 30
	cost := 0.0123
	rec := &gateway.RequestLog{
		ID:           "log-1",
		UserID:       "user-1",
		APIKeyID:     "key-1",
		RequestID:    "req-1",
		Stage:        "code",
		Model:        "deepseek-chat",
		InputTokens:  &in,
		OutputTokens: &out,
		TotalTokens:  &total,
		CostUSD:      &cost,
		LatencyMs:    250,
		Status:       gateway.LogStatusSuccess,
	}
	if err := s.InsertRequestLog(ctx, rec); err != nil {
		t.Fatalf("InsertRequestLog: %v", err)
	}

	// Nullable columns accept nil token counts and error-only records.
	errRec := &gateway.RequestLog{
		ID:           "log-2",
		UserID:       "user-1",
		APIKeyID:     "key-1",
		RequestID:    "req-2",
		Stage:        "plan",
		Model:        "claude-3-5-sonnet-20241022",
		LatencyMs:    5,
		Status:       gateway.LogStatusError,
		ErrorMessage: "upstream error: 502",
	}
	if err := s.InsertRequestLog(ctx, errRec); err != nil {
		t.Fatalf("InsertRequestLog error record: %v", err)
	}

	var n int
	if err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("request_logs rows = %d, want 2", n)
	}
}
