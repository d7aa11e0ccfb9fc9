// Package gateway defines domain types and interfaces for the CF-X router.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"net/http"
	"time"
)

// --- Identity ---

// APIKey is a persisted API key record. The raw secret is never stored;
// KeyHash holds its keyed HMAC digest.
type APIKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	KeyHash   string    `json:"-"` // never exposed
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// API key lifecycle states.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// APIKeyPrefix is the prefix for all CF-X API keys.
const APIKeyPrefix = "cfx_"

// User carries the per-user limit overrides consulted during quota and
// concurrency cap resolution. Nil pointer fields mean "use the plan value".
type User struct {
	ID                      string `json:"id"`
	Plan                    string `json:"plan"`
	DailyLimit              *int   `json:"daily_limit,omitempty"`
	StreamingConcurrencyCap *int   `json:"streaming_concurrency_cap,omitempty"`
}

// Subscription plan names.
const (
	PlanStarter = "starter"
	PlanPro     = "pro"
	PlanAgency  = "agency"
)

// AuthDecision is the authenticated caller context attached to request context.
type AuthDecision struct {
	UserID   string `json:"user_id"`
	APIKeyID string `json:"api_key_id"`
}

// QuotaDecision is the outcome of charging the daily request counter.
// ResetEpoch is the Unix second of the next UTC midnight.
type QuotaDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetEpoch int64
}

// --- Upstream ---

// Usage represents token usage statistics reported by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single event in a streaming upstream response.
type StreamChunk struct {
	Data    []byte // raw SSE data payload, forwarded verbatim
	Content string // visible delta text, used for token fallback estimation
	Usage   *Usage // non-nil when the event carries a usage block
	Done    bool
	Err     error
}

// --- Usage logging ---

// RequestLog is one append-only usage record. Writes are best-effort and
// loss under pressure is tolerated.
type RequestLog struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	APIKeyID     string    `json:"api_key_id"`
	RequestID    string    `json:"request_id"`
	SessionID    *string   `json:"session_id,omitempty"`
	Stage        string    `json:"stage"`
	Model        string    `json:"model"`
	InputTokens  *int      `json:"input_tokens,omitempty"`
	OutputTokens *int      `json:"output_tokens,omitempty"`
	TotalTokens  *int      `json:"total_tokens,omitempty"`
	CostUSD      *float64  `json:"cost_usd,omitempty"`
	LatencyMs    int       `json:"latency_ms"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Request log terminal states.
const (
	LogStatusSuccess = "success"
	LogStatusError   = "error"
)

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Auth field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Auth      *AuthDecision
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// AuthFromContext extracts the authenticated caller from context.
func AuthFromContext(ctx context.Context) *AuthDecision {
	if m := metaFromContext(ctx); m != nil {
		return m.Auth
	}
	return nil
}

// ContextWithAuth stores the auth decision in the existing requestMeta if
// present, avoiding a new context.WithValue allocation. Falls back to creating
// new metadata if none exists (e.g., in tests).
func ContextWithAuth(ctx context.Context, a *AuthDecision) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Auth = a
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Auth: a})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Authenticator interface ---

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*AuthDecision, error)
}
