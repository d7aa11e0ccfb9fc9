package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/concurrency"
	"github.com/cfx-labs/cfx-router/internal/config"
	"github.com/cfx-labs/cfx-router/internal/quota"
	"github.com/cfx-labs/cfx-router/internal/testutil"
	"github.com/cfx-labs/cfx-router/internal/upstream"
)

// logCapture records enqueued request logs for assertions.
type logCapture struct {
	mu   sync.Mutex
	recs []gateway.RequestLog
}

func (l *logCapture) Enqueue(rec gateway.RequestLog) bool {
	l.mu.Lock()
	l.recs = append(l.recs, rec)
	l.mu.Unlock()
	return true
}

func (l *logCapture) records() []gateway.RequestLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]gateway.RequestLog, len(l.recs))
	copy(out, l.recs)
	return out
}

type env struct {
	handler  http.Handler
	store    *testutil.FakeStore
	upstream *testutil.FakeUpstream
	slots    *concurrency.Limiter
	logs     *logCapture
}

func newEnv(t *testing.T, auth gateway.Authenticator) *env {
	t.Helper()
	store := testutil.NewFakeStore()
	up := &testutil.FakeUpstream{}
	logs := &logCapture{}
	slots := concurrency.NewLimiter(store, 2)

	deps := Deps{
		Auth:     auth,
		Stages:   config.LoadStages("testdata/no-such-file.yaml"),
		Quota:    quota.NewChecker(store, store, 1000),
		Slots:    slots,
		Upstream: up,
		Logs:     logs,
	}
	return &env{handler: New(deps), store: store, upstream: up, slots: slots, logs: logs}
}

func completionsReq(body string, stage string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	r.Header.Set("Authorization", "Bearer cfx_test")
	r.Header.Set("Content-Type", "application/json")
	if stage != "" {
		r.Header.Set("X-CFX-Stage", stage)
	}
	return r
}

const simpleBody = `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`

func TestCompletionsRelaysUpstreamVerbatim(t *testing.T) {
	e := newEnv(t, testutil.FakeAuth{})

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, completionsReq(simpleBody, "code"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-CFX-Stage"); got != "code" {
		t.Errorf("X-CFX-Stage = %q, want code", got)
	}
	if got := w.Header().Get("X-CFX-Model-Used"); got != "deepseek-chat" {
		t.Errorf("X-CFX-Model-Used = %q, want deepseek-chat", got)
	}
	if w.Header().Get("X-CFX-Request-Id") == "" {
		t.Error("X-CFX-Request-Id missing")
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "1000" {
		t.Errorf("X-RateLimit-Limit = %q, want 1000", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "999" {
		t.Errorf("X-RateLimit-Remaining = %q, want 999", got)
	}

	// Body is the upstream response untouched.
	if !strings.Contains(w.Body.String(), `"id":"chatcmpl-fake"`) {
		t.Errorf("body not relayed verbatim: %s", w.Body.String())
	}

	// Model was rewritten on the way out.
	if got := e.upstream.LastBody["model"]; got != "deepseek-chat" {
		t.Errorf("upstream model = %v, want deepseek-chat", got)
	}

	recs := e.logs.records()
	if len(recs) != 1 {
		t.Fatalf("log records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != gateway.LogStatusSuccess {
		t.Errorf("log status = %q", rec.Status)
	}
	if rec.TotalTokens == nil || *rec.TotalTokens != 15 {
		t.Errorf("total tokens = %v, want 15", rec.TotalTokens)
	}
	if rec.CostUSD == nil {
		t.Error("cost not computed for known model")
	}
}

func TestCompletionsDefaultStage(t *testing.T) {
	e := newEnv(t, testutil.FakeAuth{})

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, completionsReq(simpleBody, ""))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-CFX-Stage"); got != "plan" {
		t.Errorf("X-CFX-Stage = %q, want plan", got)
	}
	if got := w.Header().Get("X-CFX-Model-Used"); got != "claude-3-5-sonnet-20241022" {
		t.Errorf("X-CFX-Model-Used = %q", got)
	}
}

func TestCompletionsAuthRejections(t *testing.T) {
	tests := []struct {
		name     string
		auth     gateway.Authenticator
		wantCode string
	}{
		{"invalid key", testutil.RejectAuth{}, "invalid_api_key"},
		{"auth backend down", testutil.DownAuth{}, "auth_service_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.auth)
			w := httptest.NewRecorder()
			e.handler.ServeHTTP(w, completionsReq(simpleBody, "plan"))

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantCode) {
				t.Errorf("body = %s, want code %s", w.Body.String(), tt.wantCode)
			}
			if e.upstream.Calls != 0 {
				t.Errorf("upstream called %d times on auth failure", e.upstream.Calls)
			}
		})
	}
}

func TestCompletionsQuotaExceeded(t *testing.T) {
	e := newEnv(t, testutil.FakeAuth{})
	day := time.Now().UTC().Format(time.DateOnly)
	e.store.SetCount("user-test", day, 1000)

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, completionsReq(simpleBody, "plan"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Daily request limit exceeded") {
		t.Errorf("body = %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "rate_limit_exceeded") {
		t.Errorf("missing code in body: %s", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if e.upstream.Calls != 0 {
		t.Errorf("upstream called %d times over quota", e.upstream.Calls)
	}
}

func TestCompletionsBadRequests(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		stage string
		want  string
	}{
		{"invalid json", `{not json`, "plan", "valid JSON"},
		{"missing messages", `{"model":"x"}`, "plan", "messages"},
		{"empty messages", `{"model":"x","messages":[]}`, "plan", "messages"},
		{"direct stage", simpleBody, "direct", "Direct mode is disabled"},
		{"unknown stage", simpleBody, "debug", "Invalid stage: debug. Valid stages: code, plan, review"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, testutil.FakeAuth{})
			w := httptest.NewRecorder()
			e.handler.ServeHTTP(w, completionsReq(tt.body, tt.stage))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body = %s", w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body = %s, want substring %q", w.Body.String(), tt.want)
			}
			if e.upstream.Calls != 0 {
				t.Errorf("upstream called %d times on bad request", e.upstream.Calls)
			}
		})
	}
}

func TestCompletionsUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"breaker open", gateway.ErrCircuitOpen, http.StatusServiceUnavailable, "circuit breaker open"},
		{"timeout", gateway.ErrUpstreamTimeout, http.StatusServiceUnavailable, "timeout or connection error"},
		{"upstream 503", &upstream.APIError{StatusCode: 503}, http.StatusServiceUnavailable, "Upstream service unavailable"},
		{"upstream 500", &upstream.APIError{StatusCode: 500}, http.StatusBadGateway, "Upstream error: 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, testutil.FakeAuth{})
			e.upstream.ChatFn = func(context.Context, map[string]any) ([]byte, error) {
				return nil, tt.err
			}

			w := httptest.NewRecorder()
			e.handler.ServeHTTP(w, completionsReq(simpleBody, "plan"))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want substring %q", w.Body.String(), tt.wantBody)
			}
			// Routing headers still apply after the request was admitted.
			if got := w.Header().Get("X-CFX-Stage"); got != "plan" {
				t.Errorf("X-CFX-Stage = %q on upstream error", got)
			}

			recs := e.logs.records()
			if len(recs) != 1 || recs[0].Status != gateway.LogStatusError {
				t.Fatalf("error log record not enqueued: %+v", recs)
			}
			if recs[0].ErrorMessage == "" {
				t.Error("error message empty in log record")
			}
		})
	}
}

func TestCompletionsUsageAbsentLeavesTokensNull(t *testing.T) {
	e := newEnv(t, testutil.FakeAuth{})
	e.upstream.ChatFn = func(context.Context, map[string]any) ([]byte, error) {
		return []byte(`{"id":"chatcmpl-1","choices":[]}`), nil
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, completionsReq(simpleBody, "plan"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	recs := e.logs.records()
	if len(recs) != 1 {
		t.Fatalf("log records = %d", len(recs))
	}
	if recs[0].TotalTokens != nil || recs[0].CostUSD != nil {
		t.Errorf("tokens/cost should be nil without usage: %+v", recs[0])
	}
}

func TestHealthAndReady(t *testing.T) {
	e := newEnv(t, testutil.FakeAuth{})

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	e.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("ready = %d", w.Code)
	}
}

func TestReadyReportsStoreOutage(t *testing.T) {
	store := testutil.NewFakeStore()
	store.SetDown(true)
	deps := Deps{
		Auth:       testutil.FakeAuth{},
		Stages:     config.LoadStages("testdata/no-such-file.yaml"),
		Quota:      quota.NewChecker(store, store, 1000),
		Slots:      concurrency.NewLimiter(store, 2),
		Upstream:   &testutil.FakeUpstream{},
		ReadyCheck: store.Ping,
	}
	h := New(deps)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with store down = %d, want 503", w.Code)
	}
}

// JSON error envelopes must follow the OpenAI error shape so SDK clients can
// parse them.
func TestErrorEnvelopeShape(t *testing.T) {
	e := newEnv(t, testutil.RejectAuth{})
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, completionsReq(simpleBody, "plan"))

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Error.Message == "" || envelope.Error.Type == "" {
		t.Errorf("incomplete envelope: %+v", envelope)
	}
}
