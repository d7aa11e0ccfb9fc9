package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/cfx-labs/cfx-router/internal"
	"github.com/cfx-labs/cfx-router/internal/pricing"
	"github.com/cfx-labs/cfx-router/internal/shim"
	"github.com/cfx-labs/cfx-router/internal/upstream"
)

const stageHeader = "X-CFX-Stage"

// handleChatCompletions runs the full pipeline: quota, validation, stage
// resolution, slot admission for streams, model rewrite, upstream call, and
// relay. Authentication already happened in middleware, and its outcome is
// read from context.
func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := gateway.AuthFromContext(ctx)

	qd := s.deps.Quota.Check(ctx, auth.UserID)
	if !qd.Allowed {
		s.countReject("daily")
		applyRateHeaders(w, qd)
		w.Header().Set("Retry-After", strconv.FormatInt(qd.ResetEpoch, 10))
		writeJSON(w, http.StatusTooManyRequests, shim.NewError(
			shim.TypeRateLimit, "Daily request limit exceeded", shim.CodeRateLimitExceeded))
		return
	}

	// Accounting latency starts here, at the accept point, and is used on
	// every terminal path including upstream failures.
	start := time.Now()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, shim.NewError(
			shim.TypeInvalidRequest, "Request body must be valid JSON", ""))
		return
	}
	if ok, reason := shim.Validate(body); !ok {
		writeJSON(w, http.StatusBadRequest, shim.NewError(shim.TypeInvalidRequest, reason, ""))
		return
	}

	stage := r.Header.Get(stageHeader)
	if stage == "" {
		stage = s.deps.Stages.DefaultStage()
	}
	if stage == "direct" {
		writeJSON(w, http.StatusBadRequest, shim.NewError(shim.TypeInvalidRequest,
			"Direct mode is disabled. Use X-CFX-Stage header with: plan, code, or review", ""))
		return
	}
	sc, ok := s.deps.Stages.Stage(stage)
	if !ok || sc.Model == "" {
		writeJSON(w, http.StatusBadRequest, shim.NewError(shim.TypeInvalidRequest,
			fmt.Sprintf("Invalid stage: %s. Valid stages: %s",
				stage, strings.Join(s.deps.Stages.RoutableNames(), ", ")), ""))
		return
	}

	streaming := shim.IsStreaming(body)
	if streaming && !s.deps.Slots.Acquire(ctx, auth.UserID) {
		s.countReject("stream")
		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", strconv.Itoa(s.deps.Slots.Cap(ctx, auth.UserID)))
		hdr.Set("X-RateLimit-Remaining", "0")
		writeJSON(w, http.StatusTooManyRequests, shim.NewError(
			shim.TypeRateLimit, "Streaming concurrency limit exceeded", shim.CodeRateLimitExceeded))
		return
	}

	out := shim.Rewrite(body, sc.Model)
	hdrs := routingHeaders{
		RequestID: gateway.RequestIDFromContext(ctx),
		Stage:     stage,
		Model:     sc.Model,
		Quota:     qd,
	}
	rec := gateway.RequestLog{
		UserID:    auth.UserID,
		APIKeyID:  auth.APIKeyID,
		RequestID: hdrs.RequestID,
		Stage:     stage,
		Model:     sc.Model,
	}

	if streaming {
		s.relayStream(w, r, out, hdrs, rec, start)
		return
	}
	s.relayOnce(w, r, out, hdrs, rec, start)
}

// relayOnce handles the non-streaming path: one upstream call, raw JSON
// relayed verbatim.
func (s *server) relayOnce(w http.ResponseWriter, r *http.Request,
	body map[string]any, hdrs routingHeaders, rec gateway.RequestLog, start time.Time) {

	raw, err := s.deps.Upstream.ChatCompletion(r.Context(), body)
	s.observeUpstream(hdrs.Stage, hdrs.Model, start)
	if err != nil {
		s.failRequest(w, hdrs, rec, start, err)
		return
	}

	in, out, total := usageFromJSON(raw)
	rec.InputTokens, rec.OutputTokens, rec.TotalTokens = in, out, total
	s.finalizeSuccess(&rec, start)

	hdrs.apply(w)
	writeRawJSON(w, http.StatusOK, raw)
	s.enqueueLog(rec)
}

// relayStream handles the streaming path. The slot is held for exactly the
// lifetime of the relay: the deferred release runs on done, on mid-stream
// error, and on client disconnect alike.
func (s *server) relayStream(w http.ResponseWriter, r *http.Request,
	body map[string]any, hdrs routingHeaders, rec gateway.RequestLog, start time.Time) {

	ctx := r.Context()

	ch, err := s.deps.Upstream.ChatCompletionStream(ctx, body)
	if err != nil {
		s.deps.Slots.Release(rec.UserID)
		s.failRequest(w, hdrs, rec, start, err)
		return
	}
	defer s.deps.Slots.Release(rec.UserID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.failRequest(w, hdrs, rec, start, errors.New("response writer does not support streaming"))
		return
	}

	hdrs.apply(w)
	writeSSEHeaders(w)
	flusher.Flush()

	inputChars := shim.MessageChars(body)
	var contentLen int
	var usage *gateway.Usage

	for {
		select {
		case chunk, open := <-ch:
			if !open {
				// Upstream EOF without a sentinel; terminate cleanly for the client.
				writeSSEDone(w)
				flusher.Flush()
				s.finishStream(rec, hdrs, start, usage, inputChars, contentLen)
				return
			}
			if chunk.Err != nil {
				// Already mid-stream: the status is sent, so just stop without
				// the done sentinel and account the failure.
				slog.WarnContext(ctx, "stream interrupted",
					"request_id", rec.RequestID, "error", chunk.Err)
				rec.Status = gateway.LogStatusError
				rec.ErrorMessage = chunk.Err.Error()
				rec.LatencyMs = int(time.Since(start).Milliseconds())
				s.enqueueLog(rec)
				return
			}
			if chunk.Done {
				writeSSEDone(w)
				flusher.Flush()
				s.finishStream(rec, hdrs, start, usage, inputChars, contentLen)
				return
			}
			contentLen += len(chunk.Content)
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			writeSSEData(w, chunk.Data)
			flusher.Flush()

		case <-ctx.Done():
			// Client went away; the shared context tears down the upstream call.
			rec.Status = gateway.LogStatusError
			rec.ErrorMessage = "client disconnected"
			rec.LatencyMs = int(time.Since(start).Milliseconds())
			s.enqueueLog(rec)
			return
		}
	}
}

// finishStream accounts a completed stream. Reported usage wins; otherwise
// tokens are estimated from observed characters.
func (s *server) finishStream(rec gateway.RequestLog, hdrs routingHeaders,
	start time.Time, usage *gateway.Usage, inputChars, contentLen int) {

	s.observeUpstream(hdrs.Stage, hdrs.Model, start)

	var in, out, total int
	if usage != nil {
		in, out, total = usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens
	} else {
		in = shim.EstimateTokens(inputChars)
		out = shim.EstimateTokens(contentLen)
		total = in + out
	}
	rec.InputTokens, rec.OutputTokens, rec.TotalTokens = &in, &out, &total
	s.finalizeSuccess(&rec, start)
	s.enqueueLog(rec)
}

// finalizeSuccess stamps status, latency, cost, and token metrics.
func (s *server) finalizeSuccess(rec *gateway.RequestLog, start time.Time) {
	rec.Status = gateway.LogStatusSuccess
	rec.LatencyMs = int(time.Since(start).Milliseconds())

	if rec.InputTokens != nil && rec.OutputTokens != nil {
		if cost, ok := pricing.Cost(rec.Model, *rec.InputTokens, *rec.OutputTokens); ok {
			rec.CostUSD = &cost
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.TokensProcessed.WithLabelValues(rec.Model, "input").Add(float64(*rec.InputTokens))
			s.deps.Metrics.TokensProcessed.WithLabelValues(rec.Model, "output").Add(float64(*rec.OutputTokens))
		}
	}
}

// failRequest maps an upstream failure to a response, applies the routing
// header block, and accounts the error.
func (s *server) failRequest(w http.ResponseWriter, hdrs routingHeaders,
	rec gateway.RequestLog, start time.Time, err error) {

	status, envelope, kind := upstreamErrorResponse(err)
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpstreamErrors.WithLabelValues(kind).Inc()
	}

	rec.Status = gateway.LogStatusError
	rec.ErrorMessage = envelope.Error.Message
	rec.LatencyMs = int(time.Since(start).Milliseconds())
	s.enqueueLog(rec)

	hdrs.apply(w)
	writeJSON(w, status, envelope)
}

// upstreamErrorResponse maps upstream failures to status, envelope, and a
// low-cardinality kind label.
func upstreamErrorResponse(err error) (int, shim.ErrorResponse, string) {
	var ae *upstream.APIError
	switch {
	case errors.Is(err, gateway.ErrCircuitOpen):
		return http.StatusServiceUnavailable, shim.NewError(shim.TypeServiceUnavailable,
			"Upstream service unavailable (circuit breaker open)", ""), "breaker_open"
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		return http.StatusServiceUnavailable, shim.NewError(shim.TypeServiceUnavailable,
			"Upstream service timeout or connection error", ""), "timeout"
	case errors.As(err, &ae):
		if ae.StatusCode == http.StatusServiceUnavailable {
			return http.StatusServiceUnavailable, shim.NewError(shim.TypeServiceUnavailable,
				"Upstream service unavailable", ""), "http_503"
		}
		return http.StatusBadGateway, shim.NewError(shim.TypeUpstream,
			fmt.Sprintf("Upstream error: %d", ae.StatusCode), ""), "http_error"
	default:
		return http.StatusInternalServerError, shim.NewError(shim.TypeInternal,
			"Internal server error", ""), "internal"
	}
}

// usageFromJSON pulls token counts out of a raw upstream response. Absent
// fields stay nil and land as NULLs in the log.
func usageFromJSON(raw []byte) (in, out, total *int) {
	u := gjson.GetBytes(raw, "usage")
	if !u.Exists() {
		return nil, nil, nil
	}
	get := func(field string) *int {
		v := u.Get(field)
		if !v.Exists() {
			return nil
		}
		n := int(v.Int())
		return &n
	}
	return get("prompt_tokens"), get("completion_tokens"), get("total_tokens")
}

func (s *server) enqueueLog(rec gateway.RequestLog) {
	if s.deps.Logs != nil {
		s.deps.Logs.Enqueue(rec)
	}
}

func (s *server) countReject(kind string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RateLimitRejects.WithLabelValues(kind).Inc()
	}
}

func (s *server) observeUpstream(stage, model string, start time.Time) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.UpstreamDuration.WithLabelValues(stage, model).Observe(time.Since(start).Seconds())
	}
}
