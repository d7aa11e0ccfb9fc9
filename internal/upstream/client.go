// Package upstream implements the HTTP client for the model multiplexer,
// wrapping it with timeouts, a single bounded retry, and a circuit breaker.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 120 * time.Second
	defaultRetryPause     = 500 * time.Millisecond
)

// retryableStatus reports whether an upstream status is transient enough to
// retry once.
func retryableStatus(code int) bool {
	return code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Client calls the upstream multiplexer's OpenAI-compatible API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *Breaker

	retryPause time.Duration // shortened in tests
}

// New returns a Client for the given base URL. When httpClient is nil a
// default client with the standard timeouts and a pooled transport is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: NewTransport(nil, defaultConnectTimeout),
		}
	}
	return &Client{
		baseURL:    baseURL,
		http:       httpClient,
		breaker:    NewBreaker(),
		retryPause: defaultRetryPause,
	}
}

// BreakerState exposes the circuit state for metrics and diagnostics.
func (c *Client) BreakerState() State { return c.breaker.State() }

// ChatCompletion sends a non-streaming chat completion and returns the raw
// upstream response body, unmodified.
func (c *Client) ChatCompletion(ctx context.Context, body map[string]any) ([]byte, error) {
	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := readAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return raw, nil
}

// ChatCompletionStream sends a streaming chat completion and returns a
// channel of relayed SSE chunks. The channel is closed when the stream ends.
func (c *Client) ChatCompletionStream(ctx context.Context, body map[string]any) (<-chan gateway.StreamChunk, error) {
	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}

	ch := make(chan gateway.StreamChunk, 8)
	go readStream(ctx, resp, ch)
	return ch, nil
}

// do performs the request with the breaker check and at most one retry.
// Transient failures (502/503/504 or a transport error) are retried once
// after a short pause; everything after that is terminal.
func (c *Client) do(ctx context.Context, body map[string]any) (*http.Response, error) {
	if !c.breaker.Allow() {
		return nil, gateway.ErrCircuitOpen
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/v1/chat/completions"

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.retryPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			slog.DebugContext(ctx, "retrying upstream request", "attempt", attempt)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			// A canceled caller is not an upstream fault.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %w", gateway.ErrUpstreamTimeout, err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.breaker.RecordSuccess()
			return resp, nil
		}

		apiErr := parseAPIError(resp)
		resp.Body.Close()
		lastErr = apiErr
		if !retryableStatus(resp.StatusCode) {
			break
		}
	}

	c.breaker.RecordFailure()
	return nil, lastErr
}
