package gateway

import "errors"

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized     = errors.New("invalid api key")
	ErrAuthUnavailable  = errors.New("authentication service unavailable")
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrQuotaExceeded    = errors.New("daily request limit exceeded")
	ErrSlotExhausted    = errors.New("streaming concurrency limit exceeded")
	ErrCircuitOpen      = errors.New("upstream circuit breaker is open")
	ErrUpstreamTimeout  = errors.New("upstream timeout or connection error")
)
