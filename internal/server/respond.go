package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	gateway "github.com/cfx-labs/cfx-router/internal"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeRawJSON relays pre-encoded JSON without touching the bytes.
func writeRawJSON(w http.ResponseWriter, status int, raw []byte) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(raw)
}

// routingHeaders carries the per-request diagnostic header block applied to
// every post-routing response, success or upstream failure.
type routingHeaders struct {
	RequestID string
	Stage     string
	Model     string
	Quota     gateway.QuotaDecision
}

func (h routingHeaders) apply(w http.ResponseWriter) {
	hdr := w.Header()
	hdr.Set("X-CFX-Request-Id", h.RequestID)
	hdr.Set("X-CFX-Stage", h.Stage)
	hdr.Set("X-CFX-Model-Used", h.Model)
	applyRateHeaders(w, h.Quota)
}

func applyRateHeaders(w http.ResponseWriter, q gateway.QuotaDecision) {
	hdr := w.Header()
	hdr.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
	hdr.Set("X-RateLimit-Remaining", strconv.Itoa(q.Remaining))
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(q.ResetEpoch, 10))
}
