package server

import "net/http"

// healthBody is pre-encoded: the health endpoint never varies and sits on
// load-balancer hot paths.
var healthBody = []byte(`{"status":"ok","service":"cfx-router"}`)

// handleHealth reports liveness. It intentionally does not consult the store
// or the upstream: the router keeps serving (fail-open quota, breaker-mapped
// upstream errors) even when its dependencies are down.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(healthBody)
}

// handleReady checks the store before admitting traffic, for orchestrators
// that gate rollout on readiness.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
