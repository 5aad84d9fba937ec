package gateway

import (
	"encoding/json"
	"net/http"
)

// handleStats serves the in-process operational counters. Loopback only;
// external scrapers use /metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		g.writeError(w, errUnauthorized("stats endpoint is local only"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.stats.Snapshot())
}
