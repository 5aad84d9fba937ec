// Package gateway is the request pipeline in front of the inference
// backend: authentication, rate limiting, session history merging,
// default-parameter injection, dispatch to the streaming or non-streaming
// upstream path, and the batch fan-out.
package gateway

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/inferencegate/gateway/internal/config"
	"github.com/inferencegate/gateway/internal/metrics"
	"github.com/inferencegate/gateway/internal/monitoring"
	"github.com/inferencegate/gateway/internal/session"
	"github.com/inferencegate/gateway/internal/store"
	"github.com/inferencegate/gateway/internal/upstream"
)

// HeaderSessionID carries the session id on requests and responses.
const HeaderSessionID = "X-Session-ID"

// Gateway owns the request pipeline and its collaborators.
type Gateway struct {
	cfg      *config.Config
	store    store.Store
	sessions *session.Sessions
	metrics  *metrics.Aggregator
	upstream *upstream.Client
	stats    *monitoring.Collector
	prom     *monitoring.Prometheus
	tracker  *monitoring.Tracker
	events   *monitoring.Broadcaster
}

// New wires a gateway to its store and configuration.
func New(cfg *config.Config, st store.Store) (*Gateway, error) {
	events := monitoring.NewBroadcaster()
	tracker, err := monitoring.NewTracker(cfg.TelemetryLogPath, events)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return &Gateway{
		cfg:      cfg,
		store:    st,
		sessions: session.NewSessions(st, cfg.SessionTTL),
		metrics:  metrics.NewAggregator(st, cfg.SessionTTL),
		upstream: upstream.NewClient(cfg.UpstreamBase, cfg.UpstreamTimeout),
		stats:    monitoring.NewCollector(),
		prom:     monitoring.NewPrometheus(),
		tracker:  tracker,
		events:   events,
	}, nil
}

// Handler returns the gateway's route table wrapped in panic recovery.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", g.handleHealth)
	mux.HandleFunc("GET /v1/models", g.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", g.handleChatCompletions)
	mux.HandleFunc("POST /v1/chat/batch", g.handleChatBatch)
	mux.HandleFunc("GET /v1/session/{id}/metrics", g.handleSessionMetrics)
	mux.HandleFunc("GET /v1/stats", g.handleStats)
	mux.HandleFunc("GET /v1/events", g.handleEvents)
	mux.Handle("GET /metrics", g.prom.Handler())
	return g.recovered(mux)
}

// recovered converts panics into 500s with a truncated trace instead of
// tearing down the connection.
func (g *Gateway) recovered(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				trace := string(debug.Stack())
				if len(trace) > config.MaxErrorTraceLen {
					trace = trace[:config.MaxErrorTraceLen]
				}
				log.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panicked")
				g.writeError(w, errInternal(rec, trace))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// isLoopback reports whether the remote address is local. Operational
// endpoints (/v1/stats, /v1/events) are not exposed beyond the host.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
