// Package metrics accumulates per-session token and latency counters.
//
// Records live in the session store under the session's metrics key and
// expire with the session. Updates are read-modify-write with no per-key
// locking: concurrent updates to one session may lose an increment
// (last-write-wins), which the gateway accepts rather than serializing
// sessions.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inferencegate/gateway/internal/session"
	"github.com/inferencegate/gateway/internal/store"
)

// Record is the monotonically accumulated per-session aggregate.
type Record struct {
	Requests            uint64   `json:"requests"`
	PromptTokens        uint64   `json:"prompt_tokens"`
	CompletionTokens    uint64   `json:"completion_tokens"`
	TotalTokens         uint64   `json:"total_tokens"`
	TotalLatencySeconds float64  `json:"total_latency_seconds"`
	AvgLatencySeconds   *float64 `json:"avg_latency_seconds"`
}

// Aggregator updates session metric records through the Store.
type Aggregator struct {
	store store.Store
	ttl   time.Duration
}

// NewAggregator wires an aggregator to its backing store. Records share
// the session TTL so metrics expire together with history.
func NewAggregator(st store.Store, ttl time.Duration) *Aggregator {
	return &Aggregator{store: st, ttl: ttl}
}

// Update adds one request's deltas to the session record, recomputes the
// average latency, persists the record and returns it.
func (a *Aggregator) Update(ctx context.Context, sessionID string, promptTokens, completionTokens int, latencySeconds float64) (Record, error) {
	rec, _, err := a.Get(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}

	rec.Requests++
	if promptTokens > 0 {
		rec.PromptTokens += uint64(promptTokens)
	}
	if completionTokens > 0 {
		rec.CompletionTokens += uint64(completionTokens)
	}
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	if latencySeconds > 0 {
		rec.TotalLatencySeconds += latencySeconds
	}
	avg := rec.TotalLatencySeconds / float64(rec.Requests)
	rec.AvgLatencySeconds = &avg

	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, err
	}
	if err := a.store.Set(ctx, session.MetricsKey(sessionID), string(raw), a.ttl); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get returns the current record for a session. A session with no record
// yet yields the zero Record and found=false.
func (a *Aggregator) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	raw, ok, err := a.store.Get(ctx, session.MetricsKey(sessionID))
	if err != nil {
		return Record{}, false, err
	}
	if !ok {
		return Record{}, false, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false, fmt.Errorf("corrupt metrics for session %s: %w", sessionID, err)
	}
	return rec, true, nil
}
