package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inferencegate/gateway/internal/store"
)

// History is the ordered message sequence owned by a session.
type History []Message

// Merge appends incoming messages to hist and clamps the result to the last
// maxTurns entries, oldest dropped first. Neither input is mutated.
func Merge(hist History, incoming []Message, maxTurns int) History {
	merged := make(History, 0, len(hist)+len(incoming))
	merged = append(merged, hist...)
	merged = append(merged, incoming...)
	if maxTurns > 0 && len(merged) > maxTurns {
		merged = merged[len(merged)-maxTurns:]
	}
	return merged
}

// HistoryKey is the store key for a session's message history.
func HistoryKey(sessionID string) string {
	return "sess:" + sessionID + ":hist"
}

// MetricsKey is the store key for a session's aggregated metrics.
func MetricsKey(sessionID string) string {
	return "sess:" + sessionID + ":metrics"
}

// NewID mints a fresh opaque session id.
func NewID() string {
	return uuid.NewString()
}

// Sessions loads and persists session histories through the Store.
type Sessions struct {
	store store.Store
	ttl   time.Duration
}

// NewSessions wires a session manager to its backing store.
func NewSessions(st store.Store, ttl time.Duration) *Sessions {
	return &Sessions{store: st, ttl: ttl}
}

// History returns the stored history for a session, empty when the session
// is new or expired.
func (s *Sessions) History(ctx context.Context, sessionID string) (History, error) {
	raw, ok, err := s.store.Get(ctx, HistoryKey(sessionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var hist History
	if err := json.Unmarshal([]byte(raw), &hist); err != nil {
		return nil, fmt.Errorf("corrupt history for session %s: %w", sessionID, err)
	}
	return hist, nil
}

// Save persists the history, refreshing the session TTL.
func (s *Sessions) Save(ctx context.Context, sessionID string, hist History) error {
	raw, err := json.Marshal(hist)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, HistoryKey(sessionID), string(raw), s.ttl)
}
