// Package monitoring - telemetry.go records request events.
//
// DESIGN: Tracker appends one JSON object per line (JSONL) for each request
// that reaches a terminal state, and feeds the same event to the live
// broadcaster so /v1/events subscribers see it in real time. File logging
// is optional; broadcasting always works.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RequestEvent is one request's terminal telemetry record.
type RequestEvent struct {
	Timestamp        time.Time `json:"ts"`
	RequestID        string    `json:"request_id"`
	Path             string    `json:"path"`
	SessionID        string    `json:"session_id,omitempty"`
	Status           int       `json:"status"`
	Stream           bool      `json:"stream"`
	LatencySeconds   float64   `json:"latency_seconds"`
	TTFTSeconds      float64   `json:"ttft_seconds,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	BatchItems       int       `json:"batch_items,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// Tracker records request events to an optional JSONL file and the
// live event broadcaster.
type Tracker struct {
	path        string
	broadcaster *Broadcaster
	mu          sync.Mutex
}

// NewTracker creates a tracker. path may be empty to disable file logging.
func NewTracker(path string, b *Broadcaster) (*Tracker, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
	}
	return &Tracker{path: path, broadcaster: b}, nil
}

// Record emits one request event. Failures to write the log file are
// logged and otherwise ignored; telemetry must never fail a request.
func (t *Tracker) Record(ev RequestEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry: marshal failed")
		return
	}

	if t.broadcaster != nil {
		t.broadcaster.Publish(data)
	}
	if t.path == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.Warn().Err(err).Str("path", t.path).Msg("telemetry: open failed")
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Warn().Err(err).Str("path", t.path).Msg("telemetry: write failed")
	}
}
