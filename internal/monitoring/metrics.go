// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/successes:   Total and successful request counts
//   - streams:              Streaming completions relayed
//   - batches/batch_items:  Batch fan-out volume
//   - rate_limited:         Requests rejected by the per-key window
//   - tokens:               Prompt/completion totals from upstream usage
//
// These back the loopback-only /v1/stats endpoint; the Prometheus registry
// in prometheus.go is the export path for scraping.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector collects operational metrics.
type Collector struct {
	startedAt time.Time

	requests    atomic.Int64
	successes   atomic.Int64
	streams     atomic.Int64
	batches     atomic.Int64
	batchItems  atomic.Int64
	rateLimited atomic.Int64

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now()}
}

// RecordRequest records a completed chat-completion request.
func (c *Collector) RecordRequest(success bool) {
	c.requests.Add(1)
	if success {
		c.successes.Add(1)
	}
}

// RecordStream records a streaming relay.
func (c *Collector) RecordStream() { c.streams.Add(1) }

// RecordBatch records one batch call fanning out to n items.
func (c *Collector) RecordBatch(items int) {
	c.batches.Add(1)
	c.batchItems.Add(int64(items))
}

// RecordRateLimited records a request rejected by the rate limiter.
func (c *Collector) RecordRateLimited() { c.rateLimited.Add(1) }

// RecordUsage records token usage reported by the backend.
func (c *Collector) RecordUsage(promptTokens, completionTokens int) {
	c.promptTokens.Add(int64(promptTokens))
	c.completionTokens.Add(int64(completionTokens))
}

// StartedAt returns when the collector was created.
func (c *Collector) StartedAt() time.Time { return c.startedAt }

// StatsResponse is the structured response for the /v1/stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Batch         BatchStats   `json:"batch"`
	Tokens        TokenStats   `json:"tokens"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total       int64 `json:"total"`
	Successful  int64 `json:"successful"`
	Failed      int64 `json:"failed"`
	Streamed    int64 `json:"streamed"`
	RateLimited int64 `json:"rate_limited"`
}

// BatchStats holds batch fan-out metrics.
type BatchStats struct {
	Requests int64 `json:"requests"`
	Items    int64 `json:"items"`
}

// TokenStats holds token totals from upstream usage reports.
type TokenStats struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Snapshot returns all metrics in a structured format.
func (c *Collector) Snapshot() StatsResponse {
	uptime := time.Since(c.startedAt)
	requests := c.requests.Load()
	successes := c.successes.Load()
	prompt := c.promptTokens.Load()
	completion := c.completionTokens.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     c.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:       requests,
			Successful:  successes,
			Failed:      requests - successes,
			Streamed:    c.streams.Load(),
			RateLimited: c.rateLimited.Load(),
		},
		Batch: BatchStats{
			Requests: c.batches.Load(),
			Items:    c.batchItems.Load(),
		},
		Tokens: TokenStats{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
