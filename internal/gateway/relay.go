// Package gateway - relay.go forwards upstream SSE streams line by line.
//
// DESIGN: A small state machine (awaiting first token → streaming → done)
// inspects each data line without altering the stream:
//   - TTFT is captured on the first delta carrying content/role/tool_calls
//   - token usage is captured from the terminal chunk's usage object
//   - unparseable lines are forwarded untouched (resilience over parsing)
//
// After [DONE], session state is persisted and a synthetic
// "event: gateway_metrics" frame is appended; streaming-protocol consumers
// that only read data frames ignore it.
package gateway

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/inferencegate/gateway/internal/metrics"
	"github.com/inferencegate/gateway/internal/session"
	"github.com/inferencegate/gateway/internal/upstream"
)

// maxSSELineBytes bounds a single upstream event line.
const maxSSELineBytes = 1024 * 1024

type relayState int

const (
	relayAwaitingFirstToken relayState = iota
	relayStreaming
	relayDone
)

// relay carries the per-stream inspection state.
type relay struct {
	w       io.Writer
	flusher http.Flusher
	start   time.Time

	state        relayState
	firstTokenAt time.Time

	promptTokens     int
	completionTokens int
	usageSeen        bool
}

func newRelay(w io.Writer, flusher http.Flusher, start time.Time) *relay {
	return &relay{w: w, flusher: flusher, start: start}
}

// run pumps upstream lines to the client until [DONE], upstream EOF, or a
// write failure (client gone). The caller checks r.state to distinguish a
// completed stream from an aborted one.
func (rl *relay) run(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		done, err := rl.handleLine(scanner.Text())
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return scanner.Err()
}

func (rl *relay) handleLine(line string) (bool, error) {
	// Blank keep-alive lines and non-data lines pass through unchanged.
	if line == "" {
		return false, rl.emit("\n")
	}
	if !strings.HasPrefix(line, "data:") {
		return false, rl.emit(line + "\n")
	}

	data := strings.TrimSpace(line[len("data:"):])
	if data == "" || data == "[DONE]" {
		rl.state = relayDone
		return true, rl.emit("data: " + data + "\n\n")
	}

	if !gjson.Valid(data) {
		// Forward raw rather than dropping a frame we cannot parse.
		return false, rl.emit(line + "\n\n")
	}
	chunk := gjson.Parse(data)

	if rl.state == relayAwaitingFirstToken {
		delta := chunk.Get("choices.0.delta")
		if delta.Get("content").Exists() || delta.Get("role").Exists() || delta.Get("tool_calls").Exists() {
			rl.firstTokenAt = time.Now()
			rl.state = relayStreaming
		}
	}

	if usage := chunk.Get("usage"); usage.IsObject() {
		rl.promptTokens = int(usage.Get("prompt_tokens").Int())
		rl.completionTokens = int(usage.Get("completion_tokens").Int())
		rl.usageSeen = true
	}

	return false, rl.emit("data: " + data + "\n\n")
}

func (rl *relay) emit(s string) error {
	if _, err := io.WriteString(rl.w, s); err != nil {
		return err
	}
	rl.flusher.Flush()
	return nil
}

// ttft returns the time to first token, zero if none was seen.
func (rl *relay) ttft() time.Duration {
	if rl.firstTokenAt.IsZero() {
		return 0
	}
	return rl.firstTokenAt.Sub(rl.start)
}

// trailerPayload is the body of the synthetic gateway_metrics event.
type trailerPayload struct {
	SessionID        string         `json:"session_id"`
	LatencySeconds   float64        `json:"latency_seconds"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TTFTSeconds      *float64       `json:"ttft_seconds"`
	SessionAggregate metrics.Record `json:"session_aggregate"`
}

// writeTrailer appends the gateway_metrics event after [DONE].
func (rl *relay) writeTrailer(sessionID string, latency time.Duration, aggregate metrics.Record) error {
	payload := trailerPayload{
		SessionID:        sessionID,
		LatencySeconds:   latency.Seconds(),
		PromptTokens:     rl.promptTokens,
		CompletionTokens: rl.completionTokens,
		SessionAggregate: aggregate,
	}
	if ttft := rl.ttft(); ttft > 0 {
		secs := ttft.Seconds()
		payload.TTFTSeconds = &secs
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return rl.emit("event: gateway_metrics\ndata: " + string(data) + "\n\n")
}

// streamCompletion handles the streaming path: open the upstream stream,
// relay it, and on clean completion persist session state and append the
// metrics trailer. A cancelled or broken stream commits nothing.
func (g *Gateway) streamCompletion(w http.ResponseWriter, r *http.Request, sessionID string, merged session.History, payload []byte, start time.Time) {
	requestID := uuid.NewString()

	flusher, ok := w.(http.Flusher)
	if !ok {
		status := g.writeError(w, errInternal("streaming unsupported by server", ""))
		g.finishRequest(requestID, sessionID, status, true, time.Since(start), 0, upstream.Usage{}, nil)
		return
	}

	body, err := g.upstream.OpenStream(r.Context(), payload)
	if err != nil {
		status := g.writeError(w, err)
		g.finishRequest(requestID, sessionID, status, true, time.Since(start), 0, upstream.Usage{}, err)
		return
	}
	defer func() { _ = body.Close() }()

	// The session header goes out with the response envelope, before any
	// body bytes exist.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(HeaderSessionID, sessionID)
	w.WriteHeader(http.StatusOK)

	rl := newRelay(w, flusher, start)
	runErr := rl.run(body)
	latency := time.Since(start)
	streamUsage := upstream.Usage{
		PromptTokens:     rl.promptTokens,
		CompletionTokens: rl.completionTokens,
		TotalTokens:      rl.promptTokens + rl.completionTokens,
		Present:          rl.usageSeen,
	}

	if runErr != nil || rl.state != relayDone {
		// Client disconnect or upstream failure mid-stream: headers are
		// already sent, so just stop cleanly without committing state.
		log.Debug().
			Err(runErr).
			Str("session_id", sessionID).
			Msg("stream aborted before completion")
		g.finishRequest(requestID, sessionID, http.StatusOK, true, latency, rl.ttft(), upstream.Usage{}, runErr)
		return
	}

	aggregate, err := g.persistStream(r.Context(), sessionID, merged, rl.promptTokens, rl.completionTokens, latency)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist stream session state")
		g.finishRequest(requestID, sessionID, http.StatusOK, true, latency, rl.ttft(), streamUsage, err)
		return
	}

	if err := rl.writeTrailer(sessionID, latency, aggregate); err != nil {
		log.Debug().Err(err).Msg("client gone before metrics trailer")
	}

	g.prom.UpstreamLatency.Observe(latency.Seconds())
	if ttft := rl.ttft(); ttft > 0 {
		g.prom.TTFT.Observe(ttft.Seconds())
	}
	g.finishRequest(requestID, sessionID, http.StatusOK, true, latency, rl.ttft(), streamUsage, nil)
}
