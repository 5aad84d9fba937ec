// HTTP request handling for the session gateway.
//
// DESIGN: Main request flow:
//   - handleChatCompletions(): auth → rate limit → session resolve →
//     history merge/clamp → default injection → dispatch
//   - completion():            non-streaming upstream call, response
//     annotated with gateway metadata
//   - streamCompletion():      SSE relay (relay.go)
//
// Also includes health, models, and per-session metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/inferencegate/gateway/internal/config"
	"github.com/inferencegate/gateway/internal/metrics"
	"github.com/inferencegate/gateway/internal/monitoring"
	"github.com/inferencegate/gateway/internal/session"
	"github.com/inferencegate/gateway/internal/upstream"
)

const routeChatCompletions = "/v1/chat/completions"

// gatewayMeta is the metadata object injected into non-streaming response
// bodies under the "gateway" key.
type gatewayMeta struct {
	SessionID        string         `json:"session_id"`
	LatencySeconds   float64        `json:"latency_seconds"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	TotalTokens      int            `json:"total_tokens"`
	Estimated        bool           `json:"estimated,omitempty"`
	SessionMetrics   metrics.Record `json:"session_metrics"`
}

// handleHealth reports gateway liveness and the configured backend.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":       true,
		"upstream": g.upstream.Base(),
		"model":    g.cfg.ModelName,
	})
}

// handleModels returns a minimal model list for SDKs that probe it.
func (g *Gateway) handleModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": []map[string]string{{"id": g.cfg.ModelName, "object": "model"}},
	})
}

// handleSessionMetrics exposes the aggregate metrics record for a session.
// A session with no record yet returns a zero-valued record, so repeated
// reads without intervening completions are identical.
func (g *Gateway) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	rec, _, err := g.metrics.Get(r.Context(), sessionID)
	if err != nil {
		g.writeError(w, errTransport(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"session_id": sessionID,
		"metrics":    rec,
	})
}

// handleChatCompletions is the main proxy path.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	key, err := g.authenticate(r)
	if err == nil {
		err = g.rateLimit(r.Context(), key)
	}
	if err != nil {
		status := g.writeError(w, err)
		g.prom.ObserveRequest(routeChatCompletions, strconv.Itoa(status))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status := g.writeError(w, errBadRequest("failed to read request body"))
		g.prom.ObserveRequest(routeChatCompletions, strconv.Itoa(status))
		return
	}

	incoming, perr := parseIncomingMessages(body)
	if perr != nil {
		status := g.writeError(w, perr)
		g.prom.ObserveRequest(routeChatCompletions, strconv.Itoa(status))
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = session.NewID()
	}

	hist, err := g.sessions.History(r.Context(), sessionID)
	if err != nil {
		status := g.writeError(w, errTransport(err))
		g.prom.ObserveRequest(routeChatCompletions, strconv.Itoa(status))
		return
	}
	merged := session.Merge(hist, incoming, g.cfg.MaxTurns)

	payload, err := g.buildPayload(body, merged)
	if err != nil {
		status := g.writeError(w, errInternal(err, ""))
		g.prom.ObserveRequest(routeChatCompletions, strconv.Itoa(status))
		return
	}

	if gjson.GetBytes(body, "stream").Bool() {
		g.streamCompletion(w, r, sessionID, merged, payload, start)
		return
	}
	g.completion(w, r, sessionID, merged, payload, start)
}

// parseIncomingMessages validates the request body and decodes its
// messages list.
func parseIncomingMessages(body []byte) ([]session.Message, error) {
	if !gjson.ValidBytes(body) {
		return nil, errBadRequest("invalid JSON body")
	}
	msgs := gjson.GetBytes(body, "messages")
	if !msgs.IsArray() {
		return nil, errBadRequest("`messages` must be a list")
	}
	var incoming []session.Message
	if err := json.Unmarshal([]byte(msgs.Raw), &incoming); err != nil {
		return nil, errBadRequest("malformed messages: " + err.Error())
	}
	return incoming, nil
}

// buildPayload replaces the message list with the merged history and
// injects gateway defaults. max_tokens above the configured ceiling is
// clamped down, never rejected.
func (g *Gateway) buildPayload(body []byte, merged session.History) ([]byte, error) {
	msgsRaw, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	payload, err := sjson.SetRawBytes(body, "messages", msgsRaw)
	if err != nil {
		return nil, err
	}
	return g.injectDefaults(payload)
}

// injectDefaults fills in model, sampling, and max_tokens defaults on a
// raw request payload, clamping caller max_tokens to the ceiling.
func (g *Gateway) injectDefaults(payload []byte) ([]byte, error) {
	var err error
	if !gjson.GetBytes(payload, "model").Exists() {
		if payload, err = sjson.SetBytes(payload, "model", g.cfg.ModelName); err != nil {
			return nil, err
		}
	}
	if !gjson.GetBytes(payload, "temperature").Exists() {
		if payload, err = sjson.SetBytes(payload, "temperature", config.DefaultTemperature); err != nil {
			return nil, err
		}
	}
	if !gjson.GetBytes(payload, "top_p").Exists() {
		if payload, err = sjson.SetBytes(payload, "top_p", config.DefaultTopP); err != nil {
			return nil, err
		}
	}

	maxTokens := gjson.GetBytes(payload, "max_tokens")
	switch {
	case !maxTokens.Exists():
		payload, err = sjson.SetBytes(payload, "max_tokens", g.cfg.MaxTokensDefault)
	case maxTokens.Int() > int64(g.cfg.MaxTokensCap):
		payload, err = sjson.SetBytes(payload, "max_tokens", g.cfg.MaxTokensCap)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// completion handles the non-streaming path: call upstream, persist the
// merged history, update session metrics, and annotate the response body.
func (g *Gateway) completion(w http.ResponseWriter, r *http.Request, sessionID string, merged session.History, payload []byte, start time.Time) {
	requestID := uuid.NewString()

	comp, err := g.upstream.Complete(r.Context(), payload)
	if err != nil {
		status := g.writeError(w, err)
		g.finishRequest(requestID, sessionID, status, false, time.Since(start), 0, upstream.Usage{}, err)
		return
	}

	usage := comp.Usage
	estimated := false
	if !usage.Present {
		// Backend gave no usage block; estimate the prompt side from the
		// merged history so session metrics stay meaningful.
		usage.PromptTokens = session.EstimateTokens(merged)
		usage.TotalTokens = usage.PromptTokens
		estimated = true
	}
	latency := comp.Latency

	ctx := r.Context()
	if err := g.sessions.Save(ctx, sessionID, merged); err != nil {
		status := g.writeError(w, errTransport(err))
		g.finishRequest(requestID, sessionID, status, false, latency, 0, usage, err)
		return
	}
	rec, err := g.metrics.Update(ctx, sessionID, usage.PromptTokens, usage.CompletionTokens, latency.Seconds())
	if err != nil {
		status := g.writeError(w, errTransport(err))
		g.finishRequest(requestID, sessionID, status, false, latency, 0, usage, err)
		return
	}

	annotated := g.annotateResponse(comp.Body, gatewayMeta{
		SessionID:        sessionID,
		LatencySeconds:   latency.Seconds(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Estimated:        estimated,
		SessionMetrics:   rec,
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderSessionID, sessionID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(annotated)

	g.prom.UpstreamLatency.Observe(latency.Seconds())
	g.finishRequest(requestID, sessionID, http.StatusOK, false, latency, 0, usage, nil)
}

// annotateResponse injects the gateway metadata object into the upstream
// body. On failure the body is passed through unannotated.
func (g *Gateway) annotateResponse(body []byte, meta gatewayMeta) []byte {
	annotated, err := sjson.SetBytes(body, "gateway", meta)
	if err != nil {
		log.Warn().Err(err).Msg("failed to annotate response body")
		return body
	}
	return annotated
}

// finishRequest records the terminal state of one chat-completion request
// in the counters, the Prometheus registry, and the telemetry stream.
func (g *Gateway) finishRequest(requestID, sessionID string, status int, stream bool, latency time.Duration, ttft time.Duration, usage upstream.Usage, err error) {
	success := status < 400
	g.stats.RecordRequest(success)
	if stream {
		g.stats.RecordStream()
	}
	if success {
		g.stats.RecordUsage(usage.PromptTokens, usage.CompletionTokens)
		g.prom.ObserveUsage(usage.PromptTokens, usage.CompletionTokens)
	}
	g.prom.ObserveRequest(routeChatCompletions, strconv.Itoa(status))

	ev := monitoring.RequestEvent{
		RequestID:        requestID,
		Path:             routeChatCompletions,
		SessionID:        sessionID,
		Status:           status,
		Stream:           stream,
		LatencySeconds:   latency.Seconds(),
		TTFTSeconds:      ttft.Seconds(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	g.tracker.Record(ev)
}

// persistStream commits session state after a stream completed normally.
// Kept off the hot path so the relay loop stays small.
func (g *Gateway) persistStream(ctx context.Context, sessionID string, merged session.History, promptTokens, completionTokens int, latency time.Duration) (metrics.Record, error) {
	if err := g.sessions.Save(ctx, sessionID, merged); err != nil {
		return metrics.Record{}, err
	}
	return g.metrics.Update(ctx, sessionID, promptTokens, completionTokens, latency.Seconds())
}
