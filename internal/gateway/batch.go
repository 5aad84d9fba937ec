// Package gateway - batch.go fans a list of independent completion
// requests out to the backend concurrently.
//
// DESIGN: Items never share failure: each slot in the response is either
// the upstream body or an {error:{status,message}} object, in input order.
// Streaming is forced off for every item. Aggregate throughput counts only
// successful items.
package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/inferencegate/gateway/internal/config"
	"github.com/inferencegate/gateway/internal/monitoring"
	"github.com/inferencegate/gateway/internal/upstream"
)

const routeChatBatch = "/v1/chat/batch"

type batchItemOutcome struct {
	ok     bool
	body   []byte
	usage  upstream.Usage
	status int
	errMsg string
}

type batchThroughput struct {
	WallTimeSeconds       float64  `json:"wall_time_seconds"`
	TotalPromptTokens     int      `json:"total_prompt_tokens"`
	TotalCompletionTokens int      `json:"total_completion_tokens"`
	TotalTokens           int      `json:"total_tokens"`
	TokensPerSecond       *float64 `json:"tokens_per_second"`
}

// handleChatBatch executes every item concurrently and reports per-item
// outcomes plus aggregate throughput.
func (g *Gateway) handleChatBatch(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if _, err := g.authenticate(r); err != nil {
		status := g.writeError(w, err)
		g.prom.ObserveRequest(routeChatBatch, strconv.Itoa(status))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		status := g.writeError(w, errBadRequest("invalid JSON body"))
		g.prom.ObserveRequest(routeChatBatch, strconv.Itoa(status))
		return
	}
	items := gjson.GetBytes(body, "requests")
	if !items.IsArray() || len(items.Array()) == 0 {
		status := g.writeError(w, errBadRequest("`requests` must be a non-empty list"))
		g.prom.ObserveRequest(routeChatBatch, strconv.Itoa(status))
		return
	}

	payloads, perr := g.prepareBatchItems(items.Array())
	if perr != nil {
		status := g.writeError(w, perr)
		g.prom.ObserveRequest(routeChatBatch, strconv.Itoa(status))
		return
	}

	start := time.Now()
	outcomes := make([]batchItemOutcome, len(payloads))
	var wg sync.WaitGroup
	for i, payload := range payloads {
		wg.Add(1)
		go func(i int, payload []byte) {
			defer wg.Done()
			outcomes[i] = g.runBatchItem(r, payload)
		}(i, payload)
	}
	wg.Wait()
	wall := time.Since(start).Seconds()

	data := make([]json.RawMessage, len(outcomes))
	var totalPrompt, totalCompletion int
	for i, out := range outcomes {
		if out.ok {
			data[i] = out.body
			totalPrompt += out.usage.PromptTokens
			totalCompletion += out.usage.CompletionTokens
			continue
		}
		errBody, _ := json.Marshal(map[string]any{
			"error": map[string]any{
				"status":  out.status,
				"message": out.errMsg,
			},
		})
		data[i] = errBody
	}

	throughput := batchThroughput{
		WallTimeSeconds:       wall,
		TotalPromptTokens:     totalPrompt,
		TotalCompletionTokens: totalCompletion,
		TotalTokens:           totalPrompt + totalCompletion,
	}
	if wall > 0 && throughput.TotalTokens > 0 {
		tps := float64(throughput.TotalTokens) / wall
		throughput.TokensPerSecond = &tps
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":       data,
		"throughput": throughput,
	})

	g.stats.RecordBatch(len(outcomes))
	g.stats.RecordUsage(totalPrompt, totalCompletion)
	g.prom.ObserveRequest(routeChatBatch, strconv.Itoa(http.StatusOK))
	g.prom.ObserveUsage(totalPrompt, totalCompletion)
	g.tracker.Record(monitoring.RequestEvent{
		RequestID:        requestID,
		Path:             routeChatBatch,
		Status:           http.StatusOK,
		LatencySeconds:   wall,
		PromptTokens:     totalPrompt,
		CompletionTokens: totalCompletion,
		BatchItems:       len(outcomes),
	})
}

// prepareBatchItems forces every item non-streaming and applies the same
// defaults as the single-request path. Items do not touch sessions.
func (g *Gateway) prepareBatchItems(items []gjson.Result) ([][]byte, error) {
	payloads := make([][]byte, 0, len(items))
	for _, item := range items {
		if !item.IsObject() {
			return nil, errBadRequest("batch items must be objects")
		}
		payload, err := sjson.SetBytes([]byte(item.Raw), "stream", false)
		if err != nil {
			return nil, errBadRequest("malformed batch item: " + err.Error())
		}
		if payload, err = g.injectDefaults(payload); err != nil {
			return nil, errBadRequest("malformed batch item: " + err.Error())
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// runBatchItem executes one item; failures are captured, never propagated.
func (g *Gateway) runBatchItem(r *http.Request, payload []byte) batchItemOutcome {
	comp, err := g.upstream.Complete(r.Context(), payload)
	if err != nil {
		if ue, ok := err.(*upstream.Error); ok {
			return batchItemOutcome{status: ue.StatusCode, errMsg: string(ue.Body)}
		}
		return batchItemOutcome{status: http.StatusBadGateway, errMsg: err.Error()}
	}
	return batchItemOutcome{ok: true, body: comp.Body, usage: comp.Usage}
}
