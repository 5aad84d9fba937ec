package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// sseUpstream fakes a streaming backend emitting the given raw SSE frames.
func sseUpstream(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamRelayPassesChunksAndAppendsTrailer(t *testing.T) {
	srv := sseUpstream(t, []string{
		"data: {\"id\":\"c\",\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n",
		"data: {\"id\":\"c\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
		"data: {\"id\":\"c\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
		"data: {\"id\":\"c\",\"choices\":[],\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":4}}\n\n",
		"data: [DONE]\n\n",
	})
	g := newTestGateway(t, srv.URL+"/v1", nil)

	rr := doChat(g, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, "no", rr.Header().Get("X-Accel-Buffering"))
	sid := rr.Header().Get(HeaderSessionID)
	require.NotEmpty(t, sid)

	body := rr.Body.String()
	assert.Contains(t, body, `"content":"Hel"`)
	assert.Contains(t, body, `"content":"lo"`)
	assert.Contains(t, body, "data: [DONE]")

	trailer := extractTrailer(t, body)
	assert.Equal(t, sid, trailer.Get("session_id").String())
	assert.Equal(t, int64(9), trailer.Get("prompt_tokens").Int())
	assert.Equal(t, int64(4), trailer.Get("completion_tokens").Int())
	assert.Greater(t, trailer.Get("latency_seconds").Float(), 0.0)
	assert.Greater(t, trailer.Get("ttft_seconds").Float(), 0.0)
	assert.Equal(t, int64(1), trailer.Get("session_aggregate.requests").Int())
	assert.Equal(t, int64(13), trailer.Get("session_aggregate.total_tokens").Int())

	// The stream committed session state.
	req := httptest.NewRequest(http.MethodGet, "/v1/session/"+sid+"/metrics", nil)
	mr := httptest.NewRecorder()
	g.Handler().ServeHTTP(mr, req)
	assert.Equal(t, int64(1), gjson.Get(mr.Body.String(), "metrics.requests").Int())
}

func TestStreamRelayForwardsNonDataLines(t *testing.T) {
	srv := sseUpstream(t, []string{
		": keep-alive\n\n",
		"event: ping\ndata: {}\n\n",
		"data: [DONE]\n\n",
	})
	g := newTestGateway(t, srv.URL+"/v1", nil)

	rr := doChat(g, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), ": keep-alive")
	assert.Contains(t, rr.Body.String(), "event: ping")
}

func TestStreamRelayForwardsMalformedData(t *testing.T) {
	srv := sseUpstream(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n",
		"data: this is not json\n\n",
		"data: [DONE]\n\n",
	})
	g := newTestGateway(t, srv.URL+"/v1", nil)

	rr := doChat(g, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "data: this is not json")
	assert.Contains(t, rr.Body.String(), "event: gateway_metrics")
}

func TestStreamAbortedCommitsNothing(t *testing.T) {
	// Upstream dies mid-stream without [DONE].
	srv := sseUpstream(t, []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"par\"}}]}\n\n",
	})
	g := newTestGateway(t, srv.URL+"/v1", nil)

	rr := doChat(g, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, map[string]string{HeaderSessionID: "interrupted"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "event: gateway_metrics")

	req := httptest.NewRequest(http.MethodGet, "/v1/session/interrupted/metrics", nil)
	mr := httptest.NewRecorder()
	g.Handler().ServeHTTP(mr, req)
	assert.Equal(t, int64(0), gjson.Get(mr.Body.String(), "metrics.requests").Int())
}

func TestStreamUpstreamErrorBeforeHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"no capacity"}}`))
	}))
	t.Cleanup(srv.Close)
	g := newTestGateway(t, srv.URL+"/v1", nil)

	rr := doChat(g, `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "no capacity", gjson.Get(rr.Body.String(), "error.message").String())
}

func TestRelayTTFTSkipsEmptyChunks(t *testing.T) {
	rl := newRelay(&strings.Builder{}, nopFlusher{}, time.Now().Add(-time.Second))

	done, err := rl.handleLine(`data: {"choices":[{"delta":{}}]}`)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, time.Duration(0), rl.ttft())

	_, err = rl.handleLine(`data: {"choices":[{"delta":{"content":"x"}}]}`)
	require.NoError(t, err)
	assert.Greater(t, rl.ttft(), time.Duration(0))
}

type nopFlusher struct{}

func (nopFlusher) Flush() {}

func extractTrailer(t *testing.T, body string) gjson.Result {
	t.Helper()
	idx := strings.Index(body, "event: gateway_metrics\ndata: ")
	require.GreaterOrEqual(t, idx, 0, "metrics trailer missing")
	rest := body[idx+len("event: gateway_metrics\ndata: "):]
	end := strings.Index(rest, "\n")
	require.GreaterOrEqual(t, end, 0)
	return gjson.Parse(rest[:end])
}
