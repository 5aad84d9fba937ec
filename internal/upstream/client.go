// Package upstream talks to the OpenAI-compatible inference backend.
//
// DESIGN: Two call shapes:
//   - Complete():   non-streaming POST, measures wall-clock latency and
//     extracts the usage block from the response body
//   - OpenStream(): streaming POST with stream flags forced, hands the raw
//     SSE body to the caller (the relay)
//
// Non-200 responses become *Error carrying the upstream status and body
// verbatim so the gateway can pass them through.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Error is a non-200 reply from the backend. Status and body are preserved
// verbatim for passthrough to the caller.
type Error struct {
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, body)
}

// Usage is the token accounting block of a chat-completions response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Present          bool
}

// ParseUsage extracts the usage object from a response body. Absent fields
// default to zero; an absent total defaults to the sum.
func ParseUsage(body []byte) Usage {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() {
		return Usage{}
	}
	u := Usage{
		PromptTokens:     int(usage.Get("prompt_tokens").Int()),
		CompletionTokens: int(usage.Get("completion_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
		Present:          true,
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Completion is the result of a non-streaming call.
type Completion struct {
	Body    []byte
	Usage   Usage
	Latency time.Duration
}

// Client issues chat-completion calls against a single backend.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a client for the given base URL (e.g. http://host:8000/v1).
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

// Base returns the configured upstream base URL.
func (c *Client) Base() string { return c.base }

// Complete posts the payload to /chat/completions and returns the full
// response with measured latency and extracted usage.
func (c *Client) Complete(ctx context.Context, payload []byte) (*Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{StatusCode: resp.StatusCode, Body: body}
	}

	return &Completion{
		Body:    body,
		Usage:   ParseUsage(body),
		Latency: latency,
	}, nil
}

// OpenStream posts the payload with stream=true and
// stream_options.include_usage=true forced, and returns the live SSE body.
// A non-200 initial status is read in full and returned as *Error.
// The caller owns closing the returned body.
func (c *Client) OpenStream(ctx context.Context, payload []byte) (io.ReadCloser, error) {
	payload, err := sjson.SetBytes(payload, "stream", true)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(payload, "stream_options.include_usage").Exists() {
		if payload, err = sjson.SetBytes(payload, "stream_options.include_usage", true); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			log.Debug().Err(readErr).Msg("failed to read upstream error body")
		}
		return nil, &Error{StatusCode: resp.StatusCode, Body: body}
	}
	return resp.Body, nil
}
