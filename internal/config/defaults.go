// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// UPSTREAM
// =============================================================================

// DefaultUpstreamBase is the chat-completions backend used when
// UPSTREAM_OPENAI is not set (a local vLLM-style server).
const DefaultUpstreamBase = "http://127.0.0.1:8000/v1"

// DefaultUpstreamTimeout bounds a single upstream call. Generation can be
// slow, so this is generous but finite.
const DefaultUpstreamTimeout = 10 * time.Minute

// =============================================================================
// SESSIONS
// =============================================================================

// DefaultMaxTurns is the history clamp: only the last N messages of a
// session survive a merge.
const DefaultMaxTurns = 24

// DefaultSessionTTL is how long idle session state (history + metrics)
// is retained.
const DefaultSessionTTL = time.Hour

// =============================================================================
// SAMPLING DEFAULTS
// =============================================================================

// DefaultTemperature is injected when the caller does not set one.
const DefaultTemperature = 0.2

// DefaultTopP is injected when the caller does not set one.
const DefaultTopP = 0.9

// DefaultMaxTokens is injected when the caller omits max_tokens.
const DefaultMaxTokens = 1024

// DefaultMaxTokensCap is the hard ceiling; caller values above it are
// clamped down, never rejected.
const DefaultMaxTokensCap = 4096

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateLimitPerMinute is requests per key per rate-limit window.
const DefaultRateLimitPerMinute = 60

// RateLimitWindow is the rolling window for per-key counters.
const RateLimitWindow = time.Minute

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultListenAddr is the gateway bind address.
const DefaultListenAddr = ":8081"

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 15 * time.Minute

// DefaultServerReadHeaderTimeout guards against slow-header clients.
const DefaultServerReadHeaderTimeout = 10 * time.Second

// =============================================================================
// STORE
// =============================================================================

// DefaultSweepInterval is how often the in-memory store drops expired keys.
const DefaultSweepInterval = 5 * time.Second

// =============================================================================
// ERRORS
// =============================================================================

// MaxErrorTraceLen limits the stack trace attached to 500 responses.
const MaxErrorTraceLen = 4000
