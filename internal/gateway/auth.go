package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/inferencegate/gateway/internal/config"
)

// authenticate validates the bearer credential against the static key set
// and returns the accepted key.
func (g *Gateway) authenticate(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errUnauthorized("missing or invalid Authorization header")
	}
	key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if !g.cfg.ValidKey(key) {
		return "", errUnauthorized("invalid API key")
	}
	return key, nil
}

// rateLimit counts the request against the key's rolling window and
// rejects once the window cap is exceeded. The fingerprint keeps raw keys
// out of the store.
func (g *Gateway) rateLimit(ctx context.Context, key string) error {
	sum := sha256.Sum256([]byte(key))
	counterKey := "ratelimit:" + hex.EncodeToString(sum[:8])

	n, err := g.store.Incr(ctx, counterKey, config.RateLimitWindow)
	if err != nil {
		return errTransport(err)
	}
	if n > int64(g.cfg.RateLimitPerMinute) {
		g.stats.RecordRateLimited()
		return errRateLimited("rate limit exceeded")
	}
	return nil
}
