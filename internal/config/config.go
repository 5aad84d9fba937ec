// Package config loads gateway configuration from the environment, with an
// optional YAML file overlay for deployments that prefer files over env vars.
//
// Precedence: environment > CONFIG_FILE > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full runtime configuration of the gateway.
type Config struct {
	ListenAddr   string
	UpstreamBase string
	ModelName    string

	// APIKeys is the static set of accepted bearer keys.
	APIKeys map[string]struct{}

	MaxTurns   int
	SessionTTL time.Duration

	// SQLitePath selects the durable store backend when set; empty means
	// the in-process store.
	SQLitePath string

	MaxTokensDefault int
	MaxTokensCap     int

	RateLimitPerMinute int

	UpstreamTimeout time.Duration

	TelemetryLogPath string
}

// fileConfig mirrors Config for the optional YAML overlay.
type fileConfig struct {
	ListenAddr         string  `yaml:"listen_addr"`
	UpstreamBase       string  `yaml:"upstream_base"`
	ModelName          string  `yaml:"model_name"`
	APIKeys            string  `yaml:"api_keys"`
	MaxTurns           int     `yaml:"max_turns"`
	SessionTTLSeconds  int     `yaml:"session_ttl_seconds"`
	SQLitePath         string  `yaml:"sqlite_path"`
	MaxTokensDefault   int     `yaml:"max_tokens_default"`
	MaxTokensCap       int     `yaml:"max_tokens_cap"`
	RateLimitPerMinute int     `yaml:"rate_limit_per_minute"`
	UpstreamTimeoutSec float64 `yaml:"upstream_timeout_seconds"`
	TelemetryLogPath   string  `yaml:"telemetry_log_path"`
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and the environment, in that order.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         DefaultListenAddr,
		UpstreamBase:       DefaultUpstreamBase,
		ModelName:          "Qwen/Qwen3-4B-Instruct-2507",
		APIKeys:            keySet("devkey"),
		MaxTurns:           DefaultMaxTurns,
		SessionTTL:         DefaultSessionTTL,
		MaxTokensDefault:   DefaultMaxTokens,
		MaxTokensCap:       DefaultMaxTokensCap,
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		UpstreamTimeout:    DefaultUpstreamTimeout,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.UpstreamBase = strings.TrimRight(cfg.UpstreamBase, "/")
	if cfg.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", cfg.MaxTurns)
	}
	if cfg.MaxTokensCap < cfg.MaxTokensDefault {
		return nil, fmt.Errorf("max_tokens cap %d below default %d", cfg.MaxTokensCap, cfg.MaxTokensDefault)
	}
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("no API keys configured")
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.UpstreamBase != "" {
		c.UpstreamBase = fc.UpstreamBase
	}
	if fc.ModelName != "" {
		c.ModelName = fc.ModelName
	}
	if fc.APIKeys != "" {
		c.APIKeys = keySet(fc.APIKeys)
	}
	if fc.MaxTurns > 0 {
		c.MaxTurns = fc.MaxTurns
	}
	if fc.SessionTTLSeconds > 0 {
		c.SessionTTL = time.Duration(fc.SessionTTLSeconds) * time.Second
	}
	if fc.SQLitePath != "" {
		c.SQLitePath = fc.SQLitePath
	}
	if fc.MaxTokensDefault > 0 {
		c.MaxTokensDefault = fc.MaxTokensDefault
	}
	if fc.MaxTokensCap > 0 {
		c.MaxTokensCap = fc.MaxTokensCap
	}
	if fc.RateLimitPerMinute > 0 {
		c.RateLimitPerMinute = fc.RateLimitPerMinute
	}
	if fc.UpstreamTimeoutSec > 0 {
		c.UpstreamTimeout = time.Duration(fc.UpstreamTimeoutSec * float64(time.Second))
	}
	if fc.TelemetryLogPath != "" {
		c.TelemetryLogPath = fc.TelemetryLogPath
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("UPSTREAM_OPENAI"); v != "" {
		c.UpstreamBase = v
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.ModelName = v
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		c.APIKeys = keySet(v)
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.SQLitePath = v
	}
	if v := os.Getenv("TELEMETRY_LOG_PATH"); v != "" {
		c.TelemetryLogPath = v
	}

	var err error
	if c.MaxTurns, err = envInt("MAX_TURNS", c.MaxTurns); err != nil {
		return err
	}
	if c.MaxTokensDefault, err = envInt("MAX_TOKENS_DEFAULT", c.MaxTokensDefault); err != nil {
		return err
	}
	if c.MaxTokensCap, err = envInt("MAX_TOKENS_CAP", c.MaxTokensCap); err != nil {
		return err
	}
	if c.RateLimitPerMinute, err = envInt("RATE_LIMIT_PER_MINUTE", c.RateLimitPerMinute); err != nil {
		return err
	}

	ttl, err := envInt("SESSION_TTL_SECONDS", int(c.SessionTTL/time.Second))
	if err != nil {
		return err
	}
	c.SessionTTL = time.Duration(ttl) * time.Second

	timeout, err := envInt("UPSTREAM_TIMEOUT_SECONDS", int(c.UpstreamTimeout/time.Second))
	if err != nil {
		return err
	}
	c.UpstreamTimeout = time.Duration(timeout) * time.Second
	return nil
}

// ValidKey reports whether key is in the configured static key set.
func (c *Config) ValidKey(key string) bool {
	_, ok := c.APIKeys[key]
	return ok
}

func keySet(csv string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, k := range strings.Split(csv, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}
