// Command gateway runs the session-aware inference gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/inferencegate/gateway/internal/config"
	"github.com/inferencegate/gateway/internal/gateway"
	"github.com/inferencegate/gateway/internal/store"
)

func main() {
	// Missing .env is fine; env vars still apply.
	_ = godotenv.Load()
	initLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}

	gw, err := gateway.New(cfg, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gateway")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: config.DefaultServerReadHeaderTimeout,
		// Long enough for slow streamed generations.
		WriteTimeout: config.DefaultServerWriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("upstream", cfg.UpstreamBase).
			Str("model", cfg.ModelName).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	if err := st.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}

// openStore picks the durable SQLite backend when a path is configured,
// otherwise the in-process TTL store.
func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.SQLitePath != "" {
		return store.NewSQLite(cfg.SQLitePath, config.DefaultSweepInterval)
	}
	return store.NewMemory(config.DefaultSweepInterval), nil
}

// initLogging configures the global logger from LOG_LEVEL and LOG_FORMAT.
func initLogging() {
	level := zerolog.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if os.Getenv("LOG_FORMAT") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
