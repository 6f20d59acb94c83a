// Package server exposes the dashboard API, the public redirect and the
// operational endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/rosterwatch/internal/analytics"
	"github.com/rcourtman/rosterwatch/internal/config"
	"github.com/rcourtman/rosterwatch/internal/ingest"
	"github.com/rcourtman/rosterwatch/internal/links"
	"github.com/rcourtman/rosterwatch/internal/logging"
	"github.com/rcourtman/rosterwatch/internal/store"
	"github.com/rcourtman/rosterwatch/internal/users"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = 5 * time.Minute
)

// Run loads configuration and serves until ctx is cancelled or a
// termination signal arrives.
func Run(ctx context.Context, version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "server",
		FilePath:  cfg.LogFile,
	})
	defer logging.Shutdown()

	return Serve(ctx, cfg, version)
}

// Serve opens the store, builds the services and runs the HTTP server with
// graceful shutdown.
func Serve(ctx context.Context, cfg *config.Config, version string) error {
	log.Info().Str("version", version).Str("data_dir", cfg.DataDir).Msg("Starting rosterwatch")

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	accounts := users.NewService(st, cfg.Location())
	if err := accounts.EnsureAdmin(ctx, cfg.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin account: %w", err)
	}

	// Redis is optional; RW_CACHE_TTL=0 turns the analytics cache off.
	var rdb *redis.Client
	switch {
	case cfg.CacheTTL <= 0:
		log.Info().Msg("Analytics cache disabled")
	case cfg.Redis.Addr != "":
		rdb, err = analytics.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, analytics cache is process-local")
			rdb = nil
		} else {
			defer rdb.Close()
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Analytics cache shared through Redis")
		}
	}

	limiter := NewRateLimiter(cfg.RedirectRateLimit, defaultRateWindow)
	deps := &Deps{
		Config:    cfg,
		Store:     st,
		Uploader:  ingest.NewUploader(st, cfg.Location()),
		Analytics: analytics.NewService(st, analytics.NewCache(cfg.CacheTTL, rdb), cfg.Location()),
		Links:     links.NewService(st, cfg.BaseURL, cfg.DefaultRedirectURL, cfg.Location()),
		Users:     accounts,
		Limiter:   limiter,
		Version:   version,
	}

	addr := cfg.ListenAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(deps),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go sweepLimiter(ctx, limiter)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("base_url", cfg.BaseURL).Msg("Dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("serve %s: %w", addr, err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	log.Info().Msg("Dashboard stopped")
	return nil
}

func sweepLimiter(ctx context.Context, rl *RateLimiter) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}
