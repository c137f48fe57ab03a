package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalrelay/internal/config"
	"signalrelay/internal/relay"
	"signalrelay/internal/status"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load config (JSON file, .env, then environment)
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Setup structured logging
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting_relay_server",
		"addr", cfg.Addr,
		"whitelist", cfg.Whitelist,
		"ttl", cfg.TTL,
		"heartbeat_interval", cfg.HeartbeatInterval.String(),
		"status_addr", cfg.StatusAddr,
	)

	// Optional Redis mirror of the role directory
	var presence relay.PresenceStore
	var presenceSource status.PresenceSource
	if cfg.RedisURL != "" {
		redisPresence, err := relay.NewRedisPresence(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			logger.Error("presence_store_unavailable", "error", err.Error())
			os.Exit(1)
		}
		defer redisPresence.Close()

		resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisPresence.Reset(resetCtx); err != nil {
			logger.Warn("presence_reset_failed", "error", err.Error())
		}
		cancel()
		presence = redisPresence
		presenceSource = redisPresence
	}

	server, err := relay.NewServer(cfg, presence, logger)
	if err != nil {
		logger.Error("failed_to_create_server", "error", err.Error())
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("received_shutdown_signal")
		server.Stop()
		return nil
	})

	if cfg.StatusAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		httpServer := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           status.NewRouter(status.NewHandler(server.Registry, server.Manager, presenceSource)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("status_server_started", "addr", cfg.StatusAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("server_error", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("server_stopped_gracefully")
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
