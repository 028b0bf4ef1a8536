package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/SatoshiKawabata/rainy-talk-api/internal/api"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/chat"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/config"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/generator"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/scheduler"
	"github.com/SatoshiKawabata/rainy-talk-api/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize the store backend
	var st store.Store
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite initialization failed")
		}
		st = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")

	case config.BackendPostgres:
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		st = pgStore
		logger.Info().Msg("connected to PostgreSQL")

	default:
		st = store.NewMemoryStore()
		logger.Info().Msg("using in-memory store")
	}
	defer st.Close()

	// Initialize the scheduler: Redis when configured, in-process otherwise
	var sched scheduler.Scheduler
	if cfg.RedisURL != "" {
		redisSched, err := scheduler.NewRedisScheduler(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisSched.Close()
		sched = redisSched
		logger.Info().Msg("using Redis scheduler")
	} else {
		sched = scheduler.NewMemoryScheduler()
	}

	// Initialize the dialogue generator
	gen, err := generator.NewLLMGenerator(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("generator initialization failed")
	}
	logger.Info().
		Str("provider", cfg.LLMProvider).
		Str("model", cfg.LLMModel).
		Msg("dialogue generator ready")

	orch := chat.NewOrchestrator(st, st, sched, gen, cfg.Chat, logger)
	svc := chat.NewService(st, st, sched, orch, cfg.Chat, logger)

	// Create router
	router := api.NewRouter(logger, svc, st, sched)

	// Create server
	// WriteTimeout must cover the longest poll-wait a next-message request
	// can sit through before it resolves or times out.
	pollBudget := cfg.Chat.PollInterval * time.Duration(cfg.Chat.PollMaxAttempts)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: pollBudget + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting rainy-talk server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
