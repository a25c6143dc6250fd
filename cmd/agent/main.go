package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/database"
	"github.com/stemsi/exstem-agent/internal/handler"
	"github.com/stemsi/exstem-agent/internal/logger"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/progress"
	"github.com/stemsi/exstem-agent/internal/remote"
	"github.com/stemsi/exstem-agent/internal/router"
	"github.com/stemsi/exstem-agent/internal/service"
	"github.com/stemsi/exstem-agent/internal/session"
	"github.com/stemsi/exstem-agent/internal/validator"
)

const defaultJWTSecret = "change-this-to-a-secure-random-string"

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.AgentPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("remote", cfg.RemoteBaseURL).
		Msg("Starting ExStem Agent")

	if cfg.JWTSecret == defaultJWTSecret {
		log.Warn().Msg("JWT_SECRET is the default value; tokens from the exam server will not validate")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Progress Store ───────────────────────────────────────────
	kv, closeStore, err := database.OpenSubstrate(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open progress store")
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	store := progress.NewStore(kv, clock, log)

	if cfg.PruneMaxAge > 0 {
		if n := store.PruneOlderThan(cfg.PruneMaxAge); n > 0 {
			log.Info().Int("pruned", n).Msg("Stale progress removed")
		}
	}
	if n := countRecords(store); n > 0 {
		log.Info().Int("count", n).Msg("Unfinished exams available for recovery")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	client := remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout, log)

	manager := session.NewManager(store,
		func(token string) session.Remote { return client.As(token) },
		session.Options{
			Debounce:        cfg.AutosaveDebounce,
			RequestTimeout:  cfg.RemoteTimeout,
			TickInterval:    cfg.TickInterval,
			CheckpointEvery: cfg.CheckpointEvery,
			PageSize:        cfg.QuestionsPerPage,
			LeaveTimeout:    cfg.LeaveSaveTimeout,
			PruneMaxAge:     cfg.PruneMaxAge,
			Clock:           clock,
		},
		log,
	)

	// ─── Initialize Handlers ──────────────────────────────────────────
	probe := func() error {
		_, err := kv.Keys("exstem:meta:")
		return err
	}
	handlers := &router.Handlers{
		Exam: handler.NewExamHandler(manager,
			func(token string) handler.TopicLister { return client.As(token) },
			log,
		),
		WS:     handler.NewWSHandler(manager, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(cfg.StoreDriver, probe, diskPath(cfg), clock, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	limiter := middleware.NewRateLimiter(20, time.Second, clock)
	go limiter.Run(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.AgentPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.AgentPort).Msg("Agent listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Give every live exam a bounded final save. Local progress stays
	//    on disk either way and is offered for recovery on restart.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), cfg.LeaveSaveTimeout+2*time.Second)
	defer saveCancel()
	manager.Shutdown(saveCtx)

	// 3. Stop background workers.
	workerCancel()

	log.Info().Msg("Shutdown complete")
}

func countRecords(store *progress.Store) int {
	n := 0
	for range store.ListAll() {
		n++
	}
	return n
}

// diskPath is the directory whose free space bounds local progress writes.
func diskPath(cfg *config.Config) string {
	switch cfg.StoreDriver {
	case config.StoreDriverFile:
		return cfg.StoreDir
	case config.StoreDriverSQLite:
		return filepath.Dir(cfg.SQLitePath)
	default:
		return ""
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
