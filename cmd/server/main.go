package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/sebgate/internal/config"
	"github.com/stemsi/sebgate/internal/database"
	"github.com/stemsi/sebgate/internal/handler"
	"github.com/stemsi/sebgate/internal/logger"
	"github.com/stemsi/sebgate/internal/middleware"
	"github.com/stemsi/sebgate/internal/repository"
	"github.com/stemsi/sebgate/internal/router"
	"github.com/stemsi/sebgate/internal/service"
	"github.com/stemsi/sebgate/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting SEB Gate")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	adminRepo := repository.NewAdminRepository(pool)
	quizRepo := repository.NewQuizRepository(pool)
	templateRepo := repository.NewTemplateRepository(pool)
	settingsRepo := repository.NewSebSettingsRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	configStore := service.NewSebConfigStore(cfg)
	settingsService := service.NewSebSettingsService(settingsRepo, templateRepo, configStore, cfg.BaseURL, log)
	accessService := service.NewSessionAccessService(cfg, rdb, log)
	templateService := service.NewTemplateService(templateRepo, settingsRepo, settingsService, log)

	// ─── Prewarm Settings Cache ───────────────────────────────────────
	// Compile every stored settings record BEFORE accepting traffic, so
	// the first SEB validation after boot hits warm artifacts.
	if err := settingsService.PrewarmAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Settings cache prewarm failed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	sebGate := middleware.NewSebGate(cfg, settingsService, configStore, accessService, rdb, log)
	handlers := &router.Handlers{
		Auth:        handler.NewAuthHandler(authService, studentRepo, adminRepo),
		Quiz:        handler.NewQuizHandler(quizRepo, settingsService, accessService, configStore),
		SebSettings: handler.NewSebSettingsHandler(settingsService, configStore),
		Template:    handler.NewTemplateHandler(templateService),
		WS:          handler.NewWSHandler(rdb, log, cfg.AllowedOrigins),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, sebGate, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
