package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/txn-harvester/internal/api"
	"github.com/dvloznov/txn-harvester/internal/api/handlers"
	"github.com/dvloznov/txn-harvester/internal/app"
	"github.com/dvloznov/txn-harvester/internal/config"
	"github.com/dvloznov/txn-harvester/internal/logger"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Write to an in-memory ledger seeded from the configured one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log, err := logger.Configure(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Failed to configure logger")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// The runner outlives any single request, so it gets its own root context.
	baseCtx, cancelBase := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancelBase()

	a, err := app.Build(baseCtx, cfg, app.Options{DryRun: *dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build harvester")
	}

	if cfg.AutoStart {
		if err := a.Runner.Start(baseCtx, a.StartOptions()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start runner")
		}
	}

	var journalHandler *handlers.JournalHandler
	if a.Journal != nil {
		journalHandler = handlers.NewJournalHandler(a.Journal)
	}
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty - the control API is unauthenticated")
	}

	server := &http.Server{
		Addr:         cfg.APIAddr,
		Handler:      api.NewRouter(log, handlers.NewRunnerHandler(baseCtx, a.Runner, a.StartOptions()), journalHandler, cfg.JWTSecret),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.APIAddr).Msg("Starting control API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
	cancelBase()

	log.Info().Msg("Harvester exited")
}
