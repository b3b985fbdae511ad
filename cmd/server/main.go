// Package main is the entry point for marketcore: the market-data resilience
// layer, its background workers, and the ops HTTP API.
//
// Startup:
// 1. Load configuration (defaults, YAML overlay, environment)
// 2. Initialize logging
// 3. Wire dependencies via the DI container (databases, data sources, repositories, workers, jobs)
// 4. Start the HTTP server, enabled workers, and the maintenance scheduler
// 5. Wait for a shutdown signal and stop everything in reverse order
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/marketcore/internal/config"
	"github.com/aristath/marketcore/internal/di"
	"github.com/aristath/marketcore/internal/server"
	"github.com/aristath/marketcore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
		File:   cfg.LogFile,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting marketcore")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Container:   container,
		StopTimeout: cfg.Workers.StopTimeout,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// A worker that fails to start is logged; the rest keep running
	if err := container.Workers.StartEnabled(); err != nil {
		log.Error().Err(err).Msg("Some workers failed to start")
	}

	container.Scheduler.Start()
	log.Info().Msg("Maintenance scheduler started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	container.Scheduler.Stop()
	container.Workers.StopAll(cfg.Workers.StopTimeout)
	log.Info().Msg("Workers stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close databases")
	}

	log.Info().Msg("Server stopped")
}
