// Package main is the entry point for the quantfolio portfolio optimization service.
// It serves Black-Litterman, Risk Parity, HRP and Minimum Variance optimization over
// locally stored price history, and keeps that storage healthy with scheduled jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/di"
	"github.com/aristath/quantfolio/internal/server"
	"github.com/aristath/quantfolio/pkg/logger"
)

// main orchestrates startup:
// 1. Loads configuration from environment variables (.env supported)
// 2. Initializes logging
// 3. Wires databases, repositories, services and jobs
// 4. Starts the scheduler and HTTP server
// 5. Waits for a shutdown signal and shuts down gracefully
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
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("version", cfg.Version).Msg("Starting quantfolio")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, _, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Closing flushes WAL checkpoints
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	container.Scheduler.Start()

	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		RequestTimeout: cfg.RequestTimeout,
		DataDir:        cfg.DataDir,
		Version:        cfg.Version,
		Databases:      container.Databases(),
		Optimizer:      container.OptimizerService,
		History:        container.History,
		Cache:          container.EstimateCache,
		Archive:        archiveOrNil(container),
		Jobs:           container.Scheduler,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	cancel()

	// In-flight optimizations get up to 10 seconds
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Waits for running jobs
	container.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}

// archiveOrNil avoids handing the server a typed-nil archive interface
func archiveOrNil(container *di.Container) server.RunArchive {
	if container.ResultArchive == nil {
		return nil
	}
	return container.ResultArchive
}
