// Package di provides dependency injection for service implementations.
package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/modules/calculations"
	"github.com/aristath/quantfolio/internal/modules/historical"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/reliability"
)

// InitializeServices creates repositories and services on top of open databases
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	container.History = historical.NewHistoryDB(container.HistoryDB.Conn(), log)
	container.EstimateCache = calculations.NewCache(container.CacheDB.Conn(), cfg.Cache.TTL, log)

	// Archiving is optional; a nil archiver keeps results in-process only
	var archiver optimization.ResultArchiver
	if cfg.Archive.Enabled {
		archive, err := reliability.NewResultArchive(ctx, reliability.ArchiveOptions{
			Bucket:          cfg.Archive.Bucket,
			Prefix:          cfg.Archive.Prefix,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create result archive: %w", err)
		}
		container.ResultArchive = archive
		archiver = archive
		log.Info().
			Str("bucket", cfg.Archive.Bucket).
			Str("prefix", cfg.Archive.Prefix).
			Msg("Result archive enabled")
	}

	container.OptimizerService = optimization.NewOptimizerService(
		container.History,
		container.History,
		container.EstimateCache,
		archiver,
		cfg.ServiceOptions(),
		log,
	)

	return nil
}
