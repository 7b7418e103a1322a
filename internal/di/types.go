/**
 * Package di provides dependency injection type definitions.
 *
 * This package defines the Container type which holds all application dependencies.
 * The Container is the single source of truth for all service instances and is
 * passed to the server for access to services.
 */
package di

import (
	"errors"

	"github.com/aristath/quantfolio/internal/database"
	"github.com/aristath/quantfolio/internal/modules/calculations"
	"github.com/aristath/quantfolio/internal/modules/historical"
	"github.com/aristath/quantfolio/internal/modules/optimization"
	"github.com/aristath/quantfolio/internal/reliability"
	"github.com/aristath/quantfolio/internal/scheduler"
)

/**
 * Container holds all dependencies for the application.
 *
 * Architecture:
 * - Databases: history (prices, market caps) and cache (estimate cache)
 * - Repositories: HistoryDB over history.db, Cache over cache.db
 * - Services: OptimizerService, optional ResultArchive
 * - Scheduler: cron-driven maintenance jobs
 */
type Container struct {
	// Databases
	HistoryDB *database.DB // Daily prices and market caps
	CacheDB   *database.DB // Ephemeral estimate cache

	// Repositories
	History       *historical.HistoryDB
	EstimateCache *calculations.Cache

	// Services
	ResultArchive    *reliability.ResultArchive // nil when archiving is disabled
	OptimizerService *optimization.OptimizerService

	Scheduler *scheduler.Scheduler
}

// Databases returns the open databases keyed by name
func (c *Container) Databases() map[string]*database.DB {
	databases := make(map[string]*database.DB, 2)
	if c.HistoryDB != nil {
		databases["history"] = c.HistoryDB
	}
	if c.CacheDB != nil {
		databases["cache"] = c.CacheDB
	}
	return databases
}

// Close closes every open database
func (c *Container) Close() error {
	var errs []error
	for _, db := range []*database.DB{c.HistoryDB, c.CacheDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JobInstances holds registered job instances for manual triggering
type JobInstances struct {
	CleanupEstimateCache scheduler.Job
	CheckWALCheckpoints  scheduler.Job
	DailyMaintenance     scheduler.Job
	WeeklyMaintenance    scheduler.Job
}
