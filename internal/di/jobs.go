// Package di provides dependency injection for scheduler jobs.
package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/reliability"
	"github.com/aristath/quantfolio/internal/scheduler"
)

// Job schedules (six-field cron, with seconds)
const (
	walCheckpointSchedule     = "0 0 * * * *" // hourly
	dailyMaintenanceSchedule  = "0 0 3 * * *" // 03:00 daily
	weeklyMaintenanceSchedule = "0 0 4 * * 0" // 04:00 Sunday
)

// RegisterJobs creates the scheduler and registers all background jobs.
// Returns JobInstances for manual triggering.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	sched := scheduler.New(log)
	instances := &JobInstances{}
	databases := container.Databases()

	// Job 1: Drop expired estimate cache entries
	cleanup := scheduler.NewCleanupEstimateCacheJob(container.EstimateCache)
	cleanup.SetLogger(log)
	if err := sched.AddJob(cfg.Cache.CleanupSchedule, cleanup); err != nil {
		return nil, fmt.Errorf("failed to register cleanup job: %w", err)
	}
	instances.CleanupEstimateCache = cleanup

	// Job 2: WAL checkpoints
	walCheck := scheduler.NewCheckWALCheckpointsJob(databases)
	walCheck.SetLogger(log)
	if err := sched.AddJob(walCheckpointSchedule, walCheck); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}
	instances.CheckWALCheckpoints = walCheck

	// Job 3: Integrity checks and disk space
	daily := reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log)
	if err := sched.AddJob(dailyMaintenanceSchedule, daily); err != nil {
		return nil, fmt.Errorf("failed to register daily maintenance job: %w", err)
	}
	instances.DailyMaintenance = daily

	// Job 4: VACUUM
	weekly := reliability.NewWeeklyMaintenanceJob(databases, log)
	if err := sched.AddJob(weeklyMaintenanceSchedule, weekly); err != nil {
		return nil, fmt.Errorf("failed to register weekly maintenance job: %w", err)
	}
	instances.WeeklyMaintenance = weekly

	container.Scheduler = sched
	log.Info().Int("jobs", len(sched.Jobs())).Msg("Jobs registered")

	return instances, nil
}
