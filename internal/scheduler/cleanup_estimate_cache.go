package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ExpiringCache is a cache that can drop expired entries
type ExpiringCache interface {
	DeleteExpired() (int64, error)
}

// CleanupEstimateCacheJob removes expired estimator output from the cache database
type CleanupEstimateCacheJob struct {
	cache ExpiringCache
	log   zerolog.Logger
}

// NewCleanupEstimateCacheJob creates a new CleanupEstimateCacheJob
func NewCleanupEstimateCacheJob(cache ExpiringCache) *CleanupEstimateCacheJob {
	return &CleanupEstimateCacheJob{
		cache: cache,
		log:   zerolog.Nop(),
	}
}

// SetLogger sets the logger for the job
func (j *CleanupEstimateCacheJob) SetLogger(log zerolog.Logger) {
	j.log = log
}

// Name returns the job name
func (j *CleanupEstimateCacheJob) Name() string {
	return "cleanup_estimate_cache"
}

// Run executes the cleanup
func (j *CleanupEstimateCacheJob) Run() error {
	removed, err := j.cache.DeleteExpired()
	if err != nil {
		return fmt.Errorf("failed to clean up estimate cache: %w", err)
	}

	j.log.Info().
		Int64("removed", removed).
		Msg("Estimate cache cleanup completed")

	return nil
}
