package di

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantfolio/internal/config"
	"github.com/aristath/quantfolio/internal/database"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		Cache: config.CacheConfig{
			TTL:             time.Hour,
			CleanupSchedule: "0 */30 * * * *",
		},
	}
}

func TestInitializeDatabases(t *testing.T) {
	cfg := testConfig(t)

	container, err := InitializeDatabases(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.HistoryDB)
	assert.NotNil(t, container.CacheDB)
	assert.Equal(t, database.ProfileCache, container.CacheDB.Profile())
	assert.FileExists(t, filepath.Join(cfg.DataDir, "history.db"))
	assert.FileExists(t, filepath.Join(cfg.DataDir, "cache.db"))

	// Schemas are applied
	var count int
	require.NoError(t, container.HistoryDB.Conn().QueryRow("SELECT COUNT(*) FROM daily_prices").Scan(&count))
	require.NoError(t, container.CacheDB.Conn().QueryRow("SELECT COUNT(*) FROM estimate_cache").Scan(&count))

	assert.Len(t, container.Databases(), 2)
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, jobs, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.History)
	assert.NotNil(t, container.EstimateCache)
	assert.NotNil(t, container.OptimizerService)
	assert.Nil(t, container.ResultArchive, "archive is disabled by default")

	require.NotNil(t, container.Scheduler)
	assert.Equal(t, []string{
		"check_wal_checkpoints",
		"cleanup_estimate_cache",
		"daily_maintenance",
		"weekly_maintenance",
	}, container.Scheduler.Jobs())

	require.NotNil(t, jobs)
	assert.Equal(t, "cleanup_estimate_cache", jobs.CleanupEstimateCache.Name())
	require.NoError(t, container.Scheduler.Trigger("cleanup_estimate_cache"))
	require.NoError(t, jobs.WeeklyMaintenance.Run())
}

func TestWire_ArchiveEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive = config.ArchiveConfig{
		Enabled:         true,
		Bucket:          "results",
		Prefix:          "optimizer-runs",
		Region:          "auto",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	}

	container, _, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.ResultArchive)
}

func TestWire_InvalidCleanupSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.CleanupSchedule = "whenever"

	_, _, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register jobs")
}

func TestRegisterJobs_NilContainer(t *testing.T) {
	_, err := RegisterJobs(nil, testConfig(t), zerolog.Nop())
	assert.Error(t, err)
}
