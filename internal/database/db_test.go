package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, table string) bool {
	t.Helper()
	var count int
	err := db.Conn().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestNew_DefaultsToStandardProfile(t *testing.T) {
	db := newTestDB(t, "history", "")
	assert.Equal(t, ProfileStandard, db.Profile())
	assert.Equal(t, "history", db.Name())
	assert.True(t, filepath.IsAbs(db.Path()))
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name    string
		profile DatabaseProfile
		tables  []string
	}{
		{"history", ProfileStandard, []string{"daily_prices", "market_caps"}},
		{"cache", ProfileCache, []string{"estimate_cache"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t, tt.name, tt.profile)
			require.NoError(t, db.Migrate())
			// Schemas are idempotent
			require.NoError(t, db.Migrate())
			for _, table := range tt.tables {
				assert.True(t, tableExists(t, db, table), table)
			}
		})
	}
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db := newTestDB(t, "scratch", ProfileStandard)
	require.NoError(t, db.Migrate())
	assert.False(t, tableExists(t, db, "daily_prices"))
}

func TestWithTransaction(t *testing.T) {
	db := newTestDB(t, "scratch", ProfileStandard)
	_, err := db.Conn().Exec("CREATE TABLE items (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
		return n
	}

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO items (id) VALUES (1)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO items (id) VALUES (2)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count(), "failed transaction must roll back")

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("kaboom")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}

func TestHealthCheckAndStats(t *testing.T) {
	db := newTestDB(t, "history", ProfileStandard)
	require.NoError(t, db.Migrate())

	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, db.WALCheckpoint(""))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestBuildConnectionString(t *testing.T) {
	cache := buildConnectionString("/tmp/x.db", ProfileCache)
	assert.Contains(t, cache, "synchronous(OFF)")
	assert.Contains(t, cache, "journal_mode(WAL)")

	standard := buildConnectionString("/tmp/x.db", ProfileStandard)
	assert.Contains(t, standard, "synchronous(NORMAL)")
}
