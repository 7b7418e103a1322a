// Package testing provides testing utilities and helpers for the quantfolio project.
package testing

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aristath/quantfolio/internal/database"
)

// NewTestDB creates a temp-file SQLite database with the embedded schema for name applied.
// Returns the database instance and a cleanup function that closes the connection.
// The temp directory is removed by the test framework.
//
// Supported schema names:
//   - "history" - applies history_schema.sql
//   - "cache" - applies cache_schema.sql
//   - Unknown names - creates empty database (no schema applied)
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), fmt.Sprintf("test_%s.db", name))

	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	closed := false
	return db, func() {
		if closed {
			return
		}
		closed = true
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
}
