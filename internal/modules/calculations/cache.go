// Package calculations caches expensive estimator output between optimizer runs.
package calculations

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

// DefaultTTL is how long cached estimates stay valid when no TTL is configured
const DefaultTTL = 6 * time.Hour

// Cache stores msgpack-encoded estimates in the cache database with expiration.
// It implements optimization.EstimateCache.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewCache creates a new estimate cache
func NewCache(db *sql.DB, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		db:  db,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "estimate_cache").Logger(),
	}
}

// GetEstimates returns cached estimates, or nil, nil when the key is missing or expired
func (c *Cache) GetEstimates(key string) (*optimization.Estimates, error) {
	var payload []byte
	var expiresAt int64
	err := c.db.QueryRow(
		"SELECT payload, expires_at FROM estimate_cache WHERE cache_key = ?", key,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached estimates: %w", err)
	}

	if c.now().Unix() >= expiresAt {
		return nil, nil
	}

	var est optimization.Estimates
	if err := msgpack.Unmarshal(payload, &est); err != nil {
		return nil, fmt.Errorf("failed to decode cached estimates: %w", err)
	}
	return &est, nil
}

// SetEstimates stores estimates under key for the configured TTL
func (c *Cache) SetEstimates(key string, est optimization.Estimates) error {
	payload, err := msgpack.Marshal(est)
	if err != nil {
		return fmt.Errorf("failed to encode estimates: %w", err)
	}

	now := c.now()
	_, err = c.db.Exec(`
		INSERT INTO estimate_cache (cache_key, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, payload, now.Unix(), now.Add(c.ttl).Unix())
	if err != nil {
		return fmt.Errorf("failed to store estimates: %w", err)
	}
	return nil
}

// DeleteExpired removes expired entries and returns how many were removed
func (c *Cache) DeleteExpired() (int64, error) {
	result, err := c.db.Exec("DELETE FROM estimate_cache WHERE expires_at <= ?", c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired estimates: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted estimates: %w", err)
	}
	return removed, nil
}

// Stats describes the current cache contents
type Stats struct {
	Entries int64 `json:"entries"`
	Expired int64 `json:"expired"`
}

// GetStats counts live and expired entries
func (c *Cache) GetStats() (Stats, error) {
	var stats Stats
	err := c.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM estimate_cache
	`, c.now().Unix()).Scan(&stats.Entries, &stats.Expired)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return stats, nil
}
