package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("VERSION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTL)
	assert.False(t, cfg.Archive.Enabled)

	opts := cfg.ServiceOptions()
	assert.Equal(t, optimization.ShrinkageNone, opts.Estimator.Shrinkage)
	assert.Equal(t, optimization.DefaultEngineOptions(), opts.Engines)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9100")
	t.Setenv("ESTIMATOR_SHRINKAGE", "ledoit_wolf")
	t.Setenv("BL_TAU", "0.1")
	t.Setenv("BL_SPILLOVER", "true")
	t.Setenv("HRP_LINKAGE", "average")
	t.Setenv("ESTIMATE_CACHE_TTL", "15m")
	t.Setenv("VERSION", "1.4.0")

	cfg, err := Load()
	require.NoError(t, err)

	opts := cfg.ServiceOptions()
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, optimization.ShrinkageLedoitWolf, opts.Estimator.Shrinkage)
	assert.Equal(t, 0.1, opts.Engines.BlackLitterman.Tau)
	assert.True(t, opts.Engines.BlackLitterman.Spillover)
	assert.Equal(t, optimization.LinkageAverage, opts.Engines.HRP.Linkage)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "1.4.0", cfg.Version)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "not-a-port")
	t.Setenv("REQUEST_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"unknown shrinkage", func(c *Config) { c.Optimizer.Shrinkage = "magic" }},
		{"unknown linkage", func(c *Config) { c.Optimizer.HRPLinkage = "ward" }},
		{"negative tau", func(c *Config) { c.Optimizer.Tau = -1 }},
		{"zero tolerance", func(c *Config) { c.Optimizer.RiskParityTolerance = 0 }},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("QUANTFOLIO_DATA_DIR", t.TempDir())
			cfg, err := Load()
			require.NoError(t, err)

			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
