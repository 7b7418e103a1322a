// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/quantfolio/internal/modules/optimization"
)

// Config holds application configuration
type Config struct {
	DataDir        string // Base directory for all databases (always absolute)
	LogLevel       string
	Port           int
	DevMode        bool
	RequestTimeout time.Duration // Upper bound for a single optimization request
	Version        string        // Reported by /health

	Optimizer OptimizerConfig
	Cache     CacheConfig
	Archive   ArchiveConfig
}

// OptimizerConfig holds estimator and engine defaults
type OptimizerConfig struct {
	Shrinkage      string
	PeriodsPerYear float64

	RiskAversion float64
	Tau          float64
	Spillover    bool

	RiskParityTolerance     float64
	RiskParityMaxIterations int

	HRPLinkage   string
	HRPBisection string
}

// CacheConfig controls the estimate cache and its cleanup job
type CacheConfig struct {
	TTL             time.Duration
	CleanupSchedule string // cron expression (with seconds)
}

// ArchiveConfig holds S3-compatible result archive settings
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // Custom endpoint for R2/MinIO; empty uses AWS
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("QUANTFOLIO_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	engines := optimization.DefaultEngineOptions()

	cfg := &Config{
		DataDir:        absDataDir,
		Port:           getEnvAsInt("PORT", 8080),
		DevMode:        getEnvAsBool("DEV_MODE", false),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		Version:        getEnv("VERSION", "dev"),
		Optimizer: OptimizerConfig{
			Shrinkage:               getEnv("ESTIMATOR_SHRINKAGE", string(optimization.ShrinkageNone)),
			PeriodsPerYear:          getEnvAsFloat("ESTIMATOR_PERIODS_PER_YEAR", 0),
			RiskAversion:            getEnvAsFloat("BL_RISK_AVERSION", engines.BlackLitterman.RiskAversion),
			Tau:                     getEnvAsFloat("BL_TAU", engines.BlackLitterman.Tau),
			Spillover:               getEnvAsBool("BL_SPILLOVER", false),
			RiskParityTolerance:     getEnvAsFloat("RP_TOLERANCE", engines.RiskParity.Tolerance),
			RiskParityMaxIterations: getEnvAsInt("RP_MAX_ITERATIONS", engines.RiskParity.MaxIterations),
			HRPLinkage:              getEnv("HRP_LINKAGE", string(engines.HRP.Linkage)),
			HRPBisection:            getEnv("HRP_BISECTION", string(engines.HRP.Bisection)),
		},
		Cache: CacheConfig{
			TTL:             getEnvAsDuration("ESTIMATE_CACHE_TTL", 6*time.Hour),
			CleanupSchedule: getEnv("ESTIMATE_CACHE_CLEANUP_SCHEDULE", "0 */30 * * * *"),
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "optimizer-runs"),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	switch optimization.Shrinkage(c.Optimizer.Shrinkage) {
	case optimization.ShrinkageNone, optimization.ShrinkageLedoitWolf:
	default:
		return fmt.Errorf("unknown shrinkage %q", c.Optimizer.Shrinkage)
	}

	engines := c.ServiceOptions().Engines
	if err := engines.BlackLitterman.Validate(); err != nil {
		return fmt.Errorf("black-litterman: %w", err)
	}
	if err := engines.RiskParity.Validate(); err != nil {
		return fmt.Errorf("risk parity: %w", err)
	}
	if err := engines.HRP.Validate(); err != nil {
		return fmt.Errorf("hrp: %w", err)
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("estimate cache TTL must be positive")
	}

	// Archive credentials are only required when archiving is on
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED is set")
	}

	return nil
}

// ServiceOptions converts the optimizer section into service options
func (c *Config) ServiceOptions() optimization.ServiceOptions {
	return optimization.ServiceOptions{
		Estimator: optimization.EstimatorOptions{
			Shrinkage:      optimization.Shrinkage(c.Optimizer.Shrinkage),
			PeriodsPerYear: c.Optimizer.PeriodsPerYear,
		},
		Engines: optimization.EngineOptions{
			BlackLitterman: optimization.BlackLittermanOptions{
				RiskAversion: c.Optimizer.RiskAversion,
				Tau:          c.Optimizer.Tau,
				Spillover:    c.Optimizer.Spillover,
			},
			RiskParity: optimization.RiskParityOptions{
				Tolerance:     c.Optimizer.RiskParityTolerance,
				MaxIterations: c.Optimizer.RiskParityMaxIterations,
			},
			HRP: optimization.HRPOptions{
				Linkage:   optimization.Linkage(c.Optimizer.HRPLinkage),
				Bisection: optimization.Bisection(c.Optimizer.HRPBisection),
			},
		},
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
