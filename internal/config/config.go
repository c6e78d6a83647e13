// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfolio/riskengine/internal/engine"
)

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for the history database (always absolute)
	LogLevel    string
	Port        int
	DevMode     bool
	CORSOrigins []string

	// Engine tunables. Zero values select the engine's documented defaults.
	MinObservations      int
	PSDClipTolerance     float64
	SuggestedLimitMargin float64
	DustThreshold        float64
	LeverageCap          float64
	MaxParallel          int

	OptimizerMaxIterations int
	OptimizerMaxRuntime    time.Duration
	OptimizerTolerance     float64

	// MaintenanceSchedule is the cron spec for the history database
	// maintenance job (WAL checkpoint plus integrity check).
	MaintenanceSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISKENGINE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		Port:        getEnvAsInt("RISKENGINE_PORT", 8002),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: []string{getEnv("CORS_ORIGIN", "*")},

		MinObservations:      getEnvAsInt("RISK_MIN_OBSERVATIONS", 0),
		PSDClipTolerance:     getEnvAsFloat("RISK_PSD_CLIP_TOLERANCE", 0),
		SuggestedLimitMargin: getEnvAsFloat("RISK_SUGGESTED_LIMIT_MARGIN", 0),
		DustThreshold:        getEnvAsFloat("RISK_DUST_THRESHOLD", 0),
		LeverageCap:          getEnvAsFloat("RISK_LEVERAGE_CAP", 0),
		MaxParallel:          getEnvAsInt("RISK_MAX_PARALLEL", 0),

		OptimizerMaxIterations: getEnvAsInt("OPTIMIZER_MAX_ITERATIONS", 0),
		OptimizerMaxRuntime:    getEnvAsDuration("OPTIMIZER_MAX_RUNTIME", 0),
		OptimizerTolerance:     getEnvAsFloat("OPTIMIZER_TOLERANCE", 0),

		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 3 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// EngineConfig maps the application configuration onto engine tunables.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MinObservations:        c.MinObservations,
		PSDClipTolerance:       c.PSDClipTolerance,
		SuggestedLimitMargin:   c.SuggestedLimitMargin,
		DustThreshold:          c.DustThreshold,
		LeverageCap:            c.LeverageCap,
		MaxParallel:            c.MaxParallel,
		OptimizerMaxIterations: c.OptimizerMaxIterations,
		OptimizerMaxRuntime:    c.OptimizerMaxRuntime,
		OptimizerTolerance:     c.OptimizerTolerance,
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
