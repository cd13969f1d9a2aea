// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing disabled if not set)

	// Chronotype classifier
	PredictorURL         string // Base URL of the ML classifier (optional, neutral fallback if not set)
	PredictorTimeout     time.Duration
	PredictorMaxAttempts int

	// Loan terms
	LoanTermDays        int
	MinCollateralPctBps uint64
	MaxCollateralPctBps uint64

	// Behavioral profile thresholds
	MinSessionsForML  int
	MLUpdateFrequency time.Duration

	// Penalty schedule boundaries (days overdue, ascending)
	GraceDays     int // no penalty through this many days overdue
	MinorDays     int // 5% tier upper bound
	MajorDays     int // 15% tier upper bound; beyond this, forfeiture

	// Background sweeps
	ForfeitSweepInterval time.Duration

	// Security
	AdminSecret string
}

// Defaults for the lending protocol.
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLoanTermDays        = 30
	DefaultMinCollateralPctBps = 13_500
	DefaultMaxCollateralPctBps = 20_000
	DefaultMinSessionsForML    = 5
	DefaultGraceDays           = 7
	DefaultMinorDays           = 10
	DefaultMajorDays           = 14
)

// Load reads configuration from environment variables. It loads a .env
// file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PredictorURL:         os.Getenv("PREDICTOR_URL"),
		PredictorTimeout:     getEnvDuration("PREDICTOR_TIMEOUT", 2*time.Second),
		PredictorMaxAttempts: getEnvInt("PREDICTOR_MAX_ATTEMPTS", 3),
		LoanTermDays:         getEnvInt("LOAN_TERM_DAYS", DefaultLoanTermDays),
		MinCollateralPctBps:  getEnvUint64("MIN_COLLATERAL_PCT_BPS", DefaultMinCollateralPctBps),
		MaxCollateralPctBps:  getEnvUint64("MAX_COLLATERAL_PCT_BPS", DefaultMaxCollateralPctBps),
		MinSessionsForML:     getEnvInt("MIN_SESSIONS_FOR_ML", DefaultMinSessionsForML),
		MLUpdateFrequency:    getEnvDuration("ML_UPDATE_FREQUENCY", 24*time.Hour),
		GraceDays:            getEnvInt("PENALTY_GRACE_DAYS", DefaultGraceDays),
		MinorDays:            getEnvInt("PENALTY_MINOR_DAYS", DefaultMinorDays),
		MajorDays:            getEnvInt("PENALTY_MAJOR_DAYS", DefaultMajorDays),
		ForfeitSweepInterval: getEnvDuration("FORFEIT_SWEEP_INTERVAL", time.Hour),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.LoanTermDays <= 0 {
		return fmt.Errorf("LOAN_TERM_DAYS must be positive")
	}
	if c.MinCollateralPctBps < 10_000 {
		return fmt.Errorf("MIN_COLLATERAL_PCT_BPS must be at least 10000 (100%%)")
	}
	if c.MaxCollateralPctBps < c.MinCollateralPctBps {
		return fmt.Errorf("MAX_COLLATERAL_PCT_BPS must not be below MIN_COLLATERAL_PCT_BPS")
	}
	if !(c.GraceDays < c.MinorDays && c.MinorDays < c.MajorDays) {
		return fmt.Errorf("penalty tier boundaries must be strictly ascending")
	}
	if c.MinSessionsForML <= 0 {
		return fmt.Errorf("MIN_SESSIONS_FOR_ML must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseUint(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
