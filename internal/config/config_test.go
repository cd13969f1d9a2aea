package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLoanTermDays, cfg.LoanTermDays)
	assert.Equal(t, uint64(DefaultMinCollateralPctBps), cfg.MinCollateralPctBps)
	assert.Equal(t, uint64(DefaultMaxCollateralPctBps), cfg.MaxCollateralPctBps)
	assert.Equal(t, DefaultMinSessionsForML, cfg.MinSessionsForML)
	assert.Equal(t, 24*time.Hour, cfg.MLUpdateFrequency)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOAN_TERM_DAYS", "14")
	t.Setenv("MIN_COLLATERAL_PCT_BPS", "15000")
	t.Setenv("MAX_COLLATERAL_PCT_BPS", "18000")
	t.Setenv("PREDICTOR_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.LoanTermDays)
	assert.Equal(t, uint64(15000), cfg.MinCollateralPctBps)
	assert.Equal(t, uint64(18000), cfg.MaxCollateralPctBps)
	assert.Equal(t, 5*time.Second, cfg.PredictorTimeout)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero loan term", func(c *Config) { c.LoanTermDays = 0 }},
		{"undercollateralized floor", func(c *Config) { c.MinCollateralPctBps = 9000 }},
		{"max below min", func(c *Config) { c.MaxCollateralPctBps = 12000 }},
		{"unordered penalty tiers", func(c *Config) { c.MinorDays = c.MajorDays }},
		{"zero ml sessions", func(c *Config) { c.MinSessionsForML = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("LOAN_TERM_DAYS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultLoanTermDays, cfg.LoanTermDays)
}
