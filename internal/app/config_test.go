package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		LedgerDriver:   "Memory ",
		GatewayURL:     "http://vsdc.test/rra",
		TenantTIN:      "999000111",
		TenantBranchID: "00",
		DuplicateMax:   5,
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, LedgerMemory, cfg.LedgerDriver)
	require.Equal(t, "999000111:00", cfg.Tenant().Key())

	cases := map[string]func(*Config){
		"unknown driver":     func(c *Config) { c.LedgerDriver = "mysql" },
		"no duplicate bound": func(c *Config) { c.DuplicateMax = 0 },
		"negative retries":   func(c *Config) { c.ConflictRetries = -1 },
		"missing tin":        func(c *Config) { c.TenantTIN = "" },
		"bad gateway url":    func(c *Config) { c.GatewayURL = "not a url" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TENANT_TIN", "999000111")
	t.Setenv("LEDGER_DRIVER", "sqlite")
	t.Setenv("DUPLICATE_MAX_ATTEMPTS", "3")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, LedgerSQLite, cfg.LedgerDriver)
	require.Equal(t, 3, cfg.DuplicateMax)
	require.Equal(t, "@hourly", cfg.RetrySweepCron)
	require.Equal(t, "00", cfg.TenantBranchID)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsMissingTenant(t *testing.T) {
	t.Setenv("TENANT_TIN", "")
	_, err := LoadConfig()
	require.Error(t, err)
}
