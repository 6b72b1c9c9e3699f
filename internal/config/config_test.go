package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"metalwatch/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	require.Equal(t, time.Hour, cfg.Validation.MaxAge)
	require.True(t, cfg.Validation.MaxDiffRatio.Equal(decimal.RequireFromString("0.01")))
	require.Equal(t, 5*time.Second, cfg.Providers.Sina.Timeout)
	require.Equal(t, time.Second, cfg.Providers.Yahoo.RetryBackoff)

	markets, err := cfg.MarketList()
	require.NoError(t, err)
	require.Equal(t, []model.Market{model.MarketLondon, model.MarketShanghai, model.MarketComex}, markets)

	require.Len(t, cfg.ETF.Funds, 3)
	require.True(t, cfg.ETF.Funds[0].Holdings.Valid)
	require.False(t, cfg.ETF.Funds[2].Holdings.Decimal.IsZero())
	require.Len(t, cfg.Analytics.Benchmarks, 8)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
validation:
  max_age: 30m
  max_diff_ratio: 0.02
etf:
  funds:
    - symbol: SIVR
routes:
  - market: Comex
    metal: gold
    primary_provider: yahoo
    primary_symbol: GC=F
inventory:
  sources:
    - name: CME
      url: https://example.test/silver.csv
      sheet: Silver
`))
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, cfg.Validation.MaxAge)
	require.True(t, cfg.Validation.MaxDiffRatio.Equal(decimal.RequireFromString("0.02")))
	require.Len(t, cfg.ETF.Funds, 1)
	require.False(t, cfg.ETF.Funds[0].Holdings.Valid)
	require.Len(t, cfg.Routes, 1)
	require.Equal(t, "Silver", cfg.Inventory.Sources[0].Sheet)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "markets: [Tokyo]\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "audit:\n  backend: s3\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "routes:\n  - market: London\n    metal: gold\n    primary_provider: sina\n    primary_symbol: hf_XAU\n    backup_provider: yahoo\n"))
	require.Error(t, err)
}

func TestValidateLockNeedsSpareConnection(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  max_open_conns: 1\n"))
	require.ErrorContains(t, err, "max_open_conns")

	cfg, err := Load(writeConfig(t, "database:\n  max_open_conns: 1\nscheduler:\n  advisory_lock_key: 0\n"))
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Database.MaxOpenConns)
}
