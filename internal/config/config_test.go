package config_test

import (
	"OptionSettle/internal/config"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
[postgres]
dsn = "postgres://u:p@db:5432/opt?sslmode=disable"

[engine]
persist_flush_timeout = "25ms"

[factory]
fee_rate_bps = 10
transfer_mode = "strict"

[[assets]]
symbol = "WETH"
address = "0x000000000000000000000000000000000000e770"
decimals = 18

[[assets]]
symbol = "USDC"
address = "0x000000000000000000000000000000000000c0dc"
decimals = 6

[[series]]
collateral = "WETH"
consideration = "USDC"
strike = "2000"
expiration = 2027-01-01T00:00:00Z
admin = "0x00000000000000000000000000000000000a11ce"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optsettle.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func mustLoad(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

// ============================================================================
// Load
// ============================================================================

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg := mustLoad(t, sampleTOML)

	if cfg.Postgres.DSN != "postgres://u:p@db:5432/opt?sslmode=disable" {
		t.Errorf("dsn = %q", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxOpenConns != config.Defaults().Postgres.MaxOpenConns {
		t.Errorf("max_open_conns lost its default: %d", cfg.Postgres.MaxOpenConns)
	}
	if cfg.Engine.PersistFlushTimeout.Duration != 25*time.Millisecond {
		t.Errorf("flush timeout = %s", cfg.Engine.PersistFlushTimeout.Duration)
	}
	if cfg.Factory.FeeRateBps != 10 || cfg.Factory.TransferMode != "strict" || cfg.Factory.ReceiptMode != "auto_redeem" {
		t.Errorf("factory = %+v", cfg.Factory)
	}
	if len(cfg.Assets) != 2 || cfg.Assets[1].Decimals != 6 {
		t.Fatalf("assets = %+v", cfg.Assets)
	}
	if len(cfg.Series) != 1 || !cfg.Series[0].Expiration.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("series = %+v", cfg.Series)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("OPTSETTLE_POSTGRES_DSN", "postgres://env/opt")
	t.Setenv("OPTSETTLE_LOG_LEVEL", "debug")
	t.Setenv("OPTSETTLE_CHAIN_ID", "10")
	t.Setenv("OPTSETTLE_ENGINE_CHECKPOINT_INTERVAL", "1h")
	t.Setenv("OPTSETTLE_ENGINE_MAX_CLOCK_SKEW", "2m")

	cfg := mustLoad(t, sampleTOML)

	if cfg.Postgres.DSN != "postgres://env/opt" {
		t.Errorf("dsn = %q", cfg.Postgres.DSN)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.Factory.ChainID != 10 {
		t.Errorf("chain id = %d", cfg.Factory.ChainID)
	}
	if cfg.Engine.CheckpointInterval.Duration != time.Hour {
		t.Errorf("checkpoint interval = %s", cfg.Engine.CheckpointInterval.Duration)
	}
	if cfg.Engine.MaxClockSkew.Duration != 2*time.Minute {
		t.Errorf("max clock skew = %s", cfg.Engine.MaxClockSkew.Duration)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := config.Load(writeConfig(t, "[factory]\nfee_rate = 10\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("err = %v", err)
	}
}

// ============================================================================
// Validate
// ============================================================================

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }, "unknown level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "unknown format"},
		{"fee rate", func(c *config.Config) { c.Factory.FeeRateBps = 20_000 }, "factory:"},
		{"transfer mode", func(c *config.Config) { c.Factory.TransferMode = "lenient" }, "factory:"},
		{"factory address", func(c *config.Config) { c.Factory.Address = "fac" }, "not a hex address"},
		{"asset decimals", func(c *config.Config) { c.Assets[0].Decimals = 40 }, "assets[0]"},
		{"duplicate asset", func(c *config.Config) { c.Assets[1].Symbol = "WETH" }, "duplicate symbol"},
		{"series asset", func(c *config.Config) { c.Series[0].Consideration = "DAI" }, "must name configured assets"},
		{"series strike", func(c *config.Config) { c.Series[0].Strike = "-3" }, "series[0]"},
		{"keeper caller", func(c *config.Config) { c.Keeper.Enabled = true }, "keeper: caller"},
		{"keeper schedule", func(c *config.Config) {
			c.Keeper.Enabled = true
			c.Keeper.Caller = "0x0000000000000000000000000000000000000b0b"
			c.Keeper.Schedule = "whenever"
		}, "keeper: schedule"},
		{"keeper batch", func(c *config.Config) {
			c.Keeper.Enabled = true
			c.Keeper.Caller = "0x0000000000000000000000000000000000000b0b"
			c.Keeper.BatchSize = c.Factory.MaxSweepBatch + 1
		}, "exceeds factory.max_sweep_batch"},
		{"clock skew", func(c *config.Config) { c.Engine.MaxClockSkew.Duration = 0 }, "engine: max_clock_skew"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := mustLoad(t, sampleTOML)
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestStrikeRatio_PutIsInverted(t *testing.T) {
	call := config.SeriesConfig{Strike: "2000"}
	put := config.SeriesConfig{Strike: "2000", IsPut: true}

	c, err := call.StrikeRatio()
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	p, err := put.StrikeRatio()
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if c.Cmp(p) <= 0 {
		t.Errorf("call strike %s should exceed inverted put strike %s", c, p)
	}
}

func TestAssetAddress(t *testing.T) {
	cfg := mustLoad(t, sampleTOML)
	addr, ok := cfg.AssetAddress("USDC")
	if !ok || !strings.EqualFold(addr.Hex(), "0x000000000000000000000000000000000000c0dc") {
		t.Errorf("USDC = %s %v", addr.Hex(), ok)
	}
	if _, ok := cfg.AssetAddress("DAI"); ok {
		t.Error("DAI should not resolve")
	}
}
