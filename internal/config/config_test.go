package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromFile(t *testing.T) {
	content := []byte(`
node:
  roles: [ingestor, indicator]

ingest:
  symbols: [BTCUSDT, ETHUSDT]
  timeframes: [1m, 1h]
  interval: 15s

storage:
  market:
    driver: postgres
    dsn: "postgres://localhost:5432/tradeflow"
  archive:
    type: localfs
    path: "/tmp/tradeflow/archive"

strategy:
  name: macd
  params:
    allow_short: true

notify:
  min_confidence: 0.6
  cooldown: 10m
  webhook:
    url: "https://hooks.example.com/tradeflow"
    headers:
      authorization: "Bearer abc"
`)

	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, content, 0644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Ingest.Symbols)
	assert.Equal(t, 15*time.Second, cfg.Ingest.Interval)
	assert.Equal(t, "postgres", cfg.Storage.Market.Driver)
	assert.Equal(t, "macd", cfg.Strategy.Name)
	assert.Equal(t, true, cfg.Strategy.Params["allow_short"])
	assert.Equal(t, 0.6, cfg.Notify.MinConfidence)
	assert.Equal(t, 10*time.Minute, cfg.Notify.Cooldown)
	assert.Equal(t, "https://hooks.example.com/tradeflow", cfg.Notify.Webhook.URL)
	assert.Equal(t, "Bearer abc", cfg.Notify.Webhook.Headers["authorization"])

	// untouched sections keep defaults
	assert.Equal(t, 200, cfg.Indicators.Window)
	assert.Equal(t, 1024, cfg.Bus.ReplayCapacity)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TRADEFLOW_TEST_DSN", "postgres://env/db")
	content := []byte(`
storage:
  market:
    driver: postgres
    dsn: "${TRADEFLOW_TEST_DSN}"
`)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, content, 0644))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.Storage.Market.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "ma_crossover", cfg.Strategy.Name)
	assert.Equal(t, "close", cfg.Backtest.FillModel)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_HasRole(t *testing.T) {
	cfg := Defaults()
	assert.True(t, cfg.HasRole("strategy"))

	cfg.Node.Roles = []string{"ingestor"}
	assert.True(t, cfg.HasRole("ingestor"))
	assert.False(t, cfg.HasRole("strategy"))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr *core.Error
	}{
		{"valid defaults", func(c *Config) {}, nil},
		{"unknown role", func(c *Config) { c.Node.Roles = []string{"router"} }, core.ErrConfigInvalid},
		{"empty roles", func(c *Config) { c.Node.Roles = nil }, core.ErrConfigMissing},
		{"bad timeframe", func(c *Config) { c.Ingest.Timeframes = []string{"3x"} }, core.ErrConfigInvalid},
		{"postgres without dsn", func(c *Config) { c.Storage.Market.Driver = "postgres" }, core.ErrConfigMissing},
		{"unknown driver", func(c *Config) { c.Storage.Market.Driver = "mysql" }, core.ErrConfigInvalid},
		{"s3 without bucket", func(c *Config) { c.Storage.Archive.Type = "s3" }, core.ErrConfigMissing},
		{"kelly cap above one", func(c *Config) { c.Sizing.KellyCap = 1.5 }, core.ErrConfigInvalid},
		{"live without keys", func(c *Config) { c.Execution.Live = true }, core.ErrConfigMissing},
		{"zero interval", func(c *Config) { c.Ingest.Interval = 0 }, core.ErrConfigInvalid},
		{"notifier role", func(c *Config) { c.Node.Roles = []string{"notifier"} }, nil},
		{"confidence above one", func(c *Config) { c.Notify.MinConfidence = 2 }, core.ErrConfigInvalid},
		{"telegram without chat", func(c *Config) { c.Notify.Telegram.BotToken = "t" }, core.ErrConfigMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
