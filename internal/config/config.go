package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	Node       NodeConfig      `mapstructure:"node"`
	Bus        BusConfig       `mapstructure:"bus"`
	Exchange   ExchangeConfig  `mapstructure:"exchange"`
	Storage    StorageConfig   `mapstructure:"storage"`
	Ingest     IngestConfig    `mapstructure:"ingest"`
	Indicators IndicatorConfig `mapstructure:"indicators"`
	Strategy   StrategyConfig  `mapstructure:"strategy"`
	Sizing     SizingConfig    `mapstructure:"sizing"`
	Backtest   BacktestConfig  `mapstructure:"backtest"`
	Execution  ExecutionConfig `mapstructure:"execution"`
	Notify     NotifyConfig    `mapstructure:"notify"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Profiling  ProfilingConfig `mapstructure:"profiling"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// NodeConfig selects which pipeline stages run in this process.
type NodeConfig struct {
	Roles []string `mapstructure:"roles"` // ingestor, indicator, strategy, sizer, executor, notifier, all
}

type BusConfig struct {
	ReplayCapacity int `mapstructure:"replay_capacity"`
	MailboxSize    int `mapstructure:"mailbox_size"`
}

type ExchangeConfig struct {
	Provider   string  `mapstructure:"provider"` // "binance", "okx" or "memory"
	APIKey     string  `mapstructure:"api_key"`
	SecretKey  string  `mapstructure:"secret_key"`
	Passphrase string  `mapstructure:"passphrase"` // okx only
	BaseURL    string  `mapstructure:"base_url"`
	RateLimit  float64 `mapstructure:"rate_limit"` // requests per second
	Burst      int     `mapstructure:"burst"`
}

type StorageConfig struct {
	Market  MarketStoreConfig `mapstructure:"market"`
	Archive ArchiveConfig     `mapstructure:"archive"`
}

type MarketStoreConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

type ArchiveConfig struct {
	Type string   `mapstructure:"type"` // "localfs" or "s3"
	Path string   `mapstructure:"path"` // For localfs
	S3   S3Config `mapstructure:"s3"`   // For S3
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type IngestConfig struct {
	Symbols    []string      `mapstructure:"symbols"`
	Timeframes []string      `mapstructure:"timeframes"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type IndicatorConfig struct {
	Window          int     `mapstructure:"window"`
	SMAPeriods      []int   `mapstructure:"sma_periods"`
	EMAPeriods      []int   `mapstructure:"ema_periods"`
	RSIPeriod       int     `mapstructure:"rsi_period"`
	MACDFast        int     `mapstructure:"macd_fast"`
	MACDSlow        int     `mapstructure:"macd_slow"`
	MACDSignal      int     `mapstructure:"macd_signal"`
	BollingerPeriod int     `mapstructure:"bollinger_period"`
	BollingerK      float64 `mapstructure:"bollinger_k"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	VolumePeriod    int     `mapstructure:"volume_period"`
}

type StrategyConfig struct {
	Name   string         `mapstructure:"name"`
	Params map[string]any `mapstructure:"params"`
}

// SizingConfig holds the sizing policy and the global risk limits.
// Fractions are expressed as 0..1.
type SizingConfig struct {
	Policy           string  `mapstructure:"policy"`
	FixedAmount      float64 `mapstructure:"fixed_amount"`
	FixedFraction    float64 `mapstructure:"fixed_fraction"`
	RiskFraction     float64 `mapstructure:"risk_fraction"`
	DefaultStopPct   float64 `mapstructure:"default_stop_pct"`
	KellyCap         float64 `mapstructure:"kelly_cap"`
	KellyMinTrades   int     `mapstructure:"kelly_min_trades"`
	TargetRisk       float64 `mapstructure:"target_risk"`
	ATRMultiple      float64 `mapstructure:"atr_multiple"`
	MaxOpenPositions int     `mapstructure:"max_open_positions"`
	MaxExposure      float64 `mapstructure:"max_exposure"`
	MaxTradeRisk     float64 `mapstructure:"max_trade_risk"`
	Leverage         float64 `mapstructure:"leverage"`
	QuantityStep     float64 `mapstructure:"quantity_step"`
	MinNotional      float64 `mapstructure:"min_notional"`
}

type BacktestConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	FillModel      string  `mapstructure:"fill_model"` // "close" or "next_open"
	FeeRate        float64 `mapstructure:"fee_rate"`
	Workers        int     `mapstructure:"workers"`
}

// ExecutionConfig controls the live executor.
type ExecutionConfig struct {
	Live           bool    `mapstructure:"live"`
	InitialBalance float64 `mapstructure:"initial_balance"`
	FeeRate        float64 `mapstructure:"fee_rate"`
}

// MetricsConfig holds metrics configuration.
// NotifyConfig holds signal and trade notification settings. A channel
// is enabled when its required fields are set.
type NotifyConfig struct {
	MinConfidence float64        `mapstructure:"min_confidence"`
	Cooldown      time.Duration  `mapstructure:"cooldown"`
	Webhook       WebhookConfig  `mapstructure:"webhook"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// ProfilingConfig holds continuous profiling settings.
type ProfilingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServerAddress string `mapstructure:"server_address"`
	AppName       string `mapstructure:"app_name"`
}

// Load reads configuration from file. A .env file in the working
// directory, if present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Node: NodeConfig{
			Roles: []string{"all"},
		},
		Bus: BusConfig{
			ReplayCapacity: 1024,
			MailboxSize:    256,
		},
		Exchange: ExchangeConfig{
			Provider:  "binance",
			RateLimit: 10,
			Burst:     20,
		},
		Storage: StorageConfig{
			Market: MarketStoreConfig{
				Driver: "memory",
			},
			Archive: ArchiveConfig{
				Type: "localfs",
				Path: "data/archive",
			},
		},
		Ingest: IngestConfig{
			Symbols:    []string{"BTCUSDT"},
			Timeframes: []string{"1m"},
			Interval:   30 * time.Second,
			BatchSize:  500,
		},
		Indicators: IndicatorConfig{
			Window:          200,
			SMAPeriods:      []int{5, 20},
			EMAPeriods:      []int{12, 26},
			RSIPeriod:       14,
			MACDFast:        12,
			MACDSlow:        26,
			MACDSignal:      9,
			BollingerPeriod: 20,
			BollingerK:      2,
			ATRPeriod:       14,
			VolumePeriod:    20,
		},
		Strategy: StrategyConfig{
			Name: "ma_crossover",
		},
		Sizing: SizingConfig{
			Policy:           "fixed_percentage",
			FixedAmount:      1000,
			FixedFraction:    0.1,
			RiskFraction:     0.01,
			DefaultStopPct:   0.02,
			KellyCap:         0.25,
			KellyMinTrades:   20,
			TargetRisk:       0.01,
			ATRMultiple:      2,
			MaxOpenPositions: 5,
			MaxExposure:      1,
			MaxTradeRisk:     0.05,
			Leverage:         1,
		},
		Backtest: BacktestConfig{
			InitialBalance: 10000,
			FillModel:      "close",
			Workers:        4,
		},
		Execution: ExecutionConfig{
			InitialBalance: 10000,
		},
		Notify: NotifyConfig{
			Cooldown: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Profiling: ProfilingConfig{
			AppName: "tradeflow",
		},
	}
}

var validRoles = map[string]bool{
	"all": true, "ingestor": true, "indicator": true, "strategy": true, "sizer": true, "executor": true,
	"notifier": true,
}

// HasRole reports whether the node should run the given stage.
func (c *Config) HasRole(role string) bool {
	for _, r := range c.Node.Roles {
		if r == "all" || r == role {
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Node.Roles) == 0 {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("node.roles must not be empty"))
	}
	for _, r := range c.Node.Roles {
		if !validRoles[r] {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown node role %q", r))
		}
	}

	if c.Bus.ReplayCapacity < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("bus.replay_capacity must be positive, got %d", c.Bus.ReplayCapacity))
	}

	for _, tf := range c.Ingest.Timeframes {
		if _, err := core.ParseTimeframe(tf); err != nil {
			return core.WrapError(core.ErrConfigInvalid, err)
		}
	}
	if c.HasRole("ingestor") {
		if len(c.Ingest.Symbols) == 0 || len(c.Ingest.Timeframes) == 0 {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("ingest.symbols and ingest.timeframes required for the ingestor role"))
		}
		if c.Ingest.Interval <= 0 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("ingest.interval must be positive, got %s", c.Ingest.Interval))
		}
	}

	switch c.Storage.Market.Driver {
	case "memory":
	case "postgres":
		if c.Storage.Market.DSN == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.market.dsn required when driver is postgres"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown storage.market.driver %q", c.Storage.Market.Driver))
	}

	switch c.Storage.Archive.Type {
	case "", "localfs":
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.archive.s3.bucket required when type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown storage.archive.type %q", c.Storage.Archive.Type))
	}

	if c.Sizing.MaxExposure < 0 || c.Sizing.MaxTradeRisk < 0 || c.Sizing.KellyCap < 0 || c.Sizing.KellyCap > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("sizing fractions out of range"))
	}

	if c.Notify.MinConfidence < 0 || c.Notify.MinConfidence > 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("notify.min_confidence must be within [0, 1], got %g", c.Notify.MinConfidence))
	}
	if (c.Notify.Telegram.BotToken == "") != (c.Notify.Telegram.ChatID == "") {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("notify.telegram needs both bot_token and chat_id"))
	}

	if c.Execution.Live && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("exchange api_key and secret_key required for live execution"))
	}

	return nil
}
