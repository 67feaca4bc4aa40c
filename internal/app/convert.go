package app

import (
	"github.com/newthinker/tradeflow/internal/backtest"
	"github.com/newthinker/tradeflow/internal/config"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/newthinker/tradeflow/internal/exchange/binance"
	"github.com/newthinker/tradeflow/internal/exchange/okx"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/notifier"
	"github.com/newthinker/tradeflow/internal/notifier/telegram"
	"github.com/newthinker/tradeflow/internal/notifier/webhook"
	"github.com/newthinker/tradeflow/internal/sizing"
	"github.com/newthinker/tradeflow/internal/storage/archive"
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// IndicatorConfig converts the indicator section.
func IndicatorConfig(cfg *config.Config) indicator.Config {
	c := cfg.Indicators
	return indicator.Config{
		Window:          c.Window,
		SMAPeriods:      append([]int(nil), c.SMAPeriods...),
		EMAPeriods:      append([]int(nil), c.EMAPeriods...),
		RSIPeriod:       c.RSIPeriod,
		MACDFast:        c.MACDFast,
		MACDSlow:        c.MACDSlow,
		MACDSignal:      c.MACDSignal,
		BollingerPeriod: c.BollingerPeriod,
		BollingerK:      c.BollingerK,
		ATRPeriod:       c.ATRPeriod,
		VolumePeriod:    c.VolumePeriod,
	}
}

// RiskConfig converts the sizing section.
func RiskConfig(cfg *config.Config) sizing.RiskConfig {
	s := cfg.Sizing
	return sizing.RiskConfig{
		FixedAmount:      decimal.NewFromFloat(s.FixedAmount),
		FixedFraction:    s.FixedFraction,
		RiskFraction:     s.RiskFraction,
		DefaultStopPct:   s.DefaultStopPct,
		KellyCap:         s.KellyCap,
		KellyMinTrades:   s.KellyMinTrades,
		TargetRisk:       s.TargetRisk,
		ATRMultiple:      s.ATRMultiple,
		MaxOpenPositions: s.MaxOpenPositions,
		MaxExposure:      s.MaxExposure,
		MaxTradeRisk:     s.MaxTradeRisk,
		Leverage:         decimal.NewFromFloat(s.Leverage),
		QuantityStep:     decimal.NewFromFloat(s.QuantityStep),
		MinNotional:      decimal.NewFromFloat(s.MinNotional),
	}
}

// ArchiveConfig converts the archive section.
func ArchiveConfig(cfg *config.Config) archive.Config {
	a := cfg.Storage.Archive
	return archive.Config{
		Type: a.Type,
		Path: a.Path,
		S3: archive.S3Config{
			Bucket:    a.S3.Bucket,
			Endpoint:  a.S3.Endpoint,
			Region:    a.S3.Region,
			AccessKey: a.S3.AccessKey,
			SecretKey: a.S3.SecretKey,
			Prefix:    a.S3.Prefix,
		},
	}
}

// NewAdapter creates the configured exchange adapter.
func NewAdapter(cfg config.ExchangeConfig, logger *zap.Logger) (exchange.Adapter, error) {
	switch cfg.Provider {
	case "binance":
		return binance.New(binance.Config{
			APIKey:    cfg.APIKey,
			SecretKey: cfg.SecretKey,
			BaseURL:   cfg.BaseURL,
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		}, logger), nil
	case "okx":
		return okx.New(okx.Config{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			Passphrase: cfg.Passphrase,
			BaseURL:    cfg.BaseURL,
			RateLimit:  cfg.RateLimit,
			Burst:      cfg.Burst,
		}), nil
	case "memory":
		return exchange.NewMemory(), nil
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown exchange provider %q", cfg.Provider)
	}
}

// Notifiers registers every notification channel the notify section
// configures. The registry is empty when none is.
func Notifiers(cfg config.NotifyConfig) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()
	if cfg.Webhook.URL != "" {
		if err := reg.Register(webhook.New(cfg.Webhook.URL, cfg.Webhook.Headers)); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.BotToken != "" {
		if err := reg.Register(telegram.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// BacktestRequest builds a request from the strategy, sizing, indicator
// and backtest sections. Symbols default to the ingested symbols and the
// timeframe to the first ingested timeframe.
func BacktestRequest(cfg *config.Config) backtest.Request {
	var tf string
	if len(cfg.Ingest.Timeframes) > 0 {
		tf = cfg.Ingest.Timeframes[0]
	}
	params := strategy.Params{}
	for k, v := range cfg.Strategy.Params {
		params[k] = v
	}
	return backtest.Request{
		Strategy:       cfg.Strategy.Name,
		Params:         params,
		Symbols:        append([]string(nil), cfg.Ingest.Symbols...),
		Timeframe:      tf,
		InitialBalance: decimal.NewFromFloat(cfg.Backtest.InitialBalance),
		FeeRate:        decimal.NewFromFloat(cfg.Backtest.FeeRate),
		Sizing: backtest.SizingConfig{
			Policy: cfg.Sizing.Policy,
			Risk:   RiskConfig(cfg),
		},
		FillModel:  cfg.Backtest.FillModel,
		Indicators: IndicatorConfig(cfg),
	}
}
