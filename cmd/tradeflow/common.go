package main

import (
	"context"
	"fmt"
	"time"

	"github.com/newthinker/tradeflow/internal/app"
	"github.com/newthinker/tradeflow/internal/backtest"
	"github.com/newthinker/tradeflow/internal/config"
	"github.com/newthinker/tradeflow/internal/metrics"
	"github.com/newthinker/tradeflow/internal/storage/archive"
	"github.com/newthinker/tradeflow/internal/storage/market"
	"github.com/newthinker/tradeflow/internal/strategy/builtin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// historyFlags select the candles a backtest or export reads.
type historyFlags struct {
	symbols   []string
	timeframe string
	from      string
	to        string
}

func (f *historyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.symbols, "symbols", nil, "symbols (default: ingest.symbols)")
	cmd.Flags().StringVar(&f.timeframe, "timeframe", "", "timeframe (default: first of ingest.timeframes)")
	cmd.Flags().StringVar(&f.from, "from", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "end date YYYY-MM-DD, exclusive")
}

// window parses --from and --to. Unset bounds stay zero.
func (f *historyFlags) window() (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if f.from != "" {
		if start, err = time.Parse(dateLayout, f.from); err != nil {
			return start, end, fmt.Errorf("invalid from date format (expected YYYY-MM-DD): %w", err)
		}
	}
	if f.to != "" {
		if end, err = time.Parse(dateLayout, f.to); err != nil {
			return start, end, fmt.Errorf("invalid to date format (expected YYYY-MM-DD): %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return start, end, fmt.Errorf("end date must be after start date")
	}
	return start, end, nil
}

// apply overrides the config-derived request with the flags.
func (f *historyFlags) apply(req *backtest.Request) error {
	if len(f.symbols) > 0 {
		req.Symbols = f.symbols
	}
	if f.timeframe != "" {
		req.Timeframe = f.timeframe
	}
	start, end, err := f.window()
	if err != nil {
		return err
	}
	req.Start, req.End = start, end
	return nil
}

// serveMetrics starts the metrics endpoint when enabled. The returned
// registry is nil when metrics are off.
func serveMetrics(cfg *config.Config, log *zap.Logger) (*metrics.Registry, func()) {
	if !cfg.Metrics.Enabled {
		return nil, func() {}
	}
	reg := metrics.NewRegistry()
	srv := metrics.NewServer(reg, cfg.Metrics.Addr, cfg.Metrics.Path, log.Named("metrics"))
	srv.Start()
	return reg, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}

// newEngine builds a backtest engine reading from the named source:
// "store" (the market store), "archive" or "exchange".
func newEngine(cfg *config.Config, source string, log *zap.Logger) (*backtest.Engine, func(), error) {
	noop := func() {}

	var ds backtest.DataSource
	cleanup := noop
	switch source {
	case "store":
		store, err := market.Open(cfg.Storage.Market.Driver, cfg.Storage.Market.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("opening market store: %w", err)
		}
		ds = backtest.NewStoreSource(store)
		cleanup = func() {
			if err := store.Close(); err != nil {
				log.Warn("closing market store", zap.Error(err))
			}
		}
	case "archive":
		storage, err := archive.New(app.ArchiveConfig(cfg))
		if err != nil {
			return nil, noop, fmt.Errorf("opening archive: %w", err)
		}
		ds = backtest.NewArchiveSource(storage)
	case "exchange":
		adapter, err := app.NewAdapter(cfg.Exchange, log.Named("exchange"))
		if err != nil {
			return nil, noop, err
		}
		ds = backtest.NewAdapterSource(adapter, cfg.Ingest.BatchSize)
	default:
		return nil, noop, fmt.Errorf("unknown data source %q (want store, archive or exchange)", source)
	}

	return backtest.NewEngine(ds, builtin.Registry(), log.Named("backtest")), cleanup, nil
}
