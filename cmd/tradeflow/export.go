package main

import (
	"context"
	"fmt"

	"github.com/newthinker/tradeflow/internal/app"
	"github.com/newthinker/tradeflow/internal/storage/archive"
	"github.com/newthinker/tradeflow/internal/storage/market"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var exportHistory historyFlags

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Copy candles from the market store into the Parquet archive",
	RunE:  runExport,
}

func init() {
	exportHistory.register(exportCmd)
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	start, end, err := exportHistory.window()
	if err != nil {
		return err
	}
	symbols := exportHistory.symbols
	if len(symbols) == 0 {
		symbols = cfg.Ingest.Symbols
	}
	timeframes := cfg.Ingest.Timeframes
	if exportHistory.timeframe != "" {
		timeframes = []string{exportHistory.timeframe}
	}

	store, err := market.Open(cfg.Storage.Market.Driver, cfg.Storage.Market.DSN)
	if err != nil {
		return fmt.Errorf("opening market store: %w", err)
	}
	defer store.Close()

	storage, err := archive.New(app.ArchiveConfig(cfg))
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	ctx := context.Background()
	total := 0
	for _, sym := range symbols {
		for _, tf := range timeframes {
			candles, err := store.QueryCandles(ctx, sym, tf, start, end)
			if err != nil {
				return fmt.Errorf("querying %s %s: %w", sym, tf, err)
			}
			if len(candles) == 0 {
				log.Warn("no candles to export", zap.String("symbol", sym), zap.String("timeframe", tf))
				continue
			}
			files, err := archive.WriteCandles(ctx, storage, candles)
			if err != nil {
				return fmt.Errorf("archiving %s %s: %w", sym, tf, err)
			}
			log.Info("candles exported",
				zap.String("symbol", sym),
				zap.String("timeframe", tf),
				zap.Int("candles", len(candles)),
				zap.Int("files", files),
			)
			total += len(candles)
		}
	}

	fmt.Printf("Exported %d candles\n", total)
	return nil
}
