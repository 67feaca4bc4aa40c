package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/newthinker/tradeflow/internal/app"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/storage/archive"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backtestHistory   historyFlags
	backtestSource    string
	backtestStrategy  string
	backtestFillModel string
	backtestSave      string
	backtestJSON      bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a strategy against historical candles",
	Long: `Replay historical candles through the configured strategy and sizing
policy and print performance statistics. Strategy parameters, sizing and
indicators come from the config file; flags override the data window.`,
	RunE: runBacktest,
}

func init() {
	backtestHistory.register(backtestCmd)
	backtestCmd.Flags().StringVar(&backtestSource, "source", "store", "candle source: store, archive or exchange")
	backtestCmd.Flags().StringVar(&backtestStrategy, "strategy", "", "strategy name (default: strategy.name)")
	backtestCmd.Flags().StringVar(&backtestFillModel, "fill-model", "", "close or next_open (default: backtest.fill_model)")
	backtestCmd.Flags().StringVar(&backtestSave, "save", "", "save the report to the archive under this name")
	backtestCmd.Flags().BoolVar(&backtestJSON, "json", false, "print the full report as JSON")

	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	req := app.BacktestRequest(cfg)
	if err := backtestHistory.apply(&req); err != nil {
		return err
	}
	if backtestStrategy != "" {
		req.Strategy = backtestStrategy
		req.Params = nil
	}
	if backtestFillModel != "" {
		req.FillModel = backtestFillModel
	}

	engine, cleanup, err := newEngine(cfg, backtestSource, log)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, stopMetrics := serveMetrics(cfg, log)
	defer stopMetrics()
	if reg != nil {
		engine.SetRecorder(reg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := engine.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	if backtestSave != "" {
		storage, err := archive.New(app.ArchiveConfig(cfg))
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		path, err := archive.WriteReport(ctx, storage, backtestSave, report)
		if err != nil {
			return fmt.Errorf("saving report: %w", err)
		}
		log.Info("report saved", zap.String("path", path))
	}

	if backtestJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(report)
	return nil
}

func printReport(r *core.BacktestReport) {
	m := r.Metrics

	fmt.Println("=== tradeflow backtest ===")
	fmt.Printf("Strategy:   %s\n", r.Strategy)
	fmt.Printf("Symbols:    %v (%s)\n", r.Symbols, r.Timeframe)
	fmt.Printf("Period:     %s to %s\n", r.Start.Format(time.DateTime), r.End.Format(time.DateTime))
	fmt.Printf("Fill model: %s, sizing: %s, bars: %d\n", r.FillModel, r.Sizing, r.Bars)
	fmt.Println()

	pf := fmt.Sprintf("%.2f", m.ProfitFactor)
	if m.ProfitFactorInfinite {
		pf = "inf"
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Initial balance\t%s\n", m.InitialBalance.StringFixed(2))
	fmt.Fprintf(w, "Final balance\t%s\n", m.FinalBalance.StringFixed(2))
	fmt.Fprintf(w, "Total return\t%.2f%%\n", m.TotalReturn*100)
	fmt.Fprintf(w, "Sharpe ratio\t%.3f\n", m.SharpeRatio)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", m.MaxDrawdown*100)
	fmt.Fprintf(w, "Trades\t%d (%d wins, %d losses)\n", m.TradeCount, m.Wins, m.Losses)
	fmt.Fprintf(w, "Win rate\t%.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Profit factor\t%s\n", pf)
	fmt.Fprintf(w, "Avg holding\t%s\n", m.AvgHoldingTime)
	fmt.Fprintf(w, "Signals\t%d (%d rejected)\n", len(r.Signals), len(r.Rejections))
	w.Flush()

	if len(r.Trades) == 0 {
		return
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tPNL\tEXIT REASON")
	for _, t := range r.Trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Symbol, t.Side, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL.StringFixed(2), t.ExitSignal.Reason)
	}
	w.Flush()
}
