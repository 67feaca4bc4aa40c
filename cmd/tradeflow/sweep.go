package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/newthinker/tradeflow/internal/app"
	"github.com/newthinker/tradeflow/internal/backtest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	sweepHistory   historyFlags
	sweepSource    string
	sweepParams    []string
	sweepObjective string
	sweepWorkers   int
	sweepTop       int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Backtest a grid of strategy parameters in parallel",
	Long: `Run one backtest per combination of the --param values and rank the
results by the objective. Failed combinations score -Inf.

  tradeflow sweep --param fast_period=5,10 --param slow_period=20,30,50`,
	RunE: runSweep,
}

func init() {
	sweepHistory.register(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepSource, "source", "store", "candle source: store, archive or exchange")
	sweepCmd.Flags().StringArrayVar(&sweepParams, "param", nil, "parameter values as key=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&sweepObjective, "objective", "sharpe", "ranking objective: sharpe or return")
	sweepCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "parallel backtests (default: backtest.workers)")
	sweepCmd.Flags().IntVar(&sweepTop, "top", 10, "number of results to print")

	sweepCmd.MarkFlagRequired("param")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	grid, err := parseGrid(sweepParams)
	if err != nil {
		return err
	}

	var objective backtest.Objective
	switch sweepObjective {
	case "sharpe":
		objective = backtest.SharpeObjective
	case "return":
		objective = backtest.ReturnObjective
	default:
		return fmt.Errorf("unknown objective %q (want sharpe or return)", sweepObjective)
	}

	base := app.BacktestRequest(cfg)
	if err := sweepHistory.apply(&base); err != nil {
		return err
	}
	reqs := backtest.Sweep(base, grid)

	workers := sweepWorkers
	if workers <= 0 {
		workers = cfg.Backtest.Workers
	}

	engine, cleanup, err := newEngine(cfg, sweepSource, log)
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

	log.Info("sweep starting",
		zap.String("strategy", base.Strategy),
		zap.Int("combinations", len(reqs)),
		zap.Int("workers", workers),
	)
	trials, err := engine.RunBatch(ctx, reqs, workers, objective)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	best, ok := backtest.Best(trials)
	if !ok {
		return fmt.Errorf("all %d combinations failed", len(trials))
	}

	ranked := make([]backtest.Trial, len(trials))
	copy(ranked, trials)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if sweepTop > 0 && len(ranked) > sweepTop {
		ranked = ranked[:sweepTop]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tRETURN\tSHARPE\tMAX DD\tTRADES\tPARAMS")
	for _, t := range ranked {
		if t.Err != nil {
			fmt.Fprintf(w, "%.4f\t-\t-\t-\t-\t%v (%v)\n", t.Score, t.Request.Params, t.Err)
			continue
		}
		m := t.Report.Metrics
		fmt.Fprintf(w, "%.4f\t%.2f%%\t%.3f\t%.2f%%\t%d\t%v\n",
			t.Score, m.TotalReturn*100, m.SharpeRatio, m.MaxDrawdown*100, m.TradeCount, t.Request.Params)
	}
	w.Flush()

	fmt.Printf("\nBest: %v (score %.4f)\n", best.Request.Params, best.Score)
	return nil
}

// parseGrid turns key=v1,v2 flags into a sweep grid. Values parse as
// int, then float, then bool, and fall back to strings.
func parseGrid(flags []string) (map[string][]any, error) {
	grid := make(map[string][]any, len(flags))
	for _, f := range flags {
		key, list, ok := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" || list == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=v1,v2,...)", f)
		}
		for _, raw := range strings.Split(list, ",") {
			grid[key] = append(grid[key], parseValue(strings.TrimSpace(raw)))
		}
	}
	return grid, nil
}

func parseValue(s string) any {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
