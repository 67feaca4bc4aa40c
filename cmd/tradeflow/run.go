package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/newthinker/tradeflow/internal/app"
	"github.com/newthinker/tradeflow/internal/metrics"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline stages selected by node.roles",
	RunE:  runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	reg, stopMetrics := serveMetrics(cfg, log)
	defer stopMetrics()

	if cfg.Profiling.Enabled {
		profiler, err := metrics.StartProfiler(metrics.ProfilerConfig{
			AppName:       cfg.Profiling.AppName,
			ServerAddress: cfg.Profiling.ServerAddress,
			Tags:          map[string]string{"version": Version},
		}, log)
		if err != nil {
			return fmt.Errorf("starting profiler: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	a, err := app.New(cfg, log, reg)
	if err != nil {
		return fmt.Errorf("creating app: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Start(ctx)
}
