package main

import (
	"fmt"
	"os"

	"github.com/newthinker/tradeflow/internal/config"
	"github.com/newthinker/tradeflow/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tradeflow",
	Short: "tradeflow - event-driven crypto trading pipeline",
	Long: `tradeflow ingests exchange candles, computes indicators, runs trading
strategies, sizes and executes orders, and backtests strategies offline.
Pipeline stages can run in one process or be split across nodes by role.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

// setup loads and validates the config and builds the logger it asks for.
func setup() (*config.Config, *zap.Logger, error) {
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
	}

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	log, err := logger.NewWithLevel(debug || cfg.Log.Development, level)
	if err != nil {
		return nil, nil, err
	}
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
