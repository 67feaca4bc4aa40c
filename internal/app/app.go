// Package app wires the pipeline stages selected by node.roles onto one
// in-process bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/config"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/newthinker/tradeflow/internal/execution"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/ingest"
	"github.com/newthinker/tradeflow/internal/metrics"
	"github.com/newthinker/tradeflow/internal/node"
	"github.com/newthinker/tradeflow/internal/notifier"
	"github.com/newthinker/tradeflow/internal/portfolio"
	"github.com/newthinker/tradeflow/internal/sizing"
	"github.com/newthinker/tradeflow/internal/storage/market"
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/newthinker/tradeflow/internal/strategy/builtin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pipeline roles.
const (
	RoleIngestor  = "ingestor"
	RoleIndicator = "indicator"
	RoleStrategy  = "strategy"
	RoleSizer     = "sizer"
	RoleExecutor  = "executor"
	RoleNotifier  = "notifier"
)

// App is the main application orchestrator
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	recorder *metrics.Registry

	bus      *bus.Bus
	store    market.Store
	adapter  exchange.Adapter
	account  *portfolio.Account
	ingestor *ingest.Ingestor
	nodes    []*node.Node // in pipeline order

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds every stage the configured roles select. reg may be nil.
func New(cfg *config.Config, logger *zap.Logger, reg *metrics.Registry) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		recorder: reg,
		bus: bus.New(bus.Config{
			ReplayCapacity: cfg.Bus.ReplayCapacity,
			MailboxSize:    cfg.Bus.MailboxSize,
		}, logger.Named("bus")),
		account: portfolio.NewAccount(
			decimal.NewFromFloat(cfg.Execution.InitialBalance),
			decimal.NewFromFloat(cfg.Execution.FeeRate),
		),
	}
	if reg != nil {
		a.bus.SetRecorder(reg)
	}

	store, err := market.Open(cfg.Storage.Market.Driver, cfg.Storage.Market.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening market store: %w", err)
	}
	a.store = store

	if cfg.HasRole(RoleIngestor) || cfg.Execution.Live {
		if a.adapter, err = NewAdapter(cfg.Exchange, logger.Named("exchange")); err != nil {
			return nil, a.fail(err)
		}
	}

	if err := a.build(); err != nil {
		return nil, a.fail(err)
	}
	return a, nil
}

func (a *App) fail(err error) error {
	a.bus.Close()
	if cerr := a.store.Close(); cerr != nil {
		a.logger.Warn("closing market store", zap.Error(cerr))
	}
	return err
}

func (a *App) build() error {
	cfg := a.cfg

	if cfg.HasRole(RoleIngestor) {
		in, err := ingest.New(ingest.Config{
			Symbols:    cfg.Ingest.Symbols,
			Timeframes: cfg.Ingest.Timeframes,
			Interval:   cfg.Ingest.Interval,
			BatchSize:  cfg.Ingest.BatchSize,
		}, a.adapter, a.store, a.bus, a.logger.Named("ingest"))
		if err != nil {
			return err
		}
		if a.recorder != nil {
			in.SetRecorder(a.recorder)
		}
		a.ingestor = in
	}

	var (
		variant strategy.Variant
		opts    strategy.Options
		indCfg  = IndicatorConfig(cfg)
	)
	if cfg.HasRole(RoleStrategy) || cfg.HasRole(RoleIndicator) {
		var err error
		if variant, err = builtin.Registry().Build(cfg.Strategy.Name, cfg.Strategy.Params); err != nil {
			return err
		}
		if opts, err = strategy.OptionsFromParams(cfg.Strategy.Params); err != nil {
			return err
		}
		// the indicator stage must produce everything the strategy reads
		if indCfg, err = indCfg.Require(append(variant.Indicators(), opts.Indicators()...)); err != nil {
			return err
		}
	}

	if cfg.HasRole(RoleIndicator) {
		calc, err := indicator.NewCalculator(indCfg)
		if err != nil {
			return err
		}
		if err := a.addNode(node.Config{
			Name:      RoleIndicator,
			Inputs:    []string{"kline:*:*"},
			Outputs:   []string{"indicator:*:*"},
			Processor: indicator.NewProcessor(calc, a.bus, a.store, a.logger.Named("indicator")),
		}); err != nil {
			return err
		}
	}

	if cfg.HasRole(RoleStrategy) {
		proc := strategy.NewProcessor(cfg.Strategy.Name, variant, opts, a.bus, a.logger.Named("strategy"))
		if a.recorder != nil {
			proc.SetRecorder(a.recorder)
		}
		if err := a.addNode(node.Config{
			Name:      RoleStrategy,
			Inputs:    proc.Inputs(),
			Outputs:   []string{"signal:*:*"},
			Processor: proc,
		}); err != nil {
			return err
		}
	}

	if cfg.HasRole(RoleSizer) {
		policy, err := sizing.NewPolicy(cfg.Sizing.Policy)
		if err != nil {
			return err
		}
		proc := sizing.NewProcessor(sizing.NewSizer(policy, RiskConfig(cfg)), a.account, a.bus, a.store, a.logger.Named("sizing"))
		if a.recorder != nil {
			proc.SetRecorder(a.recorder)
		}
		if err := a.addNode(node.Config{
			Name:      RoleSizer,
			Inputs:    []string{"signal:*:*"},
			Outputs:   []string{"order:*:*"},
			Processor: proc,
			KeyFunc:   node.SinglePartition,
		}); err != nil {
			return err
		}
	}

	if cfg.HasRole(RoleExecutor) {
		exec, err := execution.New(execution.Config{Live: cfg.Execution.Live}, a.account, a.adapter, a.bus, a.logger.Named("execution"))
		if err != nil {
			return err
		}
		if a.recorder != nil {
			exec.SetRecorder(a.recorder)
		}
		if err := a.addNode(node.Config{
			Name:      RoleExecutor,
			Inputs:    execution.Inputs,
			Outputs:   []string{"trade:*:*"},
			Processor: exec,
			KeyFunc:   node.SinglePartition,
		}); err != nil {
			return err
		}
	}

	if cfg.HasRole(RoleNotifier) {
		channels, err := Notifiers(cfg.Notify)
		if err != nil {
			return err
		}
		if channels.Len() == 0 {
			a.logger.Info("no notification channels configured, notifier stage skipped")
		} else {
			router := notifier.NewRouter(notifier.Config{
				MinConfidence: cfg.Notify.MinConfidence,
				Cooldown:      cfg.Notify.Cooldown,
			}, channels, a.logger.Named("notifier"))
			if a.recorder != nil {
				router.SetRecorder(a.recorder)
			}
			if err := a.addNode(node.Config{
				Name:      RoleNotifier,
				Inputs:    notifier.Inputs,
				Processor: router,
				KeyFunc:   node.SinglePartition,
			}); err != nil {
				return err
			}
		}
	}

	if a.ingestor == nil && len(a.nodes) == 0 {
		return fmt.Errorf("no pipeline stage selected by roles %v", cfg.Node.Roles)
	}
	return nil
}

func (a *App) addNode(cfg node.Config) error {
	cfg.MailboxSize = a.cfg.Bus.MailboxSize
	n, err := node.New(cfg, a.bus, a.logger)
	if err != nil {
		return err
	}
	if a.recorder != nil {
		n.SetRecorder(a.recorder)
	}
	a.nodes = append(a.nodes, n)
	return nil
}

// Bus returns the application bus.
func (a *App) Bus() *bus.Bus { return a.bus }

// Store returns the market store.
func (a *App) Store() market.Store { return a.store }

// Adapter returns the exchange adapter, nil when no stage needs one.
func (a *App) Adapter() exchange.Adapter { return a.adapter }

// Account returns the paper account shared by the sizer and executor.
func (a *App) Account() *portfolio.Account { return a.account }

// Ingestor returns the ingestor, nil unless the ingestor role is set.
func (a *App) Ingestor() *ingest.Ingestor { return a.ingestor }

// Stages lists the running stage names in pipeline order.
func (a *App) Stages() []string {
	var names []string
	if a.ingestor != nil {
		names = append(names, RoleIngestor)
	}
	for _, n := range a.nodes {
		names = append(names, n.Name())
	}
	return names
}

// Start starts every node, downstream first so no stage publishes before
// its consumers subscribe, then runs the ingestor until ctx is done or
// Stop is called. Everything is shut down before Start returns.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app already running")
	}
	a.running = true
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	defer a.shutdown()

	for i := len(a.nodes) - 1; i >= 0; i-- {
		if err := a.nodes[i].Start(ctx); err != nil {
			return err
		}
	}

	a.logger.Info("tradeflow starting",
		zap.Strings("stages", a.Stages()),
		zap.String("strategy", a.cfg.Strategy.Name),
		zap.Bool("live", a.cfg.Execution.Live),
	)

	if a.ingestor != nil {
		err := a.ingestor.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// Stop stops a running app.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// shutdown drains the nodes in pipeline order so in-flight messages
// reach their consumers, then closes the bus and the store.
func (a *App) shutdown() {
	a.logger.Info("tradeflow shutting down")
	for _, n := range a.nodes {
		n.Stop()
	}
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing market store", zap.Error(err))
	}

	a.mu.Lock()
	a.running = false
	a.cancel()
	a.mu.Unlock()
}
