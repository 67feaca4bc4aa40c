// Package backtest replays historical candles through the live decision
// chain and reports performance.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/portfolio"
	"github.com/newthinker/tradeflow/internal/sizing"
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Recorder receives run outcomes. metrics.Registry implements it.
type Recorder interface {
	RecordBacktest(status string, seconds float64)
}

// Engine runs backtests against a data source. It holds no per-run
// state, so one Engine may run many requests concurrently.
type Engine struct {
	source   DataSource
	registry *strategy.Registry
	logger   *zap.Logger
	recorder Recorder
}

// NewEngine creates a backtest engine.
func NewEngine(source DataSource, registry *strategy.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source:   source,
		registry: registry,
		logger:   logger,
	}
}

// SetRecorder sets the metrics recorder.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// stream is the per-symbol replay state.
type stream struct {
	series    *indicator.Series
	machine   *strategy.Machine
	pending   []core.Signal
	lastClose decimal.Decimal
	lastTime  time.Time
}

// run is the mutable state of one simulation.
type run struct {
	req        Request
	calc       *indicator.Calculator
	sizer      *sizing.Sizer
	account    *portfolio.Account
	streams    map[string]*stream
	signals    []core.Signal
	rejections []core.SizingDecision
	curve      []core.EquityPoint
	marked     []float64
	gaps       int
}

// Run executes one backtest. The run is single-threaded and
// deterministic: identical requests over identical candles produce
// identical reports.
func (e *Engine) Run(ctx context.Context, req Request) (*core.BacktestReport, error) {
	start := time.Now()
	report, err := e.simulate(ctx, req)
	if e.recorder != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.recorder.RecordBacktest(status, time.Since(start).Seconds())
	}
	return report, err
}

func (e *Engine) simulate(ctx context.Context, req Request) (*core.BacktestReport, error) {
	req, err := e.validate(req)
	if err != nil {
		return nil, err
	}

	variant, err := e.registry.Build(req.Strategy, req.Params)
	if err != nil {
		return nil, core.WrapError(core.ErrSimulationConfig, err)
	}
	opts, err := strategy.OptionsFromParams(req.Params)
	if err != nil {
		return nil, core.WrapError(core.ErrSimulationConfig, err)
	}
	indCfg, err := req.Indicators.Require(append(variant.Indicators(), opts.Indicators()...))
	if err != nil {
		return nil, core.WrapError(core.ErrSimulationConfig, err)
	}
	calc, err := indicator.NewCalculator(indCfg)
	if err != nil {
		return nil, core.WrapError(core.ErrSimulationConfig, err)
	}
	policy, err := sizing.NewPolicy(req.Sizing.Policy)
	if err != nil {
		return nil, core.WrapError(core.ErrSimulationConfig, err)
	}

	candles, err := e.load(ctx, req)
	if err != nil {
		return nil, err
	}

	r := &run{
		req:     req,
		calc:    calc,
		sizer:   sizing.NewSizer(policy, req.Sizing.Risk),
		account: portfolio.NewAccount(req.InitialBalance, req.FeeRate),
		streams: make(map[string]*stream, len(req.Symbols)),
	}
	for _, sym := range req.Symbols {
		series, err := indicator.NewSeries(calc, req.Timeframe)
		if err != nil {
			return nil, core.WrapError(core.ErrSimulationConfig, err)
		}
		r.streams[sym] = &stream{
			series:  series,
			machine: strategy.NewMachine(req.Strategy, variant, opts),
		}
	}

	r.curve = append(r.curve, core.EquityPoint{Time: candles[0].Time, Equity: req.InitialBalance})
	r.marked = append(r.marked, req.InitialBalance.InexactFloat64())

	for i := 0; i < len(candles); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// all symbols of one timestamp, then one equity sample
		j := i
		for j < len(candles) && candles[j].Time.Equal(candles[i].Time) {
			if err := r.step(candles[j]); err != nil {
				return nil, err
			}
			j++
		}
		r.marked = append(r.marked, r.account.Equity().InexactFloat64())
		i = j
	}

	if err := r.closeAll(); err != nil {
		return nil, err
	}
	// end-of-data exits pay fees, so the last sample is the settled balance
	r.marked[len(r.marked)-1] = r.account.Balance().InexactFloat64()

	report := r.report(candles)
	e.logger.Debug("backtest finished",
		zap.String("strategy", req.Strategy),
		zap.Strings("symbols", req.Symbols),
		zap.Int("bars", report.Bars),
		zap.Int("trades", report.Metrics.TradeCount),
		zap.Int("gaps", r.gaps),
		zap.String("final_balance", report.Metrics.FinalBalance.String()),
	)
	return report, nil
}

func (e *Engine) validate(req Request) (Request, error) {
	invalid := func(format string, args ...any) (Request, error) {
		return req, core.Errorf(core.ErrSimulationConfig, format, args...)
	}

	if e.source == nil || e.registry == nil {
		return invalid("engine has no data source or strategy registry")
	}
	if req.Strategy == "" {
		return invalid("strategy is required")
	}
	if len(req.Symbols) == 0 {
		return invalid("at least one symbol is required")
	}
	seen := make(map[string]bool, len(req.Symbols))
	for _, s := range req.Symbols {
		if s == "" || seen[s] {
			return invalid("symbols must be unique and non-empty: %v", req.Symbols)
		}
		seen[s] = true
	}
	if _, err := core.ParseTimeframe(req.Timeframe); err != nil {
		return invalid("timeframe: %v", err)
	}
	if !req.End.IsZero() && !req.End.After(req.Start) {
		return invalid("end %s is not after start %s", req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	if !req.InitialBalance.IsPositive() {
		return invalid("initial balance must be positive, got %s", req.InitialBalance)
	}
	if req.FeeRate.IsNegative() {
		return invalid("fee rate must not be negative")
	}
	switch req.FillModel {
	case "":
		req.FillModel = FillClose
	case FillClose, FillNextOpen:
	default:
		return invalid("unknown fill model %q", req.FillModel)
	}
	return req, nil
}

// load fetches every symbol and merges the candles by time, then symbol.
func (e *Engine) load(ctx context.Context, req Request) ([]core.Candle, error) {
	var all []core.Candle
	for _, sym := range req.Symbols {
		candles, err := e.source.Candles(ctx, sym, req.Timeframe, req.Start, req.End)
		if err != nil {
			return nil, fmt.Errorf("loading %s %s: %w", sym, req.Timeframe, err)
		}
		for _, c := range candles {
			if c.Symbol == sym && c.Timeframe == req.Timeframe && c.IsValid() {
				all = append(all, c)
			}
		}
	}
	if len(all) == 0 {
		return nil, core.Errorf(core.ErrNoData, "no candles for %v %s", req.Symbols, req.Timeframe)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Time.Equal(all[j].Time) {
			return all[i].Time.Before(all[j].Time)
		}
		return all[i].Symbol < all[j].Symbol
	})

	out := all[:1]
	for _, c := range all[1:] {
		if last := out[len(out)-1]; c.Symbol == last.Symbol && c.Time.Equal(last.Time) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// step advances one symbol by one bar.
func (r *run) step(c core.Candle) error {
	s := r.streams[c.Symbol]

	// orders queued on the previous bar fill at this bar's open
	if len(s.pending) > 0 {
		pending := s.pending
		s.pending = nil
		for _, sig := range pending {
			if err := r.execute(sig, c.Open, c.Time); err != nil {
				return err
			}
		}
	}

	s.lastClose = c.Close
	s.lastTime = c.Time

	// a gap bar is buffered but yields no snapshot, as on the live chain
	snap, err := s.series.Push(c)
	switch {
	case err == nil:
		for _, sig := range s.machine.OnBar(c, snap) {
			r.signals = append(r.signals, sig)
			if r.req.FillModel == FillNextOpen {
				s.pending = append(s.pending, sig)
				continue
			}
			if err := r.execute(sig, sig.Price, sig.Time); err != nil {
				return err
			}
		}
	case errors.Is(err, core.ErrDataGap):
		r.gaps++
	case errors.Is(err, core.ErrInsufficientHistory), errors.Is(err, indicator.ErrDuplicate):
	default:
		return err
	}

	r.account.Mark(c.Symbol, c.Close)
	return nil
}

// execute sizes a signal against the account and fills it at price.
// Sizing rejections are recorded, never fatal.
func (r *run) execute(sig core.Signal, price decimal.Decimal, at time.Time) error {
	d, err := r.sizer.Size(sig, r.account.State(sig.Strategy, sig.Symbol))
	if err != nil {
		if errors.Is(err, core.ErrInvalidSizing) {
			r.rejections = append(r.rejections, d)
			return nil
		}
		return err
	}

	switch sig.Action {
	case core.ActionOpen:
		_, err = r.account.Open(d, price, at)
	case core.ActionClose:
		_, err = r.account.Close(sig, price, at)
		if err == nil {
			r.curve = append(r.curve, core.EquityPoint{Time: at, Equity: r.account.Balance()})
		}
	default:
		err = fmt.Errorf("unknown signal action %q", sig.Action)
	}
	return err
}

// closeAll settles every open position at its symbol's last close.
func (r *run) closeAll() error {
	for _, pos := range r.account.Positions() {
		s := r.streams[pos.Symbol]
		sig := core.Signal{
			ID:        core.SignalID(pos.Strategy, pos.Symbol, s.lastTime, core.ActionClose, pos.Side),
			Strategy:  pos.Strategy,
			Symbol:    pos.Symbol,
			Timeframe: r.req.Timeframe,
			Time:      s.lastTime,
			Side:      pos.Side,
			Action:    core.ActionClose,
			Price:     s.lastClose,
			Reason:    EndOfData,
		}
		if _, err := r.account.Close(sig, s.lastClose, s.lastTime); err != nil {
			return err
		}
		r.curve = append(r.curve, core.EquityPoint{Time: s.lastTime, Equity: r.account.Balance()})
	}
	return nil
}

func (r *run) report(candles []core.Candle) *core.BacktestReport {
	start, end := r.req.Start, r.req.End
	if start.IsZero() {
		start = candles[0].Time
	}
	if end.IsZero() {
		end = candles[len(candles)-1].Time
	}

	trades := r.account.Trades()
	return &core.BacktestReport{
		Strategy:  r.req.Strategy,
		Params:    maps.Clone(r.req.Params),
		Symbols:   append([]string(nil), r.req.Symbols...),
		Timeframe: r.req.Timeframe,
		Start:     start,
		End:       end,
		FillModel: r.req.FillModel,
		Sizing:    r.sizer.Policy(),
		Bars:      len(candles),
		Metrics: CalculateMetrics(r.req.InitialBalance, r.account.Balance(), trades, r.curve, r.marked,
			core.PeriodsPerYear(r.req.Timeframe)),
		Trades:      trades,
		EquityCurve: r.curve,
		Signals:     r.signals,
		Rejections:  r.rejections,
	}
}
