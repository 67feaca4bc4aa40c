// Package execution applies sized orders to the account and, when live
// trading is enabled, to the exchange.
package execution

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/newthinker/tradeflow/internal/portfolio"
	"go.uber.org/zap"
)

// Inputs are the topic patterns the executor consumes. Klines only mark
// open positions.
var Inputs = []string{"order:*:*", "kline:*:*"}

// Recorder receives execution metrics. metrics.Registry implements it.
type Recorder interface {
	RecordFill(strategy, action string)
	RecordTrade(strategy string, pnl float64)
	SetEquity(equity float64)
}

// Config controls live order placement.
type Config struct {
	Live bool
}

// Executor applies accepted sizing decisions. Orders share one account,
// so it must run on a single partition.
type Executor struct {
	cfg      Config
	account  *portfolio.Account
	adapter  exchange.Adapter
	pub      bus.Publisher
	logger   *zap.Logger
	recorder Recorder
	newID    func() string
}

// New creates an Executor. adapter is only used when cfg.Live is set.
func New(cfg Config, account *portfolio.Account, adapter exchange.Adapter, pub bus.Publisher, logger *zap.Logger) (*Executor, error) {
	if account == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "execution: account is required")
	}
	if cfg.Live && adapter == nil {
		return nil, core.Errorf(core.ErrConfigMissing, "execution: live trading requires an exchange adapter")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:     cfg,
		account: account,
		adapter: adapter,
		pub:     pub,
		logger:  logger,
		newID:   func() string { return uuid.NewString() },
	}, nil
}

// SetRecorder sets the metrics recorder
func (e *Executor) SetRecorder(r Recorder) {
	e.recorder = r
}

// Process handles one order or kline message.
func (e *Executor) Process(ctx context.Context, msg bus.Message) error {
	switch payload := msg.Payload.(type) {
	case core.SizingDecision:
		return e.execute(ctx, payload)
	case core.Candle:
		e.account.Mark(payload.Symbol, payload.Close)
		e.setEquity()
		return nil
	default:
		return fmt.Errorf("execution: unexpected payload %T on %s", msg.Payload, msg.Topic)
	}
}

func (e *Executor) execute(ctx context.Context, d core.SizingDecision) error {
	sig := d.Signal
	if !d.Accepted {
		return nil
	}
	defer e.account.Release(sig.ID)

	if e.cfg.Live {
		if err := e.place(ctx, d); err != nil {
			return err
		}
	}

	switch sig.Action {
	case core.ActionOpen:
		pos, err := e.account.Open(d, sig.Price, sig.Time)
		if err != nil {
			return fmt.Errorf("opening %s: %w", sig.ID, err)
		}
		e.logger.Info("position opened",
			zap.String("strategy", pos.Strategy),
			zap.String("symbol", pos.Symbol),
			zap.String("side", string(pos.Side)),
			zap.String("quantity", pos.Quantity.String()),
			zap.String("price", pos.EntryPrice.String()),
		)

	case core.ActionClose:
		trade, err := e.account.Close(sig, sig.Price, sig.Time)
		if err != nil {
			return fmt.Errorf("closing %s: %w", sig.ID, err)
		}
		e.logger.Info("position closed",
			zap.String("strategy", trade.Strategy),
			zap.String("symbol", trade.Symbol),
			zap.String("pnl", trade.PnL.String()),
			zap.Duration("holding", trade.Holding()),
		)
		if e.recorder != nil {
			e.recorder.RecordTrade(trade.Strategy, trade.PnL.InexactFloat64())
		}
		if err := e.pub.Publish(core.TradeTopic(trade.Strategy, trade.Symbol), trade); err != nil {
			return fmt.Errorf("publishing trade %s: %w", sig.ID, err)
		}

	default:
		return fmt.Errorf("execution: unknown action %q", sig.Action)
	}

	if e.recorder != nil {
		e.recorder.RecordFill(sig.Strategy, string(sig.Action))
	}
	e.setEquity()
	return nil
}

// place sends the market order for d to the exchange.
func (e *Executor) place(ctx context.Context, d core.SizingDecision) error {
	order := exchange.Order{
		ClientOrderID: e.newID(),
		Symbol:        d.Signal.Symbol,
		Side:          exchange.OrderFor(d.Signal),
		Quantity:      d.Quantity,
	}

	ack, err := e.adapter.PlaceOrder(ctx, order)
	if err != nil {
		e.logger.Error("order placement failed",
			zap.String("signal", d.Signal.ID),
			zap.String("client_order_id", order.ClientOrderID),
			zap.Error(err),
		)
		return fmt.Errorf("placing order for %s: %w", d.Signal.ID, err)
	}

	e.logger.Info("order placed",
		zap.String("exchange", e.adapter.Name()),
		zap.String("signal", d.Signal.ID),
		zap.String("client_order_id", ack.ClientOrderID),
		zap.String("order_id", ack.OrderID),
		zap.String("status", ack.Status),
	)
	return nil
}

func (e *Executor) setEquity() {
	if e.recorder != nil {
		e.recorder.SetEquity(e.account.Equity().InexactFloat64())
	}
}
