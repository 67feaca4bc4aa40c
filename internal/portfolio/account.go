// Package portfolio tracks balance, open positions and closed trades.
package portfolio

import (
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/sizing"
	"github.com/shopspring/decimal"
)

// Position is an open position of one strategy on one symbol.
type Position struct {
	Strategy    string
	Symbol      string
	Side        core.Side
	Quantity    decimal.Decimal
	EntryPrice  decimal.Decimal
	EntryFee    decimal.Decimal
	EntryTime   time.Time
	EntrySignal core.Signal
	MarkPrice   decimal.Decimal
	StopLoss    *decimal.Decimal
	TakeProfit  *decimal.Decimal
}

// Notional returns the position value at the entry price.
func (p Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.EntryPrice)
}

// UnrealizedPnL returns the gross PnL at the last mark price.
func (p Position) UnrealizedPnL() decimal.Decimal {
	dir := decimal.NewFromInt(p.Side.Direction())
	return p.MarkPrice.Sub(p.EntryPrice).Mul(p.Quantity).Mul(dir)
}

// Account is a concurrency-safe cash account. The balance only moves when a
// position closes, by the trade's net PnL.
type Account struct {
	initial   decimal.Decimal
	balance   decimal.Decimal
	feeRate   decimal.Decimal
	positions map[string]*Position // strategy:symbol -> position
	trades    []core.Trade
	stats     map[string]*sizing.TradeStats
	reserved  []core.SizingDecision // sized, not yet applied; in order
	mu        sync.RWMutex
}

// NewAccount creates an Account holding initial cash. feeRate is charged
// on notional at both entry and exit.
func NewAccount(initial, feeRate decimal.Decimal) *Account {
	return &Account{
		initial:   initial,
		balance:   initial,
		feeRate:   feeRate,
		positions: make(map[string]*Position),
		stats:     make(map[string]*sizing.TradeStats),
	}
}

func positionKey(strategy, symbol string) string {
	return strategy + ":" + symbol
}

// Open records a new position from an accepted sizing decision filled at
// price.
func (a *Account) Open(d core.SizingDecision, price decimal.Decimal, t time.Time) (Position, error) {
	sig := d.Signal
	if !d.Accepted || !d.Quantity.IsPositive() {
		return Position{}, core.Errorf(core.ErrInvalidSizing, "cannot open %s with quantity %s", sig.Symbol, d.Quantity)
	}
	if !price.IsPositive() {
		return Position{}, core.Errorf(core.ErrInvalidSizing, "fill price must be positive, got %s", price)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.release(sig.ID)

	key := positionKey(sig.Strategy, sig.Symbol)
	if _, exists := a.positions[key]; exists {
		return Position{}, core.Errorf(core.ErrPositionExists, "%s", key)
	}

	pos := &Position{
		Strategy:    sig.Strategy,
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Quantity:    d.Quantity,
		EntryPrice:  price,
		EntryFee:    d.Quantity.Mul(price).Mul(a.feeRate),
		EntryTime:   t,
		EntrySignal: sig,
		MarkPrice:   price,
		StopLoss:    d.StopLoss,
		TakeProfit:  d.TakeProfit,
	}
	a.positions[key] = pos
	return *pos, nil
}

// Close closes the position addressed by sig at price and returns the
// resulting trade.
func (a *Account) Close(sig core.Signal, price decimal.Decimal, t time.Time) (core.Trade, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.release(sig.ID)

	key := positionKey(sig.Strategy, sig.Symbol)
	pos, exists := a.positions[key]
	if !exists {
		return core.Trade{}, core.Errorf(core.ErrPositionNotFound, "%s", key)
	}
	delete(a.positions, key)

	dir := decimal.NewFromInt(pos.Side.Direction())
	exitFee := pos.Quantity.Mul(price).Mul(a.feeRate)
	fees := pos.EntryFee.Add(exitFee)
	gross := price.Sub(pos.EntryPrice).Mul(pos.Quantity).Mul(dir)
	pnl := gross.Sub(fees)

	var pct float64
	if notional := pos.Notional(); notional.IsPositive() {
		pct = pnl.Div(notional).InexactFloat64()
	}

	trade := core.Trade{
		Strategy:    pos.Strategy,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntrySignal: pos.EntrySignal,
		ExitSignal:  sig,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   price,
		Fees:        fees,
		PnL:         pnl,
		PnLPct:      pct,
		EntryTime:   pos.EntryTime,
		ExitTime:    t,
	}

	a.balance = a.balance.Add(pnl)
	a.trades = append(a.trades, trade)

	st, ok := a.stats[key]
	if !ok {
		st = &sizing.TradeStats{}
		a.stats[key] = st
	}
	if trade.IsWin() {
		st.Wins++
		st.WinSum = st.WinSum.Add(pnl)
	} else {
		st.Losses++
		st.LossSum = st.LossSum.Add(pnl.Abs())
	}

	return trade, nil
}

// Mark updates the mark price of every open position on symbol.
func (a *Account) Mark(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, pos := range a.positions {
		if pos.Symbol == symbol {
			pos.MarkPrice = price
		}
	}
}

// Balance returns the realized cash balance.
func (a *Account) Balance() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// Initial returns the starting balance.
func (a *Account) Initial() decimal.Decimal {
	return a.initial
}

// Equity returns the balance plus unrealized PnL at the mark prices.
func (a *Account) Equity() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()

	equity := a.balance
	for _, pos := range a.positions {
		equity = equity.Add(pos.UnrealizedPnL())
	}
	return equity
}

// Exposure returns the aggregate open notional at entry prices.
func (a *Account) Exposure() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.exposure()
}

func (a *Account) exposure() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range a.positions {
		total = total.Add(pos.Notional())
	}
	return total
}

// State implements sizing.AccountProvider. Reserved orders are applied
// on top of the open positions, so a CLOSE followed by an OPEN on the same
// bar sizes the OPEN against a flat position.
func (a *Account) State(strategy, symbol string) sizing.AccountState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	open := a.projected()
	state := sizing.AccountState{
		Balance:       a.balance,
		OpenPositions: len(open),
		Exposure:      decimal.Zero,
	}
	for _, pos := range open {
		state.Exposure = state.Exposure.Add(pos.Quantity.Mul(pos.EntryPrice))
	}

	key := positionKey(strategy, symbol)
	if pos, ok := open[key]; ok {
		state.Position = &pos
	}
	if st, ok := a.stats[key]; ok {
		state.Stats = *st
	}
	return state
}

// projected returns the open positions as they will be once every
// reserved order is applied.
func (a *Account) projected() map[string]sizing.OpenPosition {
	out := make(map[string]sizing.OpenPosition, len(a.positions)+len(a.reserved))
	for key, pos := range a.positions {
		out[key] = sizing.OpenPosition{
			Side:       pos.Side,
			Quantity:   pos.Quantity,
			EntryPrice: pos.EntryPrice,
		}
	}
	for _, d := range a.reserved {
		key := positionKey(d.Signal.Strategy, d.Signal.Symbol)
		switch d.Signal.Action {
		case core.ActionOpen:
			out[key] = sizing.OpenPosition{
				Side:       d.Signal.Side,
				Quantity:   d.Quantity,
				EntryPrice: d.Signal.Price,
			}
		case core.ActionClose:
			delete(out, key)
		}
	}
	return out
}

// Reserve implements sizing.Reserver. It records an accepted decision
// that has not reached Open or Close yet.
func (a *Account) Reserve(d core.SizingDecision) {
	if !d.Accepted {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserved = append(a.reserved, d)
}

// Release implements sizing.Reserver. Open and Close release their
// signal themselves; Release covers orders that never get that far.
func (a *Account) Release(signalID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(signalID)
}

func (a *Account) release(signalID string) {
	for i, d := range a.reserved {
		if d.Signal.ID == signalID {
			a.reserved = append(a.reserved[:i], a.reserved[i+1:]...)
			return
		}
	}
}

// Reserved returns the number of orders sized but not yet applied.
func (a *Account) Reserved() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.reserved)
}

// Position returns a copy of the open position for strategy and symbol.
func (a *Account) Position(strategy, symbol string) (Position, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pos, ok := a.positions[positionKey(strategy, symbol)]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions ordered by strategy and
// symbol.
func (a *Account) Positions() []Position {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Position, 0, len(a.positions))
	for _, pos := range a.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strategy != out[j].Strategy {
			return out[i].Strategy < out[j].Strategy
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Trades returns a copy of the closed-trade ledger in close order.
func (a *Account) Trades() []core.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]core.Trade, len(a.trades))
	copy(out, a.trades)
	return out
}

// Stats returns the closed-trade aggregate for strategy and symbol.
func (a *Account) Stats(strategy, symbol string) sizing.TradeStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if st, ok := a.stats[positionKey(strategy, symbol)]; ok {
		return *st
	}
	return sizing.TradeStats{}
}
