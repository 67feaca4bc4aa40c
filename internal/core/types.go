package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV bar. Time is the period start.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Time      time.Time       `json:"time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Key returns the partition key of the candle's stream.
func (c Candle) Key() string {
	return PartitionKey(c.Symbol, c.Timeframe)
}

// IsValid checks if the candle has required fields
func (c Candle) IsValid() bool {
	return c.Symbol != "" && c.Timeframe != "" && !c.Time.IsZero() && c.Close.IsPositive()
}

// PartitionKey is the unit of exclusive state ownership.
func PartitionKey(symbol, timeframe string) string {
	return symbol + ":" + timeframe
}

// IndicatorSnapshot holds the indicator values computed for one candle.
type IndicatorSnapshot struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Time      time.Time          `json:"time"`
	Values    map[string]float64 `json:"values"`
}

// Key returns the partition key of the snapshot's stream.
func (s IndicatorSnapshot) Key() string {
	return PartitionKey(s.Symbol, s.Timeframe)
}

// Value returns a named indicator value.
func (s IndicatorSnapshot) Value(name string) (float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Side is the direction of a position or signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Direction returns +1 for long and -1 for short.
func (s Side) Direction() int64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Action represents a trading signal action
type Action string

const (
	ActionOpen  Action = "OPEN"
	ActionClose Action = "CLOSE"
)

// Signal represents a trading signal from a strategy
type Signal struct {
	ID         string           `json:"id"`
	Strategy   string           `json:"strategy"`
	Symbol     string           `json:"symbol"`
	Timeframe  string           `json:"timeframe"`
	Time       time.Time        `json:"time"`
	Side       Side             `json:"side"`
	Action     Action           `json:"action"`
	Price      decimal.Decimal  `json:"price"`
	Reason     string           `json:"reason"`
	Confidence float64          `json:"confidence,omitempty"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
	ATR        float64          `json:"atr,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// Kind returns the combined action label, e.g. OPEN_LONG.
func (s Signal) Kind() string {
	return string(s.Action) + "_" + string(s.Side)
}

// SignalID builds the deterministic identifier of a signal.
func SignalID(strategy, symbol string, t time.Time, action Action, side Side) string {
	return fmt.Sprintf("%s:%s:%d:%s_%s", strategy, symbol, t.UnixMilli(), action, side)
}

// SizingDecision is the outcome of sizing one signal.
type SizingDecision struct {
	Signal       Signal           `json:"signal"`
	Accepted     bool             `json:"accepted"`
	Quantity     decimal.Decimal  `json:"quantity"`
	Notional     decimal.Decimal  `json:"notional"`
	Margin       decimal.Decimal  `json:"margin"`
	Leverage     decimal.Decimal  `json:"leverage"`
	StopLoss     *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   *decimal.Decimal `json:"take_profit,omitempty"`
	Policy       string           `json:"policy"`
	RejectReason string           `json:"reject_reason,omitempty"`
	Adjustments  []string         `json:"adjustments,omitempty"`
}

// Trade is a closed round trip from entry to exit.
type Trade struct {
	Strategy    string          `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	EntrySignal Signal          `json:"entry_signal"`
	ExitSignal  Signal          `json:"exit_signal"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	Fees        decimal.Decimal `json:"fees"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPct      float64         `json:"pnl_pct"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
}

// IsWin returns true if the trade was profitable
func (t Trade) IsWin() bool {
	return t.PnL.IsPositive()
}

// Holding returns how long the position was held.
func (t Trade) Holding() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// EquityPoint is one point of an equity curve.
type EquityPoint struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Metrics holds aggregate backtest performance.
type Metrics struct {
	InitialBalance       decimal.Decimal `json:"initial_balance"`
	FinalBalance         decimal.Decimal `json:"final_balance"`
	TotalReturn          float64         `json:"total_return"`
	SharpeRatio          float64         `json:"sharpe_ratio"`
	MaxDrawdown          float64         `json:"max_drawdown"`
	WinRate              float64         `json:"win_rate"`
	ProfitFactor         float64         `json:"profit_factor"`
	ProfitFactorInfinite bool            `json:"profit_factor_infinite,omitempty"`
	TradeCount           int             `json:"trade_count"`
	Wins                 int             `json:"wins"`
	Losses               int             `json:"losses"`
	AvgHoldingTime       time.Duration   `json:"avg_holding_time"`
}

// BacktestReport is the immutable output of one simulation run.
type BacktestReport struct {
	Strategy    string           `json:"strategy"`
	Params      map[string]any   `json:"params,omitempty"`
	Symbols     []string         `json:"symbols"`
	Timeframe   string           `json:"timeframe"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	FillModel   string           `json:"fill_model"`
	Sizing      string           `json:"sizing"`
	Bars        int              `json:"bars"`
	Metrics     Metrics          `json:"metrics"`
	Trades      []Trade          `json:"trades"`
	EquityCurve []EquityPoint    `json:"equity_curve"`
	Signals     []Signal         `json:"signals"`
	Rejections  []SizingDecision `json:"rejections,omitempty"`
}
