// Package sizing converts signals into order quantities under risk limits.
package sizing

import (
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

// RiskConfig defines sizing and risk management parameters. Fractions
// are relative to the current balance.
type RiskConfig struct {
	// FixedAmount is the notional per trade for fixed_amount.
	FixedAmount decimal.Decimal
	// FixedFraction is the balance fraction per trade for fixed_percentage.
	FixedFraction float64
	// RiskFraction is the balance fraction lost at the stop for risk_based.
	RiskFraction float64
	// DefaultStopPct is the stop distance used when a signal has no stop.
	DefaultStopPct float64
	// KellyCap is the upper bound of the Kelly fraction.
	KellyCap float64
	// KellyMinTrades is the closed-trade history required before Kelly sizes.
	KellyMinTrades int
	// TargetRisk is the balance fraction per ATR move for volatility_adjusted.
	TargetRisk float64
	// ATRMultiple scales ATR for volatility_adjusted.
	ATRMultiple float64

	// MaxOpenPositions is the maximum number of concurrent positions allowed.
	MaxOpenPositions int
	// MaxExposure is the maximum aggregate open notional as a balance fraction.
	MaxExposure float64
	// MaxTradeRisk is the maximum loss at the stop of a single trade.
	MaxTradeRisk float64
	// Leverage divides notional into required margin.
	Leverage decimal.Decimal
	// QuantityStep is the exchange lot size; quantities round down to it.
	QuantityStep decimal.Decimal
	// MinNotional rejects orders smaller than this.
	MinNotional decimal.Decimal
}

// DefaultRiskConfig returns a RiskConfig with sensible default values.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		FixedAmount:      decimal.NewFromInt(1000),
		FixedFraction:    0.1,
		RiskFraction:     0.01,
		DefaultStopPct:   0.02,
		KellyCap:         0.25,
		KellyMinTrades:   20,
		TargetRisk:       0.01,
		ATRMultiple:      2,
		MaxOpenPositions: 5,
		MaxExposure:      1,
		MaxTradeRisk:     0.05,
		Leverage:         decimal.NewFromInt(1),
	}
}

// TradeStats is the rolling closed-trade aggregate for one
// strategy+symbol. LossSum is a magnitude.
type TradeStats struct {
	Wins    int
	Losses  int
	WinSum  decimal.Decimal
	LossSum decimal.Decimal
}

// Trades returns the number of closed trades.
func (s TradeStats) Trades() int { return s.Wins + s.Losses }

// WinRate returns p, the fraction of winning trades.
func (s TradeStats) WinRate() float64 {
	if s.Trades() == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades())
}

// PayoffRatio returns b, the average win over the average loss. With no
// losses the ratio is unbounded and reported as +Inf.
func (s TradeStats) PayoffRatio() float64 {
	if s.Wins == 0 {
		return 0
	}
	avgWin := s.WinSum.Div(decimal.NewFromInt(int64(s.Wins))).InexactFloat64()
	if s.Losses == 0 || s.LossSum.IsZero() {
		return posInf
	}
	avgLoss := s.LossSum.Div(decimal.NewFromInt(int64(s.Losses))).InexactFloat64()
	return avgWin / avgLoss
}

// OpenPosition is the account's open position for one strategy+symbol.
type OpenPosition struct {
	Side       core.Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// AccountState is the account view a policy sizes against.
type AccountState struct {
	Balance       decimal.Decimal
	OpenPositions int
	Exposure      decimal.Decimal // aggregate open notional
	Position      *OpenPosition   // for the signal's strategy+symbol
	Stats         TradeStats      // for the signal's strategy+symbol
}

// AccountProvider supplies account state. portfolio.Account implements it.
type AccountProvider interface {
	State(strategy, symbol string) AccountState
}

// Reserver is implemented by providers that track orders between sizing
// and execution. Reserved orders count towards State until released.
type Reserver interface {
	Reserve(d core.SizingDecision)
	Release(signalID string)
}
