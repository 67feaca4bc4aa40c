package backtest

import (
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/sizing"
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/shopspring/decimal"
)

// Fill models.
const (
	FillClose    = "close"     // fill at the signal price on the signal bar
	FillNextOpen = "next_open" // fill at the next bar's open of the same symbol
)

// EndOfData is the reason stamped on positions closed when the candles run out.
const EndOfData = "end of data"

// SizingConfig selects the sizing policy and risk limits of a run.
type SizingConfig struct {
	Policy string
	Risk   sizing.RiskConfig
}

// Request describes one simulation run.
type Request struct {
	Strategy       string
	Params         strategy.Params
	Symbols        []string
	Timeframe      string
	Start          time.Time
	End            time.Time // exclusive; zero is unbounded
	InitialBalance decimal.Decimal
	FeeRate        decimal.Decimal
	Sizing         SizingConfig
	FillModel      string
	Indicators     indicator.Config
}

// Objective scores a finished run; higher is better.
type Objective func(report *core.BacktestReport) float64

// SharpeObjective scores a run by its Sharpe ratio.
func SharpeObjective(report *core.BacktestReport) float64 {
	return report.Metrics.SharpeRatio
}

// ReturnObjective scores a run by its total return.
func ReturnObjective(report *core.BacktestReport) float64 {
	return report.Metrics.TotalReturn
}

// Trial is the outcome of one request of a batch. A failed trial has
// Err set and Score at negative infinity.
type Trial struct {
	Request Request
	Report  *core.BacktestReport
	Score   float64
	Err     error
}
