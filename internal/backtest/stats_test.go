package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCalculateMaxDrawdown(t *testing.T) {
	tests := []struct {
		name   string
		equity []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"only up", []float64{100, 110, 120}, 0},
		{"peak to trough", []float64{10000, 11000, 9500, 10500}, 1500.0 / 11000},
		{"deeper later", []float64{100, 90, 120, 60, 130}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calculateMaxDrawdown(tt.equity), 1e-12)
		})
	}
	assert.InDelta(t, 0.136, calculateMaxDrawdown([]float64{10000, 11000, 9500, 10500}), 0.001)
}

func TestCalculateSharpeRatio(t *testing.T) {
	assert.Zero(t, calculateSharpeRatio(nil, 365))
	assert.Zero(t, calculateSharpeRatio([]float64{0.01}, 365))
	assert.Zero(t, calculateSharpeRatio([]float64{0.01, 0.01, 0.01}, 365), "no variance")

	returns := []float64{0.01, -0.01, 0.02, 0}
	// mean 0.005, sample stdev sqrt(0.0005/3)
	want := 0.005 / math.Sqrt(0.0005/3) * math.Sqrt(365)
	assert.InDelta(t, want, calculateSharpeRatio(returns, 365), 1e-9)
}

func TestPeriodReturns(t *testing.T) {
	assert.Nil(t, periodReturns([]float64{100}))
	r := periodReturns([]float64{100, 110, 99})
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, r, 1e-12)
}

func trade(pnl int64, holding time.Duration) core.Trade {
	return core.Trade{
		PnL:       decimal.NewFromInt(pnl),
		EntryTime: t0,
		ExitTime:  t0.Add(holding),
	}
}

func TestCalculateMetrics(t *testing.T) {
	initial := decimal.NewFromInt(10000)
	trades := []core.Trade{trade(300, time.Hour), trade(-100, 3*time.Hour), trade(200, 2*time.Hour)}
	curve := []core.EquityPoint{
		{Time: t0, Equity: initial},
		{Time: t0.Add(time.Hour), Equity: decimal.NewFromInt(10300)},
		{Time: t0.Add(2 * time.Hour), Equity: decimal.NewFromInt(10200)},
		{Time: t0.Add(3 * time.Hour), Equity: decimal.NewFromInt(10400)},
	}

	m := CalculateMetrics(initial, decimal.NewFromInt(10400), trades, curve, nil, 365)

	assert.InDelta(t, 0.04, m.TotalReturn, 1e-12)
	assert.Equal(t, 3, m.TradeCount)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 2.0/3, m.WinRate, 1e-12)
	assert.InDelta(t, 5, m.ProfitFactor, 1e-12)
	assert.False(t, m.ProfitFactorInfinite)
	assert.Equal(t, 2*time.Hour, m.AvgHoldingTime)
	assert.InDelta(t, 100.0/10300, m.MaxDrawdown, 1e-12)
}

func TestCalculateMetrics_NoTrades(t *testing.T) {
	initial := decimal.NewFromInt(10000)
	m := CalculateMetrics(initial, initial, nil, []core.EquityPoint{{Time: t0, Equity: initial}}, nil, 365)

	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.ProfitFactor)
	assert.False(t, m.ProfitFactorInfinite)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.AvgHoldingTime)
}

func TestCalculateMetrics_NoLosses(t *testing.T) {
	initial := decimal.NewFromInt(10000)
	m := CalculateMetrics(initial, decimal.NewFromInt(10050), []core.Trade{trade(50, time.Hour)}, nil, nil, 365)

	assert.True(t, m.ProfitFactorInfinite)
	assert.Zero(t, m.ProfitFactor)
	assert.Equal(t, 1.0, m.WinRate)
}
