package backtest

import (
	"math"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

// CalculateMetrics computes performance metrics of a finished run.
// curve is the closed-trade equity curve and marked the per-bar marked
// equity, both starting at the initial balance.
func CalculateMetrics(initial, final decimal.Decimal, trades []core.Trade, curve []core.EquityPoint, marked []float64, periodsPerYear float64) core.Metrics {
	m := core.Metrics{
		InitialBalance: initial,
		FinalBalance:   final,
		TradeCount:     len(trades),
	}
	if initial.IsPositive() {
		m.TotalReturn = final.Div(initial).Sub(decimal.NewFromInt(1)).InexactFloat64()
	}

	equity := make([]float64, len(curve))
	for i, p := range curve {
		equity[i] = p.Equity.InexactFloat64()
	}
	m.MaxDrawdown = calculateMaxDrawdown(equity)
	m.SharpeRatio = calculateSharpeRatio(periodReturns(marked), periodsPerYear)

	if len(trades) == 0 {
		return m
	}

	winSum, lossSum := decimal.Zero, decimal.Zero
	var holding time.Duration
	for _, t := range trades {
		if t.IsWin() {
			m.Wins++
			winSum = winSum.Add(t.PnL)
		} else {
			m.Losses++
			lossSum = lossSum.Add(t.PnL.Abs())
		}
		holding += t.Holding()
	}

	m.WinRate = float64(m.Wins) / float64(len(trades))
	m.AvgHoldingTime = holding / time.Duration(len(trades))

	switch {
	case lossSum.IsPositive():
		m.ProfitFactor = winSum.Div(lossSum).InexactFloat64()
	case winSum.IsPositive():
		// no losses: unbounded, which JSON cannot carry
		m.ProfitFactorInfinite = true
	}
	return m
}

// calculateMaxDrawdown finds the largest peak-to-trough decline of an
// equity series, as a fraction of the peak.
func calculateMaxDrawdown(equity []float64) float64 {
	var maxDD, peak float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func periodReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// calculateSharpeRatio computes the annualized risk-adjusted return of
// per-period returns. Assumes a risk-free rate of 0.
func calculateSharpeRatio(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)-1))

	if stdDev == 0 {
		return 0
	}

	annualizedReturn := mean * periodsPerYear
	annualizedStdDev := stdDev * math.Sqrt(periodsPerYear)

	return annualizedReturn / annualizedStdDev
}
