package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/indicator"
	"github.com/newthinker/tradeflow/internal/sizing"
	"github.com/newthinker/tradeflow/internal/strategy"
	"github.com/newthinker/tradeflow/internal/strategy/builtin"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func bar(i int) time.Time { return t0.Add(time.Duration(i) * time.Hour) }

// hourly builds a 1h series. Each candle opens one below its close.
func hourly(symbol string, closes []float64) []core.Candle {
	out := make([]core.Candle, len(closes))
	for i, c := range closes {
		cl := decimal.NewFromFloat(c)
		out[i] = core.Candle{
			Symbol:    symbol,
			Timeframe: "1h",
			Time:      bar(i),
			Open:      cl.Sub(decimal.NewFromInt(1)),
			High:      cl.Add(decimal.NewFromInt(1)),
			Low:       cl.Sub(decimal.NewFromInt(2)),
			Close:     cl,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]float64) []float64 {
	var out []float64
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// crossSeries: MA5 crosses above MA20 at bar 25 (close 100) and back
// below at bar 32 (close 80).
func crossSeries() []float64 {
	return concat(repeat(90, 25), repeat(100, 5), repeat(80, 5))
}

// waveSeries oscillates enough to trigger several crosses.
func waveSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Round((100+10*math.Sin(float64(i)/5))*100) / 100
	}
	return out
}

func baseRequest(symbols ...string) Request {
	return Request{
		Strategy:       "ma_crossover",
		Params:         strategy.Params{"fast_period": 5, "slow_period": 20},
		Symbols:        symbols,
		Timeframe:      "1h",
		InitialBalance: decimal.NewFromInt(10000),
		Sizing: SizingConfig{
			Policy: sizing.FixedPercentage,
			Risk:   sizing.DefaultRiskConfig(),
		},
		FillModel:  FillClose,
		Indicators: indicator.Config{SMAPeriods: []int{5, 20}},
	}
}

func newEngine(t *testing.T, candles ...core.Candle) *Engine {
	t.Helper()
	return NewEngine(NewSliceSource(candles...), builtin.Registry(), nil)
}
