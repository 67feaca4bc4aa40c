package indicator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testCandles(closes []float64) []core.Candle {
	out := make([]core.Candle, len(closes))
	for i, c := range closes {
		out[i] = core.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			Time:      t0.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(100),
		}
	}
	return out
}

func smallConfig() Config {
	return Config{
		Window:          50,
		SMAPeriods:      []int{2, 3},
		RSIPeriod:       3,
		MACDFast:        2,
		MACDSlow:        4,
		MACDSignal:      3,
		BollingerPeriod: 3,
		BollingerK:      2,
		ATRPeriod:       3,
		VolumePeriod:    3,
	}
}

func TestRSI_Wilder(t *testing.T) {
	got := RSI([]float64{1, 2, 1, 2, 1}, 2)
	require.Len(t, got, 3)
	assert.InDelta(t, 50, got[0], 1e-9)
	assert.InDelta(t, 75, got[1], 1e-9)
	assert.InDelta(t, 37.5, got[2], 1e-9)
}

func TestRSI_Extremes(t *testing.T) {
	up := RSI([]float64{1, 2, 3, 4, 5, 6}, 3)
	for _, v := range up {
		assert.Equal(t, 100.0, v)
	}
	flat := RSI([]float64{5, 5, 5, 5}, 3)
	assert.Equal(t, []float64{50}, flat)
	assert.Empty(t, RSI([]float64{1, 2, 3}, 3))
}

func TestMACD_Alignment(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100
	}
	line, signal, hist := MACD(prices, 3, 6, 4)
	require.Len(t, line, 32)
	require.Len(t, signal, 32)
	require.Len(t, hist, 32)
	for i := range hist {
		assert.InDelta(t, 0, hist[i], 1e-12)
	}

	line, _, _ = MACD(prices[:8], 3, 6, 4)
	assert.Empty(t, line)
	line, _, _ = MACD(prices, 6, 3, 4)
	assert.Empty(t, line, "slow must exceed fast")
}

func TestBollinger(t *testing.T) {
	upper, middle, lower := Bollinger([]float64{1, 2, 3}, 3, 2)
	require.Len(t, middle, 1)
	assert.InDelta(t, 2, middle[0], 1e-12)
	assert.InDelta(t, 2+2*0.816496580927726, upper[0], 1e-9)
	assert.InDelta(t, 2-2*0.816496580927726, lower[0], 1e-9)

	upper, middle, lower = Bollinger([]float64{10, 10, 10, 10}, 3, 2)
	assert.Equal(t, middle, upper)
	assert.Equal(t, middle, lower)
}

func TestATR_ConstantRange(t *testing.T) {
	n := 10
	high, low, close := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		close[i] = 100
		high[i] = 101
		low[i] = 99
	}
	atr := ATR(high, low, close, 3)
	require.Len(t, atr, n-3)
	for _, v := range atr {
		assert.InDelta(t, 2, v, 1e-12)
	}
}

func TestTrueRange_UsesPreviousClose(t *testing.T) {
	tr := TrueRange([]float64{10, 12}, []float64{9, 11}, []float64{10, 11.5})
	require.Len(t, tr, 1)
	// max(12-11, |12-10|, |11-10|)
	assert.Equal(t, 2.0, tr[0])
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	_, ok := w.Last()
	assert.False(t, ok)

	for _, c := range testCandles([]float64{1, 2, 3, 4, 5}) {
		w.Push(c)
	}
	assert.Equal(t, 3, w.Len())
	got := w.Candles()
	require.Len(t, got, 3)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(3)))
	last, ok := w.Last()
	require.True(t, ok)
	assert.True(t, last.Close.Equal(decimal.NewFromInt(5)))
}

func TestNewCalculator_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative sma", func(c *Config) { c.SMAPeriods = []int{-1} }},
		{"macd slow not above fast", func(c *Config) { c.MACDSlow = 2 }},
		{"window shorter than warm-up", func(c *Config) { c.Window = 3 }},
		{"bollinger without k", func(c *Config) { c.BollingerK = 0 }},
		{"nothing configured", func(c *Config) { *c = Config{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			_, err := NewCalculator(cfg)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestCalculator_WarmUp(t *testing.T) {
	calc, err := NewCalculator(smallConfig())
	require.NoError(t, err)
	assert.Equal(t, 6, calc.WarmUp())

	candles := testCandles([]float64{10, 11, 12, 13, 14, 15})
	_, err = calc.Compute(candles[:5])
	assert.True(t, errors.Is(err, core.ErrInsufficientHistory))

	snap, err := calc.Compute(candles)
	require.NoError(t, err)
	assert.Equal(t, candles[5].Time, snap.Time)
	for _, name := range calc.Config().Names() {
		_, ok := snap.Value(name)
		assert.True(t, ok, "missing %s", name)
	}
	sma2, _ := snap.Value("sma_2")
	assert.InDelta(t, 14.5, sma2, 1e-9)
	atr, _ := snap.Value("atr_3")
	assert.InDelta(t, 2, atr, 1e-9)
}

func TestConfig_Require(t *testing.T) {
	cfg := Config{Window: 10, SMAPeriods: []int{5}, RSIPeriod: 14}

	out, err := cfg.Require([]string{"sma_5", "sma_30", "ema_12", "rsi_14", "atr_7", MACDLine, BollingerMid})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 30}, out.SMAPeriods)
	assert.Equal(t, []int{12}, out.EMAPeriods)
	assert.Equal(t, 7, out.ATRPeriod)
	assert.Equal(t, 26, out.MACDSlow)
	assert.Equal(t, 20, out.BollingerPeriod)
	assert.Equal(t, 34, out.Window, "window grows to the new warm-up")
	assert.Equal(t, []int{5}, cfg.SMAPeriods, "receiver is not modified")

	_, err = NewCalculator(out)
	require.NoError(t, err)

	_, err = cfg.Require([]string{"rsi_7"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	_, err = cfg.Require([]string{"sma_x"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	_, err = cfg.Require([]string{"vwap"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestCalculator_Deterministic(t *testing.T) {
	calc, err := NewCalculator(DefaultConfig())
	require.NoError(t, err)

	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + float64(i%17) - float64(i%5)*1.5
	}
	candles := testCandles(closes)

	first, err := calc.Compute(candles)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := calc.Compute(candles)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][]any
}

func (f *fakePublisher) Publish(topic string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgs == nil {
		f.msgs = make(map[string][]any)
	}
	f.msgs[topic] = append(f.msgs[topic], payload)
	return nil
}

type fakeWriter struct {
	snaps []core.IndicatorSnapshot
}

func (f *fakeWriter) InsertIndicator(ctx context.Context, snap core.IndicatorSnapshot) error {
	f.snaps = append(f.snaps, snap)
	return nil
}

func TestProcessor_PublishesAfterWarmUp(t *testing.T) {
	calc, err := NewCalculator(smallConfig())
	require.NoError(t, err)
	pub := &fakePublisher{}
	store := &fakeWriter{}
	p := NewProcessor(calc, pub, store, nil)
	ctx := context.Background()
	topic := core.IndicatorTopic("BTCUSDT", "1m")

	candles := testCandles([]float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19})
	for _, c := range candles[:5] {
		require.NoError(t, p.Process(ctx, kline(c)))
	}
	assert.Empty(t, pub.msgs[topic])

	require.NoError(t, p.Process(ctx, kline(candles[5])))
	require.Len(t, pub.msgs[topic], 1)
	require.Len(t, store.snaps, 1)

	// redelivery is ignored
	require.NoError(t, p.Process(ctx, kline(candles[5])))
	require.NoError(t, p.Process(ctx, kline(candles[2])))
	assert.Len(t, pub.msgs[topic], 1)

	// gap: buffered, computation skipped
	err = p.Process(ctx, kline(candles[8]))
	assert.True(t, errors.Is(err, core.ErrDataGap))
	assert.Len(t, pub.msgs[topic], 1)

	require.NoError(t, p.Process(ctx, kline(candles[9])))
	require.Len(t, pub.msgs[topic], 2)
	snap := pub.msgs[topic][1].(core.IndicatorSnapshot)
	assert.Equal(t, candles[9].Time, snap.Time)
	sma2, _ := snap.Value("sma_2")
	assert.InDelta(t, 18.5, sma2, 1e-9, "gap candle stays in the window")
}

func TestProcessor_RejectsForeignPayload(t *testing.T) {
	calc, err := NewCalculator(smallConfig())
	require.NoError(t, err)
	p := NewProcessor(calc, &fakePublisher{}, nil, nil)
	assert.Error(t, p.Process(context.Background(), busMessage("kline:x:1m", "nope")))
}

func TestSeries_Push(t *testing.T) {
	calc, err := NewCalculator(Config{Window: 10, SMAPeriods: []int{2}})
	require.NoError(t, err)
	s, err := NewSeries(calc, "1m")
	require.NoError(t, err)

	candles := testCandles([]float64{1, 2, 3, 4, 5})

	_, err = s.Push(candles[0])
	assert.True(t, errors.Is(err, core.ErrInsufficientHistory))

	snap, err := s.Push(candles[1])
	require.NoError(t, err)
	assert.Equal(t, candles[1].Time, snap.Time)

	_, err = s.Push(candles[1])
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = s.Push(candles[3])
	assert.True(t, errors.Is(err, core.ErrDataGap))
	assert.Equal(t, candles[3].Time, s.Last())

	snap, err = s.Push(candles[4])
	require.NoError(t, err)
	sma2, _ := snap.Value("sma_2")
	assert.InDelta(t, 4.5, sma2, 1e-9)

	_, err = NewSeries(calc, "7x")
	assert.Error(t, err)
}
