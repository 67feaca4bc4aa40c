package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/bus"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// crossVariant trades series "a" crossing series "b".
type crossVariant struct{}

func (crossVariant) Name() string         { return "cross" }
func (crossVariant) Description() string  { return "a/b cross" }
func (crossVariant) Indicators() []string { return []string{"a", "b"} }

func (crossVariant) CheckEntry(s *State) *core.Signal {
	switch {
	case s.CrossedAbove("a", "b"):
		return &core.Signal{Side: core.SideLong, Reason: "a over b"}
	case s.CrossedBelow("a", "b"):
		return &core.Signal{Side: core.SideShort, Reason: "a under b"}
	}
	return nil
}

func (crossVariant) CheckExit(s *State) *core.Signal {
	if s.Position == Long && s.CrossedBelow("a", "b") {
		return &core.Signal{Reason: "a under b"}
	}
	if s.Position == Short && s.CrossedAbove("a", "b") {
		return &core.Signal{Reason: "a over b"}
	}
	return nil
}

func bar(i int, close float64) core.Candle {
	c := decimal.NewFromFloat(close)
	return core.Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Time:      t0.Add(time.Duration(i) * time.Hour),
		Open:      c,
		High:      c.Add(decimal.NewFromInt(1)),
		Low:       c.Sub(decimal.NewFromInt(1)),
		Close:     c,
		Volume:    decimal.NewFromInt(1000),
	}
}

func snapAt(i int, values map[string]float64) core.IndicatorSnapshot {
	return core.IndicatorSnapshot{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Time:      t0.Add(time.Duration(i) * time.Hour),
		Values:    values,
	}
}

func ab(a, b float64) map[string]float64 {
	return map[string]float64{"a": a, "b": b, "atr_14": 1, "volume_sma_20": 500}
}

func TestMachine_EntryIsEdgeTriggered(t *testing.T) {
	m := NewMachine("cross", crossVariant{}, Options{ATRPeriod: 14})

	series := []struct{ a, b float64 }{
		{1, 2}, {1.5, 2}, {2.5, 2}, {3, 2}, {4, 2}, {5, 2},
	}
	var signals []core.Signal
	for i, v := range series {
		signals = append(signals, m.OnBar(bar(i, 100+float64(i)), snapAt(i, ab(v.a, v.b)))...)
	}

	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, "OPEN_LONG", sig.Kind())
	assert.Equal(t, t0.Add(2*time.Hour), sig.Time)
	assert.True(t, sig.Price.Equal(decimal.NewFromInt(102)))
	assert.Equal(t, "cross", sig.Strategy)
	assert.Equal(t, core.SignalID("cross", "BTCUSDT", sig.Time, core.ActionOpen, core.SideLong), sig.ID)
	assert.Equal(t, 1.0, sig.ATR)
	assert.Equal(t, Long, m.State().Position)
}

func TestMachine_NoSignalOnFirstBar(t *testing.T) {
	m := NewMachine("cross", crossVariant{}, Options{})
	// a > b already, but no previous snapshot to form an edge
	assert.Empty(t, m.OnBar(bar(0, 100), snapAt(0, ab(3, 2))))
}

func TestMachine_ExitThenFlat(t *testing.T) {
	m := NewMachine("cross", crossVariant{}, Options{})

	m.OnBar(bar(0, 100), snapAt(0, ab(1, 2)))
	require.Len(t, m.OnBar(bar(1, 101), snapAt(1, ab(3, 2))), 1)

	out := m.OnBar(bar(2, 99), snapAt(2, ab(1, 2)))
	require.Len(t, out, 1, "shorts disabled: close only")
	assert.Equal(t, "CLOSE_LONG", out[0].Kind())
	assert.True(t, out[0].Price.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, Flat, m.State().Position)
}

func TestMachine_SameBarCloseThenOpen(t *testing.T) {
	m := NewMachine("cross", crossVariant{}, Options{AllowShort: true})

	m.OnBar(bar(0, 100), snapAt(0, ab(1, 2)))
	m.OnBar(bar(1, 101), snapAt(1, ab(3, 2)))

	out := m.OnBar(bar(2, 99), snapAt(2, ab(1, 2)))
	require.Len(t, out, 2)
	assert.Equal(t, "CLOSE_LONG", out[0].Kind())
	assert.Equal(t, "OPEN_SHORT", out[1].Kind())
	assert.Equal(t, out[0].Time, out[1].Time)
	assert.NotEqual(t, out[0].ID, out[1].ID)
	assert.Equal(t, Short, m.State().Position)
}

func TestMachine_ATRStopLossFillsAtStop(t *testing.T) {
	m := NewMachine("cross", crossVariant{}, Options{ATRPeriod: 14, StopLossATR: 2, TakeProfitATR: 3})

	m.OnBar(bar(0, 100), snapAt(0, ab(1, 2)))
	out := m.OnBar(bar(1, 100), snapAt(1, ab(3, 2)))
	require.Len(t, out, 1)
	require.NotNil(t, out[0].StopLoss)
	require.NotNil(t, out[0].TakeProfit)
	assert.True(t, out[0].StopLoss.Equal(decimal.NewFromInt(98)))
	assert.True(t, out[0].TakeProfit.Equal(decimal.NewFromInt(103)))

	// low of 96.5 pierces the 98 stop; fast stays above slow
	out = m.OnBar(bar(2, 97.5), snapAt(2, ab(4, 2)))
	require.Len(t, out, 1)
	assert.Equal(t, "CLOSE_LONG", out[0].Kind())
	assert.True(t, out[0].Price.Equal(decimal.NewFromInt(98)))
	assert.Contains(t, out[0].Reason, "stop loss")
}

func TestMachine_TakeProfit(t *testing.T) {
	m := NewMachine("cross", crossVariant{}, Options{ATRPeriod: 14, TakeProfitATR: 3})

	m.OnBar(bar(0, 100), snapAt(0, ab(1, 2)))
	m.OnBar(bar(1, 100), snapAt(1, ab(3, 2)))

	out := m.OnBar(bar(2, 102.5), snapAt(2, ab(4, 2)))
	require.Len(t, out, 1)
	assert.True(t, out[0].Price.Equal(decimal.NewFromInt(103)))
	assert.Contains(t, out[0].Reason, "take profit")
}

func TestMachine_FiltersVetoEntry(t *testing.T) {
	opts := Options{Filters: []Filter{VolumeFilter{Period: 20, Factor: 3}}}
	m := NewMachine("cross", crossVariant{}, opts)

	m.OnBar(bar(0, 100), snapAt(0, ab(1, 2)))
	// volume 1000 <= 3 x 500
	assert.Empty(t, m.OnBar(bar(1, 100), snapAt(1, ab(3, 2))))
	assert.Equal(t, 1, m.Vetoed())
	assert.Equal(t, Flat, m.State().Position)
}

func TestVolatilityFilter(t *testing.T) {
	s := &State{Candle: bar(0, 100)}
	snap := snapAt(0, map[string]float64{"atr_14": 2})
	s.Curr = &snap

	ok, _ := VolatilityFilter{ATRPeriod: 14, MinRatio: 0.01}.Allow(s, nil)
	assert.True(t, ok)
	ok, reason := VolatilityFilter{ATRPeriod: 14, MinRatio: 0.05}.Allow(s, nil)
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestOptionsFromParams(t *testing.T) {
	opts, err := OptionsFromParams(Params{
		"allow_short":    true,
		"stop_loss_atr":  1.5,
		"volume_factor":  1.2,
		"min_volatility": "0.002",
	})
	require.NoError(t, err)
	assert.True(t, opts.AllowShort)
	assert.Equal(t, 14, opts.ATRPeriod)
	assert.Len(t, opts.Filters, 2)
	assert.ElementsMatch(t, []string{"atr_14", "volume_sma_20", "atr_14"}, opts.Indicators())

	_, err = OptionsFromParams(Params{"stop_loss_atr": -1})
	assert.Error(t, err)
	_, err = OptionsFromParams(Params{"allow_short": 3})
	assert.Error(t, err)
}

func TestParams(t *testing.T) {
	p := Params{"i": 5, "f": 2.0, "s": "7", "frac": 2.5, "b": "true"}

	i, err := p.Int("i", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, i)
	i, err = p.Int("f", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, i)
	i, err = p.Int("s", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, i)
	_, err = p.Int("frac", 0)
	assert.Error(t, err)
	i, err = p.Int("missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, i)

	f, err := p.Float("i", 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, f)
	b, err := p.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("cross", func(Params) (Variant, error) { return crossVariant{}, nil })
	r.Register("broken", func(Params) (Variant, error) { return nil, errors.New("bad params") })

	assert.Equal(t, []string{"broken", "cross"}, r.Names())

	v, err := r.Build("cross", nil)
	require.NoError(t, err)
	assert.Equal(t, "cross", v.Name())

	_, err = r.Build("nope", nil)
	assert.True(t, errors.Is(err, core.ErrStrategyNotFound))
	_, err = r.Build("broken", nil)
	assert.True(t, errors.Is(err, core.ErrConfigInvalid))
}

type capturePublisher struct {
	topics  []string
	signals []core.Signal
}

func (c *capturePublisher) Publish(topic string, payload any) error {
	c.topics = append(c.topics, topic)
	c.signals = append(c.signals, payload.(core.Signal))
	return nil
}

func TestProcessor_JoinsOutOfOrderAndDropsDuplicates(t *testing.T) {
	pub := &capturePublisher{}
	p := NewProcessor("cross", crossVariant{}, Options{}, pub, nil)
	ctx := context.Background()

	msg := func(payload any) bus.Message { return bus.Message{Topic: "x", Payload: payload} }

	// snapshot before candle on bar 0, candle before snapshot on bar 1
	require.NoError(t, p.Process(ctx, msg(snapAt(0, ab(1, 2)))))
	require.NoError(t, p.Process(ctx, msg(bar(0, 100))))
	require.NoError(t, p.Process(ctx, msg(bar(1, 101))))
	assert.Empty(t, pub.signals)
	require.NoError(t, p.Process(ctx, msg(snapAt(1, ab(3, 2)))))

	require.Len(t, pub.signals, 1)
	assert.Equal(t, "signal:cross:BTCUSDT", pub.topics[0])

	// redelivered bar 1 is ignored
	require.NoError(t, p.Process(ctx, msg(bar(1, 101))))
	require.NoError(t, p.Process(ctx, msg(snapAt(1, ab(3, 2)))))
	assert.Len(t, pub.signals, 1)

	assert.Error(t, p.Process(ctx, msg("junk")))
}
