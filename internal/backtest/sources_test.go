package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/newthinker/tradeflow/internal/storage/archive"
	"github.com/newthinker/tradeflow/internal/storage/market"
	"github.com/newthinker/tradeflow/internal/strategy/builtin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceSource(t *testing.T) {
	candles := hourly("BTCUSDT", waveSeries(10))
	// out of order and mixed with another stream
	src := NewSliceSource(append(hourly("ETHUSDT", waveSeries(10)), candles[5], candles[2], candles[7])...)

	got, err := src.Candles(context.Background(), "BTCUSDT", "1h", bar(3), bar(7))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, bar(5), got[0].Time)

	got, err = src.Candles(context.Background(), "BTCUSDT", "1h", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, bar(2), got[0].Time)
	assert.Equal(t, bar(7), got[2].Time)
}

func TestAdapterSource_Pages(t *testing.T) {
	mem := exchange.NewMemory()
	mem.AddCandles(hourly("BTCUSDT", waveSeries(25))...)
	src := NewAdapterSource(mem, 10)

	got, err := src.Candles(context.Background(), "BTCUSDT", "1h", bar(0), time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 25)
	for i, c := range got {
		assert.Equal(t, bar(i), c.Time)
	}
	assert.Equal(t, 3, mem.Fetches())

	got, err = src.Candles(context.Background(), "BTCUSDT", "1h", bar(4), bar(12))
	require.NoError(t, err)
	require.Len(t, got, 8)
	assert.Equal(t, bar(4), got[0].Time)
	assert.Equal(t, bar(11), got[7].Time)
}

func TestAdapterSource_Error(t *testing.T) {
	mem := exchange.NewMemory()
	mem.SetError(assert.AnError)

	_, err := NewAdapterSource(mem, 0).Candles(context.Background(), "BTCUSDT", "1h", bar(0), time.Time{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStoreSource_DrivesEngine(t *testing.T) {
	store := market.NewMemoryStore(0)
	_, err := store.BulkInsertCandles(context.Background(), hourly("BTCUSDT", crossSeries()))
	require.NoError(t, err)

	e := NewEngine(NewStoreSource(store), builtin.Registry(), nil)
	report, err := e.Run(context.Background(), baseRequest("BTCUSDT"))
	require.NoError(t, err)
	assert.Len(t, report.Trades, 1)
}

func TestArchiveSource_DrivesEngine(t *testing.T) {
	ctx := context.Background()
	fs, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	_, err = archive.WriteCandles(ctx, fs, hourly("BTCUSDT", crossSeries()))
	require.NoError(t, err)

	e := NewEngine(NewArchiveSource(fs), builtin.Registry(), nil)
	report, err := e.Run(ctx, baseRequest("BTCUSDT"))
	require.NoError(t, err)
	require.Len(t, report.Trades, 1)

	// same candles, same report as the in-memory source
	want, err := newEngine(t, hourly("BTCUSDT", crossSeries())...).Run(ctx, baseRequest("BTCUSDT"))
	require.NoError(t, err)
	assert.True(t, want.Metrics.FinalBalance.Equal(report.Metrics.FinalBalance))
	assert.InDelta(t, want.Metrics.SharpeRatio, report.Metrics.SharpeRatio, 1e-12)
}
