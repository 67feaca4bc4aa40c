package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/newthinker/tradeflow/internal/storage/archive"
	"github.com/newthinker/tradeflow/internal/storage/market"
)

// DataSource supplies historical candles of one stream with
// start <= time < end, oldest first. A zero start or end is unbounded.
type DataSource interface {
	Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error)
}

func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	return end.IsZero() || t.Before(end)
}

// SliceSource serves candles held in memory.
type SliceSource struct {
	candles []core.Candle
}

// NewSliceSource creates a source over candles of any streams.
func NewSliceSource(candles ...core.Candle) *SliceSource {
	return &SliceSource{candles: append([]core.Candle(nil), candles...)}
}

func (s *SliceSource) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	var out []core.Candle
	for _, c := range s.candles {
		if c.Symbol == symbol && c.Timeframe == timeframe && inRange(c.Time, start, end) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// StoreSource reads candles from the market store.
type StoreSource struct {
	store market.Store
}

func NewStoreSource(store market.Store) *StoreSource {
	return &StoreSource{store: store}
}

func (s *StoreSource) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end)
}

// ArchiveSource reads candles from parquet files in cold storage.
type ArchiveSource struct {
	storage archive.Storage
}

func NewArchiveSource(storage archive.Storage) *ArchiveSource {
	return &ArchiveSource{storage: storage}
}

func (s *ArchiveSource) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	return archive.ReadCandles(ctx, s.storage, symbol, timeframe, start, end)
}

// AdapterSource pages candles straight from an exchange.
type AdapterSource struct {
	adapter  exchange.Adapter
	pageSize int
}

// NewAdapterSource creates an exchange-backed source. pageSize <= 0
// uses 500 candles per request.
func NewAdapterSource(adapter exchange.Adapter, pageSize int) *AdapterSource {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &AdapterSource{adapter: adapter, pageSize: pageSize}
}

func (s *AdapterSource) Candles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	var out []core.Candle
	since := start
	var last time.Time
	for {
		page, err := s.adapter.FetchCandles(ctx, symbol, timeframe, since, s.pageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			if inRange(c.Time, start, end) && c.Time.After(last) {
				out = append(out, c)
				last = c.Time
			}
		}

		newest := page[len(page)-1].Time
		if len(page) < s.pageSize || (!end.IsZero() && !newest.Before(end)) || !newest.After(since) {
			break
		}
		// exchanges page by millisecond start time
		since = newest.Add(time.Millisecond)
	}
	return out, nil
}
