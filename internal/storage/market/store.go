// Package market persists candles, indicator snapshots and signals.
package market

import (
	"context"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
)

// Store defines the interface for market data persistence.
type Store interface {
	// LastTimestamp returns the time of the newest candle of a stream.
	LastTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, bool, error)

	// BulkInsertCandles stores candles, ignoring ones already present,
	// and returns how many were inserted.
	BulkInsertCandles(ctx context.Context, candles []core.Candle) (int, error)

	// QueryRecentCandles returns the newest limit candles, oldest first.
	QueryRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error)

	// QueryCandles returns candles with start <= time < end, oldest first.
	// A zero end is unbounded.
	QueryCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error)

	// InsertIndicator stores an indicator snapshot.
	InsertIndicator(ctx context.Context, snap core.IndicatorSnapshot) error

	// InsertSignal stores a signal. Re-inserting the same ID is a no-op.
	InsertSignal(ctx context.Context, sig core.Signal) error

	// ListSignals retrieves signals matching the filter, oldest first.
	ListSignals(ctx context.Context, filter SignalFilter) ([]core.Signal, error)

	Close() error
}

// SignalFilter defines criteria for listing signals.
type SignalFilter struct {
	Symbol   string
	Strategy string
	Action   core.Action
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

func (f SignalFilter) matches(sig core.Signal) bool {
	if f.Symbol != "" && sig.Symbol != f.Symbol {
		return false
	}
	if f.Strategy != "" && sig.Strategy != f.Strategy {
		return false
	}
	if f.Action != "" && sig.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && sig.Time.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && sig.Time.After(f.To) {
		return false
	}
	return true
}

// Open creates the Store for driver: "memory" or "postgres".
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(0), nil
	case "postgres":
		s, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unknown market store driver %q", driver)
	}
}
