package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
)

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	candles    map[string][]core.Candle // symbol:timeframe -> sorted by time
	indicators map[string][]core.IndicatorSnapshot
	signals    []core.Signal
	signalIDs  map[string]bool
	maxSize    int
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory store. maxSize bounds the
// indicator and signal history kept per stream; 0 keeps everything.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		candles:    make(map[string][]core.Candle),
		indicators: make(map[string][]core.IndicatorSnapshot),
		signalIDs:  make(map[string]bool),
		maxSize:    maxSize,
	}
}

func (m *MemoryStore) LastTimestamp(ctx context.Context, symbol, timeframe string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.candles[core.PartitionKey(symbol, timeframe)]
	if len(stream) == 0 {
		return time.Time{}, false, nil
	}
	return stream[len(stream)-1].Time, true, nil
}

func (m *MemoryStore) BulkInsertCandles(ctx context.Context, candles []core.Candle) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, c := range candles {
		key := c.Key()
		stream := m.candles[key]
		i := sort.Search(len(stream), func(i int) bool { return !stream[i].Time.Before(c.Time) })
		if i < len(stream) && stream[i].Time.Equal(c.Time) {
			continue
		}
		stream = append(stream, core.Candle{})
		copy(stream[i+1:], stream[i:])
		stream[i] = c
		m.candles[key] = stream
		inserted++
	}
	return inserted, nil
}

func (m *MemoryStore) QueryRecentCandles(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.candles[core.PartitionKey(symbol, timeframe)]
	if limit > 0 && limit < len(stream) {
		stream = stream[len(stream)-limit:]
	}
	out := make([]core.Candle, len(stream))
	copy(out, stream)
	return out, nil
}

func (m *MemoryStore) QueryCandles(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]core.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Candle, 0)
	for _, c := range m.candles[core.PartitionKey(symbol, timeframe)] {
		if c.Time.Before(start) {
			continue
		}
		if !end.IsZero() && !c.Time.Before(end) {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MemoryStore) InsertIndicator(ctx context.Context, snap core.IndicatorSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := snap.Key()
	snaps := append(m.indicators[key], snap)
	// Trim if over capacity (remove oldest)
	if m.maxSize > 0 && len(snaps) > m.maxSize {
		snaps = snaps[len(snaps)-m.maxSize:]
	}
	m.indicators[key] = snaps
	return nil
}

// Indicators returns the stored snapshots of a stream.
func (m *MemoryStore) Indicators(symbol, timeframe string) []core.IndicatorSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.indicators[core.PartitionKey(symbol, timeframe)]
	out := make([]core.IndicatorSnapshot, len(snaps))
	copy(out, snaps)
	return out
}

func (m *MemoryStore) InsertSignal(ctx context.Context, sig core.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.signalIDs[sig.ID] {
		return nil
	}
	m.signalIDs[sig.ID] = true
	m.signals = append(m.signals, sig)

	if m.maxSize > 0 && len(m.signals) > m.maxSize {
		for _, old := range m.signals[:len(m.signals)-m.maxSize] {
			delete(m.signalIDs, old.ID)
		}
		m.signals = m.signals[len(m.signals)-m.maxSize:]
	}
	return nil
}

func (m *MemoryStore) ListSignals(ctx context.Context, filter SignalFilter) ([]core.Signal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.Signal
	for _, sig := range m.signals {
		if filter.matches(sig) {
			result = append(result, sig)
		}
	}

	// Apply offset and limit
	if filter.Offset >= len(result) {
		return []core.Signal{}, nil
	}
	if filter.Offset > 0 {
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
