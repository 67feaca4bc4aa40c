package exchange

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

// Memory is an in-memory Adapter fed by tests and the backtest CLI.
type Memory struct {
	candles map[string][]core.Candle // symbol:timeframe -> candles, sorted
	orders  []Order
	fetches int
	err     error
	seq     int
	mu      sync.RWMutex
}

// NewMemory creates an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{
		candles: make(map[string][]core.Candle),
	}
}

func (m *Memory) Name() string {
	return "memory"
}

// AddCandles appends candles to their streams, keeping each stream sorted.
func (m *Memory) AddCandles(candles ...core.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := make(map[string]bool)
	for _, c := range candles {
		key := c.Key()
		m.candles[key] = append(m.candles[key], c)
		touched[key] = true
	}
	for key := range touched {
		s := m.candles[key]
		sort.SliceStable(s, func(i, j int) bool { return s[i].Time.Before(s[j].Time) })
	}
}

// SetError makes every subsequent call fail with err until cleared with nil.
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Fetches returns how many FetchCandles calls were made.
func (m *Memory) Fetches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches
}

// Orders returns the orders placed so far.
func (m *Memory) Orders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Order, len(m.orders))
	copy(out, m.orders)
	return out
}

func (m *Memory) FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if m.err != nil {
		return nil, core.WrapError(core.ErrAdapter, m.err)
	}

	stream := m.candles[core.PartitionKey(symbol, timeframe)]
	start := sort.Search(len(stream), func(i int) bool { return !stream[i].Time.Before(since) })

	out := make([]core.Candle, 0)
	for _, c := range stream[start:] {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

// PlaceOrder fills the order immediately at the latest known close.
func (m *Memory) PlaceOrder(ctx context.Context, order Order) (*OrderAck, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !order.Quantity.IsPositive() {
		return nil, core.Errorf(core.ErrAdapter, "order quantity must be positive, got %s", order.Quantity)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, core.WrapError(core.ErrAdapter, m.err)
	}

	price := decimal.Zero
	var latest time.Time
	for _, stream := range m.candles {
		if len(stream) == 0 || stream[0].Symbol != order.Symbol {
			continue
		}
		if last := stream[len(stream)-1]; last.Time.After(latest) {
			latest = last.Time
			price = last.Close
		}
	}

	m.seq++
	m.orders = append(m.orders, order)
	return &OrderAck{
		ClientOrderID: order.ClientOrderID,
		OrderID:       strconv.Itoa(m.seq),
		Symbol:        order.Symbol,
		Status:        "FILLED",
		FilledQty:     order.Quantity,
		AvgPrice:      price,
		Time:          latest,
	}, nil
}
