// Package exchange defines the market data and order placement boundary
// to crypto exchanges.
package exchange

import (
	"context"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an exchange order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Order is a market order request.
type Order struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Quantity      decimal.Decimal
}

// OrderAck is the exchange's acknowledgement of a placed order.
type OrderAck struct {
	ClientOrderID string
	OrderID       string
	Symbol        string
	Status        string
	FilledQty     decimal.Decimal
	AvgPrice      decimal.Decimal
	Time          time.Time
}

// Adapter fetches candles from and places orders on one exchange.
type Adapter interface {
	// Name returns the exchange identifier, e.g. "binance".
	Name() string

	// FetchCandles returns up to limit closed or forming candles with a
	// period start at or after since, oldest first.
	FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error)

	// PlaceOrder submits a market order.
	PlaceOrder(ctx context.Context, order Order) (*OrderAck, error)
}

// OrderFor maps a signal to the market order side that executes it.
// Opening a long and closing a short buy; the others sell.
func OrderFor(sig core.Signal) OrderSide {
	opening := sig.Action == core.ActionOpen
	long := sig.Side == core.SideLong
	if opening == long {
		return OrderSideBuy
	}
	return OrderSideSell
}
