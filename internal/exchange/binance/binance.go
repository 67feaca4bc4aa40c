// Package binance implements exchange.Adapter on the Binance spot API.
package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// MaxKlines is the per-request kline limit of the API.
	MaxKlines = 1000

	maxRetries = 3
	backoff    = 100 * time.Millisecond
)

var intervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true,
}

// Config holds the client settings.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string  // overrides the production endpoint, used by tests
	RateLimit float64 // requests per second
	Burst     int
}

// Binance implements exchange.Adapter.
type Binance struct {
	client  *gobinance.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a Binance adapter.
func New(cfg Config, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}

	client := gobinance.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:  logger.Named("binance"),
	}
}

func (b *Binance) Name() string {
	return "binance"
}

// FetchCandles fetches klines starting at since. The API returns the
// currently forming kline last.
func (b *Binance) FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	if !intervals[timeframe] {
		return nil, core.Errorf(core.ErrAdapter, "binance: unsupported timeframe %q", timeframe)
	}
	if limit <= 0 || limit > MaxKlines {
		limit = MaxKlines
	}

	var klines []*gobinance.Kline
	err := b.withRetry(ctx, "klines", func() error {
		svc := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(timeframe).
			Limit(limit)
		if !since.IsZero() {
			svc = svc.StartTime(since.UnixMilli())
		}
		var err error
		klines, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, core.WrapError(core.ErrAdapter, fmt.Errorf("binance klines %s %s: %w", symbol, timeframe, err))
	}

	candles := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		c, err := toCandle(symbol, timeframe, k)
		if err != nil {
			b.logger.Warn("skipping malformed kline",
				zap.String("symbol", symbol),
				zap.Int64("open_time", k.OpenTime),
				zap.Error(err),
			)
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// PlaceOrder submits a MARKET order.
func (b *Binance) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.OrderAck, error) {
	side := gobinance.SideTypeBuy
	if order.Side == exchange.OrderSideSell {
		side = gobinance.SideTypeSell
	}

	// Orders are not retried: a timeout may still have filled.
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Type(gobinance.OrderTypeMarket).
		Quantity(order.Quantity.String()).
		NewClientOrderID(order.ClientOrderID).
		Do(ctx)
	if err != nil {
		return nil, core.WrapError(core.ErrAdapter, fmt.Errorf("binance order %s: %w", order.ClientOrderID, err))
	}

	filled, _ := decimal.NewFromString(resp.ExecutedQuantity)
	quote, _ := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = quote.Div(filled)
	}

	return &exchange.OrderAck{
		ClientOrderID: resp.ClientOrderID,
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		Symbol:        resp.Symbol,
		Status:        string(resp.Status),
		FilledQty:     filled,
		AvgPrice:      avg,
		Time:          time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

// withRetry waits for the limiter and retries fn with exponential backoff.
func (b *Binance) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if werr := b.limiter.Wait(ctx); werr != nil {
			return werr
		}

		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * backoff
		b.logger.Debug("retrying request",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

func toCandle(symbol, timeframe string, k *gobinance.Kline) (core.Candle, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var vals [5]decimal.Decimal
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return core.Candle{}, err
		}
		vals[i] = v
	}
	return core.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Time:      time.UnixMilli(k.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}
