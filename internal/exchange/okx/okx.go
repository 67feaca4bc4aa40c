// Package okx implements exchange.Adapter on the OKX v5 REST API.
package okx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/exchange"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	baseURL = "https://www.okx.com"

	// MaxCandles is the per-request candle limit of the API.
	MaxCandles = 300

	orderPath = "/api/v5/trade/order"
)

// Common quote currencies in order of priority for detection
var quoteCurrencies = []string{"USDT", "USDC", "BTC", "ETH"}

// Config holds the client settings.
type Config struct {
	APIKey     string
	SecretKey  string
	Passphrase string
	BaseURL    string
	RateLimit  float64
	Burst      int
}

// OKX implements exchange.Adapter.
type OKX struct {
	client  *http.Client
	baseURL string
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates an OKX adapter.
func New(cfg Config) *OKX {
	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 20
	}
	return &OKX{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: cfg.BaseURL,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		now:     time.Now,
	}
}

func (o *OKX) Name() string {
	return "okx"
}

// toInstID converts normalized symbol to OKX instrument ID
// BTCUSDT -> BTC-USDT
func toInstID(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, q := range quoteCurrencies {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q) + "-" + q
		}
	}
	return s
}

func toBar(timeframe string) (string, error) {
	switch timeframe {
	case "1m", "3m", "5m", "15m", "30m":
		return timeframe, nil
	case "1h", "2h", "4h":
		return strings.ToUpper(timeframe), nil
	case "1d", "1w":
		return strings.ToUpper(timeframe) + "utc", nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
}

// FetchCandles returns candles at or after since. OKX pages backwards from
// the newest candle, so when more than limit candles exist after since only
// the newest limit are returned.
func (o *OKX) FetchCandles(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	bar, err := toBar(timeframe)
	if err != nil {
		return nil, core.WrapError(core.ErrAdapter, fmt.Errorf("okx: %w", err))
	}
	if limit <= 0 || limit > MaxCandles {
		limit = MaxCandles
	}

	url := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		o.baseURL, toInstID(symbol), bar, limit)
	if !since.IsZero() {
		url += "&before=" + strconv.FormatInt(since.UnixMilli()-1, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var result candleResponse
	if err := o.do(req, &result); err != nil {
		return nil, core.WrapError(core.ErrAdapter, fmt.Errorf("okx candles %s %s: %w", symbol, timeframe, err))
	}

	data := make([]core.Candle, 0, len(result.Data))
	// OKX returns newest first, reverse for chronological order
	for i := len(result.Data) - 1; i >= 0; i-- {
		row := result.Data[i]
		if len(row) < 6 {
			continue
		}
		c, err := toCandle(symbol, timeframe, row)
		if err != nil {
			continue
		}
		data = append(data, c)
	}
	return data, nil
}

// PlaceOrder submits a cash-mode market order sized in the base currency.
func (o *OKX) PlaceOrder(ctx context.Context, order exchange.Order) (*exchange.OrderAck, error) {
	// clOrdId allows alphanumerics only
	clOrdID := strings.ReplaceAll(order.ClientOrderID, "-", "")
	body, err := json.Marshal(orderRequest{
		InstID:  toInstID(order.Symbol),
		TdMode:  "cash",
		ClOrdID: clOrdID,
		Side:    strings.ToLower(string(order.Side)),
		OrdType: "market",
		Sz:      order.Quantity.String(),
		TgtCcy:  "base_ccy",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+orderPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	o.sign(req, http.MethodPost, orderPath, body)

	var result orderResponse
	if err := o.do(req, &result); err != nil {
		return nil, core.WrapError(core.ErrAdapter, fmt.Errorf("okx order %s: %w", order.ClientOrderID, err))
	}
	if len(result.Data) == 0 {
		return nil, core.Errorf(core.ErrAdapter, "okx order %s: empty response", order.ClientOrderID)
	}
	ack := result.Data[0]
	if ack.SCode != "0" {
		return nil, core.Errorf(core.ErrAdapter, "okx order %s: %s %s", order.ClientOrderID, ack.SCode, ack.SMsg)
	}

	return &exchange.OrderAck{
		ClientOrderID: order.ClientOrderID,
		OrderID:       ack.OrdID,
		Symbol:        order.Symbol,
		Status:        "ACCEPTED",
		Time:          o.now().UTC(),
	}, nil
}

func (o *OKX) sign(req *http.Request, method, path string, body []byte) {
	ts := o.now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(o.cfg.SecretKey))
	mac.Write([]byte(ts + method + path + string(body)))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", o.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", o.cfg.Passphrase)
}

// do sends req and decodes an OKX envelope into out.
func (o *OKX) do(req *http.Request, out envelope) error {
	if err := o.limiter.Wait(req.Context()); err != nil {
		return err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if code, msg := out.status(); code != "0" {
		return fmt.Errorf("okx error %s: %s", code, msg)
	}
	return nil
}

func toCandle(symbol, timeframe string, row []string) (core.Candle, error) {
	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return core.Candle{}, err
	}
	var vals [5]decimal.Decimal
	for i := range vals {
		v, err := decimal.NewFromString(row[i+1])
		if err != nil {
			return core.Candle{}, err
		}
		vals[i] = v
	}
	return core.Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		Time:      time.UnixMilli(ts).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// OKX API response types
type envelope interface {
	status() (code, msg string)
}

type candleResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func (r *candleResponse) status() (string, string) { return r.Code, r.Msg }

type orderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdID string `json:"clOrdId,omitempty"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	TgtCcy  string `json:"tgtCcy,omitempty"`
}

type orderResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data []orderAck `json:"data"`
}

func (r *orderResponse) status() (string, string) { return r.Code, r.Msg }

type orderAck struct {
	ClOrdID string `json:"clOrdId"`
	OrdID   string `json:"ordId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}
