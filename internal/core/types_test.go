package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCandle_IsValid(t *testing.T) {
	c := Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1h",
		Time:      time.Now(),
		Close:     decimal.NewFromInt(100),
	}

	if !c.IsValid() {
		t.Error("expected valid candle")
	}

	invalid := Candle{Symbol: "", Close: decimal.Zero}
	if invalid.IsValid() {
		t.Error("expected invalid candle")
	}
}

func TestCandle_Key(t *testing.T) {
	c := Candle{Symbol: "ETHUSDT", Timeframe: "15m"}
	if c.Key() != "ETHUSDT:15m" {
		t.Errorf("unexpected key %s", c.Key())
	}
}

func TestSignal_Kind(t *testing.T) {
	s := Signal{Action: ActionOpen, Side: SideLong}
	if s.Kind() != "OPEN_LONG" {
		t.Errorf("expected OPEN_LONG, got %s", s.Kind())
	}
}

func TestSignalID_Deterministic(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := SignalID("ma_crossover", "BTCUSDT", ts, ActionOpen, SideLong)
	b := SignalID("ma_crossover", "BTCUSDT", ts, ActionOpen, SideLong)
	if a != b {
		t.Errorf("ids differ: %s vs %s", a, b)
	}
}

func TestTrade_IsWin(t *testing.T) {
	tests := []struct {
		name  string
		trade Trade
		want  bool
	}{
		{"positive pnl", Trade{PnL: decimal.NewFromInt(5)}, true},
		{"negative pnl", Trade{PnL: decimal.NewFromInt(-2)}, false},
		{"zero pnl", Trade{PnL: decimal.Zero}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trade.IsWin(); got != tt.want {
				t.Errorf("IsWin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"x", 0, true},
		{"0h", 0, true},
		{"5y", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeframe(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeriodsPerYear(t *testing.T) {
	if got := PeriodsPerYear("1d"); got != 365 {
		t.Errorf("1d periods = %f, want 365", got)
	}
	if got := PeriodsPerYear("1h"); got != 365*24 {
		t.Errorf("1h periods = %f, want %d", got, 365*24)
	}
}

func TestTopics(t *testing.T) {
	if KlineTopic("BTCUSDT", "1m") != "kline:BTCUSDT:1m" {
		t.Error("unexpected kline topic")
	}
	if IndicatorTopic("BTCUSDT", "1m") != "indicator:BTCUSDT:1m" {
		t.Error("unexpected indicator topic")
	}
	if SignalTopic("macd", "BTCUSDT") != "signal:macd:BTCUSDT" {
		t.Error("unexpected signal topic")
	}
}
