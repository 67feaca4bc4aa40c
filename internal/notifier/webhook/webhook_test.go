package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/notifier"
	"github.com/shopspring/decimal"
)

func TestWebhook_ImplementsNotifier(t *testing.T) {
	var _ notifier.Notifier = (*Webhook)(nil)
}

func TestWebhook_Name(t *testing.T) {
	w := New("http://example.com/hook", nil)
	if w.Name() != "webhook" {
		t.Errorf("expected 'webhook', got %s", w.Name())
	}
}

func TestWebhook_NotifySignal(t *testing.T) {
	var received map[string]any
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := New(server.URL, map[string]string{"Authorization": "Bearer abc"})

	sig := core.Signal{
		ID:       "ma_crossover:BTCUSDT:1:OPEN_LONG",
		Strategy: "ma_crossover",
		Symbol:   "BTCUSDT",
		Side:     core.SideLong,
		Action:   core.ActionOpen,
		Price:    decimal.NewFromInt(100),
		Time:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := w.Notify(context.Background(), notifier.Event{Kind: notifier.KindSignal, Signal: &sig}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if auth != "Bearer abc" {
		t.Errorf("expected authorization header, got %q", auth)
	}
	if received["type"] != "signal" {
		t.Errorf("expected type signal, got %v", received["type"])
	}
	payload, ok := received["signal"].(map[string]any)
	if !ok {
		t.Fatalf("expected signal object, got %v", received["signal"])
	}
	if payload["symbol"] != "BTCUSDT" || payload["action"] != "OPEN" {
		t.Errorf("unexpected signal payload: %v", payload)
	}
	if _, ok := received["trade"]; ok {
		t.Error("signal event should not carry a trade")
	}
}

func TestWebhook_NotifyTrade(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
	}))
	defer server.Close()

	trade := core.Trade{Strategy: "rsi", Symbol: "ETHUSDT", PnL: decimal.NewFromInt(-25)}
	err := New(server.URL, nil).Notify(context.Background(), notifier.Event{Kind: notifier.KindTrade, Trade: &trade})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, ok := received["trade"].(map[string]any)
	if !ok {
		t.Fatalf("expected trade object, got %v", received)
	}
	if payload["pnl"] != "-25" {
		t.Errorf("expected pnl -25, got %v", payload["pnl"])
	}
}

func TestWebhook_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	trade := core.Trade{Symbol: "BTCUSDT"}
	err := New(server.URL, nil).Notify(context.Background(), notifier.Event{Kind: notifier.KindTrade, Trade: &trade})
	if err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestWebhook_EmptyEvent(t *testing.T) {
	w := New("http://example.com/hook", nil)
	if err := w.Notify(context.Background(), notifier.Event{Kind: notifier.KindSignal}); err == nil {
		t.Error("expected error for empty event")
	}
}
