package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newthinker/tradeflow/internal/core"
	"github.com/newthinker/tradeflow/internal/notifier"
)

const defaultBaseURL = "https://api.telegram.org"

// Telegram sends events as Markdown messages through the Bot API.
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// New creates a new Telegram notifier
func New(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithBaseURL points the notifier at another Bot API endpoint.
func (t *Telegram) WithBaseURL(url string) *Telegram {
	t.baseURL = strings.TrimSuffix(url, "/")
	return t
}

func (t *Telegram) Name() string {
	return "telegram"
}

func (t *Telegram) Notify(ctx context.Context, ev notifier.Event) error {
	switch {
	case ev.Signal != nil:
		return t.sendMessage(ctx, formatSignal(*ev.Signal))
	case ev.Trade != nil:
		return t.sendMessage(ctx, formatTrade(*ev.Trade))
	default:
		return fmt.Errorf("telegram: empty %s event", ev.Kind)
	}
}

func formatSignal(sig core.Signal) string {
	var sb strings.Builder

	emoji := "📈"
	switch {
	case sig.Action == core.ActionClose:
		emoji = "🔚"
	case sig.Side == core.SideShort:
		emoji = "📉"
	}

	fmt.Fprintf(&sb, "%s *%s* - %s\n", emoji, sig.Symbol, sig.Kind())
	fmt.Fprintf(&sb, "🎯 Strategy: %s (%s)\n", sig.Strategy, sig.Timeframe)
	fmt.Fprintf(&sb, "💰 Price: %s\n", sig.Price)
	if sig.Confidence > 0 {
		fmt.Fprintf(&sb, "📊 Confidence: %.1f%%\n", sig.Confidence*100)
	}
	if sig.Reason != "" {
		fmt.Fprintf(&sb, "💡 Reason: %s\n", sig.Reason)
	}
	fmt.Fprintf(&sb, "⏰ Time: %s", sig.Time.UTC().Format(time.DateTime))

	return sb.String()
}

func formatTrade(tr core.Trade) string {
	var sb strings.Builder

	emoji := "✅"
	if !tr.IsWin() {
		emoji = "❌"
	}

	fmt.Fprintf(&sb, "%s *%s* %s closed\n", emoji, tr.Symbol, tr.Side)
	fmt.Fprintf(&sb, "🎯 Strategy: %s\n", tr.Strategy)
	fmt.Fprintf(&sb, "💰 %s → %s x %s\n", tr.EntryPrice, tr.ExitPrice, tr.Quantity)
	fmt.Fprintf(&sb, "📊 PnL: %s (%.2f%%)\n", tr.PnL.StringFixed(2), tr.PnLPct*100)
	fmt.Fprintf(&sb, "⏱ Held: %s", tr.Holding())

	return sb.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	payload := map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("telegram: API error (status %d): %v", resp.StatusCode, result)
	}

	return nil
}
