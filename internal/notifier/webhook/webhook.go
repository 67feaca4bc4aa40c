// Package webhook implements an HTTP webhook notifier
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/newthinker/tradeflow/internal/notifier"
)

// Webhook posts every event as a JSON document.
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a new Webhook notifier
func New(url string, headers map[string]string) *Webhook {
	return &Webhook{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook" }

// payload is the posted document. Signal and trade fields keep their
// JSON encoding from core.
type payload struct {
	Type   string `json:"type"`
	SentAt string `json:"sent_at"`
	Signal any    `json:"signal,omitempty"`
	Trade  any    `json:"trade,omitempty"`
}

func (w *Webhook) Notify(ctx context.Context, ev notifier.Event) error {
	p := payload{
		Type:   ev.Kind,
		SentAt: time.Now().UTC().Format(time.RFC3339),
	}
	switch {
	case ev.Signal != nil:
		p.Signal = ev.Signal
	case ev.Trade != nil:
		p.Trade = ev.Trade
	default:
		return fmt.Errorf("webhook: empty %s event", ev.Kind)
	}
	return w.post(ctx, p)
}

func (w *Webhook) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}
