// notifier.go defines the side-channel through which error/critical audit
// writes surface an operator-facing interrupt. Delivery is fire-and-forget:
// a notifier failure is logged and swallowed, never propagated to the log
// write that triggered it.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier pushes a freshly raised alert to an operator-facing destination.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// WebhookNotifierConfig holds webhook notifier settings.
type WebhookNotifierConfig struct {
	// URL is the webhook endpoint.
	URL string
	// Headers are additional HTTP headers to send.
	Headers map[string]string
	// Timeout is the HTTP request timeout.
	Timeout time.Duration
}

// WebhookNotifier POSTs each alert as a JSON document to a configured
// endpoint (a chat-ops hook or incident tooling).
type WebhookNotifier struct {
	cfg    WebhookNotifierConfig
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookNotifierConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the application log. It is the demo-mode
// stand-in for a real operator channel.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, alert Alert) error {
	slog.Warn("security alert raised",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"message", alert.Message,
	)
	return nil
}
