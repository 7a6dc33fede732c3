// Package gateway abstracts the outbound messaging provider that delivers
// customer-facing texts (WhatsApp/SMS). The scheduler only ever sees the
// Gateway interface; the HTTP implementation talks to the provider's REST
// API and the log implementation stands in during demo mode, so notification
// flows can be exercised end to end without a provider account.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DeliveryContext is the opaque trace bag attached to a delivery: it carries
// the scheduling event type, the ids of the business records the message
// refers to, and the actor on whose behalf the notification was programmed.
// It is recorded on the delivery audit entry, never sent to the provider.
type DeliveryContext struct {
	EventType string            `json:"event_type"`
	RecordIDs map[string]string `json:"record_ids,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
}

// DeliveryResult reports a completed provider handoff.
type DeliveryResult struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	SentAt    time.Time `json:"sent_at"`
}

// ProviderError carries the provider-specific status of a failed delivery.
type ProviderError struct {
	StatusCode int
	Status     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("gateway: provider returned %d (%s)", e.StatusCode, e.Status)
}

// Gateway delivers a rendered text to a destination number.
type Gateway interface {
	SendText(ctx context.Context, destination, body string, meta DeliveryContext) (DeliveryResult, error)
}

// HTTPConfig holds the provider endpoint settings.
type HTTPConfig struct {
	// URL is the provider's message-send endpoint.
	URL string
	// APIKey is sent as a bearer token.
	APIKey string
	// From is the sending number or sender id registered with the provider.
	From string
	// Timeout is the HTTP request timeout.
	Timeout time.Duration
}

// HTTPGateway sends messages through a JSON-over-HTTP provider API.
type HTTPGateway struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPGateway creates a gateway for the configured provider.
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// sendRequest is the provider wire format.
type sendRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// sendResponse is the subset of the provider reply we care about.
type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// SendText implements Gateway.
func (g *HTTPGateway) SendText(ctx context.Context, destination, body string, meta DeliveryContext) (DeliveryResult, error) {
	payload, err := json.Marshal(sendRequest{From: g.cfg.From, To: destination, Body: body})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to reach provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return DeliveryResult{}, &ProviderError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var reply sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&reply); err != nil {
		// Some providers answer 2xx with an empty body; treat as accepted.
		reply.Status = "accepted"
	}
	if reply.Status == "" {
		reply.Status = "accepted"
	}

	return DeliveryResult{
		MessageID: reply.MessageID,
		Status:    reply.Status,
		SentAt:    time.Now().UTC(),
	}, nil
}

// LogGateway is the demo-mode gateway: it logs the message instead of
// sending it and always reports success.
type LogGateway struct{}

// SendText implements Gateway.
func (LogGateway) SendText(_ context.Context, destination, body string, meta DeliveryContext) (DeliveryResult, error) {
	slog.Info("demo gateway: outbound message",
		"to", destination,
		"event_type", meta.EventType,
		"body", body,
	)
	return DeliveryResult{Status: "logged", SentAt: time.Now().UTC()}, nil
}
