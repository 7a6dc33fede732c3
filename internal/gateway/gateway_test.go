package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPGateway_SendText(t *testing.T) {
	var gotBody sendRequest
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"m-123","status":"queued"}`))
	}))
	defer srv.Close()

	g := NewHTTPGateway(HTTPConfig{URL: srv.URL, APIKey: "k", From: "+34911111111", Timeout: 2 * time.Second})

	res, err := g.SendText(context.Background(), "+34600000000", "Hola Ana", DeliveryContext{EventType: "meeting_reminder"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	if gotBody.To != "+34600000000" || gotBody.Body != "Hola Ana" || gotBody.From != "+34911111111" {
		t.Errorf("provider request = %+v", gotBody)
	}
	if gotAuth != "Bearer k" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if res.MessageID != "m-123" || res.Status != "queued" {
		t.Errorf("result = %+v", res)
	}
	if res.SentAt.IsZero() {
		t.Error("SentAt not set")
	}
}

func TestHTTPGateway_EmptyProviderReplyTreatedAsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	g := NewHTTPGateway(HTTPConfig{URL: srv.URL})
	res, err := g.SendText(context.Background(), "+34600000000", "x", DeliveryContext{})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.Status != "accepted" {
		t.Errorf("status = %q, want accepted", res.Status)
	}
}

func TestHTTPGateway_ProviderErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewHTTPGateway(HTTPConfig{URL: srv.URL})
	_, err := g.SendText(context.Background(), "+34600000000", "x", DeliveryContext{})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("error = %v, want *ProviderError", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", provErr.StatusCode)
	}
}

func TestHTTPGateway_UnreachableProvider(t *testing.T) {
	g := NewHTTPGateway(HTTPConfig{URL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond})
	if _, err := g.SendText(context.Background(), "+34600000000", "x", DeliveryContext{}); err == nil {
		t.Error("SendText against closed port returned nil error")
	}
}

func TestLogGateway_AlwaysSucceeds(t *testing.T) {
	res, err := LogGateway{}.SendText(context.Background(), "+34600000000", "x", DeliveryContext{EventType: "quote_sent"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.Status != "logged" {
		t.Errorf("status = %q, want logged", res.Status)
	}
}
