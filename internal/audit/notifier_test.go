package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookNotifier_PostsAlertJSON(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Auth-Token")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookNotifierConfig{
		URL:     srv.URL,
		Headers: map[string]string{"X-Auth-Token": "secret"},
		Timeout: 2 * time.Second,
	})

	alert := Alert{ID: "a1", Severity: SeverityCritical, Message: "CRITICAL: login_failed by u1", LogEntryID: "e1"}
	if err := n.Notify(context.Background(), alert); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotHeader != "secret" {
		t.Errorf("X-Auth-Token = %q", gotHeader)
	}

	var sent Alert
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("body not valid alert JSON: %v", err)
	}
	if sent.ID != "a1" || sent.LogEntryID != "e1" {
		t.Errorf("sent alert = %+v", sent)
	}
}

func TestWebhookNotifier_ErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookNotifierConfig{URL: srv.URL})
	if err := n.Notify(context.Background(), Alert{ID: "a1"}); err == nil {
		t.Error("Notify on 502 response returned nil error")
	}
}

func TestWebhookNotifier_UnreachableEndpoint(t *testing.T) {
	n := NewWebhookNotifier(WebhookNotifierConfig{URL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond})
	if err := n.Notify(context.Background(), Alert{ID: "a1"}); err == nil {
		t.Error("Notify against closed port returned nil error")
	}
}

func TestLogNotifier_NeverFails(t *testing.T) {
	if err := (LogNotifier{}).Notify(context.Background(), Alert{ID: "a1"}); err != nil {
		t.Errorf("LogNotifier.Notify = %v, want nil", err)
	}
}
