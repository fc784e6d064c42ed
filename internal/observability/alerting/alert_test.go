package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "AgentLedger-Chain/internal/errors"
)

type captureNotifier struct {
	events []Event
}

func (c *captureNotifier) Channel() Channel { return "capture" }

func (c *captureNotifier) Notify(_ context.Context, event Event) error {
	c.events = append(c.events, event)
	return nil
}

func TestFromErrorUsesRegisteredAttributes(t *testing.T) {
	err := xerrors.Wrap(xerrors.CodeStorageFailure, context.DeadlineExceeded, "leveldb write batch",
		xerrors.WithMetadata("backend", "leveldb"))
	event := FromError("host", "fund_agent", "call-1", err)

	if event.Code != xerrors.CodeStorageFailure {
		t.Fatalf("unexpected code: %s", event.Code)
	}
	if event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected severity: %s", event.Severity)
	}
	if event.Metadata["backend"] != "leveldb" || event.Subject != "call-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestFanoutDeliversToWebhook(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	capture := &captureNotifier{}
	dispatcher := NewFanout(capture, &WebhookNotifier{URL: srv.URL}, nil)
	event := Event{Code: xerrors.CodeSettlementFailure, Message: "transfer failed", Subject: "tx-9", Attempts: 3}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(capture.events) != 1 {
		t.Fatalf("expected capture notifier to receive event")
	}
	if received.Subject != "tx-9" || received.Attempts != 3 {
		t.Fatalf("unexpected webhook payload: %+v", received)
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewFanout(&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), Event{})
	if err == nil {
		t.Fatalf("expected webhook error")
	}
}
