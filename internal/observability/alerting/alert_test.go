package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	broken := &recordingNotifier{channel: ChannelWebhook, err: errors.New("down")}
	d := NewFanout(ok, nil, broken)

	err := d.Notify(context.Background(), Event{Code: "X", JobID: "job-1"})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.events) != 1 || len(broken.events) != 1 {
		t.Fatalf("every notifier must be called, got %d/%d", len(ok.events), len(broken.events))
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher must be a no-op, got %v", err)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		received <- payload
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	err := n.Notify(context.Background(), Event{
		Code:       "JOB_RETRIES_EXHAUSTED",
		Severity:   "critical",
		Message:    "boom",
		JobID:      "job-9",
		Attempts:   3,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Unix(1700000000, 0),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	got := <-received
	if got.JobID != "job-9" || got.Metadata["stage"] != "terminal" || got.Attempts != 3 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := (&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), Event{}); err == nil {
		t.Fatal("expected error for 502")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured notifier must be skipped, got %v", err)
	}
}
