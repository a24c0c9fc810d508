package job

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "ContractHub/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker down") }
func (failingProducer) Close() error { return nil }

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	service := NewService(store, queue, 0)

	req := sendRequest("fixed-id")
	first, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != 3 || first.Status != StatusPending {
		t.Fatalf("unexpected job %+v", first)
	}
	second, err := service.Submit(ctx, req)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || len(queue.ch) != 1 {
		t.Fatalf("resubmission must not enqueue twice, queue=%d", len(queue.ch))
	}

	generated, err := service.Submit(ctx, sendRequest(""))
	if err != nil {
		t.Fatalf("submit without id: %v", err)
	}
	if generated.ID == "" || generated.ID == first.ID {
		t.Fatalf("expected generated id, got %q", generated.ID)
	}

	list, err := service.List(ctx, WithContract("owned_value"))
	if err != nil || len(list) != 2 {
		t.Fatalf("unexpected list %v, %v", ids(list), err)
	}
	stats, err := service.Stats(ctx)
	if err != nil || stats.Pending != 2 {
		t.Fatalf("unexpected stats %+v, %v", stats, err)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1), 3)
	cases := map[string]func(*Request){
		"kind":      func(r *Request) { r.Kind = "burn" },
		"contract":  func(r *Request) { r.Contract = " " },
		"method":    func(r *Request) { r.Method = "" },
		"from":      func(r *Request) { r.From = "alice" },
		"value":     func(r *Request) { r.Value = "-1" },
		"gas price": func(r *Request) { r.Options.GasPrice = "lots" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := sendRequest("")
			mutate(&req)
			_, err := service.Submit(context.Background(), req)
			if xerrors.CodeOf(err) != CodeJobValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	deploy := sendRequest("")
	deploy.Kind = KindDeploy
	deploy.Method = ""
	deploy.Value = "0x10"
	if err := deploy.Validate(); err != nil {
		t.Fatalf("deploy without method must be valid: %v", err)
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(ctx, sendRequest("pub"))
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	job, _ := store.Get(ctx, "pub")
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("job must be marked failed, got %+v", job)
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	waited, err := service.WaitUntilCompleted(waitCtx, "pub", 10*time.Millisecond)
	if err != nil || waited.ID != "pub" {
		t.Fatalf("terminal job must end waiting, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	for raw, want := range map[string]int64{"": -1, "0": 0, "42": 42, "0x2a": 42, " 7 ": 7} {
		got, err := ParseAmount(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if want == -1 {
			if got != nil {
				t.Fatalf("empty amount must be nil, got %s", got)
			}
			continue
		}
		if got.Int64() != want {
			t.Fatalf("%q: got %s", raw, got)
		}
	}
	if _, err := ParseAmount("1.5"); err == nil {
		t.Fatal("fractions must be rejected")
	}
}
