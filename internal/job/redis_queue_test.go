package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "ContractHub/internal/errors"
	"ContractHub/internal/storage/redis/redistest"
)

func newTestRedisQueue() (*RedisQueue, *redistest.Client) {
	client := redistest.New()
	return NewRedisQueueWithClient(client, "q", 20*time.Millisecond), client
}

func TestRedisQueueDefaults(t *testing.T) {
	q := NewRedisQueueWithClient(redistest.New(), "", 0)
	if q.queue != "contracthub:jobs" || q.wait != 5*time.Second {
		t.Fatalf("unexpected defaults %q %s", q.queue, q.wait)
	}
}

func TestRedisQueueConsumesInPublishOrder(t *testing.T) {
	q, client := newTestRedisQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(ctx, id); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	if got := client.List("q"); len(got) != 3 || got[0] != "c" || got[2] != "a" {
		t.Fatalf("LPUSH must prepend, got %v", got)
	}

	var mu sync.Mutex
	var seen []string
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, jobID)
			if len(seen) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected FIFO order, got %v", seen)
	}
}

func TestRedisQueueKeepsWaitingOnEmptyQueue(t *testing.T) {
	q, _ := newTestRedisQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 2, func(_ context.Context, jobID string) error {
			handled <- jobID
			return nil
		})
	}()

	// several BRPOP timeouts elapse before the job arrives
	time.Sleep(100 * time.Millisecond)
	if err := q.Publish(ctx, "late"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case id := <-handled:
		if id != "late" {
			t.Fatalf("unexpected job %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job published after idle timeouts was not consumed")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRedisQueueRequeuesRetryableFailures(t *testing.T) {
	q, client := newTestRedisQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Publish(ctx, "flaky"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, "broken"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var mu sync.Mutex
	attempts := map[string]int{}
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			mu.Lock()
			defer mu.Unlock()
			attempts[jobID]++
			switch {
			case jobID == "broken":
				return xerrors.New(xerrors.CodeInvalidArgument, "bad job")
			case attempts[jobID] == 1:
				return xerrors.New(xerrors.CodeStorageFailure, "store unavailable")
			}
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts["flaky"] != 2 {
		t.Fatalf("retryable failure must be delivered again, attempts=%v", attempts)
	}
	if attempts["broken"] != 1 {
		t.Fatalf("non retryable failure must be dropped, attempts=%v", attempts)
	}
	if left := client.List("q"); len(left) != 0 {
		t.Fatalf("queue should be drained, got %v", left)
	}
}

func TestRedisQueueStopsWhenClientCloses(t *testing.T) {
	q, _ := newTestRedisQueue()
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), 2, func(context.Context, string) error { return nil })
	}()

	time.Sleep(30 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, redis.ErrClosed) {
			t.Fatalf("expected closed client error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after close")
	}
}

func TestRedisQueuePublishError(t *testing.T) {
	q, client := newTestRedisQueue()
	down := errors.New("connection refused")
	client.FailWith(down)
	if err := q.Publish(context.Background(), "a"); !errors.Is(err, down) {
		t.Fatalf("expected publish error, got %v", err)
	}
}
