package job

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "ContractHub/internal/errors"
)

type fakeChannel struct {
	mu          sync.Mutex
	published   []amqp.Publishing
	keys        []string
	consumerTag string
	deliveries  chan amqp.Delivery
	consumeErr  error
	closed      bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Consume(_, consumer string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	if autoAck {
		return nil, errors.New("auto ack not expected")
	}
	f.mu.Lock()
	f.consumerTag = consumer
	f.mu.Unlock()
	return f.deliveries, nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type ackOutcome struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu       sync.Mutex
	outcomes []ackOutcome
	settled  chan struct{}
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{settled: make(chan struct{}, 16)}
}

func (f *fakeAcknowledger) record(o ackOutcome) error {
	f.mu.Lock()
	f.outcomes = append(f.outcomes, o)
	f.mu.Unlock()
	f.settled <- struct{}{}
	return nil
}

func (f *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	return f.record(ackOutcome{tag: tag, ack: true})
}

func (f *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	return f.record(ackOutcome{tag: tag, requeue: requeue})
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.record(ackOutcome{tag: tag, requeue: requeue})
}

func (f *fakeAcknowledger) wait(t *testing.T, n int) []ackOutcome {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.settled:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d deliveries settled", i, n)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ackOutcome(nil), f.outcomes...)
}

type closeCounter struct{ calls int }

func (c *closeCounter) Close() error {
	c.calls++
	return nil
}

func TestRabbitMQQueuePublish(t *testing.T) {
	ch := &fakeChannel{}
	q := newRabbitMQQueue(nil, ch, "")
	if err := q.Publish(context.Background(), "job-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.published) != 1 || ch.keys[0] != "contracthub.jobs" {
		t.Fatalf("unexpected publish %v to %v", ch.published, ch.keys)
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp.Persistent || msg.MessageId != "job-1" || string(msg.Body) != "job-1" {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("publishing must carry a timestamp")
	}
}

func TestRabbitMQQueueSettlesDeliveries(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 3)}
	acker := newFakeAcknowledger()
	q := newRabbitMQQueue(nil, ch, "jobs")

	for i, id := range []string{"ok", "invalid", "flaky"} {
		ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: uint64(i + 1), Body: []byte(id)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			switch jobID {
			case "invalid":
				return xerrors.New(xerrors.CodeInvalidArgument, "bad job")
			case "flaky":
				return xerrors.New(xerrors.CodeStorageFailure, "store unavailable")
			}
			return nil
		})
	}()

	outcomes := acker.wait(t, 3)
	want := []ackOutcome{{tag: 1, ack: true}, {tag: 2, ack: true}, {tag: 3, requeue: true}}
	for i, o := range want {
		if outcomes[i] != o {
			t.Fatalf("delivery %d: expected %+v, got %+v", i+1, o, outcomes[i])
		}
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
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if !strings.HasPrefix(ch.consumerTag, "contracthub-") {
		t.Fatalf("unexpected consumer tag %q", ch.consumerTag)
	}
}

func TestRabbitMQQueueStopsWhenDeliveriesClose(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery)}
	q := newRabbitMQQueue(nil, ch, "jobs")
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(context.Background(), 3, func(context.Context, string) error { return nil })
	}()

	close(ch.deliveries)
	select {
	case err := <-done:
		if !errors.Is(err, errDeliveriesClosed) {
			t.Fatalf("expected closed deliveries, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRabbitMQQueueConsumeError(t *testing.T) {
	down := errors.New("channel closed")
	q := newRabbitMQQueue(nil, &fakeChannel{consumeErr: down}, "jobs")
	err := q.Consume(context.Background(), 1, func(context.Context, string) error { return nil })
	if !errors.Is(err, down) {
		t.Fatalf("expected consume error, got %v", err)
	}
}

func TestRabbitMQQueueAckError(t *testing.T) {
	ch := &fakeChannel{deliveries: make(chan amqp.Delivery, 1)}
	// a delivery without an acknowledger cannot be settled
	ch.deliveries <- amqp.Delivery{Body: []byte("orphan")}
	q := newRabbitMQQueue(nil, ch, "jobs")
	err := q.Consume(context.Background(), 1, func(context.Context, string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "orphan") {
		t.Fatalf("expected ack error naming the job, got %v", err)
	}
}

func TestRabbitMQQueueClose(t *testing.T) {
	ch := &fakeChannel{}
	conn := &closeCounter{}
	if err := newRabbitMQQueue(conn, ch, "jobs").Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ch.closed || conn.calls != 1 {
		t.Fatalf("close must release channel and connection, channel=%v conn=%d", ch.closed, conn.calls)
	}
	var missing *RabbitMQQueue
	if err := missing.Publish(context.Background(), "x"); err == nil {
		t.Fatal("publish on nil queue must fail")
	}
}
