package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// amqpChannel 是队列用到的 *amqp.Channel 方法。
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// errDeliveriesClosed 表示 broker 关闭了投递通道，通常是连接断开。
var errDeliveriesClosed = errors.New("RabbitMQ 投递通道已关闭")

// RabbitMQQueue 使用 RabbitMQ 持久化消息实现任务队列，消息体即任务 ID。
type RabbitMQQueue struct {
	conn  io.Closer
	ch    amqpChannel
	queue string
}

// NewRabbitMQQueue 连接 RabbitMQ，设置预取并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	q := newRabbitMQQueue(conn, ch, cfg.Queue)
	if err := declareQueue(ch, q.queue, cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func newRabbitMQQueue(conn io.Closer, ch amqpChannel, queue string) *RabbitMQQueue {
	if queue == "" {
		queue = "contracthub.jobs"
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue}
}

func declareQueue(ch *amqp.Channel, queue string, cfg RabbitMQConfig) error {
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", queue, err)
	}
	return nil
}

// Publish 以持久化消息投递任务 ID，MessageId 同为任务 ID 便于在管理界面追踪。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    jobID,
		Timestamp:    time.Now(),
		Body:         []byte(jobID),
	})
	if err != nil {
		return fmt.Errorf("RabbitMQ 发布任务 %s 失败: %w", jobID, err)
	}
	return nil
}

// Consume 以手动确认模式消费。处理成功或不可重试的错误会确认消息，可重试的错误
// 会 nack 并交回队列；投递通道关闭时返回错误，便于上层重建连接。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	tag := "contracthub-" + uuid.NewString()
	deliveries, err := q.ch.Consume(q.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, workerCount)
	for range workerCount {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumeDeliveries(workerCtx, deliveries, handler); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}

func consumeDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			jobID := string(msg.Body)
			if shouldRequeue(handler(ctx, jobID)) {
				if err := msg.Nack(false, true); err != nil {
					return fmt.Errorf("退回任务 %s 失败: %w", jobID, err)
				}
				continue
			}
			if err := msg.Ack(false); err != nil {
				return fmt.Errorf("确认任务 %s 失败: %w", jobID, err)
			}
		}
	}
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	var err error
	if q.ch != nil {
		err = q.ch.Close()
	}
	if q.conn != nil {
		err = errors.Join(err, q.conn.Close())
	}
	return err
}
