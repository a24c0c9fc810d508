package job

import (
	"context"

	xerrors "ContractHub/internal/errors"
)

// Handler 处理来自消息队列的任务 ID。
type Handler func(ctx context.Context, jobID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, jobID string) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// shouldRequeue 判断任务 ID 是否需要交回队列。执行失败后的重试由 Processor
// 重新发布，这里只处理领取或存储阶段的可重试错误。
func shouldRequeue(err error) bool {
	return err != nil && xerrors.RetryableError(err)
}
