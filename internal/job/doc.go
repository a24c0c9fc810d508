// Package job 提供异步的合约部署与写交易任务：持久化（内存、MySQL）、
// 队列（内存、Redis、RabbitMQ）、提交服务以及带重试与告警的处理器。
package job
