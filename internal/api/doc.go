// Package api 通过 REST 接口暴露任务提交、任务查询、合约只读调用与编码、
// 操作账本以及健康检查和 Prometheus 指标。
package api
