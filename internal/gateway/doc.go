// Package gateway 将合约制品清单映射为可部署、可调用的合约句柄，
// 并作为任务执行器把确认结果同步到地址簿、操作账本与 Prometheus 指标。
package gateway
