// Package metrics 基于 Prometheus 暴露 HTTP 请求与合约操作指标。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contracthub"

// Outcome 描述一次合约操作的结果分类。
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeSubmit    Outcome = "submission_failed"
	OutcomeConfirm   Outcome = "confirmation_failed"
	OutcomeRejected  Outcome = "rejected"
)

// Metrics 持有所有指标，注册到独立的 Registry 以便测试隔离。
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	gasUsed      *prometheus.CounterVec
	calls        *prometheus.CounterVec
}

// New 创建并注册指标，同时注册 Go 运行时与进程采集器。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "operations_total",
			Help:      "Deploy and send operations by outcome.",
		}, []string{"contract", "kind", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "operation_duration_seconds",
			Help:      "Time from submission until the operation settled.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"contract", "kind"}),
		gasUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "gas_used_total",
			Help:      "Gas consumed by confirmed operations.",
		}, []string{"contract", "kind"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "contract",
			Name:      "calls_total",
			Help:      "Read-only contract calls by result.",
		}, []string{"contract", "method", "result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpErrors, m.httpDuration,
		m.operations, m.opDuration, m.gasUsed, m.calls,
	)
	return m
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveOperation 记录部署或写交易的结果、耗时与 gas。
func (m *Metrics) ObserveOperation(contract, kind string, outcome Outcome, duration time.Duration, gas uint64) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(contract, kind, string(outcome)).Inc()
	m.opDuration.WithLabelValues(contract, kind).Observe(duration.Seconds())
	if outcome == OutcomeConfirmed && gas > 0 {
		m.gasUsed.WithLabelValues(contract, kind).Add(float64(gas))
	}
}

// ObserveCall 记录只读调用。
func (m *Metrics) ObserveCall(contract, method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.calls.WithLabelValues(contract, method, result).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
