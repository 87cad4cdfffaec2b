package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics 汇总 Record Store 与模拟后端的计数器。
// nil *Metrics 是合法的空实现，调用方无需判空。
type Metrics struct {
	operations *prometheus.CounterVec
	requests   *prometheus.CounterVec
}

// New 创建计数器并注册到 reg；reg 为 nil 时使用独立的新注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txtour",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Record store operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txtour",
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Mock backend requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(m.operations, m.requests)
	return m
}

// ObserveOperation 记录一次 Store 操作的结果（ok | not_found | failed | cancelled）。
func (m *Metrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveRequest 记录一次后端请求。
func (m *Metrics) ObserveRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Operations 暴露操作计数器，便于测试读取。
func (m *Metrics) Operations() *prometheus.CounterVec {
	return m.operations
}

// Requests 暴露请求计数器，便于测试读取。
func (m *Metrics) Requests() *prometheus.CounterVec {
	return m.requests
}

// OperationCounts 返回操作计数快照，键为 "operation outcome"。
func (m *Metrics) OperationCounts() map[string]float64 {
	counts := make(map[string]float64)
	if m == nil {
		return counts
	}
	ch := make(chan prometheus.Metric)
	go func() {
		m.operations.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		var pb dto.Metric
		if err := metric.Write(&pb); err != nil {
			continue
		}
		var op, outcome string
		for _, label := range pb.GetLabel() {
			switch label.GetName() {
			case "operation":
				op = label.GetValue()
			case "outcome":
				outcome = label.GetValue()
			}
		}
		counts[op+" "+outcome] = pb.GetCounter().GetValue()
	}
	return counts
}
