// Package metrics 提供 Prometheus 指标采集与上报的统一封装。
// 该包集中定义函数宿主的关键指标（调用、依赖、遥测投递），便于在各模块复用并保持标签一致。
package metrics

import (
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 封装函数宿主的运行时指标集合。
// 所有字段均为 Prometheus 指标类型，通过辅助方法更新指标值。
//
// 指标分类:
//   - 调用指标: 跟踪函数调用的数量、耗时和错误
//   - 依赖指标: 跟踪外部依赖调用的数量和耗时
//   - 遥测指标: 统计遥测记录数量与刷新结果
type Metrics struct {
	// ========== 调用相关指标 ==========

	// InvocationsTotal 函数调用总次数计数器
	// 标签: function_name, trigger, status
	InvocationsTotal *prometheus.CounterVec

	// InvocationDuration 函数调用耗时直方图（单位：毫秒）
	// 标签: function_name, trigger
	// 桶边界: 10, 50, 100, 150, 250, 500, 1000, 2500, 5000 ms
	InvocationDuration *prometheus.HistogramVec

	// InvocationErrors 调用错误计数器，按错误类型分类
	// 标签: function_name, error_type
	InvocationErrors *prometheus.CounterVec

	// InFlight 正在执行的调用数
	InFlight prometheus.Gauge

	// ========== 依赖相关指标 ==========

	// DependencyCalls 依赖调用次数计数器
	// 标签: target, type, success
	DependencyCalls *prometheus.CounterVec

	// DependencyDuration 依赖调用耗时直方图（单位：毫秒）
	// 标签: target, type
	DependencyDuration *prometheus.HistogramVec

	// ========== 遥测相关指标 ==========

	// TelemetryRecords 发出的遥测记录数，按类型分类
	// 标签: kind
	TelemetryRecords *prometheus.CounterVec

	// CustomMetric 自定义指标的最近一次取值
	// 标签: name
	CustomMetric *prometheus.GaugeVec

	// TelemetryFlushes 遥测刷新次数
	// 标签: result (ok/error)
	TelemetryFlushes *prometheus.CounterVec

	// TelemetryFlushDuration 遥测刷新耗时直方图（单位：毫秒）
	TelemetryFlushDuration prometheus.Histogram
}

// durationBuckets 覆盖模拟依赖的 50~150ms 区间以及较慢的长尾。
var durationBuckets = []float64{10, 50, 100, 150, 250, 500, 1000, 2500, 5000}

// NewMetricsWith 创建并注册到指定 Registerer 的一组指标。
// namespace 用作所有指标名前缀；测试中可传入独立的 prometheus.NewRegistry()，避免重复注册导致 panic。
// 每种记录类型的 telemetry_records_total 序列会预先以 0 创建。
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of function invocations",
			},
			[]string{"function_name", "trigger", "status"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_ms",
				Help:      "Function invocation duration in milliseconds",
				Buckets:   durationBuckets,
			},
			[]string{"function_name", "trigger"},
		),
		InvocationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocation_errors_total",
				Help:      "Total number of invocation errors",
			},
			[]string{"function_name", "error_type"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invocations_in_flight",
				Help:      "Number of invocations currently executing",
			},
		),
		DependencyCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_calls_total",
				Help:      "Total number of outbound dependency calls",
			},
			[]string{"target", "type", "success"},
		),
		DependencyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dependency_duration_ms",
				Help:      "Outbound dependency call duration in milliseconds",
				Buckets:   durationBuckets,
			},
			[]string{"target", "type"},
		),
		TelemetryRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_records_total",
				Help:      "Total number of telemetry records emitted",
			},
			[]string{"kind"},
		),
		CustomMetric: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "custom_metric_value",
				Help:      "Last value of custom telemetry metrics",
			},
			[]string{"name"},
		),
		TelemetryFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telemetry_flushes_total",
				Help:      "Total number of telemetry flushes",
			},
			[]string{"result"},
		),
		TelemetryFlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "telemetry_flush_duration_ms",
				Help:      "Telemetry flush duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
		),
	}
	for _, kind := range telemetry.Kinds {
		m.TelemetryRecords.WithLabelValues(string(kind))
	}
	return m
}

// RecordInvocation 记录一次函数调用的统计信息。
func (m *Metrics) RecordInvocation(functionName, trigger, status string, durationMs float64) {
	m.InvocationsTotal.WithLabelValues(functionName, trigger, status).Inc()
	m.InvocationDuration.WithLabelValues(functionName, trigger).Observe(durationMs)
}

// RecordError 记录一次调用错误（按 error_type 聚合）。
func (m *Metrics) RecordError(functionName, errorType string) {
	m.InvocationErrors.WithLabelValues(functionName, errorType).Inc()
}

// RecordDependency 记录一次依赖调用。
func (m *Metrics) RecordDependency(target, depType string, success bool, durationMs float64) {
	m.DependencyCalls.WithLabelValues(target, depType, boolLabel(success)).Inc()
	m.DependencyDuration.WithLabelValues(target, depType).Observe(durationMs)
}

// RecordFlush 记录一次遥测刷新。
func (m *Metrics) RecordFlush(durationMs float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TelemetryFlushes.WithLabelValues(result).Inc()
	m.TelemetryFlushDuration.Observe(durationMs)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
