package metrics

import (
	"context"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/telemetry"
)

// Sink 是把遥测记录折算为 Prometheus 指标的后端。
// 请求与依赖记录驱动调用/依赖指标，自定义 Metric 记录更新 custom_metric_value。
type Sink struct {
	m *Metrics
}

// NewSink 创建指标后端。
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

func (s *Sink) Track(r telemetry.Record) {
	s.m.TelemetryRecords.WithLabelValues(string(r.Kind())).Inc()

	switch v := r.(type) {
	case *telemetry.Request:
		status := domain.InvocationStatusSuccess
		if !v.Success {
			status = domain.InvocationStatusFailed
		}
		trigger := v.Properties[telemetry.PropTrigger]
		if trigger == "" {
			trigger = "http"
		}
		s.m.RecordInvocation(v.Properties[telemetry.PropFunctionName], trigger, string(status), telemetry.DurationMs(v.Duration))
	case *telemetry.Dependency:
		s.m.RecordDependency(v.Target, v.Type, v.Success, telemetry.DurationMs(v.Duration))
	case *telemetry.Exception:
		s.m.RecordError(v.Properties[telemetry.PropFunctionName], "exception")
	case *telemetry.Metric:
		s.m.CustomMetric.WithLabelValues(v.Name).Set(v.Value)
	}
}

// Flush 是空操作，指标由 Prometheus 拉取。
func (s *Sink) Flush(context.Context) error { return nil }

func (s *Sink) Close(context.Context) error { return nil }
