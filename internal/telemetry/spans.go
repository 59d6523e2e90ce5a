package telemetry

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// SpanSink 把遥测记录转换为 OpenTelemetry Span 与指标。
//
// 同一 operation_Id 的记录落在同一条 Trace 中：记录带有 traceparent 时挂在该链路下
// （HTTP 中间件的服务端 Span 或调用方的链路），否则 TraceID 由关联 ID 推导
// （UUID 直接取 16 字节，否则取 SHA-256 前 16 字节），因此即使记录被分别
// 发送，追踪后端也能把它们还原为一个事务。
type SpanSink struct {
	tracer  trace.Tracer
	meter   metric.Meter
	flusher interface{ ForceFlush(context.Context) error }

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
}

// NewSpanSink 使用 Telemetry 的追踪器与 Meter 创建 SpanSink；没有指标提供者时不记录指标。
func NewSpanSink(t *Telemetry) *SpanSink {
	return &SpanSink{
		tracer:     t.Tracer(),
		meter:      t.Meter(),
		flusher:    t,
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Track 立即创建并结束对应的 Span，导出由批量处理器异步完成。
func (s *SpanSink) Track(r Record) {
	b := r.Common()
	ctx := recordContext(b)
	attrs := baseAttributes(b)

	switch v := r.(type) {
	case *Request:
		attrs = append(attrs,
			attribute.String("http.url", v.URL),
			attribute.String("request.id", v.ID),
			attribute.String("request.result_code", v.ResultCode),
			attribute.Bool("request.success", v.Success),
		)
		if v.Source != "" {
			attrs = append(attrs, attribute.String("request.source", v.Source))
		}
		s.span(ctx, v.Name, trace.SpanKindServer, b, v.Duration, v.Success, attrs)
	case *Dependency:
		attrs = append(attrs,
			attribute.String("dependency.target", v.Target),
			attribute.String("dependency.type", v.Type),
			attribute.String("dependency.data", v.Data),
			attribute.String("dependency.result_code", v.ResultCode),
			attribute.Bool("dependency.success", v.Success),
		)
		s.span(ctx, v.Name, trace.SpanKindClient, b, v.Duration, v.Success, attrs)
	case *Event:
		for k, m := range v.Measurements {
			attrs = append(attrs, attribute.Float64("measurement."+k, m))
		}
		s.span(ctx, v.Name, trace.SpanKindInternal, b, 0, true, attrs)
	case *Trace:
		attrs = append(attrs,
			attribute.String("trace.message", v.Message),
			attribute.String("trace.severity", string(v.Severity)),
		)
		s.span(ctx, "trace", trace.SpanKindInternal, b, 0, v.Severity != SeverityError && v.Severity != SeverityCritical, attrs)
	case *Exception:
		_, span := s.tracer.Start(ctx, "exception",
			trace.WithTimestamp(b.Timestamp),
			trace.WithAttributes(attrs...),
		)
		if v.Err != nil {
			span.RecordError(v.Err, trace.WithTimestamp(b.Timestamp))
		}
		span.SetStatus(codes.Error, v.Message)
		span.End(trace.WithTimestamp(b.Timestamp))
	case *Metric:
		s.recordMetric(ctx, v)
	}
}

func (s *SpanSink) span(ctx context.Context, name string, kind trace.SpanKind, b *Base, d time.Duration, ok bool, attrs []attribute.KeyValue) {
	start := b.Timestamp.Add(-d)
	_, span := s.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)
	if !ok {
		span.SetStatus(codes.Error, name+" failed")
	}
	span.End(trace.WithTimestamp(b.Timestamp))
}

func (s *SpanSink) recordMetric(ctx context.Context, m *Metric) {
	if s.meter == nil {
		return
	}
	h, err := s.histogram(m.Name)
	if err != nil {
		return
	}
	var attrs []attribute.KeyValue
	for k, v := range m.Properties {
		if k == PropOperationID {
			continue
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	h.Record(ctx, m.Value, metric.WithAttributes(attrs...))
}

func (s *SpanSink) histogram(name string) (metric.Float64Histogram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.histograms[name]; ok {
		return h, nil
	}
	h, err := s.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	s.histograms[name] = h
	return h, nil
}

// Flush 强制导出已结束的 Span。
func (s *SpanSink) Flush(ctx context.Context) error {
	return s.flusher.ForceFlush(ctx)
}

// Close 只做刷新；追踪提供者由宿主在进程退出时关闭。
func (s *SpanSink) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

// recordContext 返回记录所属链路的父上下文。
func recordContext(b *Base) context.Context {
	if sc := parseTraceParent(b.TraceParent); sc.IsValid() {
		return trace.ContextWithRemoteSpanContext(context.Background(), sc)
	}
	return OperationContext(context.Background(), b.OperationID)
}

func parseTraceParent(traceParent string) trace.SpanContext {
	if traceParent == "" {
		return trace.SpanContext{}
	}
	carrier := propagation.MapCarrier{"traceparent": traceParent}
	ctx := propagation.TraceContext{}.Extract(context.Background(), carrier)
	return trace.SpanContextFromContext(ctx)
}

// OperationTraceID 返回一次调用实际所在链路的 TraceID：
// traceParent 有效时取其 TraceID，否则由 operationID 推导。
func OperationTraceID(operationID, traceParent string) trace.TraceID {
	if sc := parseTraceParent(traceParent); sc.IsValid() {
		return sc.TraceID()
	}
	return TraceIDFromOperation(operationID)
}

// OperationContext 返回携带远端父 SpanContext 的上下文，
// 其 TraceID 与 SpanID 均由 operationID 确定性推导。
func OperationContext(ctx context.Context, operationID string) context.Context {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    TraceIDFromOperation(operationID),
		SpanID:     spanIDFromOperation(operationID),
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// TraceIDFromOperation 把关联 ID 映射为 TraceID。
func TraceIDFromOperation(operationID string) trace.TraceID {
	var tid trace.TraceID
	if u, err := uuid.Parse(operationID); err == nil {
		copy(tid[:], u[:])
		if tid.IsValid() {
			return tid
		}
	}
	sum := sha256.Sum256([]byte(operationID))
	copy(tid[:], sum[:16])
	return tid
}

func spanIDFromOperation(operationID string) trace.SpanID {
	var sid trace.SpanID
	sum := sha256.Sum256([]byte("span:" + operationID))
	copy(sid[:], sum[:8])
	if !sid.IsValid() {
		sid[7] = 1
	}
	return sid
}

func baseAttributes(b *Base) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(PropOperationID, b.OperationID),
	}
	if b.ParentID != "" {
		attrs = append(attrs, attribute.String(PropOperationParentID, b.ParentID))
	}
	for k, v := range b.Properties {
		if k == PropOperationID {
			continue
		}
		attrs = append(attrs, attribute.String("property."+k, v))
	}
	return attrs
}
