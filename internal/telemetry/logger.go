// Package telemetry 提供遥测记录模型、客户端抽象以及 OpenTelemetry 集成。
// 本文件负责把追踪上下文写入 logrus 日志，使宿主日志能与遥测记录互相检索。
package telemetry

import (
	"context"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// LogrusHook 为携带有效 Span 的日志条目（entry.WithContext(ctx)）补充 trace_id 与 span_id。
type LogrusHook struct{}

// NewLogrusHook 创建 LogrusHook。
func NewLogrusHook() *LogrusHook {
	return &LogrusHook{}
}

func (h *LogrusHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogrusHook) Fire(entry *logrus.Entry) error {
	if entry.Context == nil {
		return nil
	}
	// 已由 EntryWithOperation 写入的字段优先
	if _, ok := entry.Data["trace_id"]; ok {
		return nil
	}
	sc := trace.SpanContextFromContext(entry.Context)
	if !sc.IsValid() {
		return nil
	}
	entry.Data["trace_id"] = sc.TraceID().String()
	entry.Data["span_id"] = sc.SpanID().String()
	return nil
}

// EntryWithOperation 为一次调用的日志条目添加追踪字段。
//
// ctx 中存在有效 Span（HTTP 中间件创建的服务端 Span）时使用它的 ID；
// 否则使用 OperationTraceID 给出的 TraceID，与 SpanSink 导出的链路一致。
func EntryWithOperation(ctx context.Context, entry *logrus.Entry, operationID, traceParent string) *logrus.Entry {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return entry.WithContext(ctx).WithFields(logrus.Fields{
			"trace_id":      sc.TraceID().String(),
			"span_id":       sc.SpanID().String(),
			"trace_sampled": sc.IsSampled(),
		})
	}
	if operationID == "" && traceParent == "" {
		return entry.WithContext(ctx)
	}
	return entry.WithContext(ctx).WithField("trace_id", OperationTraceID(operationID, traceParent).String())
}
