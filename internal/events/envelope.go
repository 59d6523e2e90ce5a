// Package events 把遥测记录导出到事件流后端。
// 当前实现包括 NATS JetStream、Redis Streams 与结构化日志三种后端，
// 它们共享同一种 JSON 信封格式，下游消费者可以按 kind 字段分发。
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/telemetry"
)

// Envelope 是记录在事件流中的 JSON 形式。
type Envelope struct {
	Kind        telemetry.Kind   `json:"kind"`
	OperationID string           `json:"operation_id"`
	Function    string           `json:"function,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	DurationMs  float64          `json:"duration_ms,omitempty"`
	Record      telemetry.Record `json:"record"`
}

// NewEnvelope 包装一条记录。
func NewEnvelope(r telemetry.Record) *Envelope {
	b := r.Common()
	env := &Envelope{
		Kind:        r.Kind(),
		OperationID: b.OperationID,
		Function:    b.Properties[telemetry.PropFunctionName],
		Timestamp:   b.Timestamp,
		Record:      r,
	}
	switch v := r.(type) {
	case *telemetry.Request:
		env.DurationMs = telemetry.DurationMs(v.Duration)
	case *telemetry.Dependency:
		env.DurationMs = telemetry.DurationMs(v.Duration)
	}
	return env
}

// Marshal 把记录编码为信封 JSON。
func Marshal(r telemetry.Record) ([]byte, error) {
	return json.Marshal(NewEnvelope(r))
}

// Subject 返回记录的 NATS subject：<prefix>.<kind>.<function>。
func Subject(prefix string, r telemetry.Record) string {
	fn := r.Common().Properties[telemetry.PropFunctionName]
	if fn == "" {
		fn = "unknown"
	}
	return prefix + "." + string(r.Kind()) + "." + token(fn)
}

// token 把任意字符串转换为合法的 subject 片段。
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
