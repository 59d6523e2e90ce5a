// Package telemetry 定义遥测记录模型与遥测客户端抽象。
// 本文件定义六种遥测记录（事件、指标、追踪、依赖、请求、异常），
// 所有记录共享 Base 中的关联字段 operation_Id，后端据此把同一次调用的
// 记录还原为一个完整的端到端事务视图。
package telemetry

import (
	"time"
)

// Kind 表示遥测记录的类型。
type Kind string

const (
	KindEvent      Kind = "event"
	KindMetric     Kind = "metric"
	KindTrace      Kind = "trace"
	KindDependency Kind = "dependency"
	KindRequest    Kind = "request"
	KindException  Kind = "exception"
)

// Kinds 按固定顺序列出全部记录类型。
var Kinds = []Kind{KindEvent, KindMetric, KindTrace, KindDependency, KindRequest, KindException}

// 关联属性键
const (
	// PropOperationID 是关联 ID 在属性中的键名
	PropOperationID = "operation_Id"
	// PropOperationParentID 是父操作 ID 在属性中的键名
	PropOperationParentID = "operation_ParentId"
	// PropFunctionName 是函数名在属性中的键名
	PropFunctionName = "function_name"
	// PropTrigger 是触发器类型在属性中的键名
	PropTrigger = "trigger"
)

// Severity 表示追踪与异常记录的严重级别。
type Severity string

const (
	SeverityVerbose     Severity = "verbose"
	SeverityInformation Severity = "information"
	SeverityWarning     Severity = "warning"
	SeverityError       Severity = "error"
	SeverityCritical    Severity = "critical"
)

// Record 是所有遥测记录实现的接口。
type Record interface {
	// Kind 返回记录类型
	Kind() Kind
	// Common 返回记录的公共字段
	Common() *Base
}

// Base 是所有记录共享的字段。
type Base struct {
	// OperationID 是关联 ID，必须等于调用上下文的 InvocationID
	OperationID string `json:"operation_Id"`
	// ParentID 是父操作 ID
	ParentID string `json:"operation_ParentId,omitempty"`
	// TraceParent 是本次调用所在链路的 W3C traceparent，为空时链路由 OperationID 推导
	TraceParent string `json:"traceparent,omitempty"`
	// Timestamp 是记录产生的时间
	Timestamp time.Time `json:"timestamp"`
	// Properties 是附加的自定义属性
	Properties map[string]string `json:"properties,omitempty"`
}

// Common 返回公共字段本身，嵌入 Base 的类型因此自动获得该方法。
func (b *Base) Common() *Base { return b }

// SetProperty 设置一个自定义属性，按需初始化属性表。
func (b *Base) SetProperty(key, value string) {
	if b.Properties == nil {
		b.Properties = make(map[string]string)
	}
	b.Properties[key] = value
}

// Event 是自定义事件记录。
type Event struct {
	Base
	Name         string             `json:"name"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

func (*Event) Kind() Kind { return KindEvent }

// Metric 是数值指标记录。
type Metric struct {
	Base
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (*Metric) Kind() Kind { return KindMetric }

// Trace 是追踪消息记录。
type Trace struct {
	Base
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (*Trace) Kind() Kind { return KindTrace }

// Dependency 描述一次对外部依赖的调用。
type Dependency struct {
	Base
	ID         string        `json:"id,omitempty"`
	Target     string        `json:"target"`
	Name       string        `json:"name"`
	Data       string        `json:"data,omitempty"`
	Type       string        `json:"type"`
	ResultCode string        `json:"resultCode"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
}

func (*Dependency) Kind() Kind { return KindDependency }

// Request 描述一次入站请求。
type Request struct {
	Base
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	URL        string        `json:"url"`
	Source     string        `json:"source,omitempty"`
	ResultCode string        `json:"resultCode"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
}

func (*Request) Kind() Kind { return KindRequest }

// Exception 描述一次被捕获的错误。
type Exception struct {
	Base
	Err      error    `json:"-"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (*Exception) Kind() Kind { return KindException }

// DurationMs 以毫秒（浮点）返回时长，供各后端统一换算。
func DurationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
