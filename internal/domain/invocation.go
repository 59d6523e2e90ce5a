// Package domain 定义了遥测函数的核心领域模型。
package domain

import (
	"strings"
	"time"
)

// TriggerType 表示触发函数调用的方式类型。
type TriggerType string

// 触发类型常量定义
const (
	// TriggerHTTP 表示通过 HTTP 请求触发
	TriggerHTTP TriggerType = "http"
	// TriggerTimer 表示通过定时任务触发（预热调用）
	TriggerTimer TriggerType = "timer"
)

// InvocationStatus 表示一次调用的最终状态。
type InvocationStatus string

const (
	// InvocationStatusSuccess 表示调用执行成功
	InvocationStatusSuccess InvocationStatus = "success"
	// InvocationStatusFailed 表示调用执行失败
	InvocationStatusFailed InvocationStatus = "failed"
)

// InvocationContext 标识一次函数调用。
// 由宿主分配，处理器只读取其中的字段；InvocationID 同时作为本次调用内
// 所有遥测记录的关联 ID（operation_Id）。
type InvocationContext struct {
	// InvocationID 是宿主分配的唯一调用 ID
	InvocationID string `json:"invocation_id"`
	// FunctionName 是被调用函数的名称
	FunctionName string `json:"function_name"`
	// Method 是 HTTP 请求方法
	Method string `json:"method"`
	// URL 是完整的请求 URL
	URL string `json:"url"`
	// TriggerType 是触发调用的方式
	TriggerType TriggerType `json:"trigger_type"`
	// TraceParent 是调用方传入的 W3C traceparent 头（可能为空）
	TraceParent string `json:"trace_parent,omitempty"`
	// ReceivedAt 是宿主接收到请求的时间
	ReceivedAt time.Time `json:"received_at"`
}

// NewInvocationContext 创建一个新的调用上下文。
// method 会被统一转换为大写。
func NewInvocationContext(invocationID, functionName, method, url string, trigger TriggerType) *InvocationContext {
	return &InvocationContext{
		InvocationID: invocationID,
		FunctionName: functionName,
		Method:       strings.ToUpper(method),
		URL:          url,
		TriggerType:  trigger,
		ReceivedAt:   time.Now(),
	}
}

// OperationID 返回本次调用的关联 ID。
func (c *InvocationContext) OperationID() string {
	return c.InvocationID
}

// RequestName 返回请求遥测使用的名称，格式为 "<METHOD> <URL>"。
func (c *InvocationContext) RequestName() string {
	return c.Method + " " + c.URL
}

// Validate 校验调用上下文的必填字段。
func (c *InvocationContext) Validate() error {
	if c == nil || strings.TrimSpace(c.InvocationID) == "" {
		return ErrMissingInvocationID
	}
	if strings.TrimSpace(c.FunctionName) == "" {
		return ErrMissingFunctionName
	}
	return nil
}
