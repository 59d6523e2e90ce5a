// Package domain 定义了遥测函数的核心领域模型。
package domain

import "errors"

// 领域错误定义
// 这些错误用于在处理器、依赖模拟器与 HTTP 层之间传递错误信息。

var (
	// ========== 调用相关错误 ==========

	// ErrMissingInvocationID 表示调用上下文缺少调用 ID
	ErrMissingInvocationID = errors.New("missing invocation id")
	// ErrMissingFunctionName 表示调用上下文缺少函数名称
	ErrMissingFunctionName = errors.New("missing function name")
	// ErrInvocationPanicked 表示函数执行过程中发生了 panic
	ErrInvocationPanicked = errors.New("invocation panicked")

	// ========== 依赖相关错误 ==========

	// ErrDependencyFailed 表示模拟的外部依赖调用失败
	ErrDependencyFailed = errors.New("simulated dependency failure")

	// ========== 遥测相关错误 ==========

	// ErrTelemetryFlush 表示遥测数据刷新失败
	ErrTelemetryFlush = errors.New("telemetry flush failed")

	// ========== 配置相关错误 ==========

	// ErrInvalidDelayRange 表示模拟延迟的范围无效
	ErrInvalidDelayRange = errors.New("invalid delay range: min must be >= 0 and <= max")
	// ErrInvalidSuccessRate 表示成功率不在 [0, 1] 区间内
	ErrInvalidSuccessRate = errors.New("invalid success rate: must be between 0 and 1")
	// ErrInvalidLogLevel 表示日志级别无效
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// DependencyError 描述一次失败的外部依赖调用。
// Error() 返回原始错误消息，使 HTTP 响应能够原样暴露被注入的错误文本；
// 同时可以通过 errors.Is 匹配 ErrDependencyFailed 与原始错误。
type DependencyError struct {
	// Target 是依赖的目标主机
	Target string
	// ResultCode 是记录到遥测中的结果码
	ResultCode string
	// Err 是导致失败的原始错误
	Err error
}

func (e *DependencyError) Error() string {
	if e.Err == nil {
		return ErrDependencyFailed.Error()
	}
	return e.Err.Error()
}

func (e *DependencyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDependencyFailed}
	}
	return []error{ErrDependencyFailed, e.Err}
}
