package domain

import "time"

// TimestampLayout 是响应体中时间戳使用的 ISO-8601 格式（UTC，毫秒精度）。
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// SuccessResponse 是调用成功时的响应体。
type SuccessResponse struct {
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	OperationID string `json:"operationId"`
}

// NewSuccessResponse 创建成功响应体，时间戳统一转换为 UTC。
func NewSuccessResponse(message string, at time.Time, operationID string) *SuccessResponse {
	return &SuccessResponse{
		Message:     message,
		Timestamp:   at.UTC().Format(TimestampLayout),
		OperationID: operationID,
	}
}

// ErrorResponse 是调用失败时的响应体。
type ErrorResponse struct {
	Error string `json:"error"`
}
