// Package api 提供了函数宿主的 HTTP 处理程序。
// 该包把入站 HTTP 请求转换为调用上下文，交给函数处理器执行，并把结果写回调用方。
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/function"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// 宿主与调用方之间约定的请求/响应头
const (
	// HeaderInvocationID 携带宿主分配的调用 ID；缺省时由本服务生成
	HeaderInvocationID = telemetry.HeaderInvocationID
	// HeaderTraceParent 是 W3C Trace Context 请求头
	HeaderTraceParent = "traceparent"
)

// Invoker 执行一次函数调用。
type Invoker interface {
	Invoke(ctx context.Context, inv *domain.InvocationContext) *function.Result
}

// ReadinessCheck 返回 nil 表示服务已就绪。
type ReadinessCheck func(ctx context.Context) error

// Handler 是 HTTP 处理器集合。
type Handler struct {
	invoker      Invoker
	functionName string
	ready        ReadinessCheck
	logger       *logrus.Logger
}

// NewHandler 创建 HTTP 处理器。ready 为 nil 时总是就绪。
func NewHandler(invoker Invoker, functionName string, ready ReadinessCheck, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		invoker:      invoker,
		functionName: functionName,
		ready:        ready,
		logger:       logger,
	}
}

// InvokeFunction 处理函数路由上的 GET/POST 请求。
//
// 调用 ID 优先取自 X-Invocation-Id 请求头，否则生成 UUID；
// 响应头同样回写 X-Invocation-Id，便于调用方在遥测后端检索本次事务。
func (h *Handler) InvokeFunction(w http.ResponseWriter, r *http.Request) {
	inv := h.invocationFromRequest(r)
	if err := inv.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res := h.invoker.Invoke(r.Context(), inv)

	w.Header().Set(HeaderInvocationID, res.OperationID)
	writeJSON(w, res.Status, res.Body)
}

func (h *Handler) invocationFromRequest(r *http.Request) *domain.InvocationContext {
	id := r.Header.Get(HeaderInvocationID)
	if id == "" {
		id = uuid.NewString()
	}

	inv := domain.NewInvocationContext(id, h.functionName, r.Method, requestURL(r), domain.TriggerHTTP)
	inv.TraceParent = r.Header.Get(HeaderTraceParent)
	if inv.TraceParent == "" {
		// 调用方未携带时使用追踪中间件创建的服务端 Span
		inv.TraceParent = telemetry.TraceParentFromContext(r.Context())
	}
	return inv
}

// requestURL 还原调用方看到的完整 URL。
func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// Health 处理基本健康检查请求。
// HTTP端点: GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready 处理Kubernetes就绪探针请求。
// HTTP端点: GET /health/ready
//
// 返回值：
//   - 200: 服务就绪
//   - 503: 服务未就绪（如遥测后端不可用）
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WithError(err).Warn("Readiness check failed")
			writeError(w, r, http.StatusServiceUnavailable, "not ready: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live 处理Kubernetes存活探针请求。
// HTTP端点: GET /health/live
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// writeJSON 将数据以JSON格式写入HTTP响应。
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse 是宿主自身错误（非函数错误）的响应结构体。
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// writeError 将错误信息以JSON格式写入HTTP响应，带请求上下文。
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:     message,
		RequestID: middleware.GetReqID(r.Context()),
		TraceID:   telemetry.TraceIDFromContext(r.Context()),
	})
}
