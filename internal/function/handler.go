// Package function 实现被宿主调用的 HTTP 函数。
//
// Handler 围绕一次模拟的依赖调用发出一组相互关联的遥测记录：
//
//	FunctionStarted 事件 → 依赖记录 → 成功：ProcessingTime 指标 + 追踪 + 请求(200) + FunctionCompleted 事件
//	                                 失败：异常 + 请求(500)
//
// 每条记录都携带与调用 ID 相同的 operation_Id，且无论走哪条分支，
// 遥测客户端都会在返回前被刷新恰好一次。
package function

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// 事件与指标名称
const (
	EventFunctionStarted   = "FunctionStarted"
	EventFunctionCompleted = "FunctionCompleted"
	MetricProcessingTime   = "ProcessingTime"
	TraceExecutedOK        = "Function executed successfully"
)

// DefaultGreeting 是成功响应中的默认消息。
const DefaultGreeting = "Hello from Azure Functions with Application Insights!"

// Dependency 是处理器调用的外部依赖。
type Dependency interface {
	// Invoke 执行依赖调用，依赖记录通过 scope 发出
	Invoke(ctx context.Context, scope *telemetry.Scope) error
}

// Result 是一次调用的结果，由 HTTP 层写回调用方。
type Result struct {
	// Status 是 HTTP 状态码
	Status int
	// Body 是 JSON 响应体：*domain.SuccessResponse 或 *domain.ErrorResponse
	Body interface{}
	// OperationID 是本次调用的关联 ID
	OperationID string
	// Err 是失败原因，成功时为 nil
	Err error
}

// Option 配置 Handler。
type Option func(*Handler)

// WithGreeting 设置成功响应中的消息。
func WithGreeting(greeting string) Option {
	return func(h *Handler) {
		if greeting != "" {
			h.greeting = greeting
		}
	}
}

// WithFlushTimeout 设置刷新遥测的超时时间。
func WithFlushTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.flushTimeout = d
		}
	}
}

// WithMetrics 设置 Prometheus 指标（刷新结果与在途调用数）。
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler 是函数调用处理器。同一个实例被所有调用并发共享。
type Handler struct {
	client       telemetry.Client
	dep          Dependency
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	greeting     string
	flushTimeout time.Duration
	now          func() time.Time
}

// NewHandler 创建处理器。client 是进程级共享的遥测客户端。
func NewHandler(client telemetry.Client, dep Dependency, logger *logrus.Logger, opts ...Option) *Handler {
	if client == nil {
		client = telemetry.Nop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		client:       client,
		dep:          dep,
		logger:       logger,
		greeting:     DefaultGreeting,
		flushTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke 执行一次调用。它从不返回错误，也从不向外传播 panic：
// 所有失败都被转换为异常记录、失败的请求记录与 500 结果。
func (h *Handler) Invoke(ctx context.Context, inv *domain.InvocationContext) (res *Result) {
	start := h.now()
	opID := inv.OperationID()

	scope := telemetry.NewScope(h.client, opID).
		WithTraceParent(inv.TraceParent).
		WithProperties(map[string]string{
			telemetry.PropFunctionName: inv.FunctionName,
			telemetry.PropTrigger:      string(inv.TriggerType),
		})

	entry := h.logger.WithFields(logrus.Fields{
		"invocation_id": opID,
		"function_name": inv.FunctionName,
		"operation_id":  opID,
	})
	entry = telemetry.EntryWithOperation(ctx, entry, opID, inv.TraceParent)
	entry.Infof("HTTP function processed request for url %q", inv.URL)

	if h.metrics != nil {
		h.metrics.InFlight.Inc()
		defer h.metrics.InFlight.Dec()
	}

	// 先注册的 defer 后执行：recover 先把 panic 转为失败结果，再统一刷新
	// 每次调用只发送一条请求记录；succeed 发出请求记录后再 panic 时只补发异常
	var requestTracked bool
	defer h.flush(ctx, scope, entry)
	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: %v", domain.ErrInvocationPanicked, p)
			res = h.fail(scope, inv, start, err, entry, requestTracked)
		}
	}()

	scope.TrackEvent(EventFunctionStarted, map[string]string{
		"functionName": inv.FunctionName,
		"invocationId": opID,
	})

	if err := h.dep.Invoke(ctx, scope); err != nil {
		return h.fail(scope, inv, start, err, entry, false)
	}
	return h.succeed(scope, inv, start, entry, &requestTracked)
}

func (h *Handler) succeed(scope *telemetry.Scope, inv *domain.InvocationContext, start time.Time, entry *logrus.Entry, requestTracked *bool) *Result {
	end := h.now()
	elapsed := end.Sub(start)
	ms := telemetry.DurationMs(elapsed)

	scope.TrackMetric(MetricProcessingTime, ms, nil)
	scope.TrackTrace(TraceExecutedOK, telemetry.SeverityInformation, map[string]string{
		telemetry.PropOperationID: scope.OperationID(),
		"functionName":            inv.FunctionName,
	})
	scope.TrackRequest(h.request(inv, elapsed, http.StatusOK))
	*requestTracked = true
	scope.Track(&telemetry.Event{
		Base: telemetry.Base{Properties: map[string]string{
			"functionName": inv.FunctionName,
			"invocationId": scope.OperationID(),
			"duration":     strconv.FormatInt(elapsed.Milliseconds(), 10),
		}},
		Name:         EventFunctionCompleted,
		Measurements: map[string]float64{"duration": ms},
	})

	entry.WithField("duration_ms", ms).Info("Function executed successfully")

	return &Result{
		Status:      http.StatusOK,
		Body:        domain.NewSuccessResponse(h.greeting, end, scope.OperationID()),
		OperationID: scope.OperationID(),
	}
}

func (h *Handler) fail(scope *telemetry.Scope, inv *domain.InvocationContext, start time.Time, err error, entry *logrus.Entry, requestTracked bool) *Result {
	elapsed := h.now().Sub(start)

	scope.TrackException(err, map[string]string{
		telemetry.PropOperationID: scope.OperationID(),
		"functionName":            inv.FunctionName,
	})
	if !requestTracked {
		scope.TrackRequest(h.request(inv, elapsed, http.StatusInternalServerError))
	}

	entry.WithError(err).Errorf("Error in function: %v", err)

	return &Result{
		Status:      http.StatusInternalServerError,
		Body:        &domain.ErrorResponse{Error: err.Error()},
		OperationID: scope.OperationID(),
		Err:         err,
	}
}

func (h *Handler) request(inv *domain.InvocationContext, elapsed time.Duration, status int) *telemetry.Request {
	if elapsed < 0 {
		elapsed = 0
	}
	return &telemetry.Request{
		ID:         inv.OperationID(),
		Name:       inv.RequestName(),
		URL:        inv.URL,
		Source:     inv.TraceParent,
		ResultCode: strconv.Itoa(status),
		Duration:   elapsed,
		Success:    status < http.StatusBadRequest,
	}
}

// flush 刷新遥测客户端。即使调用方已经断开，也会在 flushTimeout 内尝试投递；
// 刷新失败只记录日志与指标，不影响已经确定的结果。
func (h *Handler) flush(ctx context.Context, scope *telemetry.Scope, entry *logrus.Entry) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.flushTimeout)
	defer cancel()

	start := time.Now()
	err := scope.Flush(flushCtx)
	if h.metrics != nil {
		h.metrics.RecordFlush(telemetry.DurationMs(time.Since(start)), err)
	}
	if err != nil {
		entry.WithError(fmt.Errorf("%w: %w", domain.ErrTelemetryFlush, err)).Warn("Failed to flush telemetry")
	}
}
