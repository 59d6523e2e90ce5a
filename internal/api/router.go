package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RouterConfig 路由器配置选项
type RouterConfig struct {
	// Handler API处理器
	Handler *Handler
	// Route 函数路由，默认为 "/"
	Route string
	// ServiceName 追踪中间件使用的服务名，为空时不启用追踪中间件
	ServiceName string
	// RequestTimeout 请求超时，默认 60 秒
	RequestTimeout time.Duration
	// Gatherer 不为 nil 时在 /metrics 暴露指标
	Gatherer prometheus.Gatherer
	// Logger 日志记录器
	Logger *logrus.Logger
}

// NewRouter 创建并配置HTTP路由器。
//
// 路由结构：
//
//	/health              - 基本健康检查
//	/health/ready        - Kubernetes就绪探针
//	/health/live         - Kubernetes存活探针
//	/metrics             - Prometheus指标端点（可选）
//	{route}              - 函数入口（GET、POST）
func NewRouter(cfg *RouterConfig) *chi.Mux {
	h := cfg.Handler
	r := chi.NewRouter()

	// 中间件按照添加顺序执行，形成洋葱模型

	// 遥测中间件：提取调用方的 traceparent 并创建服务端 Span
	if cfg.ServiceName != "" {
		r.Use(telemetry.HTTPMiddleware(cfg.ServiceName))
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Logger中间件：请求日志写入 logrus
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger, NoColor: true}))

	// Recoverer中间件：宿主自身的 panic 兜底，函数内的 panic 由函数处理器转换为 500
	r.Use(middleware.Recoverer)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	// 健康检查端点 - 用于负载均衡器和Kubernetes探针
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)
	r.Get("/health/live", h.Live)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// 函数入口：匿名访问，接受 GET 与 POST
	route := cfg.Route
	if route == "" {
		route = "/"
	}
	r.Get(route, h.InvokeFunction)
	r.Post(route, h.InvokeFunction)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
