package telemetry

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// HeaderInvocationID 是宿主传入调用 ID 的请求头。
const HeaderInvocationID = "X-Invocation-Id"

// AttrInvocationID 是服务端 Span 上记录调用 ID 的属性名。
const AttrInvocationID = "faas.invocation_id"

const headerTraceParent = "traceparent"

// HTTPMiddleware 返回为函数路由创建服务端 Span 的中间件。
// 请求头中的 traceparent 会被提取，调用方的链路得以延续；健康检查与 /metrics 不产生 Span。
//
// 调用方未携带 traceparent 时，服务端 Span 挂在由调用 ID 推导的链路下，
// 与 SpanSink 为同一调用导出的 Span 同属一条 Trace。缺少 X-Invocation-Id 时在此生成。
//
//	router := chi.NewRouter()
//	router.Use(telemetry.HTTPMiddleware("beacon"))
func HTTPMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get(HeaderInvocationID); id != "" {
				trace.SpanFromContext(r.Context()).SetAttributes(attribute.String(AttrInvocationID, id))
			}
			next.ServeHTTP(w, r)
		})
		instrumented := otelhttp.NewHandler(tagged, serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithPropagators(otel.GetTextMapPropagator()),
			otelhttp.WithFilter(traceable),
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !traceable(r) {
				next.ServeHTTP(w, r)
				return
			}
			id := r.Header.Get(HeaderInvocationID)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(HeaderInvocationID, id)
			}
			if r.Header.Get(headerTraceParent) == "" {
				r = r.WithContext(OperationContext(r.Context(), id))
			}
			instrumented.ServeHTTP(w, r)
		})
	}
}

func traceable(r *http.Request) bool {
	return !strings.HasPrefix(r.URL.Path, "/health") && r.URL.Path != "/metrics"
}

// HTTPClientTransport 返回带追踪的 http.RoundTripper，出站请求自动携带 traceparent。
// base 为 nil 时使用 http.DefaultTransport。
func HTTPClientTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
		otelhttp.WithPropagators(otel.GetTextMapPropagator()),
		otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
			return "invoke " + r.Method + " " + r.URL.Path
		}),
	)
}
