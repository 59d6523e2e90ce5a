// Package telemetry 提供 OpenTelemetry 分布式追踪功能的封装。
// 本文件负责初始化追踪提供者与指标提供者，二者共用一条到 OTLP 接收器的 gRPC 连接
// （如 Tempo、OpenTelemetry Collector 等），并暴露 ForceFlush 供遥测后端在调用结束时刷新。
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config 定义 OpenTelemetry 追踪配置。
type Config struct {
	// Enabled 控制是否启用追踪，设为 false 时只使用全局空操作追踪器
	Enabled bool `yaml:"enabled"`
	// Endpoint 指定 OTLP 接收器的 gRPC 端点地址，例如 "tempo:4317"
	Endpoint string `yaml:"endpoint"`
	// ServiceName 标识当前服务的名称
	ServiceName string `yaml:"service_name"`
	// ServiceVersion 标识当前服务的版本
	ServiceVersion string `yaml:"service_version"`
	// SampleRate 采样率，取值范围 0.0 到 1.0（1.0 表示 100% 采样）
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 标识当前运行环境，如 production、staging、development
	Environment string `yaml:"environment"`
	// MetricInterval 指标周期导出间隔，默认 15 秒
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// Telemetry 封装了 OpenTelemetry 的追踪提供者与指标提供者。
type Telemetry struct {
	config         Config
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meterProvider  *sdkmetric.MeterProvider
}

// New 根据给定配置创建新的 Telemetry 实例。
//  1. 如果未启用，返回仅包含全局追踪器的实例
//  2. 设置默认值并建立到 OTLP 接收器的 gRPC 连接
//  3. 创建资源、采样器和批量导出的追踪提供者
//  4. 创建周期导出的指标提供者
//  5. 设置全局提供者和 W3C 上下文传播器
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{
			config: cfg,
			tracer: otel.Tracer(cfg.ServiceName),
		}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "beacon"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "1.0.0"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 1.0 // 每次调用只产生少量 Span，默认全量采样
	}
	if cfg.SampleRate > 1 {
		cfg.SampleRate = 1.0
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "tempo:4317"
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = 15 * time.Second
	}

	// 限制 gRPC 连接建立时间为 10 秒
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to %s: %w", cfg.Endpoint, err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.SampleRate)),
	)

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
			sdkmetric.WithInterval(cfg.MetricInterval),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Telemetry{
		config:         cfg,
		tracerProvider: tp,
		tracer:         tp.Tracer(cfg.ServiceName),
		meterProvider:  mp,
	}, nil
}

// NewWithProvider 使用已有的提供者创建实例，主要用于测试。mp 可以为 nil。
func NewWithProvider(cfg Config, tp *sdktrace.TracerProvider, mp *sdkmetric.MeterProvider) *Telemetry {
	cfg.Enabled = true
	return &Telemetry{
		config:         cfg,
		tracerProvider: tp,
		tracer:         tp.Tracer(cfg.ServiceName),
		meterProvider:  mp,
	}
}

// Sampler 返回按 rate 采样的采样器。
//
// 记录 Span 的父 SpanContext 是由关联 ID 合成的远端上下文（见 OperationContext），
// 它总是带有 sampled 标志，因此远端父级已采样时同样交给比率采样器决定。
// TraceIDRatioBased 只依赖 TraceID，同一调用的所有 Span 得到相同的决策。
func Sampler(rate float64) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	case rate <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root, sdktrace.WithRemoteParentSampled(root))
}

// Tracer 返回用于创建 Span 的追踪器实例。
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Meter 返回用于创建指标仪表的 Meter，未配置指标提供者时返回 nil。
func (t *Telemetry) Meter() metric.Meter {
	if t.meterProvider == nil {
		return nil
	}
	return t.meterProvider.Meter(t.config.ServiceName)
}

// ForceFlush 立即导出所有已结束但尚未发送的 Span 与已累积的指标。
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.ForceFlush(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.ForceFlush(ctx))
	}
	return errors.Join(errs...)
}

// Shutdown 刷新所有待发送的数据并释放资源，应在进程退出前调用。
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// IsEnabled 返回追踪功能是否已启用。
func (t *Telemetry) IsEnabled() bool {
	return t.config.Enabled
}

// TraceIDFromContext 从上下文中提取 Trace ID，上下文无效时返回空字符串。
func TraceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// TraceParentFromContext 返回上下文中 Span 对应的 W3C traceparent 值。
func TraceParentFromContext(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}
