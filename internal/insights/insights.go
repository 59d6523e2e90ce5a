// Package insights 把遥测记录发送到 Azure Application Insights。
// 底层使用 ApplicationInsights-Go SDK：SDK 的 InMemoryChannel 负责缓冲、
// 批量发送与重试，本包只负责记录类型映射与关联标签（ai.operation.id）的设置。
package insights

import (
	"context"
	"errors"
	"time"

	"github.com/microsoft/ApplicationInsights-Go/appinsights"
	"github.com/microsoft/ApplicationInsights-Go/appinsights/contracts"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// ErrMissingInstrumentationKey 表示未配置 Instrumentation Key。
var ErrMissingInstrumentationKey = errors.New("application insights instrumentation key is required")

// Config 定义 Application Insights 后端配置。
type Config struct {
	// InstrumentationKey 是资源的 Instrumentation Key
	InstrumentationKey string
	// EndpointURL 是数据接收端点，为空时使用 SDK 默认端点
	EndpointURL string
	// MaxBatchSize 是单批次发送的最大记录数
	MaxBatchSize int
	// MaxBatchInterval 是两次批量发送之间的最大间隔
	MaxBatchInterval time.Duration
	// RoleName 是 cloud role 标签，用于在应用映射中区分服务
	RoleName string
	// CloseTimeout 是关闭时等待重试发送的最长时间
	CloseTimeout time.Duration
}

// Sink 是基于 Application Insights 的遥测后端。
type Sink struct {
	client       appinsights.TelemetryClient
	listener     appinsights.DiagnosticsMessageListener
	closeTimeout time.Duration
}

// New 创建 Application Insights 后端。
// SDK 的诊断消息会以 debug 级别写入 logger。
func New(cfg Config, logger *logrus.Logger) (*Sink, error) {
	if cfg.InstrumentationKey == "" {
		return nil, ErrMissingInstrumentationKey
	}

	tc := appinsights.NewTelemetryConfiguration(cfg.InstrumentationKey)
	if cfg.EndpointURL != "" {
		tc.EndpointUrl = cfg.EndpointURL
	}
	if cfg.MaxBatchSize > 0 {
		tc.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.MaxBatchInterval > 0 {
		tc.MaxBatchInterval = cfg.MaxBatchInterval
	}

	client := appinsights.NewTelemetryClientFromConfig(tc)
	if cfg.RoleName != "" {
		client.Context().Tags.Cloud().SetRole(cfg.RoleName)
	}

	var listener appinsights.DiagnosticsMessageListener
	if logger != nil {
		listener = appinsights.NewDiagnosticsMessageListener(func(msg string) error {
			logger.WithField("component", "appinsights").Debug(msg)
			return nil
		})
	}

	return NewWithClient(client, listener, cfg.CloseTimeout), nil
}

// NewWithClient 使用已有的 SDK 客户端创建后端。
func NewWithClient(client appinsights.TelemetryClient, listener appinsights.DiagnosticsMessageListener, closeTimeout time.Duration) *Sink {
	if closeTimeout <= 0 {
		closeTimeout = 10 * time.Second
	}
	return &Sink{
		client:       client,
		listener:     listener,
		closeTimeout: closeTimeout,
	}
}

// Track 转换记录并放入 SDK 的内存通道，不会阻塞。
func (s *Sink) Track(r telemetry.Record) {
	if t := Convert(r); t != nil {
		s.client.Track(t)
	}
}

// Flush 请求 SDK 立即发送缓冲区中的数据。
// SDK 的发送由通道内部协程完成，这里只触发发送而不等待 HTTP 响应。
func (s *Sink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.client.Channel().Flush()
	return nil
}

// Close 关闭通道并在 closeTimeout 内等待剩余数据（含重试）发送完毕。
func (s *Sink) Close(ctx context.Context) error {
	if s.listener != nil {
		s.listener.Remove()
	}
	select {
	case <-s.client.Channel().Close(s.closeTimeout):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Convert 把遥测记录映射为 SDK 的遥测类型；未知类型返回 nil。
func Convert(r telemetry.Record) appinsights.Telemetry {
	b := r.Common()

	switch v := r.(type) {
	case *telemetry.Event:
		t := appinsights.NewEventTelemetry(v.Name)
		if t.Measurements == nil {
			t.Measurements = make(map[string]float64, len(v.Measurements))
		}
		for k, m := range v.Measurements {
			t.Measurements[k] = m
		}
		stamp(&t.BaseTelemetry, b, b.Timestamp)
		return t
	case *telemetry.Metric:
		t := appinsights.NewMetricTelemetry(v.Name, v.Value)
		stamp(&t.BaseTelemetry, b, b.Timestamp)
		return t
	case *telemetry.Trace:
		t := appinsights.NewTraceTelemetry(v.Message, severity(v.Severity))
		stamp(&t.BaseTelemetry, b, b.Timestamp)
		return t
	case *telemetry.Dependency:
		t := appinsights.NewRemoteDependencyTelemetry(v.Name, v.Type, v.Target, v.Success)
		t.Id = v.ID
		t.Data = v.Data
		t.ResultCode = v.ResultCode
		t.Duration = v.Duration
		// Application Insights 以开始时间作为依赖记录的时间戳
		stamp(&t.BaseTelemetry, b, b.Timestamp.Add(-v.Duration))
		return t
	case *telemetry.Request:
		t := appinsights.NewRequestTelemetry("", v.URL, v.Duration, v.ResultCode)
		t.Id = v.ID
		t.Name = v.Name
		t.Url = v.URL
		t.Source = v.Source
		t.Success = v.Success
		stamp(&t.BaseTelemetry, b, b.Timestamp.Add(-v.Duration))
		t.Tags.Operation().SetName(v.Name)
		return t
	case *telemetry.Exception:
		var cause interface{} = v.Err
		if v.Err == nil {
			cause = v.Message
		}
		t := appinsights.NewExceptionTelemetry(cause)
		t.SeverityLevel = severity(v.Severity)
		stamp(&t.BaseTelemetry, b, b.Timestamp)
		return t
	}
	return nil
}

// stamp 设置时间戳、关联标签与自定义属性。
func stamp(t *appinsights.BaseTelemetry, b *telemetry.Base, ts time.Time) {
	if !ts.IsZero() {
		t.Timestamp = ts
	}
	if t.Tags == nil {
		t.Tags = make(contracts.ContextTags)
	}
	t.Tags.Operation().SetId(b.OperationID)
	if b.ParentID != "" {
		t.Tags.Operation().SetParentId(b.ParentID)
	}
	if t.Properties == nil {
		t.Properties = make(map[string]string, len(b.Properties))
	}
	for k, v := range b.Properties {
		t.Properties[k] = v
	}
}

func severity(s telemetry.Severity) contracts.SeverityLevel {
	switch s {
	case telemetry.SeverityVerbose:
		return contracts.Verbose
	case telemetry.SeverityWarning:
		return contracts.Warning
	case telemetry.SeverityError:
		return contracts.Error
	case telemetry.SeverityCritical:
		return contracts.Critical
	default:
		return contracts.Information
	}
}
