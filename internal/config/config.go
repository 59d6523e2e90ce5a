// Package config 提供了函数宿主的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如密钥和连接串）。
// 配置包含了服务器、函数、依赖模拟器、遥测后端、日志、指标和预热调度等多个方面的设置。
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Server 服务器配置，包括 HTTP 端口、指标端口等
	Server ServerConfig `yaml:"server"`
	// Function 函数配置，包括名称、路由和响应消息
	Function FunctionConfig `yaml:"function"`
	// Simulator 依赖模拟器配置，包括延迟区间和故障注入
	Simulator SimulatorConfig `yaml:"simulator"`
	// Telemetry 遥测配置，包括各个遥测后端
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Warmup 预热调度配置
	Warmup WarmupConfig `yaml:"warmup"`
}

// ServerConfig HTTP 服务器配置结构体。
type ServerConfig struct {
	// HTTPPort 函数 HTTP 服务端口
	// 默认值：7071
	HTTPPort int `yaml:"http_port"`
	// MetricsPort Prometheus 指标服务端口
	// 默认值：9090
	MetricsPort int `yaml:"metrics_port"`
	// RequestTimeout 单个请求的处理超时
	// 默认值：60 秒
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ShutdownTimeout 优雅关闭的超时时间
	// 默认值：30 秒
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FunctionConfig 函数配置结构体。
type FunctionConfig struct {
	// Name 函数名称，出现在遥测属性 functionName 中
	// 默认值：httpTrigger
	Name string `yaml:"name"`
	// Route 函数路由，同时接受 GET 与 POST
	// 默认值：/
	Route string `yaml:"route"`
	// Greeting 成功响应中的消息
	Greeting string `yaml:"greeting"`
}

// SimulatorConfig 依赖模拟器配置结构体。
type SimulatorConfig struct {
	// MinDelay 最小延迟，默认 50ms
	MinDelay time.Duration `yaml:"min_delay"`
	// MaxDelay 最大延迟（不含），默认 150ms
	MaxDelay time.Duration `yaml:"max_delay"`
	// SuccessRate 成功率，取值 [0, 1]，未设置时为 1（总是成功）
	SuccessRate *float64 `yaml:"success_rate"`
	// FaultMessage 不为空时每次调用都以该消息失败
	FaultMessage string `yaml:"fault_message"`
	// Target 依赖目标主机
	Target string `yaml:"target"`
	// Name 依赖名称
	Name string `yaml:"name"`
}

// Rate 返回生效的成功率。
func (s SimulatorConfig) Rate() float64 {
	if s.SuccessRate == nil {
		return 1.0
	}
	return *s.SuccessRate
}

// TelemetryConfig 遥测配置结构体。
// 每个后端可以独立启用，所有启用的后端都会收到同一组记录。
type TelemetryConfig struct {
	// FlushTimeout 每次调用结束时刷新遥测的超时时间
	// 默认值：5 秒
	FlushTimeout time.Duration `yaml:"flush_timeout"`
	// RoleName 云角色名，用于在应用映射中区分服务
	RoleName string `yaml:"role_name"`
	// AppInsights Application Insights 后端
	AppInsights AppInsightsConfig `yaml:"appinsights"`
	// OTel OpenTelemetry 追踪后端
	OTel OTelConfig `yaml:"otel"`
	// NATS NATS JetStream 后端
	NATS NATSConfig `yaml:"nats"`
	// Redis Redis Streams 后端
	Redis RedisConfig `yaml:"redis"`
	// Log 结构化日志后端
	Log LogSinkConfig `yaml:"log"`
}

// AppInsightsConfig Application Insights 后端配置。
type AppInsightsConfig struct {
	Enabled bool `yaml:"enabled"`
	// InstrumentationKey 资源的 Instrumentation Key
	// 可通过环境变量 BEACON_APPINSIGHTS_INSTRUMENTATION_KEY 覆盖
	InstrumentationKey string `yaml:"instrumentation_key"`
	// ConnectionString 连接串，设置时优先于 InstrumentationKey 与 EndpointURL
	// 可通过环境变量 APPLICATIONINSIGHTS_CONNECTION_STRING 覆盖
	ConnectionString string `yaml:"connection_string"`
	// EndpointURL 数据接收端点
	EndpointURL string `yaml:"endpoint_url"`
	// MaxBatchSize 单批次最大记录数
	MaxBatchSize int `yaml:"max_batch_size"`
	// MaxBatchInterval 批量发送最大间隔
	MaxBatchInterval time.Duration `yaml:"max_batch_interval"`
	// CloseTimeout 关闭时等待发送完成的时间
	CloseTimeout time.Duration `yaml:"close_timeout"`
}

// OTelConfig OpenTelemetry 后端配置。
type OTelConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP gRPC 端点
	// 默认值：localhost:4317
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称
	// 默认值：beacon
	ServiceName string `yaml:"service_name"`
	// ServiceVersion 服务版本
	ServiceVersion string `yaml:"service_version"`
	// SampleRate 采样率
	// 默认值：1.0
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 部署环境
	// 默认值：development
	Environment string `yaml:"environment"`
	// MetricInterval OTLP 指标导出间隔
	// 默认值：15s
	MetricInterval time.Duration `yaml:"metric_interval"`
}

// NATSConfig NATS 后端配置。
type NATSConfig struct {
	Enabled bool `yaml:"enabled"`
	// URL NATS 服务器地址
	// 默认值：nats://localhost:4222
	URL string `yaml:"url"`
	// Stream JetStream Stream 名称
	Stream string `yaml:"stream"`
	// SubjectPrefix subject 前缀
	SubjectPrefix string `yaml:"subject_prefix"`
	// MaxAge 消息保留时间
	MaxAge time.Duration `yaml:"max_age"`
}

// RedisConfig Redis Streams 后端配置。
type RedisConfig struct {
	Enabled bool `yaml:"enabled"`
	// Addr Redis 地址
	// 默认值：localhost:6379
	Addr string `yaml:"addr"`
	// Password Redis 密码，可通过环境变量 BEACON_REDIS_PASSWORD 覆盖
	Password string `yaml:"password"`
	// DB 数据库编号
	DB int `yaml:"db"`
	// Stream Stream key
	Stream string `yaml:"stream"`
	// MaxLen Stream 近似最大长度
	MaxLen int64 `yaml:"max_len"`
	// BufferSize 两次刷新之间的缓冲上限
	BufferSize int `yaml:"buffer_size"`
}

// LogSinkConfig 日志后端配置。
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
	// Level 记录写入日志时使用的级别
	// 默认值：info
	Level string `yaml:"level"`
}

// LoggingConfig 日志配置结构体。
type LoggingConfig struct {
	// Level 日志级别：trace/debug/info/warn/error
	// 默认值：info
	Level string `yaml:"level"`
	// Format 日志格式：json 或 text
	// 默认值：json
	Format string `yaml:"format"`
}

// MetricsConfig Prometheus 指标配置结构体。
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Namespace 指标名前缀
	// 默认值：beacon
	Namespace string `yaml:"namespace"`
}

// WarmupConfig 预热调度配置结构体。
type WarmupConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule 六段式 cron 表达式（含秒）
	// 默认值：每 5 分钟一次
	Schedule string `yaml:"schedule"`
}

// Default 返回仅包含默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg
}

// Load 从指定路径加载配置文件。
// 加载后依次应用默认值与环境变量覆盖；path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Validate 校验配置之间的一致性。
func (c *Config) Validate() error {
	if c.Simulator.MinDelay < 0 || c.Simulator.MaxDelay < c.Simulator.MinDelay {
		return domain.ErrInvalidDelayRange
	}
	if r := c.Simulator.Rate(); r < 0 || r > 1 {
		return domain.ErrInvalidSuccessRate
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidLogLevel, c.Logging.Level)
	}
	if _, err := logrus.ParseLevel(c.Telemetry.Log.Level); err != nil {
		return fmt.Errorf("%w: telemetry.log.level %q", domain.ErrInvalidLogLevel, c.Telemetry.Log.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format %q: must be json or text", c.Logging.Format)
	}
	if !strings.HasPrefix(c.Function.Route, "/") {
		return fmt.Errorf("invalid function route %q: must start with /", c.Function.Route)
	}
	if c.Telemetry.AppInsights.Enabled && c.Telemetry.AppInsights.InstrumentationKey == "" {
		return fmt.Errorf("telemetry.appinsights is enabled but no instrumentation key or connection string is set")
	}
	if c.Server.HTTPPort == c.Server.MetricsPort && c.Metrics.Enabled {
		return fmt.Errorf("server.http_port and server.metrics_port must differ")
	}
	return nil
}

// applyEnvOverrides 应用环境变量覆盖。
// 该方法允许通过环境变量覆盖敏感配置项，支持两种方式：
// 1. 直接设置环境变量（如 BEACON_REDIS_PASSWORD）
// 2. 通过 _FILE 后缀指定包含密钥的文件路径（如 BEACON_REDIS_PASSWORD_FILE）
// _FILE 方式优先级更高，适用于 Docker Secrets 等场景。
func (c *Config) applyEnvOverrides() {
	ai := &c.Telemetry.AppInsights

	if v := readEnvOrFileAny(
		[]string{"BEACON_APPINSIGHTS_INSTRUMENTATION_KEY", "APPINSIGHTS_INSTRUMENTATIONKEY"},
		[]string{"BEACON_APPINSIGHTS_INSTRUMENTATION_KEY_FILE"},
	); v != "" {
		ai.InstrumentationKey = v
		ai.Enabled = true
	}
	if v := readEnvOrFileAny(
		[]string{"APPLICATIONINSIGHTS_CONNECTION_STRING", "BEACON_APPINSIGHTS_CONNECTION_STRING"},
		[]string{"BEACON_APPINSIGHTS_CONNECTION_STRING_FILE"},
	); v != "" {
		ai.ConnectionString = v
		ai.Enabled = true
	}
	if ai.ConnectionString != "" {
		key, endpoint := ParseConnectionString(ai.ConnectionString)
		if key != "" {
			ai.InstrumentationKey = key
		}
		if endpoint != "" {
			ai.EndpointURL = endpoint
		}
	}

	if v := readEnvOrFileAny(
		[]string{"BEACON_REDIS_PASSWORD"},
		[]string{"BEACON_REDIS_PASSWORD_FILE"},
	); v != "" {
		c.Telemetry.Redis.Password = v
	}
}

// ParseConnectionString 解析 Application Insights 连接串，
// 返回 Instrumentation Key 与数据接收端点（已拼接 /v2/track）。
// 连接串格式为以分号分隔的 Key=Value 对，键名不区分大小写。
func ParseConnectionString(s string) (instrumentationKey, endpointURL string) {
	for _, part := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch {
		case strings.EqualFold(k, "InstrumentationKey"):
			instrumentationKey = v
		case strings.EqualFold(k, "IngestionEndpoint"):
			if v != "" {
				endpointURL = strings.TrimRight(v, "/") + "/v2/track"
			}
		}
	}
	return instrumentationKey, endpointURL
}

// readEnvOrFileAny 从环境变量或文件读取配置值。
// 优先从 fileKeys 指定的文件路径读取，如果文件不存在或读取失败，
// 则从 envKeys 指定的环境变量读取。
func readEnvOrFileAny(envKeys []string, fileKeys []string) string {
	for _, fileKey := range fileKeys {
		if filePath := strings.TrimSpace(os.Getenv(fileKey)); filePath != "" {
			if b, err := os.ReadFile(filePath); err == nil {
				return strings.TrimSpace(string(b))
			}
		}
	}

	for _, envKey := range envKeys {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v
		}
	}

	return ""
}

// applyDefaults 应用默认配置值。
// 该方法为未设置的配置项填充合理的默认值，确保应用可以正常运行。
func (c *Config) applyDefaults() {
	// 函数端口默认为 7071（与 Functions 本地宿主一致）
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 7071
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Function.Name == "" {
		c.Function.Name = "httpTrigger"
	}
	if c.Function.Route == "" {
		c.Function.Route = "/"
	}

	// 模拟依赖默认延迟 50~150ms；只设置了 min 时区间退化为固定延迟
	if c.Simulator.MinDelay == 0 && c.Simulator.MaxDelay == 0 {
		c.Simulator.MinDelay = 50 * time.Millisecond
		c.Simulator.MaxDelay = 150 * time.Millisecond
	}
	if c.Simulator.MaxDelay == 0 {
		c.Simulator.MaxDelay = c.Simulator.MinDelay
	}

	if c.Telemetry.FlushTimeout == 0 {
		c.Telemetry.FlushTimeout = 5 * time.Second
	}
	if c.Telemetry.RoleName == "" {
		c.Telemetry.RoleName = c.Function.Name
	}
	if c.Telemetry.AppInsights.CloseTimeout == 0 {
		c.Telemetry.AppInsights.CloseTimeout = 10 * time.Second
	}
	if c.Telemetry.OTel.Endpoint == "" {
		c.Telemetry.OTel.Endpoint = "localhost:4317"
	}
	if c.Telemetry.OTel.ServiceName == "" {
		c.Telemetry.OTel.ServiceName = "beacon"
	}
	if c.Telemetry.OTel.SampleRate == 0 {
		c.Telemetry.OTel.SampleRate = 1.0
	}
	if c.Telemetry.OTel.MetricInterval == 0 {
		c.Telemetry.OTel.MetricInterval = 15 * time.Second
	}
	if c.Telemetry.OTel.Environment == "" {
		c.Telemetry.OTel.Environment = "development"
	}
	if c.Telemetry.NATS.URL == "" {
		c.Telemetry.NATS.URL = "nats://localhost:4222"
	}
	if c.Telemetry.NATS.Stream == "" {
		c.Telemetry.NATS.Stream = "TELEMETRY"
	}
	if c.Telemetry.NATS.SubjectPrefix == "" {
		c.Telemetry.NATS.SubjectPrefix = "telemetry"
	}
	if c.Telemetry.NATS.MaxAge == 0 {
		c.Telemetry.NATS.MaxAge = 24 * time.Hour
	}
	if c.Telemetry.Redis.Addr == "" {
		c.Telemetry.Redis.Addr = "localhost:6379"
	}
	if c.Telemetry.Redis.Stream == "" {
		c.Telemetry.Redis.Stream = "beacon:telemetry"
	}
	if c.Telemetry.Redis.MaxLen == 0 {
		c.Telemetry.Redis.MaxLen = 100000
	}
	if c.Telemetry.Redis.BufferSize == 0 {
		c.Telemetry.Redis.BufferSize = 1024
	}
	if c.Telemetry.Log.Level == "" {
		c.Telemetry.Log.Level = "info"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "beacon"
	}
	if c.Warmup.Schedule == "" {
		c.Warmup.Schedule = "0 */5 * * * *"
	}
}
