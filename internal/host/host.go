// Package host 负责在进程启动时组装函数宿主的全部组件。
//
// 遥测客户端在这里被显式构造一次（按配置启用的后端扇出为一个 telemetry.Multi），
// 注入到函数处理器与依赖模拟器中，并在进程退出时由 App.Close 统一关闭。
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/oriys/beacon/internal/api"
	"github.com/oriys/beacon/internal/config"
	"github.com/oriys/beacon/internal/dependency"
	"github.com/oriys/beacon/internal/events"
	"github.com/oriys/beacon/internal/function"
	"github.com/oriys/beacon/internal/insights"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/scheduler"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// App 持有宿主进程中的长生命周期组件。
type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Client    *telemetry.Multi
	Tracing   *telemetry.Telemetry
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Simulator *dependency.Simulator
	Function  *function.Handler
	Router    http.Handler
	Warmup    *scheduler.WarmupTrigger

	pingers []func(context.Context) error
}

// NewLogger 按日志配置创建 logrus 实例。
func NewLogger(cfg config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger, nil
}

// New 根据配置创建 App。任一后端初始化失败时，已创建的后端会被关闭。
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app := &App{Config: cfg, Logger: logger}

	if cfg.Metrics.Enabled {
		app.Registry = prometheus.NewRegistry()
		app.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.Metrics = metrics.NewMetricsWith(app.Registry, cfg.Metrics.Namespace)
	}

	sinks, err := app.buildSinks(ctx)
	if err != nil {
		return nil, err
	}
	app.Client = telemetry.NewMulti(sinks...)
	if app.Client.Len() == 0 {
		logger.Warn("No telemetry sink enabled, records will be discarded")
	}

	simOpts := []dependency.Option{
		dependency.WithDelay(cfg.Simulator.MinDelay, cfg.Simulator.MaxDelay),
		dependency.WithSuccessRate(cfg.Simulator.Rate()),
	}
	if cfg.Simulator.FaultMessage != "" {
		simOpts = append(simOpts, dependency.WithFault(errors.New(cfg.Simulator.FaultMessage)))
	}
	if cfg.Simulator.Target != "" || cfg.Simulator.Name != "" {
		simOpts = append(simOpts, dependency.WithTarget(cfg.Simulator.Target, cfg.Simulator.Name))
	}
	app.Simulator, err = dependency.New(app.Client, simOpts...)
	if err != nil {
		app.closeSinks(ctx)
		return nil, err
	}

	fnOpts := []function.Option{
		function.WithGreeting(cfg.Function.Greeting),
		function.WithFlushTimeout(cfg.Telemetry.FlushTimeout),
	}
	if app.Metrics != nil {
		fnOpts = append(fnOpts, function.WithMetrics(app.Metrics))
	}
	app.Function = function.NewHandler(app.Client, app.Simulator, logger, fnOpts...)

	routerCfg := &api.RouterConfig{
		Handler:        api.NewHandler(app.Function, cfg.Function.Name, app.Ready, logger),
		Route:          cfg.Function.Route,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger,
	}
	if app.Tracing != nil && app.Tracing.IsEnabled() {
		routerCfg.ServiceName = cfg.Telemetry.OTel.ServiceName
	}
	if app.Registry != nil {
		routerCfg.Gatherer = app.Registry
	}
	app.Router = api.NewRouter(routerCfg)

	if cfg.Warmup.Enabled {
		app.Warmup, err = scheduler.NewWarmupTrigger(app.Function, cfg.Function.Name, cfg.Warmup.Schedule, cfg.Server.RequestTimeout, logger)
		if err != nil {
			app.closeSinks(ctx)
			return nil, err
		}
	}

	return app, nil
}

func (a *App) buildSinks(ctx context.Context) (sinks []telemetry.Client, err error) {
	cfg := a.Config.Telemetry
	logger := a.Logger

	defer func() {
		if err != nil {
			for _, s := range sinks {
				_ = s.Close(ctx)
			}
			if a.Tracing != nil {
				_ = a.Tracing.Shutdown(ctx)
			}
		}
	}()

	if cfg.AppInsights.Enabled {
		sink, err := insights.New(insights.Config{
			InstrumentationKey: cfg.AppInsights.InstrumentationKey,
			EndpointURL:        cfg.AppInsights.EndpointURL,
			MaxBatchSize:       cfg.AppInsights.MaxBatchSize,
			MaxBatchInterval:   cfg.AppInsights.MaxBatchInterval,
			RoleName:           cfg.RoleName,
			CloseTimeout:       cfg.AppInsights.CloseTimeout,
		}, logger)
		if err != nil {
			return sinks, fmt.Errorf("application insights: %w", err)
		}
		sinks = append(sinks, sink)
		logger.WithField("endpoint", cfg.AppInsights.EndpointURL).Info("Application Insights sink enabled")
	}

	if cfg.OTel.Enabled {
		tel, err := telemetry.New(ctx, telemetry.Config{
			Enabled:        true,
			Endpoint:       cfg.OTel.Endpoint,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: cfg.OTel.ServiceVersion,
			SampleRate:     cfg.OTel.SampleRate,
			Environment:    cfg.OTel.Environment,
			MetricInterval: cfg.OTel.MetricInterval,
		})
		if err != nil {
			return sinks, fmt.Errorf("opentelemetry: %w", err)
		}
		a.Tracing = tel
		logger.AddHook(telemetry.NewLogrusHook())
		sinks = append(sinks, telemetry.NewSpanSink(tel))
		logger.WithFields(logrus.Fields{
			"endpoint":    cfg.OTel.Endpoint,
			"sample_rate": cfg.OTel.SampleRate,
		}).Info("OpenTelemetry sink enabled")
	}

	if cfg.NATS.Enabled {
		sink, err := events.NewNATSSink(events.NATSConfig{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxAge:        cfg.NATS.MaxAge,
		}, logger)
		if err != nil {
			return sinks, fmt.Errorf("nats: %w", err)
		}
		sinks = append(sinks, sink)
		a.pingers = append(a.pingers, sink.Ping)
		logger.WithField("url", cfg.NATS.URL).Info("NATS sink enabled")
	}

	if cfg.Redis.Enabled {
		sink := events.NewRedisSink(events.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Stream:     cfg.Redis.Stream,
			MaxLen:     cfg.Redis.MaxLen,
			BufferSize: cfg.Redis.BufferSize,
		}, logger)
		sinks = append(sinks, sink)
		a.pingers = append(a.pingers, sink.Ping)
		logger.WithField("addr", cfg.Redis.Addr).Info("Redis Streams sink enabled")
	}

	if cfg.Log.Enabled {
		level, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, events.NewLogSink(logger, level))
	}

	if a.Metrics != nil {
		sinks = append(sinks, metrics.NewSink(a.Metrics))
	}

	return sinks, nil
}

// Ready 检查各后端的连接状态。
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	for _, ping := range a.pingers {
		errs = append(errs, ping(ctx))
	}
	return errors.Join(errs...)
}

// Start 启动后台组件（预热调度）。
func (a *App) Start() {
	if a.Warmup != nil {
		a.Warmup.Start()
	}
}

// Close 停止后台组件，刷新并关闭所有遥测后端，最后关闭追踪提供者。
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Warmup != nil {
		errs = append(errs, a.Warmup.Stop(ctx))
	}
	errs = append(errs, a.closeSinks(ctx))
	return errors.Join(errs...)
}

func (a *App) closeSinks(ctx context.Context) error {
	var errs []error
	if a.Client != nil {
		errs = append(errs, a.Client.Close(ctx))
	}
	if a.Tracing != nil {
		errs = append(errs, a.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
