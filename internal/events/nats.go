package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// NATSConfig 定义 NATS 后端配置。
type NATSConfig struct {
	// URL 是 NATS 服务器地址
	URL string
	// Stream 是 JetStream Stream 名称
	Stream string
	// SubjectPrefix 是 subject 前缀，完整 subject 为 <prefix>.<kind>.<function>
	SubjectPrefix string
	// MaxAge 是 Stream 中消息的保留时间
	MaxAge time.Duration
	// MaxPending 是允许同时在途的异步发布数量
	MaxPending int
}

// publisher 是 NATSSink 依赖的最小 JetStream 能力，便于测试替换。
type publisher interface {
	PublishAsync(subj string, data []byte, opts ...nats.PubOpt) (nats.PubAckFuture, error)
	PublishAsyncComplete() <-chan struct{}
}

// NATSSink 通过 JetStream 异步发布遥测记录。
// Track 只把消息交给 JetStream 的异步发布队列；Flush 等待所有在途消息被确认。
type NATSSink struct {
	conn   *nats.Conn
	js     publisher
	prefix string
	logger *logrus.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewNATSSink 连接 NATS 并初始化遥测 Stream（不存在则创建，存在则尝试更新配置）。
func NewNATSSink(cfg NATSConfig, logger *logrus.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Stream == "" {
		cfg.Stream = "TELEMETRY"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "telemetry"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 4000
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("beacon-telemetry"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(cfg.MaxPending),
		nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			logger.WithError(err).WithField("subject", msg.Subject).Warn("Telemetry publish failed")
		}),
	)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream := &nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
		MaxAge:   cfg.MaxAge,
	}
	if _, err := js.AddStream(stream); err != nil && err != nats.ErrStreamNameAlreadyInUse {
		if _, err := js.UpdateStream(stream); err != nil {
			logger.WithError(err).WithField("stream", cfg.Stream).Warn("Failed to create or update telemetry stream")
		}
	}

	sink := newNATSSink(js, cfg.SubjectPrefix, logger)
	sink.conn = nc
	return sink, nil
}

func newNATSSink(js publisher, prefix string, logger *logrus.Logger) *NATSSink {
	if prefix == "" {
		prefix = "telemetry"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &NATSSink{js: js, prefix: prefix, logger: logger}
}

// Track 编码记录并异步发布。
func (s *NATSSink) Track(r telemetry.Record) {
	data, err := Marshal(r)
	if err != nil {
		s.failed.Add(1)
		s.logger.WithError(err).WithField("kind", r.Kind()).Warn("Failed to encode telemetry record")
		return
	}

	subject := Subject(s.prefix, r)
	if _, err := s.js.PublishAsync(subject, data); err != nil {
		s.failed.Add(1)
		s.logger.WithError(err).WithField("subject", subject).Warn("Failed to publish telemetry record")
		return
	}
	s.published.Add(1)
}

// Flush 等待所有在途发布完成。
func (s *NATSSink) Flush(ctx context.Context) error {
	select {
	case <-s.js.PublishAsyncComplete():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("nats flush: %w", ctx.Err())
	}
}

// Close 刷新后关闭连接。
func (s *NATSSink) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if s.conn != nil {
		s.conn.Close()
	}
	return err
}

// Stats 返回已发布与失败的记录数。
func (s *NATSSink) Stats() (published, failed int64) {
	return s.published.Load(), s.failed.Load()
}

// Ping 检查 NATS 连接状态，供就绪探针使用。
func (s *NATSSink) Ping(context.Context) error {
	if s.conn == nil {
		return nil
	}
	if !s.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %s", s.conn.Status())
	}
	return nil
}
