package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/oriys/beacon/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig 定义 Redis Streams 后端配置。
type RedisConfig struct {
	// Addr 是 Redis 地址（host:port）
	Addr string
	// Password 是 Redis 密码
	Password string
	// DB 是数据库编号
	DB int
	// Stream 是写入的 Stream key
	Stream string
	// MaxLen 是 Stream 的近似最大长度（XADD MAXLEN ~）
	MaxLen int64
	// BufferSize 是两次 Flush 之间最多缓冲的记录数，超出时丢弃最旧的记录
	BufferSize int
}

// RedisSink 把遥测记录缓冲在内存中，在 Flush 时以一次流水线批量 XADD 写入 Redis Stream。
type RedisSink struct {
	client redis.UniversalClient
	cfg    RedisConfig
	logger *logrus.Logger

	mu     sync.Mutex
	buffer [][]byte

	dropped atomic.Int64
}

// NewRedisSink 创建 Redis Streams 后端。连接是惰性的，首次 Flush 时才会真正建立。
func NewRedisSink(cfg RedisConfig, logger *logrus.Logger) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisSinkWithClient(client, cfg, logger)
}

// NewRedisSinkWithClient 使用已有客户端创建后端。
func NewRedisSinkWithClient(client redis.UniversalClient, cfg RedisConfig, logger *logrus.Logger) *RedisSink {
	if cfg.Stream == "" {
		cfg.Stream = "beacon:telemetry"
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 100000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisSink{
		client: client,
		cfg:    cfg,
		logger: logger,
		buffer: make([][]byte, 0, cfg.BufferSize),
	}
}

// Track 编码记录并放入缓冲区。
func (s *RedisSink) Track(r telemetry.Record) {
	data, err := Marshal(r)
	if err != nil {
		s.logger.WithError(err).WithField("kind", r.Kind()).Warn("Failed to encode telemetry record")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) >= s.cfg.BufferSize {
		s.buffer = s.buffer[1:]
		s.dropped.Add(1)
	}
	s.buffer = append(s.buffer, data)
}

// Flush 取出缓冲区中的全部记录并通过流水线写入。
// 写入失败的批次会被放回缓冲区头部（仍受 BufferSize 约束），下次 Flush 时重试。
func (s *RedisSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = make([][]byte, 0, s.cfg.BufferSize)
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, data := range batch {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.cfg.Stream,
			MaxLen: s.cfg.MaxLen,
			Approx: true,
			Values: map[string]interface{}{"record": data},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.requeue(batch)
		return fmt.Errorf("redis xadd pipeline: %w", err)
	}
	return nil
}

func (s *RedisSink) requeue(batch [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := append(batch, s.buffer...)
	if over := len(merged) - s.cfg.BufferSize; over > 0 {
		merged = merged[over:]
		s.dropped.Add(int64(over))
	}
	s.buffer = merged
}

// Close 刷新剩余记录并关闭客户端。
func (s *RedisSink) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	if cerr := s.client.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Pending 返回缓冲区中尚未写入的记录数。
func (s *RedisSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Dropped 返回因缓冲区满而丢弃的记录数。
func (s *RedisSink) Dropped() int64 {
	return s.dropped.Load()
}

// Ping 检查 Redis 连接，供就绪探针使用。
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
