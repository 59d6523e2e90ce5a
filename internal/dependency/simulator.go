// Package dependency 提供模拟的外部依赖调用。
//
// Simulator 等待一段随机延迟来模拟一次出站 HTTP 调用，并为结果发出一条依赖遥测记录。
// 失败路径通过故障注入（成功率或固定错误）触发，用于验证处理器的失败分支。
package dependency

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/telemetry"
)

// 默认的依赖描述与延迟区间
const (
	DefaultTarget   = "external-api.example.com"
	DefaultName     = "GET /api/data"
	DefaultType     = "HTTP"
	DefaultMinDelay = 50 * time.Millisecond
	DefaultMaxDelay = 150 * time.Millisecond
)

// ErrServerError 是按成功率随机失败时返回的错误。
var ErrServerError = errors.New("external-api returned 500")

// Options 定义模拟器参数。
type Options struct {
	// MinDelay 与 MaxDelay 定义延迟区间 [MinDelay, MaxDelay)；二者相等时为固定延迟
	MinDelay time.Duration
	MaxDelay time.Duration
	// SuccessRate 是调用成功的概率，取值 [0, 1]
	SuccessRate float64
	// Fault 不为 nil 时每次调用都以该错误失败
	Fault error
	// Target 是依赖的目标主机
	Target string
	// Name 是依赖名称，同时作为 Data 记录
	Name string
	// Type 是依赖类型
	Type string
}

// DefaultOptions 返回与默认行为一致的参数：50~150ms 延迟，总是成功。
func DefaultOptions() Options {
	return Options{
		MinDelay:    DefaultMinDelay,
		MaxDelay:    DefaultMaxDelay,
		SuccessRate: 1.0,
		Target:      DefaultTarget,
		Name:        DefaultName,
		Type:        DefaultType,
	}
}

// Validate 校验参数。
func (o Options) Validate() error {
	if o.MinDelay < 0 || o.MaxDelay < o.MinDelay {
		return domain.ErrInvalidDelayRange
	}
	if o.SuccessRate < 0 || o.SuccessRate > 1 {
		return domain.ErrInvalidSuccessRate
	}
	return nil
}

// Option 修改模拟器参数。
type Option func(*Options)

// WithDelay 设置延迟区间。
func WithDelay(min, max time.Duration) Option {
	return func(o *Options) {
		o.MinDelay = min
		o.MaxDelay = max
	}
}

// WithFixedDelay 设置固定延迟。
func WithFixedDelay(d time.Duration) Option {
	return WithDelay(d, d)
}

// WithSuccessRate 设置成功率。
func WithSuccessRate(rate float64) Option {
	return func(o *Options) { o.SuccessRate = rate }
}

// WithFault 让每次调用都以 err 失败。
func WithFault(err error) Option {
	return func(o *Options) { o.Fault = err }
}

// WithTarget 设置依赖的目标与名称。
func WithTarget(target, name string) Option {
	return func(o *Options) {
		o.Target = target
		o.Name = name
	}
}

// Simulator 是模拟的外部依赖。可被多个调用并发使用。
type Simulator struct {
	client telemetry.Client
	opts   Options

	mu  sync.Mutex
	rng *rand.Rand
}

// New 创建模拟器。参数无效时返回错误。
func New(client telemetry.Client, opts ...Option) (*Simulator, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if o.Target == "" {
		o.Target = DefaultTarget
	}
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.Type == "" {
		o.Type = DefaultType
	}
	if client == nil {
		client = telemetry.Nop{}
	}
	return &Simulator{
		client: client,
		opts:   o,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}, nil
}

// Options 返回生效的参数。
func (s *Simulator) Options() Options {
	return s.opts
}

// Call 以 operationID 作为关联 ID 执行一次模拟调用。
func (s *Simulator) Call(ctx context.Context, operationID string) error {
	return s.Invoke(ctx, telemetry.NewScope(s.client, operationID))
}

// Invoke 执行一次模拟调用，依赖记录通过 scope 发出，从而继承调用的关联 ID 与默认属性。
//
// 无论成功与否都恰好发出一条依赖记录；失败时先发出记录再返回
// *domain.DependencyError（可用 errors.Is 匹配 domain.ErrDependencyFailed）。
func (s *Simulator) Invoke(ctx context.Context, scope *telemetry.Scope) error {
	start := time.Now()

	err := s.wait(ctx)
	if err == nil {
		err = s.outcome()
	}

	dep := &telemetry.Dependency{
		ID:         uuid.NewString(),
		Target:     s.opts.Target,
		Name:       s.opts.Name,
		Data:       s.opts.Name,
		Type:       s.opts.Type,
		ResultCode: "200",
		Duration:   time.Since(start),
		Success:    err == nil,
	}
	if err != nil {
		dep.ResultCode = "500"
	}
	scope.TrackDependency(dep)

	if err != nil {
		return &domain.DependencyError{Target: s.opts.Target, ResultCode: dep.ResultCode, Err: err}
	}
	return nil
}

func (s *Simulator) wait(ctx context.Context) error {
	d := s.delay()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) delay() time.Duration {
	span := s.opts.MaxDelay - s.opts.MinDelay
	if span <= 0 {
		return s.opts.MinDelay
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.MinDelay + time.Duration(s.rng.Int64N(int64(span)))
}

func (s *Simulator) outcome() error {
	if s.opts.Fault != nil {
		return s.opts.Fault
	}
	if s.opts.SuccessRate >= 1 {
		return nil
	}
	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()
	if roll < s.opts.SuccessRate {
		return nil
	}
	return ErrServerError
}
