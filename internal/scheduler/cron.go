// Package scheduler 提供定时触发的预热调用。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/function"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Invoker 执行一次函数调用。
type Invoker interface {
	Invoke(ctx context.Context, inv *domain.InvocationContext) *function.Result
}

// WarmupTrigger 按 cron 表达式定期发起一次合成调用。
// 合成调用与 HTTP 调用走同一个处理器，因此会产生完整的一组遥测记录，
// 触发类型为 timer。
type WarmupTrigger struct {
	cron         *cron.Cron
	invoker      Invoker
	functionName string
	schedule     string
	timeout      time.Duration
	logger       *logrus.Logger

	mu      sync.Mutex
	entryID cron.EntryID
	fired   int
}

// NewWarmupTrigger 创建预热触发器。schedule 为六段式表达式（含秒）。
func NewWarmupTrigger(invoker Invoker, functionName, schedule string, timeout time.Duration, logger *logrus.Logger) (*WarmupTrigger, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	wt := &WarmupTrigger{
		cron:         cron.New(cron.WithSeconds()), // 支持秒级
		invoker:      invoker,
		functionName: functionName,
		schedule:     schedule,
		timeout:      timeout,
		logger:       logger,
	}

	id, err := wt.cron.AddFunc(schedule, func() { wt.Fire(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("invalid warmup schedule %q: %w", schedule, err)
	}
	wt.entryID = id
	return wt, nil
}

// Start 启动调度器。
func (wt *WarmupTrigger) Start() {
	wt.cron.Start()
	wt.logger.WithFields(logrus.Fields{
		"function_name": wt.functionName,
		"cron":          wt.schedule,
	}).Info("Warmup trigger started")
}

// Stop 停止调度器并等待正在执行的调用结束（或 ctx 到期）。
func (wt *WarmupTrigger) Stop(ctx context.Context) error {
	done := wt.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next 返回下一次触发时间。
func (wt *WarmupTrigger) Next() time.Time {
	return wt.cron.Entry(wt.entryID).Next
}

// Fire 立即发起一次合成调用。
func (wt *WarmupTrigger) Fire(ctx context.Context) *function.Result {
	ctx, cancel := context.WithTimeout(ctx, wt.timeout)
	defer cancel()

	inv := domain.NewInvocationContext(uuid.NewString(), wt.functionName, "POST", "timer://"+wt.functionName, domain.TriggerTimer)

	entry := wt.logger.WithFields(logrus.Fields{
		"function_name": wt.functionName,
		"invocation_id": inv.InvocationID,
		"cron":          wt.schedule,
	})
	entry.Info("Triggering warmup invocation")

	res := wt.invoker.Invoke(ctx, inv)

	wt.mu.Lock()
	wt.fired++
	wt.mu.Unlock()

	if res.Err != nil {
		entry.WithError(res.Err).Warn("Warmup invocation failed")
	}
	return res
}

// Fired 返回已触发的次数。
func (wt *WarmupTrigger) Fired() int {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	return wt.fired
}
