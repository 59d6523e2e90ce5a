package scheduler

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/oriys/beacon/internal/domain"
	"github.com/oriys/beacon/internal/function"
	"github.com/sirupsen/logrus"
)

type invokerFunc func(ctx context.Context, inv *domain.InvocationContext) *function.Result

func (f invokerFunc) Invoke(ctx context.Context, inv *domain.InvocationContext) *function.Result {
	return f(ctx, inv)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func TestNewWarmupTrigger_InvalidSchedule(t *testing.T) {
	_, err := NewWarmupTrigger(invokerFunc(nil), "httpTrigger", "not a cron", time.Second, quietLogger())
	if err == nil {
		t.Fatal("NewWarmupTrigger should reject an invalid schedule")
	}
}

func TestWarmupTrigger_Fire(t *testing.T) {
	var got *domain.InvocationContext
	inv := invokerFunc(func(ctx context.Context, inv *domain.InvocationContext) *function.Result {
		got = inv
		if _, ok := ctx.Deadline(); !ok {
			t.Error("warmup invocation should carry a deadline")
		}
		return &function.Result{Status: http.StatusOK, OperationID: inv.InvocationID}
	})

	wt, err := NewWarmupTrigger(inv, "httpTrigger", "0 */5 * * * *", time.Second, quietLogger())
	if err != nil {
		t.Fatalf("NewWarmupTrigger: %v", err)
	}

	res := wt.Fire(context.Background())

	if res.Status != http.StatusOK {
		t.Errorf("Status = %d", res.Status)
	}
	if got == nil {
		t.Fatal("invoker was not called")
	}
	if got.TriggerType != domain.TriggerTimer || got.FunctionName != "httpTrigger" {
		t.Errorf("invocation = %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("synthetic invocation should be valid: %v", err)
	}
	if wt.Fired() != 1 {
		t.Errorf("Fired() = %d, want 1", wt.Fired())
	}
}

func TestWarmupTrigger_Schedules(t *testing.T) {
	fired := make(chan struct{}, 4)
	inv := invokerFunc(func(ctx context.Context, inv *domain.InvocationContext) *function.Result {
		fired <- struct{}{}
		return &function.Result{Status: http.StatusOK}
	})

	wt, err := NewWarmupTrigger(inv, "httpTrigger", "* * * * * *", time.Second, quietLogger())
	if err != nil {
		t.Fatalf("NewWarmupTrigger: %v", err)
	}
	if next := wt.Next(); !next.IsZero() {
		t.Errorf("Next() before Start = %v, want zero", next)
	}

	wt.Start()
	defer wt.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("warmup trigger did not fire within 3s")
	}
}
