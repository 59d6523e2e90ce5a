// Package telemetrytest 提供用于测试的内存遥测客户端。
package telemetrytest

import (
	"context"
	"sync"

	"github.com/oriys/beacon/internal/telemetry"
)

// Recorder 在内存中保存所有记录，并统计 Flush/Close 次数。
type Recorder struct {
	mu       sync.Mutex
	records  []telemetry.Record
	flushes  int
	closes   int
	FlushErr error
}

// NewRecorder 创建空的 Recorder。
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Track(rec telemetry.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *Recorder) Flush(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
	return r.FlushErr
}

func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

// Records 返回所有记录的副本。
func (r *Recorder) Records() []telemetry.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]telemetry.Record, len(r.records))
	copy(out, r.records)
	return out
}

// OfKind 返回指定类型的记录。
func (r *Recorder) OfKind(kind telemetry.Kind) []telemetry.Record {
	var out []telemetry.Record
	for _, rec := range r.Records() {
		if rec.Kind() == kind {
			out = append(out, rec)
		}
	}
	return out
}

// Events 返回指定名称的事件。
func (r *Recorder) Events(name string) []*telemetry.Event {
	var out []*telemetry.Event
	for _, rec := range r.OfKind(telemetry.KindEvent) {
		if ev := rec.(*telemetry.Event); ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Requests 返回所有请求记录。
func (r *Recorder) Requests() []*telemetry.Request {
	var out []*telemetry.Request
	for _, rec := range r.OfKind(telemetry.KindRequest) {
		out = append(out, rec.(*telemetry.Request))
	}
	return out
}

// Dependencies 返回所有依赖记录。
func (r *Recorder) Dependencies() []*telemetry.Dependency {
	var out []*telemetry.Dependency
	for _, rec := range r.OfKind(telemetry.KindDependency) {
		out = append(out, rec.(*telemetry.Dependency))
	}
	return out
}

// Flushes 返回 Flush 被调用的次数。
func (r *Recorder) Flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// Closes 返回 Close 被调用的次数。
func (r *Recorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// Reset 清空所有记录与计数。
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.flushes = 0
	r.closes = 0
}
