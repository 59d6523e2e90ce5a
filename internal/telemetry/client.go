package telemetry

import (
	"context"
	"errors"
	"sync"
)

// Client 是遥测客户端抽象，也是所有后端（Sink）实现的接口。
//
// Track 是非阻塞的入队操作，必须可以被多个调用并发使用；
// Flush 是唯一同步尝试投递的位置；Close 在进程退出时刷新并释放资源。
type Client interface {
	// Track 将一条记录交给客户端异步发送
	Track(r Record)
	// Flush 尝试发送所有已缓冲的记录
	Flush(ctx context.Context) error
	// Close 刷新剩余记录并释放资源
	Close(ctx context.Context) error
}

// Multi 把记录扇出到多个后端。
type Multi struct {
	clients []Client
}

// NewMulti 创建扇出客户端，nil 后端会被忽略。
func NewMulti(clients ...Client) *Multi {
	m := &Multi{}
	for _, c := range clients {
		if c != nil {
			m.clients = append(m.clients, c)
		}
	}
	return m
}

// Len 返回后端数量。
func (m *Multi) Len() int {
	return len(m.clients)
}

// Track 将记录交给每个后端。
func (m *Multi) Track(r Record) {
	for _, c := range m.clients {
		c.Track(r)
	}
}

// Flush 并发刷新所有后端，并合并返回的错误。
func (m *Multi) Flush(ctx context.Context) error {
	return m.each(func(c Client) error { return c.Flush(ctx) })
}

// Close 并发关闭所有后端，并合并返回的错误。
func (m *Multi) Close(ctx context.Context) error {
	return m.each(func(c Client) error { return c.Close(ctx) })
}

func (m *Multi) each(fn func(Client) error) error {
	if len(m.clients) == 1 {
		return fn(m.clients[0])
	}

	errs := make([]error, len(m.clients))
	var wg sync.WaitGroup
	for i, c := range m.clients {
		wg.Add(1)
		go func(i int, c Client) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Nop 是丢弃所有记录的客户端。
type Nop struct{}

func (Nop) Track(Record)                {}
func (Nop) Flush(context.Context) error { return nil }
func (Nop) Close(context.Context) error { return nil }
