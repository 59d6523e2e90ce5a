package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/sirupsen/logrus"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
	done     chan struct{}
}

func newFakePublisher() *fakePublisher {
	done := make(chan struct{})
	close(done)
	return &fakePublisher{done: done}
}

func (p *fakePublisher) PublishAsync(subj string, data []byte, _ ...nats.PubOpt) (nats.PubAckFuture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.subjects = append(p.subjects, subj)
	p.payloads = append(p.payloads, data)
	return nil, nil
}

func (p *fakePublisher) PublishAsyncComplete() <-chan struct{} { return p.done }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func sampleEvent(op string) *telemetry.Event {
	return &telemetry.Event{
		Base: telemetry.Base{
			OperationID: op,
			Timestamp:   time.Now(),
			Properties: map[string]string{
				telemetry.PropOperationID:  op,
				telemetry.PropFunctionName: "httpTrigger",
			},
		},
		Name: "FunctionStarted",
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name string
		fn   string
		want string
	}{
		{"普通函数名", "httpTrigger", "telemetry.event.httpTrigger"},
		{"包含点号", "my.func", "telemetry.event.my_func"},
		{"包含通配符与空格", "a b*c>", "telemetry.event.a_b_c_"},
		{"缺少函数名", "", "telemetry.event.unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := sampleEvent("op")
			ev.Properties[telemetry.PropFunctionName] = tt.fn
			if got := Subject("telemetry", ev); got != tt.want {
				t.Errorf("Subject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshal_Envelope(t *testing.T) {
	dep := &telemetry.Dependency{
		Base:     telemetry.Base{OperationID: "op-1", Properties: map[string]string{telemetry.PropFunctionName: "httpTrigger"}},
		Target:   "external-api.example.com",
		Name:     "GET /api/data",
		Type:     "HTTP",
		Duration: 75 * time.Millisecond,
		Success:  true,
	}

	data, err := Marshal(dep)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got struct {
		Kind        string          `json:"kind"`
		OperationID string          `json:"operation_id"`
		Function    string          `json:"function"`
		DurationMs  float64         `json:"duration_ms"`
		Record      json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Kind != "dependency" || got.OperationID != "op-1" || got.Function != "httpTrigger" {
		t.Errorf("unexpected envelope: %+v", got)
	}
	if got.DurationMs != 75 {
		t.Errorf("duration_ms = %v, want 75", got.DurationMs)
	}
	if !strings.Contains(string(got.Record), "external-api.example.com") {
		t.Errorf("record payload missing target: %s", got.Record)
	}
}

func TestNATSSink_PublishAndFlush(t *testing.T) {
	pub := newFakePublisher()
	sink := newNATSSink(pub, "beacon", quietLogger())

	sink.Track(sampleEvent("op-1"))
	sink.Track(&telemetry.Metric{Base: telemetry.Base{OperationID: "op-1", Properties: map[string]string{telemetry.PropFunctionName: "httpTrigger"}}, Name: "ProcessingTime", Value: 3})

	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := []string{"beacon.event.httpTrigger", "beacon.metric.httpTrigger"}
	if len(pub.subjects) != len(want) {
		t.Fatalf("published %d messages, want %d", len(pub.subjects), len(want))
	}
	for i, subj := range want {
		if pub.subjects[i] != subj {
			t.Errorf("subject[%d] = %q, want %q", i, pub.subjects[i], subj)
		}
	}

	published, failed := sink.Stats()
	if published != 2 || failed != 0 {
		t.Errorf("Stats() = (%d, %d), want (2, 0)", published, failed)
	}
}

func TestNATSSink_PublishError(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("nats: connection closed")
	sink := newNATSSink(pub, "beacon", quietLogger())

	sink.Track(sampleEvent("op-1"))

	if _, failed := sink.Stats(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}

func TestNATSSink_FlushHonorsContext(t *testing.T) {
	pub := &fakePublisher{done: make(chan struct{})}
	sink := newNATSSink(pub, "beacon", quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := sink.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush error = %v, want deadline exceeded", err)
	}
}

func TestRedisSink_BufferDropsOldest(t *testing.T) {
	sink := NewRedisSink(RedisConfig{Addr: "127.0.0.1:1", BufferSize: 2}, quietLogger())
	defer sink.client.Close()

	for i := 0; i < 5; i++ {
		sink.Track(sampleEvent("op"))
	}

	if got := sink.Pending(); got != 2 {
		t.Errorf("Pending() = %d, want 2", got)
	}
	if got := sink.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

func TestRedisSink_FlushErrorRequeues(t *testing.T) {
	sink := NewRedisSink(RedisConfig{Addr: "127.0.0.1:1", BufferSize: 8}, quietLogger())
	defer sink.client.Close()

	sink.Track(sampleEvent("op-1"))
	sink.Track(sampleEvent("op-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := sink.Flush(ctx); err == nil {
		t.Fatal("Flush against an unreachable server should fail")
	}
	if got := sink.Pending(); got != 2 {
		t.Errorf("Pending() after failed flush = %d, want 2", got)
	}
}

func TestRedisSink_FlushEmpty(t *testing.T) {
	sink := NewRedisSink(RedisConfig{Addr: "127.0.0.1:1"}, quietLogger())
	defer sink.client.Close()

	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush on empty buffer: %v", err)
	}
}

func TestLogSink_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	sink := NewLogSink(logger, logrus.InfoLevel)
	sink.Track(&telemetry.Request{
		Base:       telemetry.Base{OperationID: "op-9", Timestamp: time.Now()},
		Name:       "GET http://localhost/",
		URL:        "http://localhost/",
		ResultCode: "200",
		Duration:   20 * time.Millisecond,
		Success:    true,
	})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "GET http://localhost/" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry[telemetry.PropOperationID] != "op-9" {
		t.Errorf("operation_Id = %v", entry[telemetry.PropOperationID])
	}
	if entry["telemetry"] != "request" || entry["result_code"] != "200" {
		t.Errorf("unexpected fields: %v", entry)
	}
}
