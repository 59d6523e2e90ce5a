package insights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/microsoft/ApplicationInsights-Go/appinsights"
	"github.com/microsoft/ApplicationInsights-Go/appinsights/contracts"
	"github.com/oriys/beacon/internal/telemetry"
)

// fakeChannel 只实现测试用到的方法，其余方法由嵌入的接口提供（调用会 panic）。
type fakeChannel struct {
	appinsights.TelemetryChannel
	flushes int
	closed  chan struct{}
}

func (c *fakeChannel) Flush() { c.flushes++ }

func (c *fakeChannel) Close(retryTimeout ...time.Duration) <-chan struct{} {
	return c.closed
}

type fakeClient struct {
	appinsights.TelemetryClient
	channel *fakeChannel
	tracked []appinsights.Telemetry
}

func (c *fakeClient) Track(t appinsights.Telemetry) { c.tracked = append(c.tracked, t) }

func (c *fakeClient) Channel() appinsights.TelemetryChannel { return c.channel }

func newFakeClient() *fakeClient {
	return &fakeClient{channel: &fakeChannel{closed: make(chan struct{})}}
}

func base(op string) telemetry.Base {
	return telemetry.Base{
		OperationID: op,
		ParentID:    op,
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Properties:  map[string]string{telemetry.PropOperationID: op, "functionName": "httpTrigger"},
	}
}

func TestConvert_TagsOperation(t *testing.T) {
	const op = "6f1c2d7e-0000-4000-8000-000000000001"

	records := []telemetry.Record{
		&telemetry.Event{Base: base(op), Name: "FunctionStarted"},
		&telemetry.Metric{Base: base(op), Name: "ProcessingTime", Value: 12},
		&telemetry.Trace{Base: base(op), Message: "Function executed successfully", Severity: telemetry.SeverityInformation},
		&telemetry.Dependency{Base: base(op), Target: "external-api.example.com", Name: "GET /api/data", Type: "HTTP", ResultCode: "200", Duration: 80 * time.Millisecond, Success: true},
		&telemetry.Request{Base: base(op), ID: op, Name: "GET http://localhost/", URL: "http://localhost/", ResultCode: "200", Duration: 100 * time.Millisecond, Success: true},
		&telemetry.Exception{Base: base(op), Err: errors.New("boom"), Message: "boom", Severity: telemetry.SeverityError},
	}

	for _, r := range records {
		t.Run(string(r.Kind()), func(t *testing.T) {
			converted := Convert(r)
			if converted == nil {
				t.Fatalf("Convert returned nil for %s", r.Kind())
			}
			tags := converted.ContextTags()
			if got := tags[contracts.OperationId]; got != op {
				t.Errorf("operation id tag = %q, want %q", got, op)
			}
			if got := tags[contracts.OperationParentId]; got != op {
				t.Errorf("operation parent id tag = %q, want %q", got, op)
			}
			if got := converted.GetProperties()[telemetry.PropOperationID]; got != op {
				t.Errorf("operation_Id property = %q, want %q", got, op)
			}
		})
	}
}

func TestConvert_RequestFields(t *testing.T) {
	b := base("op-1")
	r := &telemetry.Request{Base: b, ID: "op-1", Name: "POST http://localhost/", URL: "http://localhost/", ResultCode: "500", Duration: 250 * time.Millisecond, Success: false}

	req, ok := Convert(r).(*appinsights.RequestTelemetry)
	if !ok {
		t.Fatalf("expected *appinsights.RequestTelemetry")
	}
	if req.Id != "op-1" || req.Name != "POST http://localhost/" || req.ResponseCode != "500" || req.Success {
		t.Errorf("unexpected request telemetry: %+v", req)
	}
	if req.Duration != 250*time.Millisecond {
		t.Errorf("duration = %v", req.Duration)
	}
	if want := b.Timestamp.Add(-250 * time.Millisecond); !req.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want start time %v", req.Timestamp, want)
	}
}

func TestConvert_DependencyFields(t *testing.T) {
	d := &telemetry.Dependency{Base: base("op-2"), Target: "external-api.example.com", Name: "GET /api/data", Data: "GET /api/data", Type: "HTTP", ResultCode: "500", Duration: 60 * time.Millisecond, Success: false}

	dep, ok := Convert(d).(*appinsights.RemoteDependencyTelemetry)
	if !ok {
		t.Fatalf("expected *appinsights.RemoteDependencyTelemetry")
	}
	if dep.Target != "external-api.example.com" || dep.Type != "HTTP" || dep.ResultCode != "500" || dep.Success {
		t.Errorf("unexpected dependency telemetry: %+v", dep)
	}
}

func TestConvert_Severity(t *testing.T) {
	tests := []struct {
		in   telemetry.Severity
		want contracts.SeverityLevel
	}{
		{telemetry.SeverityVerbose, contracts.Verbose},
		{telemetry.SeverityInformation, contracts.Information},
		{telemetry.SeverityWarning, contracts.Warning},
		{telemetry.SeverityError, contracts.Error},
		{telemetry.SeverityCritical, contracts.Critical},
		{"", contracts.Information},
	}
	for _, tt := range tests {
		if got := severity(tt.in); got != tt.want {
			t.Errorf("severity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSink_TrackFlushClose(t *testing.T) {
	client := newFakeClient()
	sink := NewWithClient(client, nil, time.Second)

	sink.Track(&telemetry.Event{Base: base("op-3"), Name: "FunctionStarted"})
	sink.Track(&telemetry.Metric{Base: base("op-3"), Name: "ProcessingTime", Value: 1})
	if len(client.tracked) != 2 {
		t.Fatalf("tracked %d items, want 2", len(client.tracked))
	}

	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if client.channel.flushes != 1 {
		t.Errorf("channel flushes = %d, want 1", client.channel.flushes)
	}

	close(client.channel.closed)
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSink_CloseHonorsContext(t *testing.T) {
	client := newFakeClient()
	sink := NewWithClient(client, nil, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.Close(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Close error = %v, want context.Canceled", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(Config{}, nil); !errors.Is(err, ErrMissingInstrumentationKey) {
		t.Fatalf("New error = %v, want ErrMissingInstrumentationKey", err)
	}
}
