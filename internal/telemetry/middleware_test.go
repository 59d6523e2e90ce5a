package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHTTPMiddleware(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	h := HTTPMiddleware("beacon-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderInvocationID, "mw-op")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	spans := sr.Ended()
	// 健康检查与 /metrics 不产生 Span
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name() != "POST /" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	var found bool
	for _, kv := range spans[0].Attributes() {
		if string(kv.Key) == AttrInvocationID && kv.Value.AsString() == "mw-op" {
			found = true
		}
	}
	if !found {
		t.Errorf("span missing %s attribute: %v", AttrInvocationID, spans[0].Attributes())
	}
}

func TestEntryWithOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(NewLogrusHook())

	const id = "4bf92f35-77b3-4da6-a3ce-929d0e0e4736"
	EntryWithOperation(context.Background(), logrus.NewEntry(logger), id, "").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log: %v", err)
	}
	if entry["trace_id"] != TraceIDFromOperation(id).String() {
		t.Errorf("trace_id = %v, want derived %s", entry["trace_id"], TraceIDFromOperation(id))
	}
	if _, ok := entry["span_id"]; ok {
		t.Error("span_id should be absent without a live span")
	}
}

func TestEntryWithOperation_LiveSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "server")
	defer span.End()

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	EntryWithOperation(ctx, logrus.NewEntry(logger), "op-1", "").Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log: %v", err)
	}
	if entry["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v, want live span trace", entry["trace_id"])
	}
	if entry["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("span_id = %v", entry["span_id"])
	}
}

func TestEntryWithOperation_CallerTraceParent(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	const tp = "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"
	EntryWithOperation(context.Background(), logrus.NewEntry(logger), "op-1", tp).Info("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log: %v", err)
	}
	if entry["trace_id"] != "0af7651916cd43dd8448eb211c80319c" {
		t.Errorf("trace_id = %v, want caller trace", entry["trace_id"])
	}
}

func TestHTTPMiddleware_OperationTrace(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})

	var seenID string
	h := HTTPMiddleware("beacon-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get(HeaderInvocationID)
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name        string
		id          string
		traceParent string
		wantTrace   func(id string) string
	}{
		{"携带调用 ID", "5f0c9a8e-3d2b-4c1a-9e8f-7a6b5c4d3e2f", "", func(id string) string { return TraceIDFromOperation(id).String() }},
		{"生成调用 ID", "", "", func(id string) string { return TraceIDFromOperation(id).String() }},
		{"调用方链路", "op-caller", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01", func(string) string { return "0af7651916cd43dd8448eb211c80319c" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(sr.Ended())
			seenID = ""
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.id != "" {
				req.Header.Set(HeaderInvocationID, tt.id)
			}
			if tt.traceParent != "" {
				req.Header.Set("traceparent", tt.traceParent)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if seenID == "" || (tt.id != "" && seenID != tt.id) {
				t.Fatalf("handler saw invocation id %q, want %q", seenID, tt.id)
			}
			spans := sr.Ended()[before:]
			if len(spans) != 1 {
				t.Fatalf("got %d spans, want 1", len(spans))
			}
			if got, want := spans[0].SpanContext().TraceID().String(), tt.wantTrace(seenID); got != want {
				t.Errorf("server span TraceID = %s, want %s", got, want)
			}
		})
	}
}
