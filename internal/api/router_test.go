package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oriys/beacon/internal/dependency"
	"github.com/oriys/beacon/internal/function"
	"github.com/oriys/beacon/internal/metrics"
	"github.com/oriys/beacon/internal/telemetry"
	"github.com/oriys/beacon/internal/telemetry/telemetrytest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

type testServer struct {
	router   http.Handler
	recorder *telemetrytest.Recorder
}

func newTestServer(t *testing.T, route string, ready ReadinessCheck, opts ...dependency.Option) *testServer {
	t.Helper()
	rec := telemetrytest.NewRecorder()
	sim, err := dependency.New(rec, opts...)
	if err != nil {
		t.Fatalf("dependency.New: %v", err)
	}
	logger := quietLogger()
	fn := function.NewHandler(rec, sim, logger)

	reg := prometheus.NewRegistry()
	metrics.NewMetricsWith(reg, "beacon")

	router := NewRouter(&RouterConfig{
		Handler:  NewHandler(fn, "httpTrigger", ready, logger),
		Route:    route,
		Gatherer: reg,
		Logger:   logger,
	})
	return &testServer{router: router, recorder: rec}
}

func (s *testServer) do(method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestInvokeFunction_GetSuccess(t *testing.T) {
	srv := newTestServer(t, "/", nil, dependency.WithFixedDelay(10*time.Millisecond))

	const id = "5f0c9a8e-3d2b-4c1a-9e8f-7a6b5c4d3e2f"
	w := srv.do(http.MethodGet, "/", map[string]string{HeaderInvocationID: id})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := w.Header().Get(HeaderInvocationID); got != id {
		t.Errorf("%s = %q, want %q", HeaderInvocationID, got, id)
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["operationId"] != id {
		t.Errorf("operationId = %q, want %q", body["operationId"], id)
	}
	if body["message"] == "" || body["timestamp"] == "" {
		t.Errorf("body missing fields: %v", body)
	}

	reqs := srv.recorder.Requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d request records, want 1", len(reqs))
	}
	if reqs[0].Name != "GET http://example.com/" {
		t.Errorf("request name = %q", reqs[0].Name)
	}
}

func TestInvokeFunction_PostFailure(t *testing.T) {
	srv := newTestServer(t, "/", nil, dependency.WithFixedDelay(0), dependency.WithFault(errors.New("boom")))

	w := srv.do(http.MethodPost, "/", nil)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"error":"boom"}` {
		t.Errorf("body = %s, want {\"error\":\"boom\"}", got)
	}
	if w.Header().Get(HeaderInvocationID) == "" {
		t.Error("generated invocation id should be echoed")
	}
	if srv.recorder.Flushes() != 1 {
		t.Errorf("flushes = %d, want 1", srv.recorder.Flushes())
	}
}

func TestInvokeFunction_GeneratesInvocationID(t *testing.T) {
	srv := newTestServer(t, "/", nil, dependency.WithFixedDelay(0))

	w := srv.do(http.MethodGet, "/", nil)

	id := w.Header().Get(HeaderInvocationID)
	if len(id) != 36 {
		t.Fatalf("generated id %q is not a UUID", id)
	}
	for _, r := range srv.recorder.Records() {
		if r.Common().OperationID != id {
			t.Errorf("%s record has OperationID %q, want %q", r.Kind(), r.Common().OperationID, id)
		}
	}
}

func TestInvokeFunction_TraceParentBecomesSource(t *testing.T) {
	srv := newTestServer(t, "/", nil, dependency.WithFixedDelay(0))

	const tp = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	srv.do(http.MethodGet, "/", map[string]string{HeaderTraceParent: tp})

	reqs := srv.recorder.Requests()
	if len(reqs) != 1 || reqs[0].Source != tp {
		t.Fatalf("request source = %+v, want %q", reqs, tp)
	}
}

func TestInvokeFunction_CustomRoute(t *testing.T) {
	srv := newTestServer(t, "/api/httpTrigger", nil, dependency.WithFixedDelay(0))

	if w := srv.do(http.MethodGet, "/api/httpTrigger", nil); w.Code != http.StatusOK {
		t.Errorf("GET custom route status = %d, want 200", w.Code)
	}
	if w := srv.do(http.MethodGet, "/", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET / status = %d, want 404", w.Code)
	}
	if w := srv.do(http.MethodDelete, "/api/httpTrigger", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", w.Code)
	}
}

func TestInvokeFunction_InvalidInvocation(t *testing.T) {
	rec := telemetrytest.NewRecorder()
	sim, err := dependency.New(rec, dependency.WithFixedDelay(0))
	if err != nil {
		t.Fatalf("dependency.New: %v", err)
	}
	logger := quietLogger()
	router := NewRouter(&RouterConfig{
		Handler: NewHandler(function.NewHandler(rec, sim, logger), "", nil, logger),
		Logger:  logger,
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	// 调用未执行，不产生任何遥测
	if n := len(rec.Records()); n != 0 {
		t.Errorf("records = %d, want 0", n)
	}
}

func TestHealthEndpoints(t *testing.T) {
	notReady := func(context.Context) error { return errors.New("nats unavailable") }

	tests := []struct {
		name   string
		ready  ReadinessCheck
		path   string
		status int
	}{
		{"健康检查", nil, "/health", http.StatusOK},
		{"存活探针", nil, "/health/live", http.StatusOK},
		{"就绪探针", nil, "/health/ready", http.StatusOK},
		{"未就绪", notReady, "/health/ready", http.StatusServiceUnavailable},
		{"指标端点", nil, "/metrics", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, "/", tt.ready)
			if w := srv.do(http.MethodGet, tt.path, nil); w.Code != tt.status {
				t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.status)
			}
			if len(srv.recorder.Records()) != 0 {
				t.Error("health endpoints should not emit telemetry")
			}
		})
	}
}

func TestRequestURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://func.local/api/x?name=a", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	if got := requestURL(req); got != "https://func.local/api/x?name=a" {
		t.Errorf("requestURL() = %q", got)
	}
}

var _ Invoker = (*function.Handler)(nil)
var _ telemetry.Client = (*telemetrytest.Recorder)(nil)
