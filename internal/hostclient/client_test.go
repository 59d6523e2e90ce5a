package hostclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Invoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		id := r.Header.Get(HeaderInvocationID)
		if id != "op-42" {
			t.Errorf("X-Invocation-Id = %q", id)
		}
		w.Header().Set(HeaderInvocationID, id)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"Hello from Go Azure Function!","timestamp":"2026-01-01T00:00:00.000Z","operationId":"op-42"}`))
	}))
	defer server.Close()

	res, err := New(server.URL+"/").Invoke(context.Background(), http.MethodPost, "", "op-42")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.OK() || res.InvocationID != "op-42" || res.OperationID != "op-42" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Message != "Hello from Go Azure Function!" {
		t.Errorf("Message = %q", res.Message)
	}
}

func TestClient_InvokeFunctionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderInvocationID, "generated")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Simulated dependency failure"}`))
	}))
	defer server.Close()

	res, err := New(server.URL).Invoke(context.Background(), "", "/", "")
	if err != nil {
		t.Fatalf("function failure should not be a client error: %v", err)
	}
	if res.OK() || res.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", res.StatusCode)
	}
	if res.Error != "Simulated dependency failure" || res.InvocationID != "generated" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestClient_InvokeNonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	if _, err := New(server.URL).Invoke(context.Background(), "", "/", ""); err == nil {
		t.Fatal("expected error for non-JSON body")
	}
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health/ready":
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"not ready: redis down"}`))
		default:
			w.Write([]byte(`{"status":"healthy"}`))
		}
	}))
	defer server.Close()

	c := New(server.URL)
	status, err := c.Health(context.Background(), "")
	if err != nil || status != "healthy" {
		t.Errorf("Health() = %q, %v", status, err)
	}
	if _, err := c.Health(context.Background(), "ready"); err == nil || err.Error() != "not ready: redis down" {
		t.Errorf("Health(ready) error = %v", err)
	}
}
