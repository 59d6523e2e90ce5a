// Package hostclient 提供访问函数宿主 HTTP 接口的 Go 客户端封装。
// 出站请求会携带 X-Invocation-Id 与 traceparent，便于在遥测后端按调用 ID 检索整条链路。
package hostclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/beacon/internal/telemetry"
)

// HeaderInvocationID 与宿主约定的调用 ID 请求/响应头。
const HeaderInvocationID = telemetry.HeaderInvocationID

// Client 是函数宿主 HTTP 客户端。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建一个新的客户端。
// baseURL 为空时默认使用 http://localhost:7071。
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:7071"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: telemetry.HTTPClientTransport(nil),
		},
	}
}

// InvokeResult 是一次函数调用的结果。
// 函数失败（5xx）不视为客户端错误，由调用方根据 StatusCode 与 Error 判断。
type InvokeResult struct {
	StatusCode   int
	InvocationID string
	Message      string `json:"message,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	OperationID  string `json:"operationId,omitempty"`
	Error        string `json:"error,omitempty"`
	Duration     time.Duration
}

// OK 返回调用是否成功。
func (r *InvokeResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Invoke 以 method 调用 path 上的函数。invocationID 为空时由宿主生成。
func (c *Client) Invoke(ctx context.Context, method, path, invocationID string) (*InvokeResult, error) {
	if method == "" {
		method = http.MethodGet
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if invocationID != "" {
		req.Header.Set(HeaderInvocationID, invocationID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	result := &InvokeResult{
		StatusCode:   resp.StatusCode,
		InvocationID: resp.Header.Get(HeaderInvocationID),
		Duration:     time.Since(start),
	}
	if len(body) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if result.InvocationID == "" {
		result.InvocationID = result.OperationID
	}
	return result, nil
}

// Health 查询宿主的健康端点，kind 为 ""、"ready" 或 "live"。
func (c *Client) Health(ctx context.Context, kind string) (string, error) {
	path := "/health"
	if kind != "" {
		path += "/" + kind
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if resp.StatusCode >= 400 {
		if body.Error != "" {
			return "", errors.New(body.Error)
		}
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	return body.Status, nil
}
