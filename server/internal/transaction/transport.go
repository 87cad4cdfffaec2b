package transaction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound 表示远端资源不存在（HTTP 404）。
var ErrNotFound = errors.New("transaction not found")

// Request 描述一次对集合资源的请求，Path 相对于 base URL。
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Transport 是 Record 传输能力的抽象，Service 只依赖它。
type Transport interface {
	// Do 发送请求，并在 out 非 nil 且响应有内容时把 JSON 响应解码到 out。
	Do(ctx context.Context, req Request, out any) error
}

// StatusError 表示服务端返回了非 2xx 状态码。
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http failure response for %s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// Is 使 errors.Is(err, ErrNotFound) 对 404 成立。
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// HTTPTransport 是基于 JSON-over-HTTP 的 Transport 实现。
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport 创建 HTTPTransport；httpClient 为 nil 时使用 10 秒超时的默认客户端。
func NewHTTPTransport(baseURL string, httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Do 实现 Transport。
func (t *HTTPTransport) Do(ctx context.Context, r Request, out any) error {
	target := t.baseURL + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.Method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: r.Method, URL: target, Code: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
