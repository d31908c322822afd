package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBody — сколько байт ответа сохраняется в outcome.
	maxResponseBody = 64 << 10
)

// HTTPExecutor — executor для действия "http_request".
//
// Config:
//   - method (string): HTTP-метод. Default: POST
//   - url (string): URL для запроса (обязательно)
//   - headers (map[string]any): HTTP-заголовки
//   - body (any): тело запроса (сериализуется в JSON)
//   - timeout_sec (number): таймаут запроса в секундах. Default: 30
//
// Каждый запрос несёт заголовок Idempotency-Key со значением RunNodeID,
// одинаковым для всех попыток узла.
//
// Сетевые ошибки, 429 и 5xx — временные; остальные 4xx — постоянные.
//
// Outputs:
//   - status_code (int): HTTP-код ответа
//   - headers (map[string]string): заголовки ответа
//   - body (any): тело ответа (JSON или строка)
type HTTPExecutor struct {
	Client *http.Client
}

// NewHTTPExecutor создаёт HTTPExecutor. client == nil — http.DefaultClient.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{Client: client}
}

// Execute выполняет HTTP-запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) Result {
	method := strings.ToUpper(getString(req.Config, "method", http.MethodPost))
	url := getString(req.Config, "url", "")
	if url == "" {
		return Permanent(fmt.Errorf("%w: url is required", ErrInvalidConfig))
	}

	timeout, ok, err := getSeconds(req.Config, "timeout_sec")
	if err != nil {
		return Permanent(err)
	}
	if !ok || timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if body, ok := req.Config["body"]; ok && body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return Permanent(fmt.Errorf("%w: marshal body: %v", ErrInvalidConfig, err))
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return Permanent(fmt.Errorf("%w: create request: %v", ErrInvalidConfig, err))
	}

	setHeaders(httpReq, getMap(req.Config, "headers"))
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Idempotency-Key", req.RunNodeID.String())

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return Transient(fmt.Errorf("%w: %v", ErrHTTPRequest, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Transient(fmt.Errorf("%w: read response: %v", ErrHTTPRequest, err))
	}

	outputs := buildOutputs(resp, respBody)

	if resp.StatusCode >= 400 {
		result := Permanent(fmt.Errorf("%w: HTTP %d: %s",
			ErrHTTPRequest, resp.StatusCode, truncate(string(respBody), 200)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			result.Retryable = true
		}
		result.Output = outputs
		return result
	}

	return Succeeded(outputs)
}

// buildOutputs формирует outputs из HTTP-ответа.
func buildOutputs(resp *http.Response, body []byte) map[string]any {
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	// JSON, иначе строка
	var parsedBody any
	if err := json.Unmarshal(body, &parsedBody); err != nil {
		parsedBody = string(body)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        parsedBody,
	}
}

func setHeaders(req *http.Request, headers map[string]any) {
	for key, val := range headers {
		if s, ok := val.(string); ok {
			req.Header.Set(key, s)
		}
	}
}
