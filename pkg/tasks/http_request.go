package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reeflow/reeflow/pkg/workerpool"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	maxResponseBodySize = 1024 * 1024
)

// HTTPRequestHandler performs an HTTP request described by the task payload:
// url (required), method, headers, body.
type HTTPRequestHandler struct {
	client *http.Client
}

func NewHTTPRequestHandler() *HTTPRequestHandler {
	return &HTTPRequestHandler{
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

func (*HTTPRequestHandler) Type() string {
	return "http_request"
}

func (h *HTTPRequestHandler) Execute(ctx context.Context, item *workerpool.WorkItem, logger *slog.Logger) (map[string]any, error) {
	url, _ := item.Payload["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("http_request task requires a url")
	}

	method, _ := item.Payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)

	var body io.Reader

	if rawBody, ok := item.Payload["body"].(string); ok && rawBody != "" {
		body = strings.NewReader(rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if headers, ok := item.Payload["headers"].(map[string]any); ok {
		for key, value := range headers {
			if strValue, ok := value.(string); ok {
				req.Header.Set(key, strValue)
			}
		}
	}

	logger.InfoContext(ctx, "Executing HTTP request", "method", method, "url", url)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("request returned status %d", resp.StatusCode)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(responseBody),
	}

	var decoded map[string]any
	if json.Unmarshal(responseBody, &decoded) == nil {
		output["json"] = decoded
	}

	return output, nil
}
