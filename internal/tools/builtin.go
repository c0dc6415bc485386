package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

const (
	maxResponseBody    = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout = 30 * time.Second
)

// NewDefaultRegistry returns a registry with the built-in tools registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(&HTTPTool{client: &http.Client{Timeout: defaultHTTPTimeout}})
	_ = r.Register(EchoTool{})
	return r
}

// EchoTool returns its input unchanged. Useful for wiring and dry runs.
type EchoTool struct{}

func (EchoTool) Name() string { return "echo" }

func (EchoTool) Execute(ctx context.Context, input any) (any, error) {
	return input, nil
}

// HTTPTool performs an HTTP request described by its input map:
// method (default GET), url (required), headers, and body (JSON-encoded when
// not a string).
type HTTPTool struct {
	client *http.Client
}

func (t *HTTPTool) Name() string { return "http_request" }

func (t *HTTPTool) Execute(ctx context.Context, input any) (any, error) {
	params, ok := input.(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"http_request input must be an object, got %T", input)
	}

	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http_request requires a url")
	}
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	var body io.Reader
	contentType := ""
	if raw, present := params["body"]; present && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeValidation, "encode request body").WithCause(err)
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build http request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http request failed: %s", err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "read http response").WithCause(err)
	}

	out := map[string]any{
		"status":      resp.StatusCode,
		"status_text": fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		"headers":     flattenHeaders(resp.Header),
	}

	// Decode JSON responses; everything else passes through as text.
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err == nil {
			out["body"] = decoded
			return out, nil
		}
	}
	out["body"] = string(data)
	return out, nil
}

func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	return flat
}
