package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/pkg/schema"
)

type namedTool struct {
	name string
	fn   func(ctx context.Context, input any) (any, error)
}

func (t namedTool) Name() string { return t.name }
func (t namedTool) Execute(ctx context.Context, input any) (any, error) {
	return t.fn(ctx, input)
}

func TestRegisterAndExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedTool{name: "upper", fn: func(_ context.Context, input any) (any, error) {
		return "UP:" + input.(string), nil
	}}))

	out, err := r.ExecuteTool(context.Background(), "upper", "x")
	require.NoError(t, err)
	assert.Equal(t, "UP:x", out)
	assert.True(t, r.Has("upper"))
}

func TestRegisterDuplicateConflicts(t *testing.T) {
	r := NewRegistry()
	tool := namedTool{name: "dup", fn: func(_ context.Context, _ any) (any, error) { return nil, nil }}
	require.NoError(t, r.Register(tool))

	err := r.Register(tool)
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeConflict, ferr.Code)
}

func TestRegisterRejectsNilAndUnnamed(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(namedTool{name: ""}))
}

func TestExecuteUnknownToolNotFound(t *testing.T) {
	r := NewRegistry()

	_, err := r.ExecuteTool(context.Background(), "ghost", nil)
	require.Error(t, err)

	var ferr *schema.FlowError
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, schema.ErrCodeNotFound, ferr.Code)
}

func TestListIsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(namedTool{name: name, fn: func(_ context.Context, _ any) (any, error) { return nil, nil }}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestDefaultRegistryBuiltins(t *testing.T) {
	r := NewDefaultRegistry()
	assert.True(t, r.Has("echo"))
	assert.True(t, r.Has("http_request"))
}

func TestEchoReturnsInput(t *testing.T) {
	out, err := EchoTool{}.Execute(context.Background(), map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, out)
}

func TestHTTPToolGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "token", req.Header.Get("X-Auth"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	out, err := tool.Execute(context.Background(), map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Auth": "token"},
	})
	require.NoError(t, err)

	resp := out.(map[string]any)
	assert.Equal(t, 200, resp["status"])
	body := resp["body"].(map[string]any)
	assert.Equal(t, true, body["ok"])
}

func TestHTTPToolPostEncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))
	defer srv.Close()

	tool := &HTTPTool{client: srv.Client()}
	out, err := tool.Execute(context.Background(), map[string]any{
		"url":    srv.URL,
		"method": "post",
		"body":   map[string]any{"n": 1},
	})
	require.NoError(t, err)

	resp := out.(map[string]any)
	assert.Equal(t, 201, resp["status"])
	assert.Equal(t, "created", resp["body"])
}

func TestHTTPToolValidation(t *testing.T) {
	tool := &HTTPTool{client: http.DefaultClient}

	_, err := tool.Execute(context.Background(), "not an object")
	assert.Error(t, err)

	_, err = tool.Execute(context.Background(), map[string]any{"method": "GET"})
	assert.Error(t, err, "missing url")
}
