package runtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shipyard/sandboxd/internal/apperr"
)

// HTTPClient is a pure JSON-REST Client implementation, adapted from
// original_source's ShipClient: the same filesystem/execution capability
// endpoints, translated from httpx to net/http.
type HTTPClient struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

func NewHTTPClient(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		timeout:  timeout,
		http:     &http.Client{},
		logger:   logger.With(slog.String("endpoint", endpoint)),
	}
}

func (c *HTTPClient) Endpoint() string { return c.endpoint }

func (c *HTTPClient) Close() error { return nil }

func (c *HTTPClient) request(ctx context.Context, method, path string, body any, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("runtimeclient: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("runtimeclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Timeout("runtime request timed out: "+path, nil)
		}
		c.logger.Error("request error", "path", path, "error", err)
		return nil, apperr.RuntimeError("runtime request error: "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runtimeclient: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.logger.Error("request failed", "path", path, "status", resp.StatusCode, "body", string(respBody))
		return nil, apperr.RuntimeError(fmt.Sprintf("runtime request failed: %d", resp.StatusCode), nil)
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("runtimeclient: decode response: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) get(ctx context.Context, path string) (map[string]any, error) {
	return c.request(ctx, http.MethodGet, path, nil, 0)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, timeout time.Duration) (map[string]any, error) {
	return c.request(ctx, http.MethodPost, path, body, timeout)
}

func (c *HTTPClient) GetMeta(ctx context.Context) (Meta, error) {
	data, err := c.get(ctx, "/meta")
	if err != nil {
		return Meta{}, err
	}

	runtime, _ := data["runtime"].(map[string]any)
	workspace, _ := data["workspace"].(map[string]any)
	rawCaps, _ := data["capabilities"].(map[string]any)

	caps := make(map[string]CapabilityInfo, len(rawCaps))
	for tag, v := range rawCaps {
		info := CapabilityInfo{}
		if m, ok := v.(map[string]any); ok {
			if ops, ok := m["operations"].([]any); ok {
				for _, o := range ops {
					if s, ok := o.(string); ok {
						info.Operations = append(info.Operations, s)
					}
				}
			}
		}
		caps[tag] = info
	}

	mountPath := "/workspace"
	if v, ok := workspace["mount_path"].(string); ok && v != "" {
		mountPath = v
	}

	return Meta{
		Name:         stringOr(runtime, "name", "ship"),
		Version:      stringOr(runtime, "version", "unknown"),
		APIVersion:   stringOr(runtime, "api_version", "v1"),
		MountPath:    mountPath,
		Capabilities: caps,
	}, nil
}

func stringOr(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func (c *HTTPClient) Health(ctx context.Context) (map[string]any, error) {
	return c.get(ctx, "/health")
}

func (c *HTTPClient) ReadFile(ctx context.Context, path string) (string, error) {
	result, err := c.post(ctx, "/fs/read_file", map[string]any{"path": path}, 0)
	if err != nil {
		return "", err
	}
	s, _ := result["content"].(string)
	return s, nil
}

func (c *HTTPClient) WriteFile(ctx context.Context, path, content string) error {
	_, err := c.post(ctx, "/fs/write_file", map[string]any{"path": path, "content": content}, 0)
	return err
}

func (c *HTTPClient) List(ctx context.Context, path string) ([]FileEntry, error) {
	result, err := c.post(ctx, "/fs/list", map[string]any{"path": path}, 0)
	if err != nil {
		return nil, err
	}
	entries, _ := result["entries"].([]any)
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		fe := FileEntry{}
		fe.Path, _ = m["path"].(string)
		if sz, ok := m["size"].(float64); ok {
			fe.Size = int64(sz)
		}
		fe.IsDir, _ = m["is_dir"].(bool)
		out = append(out, fe)
	}
	return out, nil
}

func (c *HTTPClient) Delete(ctx context.Context, path string) error {
	_, err := c.post(ctx, "/fs/delete", map[string]any{"path": path}, 0)
	return err
}

func (c *HTTPClient) Upload(ctx context.Context, path string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("runtimeclient: read upload body: %w", err)
	}
	return c.WriteFile(ctx, path, string(content))
}

func (c *HTTPClient) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	content, err := c.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (c *HTTPClient) ExecShell(ctx context.Context, command string, timeout time.Duration, cwd string) (ExecResult, error) {
	payload := map[string]any{"command": command, "timeout": int(timeout.Seconds())}
	if cwd != "" {
		payload["cwd"] = cwd
	}
	result, err := c.post(ctx, "/shell/exec", payload, timeout+5*time.Second)
	if err != nil {
		return ExecResult{}, err
	}
	return execResultFromShell(result), nil
}

func execResultFromShell(result map[string]any) ExecResult {
	exitCode := -1
	if v, ok := result["exit_code"].(float64); ok {
		exitCode = int(v)
	}
	out := ExecResult{
		Success:  exitCode == 0,
		ExitCode: exitCode,
	}
	out.Output, _ = result["output"].(string)
	out.Error, _ = result["error"].(string)
	return out
}

func (c *HTTPClient) ExecPython(ctx context.Context, code string, timeout time.Duration) (ExecResult, error) {
	result, err := c.post(ctx, "/ipython/exec", map[string]any{"code": code, "timeout": int(timeout.Seconds())}, timeout+5*time.Second)
	if err != nil {
		return ExecResult{}, err
	}
	out := ExecResult{}
	out.Success, _ = result["success"].(bool)
	out.Output, _ = result["output"].(string)
	out.Error, _ = result["error"].(string)
	if data, ok := result["data"].(map[string]any); ok {
		out.Data = data
	}
	return out, nil
}

func (c *HTTPClient) ExecBrowser(ctx context.Context, step BrowserStep, timeout time.Duration) (BrowserStepResult, error) {
	result, err := c.post(ctx, "/browser/exec", map[string]any{"action": step.Action, "args": step.Args}, timeout+5*time.Second)
	if err != nil {
		return BrowserStepResult{}, err
	}
	r := BrowserStepResult{}
	r.Success, _ = result["success"].(bool)
	r.Output, _ = result["output"].(string)
	r.Error, _ = result["error"].(string)
	return r, nil
}
