package runtimeclient_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipyard/sandboxd/internal/runtimeclient"
)

type fakeClient struct {
	endpoint string
	closed   bool
}

func (f *fakeClient) Endpoint() string { return f.endpoint }
func (f *fakeClient) GetMeta(ctx context.Context) (runtimeclient.Meta, error) {
	return runtimeclient.Meta{}, nil
}
func (f *fakeClient) Health(ctx context.Context) (map[string]any, error) { return nil, nil }
func (f *fakeClient) ReadFile(ctx context.Context, path string) (string, error) { return "", nil }
func (f *fakeClient) WriteFile(ctx context.Context, path, content string) error { return nil }
func (f *fakeClient) List(ctx context.Context, path string) ([]runtimeclient.FileEntry, error) {
	return nil, nil
}
func (f *fakeClient) Delete(ctx context.Context, path string) error { return nil }
func (f *fakeClient) Upload(ctx context.Context, path string, data io.Reader) error { return nil }
func (f *fakeClient) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, nil
}
func (f *fakeClient) ExecShell(ctx context.Context, command string, timeout time.Duration, cwd string) (runtimeclient.ExecResult, error) {
	return runtimeclient.ExecResult{}, nil
}
func (f *fakeClient) ExecPython(ctx context.Context, code string, timeout time.Duration) (runtimeclient.ExecResult, error) {
	return runtimeclient.ExecResult{}, nil
}
func (f *fakeClient) ExecBrowser(ctx context.Context, step runtimeclient.BrowserStep, timeout time.Duration) (runtimeclient.BrowserStepResult, error) {
	return runtimeclient.BrowserStepResult{}, nil
}
func (f *fakeClient) ExecBrowserBatch(ctx context.Context, steps []runtimeclient.BrowserStep, timeout time.Duration) (<-chan runtimeclient.BrowserStepResult, error) {
	return nil, nil
}
func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestPoolReusesCachedClient(t *testing.T) {
	var constructed int
	pool := runtimeclient.NewPool(8, time.Minute, func(endpoint string) runtimeclient.Client {
		constructed++
		return &fakeClient{endpoint: endpoint}
	})

	a := pool.GetOrCreate("http://host-a:8080")
	b := pool.GetOrCreate("http://host-a:8080")

	require.Same(t, a, b)
	require.Equal(t, 1, constructed)
	require.Equal(t, 1, pool.Len())
}

func TestPoolEvictsOnTTLExpiry(t *testing.T) {
	var closed []*fakeClient
	pool := runtimeclient.NewPool(8, 20*time.Millisecond, func(endpoint string) runtimeclient.Client {
		return &fakeClient{endpoint: endpoint}
	})

	first := pool.GetOrCreate("http://host-a:8080").(*fakeClient)
	closed = append(closed, first)

	time.Sleep(50 * time.Millisecond)

	second := pool.GetOrCreate("http://host-a:8080").(*fakeClient)
	require.NotSame(t, first, second)
	_ = closed
}

func TestPoolEvictsOnSizeCap(t *testing.T) {
	pool := runtimeclient.NewPool(2, time.Minute, func(endpoint string) runtimeclient.Client {
		return &fakeClient{endpoint: endpoint}
	})

	pool.GetOrCreate("http://a")
	pool.GetOrCreate("http://b")
	pool.GetOrCreate("http://c")

	require.LessOrEqual(t, pool.Len(), 2)
}
