// Package capability implements the Capability Router (spec §4.8): gates
// every runtime operation on the capabilities the runtime's /meta
// advertises, ensures a ready session, and forwards to the pooled
// per-endpoint RuntimeClient.
// Ported directly from original_source's
// pkgs/bay/app/router/capability/capability.py.
package capability

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/runtimeclient"
	"github.com/shipyard/sandboxd/internal/sandbox"
)

// SandboxLookup is the narrow slice of the Sandbox Manager the router
// needs (spec §4.8 _EnsureSession), kept as an interface so tests can
// substitute a fake without wiring a full sandbox.Manager. *sandbox.Manager
// satisfies it directly.
type SandboxLookup interface {
	EnsureRunning(ctx context.Context, sandboxID string) (*domain.Session, error)
}

var _ SandboxLookup = (*sandbox.Manager)(nil)

const metaCacheTTL = 10 * time.Second

type cachedMeta struct {
	meta      runtimeclient.Meta
	expiresAt time.Time
}

// Router is the Capability Router.
type Router struct {
	sandboxes SandboxLookup
	pool      *runtimeclient.Pool

	metaMu    sync.Mutex
	metaCache map[string]cachedMeta
}

func NewRouter(sandboxes SandboxLookup, pool *runtimeclient.Pool) *Router {
	return &Router{
		sandboxes: sandboxes,
		pool:      pool,
		metaCache: make(map[string]cachedMeta),
	}
}

// ensureSession delegates to the Sandbox Manager's EnsureRunning,
// surfacing SessionNotReady verbatim (spec §4.8 _EnsureSession).
func (r *Router) ensureSession(ctx context.Context, sandboxID string) (*domain.Session, error) {
	return r.sandboxes.EnsureRunning(ctx, sandboxID)
}

// getAdapter requires session.endpoint, else SessionNotReady; constructs
// via the shared pool keyed on endpoint (spec §4.8 _GetAdapter).
func (r *Router) getAdapter(sess *domain.Session) (runtimeclient.Client, error) {
	if sess.Endpoint == nil {
		return nil, apperr.SessionNotReady("session has no endpoint yet", 500, map[string]any{"sandbox_id": sess.SandboxID})
	}
	return r.pool.GetOrCreate(*sess.Endpoint), nil
}

func (r *Router) getMeta(ctx context.Context, client runtimeclient.Client) (runtimeclient.Meta, error) {
	endpoint := client.Endpoint()

	r.metaMu.Lock()
	if c, ok := r.metaCache[endpoint]; ok && time.Now().Before(c.expiresAt) {
		r.metaMu.Unlock()
		return c.meta, nil
	}
	r.metaMu.Unlock()

	meta, err := client.GetMeta(ctx)
	if err != nil {
		return runtimeclient.Meta{}, err
	}

	r.metaMu.Lock()
	r.metaCache[endpoint] = cachedMeta{meta: meta, expiresAt: time.Now().Add(metaCacheTTL)}
	r.metaMu.Unlock()
	return meta, nil
}

// requireCapability fetches GetMeta (cached per endpoint by the Router for
// metaCacheTTL) and raises
// CapabilityNotSupported if tag is absent (spec §4.8 _RequireCapability).
func (r *Router) requireCapability(ctx context.Context, client runtimeclient.Client, tag string) error {
	meta, err := r.getMeta(ctx, client)
	if err != nil {
		return err
	}
	if !meta.HasCapability(tag) {
		available := make([]string, 0, len(meta.Capabilities))
		for cap := range meta.Capabilities {
			available = append(available, cap)
		}
		return apperr.CapabilityNotSupported(tag, available)
	}
	return nil
}

// prepare runs _EnsureSession, _GetAdapter, _RequireCapability in sequence
// — the shared prelude of every operation method (spec §4.8).
func (r *Router) prepare(ctx context.Context, sandboxID, tag string) (runtimeclient.Client, error) {
	sess, err := r.ensureSession(ctx, sandboxID)
	if err != nil {
		return nil, err
	}
	client, err := r.getAdapter(sess)
	if err != nil {
		return nil, err
	}
	if err := r.requireCapability(ctx, client, tag); err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Router) ExecPython(ctx context.Context, sandboxID, code string, timeout time.Duration) (runtimeclient.ExecResult, error) {
	client, err := r.prepare(ctx, sandboxID, "python")
	if err != nil {
		return runtimeclient.ExecResult{}, err
	}
	return client.ExecPython(ctx, code, timeout)
}

func (r *Router) ExecShell(ctx context.Context, sandboxID, command string, timeout time.Duration, cwd string) (runtimeclient.ExecResult, error) {
	client, err := r.prepare(ctx, sandboxID, "shell")
	if err != nil {
		return runtimeclient.ExecResult{}, err
	}
	return client.ExecShell(ctx, command, timeout, cwd)
}

func (r *Router) ReadFile(ctx context.Context, sandboxID, path string) (string, error) {
	client, err := r.prepare(ctx, sandboxID, "filesystem")
	if err != nil {
		return "", err
	}
	return client.ReadFile(ctx, path)
}

func (r *Router) WriteFile(ctx context.Context, sandboxID, path, content string) error {
	client, err := r.prepare(ctx, sandboxID, "filesystem")
	if err != nil {
		return err
	}
	return client.WriteFile(ctx, path, content)
}

func (r *Router) List(ctx context.Context, sandboxID, path string) ([]runtimeclient.FileEntry, error) {
	client, err := r.prepare(ctx, sandboxID, "filesystem")
	if err != nil {
		return nil, err
	}
	return client.List(ctx, path)
}

func (r *Router) Delete(ctx context.Context, sandboxID, path string) error {
	client, err := r.prepare(ctx, sandboxID, "filesystem")
	if err != nil {
		return err
	}
	return client.Delete(ctx, path)
}

func (r *Router) Upload(ctx context.Context, sandboxID, path string, data io.Reader) error {
	client, err := r.prepare(ctx, sandboxID, "filesystem")
	if err != nil {
		return err
	}
	return client.Upload(ctx, path, data)
}

func (r *Router) Download(ctx context.Context, sandboxID, path string) (io.ReadCloser, error) {
	client, err := r.prepare(ctx, sandboxID, "filesystem")
	if err != nil {
		return nil, err
	}
	return client.Download(ctx, path)
}

func (r *Router) ExecBrowser(ctx context.Context, sandboxID string, step runtimeclient.BrowserStep, timeout time.Duration) (runtimeclient.BrowserStepResult, error) {
	client, err := r.prepare(ctx, sandboxID, "browser")
	if err != nil {
		return runtimeclient.BrowserStepResult{}, err
	}
	return client.ExecBrowser(ctx, step, timeout)
}

func (r *Router) ExecBrowserBatch(ctx context.Context, sandboxID string, steps []runtimeclient.BrowserStep, timeout time.Duration) (<-chan runtimeclient.BrowserStepResult, error) {
	client, err := r.prepare(ctx, sandboxID, "browser")
	if err != nil {
		return nil, err
	}
	return client.ExecBrowserBatch(ctx, steps, timeout)
}
