package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/driver"
	"github.com/shipyard/sandboxd/internal/session"
	"github.com/shipyard/sandboxd/internal/store"
)

type fakeDriver struct {
	driver.Driver
	createID string
	endpoint string
	status   driver.ContainerInfo
	startErr error
	destroyed []string
}

func (f *fakeDriver) Create(ctx context.Context, spec driver.CreateSpec) (string, error) {
	return f.createID, nil
}

func (f *fakeDriver) Start(ctx context.Context, containerID string, port int) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.endpoint, nil
}

func (f *fakeDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	return nil
}

func (f *fakeDriver) Destroy(ctx context.Context, containerID string) error {
	f.destroyed = append(f.destroyed, containerID)
	return nil
}

func (f *fakeDriver) Status(ctx context.Context, containerID string) (driver.ContainerInfo, error) {
	return f.status, nil
}

type fakeSessionStore struct {
	sessions map[string]*domain.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.Session)}
}

func (f *fakeSessionStore) Insert(ctx context.Context, s *domain.Session) error {
	f.sessions[s.ID] = s
	return nil
}
func (f *fakeSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	return f.sessions[id], nil
}
func (f *fakeSessionStore) Update(ctx context.Context, s *domain.Session) error {
	f.sessions[s.ID] = s
	return nil
}
func (f *fakeSessionStore) Delete(ctx context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}
func (f *fakeSessionStore) ListBySandbox(ctx context.Context, sandboxID string) ([]*domain.Session, error) {
	return nil, nil
}
func (f *fakeSessionStore) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	return nil, nil
}

type fakeStore struct {
	sessionStore *fakeSessionStore
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (f *fakeStore) Rollback(ctx context.Context) error          { return nil }
func (f *fakeStore) Sandboxes() store.SandboxStore               { return nil }
func (f *fakeStore) Sessions() store.SessionStore                { return f.sessionStore }
func (f *fakeStore) Workspaces() store.WorkspaceStore             { return nil }
func (f *fakeStore) IdempotencyKeys() store.IdempotencyStore      { return nil }

func newManager(t *testing.T, drv driver.Driver, healthErr error) (*session.Manager, *fakeSessionStore) {
	t.Helper()
	st := newFakeSessionStore()
	storeWrapper := &fakeStore{sessionStore: st}
	healthFactory := func(endpoint string) session.HealthChecker {
		return &fakeHealthChecker{err: healthErr}
	}
	m := session.NewManager(storeWrapper, drv, healthFactory, clock.NewFixed(time.Unix(1000, 0).UTC()), 200*time.Millisecond, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, st
}

type fakeHealthChecker struct{ err error }

func (f *fakeHealthChecker) Health(ctx context.Context) (map[string]any, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"status": "ok"}, nil
}

func TestEnsureRunningCreatesStartsAndWaitsReady(t *testing.T) {
	drv := &fakeDriver{createID: "c1", endpoint: "http://10.0.0.1:8080"}
	m, st := newManager(t, drv, nil)

	s := &domain.Session{ID: "s1", SandboxID: "sb1", DesiredState: domain.SessionPending, ObservedState: domain.SessionPending}
	require.NoError(t, st.Insert(context.Background(), s))

	workspace := &domain.Workspace{ID: "ws1"}
	profile := &domain.Profile{ID: "default", RuntimePort: 8080}

	out, err := m.EnsureRunning(context.Background(), s, workspace, profile)
	require.NoError(t, err)
	require.Equal(t, domain.SessionRunning, out.ObservedState)
	require.NotNil(t, out.Endpoint)
	require.Equal(t, "http://10.0.0.1:8080", *out.Endpoint)
}

func TestEnsureRunningReturnsReadySessionOnRunningProbe(t *testing.T) {
	drv := &fakeDriver{status: driver.ContainerInfo{Status: driver.StatusRunning}}
	m, st := newManager(t, drv, nil)

	containerID := "c1"
	endpoint := "http://10.0.0.1:8080"
	s := &domain.Session{ID: "s1", SandboxID: "sb1", ContainerID: &containerID, Endpoint: &endpoint, ObservedState: domain.SessionRunning}
	require.NoError(t, st.Insert(context.Background(), s))

	out, err := m.EnsureRunning(context.Background(), s, &domain.Workspace{ID: "ws1"}, &domain.Profile{ID: "default", RuntimePort: 8080})
	require.NoError(t, err)
	require.Same(t, s, out)
}

func TestEnsureRunningFailsCleanlyOnReadinessTimeout(t *testing.T) {
	drv := &fakeDriver{createID: "c1", endpoint: "http://10.0.0.1:8080"}
	m, st := newManager(t, drv, errors.New("connection refused"))

	s := &domain.Session{ID: "s1", SandboxID: "sb1", ObservedState: domain.SessionPending}
	require.NoError(t, st.Insert(context.Background(), s))

	_, err := m.EnsureRunning(context.Background(), s, &domain.Workspace{ID: "ws1"}, &domain.Profile{ID: "default", RuntimePort: 8080})
	require.Error(t, err)

	got, _ := st.Get(context.Background(), "s1")
	require.Equal(t, domain.SessionFailed, got.ObservedState)
	require.Nil(t, got.ContainerID)
	require.Nil(t, got.Endpoint)
	require.Contains(t, drv.destroyed, "c1")
}
