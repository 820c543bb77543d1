package sandbox_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/driver"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/sandbox"
	"github.com/shipyard/sandboxd/internal/session"
	"github.com/shipyard/sandboxd/internal/store"
)

type fakeDriver struct {
	driver.Driver
	volumeSeq int
}

func (f *fakeDriver) CreateVolume(ctx context.Context, name string, labels driver.Labels) (string, error) {
	f.volumeSeq++
	return name, nil
}
func (f *fakeDriver) DeleteVolume(ctx context.Context, name string) error { return nil }
func (f *fakeDriver) Create(ctx context.Context, spec driver.CreateSpec) (string, error) {
	return "c-" + spec.Labels.SessionID, nil
}
func (f *fakeDriver) Start(ctx context.Context, containerID string, port int) (string, error) {
	return "http://10.0.0.5:8080", nil
}
func (f *fakeDriver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	return nil
}
func (f *fakeDriver) Destroy(ctx context.Context, containerID string) error { return nil }
func (f *fakeDriver) Status(ctx context.Context, containerID string) (driver.ContainerInfo, error) {
	return driver.ContainerInfo{Status: driver.StatusRunning}, nil
}

type fakeHealthChecker struct{}

func (fakeHealthChecker) Health(ctx context.Context) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

type memSandboxStore struct {
	byID map[string]*domain.Sandbox
}

func newMemSandboxStore() *memSandboxStore {
	return &memSandboxStore{byID: make(map[string]*domain.Sandbox)}
}
func (s *memSandboxStore) Insert(ctx context.Context, sb *domain.Sandbox) error {
	s.byID[sb.ID] = sb
	return nil
}
func (s *memSandboxStore) Get(ctx context.Context, id string) (*domain.Sandbox, error) {
	return s.byID[id], nil
}
func (s *memSandboxStore) GetAny(ctx context.Context, id, owner string) (*domain.Sandbox, error) {
	return s.byID[id], nil
}
func (s *memSandboxStore) SelectForUpdate(ctx context.Context, id string) (*domain.Sandbox, error) {
	return s.byID[id], nil
}
func (s *memSandboxStore) Update(ctx context.Context, sb *domain.Sandbox) error {
	s.byID[sb.ID] = sb
	return nil
}
func (s *memSandboxStore) List(ctx context.Context, f store.SandboxListFilter) ([]*domain.Sandbox, error) {
	return nil, nil
}
func (s *memSandboxStore) HasMore(ctx context.Context, owner, afterID string) (bool, error) {
	return false, nil
}
func (s *memSandboxStore) CountWarmAvailable(ctx context.Context, profileID string) (int, error) {
	return 0, nil
}
func (s *memSandboxStore) CountWarmPending(ctx context.Context, profileID string) (int, error) {
	return 0, nil
}
func (s *memSandboxStore) ClaimOneWarm(ctx context.Context, candidateID, profileID, owner string, now time.Time, expiresAt *time.Time) (bool, error) {
	sb, ok := s.byID[candidateID]
	if !ok || sb.WarmState == nil || *sb.WarmState != domain.WarmStateAvailable {
		return false, nil
	}
	claimed := domain.WarmStateClaimed
	sb.WarmState = &claimed
	sb.IsWarmPool = false
	sb.Owner = owner
	sb.WarmClaimedAt = &now
	sb.LastActiveAt = now
	sb.ExpiresAt = expiresAt
	return true, nil
}
func (s *memSandboxStore) ListWarmCandidates(ctx context.Context, profileID string) ([]*domain.Sandbox, error) {
	var out []*domain.Sandbox
	for _, sb := range s.byID {
		if sb.IsWarmPool && sb.ProfileID == profileID && sb.WarmState != nil && *sb.WarmState == domain.WarmStateAvailable && sb.DeletedAt == nil {
			out = append(out, sb)
		}
	}
	return out, nil
}
func (s *memSandboxStore) ListExpiredWarmRotations(ctx context.Context, profileID string, now time.Time) ([]*domain.Sandbox, error) {
	return nil, nil
}
func (s *memSandboxStore) ListExpired(ctx context.Context, now time.Time) ([]*domain.Sandbox, error) {
	return nil, nil
}
func (s *memSandboxStore) ListAllWarmPool(ctx context.Context) ([]*domain.Sandbox, error) {
	return nil, nil
}

type memWorkspaceStore struct {
	byID map[string]*domain.Workspace
}

func newMemWorkspaceStore() *memWorkspaceStore {
	return &memWorkspaceStore{byID: make(map[string]*domain.Workspace)}
}
func (s *memWorkspaceStore) Insert(ctx context.Context, w *domain.Workspace) error {
	s.byID[w.ID] = w
	return nil
}
func (s *memWorkspaceStore) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	return s.byID[id], nil
}
func (s *memWorkspaceStore) Delete(ctx context.Context, id string) error {
	delete(s.byID, id)
	return nil
}

type memSessionStore struct {
	byID map[string]*domain.Session
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{byID: make(map[string]*domain.Session)}
}
func (s *memSessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	s.byID[sess.ID] = sess
	return nil
}
func (s *memSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.byID[id], nil
}
func (s *memSessionStore) Update(ctx context.Context, sess *domain.Session) error {
	s.byID[sess.ID] = sess
	return nil
}
func (s *memSessionStore) Delete(ctx context.Context, id string) error {
	delete(s.byID, id)
	return nil
}
func (s *memSessionStore) ListBySandbox(ctx context.Context, sandboxID string) ([]*domain.Session, error) {
	var out []*domain.Session
	for _, sess := range s.byID {
		if sess.SandboxID == sandboxID {
			out = append(out, sess)
		}
	}
	return out, nil
}
func (s *memSessionStore) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	return nil, nil
}

type memStore struct {
	sandboxes  *memSandboxStore
	sessions   *memSessionStore
	workspaces *memWorkspaceStore
}

func newMemStore() *memStore {
	return &memStore{
		sandboxes:  newMemSandboxStore(),
		sessions:   newMemSessionStore(),
		workspaces: newMemWorkspaceStore(),
	}
}
func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
func (s *memStore) Rollback(ctx context.Context) error            { return nil }
func (s *memStore) Sandboxes() store.SandboxStore                 { return s.sandboxes }
func (s *memStore) Sessions() store.SessionStore                  { return s.sessions }
func (s *memStore) Workspaces() store.WorkspaceStore               { return s.workspaces }
func (s *memStore) IdempotencyKeys() store.IdempotencyStore        { return nil }

func newTestManager(t *testing.T) (*sandbox.Manager, *memStore, *profile.Registry) {
	t.Helper()
	st := newMemStore()
	drv := &fakeDriver{}
	profiles, err := profile.Load("")
	require.NoError(t, err)

	sessMgr := session.NewManager(st, drv, func(endpoint string) session.HealthChecker {
		return fakeHealthChecker{}
	}, clock.NewFixed(time.Unix(2000, 0).UTC()), 200*time.Millisecond, 5*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mgr := sandbox.NewManager(st, drv, sessMgr, profiles, clock.NewFixed(time.Unix(2000, 0).UTC()), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return mgr, st, profiles
}

func TestCreateInsertsSandboxWithManagedWorkspace(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	ttl := time.Hour

	sb, err := mgr.Create(context.Background(), "alice", "python-default", "", &ttl)
	require.NoError(t, err)
	require.NotEmpty(t, sb.WorkspaceID)

	ws, ok := st.workspaces.byID[sb.WorkspaceID]
	require.True(t, ok)
	require.True(t, ws.Managed)
	require.NotNil(t, sb.ExpiresAt)
}

func TestEnsureRunningCreatesSessionOnFirstCall(t *testing.T) {
	mgr, st, _ := newTestManager(t)

	sb, err := mgr.Create(context.Background(), "alice", "python-default", "", nil)
	require.NoError(t, err)

	sess, err := mgr.EnsureRunning(context.Background(), sb.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SessionRunning, sess.ObservedState)

	got := st.sandboxes.byID[sb.ID]
	require.NotNil(t, got.CurrentSessionID)
	require.Equal(t, sess.ID, *got.CurrentSessionID)
}

func TestDeleteIsIdempotent(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	sb, err := mgr.Create(context.Background(), "alice", "python-default", "", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(context.Background(), sb.ID, "test", "req-1"))
	require.NoError(t, mgr.Delete(context.Background(), sb.ID, "test", "req-2"))

	got := st.sandboxes.byID[sb.ID]
	require.NotNil(t, got.DeletedAt)
}

func TestClaimWarmSandboxAtomicClaim(t *testing.T) {
	mgr, st, _ := newTestManager(t)
	warm, err := mgr.CreateWarmSandbox(context.Background(), "python-default", time.Hour)
	require.NoError(t, err)
	require.NoError(t, mgr.MarkWarmAvailable(context.Background(), warm.ID, time.Hour))

	claimed, err := mgr.ClaimWarmSandbox(context.Background(), "bob", "python-default", nil)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "bob", claimed.Owner)
	require.False(t, claimed.IsWarmPool)

	none, err := mgr.ClaimWarmSandbox(context.Background(), "carol", "python-default", nil)
	require.NoError(t, err)
	require.Nil(t, none)
	_ = st
}
