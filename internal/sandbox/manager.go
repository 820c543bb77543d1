// Package sandbox implements the Sandbox Manager (spec §4.5): the
// per-sandbox lock-protected lifecycle (Create/EnsureRunning/ExtendTTL/
// Keepalive/Stop/Delete/List) and the warm-pool claim/create/mark
// methods. Grounded on original_source's managers/sandbox/sandbox.py —
// the algorithm here is a near 1:1 translation, including the list
// bounded-scan constants and ClaimWarmSandbox's conditional-update-with-
// retry — with the rollback-and-refetch/per-sandbox-lock discipline
// expressed through internal/sandbox/sandboxlock instead of the
// original's asyncio lock registry.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/driver"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/sandbox/sandboxlock"
	"github.com/shipyard/sandboxd/internal/session"
	"github.com/shipyard/sandboxd/internal/store"
)

const (
	claimWarmMaxAttempts = 3
	defaultStopGrace     = 10 * time.Second
)

type Manager struct {
	store    store.Store
	driver   driver.Driver
	sessions *session.Manager
	profiles *profile.Registry
	locks    *sandboxlock.Registry
	clock    clock.Clock
	logger   *slog.Logger
}

func NewManager(st store.Store, drv driver.Driver, sessions *session.Manager, profiles *profile.Registry, cl clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		driver:   drv,
		sessions: sessions,
		profiles: profiles,
		locks:    sandboxlock.NewRegistry(),
		clock:    cl,
		logger:   logger,
	}
}

// Create validates the profile, attaches or creates a managed workspace,
// and inserts the sandbox row (spec §4.5).
func (m *Manager) Create(ctx context.Context, owner, profileID, workspaceID string, ttl *time.Duration) (*domain.Sandbox, error) {
	prof, ok := m.profiles.Get(profileID)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown profile %q", profileID))
	}

	now := m.clock.Now()

	var ws *domain.Workspace
	if workspaceID != "" {
		existing, err := m.store.Workspaces().Get(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		ws = existing
	} else {
		ws = &domain.Workspace{ID: uuid.New().String(), Owner: owner, Managed: true}
		volName, err := m.driver.CreateVolume(ctx, "sandbox-ws-"+ws.ID, driver.Labels{Owner: owner, WorkspaceID: ws.ID})
		if err != nil {
			return nil, apperr.DriverError("failed to create workspace volume", err)
		}
		ws.DriverRef = volName
		if err := m.store.Workspaces().Insert(ctx, ws); err != nil {
			return nil, err
		}
	}

	var expiresAt *time.Time
	if ttl != nil && *ttl > 0 {
		t := now.Add(*ttl)
		expiresAt = &t
	}

	sb := &domain.Sandbox{
		ID:            uuid.New().String(),
		Owner:         owner,
		ProfileID:     prof.ID,
		WorkspaceID:   ws.ID,
		CreatedAt:     now,
		LastActiveAt:  now,
		ExpiresAt:     expiresAt,
		IdleExpiresAt: timePtr(now.Add(prof.IdleTimeout)),
	}
	if err := m.store.Sandboxes().Insert(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// EnsureRunning is the request-critical idempotent path (spec §4.5),
// protected by the per-sandbox lock.
func (m *Manager) EnsureRunning(ctx context.Context, sandboxID string) (*domain.Session, error) {
	unlock := m.locks.Acquire(sandboxID)
	defer unlock()

	if err := m.store.Rollback(ctx); err != nil {
		return nil, err
	}

	sb, err := m.store.Sandboxes().SelectForUpdate(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	ws, err := m.store.Workspaces().Get(ctx, sb.WorkspaceID)
	if err != nil {
		return nil, err
	}

	prof, ok := m.profiles.Get(sb.ProfileID)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown profile %q", sb.ProfileID))
	}

	var sess *domain.Session
	if sb.CurrentSessionID != nil {
		sess, err = m.store.Sessions().Get(ctx, *sb.CurrentSessionID)
		if err != nil {
			return nil, err
		}
	} else {
		sess, err = m.sessions.Create(ctx, sb.ID, ws, prof)
		if err != nil {
			return nil, err
		}
		sb.CurrentSessionID = &sess.ID
		if err := m.store.Sandboxes().Update(ctx, sb); err != nil {
			return nil, err
		}
	}

	sess, err = m.sessions.EnsureRunning(ctx, sess, ws, prof)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	sb.IdleExpiresAt = timePtr(now.Add(prof.IdleTimeout))
	sb.LastActiveAt = now
	if err := m.store.Sandboxes().Update(ctx, sb); err != nil {
		return nil, err
	}

	return sess, nil
}

// ExtendTTL extends expires_at (spec §4.5).
func (m *Manager) ExtendTTL(ctx context.Context, sandboxID, owner string, extendBy time.Duration) (*domain.Sandbox, error) {
	unlock := m.locks.Acquire(sandboxID)
	defer unlock()

	if err := m.store.Rollback(ctx); err != nil {
		return nil, err
	}

	sb, err := m.store.Sandboxes().SelectForUpdate(ctx, sandboxID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	if sb.ExpiresAt == nil {
		return nil, apperr.Validation("sandbox has no expiry to extend")
	}
	if !sb.ExpiresAt.After(now) {
		return nil, apperr.Validation("sandbox already expired")
	}

	base := sb.ExpiresAt
	if base.Before(now) {
		base = &now
	}
	newExpiry := base.Add(extendBy)
	sb.ExpiresAt = &newExpiry

	if err := m.store.Sandboxes().Update(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// Keepalive refreshes idle_expires_at and last_active_at without starting
// a session (spec §4.5).
func (m *Manager) Keepalive(ctx context.Context, sandboxID string) error {
	unlock := m.locks.Acquire(sandboxID)
	defer unlock()

	if err := m.store.Rollback(ctx); err != nil {
		return err
	}

	sb, err := m.store.Sandboxes().SelectForUpdate(ctx, sandboxID)
	if err != nil {
		return err
	}

	prof, ok := m.profiles.Get(sb.ProfileID)
	if !ok {
		return apperr.Validation(fmt.Sprintf("unknown profile %q", sb.ProfileID))
	}

	now := m.clock.Now()
	sb.IdleExpiresAt = timePtr(now.Add(prof.IdleTimeout))
	sb.LastActiveAt = now
	return m.store.Sandboxes().Update(ctx, sb)
}

// Stop stops every session for the sandbox and clears current_session_id
// (spec §4.5). Idempotent.
func (m *Manager) Stop(ctx context.Context, sandboxID string) error {
	unlock := m.locks.Acquire(sandboxID)
	defer unlock()

	if err := m.store.Rollback(ctx); err != nil {
		return err
	}

	sb, err := m.store.Sandboxes().SelectForUpdate(ctx, sandboxID)
	if err != nil {
		return err
	}

	sessions, err := m.store.Sessions().ListBySandbox(ctx, sandboxID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if err := m.sessions.Stop(ctx, s); err != nil {
			return err
		}
	}

	sb.CurrentSessionID = nil
	sb.IdleExpiresAt = nil
	return m.store.Sandboxes().Update(ctx, sb)
}

// Delete destroys all sessions, soft-deletes the sandbox, and — outside
// the lock — deletes the workspace if managed (spec §4.5, §9 Open
// Question (c): mutex released before the cascade workspace delete).
// Idempotent: a re-delete of an already-soft-deleted sandbox is a no-op.
func (m *Manager) Delete(ctx context.Context, sandboxID, source, requestID string) error {
	var workspaceID string
	var managed bool

	err := func() error {
		unlock := m.locks.Acquire(sandboxID)
		defer unlock()

		if err := m.store.Rollback(ctx); err != nil {
			return err
		}

		sb, err := m.store.Sandboxes().SelectForUpdate(ctx, sandboxID)
		if err != nil {
			return err
		}
		if sb.DeletedAt != nil {
			m.logger.Info("delete on already-deleted sandbox, no-op", "sandbox_id", sandboxID, "source", source, "request_id", requestID)
			return nil
		}

		sessions, err := m.store.Sessions().ListBySandbox(ctx, sandboxID)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if err := m.sessions.Destroy(ctx, s); err != nil {
				return err
			}
		}

		now := m.clock.Now()
		sb.DeletedAt = &now
		sb.CurrentSessionID = nil
		if err := m.store.Sandboxes().Update(ctx, sb); err != nil {
			return err
		}

		ws, err := m.store.Workspaces().Get(ctx, sb.WorkspaceID)
		if err != nil {
			return err
		}
		workspaceID = ws.ID
		managed = ws.Managed
		return nil
	}()
	if err != nil {
		return err
	}

	if managed && workspaceID != "" {
		ws, err := m.store.Workspaces().Get(ctx, workspaceID)
		if err == nil && ws != nil {
			if err := m.driver.DeleteVolume(ctx, ws.DriverRef); err != nil {
				m.logger.Error("failed to delete workspace volume", "workspace_id", workspaceID, "error", err)
			}
		}
		if err := m.store.Workspaces().Delete(ctx, workspaceID); err != nil {
			m.logger.Error("failed to delete workspace row", "workspace_id", workspaceID, "error", err)
		}
	}

	m.locks.Purge(sandboxID)
	return nil
}

// List scans in id order with cursor, bounding total scanned work (spec
// §4.5's batch-size/cap formulas, carried verbatim from original_source).
func (m *Manager) List(ctx context.Context, owner string, statusFilter *domain.SandboxStatus, limit int, cursor string) ([]*domain.Sandbox, string, error) {
	batchSize := minInt(maxInt(5*limit, 50), 500)
	maxScanned := maxInt(20*limit, 1000)

	now := m.clock.Now()
	var results []*domain.Sandbox
	scanned := 0
	lastID := cursor

	for len(results) < limit && scanned < maxScanned {
		batch, err := m.store.Sandboxes().List(ctx, store.SandboxListFilter{Owner: owner, Limit: batchSize, Cursor: lastID})
		if err != nil {
			return nil, "", err
		}
		if len(batch) == 0 {
			return results, "", nil
		}

		for _, sb := range batch {
			scanned++
			lastID = sb.ID

			var sess *domain.Session
			if sb.CurrentSessionID != nil {
				sess, _ = m.store.Sessions().Get(ctx, *sb.CurrentSessionID)
			}
			status := domain.ComputeSandboxStatus(sb, sess, now)
			if statusFilter == nil || status == *statusFilter {
				results = append(results, sb)
				if len(results) >= limit {
					break
				}
			}
			if scanned >= maxScanned {
				break
			}
		}
	}

	if scanned >= maxScanned && len(results) < limit {
		return results, lastID, nil
	}
	return results, "", nil
}

// ClaimWarmSandbox performs the critical atomic claim (spec §4.5): up to
// three attempts of select-candidate-then-conditional-update, to tolerate
// engines without SELECT FOR UPDATE SKIP LOCKED.
func (m *Manager) ClaimWarmSandbox(ctx context.Context, owner, profileID string, ttl *time.Duration) (*domain.Sandbox, error) {
	now := m.clock.Now()
	var expiresAt *time.Time
	if ttl != nil && *ttl > 0 {
		t := now.Add(*ttl)
		expiresAt = &t
	}

	for attempt := 0; attempt < claimWarmMaxAttempts; attempt++ {
		candidates, err := m.store.Sandboxes().ListWarmCandidates(ctx, profileID)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		candidate := candidates[0]

		claimed, err := m.store.Sandboxes().ClaimOneWarm(ctx, candidate.ID, profileID, owner, now, expiresAt)
		if err != nil {
			return nil, err
		}
		if claimed {
			return m.store.Sandboxes().Get(ctx, candidate.ID)
		}
	}
	return nil, nil
}

// CreateWarmSandbox inserts a warm-pool sandbox row with no observed
// warm_state (spec §4.5); it becomes AVAILABLE only via MarkWarmAvailable.
func (m *Manager) CreateWarmSandbox(ctx context.Context, profileID string, warmRotateTTL time.Duration) (*domain.Sandbox, error) {
	prof, ok := m.profiles.Get(profileID)
	if !ok {
		return nil, apperr.Validation(fmt.Sprintf("unknown profile %q", profileID))
	}

	now := m.clock.Now()
	ws := &domain.Workspace{ID: uuid.New().String(), Owner: "warm-pool", Managed: true}
	volName, err := m.driver.CreateVolume(ctx, "sandbox-ws-"+ws.ID, driver.Labels{Owner: "warm-pool", WorkspaceID: ws.ID})
	if err != nil {
		return nil, apperr.DriverError("failed to create warm workspace volume", err)
	}
	ws.DriverRef = volName
	if err := m.store.Workspaces().Insert(ctx, ws); err != nil {
		return nil, err
	}

	sb := &domain.Sandbox{
		ID:           uuid.New().String(),
		Owner:        "warm-pool",
		ProfileID:    prof.ID,
		WorkspaceID:  ws.ID,
		CreatedAt:    now,
		LastActiveAt: now,
		IsWarmPool:   true,
	}
	if err := m.store.Sandboxes().Insert(ctx, sb); err != nil {
		return nil, err
	}
	return sb, nil
}

// MarkWarmAvailable transitions a warm-pool sandbox to AVAILABLE (spec
// §4.5), invoked by the Warmup Queue after EnsureRunning succeeds.
func (m *Manager) MarkWarmAvailable(ctx context.Context, sandboxID string, warmRotateTTL time.Duration) error {
	sb, err := m.store.Sandboxes().Get(ctx, sandboxID)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	available := domain.WarmStateAvailable
	sb.WarmState = &available
	sb.WarmReadyAt = &now
	rotateAt := now.Add(warmRotateTTL)
	sb.WarmRotateAt = &rotateAt
	return m.store.Sandboxes().Update(ctx, sb)
}

// MarkWarmRetiring transitions AVAILABLE → RETIRING; no-op otherwise
// (spec §4.5).
func (m *Manager) MarkWarmRetiring(ctx context.Context, sandboxID string) error {
	sb, err := m.store.Sandboxes().Get(ctx, sandboxID)
	if err != nil {
		return err
	}
	if sb.WarmState == nil || *sb.WarmState != domain.WarmStateAvailable {
		return nil
	}
	retiring := domain.WarmStateRetiring
	sb.WarmState = &retiring
	return m.store.Sandboxes().Update(ctx, sb)
}

func timePtr(t time.Time) *time.Time { return &t }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
