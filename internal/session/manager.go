// Package session implements the Session Manager (spec §4.4): the
// idempotent container-lifecycle primitive EnsureRunning, plus
// Create/Stop/Destroy/RefreshStatus/Touch. Grounded on
// original_source's managers/session/session.py (near 1:1 algorithm) and
// the teacher's internal/session/session_manager.go (struct-of-deps
// shape, readiness-wait-with-bounded-deadline pattern from
// internal/session/worker/worker.go).
package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/driver"
	"github.com/shipyard/sandboxd/internal/store"
)

// HealthChecker is the narrow slice of runtimeclient.Client EnsureRunning
// needs to probe readiness, kept separate to avoid an import cycle with
// internal/runtimeclient (which does not depend on internal/session).
type HealthChecker interface {
	Health(ctx context.Context) (map[string]any, error)
}

// HealthCheckerFactory builds a HealthChecker bound to an endpoint;
// internal/server wires this to the RuntimeClient pool's GetOrCreate.
type HealthCheckerFactory func(endpoint string) HealthChecker

type Manager struct {
	store          store.Store
	driver         driver.Driver
	healthFactory  HealthCheckerFactory
	clock          clock.Clock
	readyDeadline  time.Duration
	readyPoll      time.Duration
	pidsLimit      int64
	stopGrace      time.Duration
	logger         *slog.Logger
}

func NewManager(st store.Store, drv driver.Driver, healthFactory HealthCheckerFactory, cl clock.Clock, readyDeadline, readyPoll time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:         st,
		driver:        drv,
		healthFactory: healthFactory,
		clock:         cl,
		readyDeadline: readyDeadline,
		readyPoll:     readyPoll,
		stopGrace:     10 * time.Second,
		logger:        logger,
	}
}

// WithContainerLimits sets the PID cap and stop grace period applied to
// every container this manager creates/stops (spec §4.2's resource
// limits), configurable from process config rather than hardcoded.
func (m *Manager) WithContainerLimits(pidsLimit int64, stopGrace time.Duration) *Manager {
	m.pidsLimit = pidsLimit
	if stopGrace > 0 {
		m.stopGrace = stopGrace
	}
	return m
}

// Create inserts a session row with no container (spec §4.4).
func (m *Manager) Create(ctx context.Context, sandboxID string, workspace *domain.Workspace, profile *domain.Profile) (*domain.Session, error) {
	now := m.clock.Now()
	s := &domain.Session{
		ID:            uuid.New().String(),
		SandboxID:     sandboxID,
		RuntimeType:   profile.ID,
		ProfileID:     profile.ID,
		DesiredState:  domain.SessionPending,
		ObservedState: domain.SessionPending,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if err := m.store.Sessions().Insert(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureRunning is the core idempotent startup primitive (spec §4.4).
func (m *Manager) EnsureRunning(ctx context.Context, s *domain.Session, workspace *domain.Workspace, profile *domain.Profile) (*domain.Session, error) {
	now := m.clock.Now()

	if s.IsReady() {
		info, probeErr := m.driver.Status(ctx, *s.ContainerID)
		if probeErr != nil {
			// Transport failure: trust DB state, degrade gracefully.
			m.logger.Warn("status probe failed, trusting db state", "session_id", s.ID, "error", probeErr)
			return s, nil
		}
		switch info.Status {
		case driver.StatusRunning:
			return s, nil
		case driver.StatusExited, driver.StatusNotFound:
			s.ContainerID = nil
			s.Endpoint = nil
			s.ObservedState = domain.SessionFailed
			if err := m.store.Sessions().Update(ctx, s); err != nil {
				return nil, err
			}
			// fall through to recreate below
		default:
			return s, nil
		}
	}

	if s.ObservedState == domain.SessionStarting {
		return nil, apperr.SessionNotReady("session is starting", 500, map[string]any{"sandbox_id": s.SandboxID})
	}

	if s.ContainerID == nil {
		s.DesiredState = domain.SessionRunning
		s.ObservedState = domain.SessionStarting
		if err := m.store.Sessions().Update(ctx, s); err != nil {
			return nil, err
		}

		containerID, err := m.driver.Create(ctx, driver.CreateSpec{
			Session:   s,
			Profile:   profile,
			Workspace: workspace,
			Labels: driver.Labels{
				SandboxID:   s.SandboxID,
				SessionID:   s.ID,
				WorkspaceID: workspace.ID,
				ProfileID:   profile.ID,
			},
			PIDsLimit: m.pidsLimit,
			MountPath: "/workspace",
		})
		if err != nil {
			s.ObservedState = domain.SessionFailed
			if uerr := m.store.Sessions().Update(ctx, s); uerr != nil {
				m.logger.Error("failed to persist failed session state", "session_id", s.ID, "error", uerr)
			}
			return nil, apperr.DriverError("failed to create container", err)
		}
		s.ContainerID = &containerID
		if err := m.store.Sessions().Update(ctx, s); err != nil {
			return nil, err
		}
	}

	if s.ObservedState != domain.SessionRunning {
		endpoint, err := m.driver.Start(ctx, *s.ContainerID, profile.RuntimePort)
		if err != nil {
			return nil, m.failStart(ctx, s, err)
		}
		s.Endpoint = &endpoint
	}

	if err := m.waitForReady(ctx, *s.Endpoint); err != nil {
		return nil, m.failStart(ctx, s, err)
	}

	s.ObservedState = domain.SessionRunning
	s.LastObservedAt = now
	if err := m.store.Sessions().Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// failStart destroys the container and leaves a legal FAILED state (spec
// §4.4 "every start-up failure leaves the DB in a legal state").
func (m *Manager) failStart(ctx context.Context, s *domain.Session, cause error) error {
	if s.ContainerID != nil {
		if err := m.driver.Destroy(ctx, *s.ContainerID); err != nil {
			m.logger.Error("failed to destroy container after start failure", "session_id", s.ID, "error", err)
		}
	}
	s.ContainerID = nil
	s.Endpoint = nil
	s.ObservedState = domain.SessionFailed
	if err := m.store.Sessions().Update(ctx, s); err != nil {
		m.logger.Error("failed to persist failed session state", "session_id", s.ID, "error", err)
	}

	if ae, ok := apperr.As(cause); ok && ae.Kind == apperr.KindSessionNotReady {
		return cause
	}
	return apperr.SessionNotReady("runtime did not become ready", 2000, map[string]any{"sandbox_id": s.SandboxID}).WithCause(cause)
}

func (m *Manager) waitForReady(ctx context.Context, endpoint string) error {
	client := m.healthFactory(endpoint)
	deadline := time.Now().Add(m.readyDeadline)

	for {
		if _, err := client.Health(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return apperr.Timeout("runtime did not become healthy in time", nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.readyPoll):
		}
	}
}

// Stop stops the session's container without destroying the row (spec
// §4.4).
func (m *Manager) Stop(ctx context.Context, s *domain.Session) error {
	if s.ContainerID != nil {
		if err := m.driver.Stop(ctx, *s.ContainerID, m.stopGrace); err != nil {
			return apperr.DriverError("failed to stop container", err)
		}
	}
	s.DesiredState = domain.SessionStopped
	s.ObservedState = domain.SessionStopped
	s.Endpoint = nil
	return m.store.Sessions().Update(ctx, s)
}

// Destroy destroys the container and deletes the session row (spec
// §4.4).
func (m *Manager) Destroy(ctx context.Context, s *domain.Session) error {
	if s.ContainerID != nil {
		if err := m.driver.Destroy(ctx, *s.ContainerID); err != nil {
			return apperr.DriverError("failed to destroy container", err)
		}
	}
	return m.store.Sessions().Delete(ctx, s.ID)
}

// RefreshStatus reconciles observed state against a fresh Driver probe
// (spec §4.4).
func (m *Manager) RefreshStatus(ctx context.Context, s *domain.Session) error {
	if s.ContainerID == nil {
		return nil
	}
	info, err := m.driver.Status(ctx, *s.ContainerID)
	if err != nil {
		return apperr.DriverError("failed to probe container status", err)
	}
	switch info.Status {
	case driver.StatusRunning:
		s.ObservedState = domain.SessionRunning
	case driver.StatusExited, driver.StatusNotFound:
		s.ContainerID = nil
		s.Endpoint = nil
		s.ObservedState = domain.SessionFailed
	}
	s.LastObservedAt = m.clock.Now()
	return m.store.Sessions().Update(ctx, s)
}

// Touch updates last_active_at (spec §4.4).
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	s, err := m.store.Sessions().Get(ctx, sessionID)
	if err != nil {
		return err
	}
	s.LastActiveAt = m.clock.Now()
	return m.store.Sessions().Update(ctx, s)
}
