// Package reconciler implements the Reconciler/GC (spec §4.10): three
// periodic tasks — expired_sandbox, idle_session, orphaned_container —
// each registered as a cron-scheduled asynq.Task on the same asynq.Server/
// ServeMux the teacher already wires for its own background work
// (internal/server/server.go), instead of three hand-rolled ticker loops.
package reconciler

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/driver"
	"github.com/shipyard/sandboxd/internal/monitor"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/sandbox"
	"github.com/shipyard/sandboxd/internal/store"
)

const (
	TaskExpiredSandbox    = "reconcile:expired_sandbox"
	TaskIdleSession       = "reconcile:idle_session"
	TaskOrphanedContainer = "reconcile:orphaned_container"
)

// Reconciler holds the dependencies its three task handlers need. The
// expired_sandbox and idle_session tasks mutate through the Sandbox
// Manager, which acquires the same per-sandbox lock request handlers use;
// the orphaned_container task calls Driver.Destroy directly and does not
// take that lock.
type Reconciler struct {
	store      store.Store
	sandboxMgr *sandbox.Manager
	driver     driver.Driver
	profiles   *profile.Registry
	clock      clock.Clock
	logger     *slog.Logger
}

func New(st store.Store, sandboxMgr *sandbox.Manager, drv driver.Driver, profiles *profile.Registry, cl clock.Clock, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: st, sandboxMgr: sandboxMgr, driver: drv, profiles: profiles, clock: cl, logger: logger}
}

// RegisterCron registers all three tasks on scheduler at the given cron
// spec, and their handlers on mux.
func (r *Reconciler) RegisterCron(scheduler *asynq.Scheduler, mux *asynq.ServeMux, spec string) error {
	mux.HandleFunc(TaskExpiredSandbox, r.handleExpiredSandbox)
	mux.HandleFunc(TaskIdleSession, r.handleIdleSession)
	mux.HandleFunc(TaskOrphanedContainer, r.handleOrphanedContainer)

	for _, taskType := range []string{TaskExpiredSandbox, TaskIdleSession, TaskOrphanedContainer} {
		if _, err := scheduler.Register(spec, asynq.NewTask(taskType, nil)); err != nil {
			return err
		}
	}
	return nil
}

// handleExpiredSandbox deletes every sandbox whose expires_at has passed
// (spec §4.10).
func (r *Reconciler) handleExpiredSandbox(ctx context.Context, t *asynq.Task) error {
	now := r.clock.Now()
	expired, err := r.store.Sandboxes().ListExpired(ctx, now)
	if err != nil {
		return err
	}
	outcome := "ok"
	for _, sb := range expired {
		if err := r.sandboxMgr.Delete(ctx, sb.ID, "reconciler.expired_sandbox", ""); err != nil {
			r.logger.Error("reconciler: failed to delete expired sandbox", "sandbox_id", sb.ID, "error", err)
			outcome = "error"
			continue
		}
	}
	monitor.ReconcilerTasksTotal.WithLabelValues(TaskExpiredSandbox, outcome).Inc()
	return nil
}

// handleIdleSession stops sessions past their profile's idle timeout
// (spec §4.10). Stopping goes through the Sandbox Manager's Stop (not
// session.Manager directly) so the per-sandbox lock is held.
func (r *Reconciler) handleIdleSession(ctx context.Context, t *asynq.Task) error {
	outcome := "ok"
	for _, p := range r.profiles.All() {
		cutoff := r.clock.Now().Add(-p.IdleTimeout)
		idle, err := r.store.Sessions().ListIdleBefore(ctx, cutoff)
		if err != nil {
			r.logger.Error("reconciler: list idle sessions failed", "profile_id", p.ID, "error", err)
			outcome = "error"
			continue
		}
		for _, sess := range idle {
			if sess.ProfileID != p.ID {
				continue
			}
			if err := r.sandboxMgr.Stop(ctx, sess.SandboxID); err != nil {
				r.logger.Error("reconciler: failed to stop idle sandbox", "sandbox_id", sess.SandboxID, "error", err)
				outcome = "error"
			}
		}
	}
	monitor.ReconcilerTasksTotal.WithLabelValues(TaskIdleSession, outcome).Inc()
	return nil
}

// handleOrphanedContainer destroys any labelled container with no
// corresponding live session row (spec §4.10).
func (r *Reconciler) handleOrphanedContainer(ctx context.Context, t *asynq.Task) error {
	managed, err := r.driver.ListManagedContainers(ctx)
	if err != nil {
		monitor.ReconcilerTasksTotal.WithLabelValues(TaskOrphanedContainer, "error").Inc()
		return err
	}
	outcome := "ok"
	for _, mc := range managed {
		if mc.SessionID == "" {
			continue
		}
		sess, err := r.store.Sessions().Get(ctx, mc.SessionID)
		if err == nil && sess != nil {
			continue
		}
		if err := r.driver.Destroy(ctx, mc.ContainerID); err != nil {
			r.logger.Error("reconciler: failed to destroy orphaned container", "container_id", mc.ContainerID, "error", err)
			outcome = "error"
		}
	}
	monitor.ReconcilerTasksTotal.WithLabelValues(TaskOrphanedContainer, outcome).Inc()
	return nil
}

// DefaultCronSpec runs every minute, matching the bounded-staleness the
// spec's reconciler examples assume without naming a concrete period.
const DefaultCronSpec = "* * * * *"
