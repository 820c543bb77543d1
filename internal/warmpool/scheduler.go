// Package warmpool implements the Warm Pool Scheduler (spec §4.7): a
// single periodic loop, run-once guarded, that replenishes and rotates
// each profile's pre-warmed sandbox reservoir. Ported from
// original_source's pkgs/bay/app/services/warm_pool/scheduler.py.
package warmpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shipyard/sandboxd/internal/clock"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/monitor"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/sandbox"
	"github.com/shipyard/sandboxd/internal/store"
	"github.com/shipyard/sandboxd/internal/warmup"
)

// Scheduler runs the per-cycle warm-pool replenishment/rotation algorithm.
type Scheduler struct {
	store        store.Store
	sandboxMgr   *sandbox.Manager
	queue        *warmup.Queue
	profiles     *profile.Registry
	clock        clock.Clock
	period       time.Duration
	concurrency  int
	runOnStartup bool
	logger       *slog.Logger

	runOnce sync.Mutex
}

func New(st store.Store, sandboxMgr *sandbox.Manager, queue *warmup.Queue, profiles *profile.Registry, cl clock.Clock, period time.Duration, concurrency int, runOnStartup bool, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        st,
		sandboxMgr:   sandboxMgr,
		queue:        queue,
		profiles:     profiles,
		clock:        cl,
		period:       period,
		concurrency:  concurrency,
		runOnStartup: runOnStartup,
		logger:       logger,
	}
}

// Run blocks until ctx is cancelled, running one cycle per period — plus
// one immediate cycle at startup if configured, after which the periodic
// loop still waits a full period before its first tick to avoid double
// replenishment (spec §4.7).
func (s *Scheduler) Run(ctx context.Context) {
	if s.runOnStartup {
		s.runCycle(ctx)
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// TriggerCycle runs one cycle immediately, outside the ticker — used by
// the admin HTTP surface to force a rotation without waiting for the
// next tick. Still subject to the same runOnce guard as the ticker.
func (s *Scheduler) TriggerCycle(ctx context.Context) {
	s.runCycle(ctx)
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if !s.runOnce.TryLock() {
		s.logger.Warn("warm pool cycle skipped: previous cycle still running")
		return
	}
	defer s.runOnce.Unlock()

	profiles := s.profiles.All()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, p := range profiles {
		p := p
		if p.WarmPoolSize <= 0 {
			continue
		}
		g.Go(func() error {
			if err := s.cycleProfile(gctx, p); err != nil {
				s.logger.Error("warm pool cycle failed", "profile_id", p.ID, "error", err)
				monitor.WarmPoolCycleErrors.Inc()
			}
			// Never abort sibling profiles on one profile's error.
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) cycleProfile(ctx context.Context, p *domain.Profile) error {
	now := s.clock.Now()

	available, err := s.store.Sandboxes().CountWarmAvailable(ctx, p.ID)
	if err != nil {
		return err
	}
	pending, err := s.store.Sandboxes().CountWarmPending(ctx, p.ID)
	if err != nil {
		return err
	}

	rotating, err := s.store.Sandboxes().ListExpiredWarmRotations(ctx, p.ID, now)
	if err != nil {
		return err
	}
	for _, sb := range rotating {
		if err := s.sandboxMgr.MarkWarmRetiring(ctx, sb.ID); err != nil {
			s.logger.Error("warm pool rotation: mark_warm_retiring failed", "sandbox_id", sb.ID, "error", err)
			continue
		}
		available--
	}

	deficit := p.WarmPoolSize - (available + pending)
	for i := 0; i < deficit; i++ {
		warm, err := s.sandboxMgr.CreateWarmSandbox(ctx, p.ID, p.WarmRotateTTL)
		if err != nil {
			s.logger.Error("warm pool: create_warm_sandbox failed", "profile_id", p.ID, "error", err)
			continue
		}
		s.queue.Enqueue(warm.ID, "warm-pool")
	}

	for _, sb := range rotating {
		if err := s.sandboxMgr.Delete(ctx, sb.ID, "warm_pool.rotate", ""); err != nil {
			s.logger.Error("warm pool rotation: delete failed", "sandbox_id", sb.ID, "error", err)
		}
	}

	monitor.WarmPoolAvailable.WithLabelValues(p.ID).Set(float64(available))
	monitor.WarmPoolPending.WithLabelValues(p.ID).Set(float64(pending))
	return nil
}
