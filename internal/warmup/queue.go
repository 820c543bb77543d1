// Package warmup implements the Warmup Queue (spec §4.6): a bounded,
// deduped, fixed-worker throttling layer between the warm pool scheduler
// (and requests that want lazy sandboxes warmed) and the heavy
// EnsureRunning start-up path. Ported from
// original_source's pkgs/bay/app/services/warm_pool/queue.py.
package warmup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/monitor"
	"github.com/shipyard/sandboxd/internal/profile"
	"github.com/shipyard/sandboxd/internal/sandbox"
	"github.com/shipyard/sandboxd/internal/store"
)

// DropPolicy governs admission when the queue is full.
type DropPolicy string

const (
	DropNewest DropPolicy = "drop_newest"
	DropOldest DropPolicy = "drop_oldest"
)

// Task is one unit of warmup work.
type Task struct {
	SandboxID string
	Owner     string
}

// Queue is the bounded FIFO + dedup set described by spec §4.6. The dedup
// set is guarded by its own mutex, never the channel's — spec §5's exact
// invariant ("dedup set operations are performed without the channel
// lock").
type Queue struct {
	tasks  chan Task
	policy DropPolicy

	dedupMu sync.Mutex
	dedup   map[string]struct{}

	dropEveryN int
	dropCount  int
	dropMu     sync.Mutex

	workers    int
	sandboxMgr *sandbox.Manager
	store      store.Store
	profiles   *profile.Registry
	logger     *slog.Logger

	wg sync.WaitGroup
}

// New builds a Queue with capacity qMax and the given number of workers.
// dropEveryN is the "every N drops emit one warning event" cadence from
// spec §4.6; 0 disables the periodic warning (every drop logs instead).
func New(qMax, workers int, policy DropPolicy, dropEveryN int, sandboxMgr *sandbox.Manager, st store.Store, profiles *profile.Registry, logger *slog.Logger) *Queue {
	return &Queue{
		tasks:      make(chan Task, qMax),
		policy:     policy,
		dedup:      make(map[string]struct{}),
		dropEveryN: dropEveryN,
		workers:    workers,
		sandboxMgr: sandboxMgr,
		store:      st,
		profiles:   profiles,
		logger:     logger,
	}
}

// Depth reports the number of tasks currently buffered, for the admin
// surface (spec §4.6's queue stats, exposed over HTTP instead of the
// original's in-process dataclass).
func (q *Queue) Depth() int {
	return len(q.tasks)
}

// Enqueue is the non-blocking, synchronous admission path (spec §4.6).
func (q *Queue) Enqueue(sandboxID, owner string) bool {
	q.dedupMu.Lock()
	if _, ok := q.dedup[sandboxID]; ok {
		q.dedupMu.Unlock()
		monitor.WarmupDedupTotal.Inc()
		return false
	}
	q.dedup[sandboxID] = struct{}{}
	q.dedupMu.Unlock()

	task := Task{SandboxID: sandboxID, Owner: owner}

	select {
	case q.tasks <- task:
		monitor.WarmupEnqueueTotal.Inc()
		return true
	default:
	}

	// Queue full: apply the configured policy.
	if q.policy == DropOldest {
		select {
		case old := <-q.tasks:
			q.dedupMu.Lock()
			delete(q.dedup, old.SandboxID)
			q.dedupMu.Unlock()
		default:
		}
		select {
		case q.tasks <- task:
			monitor.WarmupEnqueueTotal.Inc()
			return true
		default:
			// Another producer refilled the slot we just freed; fall through to drop.
		}
	}

	q.dedupMu.Lock()
	delete(q.dedup, sandboxID)
	q.dedupMu.Unlock()
	q.recordDrop()
	return false
}

func (q *Queue) recordDrop() {
	monitor.WarmupDropTotal.Inc()
	if q.dropEveryN <= 0 {
		q.logger.Warn("warmup queue dropped task: queue full")
		return
	}
	q.dropMu.Lock()
	q.dropCount++
	emit := q.dropCount%q.dropEveryN == 0
	q.dropMu.Unlock()
	if emit {
		q.logger.Warn("warmup queue drop threshold reached", "policy", q.policy, "total_drops", q.dropCount)
	}
}

// Run starts the fixed worker pool and blocks until ctx is cancelled, then
// drains in-flight workers (spec §4.6's shutdown sequence: the 1-second
// poll-with-timeout is how each worker observes ctx without blocking
// forever on an empty channel).
func (q *Queue) Run(ctx context.Context) {
	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.runWorker(ctx)
	}
	q.wg.Wait()
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-q.tasks:
			monitor.WarmupActiveWorkers.Inc()
			monitor.WarmupConsumedTotal.Inc()
			q.process(ctx, task)
			monitor.WarmupActiveWorkers.Dec()
			q.dedupMu.Lock()
			delete(q.dedup, task.SandboxID)
			q.dedupMu.Unlock()
		case <-time.After(time.Second):
			// Poll with timeout so a quiet queue still observes ctx.Done()
			// promptly, matching queue.py's asyncio.wait_for(..., timeout=1.0).
		}
	}
}

func (q *Queue) process(ctx context.Context, task Task) {
	sb, err := q.store.Sandboxes().Get(ctx, task.SandboxID)
	if err != nil {
		q.logger.Error("warmup: failed to load sandbox", "sandbox_id", task.SandboxID, "error", err)
		monitor.WarmupFailureTotal.Inc()
		return
	}
	if sb == nil || sb.DeletedAt != nil {
		return
	}
	if sb.CurrentSessionID != nil {
		sess, err := q.store.Sessions().Get(ctx, *sb.CurrentSessionID)
		if err == nil && sess != nil && sess.ObservedState == domain.SessionRunning {
			return
		}
	}

	if _, err := q.sandboxMgr.EnsureRunning(ctx, task.SandboxID); err != nil {
		q.logger.Error("warmup: ensure_running failed", "sandbox_id", task.SandboxID, "error", err)
		monitor.WarmupFailureTotal.Inc()
		return
	}

	if sb.IsWarmPool && sb.WarmState == nil {
		prof, ok := q.profiles.Get(sb.ProfileID)
		ttl := time.Hour
		if ok {
			ttl = prof.WarmRotateTTL
		}
		if err := q.sandboxMgr.MarkWarmAvailable(ctx, sb.ID, ttl); err != nil {
			q.logger.Error("warmup: mark_warm_available failed", "sandbox_id", task.SandboxID, "error", err)
			monitor.WarmupFailureTotal.Inc()
			return
		}
	}

	monitor.WarmupSuccessTotal.Inc()
}
