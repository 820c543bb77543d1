// Package store defines the persistence contract (spec §4.1). Concrete
// engines live in subpackages (internal/store/pg).
package store

import (
	"context"
	"time"

	"github.com/shipyard/sandboxd/internal/domain"
)

// SandboxListFilter narrows a Sandboxes().List call. Cursor paging and
// soft-delete/warm-pool exclusion are handled by the implementation per
// spec §4.5's List algorithm; callers compute status themselves.
type SandboxListFilter struct {
	Owner  string
	Limit  int
	Cursor string
}

// Store is the transactional persistence contract the core consumes. All
// methods are safe to call concurrently on distinct entities; the Sandbox
// Manager (internal/sandbox) layers its own per-sandbox mutex (§5) on top
// for same-entity serialization.
type Store interface {
	// WithTx runs fn inside a serialisable transaction, committing on a nil
	// return and rolling back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Rollback discards any uncommitted cached reads on the current
	// connection/transaction so the next read sees the latest committed
	// state. Required by the rollback-and-refetch discipline (§5, §9) on
	// engines without true row locks.
	Rollback(ctx context.Context) error

	Sandboxes() SandboxStore
	Sessions() SessionStore
	Workspaces() WorkspaceStore
	IdempotencyKeys() IdempotencyStore
}

type SandboxStore interface {
	Insert(ctx context.Context, s *domain.Sandbox) error
	Get(ctx context.Context, id string) (*domain.Sandbox, error)
	// GetAny returns the sandbox including soft-deleted rows.
	GetAny(ctx context.Context, id, owner string) (*domain.Sandbox, error)
	// SelectForUpdate locks the row (engines that support it) or
	// participates in the caller's in-process per-id mutex fallback.
	SelectForUpdate(ctx context.Context, id string) (*domain.Sandbox, error)
	Update(ctx context.Context, s *domain.Sandbox) error

	// List scans in id order, batch-size bounded by the caller (§4.5);
	// excludes soft-deleted and warm-pool rows.
	List(ctx context.Context, f SandboxListFilter) ([]*domain.Sandbox, error)
	HasMore(ctx context.Context, owner string, afterID string) (bool, error)

	// CountWarmAvailable/CountWarmPending support the Warm Pool Scheduler's
	// per-cycle deficit computation (§4.7).
	CountWarmAvailable(ctx context.Context, profileID string) (int, error)
	CountWarmPending(ctx context.Context, profileID string) (int, error)

	// ClaimOneWarm performs the conditional update at the heart of
	// ClaimWarmSandbox (§4.5): its WHERE clause must re-assert every
	// precondition. Returns true iff exactly one row was affected.
	ClaimOneWarm(ctx context.Context, candidateID, profileID, owner string, now time.Time, expiresAt *time.Time) (claimed bool, err error)

	ListWarmCandidates(ctx context.Context, profileID string) ([]*domain.Sandbox, error)
	ListExpiredWarmRotations(ctx context.Context, profileID string, now time.Time) ([]*domain.Sandbox, error)
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Sandbox, error)
	ListAllWarmPool(ctx context.Context) ([]*domain.Sandbox, error)
}

type SessionStore interface {
	Insert(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
	ListBySandbox(ctx context.Context, sandboxID string) ([]*domain.Session, error)
	ListIdleBefore(ctx context.Context, cutoff time.Time) ([]*domain.Session, error)
}

type WorkspaceStore interface {
	Insert(ctx context.Context, w *domain.Workspace) error
	Get(ctx context.Context, id string) (*domain.Workspace, error)
	Delete(ctx context.Context, id string) error
}

type IdempotencyStore interface {
	Get(ctx context.Context, owner, key string) (*domain.IdempotencyRecord, error)
	Save(ctx context.Context, rec *domain.IdempotencyRecord, ttlSeconds int) error
}
