// Package pg implements internal/store.Store on github.com/go-pg/pg/v10,
// following the teacher's internal/session/repo/pg.go query style
// (Model(...).Where(...).Select()/.Update()) almost exactly, with
// cache-aside reads through redis/go-redis/v9 on the Get hot paths exactly
// as the teacher's repo.GetByID does.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pglib "github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/redis/go-redis/v9"

	"github.com/shipyard/sandboxd/internal/apperr"
	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/store"
)

// db is the subset of *pg.DB / *pg.Tx that query building needs; both
// satisfy it, which is how WithTx swaps in a transaction transparently.
type db interface {
	Model(model ...interface{}) *orm.Query
}

type ctxTxKey struct{}

func withTx(ctx context.Context, tx *pglib.Tx) context.Context {
	return context.WithValue(ctx, ctxTxKey{}, tx)
}

// Store implements store.Store. Every call runs against whatever db is
// current in ctx (a transaction opened by WithTx, or the shared *pg.DB
// otherwise) — no Store-instance-held transaction state, so Store is safe
// to share across concurrent requests.
type Store struct {
	pg    *pglib.DB
	redis *redis.Client
	ttl   time.Duration
}

// New wraps an already-connected *pg.DB and *redis.Client. cacheTTL bounds
// how long a cached Sandbox read may go stale before falling back to
// Postgres; Session reads are not cached.
func New(pgDB *pglib.DB, redisClient *redis.Client, cacheTTL time.Duration) *Store {
	return &Store{pg: pgDB, redis: redisClient, ttl: cacheTTL}
}

// Migrate creates every table this package owns, idempotently. Called once
// at startup from internal/server/dependency.go, mirroring the teacher's
// single CreateTable call in InitDeps.
func (s *Store) Migrate() error {
	opts := &orm.CreateTableOptions{IfNotExists: true}
	for _, model := range []interface{}{
		(*SandboxModel)(nil),
		(*SessionModel)(nil),
		(*WorkspaceModel)(nil),
		(*IdempotencyModel)(nil),
	} {
		if err := s.pg.Model(model).CreateTable(opts); err != nil {
			return fmt.Errorf("pg store: migrate %T: %w", model, err)
		}
	}
	return nil
}

func (s *Store) conn(ctx context.Context) db {
	if tx, ok := ctx.Value(ctxTxKey{}).(*pglib.Tx); ok {
		return tx
	}
	return s.pg
}

// WithTx runs fn inside a serialisable transaction, committing on a nil
// return and rolling back otherwise (spec §4.1).
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.pg.RunInTransaction(ctx, func(tx *pglib.Tx) error {
		return fn(withTx(ctx, tx))
	})
}

// Rollback is a documented no-op for this implementation: every call here
// runs directly against s.pg (or a transaction WithTx itself owns and will
// roll back on error), so there is no Store-held cached read across calls
// to discard. SelectForUpdate's ".For(UPDATE)" clause takes a real
// Postgres row lock scoped to its own single-statement auto-commit
// transaction, matching spec.md §9's note that "implementations on engines
// with real row locks may drop the forced rollback" — the in-process
// per-sandbox mutex (internal/sandbox/sandboxlock) remains the actual
// cross-call serialisation mechanism for the common single-instance case.
func (s *Store) Rollback(ctx context.Context) error { return nil }

func (s *Store) Sandboxes() store.SandboxStore   { return &sandboxStore{s} }
func (s *Store) Sessions() store.SessionStore    { return &sessionStore{s} }
func (s *Store) Workspaces() store.WorkspaceStore { return &workspaceStore{s} }
func (s *Store) IdempotencyKeys() store.IdempotencyStore { return &idempotencyStore{s} }

func wrapErr(err error) error {
	if err == nil || errors.Is(err, pglib.ErrNoRows) {
		return nil
	}
	return fmt.Errorf("%w: %v", store.ErrTransient, err)
}

// --- sandboxes ---

type sandboxStore struct{ s *Store }

func (t *sandboxStore) sandboxCacheKey(id string) string { return "cache:sandbox:" + id }

func (t *sandboxStore) Insert(ctx context.Context, sb *domain.Sandbox) error {
	_, err := t.s.conn(ctx).Model(sandboxFromDomain(sb)).Context(ctx).Insert()
	return wrapErr(err)
}

func (t *sandboxStore) Get(ctx context.Context, id string) (*domain.Sandbox, error) {
	if cached, ok := t.getCached(ctx, id); ok {
		return cached, nil
	}
	m := &SandboxModel{ID: id}
	err := t.s.conn(ctx).Model(m).Context(ctx).WherePK().Select()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil, apperr.NotFound("sandbox not found")
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	sb := sandboxToDomain(m)
	t.setCached(ctx, sb)
	return sb, nil
}

func (t *sandboxStore) GetAny(ctx context.Context, id, owner string) (*domain.Sandbox, error) {
	m := &SandboxModel{}
	err := t.s.conn(ctx).Model(m).Context(ctx).Where("id = ?", id).Where("owner = ?", owner).Select()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil, apperr.NotFound("sandbox not found")
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return sandboxToDomain(m), nil
}

// SelectForUpdate locks the row with Postgres's FOR UPDATE; see Rollback's
// doc comment for why this isn't chained off a Store-held transaction.
func (t *sandboxStore) SelectForUpdate(ctx context.Context, id string) (*domain.Sandbox, error) {
	m := &SandboxModel{ID: id}
	err := t.s.conn(ctx).Model(m).Context(ctx).WherePK().For("UPDATE").Select()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil, apperr.NotFound("sandbox not found")
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return sandboxToDomain(m), nil
}

func (t *sandboxStore) Update(ctx context.Context, sb *domain.Sandbox) error {
	_, err := t.s.conn(ctx).Model(sandboxFromDomain(sb)).Context(ctx).WherePK().Update()
	if err != nil {
		return wrapErr(err)
	}
	t.invalidate(ctx, sb.ID)
	return nil
}

func (t *sandboxStore) List(ctx context.Context, f store.SandboxListFilter) ([]*domain.Sandbox, error) {
	var rows []*SandboxModel
	q := t.s.conn(ctx).Model(&rows).Context(ctx).
		Where("owner = ?", f.Owner).
		Where("deleted_at IS NULL").
		Where("is_warm_pool = false").
		Order("id ASC").
		Limit(f.Limit)
	if f.Cursor != "" {
		q = q.Where("id > ?", f.Cursor)
	}
	if err := q.Select(); err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Sandbox, len(rows))
	for i, m := range rows {
		out[i] = sandboxToDomain(m)
	}
	return out, nil
}

func (t *sandboxStore) HasMore(ctx context.Context, owner, afterID string) (bool, error) {
	count, err := t.s.conn(ctx).Model((*SandboxModel)(nil)).Context(ctx).
		Where("owner = ?", owner).
		Where("deleted_at IS NULL").
		Where("is_warm_pool = false").
		Where("id > ?", afterID).
		Count()
	if err != nil {
		return false, wrapErr(err)
	}
	return count > 0, nil
}

func (t *sandboxStore) CountWarmAvailable(ctx context.Context, profileID string) (int, error) {
	count, err := t.s.conn(ctx).Model((*SandboxModel)(nil)).Context(ctx).
		Where("profile_id = ?", profileID).
		Where("is_warm_pool = true").
		Where("warm_state = ?", domain.WarmStateAvailable).
		Where("deleted_at IS NULL").
		Count()
	return count, wrapErr(err)
}

func (t *sandboxStore) CountWarmPending(ctx context.Context, profileID string) (int, error) {
	count, err := t.s.conn(ctx).Model((*SandboxModel)(nil)).Context(ctx).
		Where("profile_id = ?", profileID).
		Where("is_warm_pool = true").
		Where("warm_state IS NULL").
		Where("deleted_at IS NULL").
		Count()
	return count, wrapErr(err)
}

// ClaimOneWarm re-asserts every precondition in the WHERE clause, the
// go-pg equivalent of original_source's claim_warm_sandbox SQLAlchemy
// update(...).where(...) (spec §4.5).
func (t *sandboxStore) ClaimOneWarm(ctx context.Context, candidateID, profileID, owner string, now time.Time, expiresAt *time.Time) (bool, error) {
	res, err := t.s.conn(ctx).Model((*SandboxModel)(nil)).Context(ctx).
		Where("id = ?", candidateID).
		Where("profile_id = ?", profileID).
		Where("is_warm_pool = true").
		Where("warm_state = ?", domain.WarmStateAvailable).
		Where("deleted_at IS NULL").
		Set("warm_state = ?", domain.WarmStateClaimed).
		Set("is_warm_pool = false").
		Set("owner = ?", owner).
		Set("warm_claimed_at = ?", now).
		Set("last_active_at = ?", now).
		Set("expires_at = ?", expiresAt).
		Update()
	if err != nil {
		return false, wrapErr(err)
	}
	claimed := res.RowsAffected() == 1
	if claimed {
		t.invalidate(ctx, candidateID)
	}
	return claimed, nil
}

func (t *sandboxStore) ListWarmCandidates(ctx context.Context, profileID string) ([]*domain.Sandbox, error) {
	var rows []*SandboxModel
	err := t.s.conn(ctx).Model(&rows).Context(ctx).
		Where("profile_id = ?", profileID).
		Where("is_warm_pool = true").
		Where("warm_state = ?", domain.WarmStateAvailable).
		Where("deleted_at IS NULL").
		Order("warm_ready_at ASC").
		Limit(1).
		Select()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Sandbox, len(rows))
	for i, m := range rows {
		out[i] = sandboxToDomain(m)
	}
	return out, nil
}

func (t *sandboxStore) ListExpiredWarmRotations(ctx context.Context, profileID string, now time.Time) ([]*domain.Sandbox, error) {
	var rows []*SandboxModel
	err := t.s.conn(ctx).Model(&rows).Context(ctx).
		Where("profile_id = ?", profileID).
		Where("is_warm_pool = true").
		Where("warm_state = ?", domain.WarmStateAvailable).
		Where("warm_rotate_at <= ?", now).
		Where("deleted_at IS NULL").
		Select()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Sandbox, len(rows))
	for i, m := range rows {
		out[i] = sandboxToDomain(m)
	}
	return out, nil
}

func (t *sandboxStore) ListExpired(ctx context.Context, now time.Time) ([]*domain.Sandbox, error) {
	var rows []*SandboxModel
	err := t.s.conn(ctx).Model(&rows).Context(ctx).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Where("deleted_at IS NULL").
		Select()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Sandbox, len(rows))
	for i, m := range rows {
		out[i] = sandboxToDomain(m)
	}
	return out, nil
}

func (t *sandboxStore) ListAllWarmPool(ctx context.Context) ([]*domain.Sandbox, error) {
	var rows []*SandboxModel
	err := t.s.conn(ctx).Model(&rows).Context(ctx).
		Where("is_warm_pool = true").
		Where("deleted_at IS NULL").
		Select()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Sandbox, len(rows))
	for i, m := range rows {
		out[i] = sandboxToDomain(m)
	}
	return out, nil
}

func (t *sandboxStore) getCached(ctx context.Context, id string) (*domain.Sandbox, bool) {
	if t.s.redis == nil {
		return nil, false
	}
	raw, err := t.s.redis.Get(ctx, t.sandboxCacheKey(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var sb domain.Sandbox
	if err := json.Unmarshal(raw, &sb); err != nil {
		return nil, false
	}
	return &sb, true
}

func (t *sandboxStore) setCached(ctx context.Context, sb *domain.Sandbox) {
	if t.s.redis == nil {
		return
	}
	data, err := json.Marshal(sb)
	if err != nil {
		return
	}
	t.s.redis.Set(ctx, t.sandboxCacheKey(sb.ID), data, t.s.ttl)
}

func (t *sandboxStore) invalidate(ctx context.Context, id string) {
	if t.s.redis == nil {
		return
	}
	t.s.redis.Del(ctx, t.sandboxCacheKey(id))
}

// --- sessions ---

type sessionStore struct{ s *Store }

func (t *sessionStore) Insert(ctx context.Context, sess *domain.Session) error {
	_, err := t.s.conn(ctx).Model(sessionFromDomain(sess)).Context(ctx).Insert()
	return wrapErr(err)
}

func (t *sessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	m := &SessionModel{ID: id}
	err := t.s.conn(ctx).Model(m).Context(ctx).WherePK().Select()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil, apperr.NotFound("session not found")
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return sessionToDomain(m), nil
}

func (t *sessionStore) Update(ctx context.Context, sess *domain.Session) error {
	_, err := t.s.conn(ctx).Model(sessionFromDomain(sess)).Context(ctx).WherePK().Update()
	return wrapErr(err)
}

func (t *sessionStore) Delete(ctx context.Context, id string) error {
	_, err := t.s.conn(ctx).Model(&SessionModel{ID: id}).Context(ctx).WherePK().Delete()
	return wrapErr(err)
}

func (t *sessionStore) ListBySandbox(ctx context.Context, sandboxID string) ([]*domain.Session, error) {
	var rows []*SessionModel
	err := t.s.conn(ctx).Model(&rows).Context(ctx).Where("sandbox_id = ?", sandboxID).Select()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Session, len(rows))
	for i, m := range rows {
		out[i] = sessionToDomain(m)
	}
	return out, nil
}

func (t *sessionStore) ListIdleBefore(ctx context.Context, cutoff time.Time) ([]*domain.Session, error) {
	var rows []*SessionModel
	err := t.s.conn(ctx).Model(&rows).Context(ctx).
		Where("last_active_at <= ?", cutoff).
		Where("observed_state != ?", string(domain.SessionStopped)).
		Select()
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*domain.Session, len(rows))
	for i, m := range rows {
		out[i] = sessionToDomain(m)
	}
	return out, nil
}

// --- workspaces ---

type workspaceStore struct{ s *Store }

func (t *workspaceStore) Insert(ctx context.Context, w *domain.Workspace) error {
	_, err := t.s.conn(ctx).Model(workspaceFromDomain(w)).Context(ctx).Insert()
	return wrapErr(err)
}

func (t *workspaceStore) Get(ctx context.Context, id string) (*domain.Workspace, error) {
	m := &WorkspaceModel{ID: id}
	err := t.s.conn(ctx).Model(m).Context(ctx).WherePK().Select()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil, apperr.NotFound("workspace not found")
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return workspaceToDomain(m), nil
}

func (t *workspaceStore) Delete(ctx context.Context, id string) error {
	_, err := t.s.conn(ctx).Model(&WorkspaceModel{ID: id}).Context(ctx).WherePK().Delete()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil
	}
	return wrapErr(err)
}

// --- idempotency (Postgres-backed audit trail; the live path is
// internal/idempotency's Redis store, see §4.9) ---

type idempotencyStore struct{ s *Store }

func (t *idempotencyStore) Get(ctx context.Context, owner, key string) (*domain.IdempotencyRecord, error) {
	m := &IdempotencyModel{Owner: owner, Key: key}
	err := t.s.conn(ctx).Model(m).Context(ctx).WherePK().Select()
	if errors.Is(err, pglib.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return idempotencyToDomain(m), nil
}

func (t *idempotencyStore) Save(ctx context.Context, rec *domain.IdempotencyRecord, ttlSeconds int) error {
	m := idempotencyFromDomain(rec)
	_, err := t.s.conn(ctx).Model(m).Context(ctx).
		OnConflict("(owner, key) DO UPDATE").
		Set("body_hash = EXCLUDED.body_hash").
		Set("response_body = EXCLUDED.response_body").
		Set("response_status = EXCLUDED.response_status").
		Set("created_at = EXCLUDED.created_at").
		Insert()
	return wrapErr(err)
}
