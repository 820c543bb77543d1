package pg

import (
	"time"

	"github.com/shipyard/sandboxd/internal/domain"
)

// SandboxModel is the go-pg row shape for domain.Sandbox, following the
// teacher's repo.SessionModel/session.Session split: the plain domain type
// stays persistence-agnostic, this type carries the pg tags and knows how
// to convert both ways.
type SandboxModel struct {
	tableName struct{} `pg:"sandboxes,alias:sandbox"`

	ID               string     `pg:"id,pk"`
	Owner            string     `pg:"owner,notnull"`
	ProfileID        string     `pg:"profile_id,notnull"`
	WorkspaceID      string     `pg:"workspace_id,notnull"`
	CurrentSessionID *string    `pg:"current_session_id"`
	CreatedAt        time.Time  `pg:"created_at,notnull"`
	LastActiveAt     time.Time  `pg:"last_active_at,notnull"`
	ExpiresAt        *time.Time `pg:"expires_at"`
	IdleExpiresAt    *time.Time `pg:"idle_expires_at"`
	DeletedAt        *time.Time `pg:"deleted_at"`

	IsWarmPool          bool             `pg:"is_warm_pool,notnull,use_zero"`
	WarmState           *domain.WarmState `pg:"warm_state"`
	WarmReadyAt         *time.Time       `pg:"warm_ready_at"`
	WarmRotateAt        *time.Time       `pg:"warm_rotate_at"`
	WarmClaimedAt       *time.Time       `pg:"warm_claimed_at"`
	WarmSourceProfileID string           `pg:"warm_source_profile_id"`
}

func sandboxToDomain(m *SandboxModel) *domain.Sandbox {
	return &domain.Sandbox{
		ID:                  m.ID,
		Owner:               m.Owner,
		ProfileID:           m.ProfileID,
		WorkspaceID:         m.WorkspaceID,
		CurrentSessionID:    m.CurrentSessionID,
		CreatedAt:           m.CreatedAt,
		LastActiveAt:        m.LastActiveAt,
		ExpiresAt:           m.ExpiresAt,
		IdleExpiresAt:       m.IdleExpiresAt,
		DeletedAt:           m.DeletedAt,
		IsWarmPool:          m.IsWarmPool,
		WarmState:           m.WarmState,
		WarmReadyAt:         m.WarmReadyAt,
		WarmRotateAt:        m.WarmRotateAt,
		WarmClaimedAt:       m.WarmClaimedAt,
		WarmSourceProfileID: m.WarmSourceProfileID,
	}
}

func sandboxFromDomain(s *domain.Sandbox) *SandboxModel {
	return &SandboxModel{
		ID:                  s.ID,
		Owner:               s.Owner,
		ProfileID:           s.ProfileID,
		WorkspaceID:         s.WorkspaceID,
		CurrentSessionID:    s.CurrentSessionID,
		CreatedAt:           s.CreatedAt,
		LastActiveAt:        s.LastActiveAt,
		ExpiresAt:           s.ExpiresAt,
		IdleExpiresAt:       s.IdleExpiresAt,
		DeletedAt:           s.DeletedAt,
		IsWarmPool:          s.IsWarmPool,
		WarmState:           s.WarmState,
		WarmReadyAt:         s.WarmReadyAt,
		WarmRotateAt:        s.WarmRotateAt,
		WarmClaimedAt:       s.WarmClaimedAt,
		WarmSourceProfileID: s.WarmSourceProfileID,
	}
}

// SessionModel is the go-pg row shape for domain.Session.
type SessionModel struct {
	tableName struct{} `pg:"sessions,alias:session"`

	ID             string    `pg:"id,pk"`
	SandboxID      string    `pg:"sandbox_id,notnull"`
	RuntimeType    string    `pg:"runtime_type,notnull"`
	ProfileID      string    `pg:"profile_id,notnull"`
	ContainerID    *string   `pg:"container_id"`
	Endpoint       *string   `pg:"endpoint"`
	DesiredState   string    `pg:"desired_state,notnull"`
	ObservedState  string    `pg:"observed_state,notnull"`
	CreatedAt      time.Time `pg:"created_at,notnull"`
	LastActiveAt   time.Time `pg:"last_active_at,notnull"`
	LastObservedAt time.Time `pg:"last_observed_at"`
}

func sessionToDomain(m *SessionModel) *domain.Session {
	return &domain.Session{
		ID:             m.ID,
		SandboxID:      m.SandboxID,
		RuntimeType:    m.RuntimeType,
		ProfileID:      m.ProfileID,
		ContainerID:    m.ContainerID,
		Endpoint:       m.Endpoint,
		DesiredState:   domain.SessionState(m.DesiredState),
		ObservedState:  domain.SessionState(m.ObservedState),
		CreatedAt:      m.CreatedAt,
		LastActiveAt:   m.LastActiveAt,
		LastObservedAt: m.LastObservedAt,
	}
}

func sessionFromDomain(s *domain.Session) *SessionModel {
	return &SessionModel{
		ID:             s.ID,
		SandboxID:      s.SandboxID,
		RuntimeType:    s.RuntimeType,
		ProfileID:      s.ProfileID,
		ContainerID:    s.ContainerID,
		Endpoint:       s.Endpoint,
		DesiredState:   string(s.DesiredState),
		ObservedState:  string(s.ObservedState),
		CreatedAt:      s.CreatedAt,
		LastActiveAt:   s.LastActiveAt,
		LastObservedAt: s.LastObservedAt,
	}
}

// WorkspaceModel is the go-pg row shape for domain.Workspace.
type WorkspaceModel struct {
	tableName struct{} `pg:"workspaces,alias:workspace"`

	ID        string `pg:"id,pk"`
	Owner     string `pg:"owner,notnull"`
	DriverRef string `pg:"driver_ref,notnull"`
	Managed   bool   `pg:"managed,notnull,use_zero"`
}

func workspaceToDomain(m *WorkspaceModel) *domain.Workspace {
	return &domain.Workspace{ID: m.ID, Owner: m.Owner, DriverRef: m.DriverRef, Managed: m.Managed}
}

func workspaceFromDomain(w *domain.Workspace) *WorkspaceModel {
	return &WorkspaceModel{ID: w.ID, Owner: w.Owner, DriverRef: w.DriverRef, Managed: w.Managed}
}

// IdempotencyModel is the go-pg row shape for domain.IdempotencyRecord. The
// hot path runs through internal/idempotency's Redis-backed store (spec
// §4.9); this table exists so Store satisfies the full persistence contract
// (§4.1) and so an operator can audit idempotency history outside Redis's
// TTL window if they choose to call it.
type IdempotencyModel struct {
	tableName struct{} `pg:"idempotency_keys,alias:idem"`

	Owner          string    `pg:"owner,pk"`
	Key            string    `pg:"key,pk"`
	BodyHash       string    `pg:"body_hash,notnull"`
	ResponseBody   []byte    `pg:"response_body"`
	ResponseStatus int       `pg:"response_status,notnull"`
	CreatedAt      time.Time `pg:"created_at,notnull"`
}

func idempotencyToDomain(m *IdempotencyModel) *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		Owner:          m.Owner,
		Key:            m.Key,
		BodyHash:       m.BodyHash,
		ResponseBody:   m.ResponseBody,
		ResponseStatus: m.ResponseStatus,
		CreatedAt:      m.CreatedAt,
	}
}

func idempotencyFromDomain(r *domain.IdempotencyRecord) *IdempotencyModel {
	return &IdempotencyModel{
		Owner:          r.Owner,
		Key:            r.Key,
		BodyHash:       r.BodyHash,
		ResponseBody:   r.ResponseBody,
		ResponseStatus: r.ResponseStatus,
		CreatedAt:      r.CreatedAt,
	}
}
