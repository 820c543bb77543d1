// Package domain holds the plain entity model shared by the Store, Sandbox
// Manager, Session Manager and Capability Router. Nothing in this package
// knows about persistence, HTTP, or the container runtime.
package domain

import "time"

// WarmState is the warm-pool participation state of a Sandbox. A nil
// Sandbox.WarmState means "not yet warmed" for a warm-pool sandbox still
// awaiting its first EnsureRunning, and is meaningless for a non-warm-pool
// sandbox.
type WarmState string

const (
	WarmStateAvailable WarmState = "AVAILABLE"
	WarmStateClaimed   WarmState = "CLAIMED"
	WarmStateRetiring  WarmState = "RETIRING"
)

// SandboxStatus is the computed (never persisted) external status of a
// Sandbox; see ComputeSandboxStatus.
type SandboxStatus string

const (
	SandboxIdle     SandboxStatus = "idle"
	SandboxStarting SandboxStatus = "starting"
	SandboxReady    SandboxStatus = "ready"
	SandboxStopping SandboxStatus = "stopping"
	SandboxStopped  SandboxStatus = "stopped"
	SandboxExpired  SandboxStatus = "expired"
	SandboxFailed   SandboxStatus = "failed"
	SandboxDeleted  SandboxStatus = "deleted"
)

// Sandbox is the user-visible handle to an isolated environment.
type Sandbox struct {
	ID                string
	Owner             string
	ProfileID         string
	WorkspaceID       string
	CurrentSessionID  *string
	CreatedAt         time.Time
	LastActiveAt      time.Time
	ExpiresAt         *time.Time
	IdleExpiresAt     *time.Time
	DeletedAt         *time.Time

	IsWarmPool          bool
	WarmState           *WarmState
	WarmReadyAt         *time.Time
	WarmRotateAt        *time.Time
	WarmClaimedAt       *time.Time
	WarmSourceProfileID string
}

// ComputeSandboxStatus derives the external status of a sandbox from its own
// fields, its current session (if any), and the current time. Status is a
// pure function of this triple — it must never be persisted (spec §9).
func ComputeSandboxStatus(s *Sandbox, session *Session, now time.Time) SandboxStatus {
	if s.DeletedAt != nil {
		return SandboxDeleted
	}
	if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
		return SandboxExpired
	}

	if session == nil {
		return SandboxIdle
	}

	switch session.ObservedState {
	case SessionFailed:
		return SandboxFailed
	case SessionStarting, SessionPending:
		return SandboxStarting
	case SessionRunning:
		if session.Endpoint != nil {
			return SandboxReady
		}
		return SandboxStarting
	case SessionStopping:
		return SandboxStopping
	case SessionStopped:
		return SandboxStopped
	default:
		return SandboxIdle
	}
}
