package domain

import "time"

// SessionState is both the desired and observed state of a Session.
type SessionState string

const (
	SessionPending  SessionState = "PENDING"
	SessionStarting SessionState = "STARTING"
	SessionRunning  SessionState = "RUNNING"
	SessionStopping SessionState = "STOPPING"
	SessionStopped  SessionState = "STOPPED"
	SessionFailed   SessionState = "FAILED"
)

// Session is one running container instance backing a Sandbox.
type Session struct {
	ID             string
	SandboxID      string
	RuntimeType    string
	ProfileID      string
	ContainerID    *string
	Endpoint       *string
	DesiredState   SessionState
	ObservedState  SessionState
	CreatedAt      time.Time
	LastActiveAt   time.Time
	LastObservedAt time.Time
}

// IsReady reports whether the session can serve capability calls right now.
// Invariant (spec §3): endpoint is set only while observed_state == RUNNING.
func (s *Session) IsReady() bool {
	return s.ObservedState == SessionRunning && s.Endpoint != nil
}
