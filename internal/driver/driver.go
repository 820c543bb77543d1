// Package driver defines the container-runtime abstraction (spec §4.2).
// Implementations live in subpackages (internal/driver/docker).
package driver

import (
	"context"
	"time"

	"github.com/shipyard/sandboxd/internal/domain"
)

// ContainerStatus mirrors the Driver's view of a container's lifecycle
// state (spec §4.2) — distinct from domain.SessionState, which is the
// Session Manager's higher-level view.
type ContainerStatus string

const (
	StatusCreated  ContainerStatus = "CREATED"
	StatusRunning  ContainerStatus = "RUNNING"
	StatusExited   ContainerStatus = "EXITED"
	StatusRemoving ContainerStatus = "REMOVING"
	StatusNotFound ContainerStatus = "NOT_FOUND"
)

// ContainerInfo is the result of a Status probe.
type ContainerInfo struct {
	ContainerID string
	Status      ContainerStatus
	Endpoint    string
	ExitCode    *int
}

// Labels are attached to every container and volume a Driver creates
// (spec §6 "Labels"); they are the reconciler's ground truth for orphan
// detection.
type Labels struct {
	Owner       string
	SandboxID   string
	SessionID   string
	WorkspaceID string
	ProfileID   string
}

func (l Labels) Map() map[string]string {
	return map[string]string{
		"owner":        l.Owner,
		"sandbox_id":   l.SandboxID,
		"session_id":   l.SessionID,
		"workspace_id": l.WorkspaceID,
		"profile_id":   l.ProfileID,
		"managed":      "true",
	}
}

// CreateSpec carries everything Create needs to stand up a container
// without starting it.
type CreateSpec struct {
	Session     *domain.Session
	Profile     *domain.Profile
	Workspace   *domain.Workspace
	Labels      Labels
	PIDsLimit   int64
	MountPath   string
}

// Driver is the container-runtime abstraction the core consumes. All
// operations must be safe to call concurrently on distinct IDs. NOT_FOUND
// is never an error on Stop/Destroy/DeleteVolume.
type Driver interface {
	// Create creates but does not start a container; attaches the
	// workspace volume at a fixed mount path; applies PID/cpu/memory caps;
	// labels the container per spec.
	Create(ctx context.Context, spec CreateSpec) (containerID string, err error)
	// Start starts the container, discovers its reachable address, and
	// returns an http URL.
	Start(ctx context.Context, containerID string, runtimePort int) (endpoint string, err error)
	// Stop stops with a bounded grace period; no-op on NOT_FOUND.
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	// Destroy forcibly removes the container; no-op on NOT_FOUND.
	Destroy(ctx context.Context, containerID string) error
	Status(ctx context.Context, containerID string) (ContainerInfo, error)
	Logs(ctx context.Context, containerID string, tail int) (string, error)

	CreateVolume(ctx context.Context, name string, labels Labels) (string, error)
	DeleteVolume(ctx context.Context, name string) error
	VolumeExists(ctx context.Context, name string) (bool, error)

	// ListManagedContainers returns container IDs (and their session_id and
	// sandbox_id labels, if present) carrying the orchestrator's managed label — used by the
	// Reconciler's orphaned_container sweep (§4.10).
	ListManagedContainers(ctx context.Context) ([]ManagedContainer, error)
}

// ManagedContainer is one row of ListManagedContainers's result.
type ManagedContainer struct {
	ContainerID string
	SessionID   string
	SandboxID   string
}
