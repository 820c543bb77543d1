package domain

// Workspace is a persistent data volume attached to a Sandbox.
type Workspace struct {
	ID       string
	Owner    string
	// DriverRef is the Driver-level volume name backing this workspace.
	DriverRef string
	// Managed workspaces are created by and cascade-deleted with their
	// sandbox. External workspaces are caller-supplied and never
	// cascade-deleted.
	Managed bool
}
