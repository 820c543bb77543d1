package docker_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"

	"github.com/shipyard/sandboxd/internal/domain"
	"github.com/shipyard/sandboxd/internal/driver"
	dockerdriver "github.com/shipyard/sandboxd/internal/driver/docker"
)

const testImage = "alpine:latest"

func newTestDriver(t *testing.T) (*dockerdriver.Driver, *client.Client) {
	t.Helper()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		t.Fatalf("failed to create docker client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		t.Skip("docker daemon not available, skipping integration test")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return dockerdriver.New(cli, "", logger), cli
}

func TestCreateStartStopDestroyLifecycle(t *testing.T) {
	d, cli := newTestDriver(t)
	ctx := context.Background()

	volName := "sandboxd-test-vol"
	_, err := d.CreateVolume(ctx, volName, driver.Labels{Owner: "test", SandboxID: "sb-1"})
	require.NoError(t, err)
	defer d.DeleteVolume(ctx, volName)

	profile := &domain.Profile{ID: "default", Image: testImage, CPUs: 0.5, MemoryBytes: 128 << 20}
	workspace := &domain.Workspace{ID: "ws-1", DriverRef: volName}

	containerID, err := d.Create(ctx, driver.CreateSpec{
		Profile:   profile,
		Workspace: workspace,
		Labels:    driver.Labels{Owner: "test", SandboxID: "sb-1", WorkspaceID: "ws-1"},
		MountPath: "/workspace",
	})
	require.NoError(t, err)
	defer cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})

	_, err = d.Start(ctx, containerID, 8080)
	require.NoError(t, err)

	info, err := d.Status(ctx, containerID)
	require.NoError(t, err)
	require.Equal(t, driver.StatusRunning, info.Status)

	require.NoError(t, d.Stop(ctx, containerID, 5*time.Second))
	require.NoError(t, d.Destroy(ctx, containerID))

	info, err = d.Status(ctx, containerID)
	require.NoError(t, err)
	require.Equal(t, driver.StatusNotFound, info.Status)
}

func TestDestroyIsIdempotentOnNotFound(t *testing.T) {
	d, _ := newTestDriver(t)
	require.NoError(t, d.Destroy(context.Background(), "does-not-exist"))
}

func TestVolumeExists(t *testing.T) {
	d, _ := newTestDriver(t)
	ctx := context.Background()

	ok, err := d.VolumeExists(ctx, "sandboxd-test-vol-missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = d.CreateVolume(ctx, "sandboxd-test-vol-exists", driver.Labels{Owner: "test"})
	require.NoError(t, err)
	defer d.DeleteVolume(ctx, "sandboxd-test-vol-exists")

	ok, err = d.VolumeExists(ctx, "sandboxd-test-vol-exists")
	require.NoError(t, err)
	require.True(t, ok)
}
