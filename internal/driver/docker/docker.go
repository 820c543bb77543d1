// Package docker implements internal/driver.Driver against the Docker
// Engine API, adapted from the teacher's internal/sandbox/container.go:
// image-pull-on-NotFound, label application, and resource limits carry
// over; volume-backed workspaces (spec §4.2) replace the teacher's
// host-bind-mount scheme.
package docker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"io"
	"time"

	"bytes"

	"github.com/shipyard/sandboxd/internal/driver"
)

const labelManagedKey = "managed"
const labelManagedVal = "true"

// Driver implements driver.Driver against a single Docker daemon.
type Driver struct {
	cli         *dockerclient.Client
	networkName string
	logger      *slog.Logger
}

func New(cli *dockerclient.Client, networkName string, logger *slog.Logger) *Driver {
	return &Driver{cli: cli, networkName: networkName, logger: logger}
}

func containerName(sandboxID string) string {
	return fmt.Sprintf("sandbox-%s", sandboxID)
}

func volumeName(workspaceID string) string {
	return fmt.Sprintf("sandbox-ws-%s", workspaceID)
}

func (d *Driver) Create(ctx context.Context, spec driver.CreateSpec) (string, error) {
	image_ := spec.Profile.Image
	if err := d.ensureImage(ctx, image_); err != nil {
		return "", err
	}

	mountPath := spec.MountPath
	if mountPath == "" {
		mountPath = "/workspace"
	}

	cfg := &container.Config{
		Image:      image_,
		Cmd:        []string{"tail", "-f", "/dev/null"},
		WorkingDir: mountPath,
		Labels:     spec.Labels.Map(),
	}

	var pidsLimit *int64
	if spec.PIDsLimit > 0 {
		pidsLimit = &spec.PIDsLimit
	}

	volRef := spec.Workspace.DriverRef
	if volRef == "" {
		volRef = volumeName(spec.Workspace.ID)
	}

	hostCfg := &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s:rw", volRef, mountPath)},
		Resources: container.Resources{
			Memory:    spec.Profile.MemoryBytes,
			NanoCPUs:  int64(spec.Profile.CPUs * 1e9),
			PidsLimit: pidsLimit,
		},
		AutoRemove: false,
	}

	var netCfg *network.NetworkingConfig
	if d.networkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				d.networkName: {},
			},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, containerName(spec.Labels.SandboxID))
	if err != nil {
		return "", fmt.Errorf("docker: create container: %w", err)
	}
	return resp.ID, nil
}

func (d *Driver) ensureImage(ctx context.Context, ref string) error {
	_, err := d.cli.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker: inspect image: %w", err)
	}

	d.logger.Info("pulling image", slog.String("image", ref))
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker: pull image: %w", err)
	}
	defer reader.Close()

	done := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(io.Discard, reader)
		done <- copyErr
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("docker: read pull stream: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) Start(ctx context.Context, containerID string, runtimePort int) (string, error) {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("docker: start container: %w", err)
	}

	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("docker: inspect after start: %w", err)
	}

	var ip string
	if d.networkName != "" {
		if net, ok := inspect.NetworkSettings.Networks[d.networkName]; ok {
			ip = net.IPAddress
		}
	}
	if ip == "" {
		for _, net := range inspect.NetworkSettings.Networks {
			ip = net.IPAddress
			break
		}
	}
	if ip == "" {
		return "", fmt.Errorf("docker: container %s has no reachable address", containerID)
	}

	return fmt.Sprintf("http://%s:%d", ip, runtimePort), nil
}

func (d *Driver) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("docker: stop container: %w", err)
	}
	return nil
}

func (d *Driver) Destroy(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("docker: remove container: %w", err)
	}
	return nil
}

func (d *Driver) Status(ctx context.Context, containerID string) (driver.ContainerInfo, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return driver.ContainerInfo{ContainerID: containerID, Status: driver.StatusNotFound}, nil
		}
		return driver.ContainerInfo{}, fmt.Errorf("docker: inspect container: %w", err)
	}

	info := driver.ContainerInfo{ContainerID: containerID}
	switch inspect.State.Status {
	case "running":
		info.Status = driver.StatusRunning
	case "created":
		info.Status = driver.StatusCreated
	case "removing":
		info.Status = driver.StatusRemoving
	default:
		info.Status = driver.StatusExited
		code := inspect.State.ExitCode
		info.ExitCode = &code
	}
	return info, nil
}

func (d *Driver) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	tailStr := "all"
	if tail > 0 {
		tailStr = fmt.Sprintf("%d", tail)
	}
	r, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tailStr})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("docker: container logs: %w", err)
	}
	defer r.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return "", fmt.Errorf("docker: demux logs: %w", err)
	}
	return stdout.String() + stderr.String(), nil
}

func (d *Driver) CreateVolume(ctx context.Context, name string, labels driver.Labels) (string, error) {
	v, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{Name: name, Labels: labels.Map()})
	if err != nil {
		return "", fmt.Errorf("docker: create volume: %w", err)
	}
	return v.Name, nil
}

func (d *Driver) DeleteVolume(ctx context.Context, name string) error {
	if err := d.cli.VolumeRemove(ctx, name, true); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("docker: remove volume: %w", err)
	}
	return nil
}

func (d *Driver) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := d.cli.VolumeInspect(ctx, name)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("docker: inspect volume: %w", err)
}

func (d *Driver) ListManagedContainers(ctx context.Context) ([]driver.ManagedContainer, error) {
	filterArgs := filtersArgs()
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("docker: list containers: %w", err)
	}

	out := make([]driver.ManagedContainer, 0, len(containers))
	for _, c := range containers {
		out = append(out, driver.ManagedContainer{
			ContainerID: c.ID,
			SessionID:   c.Labels["session_id"],
			SandboxID:   c.Labels["sandbox_id"],
		})
	}
	return out, nil
}
