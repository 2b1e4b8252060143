// Package launcher starts disposable build agent containers. Launches are
// fire-and-forget: the coordinator never polls the task, the agent reports
// through the bus and the record store.
package launcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// TaskSpec describes one agent launch.
type TaskSpec struct {
	Image    string
	Env      []string
	Network  string
	MemoryMB int
	CPUs     int
}

// Docker launches agent tasks on a Docker daemon.
type Docker struct {
	inner *client.Client
}

// New creates a launcher using the given daemon host, falling back to
// environment defaults when empty.
func New(host string) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (d *Docker) Ping(ctx context.Context) error {
	if d == nil || d.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := d.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Launch creates and starts one task container and returns its id. The
// container removes itself on exit; nobody waits for it.
func (d *Docker) Launch(ctx context.Context, spec TaskSpec) (string, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return "", fmt.Errorf("task image cannot be empty")
	}

	config := &container.Config{
		Image: spec.Image,
		Env:   spec.Env,
	}
	hostCfg := &container.HostConfig{
		AutoRemove: true,
		Resources: container.Resources{
			Memory:   int64(spec.MemoryMB) * 1024 * 1024,
			NanoCPUs: int64(spec.CPUs) * 1_000_000_000,
		},
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	created, err := d.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("task create: %w", err)
	}
	if err := d.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("task start: %w", err)
	}
	return created.ID, nil
}

// Close releases resources held by the Docker client.
func (d *Docker) Close() error {
	if d.inner == nil {
		return nil
	}
	return d.inner.Close()
}
