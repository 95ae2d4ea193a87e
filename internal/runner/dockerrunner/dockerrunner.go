// Package dockerrunner launches runner jobs as local Docker containers.
// One container per job; the container id doubles as the job reference,
// which also keys log retrieval.
package dockerrunner

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"

	"github.com/outpostd/outpost/internal/runner"
)

// Runner runs jobs on a Docker daemon.
type Runner struct {
	docker     *client.Client
	image      string
	namePrefix string
	logger     *slog.Logger
}

var _ runner.Runner = (*Runner)(nil)

// New connects to the Docker daemon and validates connectivity.
func New(ctx context.Context, host, image, namePrefix string, logger *slog.Logger) (*Runner, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	docker, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := docker.Ping(ctx); err != nil {
		docker.Close()
		return nil, fmt.Errorf("docker ping: %w", err)
	}
	return &Runner{docker: docker, image: image, namePrefix: namePrefix, logger: logger}, nil
}

// Launch creates and starts one job container.
func (r *Runner) Launch(ctx context.Context, job runner.Job) (string, error) {
	env := make([]string, 0, len(job.Env))
	for key, value := range job.Env {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	name := fmt.Sprintf("%s-%s-%s", r.namePrefix, strings.ToLower(job.Event), uuid.NewString()[:8])
	created, err := r.docker.ContainerCreate(ctx, &container.Config{
		Image: r.image,
		Env:   env,
	}, &container.HostConfig{
		AutoRemove: false,
	}, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := r.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	r.logger.Info("runner container started", "deployment_id", job.DeploymentID, "container_id", created.ID, "name", name)
	return created.ID, nil
}

// FetchLogs returns the combined output of a job container.
func (r *Runner) FetchLogs(ctx context.Context, jobID string) (string, error) {
	reader, err := r.docker.ContainerLogs(ctx, jobID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	if stderr.Len() > 0 {
		return stdout.String() + stderr.String(), nil
	}
	return stdout.String(), nil
}

// Close releases the Docker client.
func (r *Runner) Close() error {
	if r.docker == nil {
		return nil
	}
	return r.docker.Close()
}
