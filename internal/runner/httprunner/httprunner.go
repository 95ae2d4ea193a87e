// Package httprunner launches jobs on a remote runner service over
// HTTP. The launch call is a single bounded request; the runner reports
// progress later by appending to the ledger itself.
package httprunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/outpostd/outpost/internal/runner"
)

// Runner posts launch requests to a runner service.
type Runner struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ runner.Runner = (*Runner)(nil)

// New returns an HTTP runner client.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Launch submits the job and returns the runner's job reference.
func (r *Runner) Launch(ctx context.Context, job runner.Job) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"deployment_id": job.DeploymentID,
		"event":         job.Event,
		"module":        job.Module,
		"environment":   job.Env,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("runner request failed", "deployment_id", job.DeploymentID, "error", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("runner rejected launch: %s", resp.Status)
	}

	var body struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode runner response: %w", err)
	}
	if body.JobID == "" {
		return "", fmt.Errorf("runner returned empty job id")
	}
	return body.JobID, nil
}
