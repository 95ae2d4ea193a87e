// Package status answers operational queries about deployments: recent
// ledger rows and runner job logs.
package status

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
)

// ErrNoJobLogs means no ledger row carries a usable job reference.
var ErrNoJobLogs = errors.New("status: no logs found for deployment")

// LogFetcher retrieves the log output of an external runner job.
type LogFetcher interface {
	FetchLogs(ctx context.Context, jobID string) (string, error)
}

// Service serves status and log queries.
type Service struct {
	events store.EventStore
	logs   LogFetcher
	logger *slog.Logger
}

// New returns a status service. logs may be nil when no log backend is
// configured; Logs then always fails.
func New(events store.EventStore, logs LogFetcher, logger *slog.Logger) Service {
	return Service{events: events, logs: logs, logger: logger}
}

// Latest returns the n most-recent ledger rows for a deployment.
func (s Service) Latest(ctx context.Context, deploymentID string, n int) ([]domain.DeploymentEvent, error) {
	if n <= 0 {
		n = 1
	}
	return s.events.LatestEvents(ctx, deploymentID, n)
}

// Logs resolves the most recent row with a real job reference and
// fetches that job's output.
func (s Service) Logs(ctx context.Context, deploymentID string) (string, error) {
	if s.logs == nil {
		return "", fmt.Errorf("%w: no log backend configured", ErrNoJobLogs)
	}
	rows, err := s.events.LatestEvents(ctx, deploymentID, 10)
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if row.JobID == "" || row.JobID == domain.NoJobID {
			continue
		}
		output, err := s.logs.FetchLogs(ctx, row.JobID)
		if err != nil {
			s.logger.Warn("log fetch failed", "deployment_id", deploymentID, "job_id", row.JobID, "error", err)
			return "", err
		}
		return output, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoJobLogs, deploymentID)
}
