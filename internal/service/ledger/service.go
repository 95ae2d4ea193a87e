// Package ledger records the append-only lifecycle log of every
// deployment. The ledger is open to external appenders: the runner
// writes its own rows through the same store, so this service never
// assumes it owns a deployment's full history.
package ledger

import (
	"context"
	"time"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
)

// Service appends and reads deployment lifecycle rows.
type Service struct {
	events store.EventStore
	logger *slog.Logger
	now    func() time.Time
}

// New returns a ledger service.
func New(events store.EventStore, logger *slog.Logger) Service {
	return Service{events: events, logger: logger, now: time.Now}
}

// NewEvent stamps a ledger row with the current epoch (milliseconds),
// a second-precision UTC timestamp, and the derived row id.
func (s Service) NewEvent(deploymentID string, event domain.Event, status, module, name string) domain.DeploymentEvent {
	now := s.now().UTC()
	epoch := now.UnixMilli()
	return domain.DeploymentEvent{
		DeploymentID: deploymentID,
		Event:        event,
		Status:       status,
		Epoch:        epoch,
		Timestamp:    now.Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
		ID:           domain.EventID(deploymentID, event, epoch, status),
		Module:       module,
		Name:         name,
	}
}

// Record appends one row. Rows are never overwritten.
func (s Service) Record(ctx context.Context, event domain.DeploymentEvent) error {
	if err := s.events.AppendEvent(ctx, event); err != nil {
		s.logger.Error("ledger append failed", "deployment_id", event.DeploymentID, "status", event.Status, "error", err)
		return err
	}
	s.logger.Info("ledger row recorded", "deployment_id", event.DeploymentID, "event", event.Event, "status", event.Status)
	return nil
}

// Latest returns the n most-recent rows, epoch descending.
func (s Service) Latest(ctx context.Context, deploymentID string, n int) ([]domain.DeploymentEvent, error) {
	return s.events.LatestEvents(ctx, deploymentID, n)
}

// All returns the full ordered history for a deployment.
func (s Service) All(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	return s.events.AllEvents(ctx, deploymentID)
}

// ByStatus looks up every row currently in a status.
func (s Service) ByStatus(ctx context.Context, status string) ([]domain.DeploymentEvent, error) {
	return s.events.EventsByStatus(ctx, status)
}
