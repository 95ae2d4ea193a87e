// Package notify republishes ledger inserts as compact change
// notifications. Delivery inherits the feed's at-least-once guarantee;
// publish failures are logged, not retried, because the upstream feed
// redelivers. Subscribers must deduplicate on the row id.
package notify

import (
	"context"

	"log/slog"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
)

// Publisher delivers a change notification to one sink.
type Publisher interface {
	Publish(ctx context.Context, notification domain.ChangeNotification) error
}

// Service pumps the change feed into its publishers.
type Service struct {
	feed       store.ChangeFeed
	publishers []Publisher
	logger     *slog.Logger
}

// New returns a change notifier.
func New(feed store.ChangeFeed, logger *slog.Logger, publishers ...Publisher) Service {
	return Service{feed: feed, publishers: publishers, logger: logger}
}

// Run consumes the feed until ctx is cancelled. Every insert is
// projected and handed to each publisher; the ledger never updates or
// deletes, so there is nothing to filter.
func (s Service) Run(ctx context.Context) error {
	events, err := s.feed.Subscribe(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("change notifier started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				s.logger.Info("change feed closed")
				return nil
			}
			notification := event.Notification()
			for _, publisher := range s.publishers {
				if err := publisher.Publish(ctx, notification); err != nil {
					s.logger.Warn("publish failed, relying on feed redelivery",
						"deployment_id", notification.DeploymentID, "status", notification.Status, "error", err)
				}
			}
		}
	}
}
