package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
)

// Feed exposes ledger inserts through LISTEN/NOTIFY. A trigger on
// deployment_events publishes each inserted row as JSON on the channel,
// giving at-least-once delivery in insertion order for the lifetime of
// the listening connection.
type Feed struct {
	pool    *pgxpool.Pool
	channel string
	logger  *slog.Logger
}

var _ store.ChangeFeed = (*Feed)(nil)

// NewFeed constructs a Feed listening on the given notification channel.
func NewFeed(pool *pgxpool.Pool, channel string, logger *slog.Logger) *Feed {
	return &Feed{pool: pool, channel: channel, logger: logger}
}

// Subscribe acquires a dedicated connection and streams inserted rows
// until ctx is cancelled.
func (f *Feed) Subscribe(ctx context.Context) (<-chan domain.DeploymentEvent, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgxIdentifier(f.channel)); err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan domain.DeploymentEvent, 64)
	go func() {
		defer close(ch)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					f.logger.Error("change feed interrupted", "error", err)
				}
				return
			}
			var event domain.DeploymentEvent
			if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
				f.logger.Warn("skipping malformed feed payload", "error", err)
				continue
			}
			select {
			case ch <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// pgxIdentifier quotes a channel name for LISTEN.
func pgxIdentifier(name string) string {
	return `"` + name + `"`
}
