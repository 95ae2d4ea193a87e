package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
)

// Feed tails the ledger mirror stream with blocking XREAD. Stream
// entries survive until trimmed, so a restarted consumer re-reads from
// its cursor and delivery is at least once.
type Feed struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

var _ store.ChangeFeed = (*Feed)(nil)

// NewFeed constructs a Feed over the named stream.
func NewFeed(client *redis.Client, stream string, logger *slog.Logger) *Feed {
	return &Feed{client: client, stream: stream, logger: logger}
}

// Subscribe streams ledger inserts appended after the call.
func (f *Feed) Subscribe(ctx context.Context) (<-chan domain.DeploymentEvent, error) {
	// Resolve a concrete cursor first; re-passing "$" on every XRead
	// would drop entries appended between blocking calls.
	cursor := "0"
	if info, err := f.client.XInfoStream(ctx, f.stream).Result(); err == nil {
		cursor = info.LastGeneratedID
	}

	ch := make(chan domain.DeploymentEvent, 64)
	go func() {
		defer close(ch)
		for {
			streams, err := f.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{f.stream, cursor},
				Block:   5 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				if err == redis.Nil {
					continue
				}
				f.logger.Error("change feed read failed", "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, stream := range streams {
				for _, message := range stream.Messages {
					cursor = message.ID
					raw, ok := message.Values["payload"].(string)
					if !ok {
						f.logger.Warn("skipping stream entry without payload", "id", message.ID)
						continue
					}
					var event domain.DeploymentEvent
					if err := json.Unmarshal([]byte(raw), &event); err != nil {
						f.logger.Warn("skipping malformed feed payload", "id", message.ID, "error", err)
						continue
					}
					select {
					case ch <- event:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}
