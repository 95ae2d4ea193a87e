// Package pubsub provides the ChangeNotifier's publish sinks.
package pubsub

import (
	"context"
	"encoding/json"

	redis "github.com/redis/go-redis/v9"

	"github.com/outpostd/outpost/internal/domain"
)

// RedisPublisher publishes change notifications on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher for the given channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends one notification. Duplicates are expected downstream;
// subscribers deduplicate on the ledger row id.
func (p *RedisPublisher) Publish(ctx context.Context, notification domain.ChangeNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
