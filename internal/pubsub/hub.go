package pubsub

import (
	"context"
	"encoding/json"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/ws"
)

// HubPublisher fans change notifications out to websocket subscribers
// watching the deployment.
type HubPublisher struct {
	hub *ws.Hub
}

// NewHubPublisher returns a publisher over the given hub.
func NewHubPublisher(hub *ws.Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

// Publish broadcasts one notification to the deployment's stream.
func (p *HubPublisher) Publish(ctx context.Context, notification domain.ChangeNotification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	p.hub.Broadcast(notification.DeploymentID, payload)
	return nil
}
