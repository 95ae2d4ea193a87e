// Package stats derives timing statistics from ledger histories.
package stats

import (
	"context"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
)

// Durations is the timing projection for one deployment. Fields stay
// nil when the corresponding lifecycle stages are missing; incomplete
// histories degrade to a partial result, never an error.
type Durations struct {
	DeploymentID       string   `json:"deployment_id"`
	InitiationDuration *float64 `json:"initiation_duration,omitempty"`
	ExecutionDuration  *float64 `json:"execution_duration,omitempty"`
}

// Service computes deployment timing statistics.
type Service struct {
	events store.EventStore
}

// New returns a statistics service.
func New(events store.EventStore) Service {
	return Service{events: events}
}

// Durations loads the full ledger history and computes
// initiation_duration (started - initiated) and execution_duration
// (finished - started) in seconds, using the earliest occurrence of
// each named status.
func (s Service) Durations(ctx context.Context, deploymentID string) (Durations, error) {
	history, err := s.events.AllEvents(ctx, deploymentID)
	if err != nil {
		return Durations{}, err
	}

	var initiated, started, finished *int64
	for _, row := range history {
		switch row.Status {
		case domain.StatusInitiated:
			keepEarliest(&initiated, row.Epoch)
		case domain.StatusStarted, domain.StatusRunning:
			keepEarliest(&started, row.Epoch)
		case domain.StatusFinished:
			keepEarliest(&finished, row.Epoch)
		}
	}

	out := Durations{DeploymentID: deploymentID}
	if initiated != nil && started != nil {
		out.InitiationDuration = seconds(*started - *initiated)
	}
	if started != nil && finished != nil {
		out.ExecutionDuration = seconds(*finished - *started)
	}
	return out, nil
}

func keepEarliest(slot **int64, epoch int64) {
	if *slot == nil || epoch < **slot {
		value := epoch
		*slot = &value
	}
}

func seconds(millis int64) *float64 {
	value := float64(millis) / 1000
	return &value
}
