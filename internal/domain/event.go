package domain

import "fmt"

// Event is the closed set of lifecycle actions a caller may request
// against a deployment.
type Event string

const (
	EventApply   Event = "apply"
	EventDestroy Event = "destroy"
)

// Valid reports whether e is a supported event kind.
func (e Event) Valid() bool {
	switch e {
	case EventApply, EventDestroy:
		return true
	}
	return false
}

// Deployment lifecycle statuses. The first three are written by this
// service; the remainder are appended by the external runner through
// the same ledger interface.
const (
	StatusReceived         = "received"
	StatusInitiated        = "initiated"
	StatusInitiationFailed = "initiation_failed"
	StatusStarted          = "started"
	StatusRunning          = "running"
	StatusFinished         = "finished"
	StatusFailed           = "failed"
)

// NoJobID marks a ledger row whose dispatch attempt never produced a
// runner job reference.
const NoJobID = "NO_TASK_ARN"

// DeploymentEvent is one append-only ledger row. Rows are never mutated
// or deleted; a deployment's lifecycle is the ordered sequence of its
// rows by Epoch.
type DeploymentEvent struct {
	DeploymentID string         `json:"deployment_id"`
	Event        Event          `json:"event"`
	Status       string         `json:"status"`
	Epoch        int64          `json:"epoch"`
	Timestamp    string         `json:"timestamp"`
	ID           string         `json:"id"`
	JobID        string         `json:"job_id,omitempty"`
	Module       string         `json:"module"`
	Name         string         `json:"name"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EventID derives the uniqueness/sort key for a ledger row. Epoch is in
// milliseconds so rapid successive writes to the same deployment still
// produce distinct ids.
func EventID(deploymentID string, event Event, epoch int64, status string) string {
	return fmt.Sprintf("%s-%s-%d-%s", deploymentID, event, epoch, status)
}

// ChangeNotification is the compact projection of a DeploymentEvent
// emitted once per ledger insert. Consumers must tolerate duplicates,
// keyed on the row id.
type ChangeNotification struct {
	DeploymentID string `json:"deployment_id"`
	Epoch        int64  `json:"epoch"`
	Status       string `json:"status"`
	Module       string `json:"module"`
	Name         string `json:"name"`
	Event        Event  `json:"event"`
}

// Notification builds the change projection for a ledger row.
func (e DeploymentEvent) Notification() ChangeNotification {
	return ChangeNotification{
		DeploymentID: e.DeploymentID,
		Epoch:        e.Epoch,
		Status:       e.Status,
		Module:       e.Module,
		Name:         e.Name,
		Event:        e.Event,
	}
}
