// Package store defines the storage contracts the orchestration core is
// written against. Provider adapters (postgres, redis, memory) implement
// the same interfaces so the services in internal/service stay
// provider-agnostic.
package store

import (
	"context"

	"github.com/outpostd/outpost/internal/domain"
)

// ModuleStore persists immutable module manifests keyed by
// (module, environment, version key) with a descending range read path.
type ModuleStore interface {
	// InsertModule appends a manifest record. When replace is false a
	// record already present at the same (module, environment, version)
	// key fails with ErrDuplicateVersion; replace overwrites it.
	InsertModule(ctx context.Context, manifest domain.ModuleManifest, replace bool) error
	// LatestModule returns the manifest with the greatest version key for
	// (module, environment), or ErrNotFound.
	LatestModule(ctx context.Context, module, environment string) (*domain.ModuleManifest, error)
	// ModuleByVersion returns the manifest with an exact version match,
	// independent of environment, or ErrNotFound.
	ModuleByVersion(ctx context.Context, module, version string) (*domain.ModuleManifest, error)
	// ListLatestModules returns one manifest per module name, the most
	// recent for the environment.
	ListLatestModules(ctx context.Context, environment string) ([]domain.ModuleManifest, error)
}

// EnvironmentStore tracks per-environment registry activity.
type EnvironmentStore interface {
	TouchEnvironment(ctx context.Context, name string, epoch int64) error
	ListEnvironments(ctx context.Context) ([]domain.Environment, error)
}

// EventStore is the append-only backing of the deployment ledger. Rows
// are never updated or deleted.
type EventStore interface {
	AppendEvent(ctx context.Context, event domain.DeploymentEvent) error
	// LatestEvents returns the n most-recent rows for a deployment,
	// ordered by epoch descending.
	LatestEvents(ctx context.Context, deploymentID string, n int) ([]domain.DeploymentEvent, error)
	// AllEvents returns the full history ordered by epoch ascending.
	AllEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error)
	// EventsByStatus is a secondary-index lookup of rows in a status.
	EventsByStatus(ctx context.Context, status string) ([]domain.DeploymentEvent, error)
	// DeploymentExists reports whether at least one row carries the id.
	DeploymentExists(ctx context.Context, deploymentID string) (bool, error)
}

// ChangeFeed exposes the backing store's row-insert stream: each
// inserted ledger row is delivered at least once, in approximate
// insertion order. The channel closes when ctx is done.
type ChangeFeed interface {
	Subscribe(ctx context.Context) (<-chan domain.DeploymentEvent, error)
}
