// Package postgres implements the storage interfaces on PostgreSQL via
// pgx. Version ordering rides on the precomputed version_key column so
// latest-version reads are a single descending index scan.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
	"github.com/outpostd/outpost/internal/version"
)

// Store implements the storage interfaces on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ store.ModuleStore      = (*Store)(nil)
	_ store.EnvironmentStore = (*Store)(nil)
	_ store.EventStore       = (*Store)(nil)
)

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertModule appends a manifest record. The primary key on
// (module, environment, version_key) makes the insert conditional:
// without replace a conflicting row fails with ErrDuplicateVersion.
func (s *Store) InsertModule(ctx context.Context, manifest domain.ModuleManifest, replace bool) error {
	key, err := version.Key(manifest.Version)
	if err != nil {
		return err
	}
	parameters, err := json.Marshal(manifest.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	query := `INSERT INTO modules (module, environment, version_key, module_name, version, description, reference, source, parameters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (module, environment, version_key) DO NOTHING`
	if replace {
		query = `INSERT INTO modules (module, environment, version_key, module_name, version, description, reference, source, parameters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (module, environment, version_key) DO UPDATE SET
			module_name = EXCLUDED.module_name,
			description = EXCLUDED.description,
			reference = EXCLUDED.reference,
			source = EXCLUDED.source,
			parameters = EXCLUDED.parameters,
			created_at = EXCLUDED.created_at`
	}
	tag, err := s.pool.Exec(ctx, query,
		manifest.Module, manifest.Environment, key, manifest.ModuleName, manifest.Version,
		manifest.Description, manifest.Reference, manifest.Source, parameters, manifest.Timestamp)
	if err != nil {
		return err
	}
	if !replace && tag.RowsAffected() == 0 {
		return store.ErrDuplicateVersion
	}
	return nil
}

const moduleColumns = `module, environment, module_name, version, description, reference, source, parameters, created_at`

func scanManifest(row pgx.Row) (*domain.ModuleManifest, error) {
	var m domain.ModuleManifest
	var parameters []byte
	if err := row.Scan(&m.Module, &m.Environment, &m.ModuleName, &m.Version, &m.Description, &m.Reference, &m.Source, &parameters, &m.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(parameters) > 0 {
		if err := json.Unmarshal(parameters, &m.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return &m, nil
}

// LatestModule returns the highest version for (module, environment).
func (s *Store) LatestModule(ctx context.Context, module, environment string) (*domain.ModuleManifest, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules
		WHERE module = $1 AND environment = $2
		ORDER BY version_key DESC LIMIT 1`
	return scanManifest(s.pool.QueryRow(ctx, query, module, environment))
}

// ModuleByVersion returns an exact version match, any environment.
func (s *Store) ModuleByVersion(ctx context.Context, module, ver string) (*domain.ModuleManifest, error) {
	query := `SELECT ` + moduleColumns + ` FROM modules
		WHERE module = $1 AND version = $2
		ORDER BY version_key DESC LIMIT 1`
	return scanManifest(s.pool.QueryRow(ctx, query, module, ver))
}

// ListLatestModules returns the newest manifest per module name.
func (s *Store) ListLatestModules(ctx context.Context, environment string) ([]domain.ModuleManifest, error) {
	query := `SELECT DISTINCT ON (module) ` + moduleColumns + ` FROM modules
		WHERE environment = $1
		ORDER BY module, version_key DESC`
	rows, err := s.pool.Query(ctx, query, environment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ModuleManifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// TouchEnvironment upserts the environment last-activity marker.
func (s *Store) TouchEnvironment(ctx context.Context, name string, epoch int64) error {
	const query = `INSERT INTO environments (environment, last_activity_epoch)
		VALUES ($1, $2)
		ON CONFLICT (environment) DO UPDATE SET last_activity_epoch = EXCLUDED.last_activity_epoch`
	_, err := s.pool.Exec(ctx, query, name, epoch)
	return err
}

// ListEnvironments returns all known environments.
func (s *Store) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	const query = `SELECT environment, last_activity_epoch FROM environments ORDER BY environment`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Environment
	for rows.Next() {
		var env domain.Environment
		if err := rows.Scan(&env.Name, &env.LastActivityEpoch); err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// AppendEvent inserts one ledger row. Rows are never updated.
func (s *Store) AppendEvent(ctx context.Context, event domain.DeploymentEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const query = `INSERT INTO deployment_events (id, deployment_id, event, status, epoch, recorded_at, job_id, module, name, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.pool.Exec(ctx, query,
		event.ID, event.DeploymentID, string(event.Event), event.Status, event.Epoch,
		event.Timestamp, event.JobID, event.Module, event.Name, metadata)
	return err
}

const eventColumns = `id, deployment_id, event, status, epoch, recorded_at, job_id, module, name, metadata`

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]domain.DeploymentEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeploymentEvent
	for rows.Next() {
		var ev domain.DeploymentEvent
		var eventKind string
		var metadata []byte
		if err := rows.Scan(&ev.ID, &ev.DeploymentID, &eventKind, &ev.Status, &ev.Epoch, &ev.Timestamp, &ev.JobID, &ev.Module, &ev.Name, &metadata); err != nil {
			return nil, err
		}
		ev.Event = domain.Event(eventKind)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LatestEvents returns the n most-recent rows, epoch descending.
func (s *Store) LatestEvents(ctx context.Context, deploymentID string, n int) ([]domain.DeploymentEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM deployment_events
		WHERE deployment_id = $1 ORDER BY epoch DESC LIMIT $2`
	return s.queryEvents(ctx, query, deploymentID, n)
}

// AllEvents returns the full history, epoch ascending.
func (s *Store) AllEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM deployment_events
		WHERE deployment_id = $1 ORDER BY epoch ASC`
	return s.queryEvents(ctx, query, deploymentID)
}

// EventsByStatus uses the status index for operational queries.
func (s *Store) EventsByStatus(ctx context.Context, status string) ([]domain.DeploymentEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM deployment_events
		WHERE status = $1 ORDER BY epoch DESC`
	return s.queryEvents(ctx, query, status)
}

// DeploymentExists reports whether any row carries the deployment id.
func (s *Store) DeploymentExists(ctx context.Context, deploymentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM deployment_events WHERE deployment_id = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, deploymentID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
