// Package registry maintains the versioned catalogue of deployable
// module manifests.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
	"github.com/outpostd/outpost/internal/version"
)

var (
	// ErrInvalidManifest rejects a manifest that fails schema checks.
	ErrInvalidManifest = errors.New("registry: invalid manifest")
	// ErrVersionConflict rejects re-inserting the current latest version
	// without force.
	ErrVersionConflict = errors.New("registry: version already exists")
	// ErrStaleVersion rejects a version older than the current latest.
	ErrStaleVersion = errors.New("registry: version older than latest")
	// ErrModuleNotFound signals a lookup miss.
	ErrModuleNotFound = errors.New("registry: module not found")
)

// Service validates and stores module manifests.
type Service struct {
	modules      store.ModuleStore
	environments store.EnvironmentStore
	logger       *slog.Logger
	now          func() time.Time
}

// New returns a registry service.
func New(modules store.ModuleStore, environments store.EnvironmentStore, logger *slog.Logger) Service {
	return Service{
		modules:      modules,
		environments: environments,
		logger:       logger,
		now:          time.Now,
	}
}

// manifestDoc is the on-the-wire manifest layout: a Kubernetes-style
// document with metadata.name and a spec block.
type manifestDoc struct {
	Metadata struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"metadata" json:"metadata"`
	Spec struct {
		ModuleName string                   `yaml:"moduleName" json:"moduleName"`
		Version    string                   `yaml:"version" json:"version"`
		Source     string                   `yaml:"source" json:"source"`
		Parameters []domain.ModuleParameter `yaml:"parameters" json:"parameters"`
	} `yaml:"spec" json:"spec"`
}

// parseManifest decodes and validates a raw YAML or JSON manifest.
// Validation failures never reach the store.
func parseManifest(raw []byte) (manifestDoc, error) {
	var doc manifestDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if doc.Metadata.Name == "" {
		return doc, fmt.Errorf("%w: metadata.name is required", ErrInvalidManifest)
	}
	if doc.Spec.ModuleName == "" {
		return doc, fmt.Errorf("%w: spec.moduleName is required", ErrInvalidManifest)
	}
	if doc.Spec.Source == "" {
		return doc, fmt.Errorf("%w: spec.source is required", ErrInvalidManifest)
	}
	if !version.Valid(doc.Spec.Version) {
		return doc, fmt.Errorf("%w: spec.version %q is not a semantic version", ErrInvalidManifest, doc.Spec.Version)
	}
	for _, p := range doc.Spec.Parameters {
		if p.Name == "" {
			return doc, fmt.Errorf("%w: parameter without a name", ErrInvalidManifest)
		}
	}
	return doc, nil
}

// InsertInput carries the insert request alongside the raw manifest.
type InsertInput struct {
	Manifest    []byte
	Environment string
	Description string
	Reference   string
	Force       bool
}

// Insert validates the manifest, enforces version ordering against the
// current latest entry for (module, environment), and appends a new
// immutable record. The environment last-activity marker is upserted as
// a side effect.
func (s Service) Insert(ctx context.Context, input InsertInput) (domain.ModuleManifest, error) {
	doc, err := parseManifest(input.Manifest)
	if err != nil {
		return domain.ModuleManifest{}, err
	}

	module := doc.Metadata.Name
	latest, err := s.modules.LatestModule(ctx, module, input.Environment)
	switch {
	case err == nil:
		if latest.Version == doc.Spec.Version && !input.Force {
			return domain.ModuleManifest{}, fmt.Errorf("%w: %s (%s)", ErrVersionConflict, module, doc.Spec.Version)
		}
		if version.Compare(doc.Spec.Version, latest.Version) < 0 && !input.Force {
			return domain.ModuleManifest{}, fmt.Errorf("%w: %s is older than %s", ErrStaleVersion, doc.Spec.Version, latest.Version)
		}
	case errors.Is(err, store.ErrNotFound):
		// first version for this (module, environment)
	default:
		return domain.ModuleManifest{}, err
	}

	now := s.now().UTC()
	manifest := domain.ModuleManifest{
		Module:      module,
		ModuleName:  doc.Spec.ModuleName,
		Version:     doc.Spec.Version,
		Environment: input.Environment,
		Description: input.Description,
		Reference:   input.Reference,
		Source:      doc.Spec.Source,
		Parameters:  doc.Spec.Parameters,
		Timestamp:   now.Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
	}

	if err := s.modules.InsertModule(ctx, manifest, input.Force); err != nil {
		if errors.Is(err, store.ErrDuplicateVersion) {
			// A concurrent insert won the conditional write.
			return domain.ModuleManifest{}, fmt.Errorf("%w: %s (%s)", ErrVersionConflict, module, doc.Spec.Version)
		}
		return domain.ModuleManifest{}, err
	}

	if err := s.environments.TouchEnvironment(ctx, input.Environment, now.Unix()); err != nil {
		s.logger.Warn("failed to update environment marker", "environment", input.Environment, "error", err)
	}

	s.logger.Info("module inserted", "module", module, "version", doc.Spec.Version, "environment", input.Environment, "force", input.Force)
	return manifest, nil
}

// Latest returns the newest manifest for (module, environment).
func (s Service) Latest(ctx context.Context, module, environment string) (*domain.ModuleManifest, error) {
	manifest, err := s.modules.LatestModule(ctx, module, environment)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s in %s", ErrModuleNotFound, module, environment)
	}
	return manifest, err
}

// Get returns the manifest with an exact version, any environment.
func (s Service) Get(ctx context.Context, module, ver string) (*domain.ModuleManifest, error) {
	manifest, err := s.modules.ModuleByVersion(ctx, module, ver)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrModuleNotFound, module, ver)
	}
	return manifest, err
}

// ListLatest returns one manifest per module name for an environment.
func (s Service) ListLatest(ctx context.Context, environment string) ([]domain.ModuleManifest, error) {
	return s.modules.ListLatestModules(ctx, environment)
}

// ListEnvironments returns all environments with their last-activity
// markers.
func (s Service) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	return s.environments.ListEnvironments(ctx)
}
