// Package memory implements the storage interfaces on in-process maps.
// It backs local development and the test suites; ordering semantics
// mirror the postgres and redis adapters.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
	"github.com/outpostd/outpost/internal/version"
)

// Store is a thread-safe in-memory implementation of every storage
// interface, including the change feed.
type Store struct {
	mu           sync.RWMutex
	modules      map[string]map[string]domain.ModuleManifest // module -> environment#versionKey -> manifest
	environments map[string]int64
	events       map[string][]domain.DeploymentEvent // deployment_id -> rows, insertion order
	byStatus     map[string][]string                 // status -> row ids
	rows         map[string]domain.DeploymentEvent   // row id -> row
	subscribers  []chan domain.DeploymentEvent
}

var (
	_ store.ModuleStore      = (*Store)(nil)
	_ store.EnvironmentStore = (*Store)(nil)
	_ store.EventStore       = (*Store)(nil)
	_ store.ChangeFeed       = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		modules:      make(map[string]map[string]domain.ModuleManifest),
		environments: make(map[string]int64),
		events:       make(map[string][]domain.DeploymentEvent),
		byStatus:     make(map[string][]string),
		rows:         make(map[string]domain.DeploymentEvent),
	}
}

func moduleSortKey(environment, versionKey string) string {
	return environment + "#" + versionKey
}

// InsertModule stores a manifest keyed by (module, environment#versionKey).
func (s *Store) InsertModule(ctx context.Context, manifest domain.ModuleManifest, replace bool) error {
	key, err := version.Key(manifest.Version)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.modules[manifest.Module]
	if !ok {
		records = make(map[string]domain.ModuleManifest)
		s.modules[manifest.Module] = records
	}
	sortKey := moduleSortKey(manifest.Environment, key)
	if _, exists := records[sortKey]; exists && !replace {
		return store.ErrDuplicateVersion
	}
	records[sortKey] = manifest
	return nil
}

// LatestModule returns the highest-versioned manifest for (module, environment).
func (s *Store) LatestModule(ctx context.Context, module, environment string) (*domain.ModuleManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := environment + "#"
	var bestKey string
	var best *domain.ModuleManifest
	for key, manifest := range s.modules[module] {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if best == nil || key > bestKey {
			bestKey = key
			m := manifest
			best = &m
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

// ModuleByVersion returns the exact version match regardless of environment.
func (s *Store) ModuleByVersion(ctx context.Context, module, ver string) (*domain.ModuleManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, manifest := range s.modules[module] {
		if manifest.Version == ver {
			m := manifest
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

// ListLatestModules returns the most recent manifest per module for an environment.
func (s *Store) ListLatestModules(ctx context.Context, environment string) ([]domain.ModuleManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := environment + "#"
	var out []domain.ModuleManifest
	for _, records := range s.modules {
		var bestKey string
		var best *domain.ModuleManifest
		for key, manifest := range records {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if best == nil || key > bestKey {
				bestKey = key
				m := manifest
				best = &m
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out, nil
}

// TouchEnvironment upserts the last-activity marker for an environment.
func (s *Store) TouchEnvironment(ctx context.Context, name string, epoch int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.environments[name] = epoch
	return nil
}

// ListEnvironments returns all known environments.
func (s *Store) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Environment, 0, len(s.environments))
	for name, epoch := range s.environments {
		out = append(out, domain.Environment{Name: name, LastActivityEpoch: epoch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendEvent appends a ledger row and fans it out to feed subscribers.
func (s *Store) AppendEvent(ctx context.Context, event domain.DeploymentEvent) error {
	s.mu.Lock()
	s.events[event.DeploymentID] = append(s.events[event.DeploymentID], event)
	s.byStatus[event.Status] = append(s.byStatus[event.Status], event.ID)
	s.rows[event.ID] = event
	subscribers := append([]chan domain.DeploymentEvent(nil), s.subscribers...)
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// LatestEvents returns the n most-recent rows, epoch descending.
func (s *Store) LatestEvents(ctx context.Context, deploymentID string, n int) ([]domain.DeploymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := append([]domain.DeploymentEvent(nil), s.events[deploymentID]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Epoch > rows[j].Epoch })
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows, nil
}

// AllEvents returns the full history, epoch ascending.
func (s *Store) AllEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := append([]domain.DeploymentEvent(nil), s.events[deploymentID]...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Epoch < rows[j].Epoch })
	return rows, nil
}

// EventsByStatus returns every row currently recorded with a status.
func (s *Store) EventsByStatus(ctx context.Context, status string) ([]domain.DeploymentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byStatus[status]
	out := make([]domain.DeploymentEvent, 0, len(ids))
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Epoch > out[j].Epoch })
	return out, nil
}

// DeploymentExists reports whether the deployment has any ledger rows.
func (s *Store) DeploymentExists(ctx context.Context, deploymentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events[deploymentID]) > 0, nil
}

// Subscribe registers a feed consumer; the channel closes with ctx.
func (s *Store) Subscribe(ctx context.Context) (<-chan domain.DeploymentEvent, error) {
	ch := make(chan domain.DeploymentEvent, 64)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		for i, sub := range s.subscribers {
			if sub == ch {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}
