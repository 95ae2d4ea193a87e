// Package redis implements the storage interfaces on Redis. Module
// versions live in lexically ordered sorted sets keyed by the padded
// version key, so ZRANGE ... REV BYLEX doubles as a latest-version read,
// and ledger inserts are mirrored into a Stream that backs the change
// feed.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	redis "github.com/redis/go-redis/v9"

	"github.com/outpostd/outpost/internal/domain"
	"github.com/outpostd/outpost/internal/store"
	"github.com/outpostd/outpost/internal/version"
)

// Store implements the storage interfaces on a Redis client.
type Store struct {
	client *redis.Client
	stream string
}

var (
	_ store.ModuleStore      = (*Store)(nil)
	_ store.EnvironmentStore = (*Store)(nil)
	_ store.EventStore       = (*Store)(nil)
)

// New constructs a Store writing ledger inserts to the named stream.
func New(client *redis.Client, stream string) *Store {
	return &Store{client: client, stream: stream}
}

func moduleRecordKey(module, environment, versionKey string) string {
	return fmt.Sprintf("module:%s:%s:%s", module, environment, versionKey)
}

func moduleVersionsKey(module, environment string) string {
	return fmt.Sprintf("modules:%s:%s", module, environment)
}

func moduleAllVersionsKey(module string) string {
	return fmt.Sprintf("modulevers:%s", module)
}

func environmentModulesKey(environment string) string {
	return fmt.Sprintf("envmodules:%s", environment)
}

const environmentsKey = "environments"

func eventRowKey(id string) string {
	return fmt.Sprintf("event:%s", id)
}

func deploymentEventsKey(deploymentID string) string {
	return fmt.Sprintf("events:%s", deploymentID)
}

func statusIndexKey(status string) string {
	return fmt.Sprintf("events:status:%s", status)
}

// InsertModule writes the manifest under a SETNX guard so concurrent
// inserts of the same version collapse to one winner.
func (s *Store) InsertModule(ctx context.Context, manifest domain.ModuleManifest, replace bool) error {
	key, err := version.Key(manifest.Version)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	recordKey := moduleRecordKey(manifest.Module, manifest.Environment, key)
	if replace {
		if err := s.client.Set(ctx, recordKey, payload, 0).Err(); err != nil {
			return err
		}
	} else {
		ok, err := s.client.SetNX(ctx, recordKey, payload, 0).Result()
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrDuplicateVersion
		}
	}

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, moduleVersionsKey(manifest.Module, manifest.Environment), redis.Z{Score: 0, Member: key})
	pipe.ZAdd(ctx, moduleAllVersionsKey(manifest.Module), redis.Z{Score: 0, Member: key + "#" + manifest.Environment})
	pipe.SAdd(ctx, environmentModulesKey(manifest.Environment), manifest.Module)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) manifestAt(ctx context.Context, module, environment, versionKey string) (*domain.ModuleManifest, error) {
	payload, err := s.client.Get(ctx, moduleRecordKey(module, environment, versionKey)).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var manifest domain.ModuleManifest
	if err := json.Unmarshal([]byte(payload), &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &manifest, nil
}

// LatestModule reads the lexically greatest version key for the pair.
func (s *Store) LatestModule(ctx context.Context, module, environment string) (*domain.ModuleManifest, error) {
	// REV BYLEX takes the max bound first.
	members, err := s.client.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:   moduleVersionsKey(module, environment),
		Start: "+",
		Stop:  "-",
		ByLex: true,
		Rev:   true,
		Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, store.ErrNotFound
	}
	return s.manifestAt(ctx, module, environment, members[0])
}

// ModuleByVersion resolves an exact version in any environment via the
// per-module version index.
func (s *Store) ModuleByVersion(ctx context.Context, module, ver string) (*domain.ModuleManifest, error) {
	key, err := version.Key(ver)
	if err != nil {
		return nil, err
	}
	members, err := s.client.ZRangeArgs(ctx, redis.ZRangeArgs{
		Key:   moduleAllVersionsKey(module),
		Start: "[" + key + "#\xff",
		Stop:  "[" + key + "#",
		ByLex: true,
		Rev:   true,
		Count: 1,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, store.ErrNotFound
	}
	environment := members[0][len(key)+1:]
	return s.manifestAt(ctx, module, environment, key)
}

// ListLatestModules resolves the latest version of every module known
// to an environment.
func (s *Store) ListLatestModules(ctx context.Context, environment string) ([]domain.ModuleManifest, error) {
	modules, err := s.client.SMembers(ctx, environmentModulesKey(environment)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ModuleManifest, 0, len(modules))
	for _, module := range modules {
		manifest, err := s.LatestModule(ctx, module, environment)
		if err == nil {
			out = append(out, *manifest)
			continue
		}
		if err != store.ErrNotFound {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out, nil
}

// TouchEnvironment records last registry activity per environment.
func (s *Store) TouchEnvironment(ctx context.Context, name string, epoch int64) error {
	return s.client.HSet(ctx, environmentsKey, name, epoch).Err()
}

// ListEnvironments returns all known environments.
func (s *Store) ListEnvironments(ctx context.Context) ([]domain.Environment, error) {
	entries, err := s.client.HGetAll(ctx, environmentsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Environment, 0, len(entries))
	for name, raw := range entries {
		epoch, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse environment epoch: %w", err)
		}
		out = append(out, domain.Environment{Name: name, LastActivityEpoch: epoch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendEvent writes the row, indexes it, and mirrors it to the stream
// that feeds the change notifier.
func (s *Store) AppendEvent(ctx context.Context, event domain.DeploymentEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, eventRowKey(event.ID), payload, 0)
	pipe.ZAdd(ctx, deploymentEventsKey(event.DeploymentID), redis.Z{Score: float64(event.Epoch), Member: event.ID})
	pipe.SAdd(ctx, statusIndexKey(event.Status), event.ID)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{"payload": string(payload)},
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) eventsByIDs(ctx context.Context, ids []string) ([]domain.DeploymentEvent, error) {
	out := make([]domain.DeploymentEvent, 0, len(ids))
	for _, id := range ids {
		payload, err := s.client.Get(ctx, eventRowKey(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var event domain.DeploymentEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, event)
	}
	return out, nil
}

// LatestEvents returns the n most-recent rows, epoch descending.
func (s *Store) LatestEvents(ctx context.Context, deploymentID string, n int) ([]domain.DeploymentEvent, error) {
	ids, err := s.client.ZRevRange(ctx, deploymentEventsKey(deploymentID), 0, int64(n)-1).Result()
	if err != nil {
		return nil, err
	}
	return s.eventsByIDs(ctx, ids)
}

// AllEvents returns the full history, epoch ascending.
func (s *Store) AllEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error) {
	ids, err := s.client.ZRange(ctx, deploymentEventsKey(deploymentID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.eventsByIDs(ctx, ids)
}

// EventsByStatus reads the status secondary index.
func (s *Store) EventsByStatus(ctx context.Context, status string) ([]domain.DeploymentEvent, error) {
	ids, err := s.client.SMembers(ctx, statusIndexKey(status)).Result()
	if err != nil {
		return nil, err
	}
	events, err := s.eventsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Epoch > events[j].Epoch })
	return events, nil
}

// DeploymentExists reports whether any row carries the deployment id.
func (s *Store) DeploymentExists(ctx context.Context, deploymentID string) (bool, error) {
	count, err := s.client.ZCard(ctx, deploymentEventsKey(deploymentID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
