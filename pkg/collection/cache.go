/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package collection keeps the discovered environments: an in-memory cache
// seeded from a persisted snapshot and a service that refreshes it.
package collection

import (
	"context"
	"os"
	"sync"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// Cache is the ordered set of known environments, at most one per
// canonical executable. Entries seen by this process's resolver are
// complete; entries loaded from the snapshot are not until a pass sees them.
type Cache struct {
	store  SnapshotStore
	log    logger.Logger
	exists func(path string) bool

	// writeMu serializes mutations so change events for a path keep their order.
	writeMu sync.Mutex
	mu      sync.RWMutex
	envs    []*models.ResolvedEnv
	index   map[string]int
	done    map[string]bool

	flushMu sync.Mutex
	changed *events.Emitter[models.ChangeEvent]
}

// NewCache seeds a cache from store.
func NewCache(ctx context.Context, store SnapshotStore, log logger.Logger) *Cache {
	c := &Cache{
		store:   store,
		log:     logger.Component(log, "collection-cache"),
		exists:  fileExists,
		index:   make(map[string]int),
		done:    make(map[string]bool),
		changed: events.NewEmitter[models.ChangeEvent](),
	}

	c.load(store.Load(ctx))

	return c
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

func key(path string) string {
	return pathutil.NormCase(pathutil.TrimQuotes(path))
}

func (c *Cache) load(envs []models.ResolvedEnv) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.envs = c.envs[:0]
	c.index = make(map[string]int, len(envs))
	c.done = make(map[string]bool)

	for i := range envs {
		env := envs[i]
		env.Executable = key(env.Executable)

		if _, dup := c.index[env.Executable]; dup {
			continue
		}

		c.index[env.Executable] = len(c.envs)
		c.envs = append(c.envs, &env)
	}

	c.log.Debug().Int("count", len(c.envs)).Msg("Loaded environment snapshot")
}

// OnChanged fires for every created, updated or deleted entry.
func (c *Cache) OnChanged() events.Event[models.ChangeEvent] {
	return c.changed
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.envs)
}

// GetAllEnvs returns a copy of every entry in insertion order.
func (c *Cache) GetAllEnvs() []models.ResolvedEnv {
	return c.GetEnvs(nil)
}

// GetEnvs returns the entries matching query.
func (c *Cache) GetEnvs(query *models.Query) []models.ResolvedEnv {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.ResolvedEnv, 0, len(c.envs))

	for _, env := range c.envs {
		if query.Matches(env) {
			out = append(out, *env.Clone())
		}
	}

	return out
}

// GetLatestInfo returns the entry for path, if any.
func (c *Cache) GetLatestInfo(path string) (*models.ResolvedEnv, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[key(path)]
	if !ok {
		return nil, false
	}

	return c.envs[i].Clone(), true
}

// IsComplete reports whether path was resolved by this process.
func (c *Cache) IsComplete(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.done[key(path)]
}

// AddEnv inserts env or replaces the entry with the same executable.
func (c *Cache) AddEnv(env models.ResolvedEnv, complete bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	env.Executable = key(env.Executable)
	k := env.Executable

	c.mu.Lock()

	if complete {
		c.done[k] = true
	}

	i, ok := c.index[k]
	if !ok {
		c.index[k] = len(c.envs)
		c.envs = append(c.envs, &env)
		c.mu.Unlock()

		c.changed.Fire(models.ChangeEvent{
			Type:           models.ChangeCreated,
			Path:           k,
			SearchLocation: env.SearchLocation,
			Kind:           env.Kind,
			New:            env.Clone(),
		})

		return
	}

	old := c.envs[i]
	if old.Equal(&env) {
		old.LastResolved = env.LastResolved
		c.mu.Unlock()

		return
	}

	c.envs[i] = &env
	c.mu.Unlock()

	c.changed.Fire(models.ChangeEvent{
		Type:           models.ChangeUpdated,
		Path:           k,
		SearchLocation: env.SearchLocation,
		Kind:           env.Kind,
		Old:            old.Clone(),
		New:            env.Clone(),
	})
}

// UpdateEnv replaces old with updated; a nil updated removes old.
func (c *Cache) UpdateEnv(old, updated *models.ResolvedEnv) {
	if old != nil && (updated == nil || key(old.Executable) != key(updated.Executable)) {
		c.RemoveEnv(old.Executable)
	}

	if updated != nil {
		c.AddEnv(*updated, true)
	}
}

// RemoveEnv drops the entry for path and reports whether one existed.
func (c *Cache) RemoveEnv(path string) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	removed := c.removeLocked([]string{key(path)})

	return len(removed) > 0
}

// removeLocked drops keys and fires deleted events. writeMu must be held.
func (c *Cache) removeLocked(keys []string) []*models.ResolvedEnv {
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	c.mu.Lock()

	var (
		kept    = c.envs[:0:0]
		removed []*models.ResolvedEnv
	)

	for _, env := range c.envs {
		if drop[env.Executable] {
			removed = append(removed, env)
			delete(c.done, env.Executable)

			continue
		}

		kept = append(kept, env)
	}

	if len(removed) == 0 {
		c.mu.Unlock()

		return nil
	}

	c.envs = kept
	c.index = make(map[string]int, len(kept))

	for i, env := range kept {
		c.index[env.Executable] = i
	}

	c.mu.Unlock()

	for _, env := range removed {
		c.changed.Fire(models.ChangeEvent{
			Type:           models.ChangeDeleted,
			Path:           env.Executable,
			SearchLocation: env.SearchLocation,
			Kind:           env.Kind,
			Old:            env.Clone(),
		})
	}

	return removed
}

// Reconcile removes entries inside scope that a completed pass did not see,
// then persists the collection. Entries outside scope are never touched.
func (c *Cache) Reconcile(ctx context.Context, seen map[string]bool, scope *models.Query) error {
	c.writeMu.Lock()

	c.mu.RLock()

	var stale []string

	for _, env := range c.envs {
		if seen[env.Executable] {
			continue
		}

		if scope.MatchesKind(env.Kind) && scope.MatchesLocation(env.SearchLocation) {
			stale = append(stale, env.Executable)
		}
	}

	c.mu.RUnlock()

	removed := c.removeLocked(stale)
	c.writeMu.Unlock()

	if len(removed) > 0 {
		c.log.Debug().Int("removed", len(removed)).Str("scope", scope.Key()).Msg("Reconciled collection")
	}

	return c.Flush(ctx)
}

// Validate drops entries whose executable no longer exists.
func (c *Cache) Validate(ctx context.Context) error {
	c.writeMu.Lock()

	c.mu.RLock()

	var missing []string

	for _, env := range c.envs {
		if !c.exists(env.Executable) {
			missing = append(missing, env.Executable)
		}
	}

	c.mu.RUnlock()

	removed := c.removeLocked(missing)
	c.writeMu.Unlock()

	if len(removed) == 0 {
		return nil
	}

	c.log.Info().Int("removed", len(removed)).Msg("Dropped environments that no longer exist")

	return c.Flush(ctx)
}

// Flush writes the whole collection to the snapshot store.
func (c *Cache) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if err := c.store.Store(ctx, c.GetAllEnvs()); err != nil {
		c.log.Error().Err(err).Msg("Failed to persist environment snapshot")

		return err
	}

	return nil
}

// ClearAndReload drops every entry and reloads the snapshot.
func (c *Cache) ClearAndReload(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	all := make([]string, 0, len(c.envs))

	for _, env := range c.envs {
		all = append(all, env.Executable)
	}
	c.mu.RUnlock()

	c.removeLocked(all)
	c.load(c.store.Load(ctx))

	for _, env := range c.GetAllEnvs() {
		c.changed.Fire(models.ChangeEvent{
			Type:           models.ChangeCreated,
			Path:           env.Executable,
			SearchLocation: env.SearchLocation,
			Kind:           env.Kind,
			New:            env.Clone(),
		})
	}
}

// Dispose drops listeners.
func (c *Cache) Dispose() {
	c.changed.Dispose()
}
