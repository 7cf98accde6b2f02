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

package collection_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/collection"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// gatedLocator serves a fixed set of resolved environments. Iterations
// block on the gate until it is released.
type gatedLocator struct {
	changed *events.Emitter[models.ChangeEvent]

	mu   sync.Mutex
	envs []models.ResolvedEnv
	gate chan struct{}

	calls     atomic.Int32
	resolves  atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

var _ locator.ResolvingLocator = (*gatedLocator)(nil)

func newGatedLocator(envs ...models.ResolvedEnv) *gatedLocator {
	return &gatedLocator{changed: events.NewEmitter[models.ChangeEvent](), envs: envs}
}

func (g *gatedLocator) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gate = make(chan struct{})
}

func (g *gatedLocator) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.gate != nil {
		close(g.gate)
		g.gate = nil
	}
}

func (g *gatedLocator) set(envs ...models.ResolvedEnv) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.envs = envs
}

func (g *gatedLocator) IterEnvs(query *models.Query) *locator.Iterator[models.ResolvedEnv] {
	return locator.NewIterator(func(ctx context.Context, sink *locator.Sink[models.ResolvedEnv]) error {
		g.calls.Add(1)

		n := g.active.Add(1)
		defer g.active.Add(-1)

		for {
			m := g.maxActive.Load()
			if n <= m || g.maxActive.CompareAndSwap(m, n) {
				break
			}
		}

		g.mu.Lock()
		gate := g.gate
		envs := append([]models.ResolvedEnv(nil), g.envs...)
		g.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		for i := range envs {
			if !query.Matches(&envs[i]) {
				continue
			}

			if !sink.Yield(envs[i]) {
				return nil
			}
		}

		return nil
	})
}

func (g *gatedLocator) ResolveEnv(_ context.Context, path string) (*models.ResolvedEnv, error) {
	g.resolves.Add(1)

	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.envs {
		if pathutil.ArePathsSame(g.envs[i].Executable, path) {
			return g.envs[i].Clone(), nil
		}
	}

	return nil, nil
}

func (g *gatedLocator) OnChanged() events.Event[models.ChangeEvent] {
	return g.changed
}

func venv(path, searchLocation string) models.ResolvedEnv {
	return models.ResolvedEnv{
		Executable:     path,
		Kind:           models.KindVenv,
		Version:        models.Version{Major: 3, Minor: 12, Micro: 0},
		DisplayName:    "Python 3.12.0",
		SearchLocation: searchLocation,
		Sources:        []models.Source{models.SourceWorkspace},
	}
}

func newService(t *testing.T, loc locator.ResolvingLocator, snapshot collection.SnapshotStore, opts ...collection.Option) *collection.Service {
	t.Helper()

	cache := collection.NewCache(context.Background(), snapshot, logger.NewTestLogger())

	svc, err := collection.NewService(loc, cache, append([]collection.Option{collection.WithLogger(logger.NewTestLogger())}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(svc.Dispose)

	return svc
}

func paths(envs []models.ResolvedEnv) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Executable)
	}

	return out
}
