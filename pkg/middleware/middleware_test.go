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

package middleware_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/middleware"
	"github.com/carverauto/envradar/pkg/models"
)

type fakeResolving struct {
	envs []models.ResolvedEnv
	// updates are fired right after the item with the same index.
	updates map[int]models.ResolvedEnv
	changed *events.Emitter[models.ChangeEvent]
}

func newFakeResolving(envs ...models.ResolvedEnv) *fakeResolving {
	return &fakeResolving{
		envs:    envs,
		updates: make(map[int]models.ResolvedEnv),
		changed: events.NewEmitter[models.ChangeEvent](),
	}
}

func (f *fakeResolving) IterEnvs(*models.Query) *locator.Iterator[models.ResolvedEnv] {
	return locator.NewIterator(func(_ context.Context, sink *locator.Sink[models.ResolvedEnv]) error {
		for i, env := range f.envs {
			if !sink.Yield(env) {
				return nil
			}

			if upd, ok := f.updates[i]; ok {
				old := env
				sink.Update(models.UpdateEvent[models.ResolvedEnv]{Index: i, Old: &old, Update: &upd})
			}
		}

		return nil
	})
}

func (f *fakeResolving) ResolveEnv(_ context.Context, path string) (*models.ResolvedEnv, error) {
	for _, env := range f.envs {
		if env.Executable == path {
			out := env

			return &out, nil
		}
	}

	return nil, nil
}

func (f *fakeResolving) OnChanged() events.Event[models.ChangeEvent] {
	return f.changed
}

type recordingFolders struct {
	mu     sync.Mutex
	events []models.RootsChangeEvent
}

func (r *recordingFolders) OnDidChangeWorkspaceFolders(e models.RootsChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recordingFolders) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func env(path string) models.ResolvedEnv {
	return models.ResolvedEnv{Executable: path, Kind: models.KindVenv, Version: models.EmptyVersion()}
}

func TestIterationSessions(t *testing.T) {
	ctx := context.Background()
	m := middleware.New(newFakeResolving(env("/a/python"), env("/b/python")), nil, logger.NewTestLogger())
	defer m.Dispose()

	first, err := m.IterInitialize(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.IteratorID(1), first)

	second, err := m.IterInitialize(ctx, models.RootedQuery("/proj"))
	require.NoError(t, err)
	assert.Equal(t, models.IteratorID(2), second)
	assert.Equal(t, 2, m.Sessions())

	var got []string

	for {
		e, err := m.IterNext(ctx, first)
		require.NoError(t, err)

		if e == nil {
			break
		}

		got = append(got, e.Executable)
	}

	assert.Equal(t, []string{"/a/python", "/b/python"}, got)
	assert.Equal(t, 1, m.Sessions(), "exhausted session is forgotten")

	e, err := m.IterNext(ctx, first)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Nil(t, m.IterOnUpdated(first))

	// Handles are never reused.
	third, err := m.IterInitialize(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.IteratorID(3), third)
}

func TestUnknownHandle(t *testing.T) {
	m := middleware.New(newFakeResolving(), nil, logger.NewTestLogger())
	defer m.Dispose()

	e, err := m.IterNext(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Nil(t, m.IterOnUpdated(42))

	e, err = m.IterNext(context.Background(), 0)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestConcurrentInitializeIssuesDistinctHandles(t *testing.T) {
	m := middleware.New(newFakeResolving(), nil, logger.NewTestLogger())
	defer m.Dispose()

	const n = 50

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[models.IteratorID]bool)
	)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			id, err := m.IterInitialize(context.Background(), nil)
			assert.NoError(t, err)

			mu.Lock()
			ids[id] = true
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Len(t, ids, n)
	assert.False(t, ids[0])
}

func TestIterOnUpdatedDeliversUpdates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeResolving(env("/a/python"))
	refreshed := env("/a/python")
	refreshed.Version = models.Version{Major: 3, Minor: 12, Micro: 1}
	fake.updates[0] = refreshed

	m := middleware.New(fake, nil, logger.NewTestLogger())
	defer m.Dispose()

	id, err := m.IterInitialize(ctx, nil)
	require.NoError(t, err)

	updates := m.IterOnUpdated(id)
	require.NotNil(t, updates)

	var got []models.UpdateEvent[models.ResolvedEnv]

	updates.Subscribe(func(e models.UpdateEvent[models.ResolvedEnv]) { got = append(got, e) })

	for {
		e, err := m.IterNext(ctx, id)
		require.NoError(t, err)

		if e == nil {
			break
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 12, got[0].Update.Version.Minor)
	assert.Equal(t, models.StageDiscoveryFinished, got[1].Stage)
}

func TestChangesAreForwarded(t *testing.T) {
	fake := newFakeResolving()
	m := middleware.New(fake, nil, logger.NewTestLogger())
	defer m.Dispose()

	var got []models.ChangeEvent

	m.OnChanged().Subscribe(func(e models.ChangeEvent) { got = append(got, e) })
	fake.changed.Fire(models.ChangeEvent{Type: models.ChangeCreated, Path: "/x/python"})

	require.Len(t, got, 1)
	assert.Equal(t, "/x/python", got[0].Path)
}

func TestResolveEnv(t *testing.T) {
	m := middleware.New(newFakeResolving(env("/a/python")), nil, logger.NewTestLogger())
	defer m.Dispose()

	e, err := m.ResolveEnv(context.Background(), "/a/python")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "/a/python", e.Executable)
}

func TestDisposeMakesEverythingANoop(t *testing.T) {
	ctx := context.Background()
	folders := &recordingFolders{}
	ownedCalls := 0
	owned := events.DisposableFunc(func() { ownedCalls++ })

	fake := newFakeResolving(env("/a/python"))
	m := middleware.New(fake, folders, logger.NewTestLogger(), owned)

	m.OnDidChangeWorkspaceFolders(models.RootsChangeEvent{Added: []string{"/proj"}})
	assert.Equal(t, 1, folders.count())

	live, err := m.IterInitialize(ctx, nil)
	require.NoError(t, err)

	m.Dispose()
	m.Dispose()

	assert.Equal(t, 1, ownedCalls)
	assert.Equal(t, 0, m.Sessions())

	id, err := m.IterInitialize(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, id)

	e, err := m.IterNext(ctx, live)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = m.ResolveEnv(ctx, "/a/python")
	require.NoError(t, err)
	assert.Nil(t, e)

	m.OnDidChangeWorkspaceFolders(models.RootsChangeEvent{Added: []string{"/other"}})
	assert.Equal(t, 1, folders.count())

	var fired bool

	m.OnChanged().Subscribe(func(models.ChangeEvent) { fired = true })
	fake.changed.Fire(models.ChangeEvent{})
	assert.False(t, fired)
}

func TestLocatorAdapter(t *testing.T) {
	fake := newFakeResolving(env("/a/python"), env("/b/python"))
	refreshed := env("/b/python")
	refreshed.Name = "b"
	fake.updates[1] = refreshed

	loc := middleware.NewLocator(middleware.New(fake, nil, logger.NewTestLogger()))
	defer loc.Dispose()

	it := loc.IterEnvs(nil)

	var (
		updates  []models.UpdateEvent[models.ResolvedEnv]
		finished int
	)

	it.OnUpdated().Subscribe(func(e models.UpdateEvent[models.ResolvedEnv]) {
		if e.Stage == models.StageDiscoveryFinished {
			finished++

			return
		}

		updates = append(updates, e)
	})

	envs, err := locator.Collect(context.Background(), it)
	require.NoError(t, err)
	require.Len(t, envs, 2)

	require.Len(t, updates, 1)
	assert.Equal(t, 1, updates[0].Index)
	assert.Equal(t, "b", updates[0].Update.Name)
	assert.Equal(t, 1, finished)
}

func TestLocatorAdapterAfterDispose(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := middleware.NewMockAPI(ctrl)

	api.EXPECT().IterInitialize(gomock.Any(), gomock.Nil()).Return(models.IteratorID(0), nil)

	envs, err := locator.Collect(context.Background(), middleware.NewLocator(api).IterEnvs(nil))
	require.NoError(t, err)
	assert.Empty(t, envs)
}

func TestLocatorAdapterSurfacesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := middleware.NewMockAPI(ctrl)
	boom := errors.New("worker gone")

	first := env("/a/python")

	gomock.InOrder(
		api.EXPECT().IterInitialize(gomock.Any(), gomock.Any()).Return(models.IteratorID(7), nil),
		api.EXPECT().IterOnUpdated(models.IteratorID(7)).Return(nil),
		api.EXPECT().IterNext(gomock.Any(), models.IteratorID(7)).Return(&first, nil),
		api.EXPECT().IterNext(gomock.Any(), models.IteratorID(7)).Return(nil, boom),
	)

	envs, err := locator.Collect(context.Background(), middleware.NewLocator(api).IterEnvs(models.RootedQuery("/p")))
	require.ErrorIs(t, err, boom)
	assert.Len(t, envs, 1)
}
