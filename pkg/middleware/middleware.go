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

//go:generate mockgen -destination=mock_api.go -package=middleware github.com/carverauto/envradar/pkg/middleware API

// Package middleware virtualizes environment iterators behind integer
// handles so that discovery can live on the far side of a message boundary.
package middleware

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// API is the boundary between the collection and discovery. Every method is
// expressible as a serializable request.
type API interface {
	ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error)
	// IterInitialize starts an iteration session. It returns 0 when the
	// API has been disposed.
	IterInitialize(ctx context.Context, query *models.Query) (models.IteratorID, error)
	// IterNext returns the next environment of the session, or nil when the
	// session is exhausted or unknown.
	IterNext(ctx context.Context, id models.IteratorID) (*models.ResolvedEnv, error)
	// IterOnUpdated returns the update stream of a live session, or nil.
	IterOnUpdated(id models.IteratorID) events.Event[models.UpdateEvent[models.ResolvedEnv]]
	OnChanged() events.Event[models.ChangeEvent]
	OnDidChangeWorkspaceFolders(event models.RootsChangeEvent)
	Dispose()
}

// FoldersHandler receives workspace folder changes.
type FoldersHandler interface {
	OnDidChangeWorkspaceFolders(event models.RootsChangeEvent)
}

// EnvsMiddleware implements API over a resolving locator.
type EnvsMiddleware struct {
	locator locator.ResolvingLocator
	folders FoldersHandler
	log     logger.Logger

	// lastID is the most recently issued handle.
	lastID atomic.Uint64

	mu        sync.Mutex
	iterators map[models.IteratorID]*locator.Iterator[models.ResolvedEnv]
	disposed  bool

	changed *events.Emitter[models.ChangeEvent]
	subs    events.Disposables
	owned   []events.Disposable
}

var _ API = (*EnvsMiddleware)(nil)

// New bridges loc to the API. folders may be nil when there are no
// workspace roots to track. owned is disposed together with the middleware.
func New(loc locator.ResolvingLocator, folders FoldersHandler, log logger.Logger, owned ...events.Disposable) *EnvsMiddleware {
	m := &EnvsMiddleware{
		locator:   loc,
		folders:   folders,
		log:       logger.Component(log, "middleware"),
		iterators: make(map[models.IteratorID]*locator.Iterator[models.ResolvedEnv]),
		changed:   events.NewEmitter[models.ChangeEvent](),
		owned:     owned,
	}

	m.subs.Add(loc.OnChanged().Subscribe(m.changed.Fire))

	return m
}

func (m *EnvsMiddleware) isDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.disposed
}

// ResolveEnv implements API.
func (m *EnvsMiddleware) ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error) {
	if m.isDisposed() {
		return nil, nil
	}

	return m.locator.ResolveEnv(ctx, path)
}

// IterInitialize implements API. The iteration does not start until the
// first IterNext.
func (m *EnvsMiddleware) IterInitialize(_ context.Context, query *models.Query) (models.IteratorID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return 0, nil
	}

	id := models.IteratorID(m.lastID.Add(1))
	m.iterators[id] = m.locator.IterEnvs(query)

	m.log.Debug().Uint64("handle", uint64(id)).Str("query", query.Key()).Msg("Iterator initialized")

	return id, nil
}

func (m *EnvsMiddleware) iterator(id models.IteratorID) *locator.Iterator[models.ResolvedEnv] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil
	}

	return m.iterators[id]
}

// IterNext implements API. An exhausted session is closed and forgotten,
// so later calls with its handle return nil as well.
func (m *EnvsMiddleware) IterNext(ctx context.Context, id models.IteratorID) (*models.ResolvedEnv, error) {
	it := m.iterator(id)
	if it == nil {
		return nil, nil
	}

	env, ok := it.Next(ctx)
	if ok {
		return &env, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := it.Err(); err != nil {
		m.log.Error().Err(err).Uint64("handle", uint64(id)).Msg("Iteration failed")
	}

	m.forget(id)

	return nil, nil
}

func (m *EnvsMiddleware) forget(id models.IteratorID) {
	m.mu.Lock()
	it, ok := m.iterators[id]
	delete(m.iterators, id)
	m.mu.Unlock()

	if ok {
		it.Close()
	}
}

// IterOnUpdated implements API.
func (m *EnvsMiddleware) IterOnUpdated(id models.IteratorID) events.Event[models.UpdateEvent[models.ResolvedEnv]] {
	it := m.iterator(id)
	if it == nil {
		return nil
	}

	return it.OnUpdated()
}

// OnChanged implements API.
func (m *EnvsMiddleware) OnChanged() events.Event[models.ChangeEvent] {
	return m.changed
}

// OnDidChangeWorkspaceFolders implements API.
func (m *EnvsMiddleware) OnDidChangeWorkspaceFolders(event models.RootsChangeEvent) {
	if m.folders == nil || m.isDisposed() {
		return
	}

	m.folders.OnDidChangeWorkspaceFolders(event)
}

// Sessions reports the number of live iteration sessions.
func (m *EnvsMiddleware) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.iterators)
}

// Dispose closes every session and releases the locator tree.
func (m *EnvsMiddleware) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()

		return
	}

	m.disposed = true
	iterators := m.iterators
	m.iterators = make(map[models.IteratorID]*locator.Iterator[models.ResolvedEnv])
	m.mu.Unlock()

	for _, it := range iterators {
		it.Close()
	}

	m.subs.Dispose()

	for i := len(m.owned) - 1; i >= 0; i-- {
		m.owned[i].Dispose()
	}

	m.changed.Dispose()
}
