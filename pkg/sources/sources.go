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

// Package sources holds the leaf locators: each one knows where a single
// tool or convention keeps interpreters and reports what it finds there
// without probing it.
package sources

import (
	"context"
	"sync"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/watch"
)

// findFunc reports candidates through yield and stops when yield returns false.
type findFunc func(ctx context.Context, yield func(models.BasicEnv) bool) error

// watchSpec is a directory and a pattern relative to it.
type watchSpec struct {
	dir     string
	pattern string
}

// fsLocator is the shared shape of the leaf locators: a find function over
// the file system plus watchers that turn file changes into change events.
// Watchers start with the first iteration.
type fsLocator struct {
	locator.Base

	name string
	kind models.EnvKind
	// root is set for workspace locators and tags their change events.
	root    string
	find    findFunc
	watches func() []watchSpec
	log     logger.Logger

	once        sync.Once
	mu          sync.Mutex
	disposed    bool
	disposables events.Disposables
}

var _ locator.Locator = (*fsLocator)(nil)

func newFSLocator(name string, log logger.Logger, find findFunc, watches func() []watchSpec) *fsLocator {
	return &fsLocator{
		Base:    locator.NewBase(),
		name:    name,
		find:    find,
		watches: watches,
		log:     logger.Component(log, name),
	}
}

// Name implements locator.Locator.
func (l *fsLocator) Name() string {
	return l.name
}

// IterEnvs implements locator.Locator.
func (l *fsLocator) IterEnvs(_ *models.Query) *locator.Iterator[models.BasicEnv] {
	l.once.Do(l.startWatching)

	return locator.NewIterator(func(ctx context.Context, sink *locator.Sink[models.BasicEnv]) error {
		return l.find(ctx, func(env models.BasicEnv) bool {
			if l.root != "" && env.SearchLocation == "" {
				env.SearchLocation = l.root
			}

			return sink.Yield(env)
		})
	})
}

func (l *fsLocator) startWatching() {
	l.mu.Lock()
	disposed := l.disposed
	l.mu.Unlock()

	if l.watches == nil || disposed {
		return
	}

	// Watchers added after Dispose are released by Disposables.Add.
	for _, spec := range l.watches() {
		l.disposables.Add(watch.WatchLocationForPattern(spec.dir, spec.pattern, l.onFileChange, l.log))
	}
}

func (l *fsLocator) onFileChange(change watch.FileChange) {
	l.mu.Lock()
	disposed := l.disposed
	l.mu.Unlock()

	if disposed {
		return
	}

	l.log.Debug().Str("path", change.Path).Str("type", string(change.Type)).Msg("Environment location changed")

	l.FireChanged(models.ChangeEvent{
		Type:           changeType(change.Type),
		Path:           change.Path,
		SearchLocation: l.root,
		Kind:           l.kind,
	})
}

func changeType(t watch.ChangeType) models.ChangeType {
	switch t {
	case watch.Created:
		return models.ChangeCreated
	case watch.Deleted:
		return models.ChangeDeleted
	case watch.Changed:
		return models.ChangeUpdated
	default:
		return models.ChangeUpdated
	}
}

// Dispose stops the watchers and drops listeners.
func (l *fsLocator) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()

		return
	}

	l.disposed = true
	l.mu.Unlock()

	l.disposables.Dispose()
	l.Base.Dispose()
}

// yieldAll reports envs in order, honouring cancellation.
func yieldAll(ctx context.Context, envs []models.BasicEnv, yield func(models.BasicEnv) bool) error {
	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !yield(env) {
			return nil
		}
	}

	return nil
}
