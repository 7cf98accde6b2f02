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

// Package locatortest provides scriptable locators for tests.
package locatortest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/models"
)

// Static yields a fixed list of findings. Fail or Panic make the locator
// misbehave after the listed items.
type Static struct {
	locator.Base

	name string

	mu    sync.Mutex
	envs  []models.BasicEnv
	calls int

	// Fail is returned from the producer after all items were yielded.
	Fail error
	// Panic, if non-nil, is raised after all items were yielded.
	Panic interface{}
	// Updates are sent after the items, in order.
	Updates []models.UpdateEvent[models.BasicEnv]

	disposed atomic.Bool
}

var _ locator.Locator = (*Static)(nil)

// New returns a Static locator yielding envs.
func New(name string, envs ...models.BasicEnv) *Static {
	return &Static{Base: locator.NewBase(), name: name, envs: envs}
}

// Name implements locator.Locator.
func (s *Static) Name() string {
	return s.name
}

// Set replaces the findings reported by later iterations.
func (s *Static) Set(envs ...models.BasicEnv) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.envs = envs
}

// Calls reports how many iterations were started.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// Disposed reports whether Dispose was called.
func (s *Static) Disposed() bool {
	return s.disposed.Load()
}

// IterEnvs implements locator.Locator.
func (s *Static) IterEnvs(_ *models.Query) *locator.Iterator[models.BasicEnv] {
	return locator.NewIterator(func(_ context.Context, sink *locator.Sink[models.BasicEnv]) error {
		s.mu.Lock()
		s.calls++
		envs := append([]models.BasicEnv(nil), s.envs...)
		s.mu.Unlock()

		for _, env := range envs {
			if !sink.Yield(env) {
				return nil
			}
		}

		for _, u := range s.Updates {
			sink.Update(u)
		}

		if s.Panic != nil {
			panic(s.Panic)
		}

		return s.Fail
	})
}

// Dispose implements locator.Locator.
func (s *Static) Dispose() {
	s.disposed.Store(true)
	s.Base.Dispose()
}

// Env is shorthand for a finding from a single source.
func Env(path string, kind models.EnvKind, source models.Source) models.BasicEnv {
	return models.BasicEnv{Executable: path, Kind: kind, Sources: []models.Source{source}}
}
