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

package middleware

import (
	"context"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/models"
)

// Locator presents an API as a locator.ResolvingLocator, so the collection
// does not need to know whether discovery runs in-process or in a worker.
type Locator struct {
	api API
}

var _ locator.ResolvingLocator = (*Locator)(nil)

// NewLocator adapts api.
func NewLocator(api API) *Locator {
	return &Locator{api: api}
}

// IterEnvs drives an iteration session to exhaustion, forwarding its
// updates. The session's own discoveryFinished marker is dropped since the
// returned iterator emits one.
func (l *Locator) IterEnvs(query *models.Query) *locator.Iterator[models.ResolvedEnv] {
	return locator.NewIterator(func(ctx context.Context, sink *locator.Sink[models.ResolvedEnv]) error {
		id, err := l.api.IterInitialize(ctx, query)
		if err != nil {
			return err
		}

		if id == 0 {
			return nil
		}

		if updates := l.api.IterOnUpdated(id); updates != nil {
			sub := updates.Subscribe(func(e models.UpdateEvent[models.ResolvedEnv]) {
				if e.Stage == models.StageDiscoveryFinished {
					return
				}

				sink.Update(e)
			})
			defer sub.Dispose()
		}

		for {
			env, err := l.api.IterNext(ctx, id)
			if err != nil {
				return err
			}

			if env == nil || !sink.Yield(*env) {
				return nil
			}
		}
	})
}

// ResolveEnv implements locator.ResolvingLocator.
func (l *Locator) ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error) {
	return l.api.ResolveEnv(ctx, path)
}

// OnChanged implements locator.ResolvingLocator.
func (l *Locator) OnChanged() events.Event[models.ChangeEvent] {
	return l.api.OnChanged()
}

// Dispose disposes the underlying API.
func (l *Locator) Dispose() {
	l.api.Dispose()
}
