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

package locator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// DefaultResolveConcurrency bounds parallel resolutions per iteration.
const DefaultResolveConcurrency = 8

// Resolver turns raw findings into resolved environments using the shared
// envinfo.Service. Items are yielded in completion order.
type Resolver struct {
	parent      Locator
	info        *envinfo.Service
	concurrency int
	log         logger.Logger
}

var _ ResolvingLocator = (*Resolver)(nil)

// NewResolver wraps parent, usually a Reducer.
func NewResolver(parent Locator, info *envinfo.Service, concurrency int, log logger.Logger) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultResolveConcurrency
	}

	return &Resolver{
		parent:      parent,
		info:        info,
		concurrency: concurrency,
		log:         logger.Component(log, "resolver"),
	}
}

// OnChanged forwards the parent's events.
func (r *Resolver) OnChanged() events.Event[models.ChangeEvent] {
	return r.parent.OnChanged()
}

// Dispose releases the parent.
func (r *Resolver) Dispose() {
	r.parent.Dispose()
}

// ResolveEnv resolves a single executable. Resolution failures are logged
// and reported as a nil record.
func (r *Resolver) ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error) {
	path = pathutil.TrimQuotes(path)

	env, err := r.info.Resolve(ctx, models.BasicEnv{
		Executable: path,
		Kind:       envinfo.IdentifyKind(path),
		Sources:    []models.Source{models.SourceManual},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		r.log.Warn().Str("path", path).Err(err).Msg("Failed to resolve environment")

		return nil, nil
	}

	return env, nil
}

type pending struct {
	basic    models.BasicEnv
	out      int
	resolved *models.ResolvedEnv
	invalid  bool
	// filtered marks a finding resolved outside the query.
	filtered bool
}

// IterEnvs implements ResolvingLocator.
func (r *Resolver) IterEnvs(query *models.Query) *Iterator[models.ResolvedEnv] {
	return NewIterator(func(ctx context.Context, sink *Sink[models.ResolvedEnv]) error {
		sink.Update(models.ProgressEvent[models.ResolvedEnv](models.StageDiscoveryStarted))

		child := r.parent.IterEnvs(query)
		defer child.Close()

		var (
			// yieldMu orders output: index assignment, yields and updates.
			yieldMu sync.Mutex
			count   int
			// mu guards the pending records.
			mu    sync.Mutex
			items []*pending
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)

		var refresh func(p *pending, basic models.BasicEnv)

		resolve := func(p *pending) {
			var (
				basic models.BasicEnv
				env   *models.ResolvedEnv
			)

			for {
				mu.Lock()
				basic = p.basic.Clone()
				mu.Unlock()

				var err error

				env, err = r.info.Resolve(gctx, basic)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						r.log.Warn().Str("path", basic.Executable).Err(err).Msg("Failed to resolve environment")
					}

					return
				}

				mu.Lock()
				// Fold in anything the reducer learned while we were resolving.
				if !sameFinding(p.basic, basic) {
					mu.Unlock()

					continue
				}

				// A later merge can still bring the finding into scope.
				if !query.Matches(env) {
					p.filtered = true
					mu.Unlock()

					return
				}

				mu.Unlock()

				break
			}

			yieldMu.Lock()

			mu.Lock()
			if p.invalid {
				mu.Unlock()
				yieldMu.Unlock()

				return
			}

			p.out = count
			p.resolved = env
			stale := !sameFinding(p.basic, basic)
			latest := p.basic.Clone()
			mu.Unlock()

			yielded := sink.Yield(*env)
			if yielded {
				count++
			}

			yieldMu.Unlock()

			if yielded && stale {
				refresh(p, latest)
			}
		}

		refresh = func(p *pending, basic models.BasicEnv) {
			env, err := r.info.Resolve(gctx, basic)
			if err != nil {
				return
			}

			yieldMu.Lock()
			defer yieldMu.Unlock()

			mu.Lock()
			old := p.resolved
			if p.invalid || old == nil || old.Equal(env) {
				mu.Unlock()

				return
			}

			p.resolved = env
			idx := p.out
			mu.Unlock()

			sink.Update(models.UpdateEvent[models.ResolvedEnv]{Index: idx, Old: old, Update: env})
		}

		sub := child.OnUpdated().Subscribe(func(ev models.UpdateEvent[models.BasicEnv]) {
			if ev.IsProgress() {
				return
			}

			mu.Lock()
			if ev.Index < 0 || ev.Index >= len(items) {
				mu.Unlock()

				return
			}

			p := items[ev.Index]

			if ev.Update == nil {
				p.invalid = true
				old := p.resolved
				idx := p.out
				mu.Unlock()

				if old != nil {
					yieldMu.Lock()
					sink.Update(models.UpdateEvent[models.ResolvedEnv]{Index: idx, Old: old})
					yieldMu.Unlock()
				}

				return
			}

			p.basic = ev.Update.Clone()
			yielded := p.resolved != nil
			retry := p.filtered
			p.filtered = false
			basic := p.basic.Clone()
			mu.Unlock()

			if retry {
				g.Go(func() error {
					resolve(p)

					return nil
				})

				return
			}

			if yielded {
				g.Go(func() error {
					refresh(p, basic)

					return nil
				})
			}
		})

		for {
			basic, ok := child.Next(ctx)
			if !ok {
				break
			}

			p := &pending{basic: basic, out: -1}

			mu.Lock()
			items = append(items, p)
			mu.Unlock()

			g.Go(func() error {
				resolve(p)

				return nil
			})
		}

		sub.Dispose()

		if err := child.Err(); err != nil {
			r.log.Warn().Err(err).Msg("Upstream locator failed")
		}

		sink.Update(models.ProgressEvent[models.ResolvedEnv](models.StageAllPathsDiscovered))

		return g.Wait()
	})
}

func sameFinding(a, b models.BasicEnv) bool {
	_, changed := ResolveEnvCollision(b, a)

	return !changed && a.Kind == b.Kind
}
