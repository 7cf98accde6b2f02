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
	"maps"
	"slices"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// Reducer collapses findings that share a canonical executable path. The
// first finding is yielded; later ones are merged into it and reported as
// updates when the merge changed anything.
type Reducer struct {
	parent Locator
	log    logger.Logger
}

var _ Locator = (*Reducer)(nil)

// NewReducer wraps parent.
func NewReducer(parent Locator, log logger.Logger) *Reducer {
	return &Reducer{parent: parent, log: logger.Component(log, "reducer")}
}

// Name implements Locator.
func (r *Reducer) Name() string {
	return "reducer"
}

// OnChanged forwards the parent's events.
func (r *Reducer) OnChanged() events.Event[models.ChangeEvent] {
	return r.parent.OnChanged()
}

// Dispose releases the parent.
func (r *Reducer) Dispose() {
	r.parent.Dispose()
}

// IterEnvs implements Locator.
func (r *Reducer) IterEnvs(query *models.Query) *Iterator[models.BasicEnv] {
	return NewIterator(func(ctx context.Context, sink *Sink[models.BasicEnv]) error {
		child := r.parent.IterEnvs(query)
		defer child.Close()

		var (
			seen        = make(map[string]int)
			envs        []models.BasicEnv
			childToOut  []int
			invalidated = make(map[int]bool)
		)

		// Runs on this goroutine, from inside child.Next.
		sub := child.OnUpdated().Subscribe(func(ev models.UpdateEvent[models.BasicEnv]) {
			if ev.IsProgress() || ev.Index < 0 || ev.Index >= len(childToOut) {
				return
			}

			out := childToOut[ev.Index]
			old := envs[out]

			if ev.Update == nil {
				if invalidated[out] {
					return
				}

				invalidated[out] = true
				delete(seen, pathutil.NormCase(old.Executable))
				sink.Update(models.UpdateEvent[models.BasicEnv]{Index: out, Old: &old})

				return
			}

			merged, changed := ResolveEnvCollision(old, *ev.Update)
			if !changed {
				return
			}

			envs[out] = merged
			sink.Update(models.UpdateEvent[models.BasicEnv]{Index: out, Old: &old, Update: &merged})
		})
		defer sub.Dispose()

		for {
			env, ok := child.Next(ctx)
			if !ok {
				break
			}

			key := pathutil.NormCase(env.Executable)

			if idx, dup := seen[key]; dup {
				childToOut = append(childToOut, idx)

				old := envs[idx]

				merged, changed := ResolveEnvCollision(old, env)
				if changed {
					envs[idx] = merged
					r.log.Trace().Str("path", env.Executable).Msg("Merged duplicate environment")
					sink.Update(models.UpdateEvent[models.BasicEnv]{Index: idx, Old: &old, Update: &merged})
				}

				continue
			}

			idx := len(envs)
			seen[key] = idx
			envs = append(envs, env)
			childToOut = append(childToOut, idx)

			if !sink.Yield(env) {
				return ctx.Err()
			}
		}

		if err := child.Err(); err != nil {
			r.log.Warn().Err(err).Msg("Upstream locator failed")
		}

		return nil
	})
}

// ResolveEnvCollision merges incoming into existing: the more specific kind
// wins, sources and hints are unioned and a missing search location is
// filled in. It reports whether the result differs from existing.
func ResolveEnvCollision(existing, incoming models.BasicEnv) (models.BasicEnv, bool) {
	merged := existing.Clone()

	if incoming.Kind != "" && (merged.Kind == "" || incoming.Kind.Rank() < merged.Kind.Rank()) {
		merged.Kind = incoming.Kind
	}

	merged.Sources = models.MergeSources(merged.Sources, incoming.Sources)

	if merged.SearchLocation == "" {
		merged.SearchLocation = incoming.SearchLocation
	}

	for k, v := range incoming.Hints {
		if merged.Hints == nil {
			merged.Hints = make(map[string]string)
		}

		if _, ok := merged.Hints[k]; !ok {
			merged.Hints[k] = v
		}
	}

	changed := merged.Kind != existing.Kind ||
		merged.SearchLocation != existing.SearchLocation ||
		!slices.Equal(merged.Sources, existing.Sources) ||
		!maps.Equal(merged.Hints, existing.Hints)

	return merged, changed
}
