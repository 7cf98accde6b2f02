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

package collection

import (
	"sync"

	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/models"
)

type queued struct {
	env    *models.ResolvedEnv
	change *models.ChangeEvent
}

// eventQueue buffers collection events for one iteration. Pushes never
// block, so the refresh that fires them is never held up by a slow consumer.
type eventQueue struct {
	mu     sync.Mutex
	items  []queued
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(item queued) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pushFound(env models.ResolvedEnv) {
	q.push(queued{env: &env})
}

func (q *eventQueue) pushChange(e models.ChangeEvent) {
	q.push(queued{change: &e})
}

func (q *eventQueue) take() []queued {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil

	return items
}

// yielder tracks what an iteration has handed out so later events become
// updates of the right index.
type yielder struct {
	query *models.Query
	sink  *locator.Sink[models.ResolvedEnv]
	index map[string]int
	last  map[string]*models.ResolvedEnv
	count int
}

func newYielder(query *models.Query, sink *locator.Sink[models.ResolvedEnv]) *yielder {
	return &yielder{
		query: query,
		sink:  sink,
		index: make(map[string]int),
		last:  make(map[string]*models.ResolvedEnv),
	}
}

func (y *yielder) item(env models.ResolvedEnv) bool {
	k := key(env.Executable)

	if idx, ok := y.index[k]; ok {
		old := y.last[k]
		if old.Equal(&env) {
			return true
		}

		y.last[k] = env.Clone()

		return y.sink.Update(models.UpdateEvent[models.ResolvedEnv]{Index: idx, Old: old, Update: env.Clone()})
	}

	if !y.query.Matches(&env) {
		return true
	}

	if !y.sink.Yield(env) {
		return false
	}

	y.index[k] = y.count
	y.last[k] = env.Clone()
	y.count++

	return true
}

func (y *yielder) removed(path string) bool {
	k := key(path)

	idx, ok := y.index[k]
	if !ok {
		return true
	}

	old := y.last[k]
	delete(y.index, k)
	delete(y.last, k)

	return y.sink.Update(models.UpdateEvent[models.ResolvedEnv]{Index: idx, Old: old})
}

func (y *yielder) drain(q *eventQueue) bool {
	for _, item := range q.take() {
		ok := true

		switch {
		case item.env != nil:
			ok = y.item(*item.env)
		case item.change.Type == models.ChangeDeleted:
			ok = y.removed(item.change.Path)
		case item.change.New != nil:
			ok = y.item(*item.change.New)
		}

		if !ok {
			return false
		}
	}

	return true
}
