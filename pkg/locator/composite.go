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
	"sync"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

type source[T any] struct {
	name string
	it   *Iterator[T]
	// transform is applied to items and updates from this source, if set.
	transform func(T) T
}

// combine merges several iterators. Each source is drained on its own
// goroutine; update indices are remapped into the merged index space and the
// sources' own progress markers are swallowed. A source that fails is logged
// and contributes nothing further.
func combine[T any](log logger.Logger, open func() []source[T]) *Iterator[T] {
	return NewIterator(func(ctx context.Context, sink *Sink[T]) error {
		sources := open()

		var (
			yieldMu sync.Mutex
			count   int
			wg      sync.WaitGroup
		)

		for _, src := range sources {
			wg.Add(1)

			go func(src source[T]) {
				defer wg.Done()
				defer src.it.Close()

				drainSource(ctx, log, sink, src, &yieldMu, &count)
			}(src)
		}

		wg.Wait()

		return nil
	})
}

func drainSource[T any](
	ctx context.Context, log logger.Logger, sink *Sink[T], src source[T], yieldMu *sync.Mutex, count *int,
) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("source", src.name).Interface("panic", r).Msg("Locator failed during iteration")
		}
	}()

	apply := func(v T) T {
		if src.transform != nil {
			return src.transform(v)
		}

		return v
	}

	// Only touched on this goroutine: updates are dispatched inside Next.
	var localToGlobal []int

	sub := src.it.OnUpdated().Subscribe(func(ev models.UpdateEvent[T]) {
		if ev.IsProgress() || ev.Index < 0 || ev.Index >= len(localToGlobal) {
			return
		}

		out := models.UpdateEvent[T]{Index: localToGlobal[ev.Index], Old: ev.Old}

		if ev.Update != nil {
			v := apply(*ev.Update)
			out.Update = &v
		}

		sink.Update(out)
	})
	defer sub.Dispose()

	for {
		item, ok := src.it.Next(ctx)
		if !ok {
			break
		}

		yieldMu.Lock()
		idx := *count

		if !sink.Yield(apply(item)) {
			yieldMu.Unlock()

			return
		}

		*count++
		yieldMu.Unlock()

		localToGlobal = append(localToGlobal, idx)
	}

	if err := src.it.Err(); err != nil {
		log.Error().Str("source", src.name).Err(err).Msg("Locator failed during iteration")
	}
}

// Locators merges a fixed set of locators into one.
type Locators struct {
	Base

	name     string
	locators []Locator
	subs     events.Disposables
	log      logger.Logger
}

var _ Locator = (*Locators)(nil)

// NewLocators composes locators. Their change events are re-fired by the composite.
func NewLocators(name string, log logger.Logger, locators ...Locator) *Locators {
	l := &Locators{
		Base:     NewBase(),
		name:     name,
		locators: locators,
		log:      logger.Component(log, name),
	}

	for _, child := range locators {
		l.subs.Add(child.OnChanged().Subscribe(l.FireChanged))
	}

	return l
}

// Name implements Locator.
func (l *Locators) Name() string {
	return l.name
}

// Children returns the composed locators.
func (l *Locators) Children() []Locator {
	return append([]Locator(nil), l.locators...)
}

// IterEnvs implements Locator.
func (l *Locators) IterEnvs(query *models.Query) *Iterator[models.BasicEnv] {
	return combine(l.log, func() []source[models.BasicEnv] {
		sources := make([]source[models.BasicEnv], 0, len(l.locators))
		for _, child := range l.locators {
			if it := l.open(child, query); it != nil {
				sources = append(sources, source[models.BasicEnv]{name: child.Name(), it: it})
			}
		}

		return sources
	})
}

func (l *Locators) open(child Locator, query *models.Query) (it *Iterator[models.BasicEnv]) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Str("source", child.Name()).Interface("panic", r).Msg("Locator failed to start")

			it = nil
		}
	}()

	return child.IterEnvs(query)
}

// Dispose releases every child.
func (l *Locators) Dispose() {
	l.subs.Dispose()

	for _, child := range l.locators {
		child.Dispose()
	}

	l.Base.Dispose()
}
