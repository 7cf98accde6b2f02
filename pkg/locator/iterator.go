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
	"fmt"
	"sync"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/models"
)

var errIteratorPanic = errors.New("iterator producer panicked")

// ProduceFunc fills an iterator through sink. It returns when it has
// nothing more to yield; work started with Sink.Go may continue after.
type ProduceFunc[T any] func(ctx context.Context, sink *Sink[T]) error

type envelope[T any] struct {
	item   T
	update *models.UpdateEvent[T]
}

// Iterator is a lazy, pull-driven sequence with a side channel of update
// events. Items and updates travel through one ordered stream, so an update
// for index i is always dispatched after item i has been returned by Next.
// Updates are dispatched to OnUpdated listeners from inside Next, on the
// consumer's goroutine.
type Iterator[T any] struct {
	produce   ProduceFunc[T]
	ctx       context.Context
	cancel    context.CancelFunc
	ch        chan envelope[T]
	onUpdated *events.Emitter[models.UpdateEvent[T]]

	startOnce sync.Once
	nextMu    sync.Mutex
	mu        sync.Mutex
	started   bool
	done      bool
	err       error
}

// NewIterator wraps produce. Nothing runs until the first call to Next.
func NewIterator[T any](produce ProduceFunc[T]) *Iterator[T] {
	ctx, cancel := context.WithCancel(context.Background())

	return &Iterator[T]{
		produce:   produce,
		ctx:       ctx,
		cancel:    cancel,
		ch:        make(chan envelope[T]),
		onUpdated: events.NewEmitter[models.UpdateEvent[T]](),
	}
}

// FromSlice returns an iterator over items.
func FromSlice[T any](items ...T) *Iterator[T] {
	return NewIterator(func(_ context.Context, sink *Sink[T]) error {
		for _, item := range items {
			if !sink.Yield(item) {
				return nil
			}
		}

		return nil
	})
}

// OnUpdated exposes update and progress events of this iterator.
func (it *Iterator[T]) OnUpdated() events.Event[models.UpdateEvent[T]] {
	return it.onUpdated
}

func (it *Iterator[T]) start() {
	it.startOnce.Do(func() {
		it.mu.Lock()
		if it.done {
			it.mu.Unlock()

			return
		}

		it.started = true
		it.mu.Unlock()

		go it.run(&Sink[T]{it: it, ctx: it.ctx})
	})
}

func (it *Iterator[T]) run(sink *Sink[T]) {
	defer close(it.ch)

	err := it.safeProduce(sink)

	sink.wg.Wait()

	if err == nil {
		err = sink.firstErr()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		it.mu.Lock()
		it.err = err
		it.mu.Unlock()
	}

	finished := models.ProgressEvent[T](models.StageDiscoveryFinished)
	sink.send(envelope[T]{update: &finished})
}

func (it *Iterator[T]) safeProduce(sink *Sink[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errIteratorPanic, r)
		}
	}()

	return it.produce(it.ctx, sink)
}

// Next returns the next item, dispatching any updates queued before it.
// It returns false once the sequence is exhausted and on every call after
// that, or when ctx is done.
func (it *Iterator[T]) Next(ctx context.Context) (T, bool) {
	var zero T

	it.nextMu.Lock()
	defer it.nextMu.Unlock()

	it.mu.Lock()
	done := it.done
	it.mu.Unlock()

	if done {
		return zero, false
	}

	it.start()

	for {
		select {
		case <-ctx.Done():
			return zero, false
		case env, ok := <-it.ch:
			if !ok {
				it.mu.Lock()
				it.done = true
				it.mu.Unlock()

				return zero, false
			}

			if env.update != nil {
				it.onUpdated.Fire(*env.update)

				continue
			}

			return env.item, true
		}
	}
}

// Close stops the producer and releases listeners. Next returns false afterwards.
func (it *Iterator[T]) Close() {
	it.cancel()

	it.mu.Lock()
	it.done = true
	started := it.started
	it.mu.Unlock()

	if !started {
		// Prevent a later start.
		it.startOnce.Do(func() {})
	}

	it.onUpdated.Dispose()
}

// Err reports a failure of the producer, if any.
func (it *Iterator[T]) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	return it.err
}

// Sink is the producer's handle on an iterator.
type Sink[T any] struct {
	it *Iterator[T]
	// ctx is the iterator's lifetime; cancelled by Close.
	ctx context.Context
	wg  sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Context is cancelled when the consumer closes the iterator.
func (s *Sink[T]) Context() context.Context {
	return s.ctx
}

// Yield hands item to the consumer, blocking until it is taken. It returns
// false when the iterator was closed.
func (s *Sink[T]) Yield(item T) bool {
	return s.send(envelope[T]{item: item})
}

// Update queues an update event behind every item yielded so far.
func (s *Sink[T]) Update(event models.UpdateEvent[T]) bool {
	return s.send(envelope[T]{update: &event})
}

// Go runs fn in the background. The sequence ends only after fn returns.
// A panic in fn is recovered and reported through Iterator.Err.
func (s *Sink[T]) Go(fn func(ctx context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.setErr(fmt.Errorf("%w: %v", errIteratorPanic, r))
			}
		}()

		fn(s.ctx)
	}()
}

func (s *Sink[T]) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if s.err == nil {
		s.err = err
	}
}

func (s *Sink[T]) firstErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	return s.err
}

func (s *Sink[T]) send(env envelope[T]) bool {
	select {
	case <-s.ctx.Done():
		return false
	case s.it.ch <- env:
		return true
	}
}

// Collect drains it, returning every item in order.
func Collect[T any](ctx context.Context, it *Iterator[T]) ([]T, error) {
	defer it.Close()

	var out []T

	for {
		item, ok := it.Next(ctx)
		if !ok {
			break
		}

		out = append(out, item)
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}

	return out, it.Err()
}
