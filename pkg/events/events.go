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

// Package events provides the typed publish/subscribe primitive shared by
// locators, the collection cache and the worker transport.
package events

import (
	"sync"
	"sync/atomic"
)

// Disposable releases a subscription or resource. Dispose must be safe to
// call more than once.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable.
type DisposableFunc func()

// Dispose calls f.
func (f DisposableFunc) Dispose() {
	if f != nil {
		f()
	}
}

type nop struct{}

func (nop) Dispose() {}

// Nop is a Disposable that does nothing.
var Nop Disposable = nop{}

// Event is the subscribe-only view of an Emitter.
type Event[T any] interface {
	Subscribe(listener func(T)) Disposable
}

type listener[T any] struct {
	fn      func(T)
	removed atomic.Bool
}

// Emitter delivers values to its listeners synchronously, in subscription order.
// The listener list is copy-on-write so Fire never holds the lock while
// calling out and a listener may (un)subscribe from inside a callback.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
	disposed  bool
}

// NewEmitter returns an emitter with no listeners.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Event returns the subscribe-only view of the emitter.
func (e *Emitter[T]) Event() Event[T] {
	return e
}

// Subscribe registers fn. The returned Disposable removes it; a listener
// removed while a Fire is in progress is not called for the rest of that Fire.
func (e *Emitter[T]) Subscribe(fn func(T)) Disposable {
	if fn == nil {
		return Nop
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disposed {
		return Nop
	}

	l := &listener[T]{fn: fn}

	next := make([]*listener[T], len(e.listeners), len(e.listeners)+1)
	copy(next, e.listeners)
	e.listeners = append(next, l)

	var once sync.Once

	return DisposableFunc(func() {
		once.Do(func() { e.remove(l) })
	})
}

func (e *Emitter[T]) remove(l *listener[T]) {
	l.removed.Store(true)

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, candidate := range e.listeners {
		if candidate != l {
			continue
		}

		if len(e.listeners) == 1 {
			e.listeners = nil

			return
		}

		next := make([]*listener[T], 0, len(e.listeners)-1)
		next = append(next, e.listeners[:i]...)
		e.listeners = append(next, e.listeners[i+1:]...)

		return
	}
}

// Fire calls every current listener with value.
func (e *Emitter[T]) Fire(value T) {
	e.mu.Lock()
	snapshot := e.listeners
	e.mu.Unlock()

	for _, l := range snapshot {
		if l.removed.Load() {
			continue
		}

		l.fn(value)
	}
}

// Size reports the number of live listeners.
func (e *Emitter[T]) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners)
}

// Dispose drops all listeners. Later subscriptions are ignored.
func (e *Emitter[T]) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.listeners {
		l.removed.Store(true)
	}

	e.listeners = nil
	e.disposed = true
}

// Once subscribes fn for the first value only.
func Once[T any](event Event[T], fn func(T)) Disposable {
	var (
		fired atomic.Bool
		mu    sync.Mutex
		sub   Disposable
		done  bool
	)

	d := event.Subscribe(func(v T) {
		if !fired.CompareAndSwap(false, true) {
			return
		}

		mu.Lock()
		s := sub
		done = true
		mu.Unlock()

		if s != nil {
			s.Dispose()
		}

		fn(v)
	})

	mu.Lock()
	sub = d
	alreadyFired := done
	mu.Unlock()

	if alreadyFired {
		d.Dispose()
	}

	return d
}

// Disposables disposes a group of resources once, newest first.
type Disposables struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// Add registers items. Items added after Dispose are disposed immediately.
func (d *Disposables) Add(items ...Disposable) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()

		for _, item := range items {
			if item != nil {
				item.Dispose()
			}
		}

		return
	}

	d.items = append(d.items, items...)
	d.mu.Unlock()
}

// Dispose releases everything registered so far.
func (d *Disposables) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()

		return
	}

	d.disposed = true
	items := d.items
	d.items = nil
	d.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		if items[i] != nil {
			items[i].Dispose()
		}
	}
}

// Combine returns a Disposable releasing all of items.
func Combine(items ...Disposable) Disposable {
	d := &Disposables{}
	d.Add(items...)

	return d
}
