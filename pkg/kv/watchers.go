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

package kv

import (
	"context"
	"sync"
)

// watchers fans key changes out to Watch subscribers of the local stores.
type watchers struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
	done chan struct{}
}

func newWatchers() *watchers {
	return &watchers{subs: make(map[string]map[chan []byte]struct{}), done: make(chan struct{})}
}

func (w *watchers) add(ctx context.Context, key string) <-chan []byte {
	ch := make(chan []byte, 1)

	w.mu.Lock()
	select {
	case <-w.done:
		w.mu.Unlock()
		close(ch)

		return ch
	default:
	}

	if w.subs[key] == nil {
		w.subs[key] = make(map[chan []byte]struct{})
	}

	w.subs[key][ch] = struct{}{}
	w.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-w.done:
		}

		w.mu.Lock()
		defer w.mu.Unlock()

		if _, ok := w.subs[key][ch]; ok {
			delete(w.subs[key], ch)
			close(ch)
		}
	}()

	return ch
}

// notify delivers value to every watcher of key, replacing an undelivered
// older value so slow readers always see the latest state.
func (w *watchers) notify(key string, value []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for ch := range w.subs[key] {
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- value:
			default:
			}
		}
	}
}

func (w *watchers) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	close(w.done)

	for key, set := range w.subs {
		for ch := range set {
			close(ch)
		}

		delete(w.subs, key)
	}
}
