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
	"bytes"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	closed  bool
	watches *watchers
}

var _ KVStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), watches: newWatchers()}
}

// Get implements KVStore.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, ErrClosed
	}

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}

	return bytes.Clone(v), true, nil
}

// Put implements KVStore. ttl is ignored.
func (m *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.PutMany(ctx, []KeyValueEntry{{Key: key, Value: value}}, ttl)
}

// PutMany implements KVStore.
func (m *MemoryStore) PutMany(_ context.Context, entries []KeyValueEntry, _ time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return ErrClosed
	}

	for _, e := range entries {
		m.data[e.Key] = bytes.Clone(e.Value)
	}
	m.mu.Unlock()

	for _, e := range entries {
		m.watches.notify(e.Key, bytes.Clone(e.Value))
	}

	return nil
}

// Delete implements KVStore.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return ErrClosed
	}

	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()

	if existed {
		m.watches.notify(key, nil)
	}

	return nil
}

// Watch implements KVStore.
func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}

	return m.watches.add(ctx, key), nil
}

// Close implements KVStore.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.watches.close()

	return nil
}
