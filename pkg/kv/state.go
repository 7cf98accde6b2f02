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
	"encoding/json"
	"fmt"

	"github.com/carverauto/envradar/pkg/logger"
)

// PersistentState is a typed value stored as JSON under one key.
type PersistentState[T any] struct {
	store KVStore
	key   string
	def   T
	log   logger.Logger
}

// NewPersistentState binds key in store. def is returned while nothing
// readable is stored.
func NewPersistentState[T any](store KVStore, key string, def T, log logger.Logger) *PersistentState[T] {
	return &PersistentState[T]{
		store: store,
		key:   key,
		def:   def,
		log:   logger.Component(log, "persistent-state"),
	}
}

// Key returns the storage key.
func (p *PersistentState[T]) Key() string {
	return p.key
}

// Get returns the stored value, or the default when the key is missing,
// unreadable or cannot be decoded.
func (p *PersistentState[T]) Get(ctx context.Context) T {
	raw, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		p.log.Warn().Err(err).Str("key", p.key).Msg("Failed to read persistent state")

		return p.def
	}

	if !ok {
		return p.def
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		p.log.Warn().Err(err).Str("key", p.key).Msg("Discarding undecodable persistent state")

		return p.def
	}

	return v
}

// Set stores v.
func (p *PersistentState[T]) Set(ctx context.Context, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", p.key, err)
	}

	if err := p.store.Put(ctx, p.key, raw, 0); err != nil {
		return fmt.Errorf("failed to store %s: %w", p.key, err)
	}

	return nil
}
