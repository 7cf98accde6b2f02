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
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/carverauto/envradar/pkg/kv"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// SnapshotKey is the store key holding the persisted collection.
const SnapshotKey = "ENVRADAR_ENV_INFO_CACHE"

// SnapshotStore persists the whole collection.
type SnapshotStore interface {
	Load(ctx context.Context) []models.ResolvedEnv
	Store(ctx context.Context, envs []models.ResolvedEnv) error
}

// storedEnv is the persisted form of a record. The search location is kept
// raw so older encodings can still be read.
type storedEnv struct {
	models.ResolvedEnv
	SearchLocation json.RawMessage `json:"search_location,omitempty"`
}

type legacyLocation struct {
	Scheme string `json:"scheme"`
	Path   string `json:"path"`
	FSPath string `json:"fsPath"`
}

type persistentSnapshot struct {
	state *kv.PersistentState[[]storedEnv]
	log   logger.Logger
}

// NewPersistentSnapshot stores the collection under SnapshotKey in store.
func NewPersistentSnapshot(store kv.KVStore, log logger.Logger) SnapshotStore {
	return &persistentSnapshot{
		state: kv.NewPersistentState[[]storedEnv](store, SnapshotKey, nil, log),
		log:   logger.Component(log, "snapshot"),
	}
}

func (p *persistentSnapshot) Load(ctx context.Context) []models.ResolvedEnv {
	stored := p.state.Get(ctx)
	out := make([]models.ResolvedEnv, 0, len(stored))

	for _, s := range stored {
		env := s.ResolvedEnv
		env.SearchLocation = p.decodeLocation(env.Executable, s.SearchLocation)

		if env.Executable == "" {
			continue
		}

		out = append(out, env)
	}

	return out
}

func (p *persistentSnapshot) Store(ctx context.Context, envs []models.ResolvedEnv) error {
	stored := make([]storedEnv, 0, len(envs))

	for _, env := range envs {
		s := storedEnv{ResolvedEnv: env}

		if env.SearchLocation != "" {
			raw, err := json.Marshal(env.SearchLocation)
			if err != nil {
				return err
			}

			s.SearchLocation = raw
		}

		stored = append(stored, s)
	}

	return p.state.Set(ctx, stored)
}

// decodeLocation accepts a plain string or a {scheme, path} object; anything
// else is logged and dropped.
func (p *persistentSnapshot) decodeLocation(executable string, raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var loc legacyLocation
	if err := json.Unmarshal(raw, &loc); err == nil {
		switch {
		case loc.FSPath != "":
			return filepath.FromSlash(loc.FSPath)
		case loc.Path != "" && (loc.Scheme == "" || loc.Scheme == "file"):
			return filepath.FromSlash(loc.Path)
		}
	}

	p.log.Warn().
		Str("path", executable).
		RawJSON("search_location", raw).
		Msg("Unexpected search location")

	return ""
}

// memorySnapshot keeps the collection in memory only.
type memorySnapshot struct {
	mu   sync.Mutex
	envs []models.ResolvedEnv
}

// NewMemorySnapshot returns a SnapshotStore seeded with envs.
func NewMemorySnapshot(envs ...models.ResolvedEnv) SnapshotStore {
	return &memorySnapshot{envs: envs}
}

func (m *memorySnapshot) Load(context.Context) []models.ResolvedEnv {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.ResolvedEnv(nil), m.envs...)
}

func (m *memorySnapshot) Store(_ context.Context, envs []models.ResolvedEnv) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.envs = append([]models.ResolvedEnv(nil), envs...)

	return nil
}
