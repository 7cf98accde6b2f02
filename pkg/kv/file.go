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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/carverauto/envradar/pkg/logger"
)

const (
	stateDirPerm  = 0o755
	stateFilePerm = 0o600
)

// FileStore keeps every key in a single JSON document on disk. Writes
// replace the file atomically.
type FileStore struct {
	path string
	log  logger.Logger

	mu      sync.Mutex
	data    map[string][]byte
	closed  bool
	watches *watchers
}

var _ KVStore = (*FileStore)(nil)

// NewFileStore opens path, creating its directory as needed. A missing file
// is an empty store; an unreadable one is logged and replaced on first write.
func NewFileStore(path string, log logger.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errPathRequired
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	f := &FileStore{
		path:    path,
		log:     logger.Component(log, "kv-file"),
		data:    make(map[string][]byte),
		watches: newWatchers(),
	}

	raw, err := os.ReadFile(path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	case len(bytes.TrimSpace(raw)) == 0:
	default:
		if err := json.Unmarshal(raw, &f.data); err != nil {
			f.log.Warn().Err(err).Str("path", path).Msg("Ignoring corrupt state file")

			f.data = make(map[string][]byte)
		}
	}

	return f, nil
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Get implements KVStore.
func (f *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, false, ErrClosed
	}

	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}

	return bytes.Clone(v), true, nil
}

// Put implements KVStore. ttl is ignored.
func (f *FileStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.PutMany(ctx, []KeyValueEntry{{Key: key, Value: value}}, ttl)
}

// PutMany implements KVStore. The entries land in one write.
func (f *FileStore) PutMany(_ context.Context, entries []KeyValueEntry, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	prev := make(map[string][]byte, len(entries))

	for _, e := range entries {
		if old, ok := f.data[e.Key]; ok {
			prev[e.Key] = old
		}

		f.data[e.Key] = bytes.Clone(e.Value)
	}

	if err := f.flushLocked(); err != nil {
		for _, e := range entries {
			if old, ok := prev[e.Key]; ok {
				f.data[e.Key] = old
			} else {
				delete(f.data, e.Key)
			}
		}

		return err
	}

	for _, e := range entries {
		f.watches.notify(e.Key, bytes.Clone(e.Value))
	}

	return nil
}

// Delete implements KVStore.
func (f *FileStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	old, ok := f.data[key]
	if !ok {
		return nil
	}

	delete(f.data, key)

	if err := f.flushLocked(); err != nil {
		f.data[key] = old

		return err
	}

	f.watches.notify(key, nil)

	return nil
}

// Watch implements KVStore. Only changes made through this store are seen.
func (f *FileStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}

	return f.watches.add(ctx, key), nil
}

// Close implements KVStore.
func (f *FileStore) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	f.watches.close()

	return nil
}

func (f *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".state-*")
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(raw)
	if err == nil {
		err = tmp.Chmod(stateFilePerm)
	}

	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Rename(tmpName, f.path)
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write state: %w", err)
	}

	return nil
}
