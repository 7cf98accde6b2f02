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

package watch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/watch"
)

func TestWatchLocationForPattern(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "env1", "bin"), 0o755))

	changes := make(chan watch.FileChange, 16)

	d := watch.WatchLocationForPattern(base, "*/bin/python*", func(c watch.FileChange) {
		changes <- c
	}, logger.NewTestLogger())
	defer d.Dispose()

	require.NotEqual(t, events.Nop, d)

	// Not matching the pattern.
	require.NoError(t, os.WriteFile(filepath.Join(base, "env1", "README"), nil, 0o600))

	exe := filepath.Join(base, "env1", "bin", "python3")
	require.NoError(t, os.WriteFile(exe, nil, 0o600))

	select {
	case c := <-changes:
		assert.Equal(t, watch.Created, c.Type)
		assert.Equal(t, exe, c.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}

	require.NoError(t, os.Remove(exe))

	require.Eventually(t, func() bool {
		for {
			select {
			case c := <-changes:
				if c.Type == watch.Deleted && c.Path == exe {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchPicksUpNewDirectories(t *testing.T) {
	base := t.TempDir()
	changes := make(chan watch.FileChange, 16)

	d := watch.WatchLocationForPattern(base, "**/pyvenv.cfg", func(c watch.FileChange) {
		changes <- c
	}, logger.NewTestLogger())
	defer d.Dispose()

	dir := filepath.Join(base, "proj", ".venv")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	// Give the watcher a moment to register the new directories.
	time.Sleep(100 * time.Millisecond)

	cfg := filepath.Join(dir, "pyvenv.cfg")
	require.NoError(t, os.WriteFile(cfg, []byte("home = /usr/bin\n"), 0o600))

	require.Eventually(t, func() bool {
		for {
			select {
			case c := <-changes:
				if c.Path == cfg {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchMissingBaseIsNoop(t *testing.T) {
	d := watch.WatchLocationForPattern(filepath.Join(t.TempDir(), "missing"), "*", func(watch.FileChange) {
		t.Fatal("unexpected callback")
	}, logger.NewTestLogger())

	assert.Equal(t, events.Nop, d)
	d.Dispose()
}
