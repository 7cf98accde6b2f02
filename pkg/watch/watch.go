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

// Package watch delivers file change notifications for paths under a base
// directory that match a glob pattern.
package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
)

// ChangeType classifies a file change.
type ChangeType string

const (
	Created ChangeType = "created"
	Changed ChangeType = "changed"
	Deleted ChangeType = "deleted"
)

// FileChange is a single notification.
type FileChange struct {
	Type ChangeType
	// Path is absolute.
	Path string
}

var (
	errNotDirectory = errors.New("base is not a directory")
	errBadPattern   = errors.New("invalid watch pattern")
)

// directories never descended into.
var ignoredDirs = []string{".git", "node_modules", "__pycache__"}

type watcher struct {
	base    string
	pattern string
	// depth limits how deep directories are watched; -1 means unlimited.
	depth int
	fsw   *fsnotify.Watcher
	cb    func(FileChange)
	log   logger.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// WatchLocationForPattern calls cb for every change under baseDir whose
// path relative to baseDir matches pattern (doublestar syntax). When the
// watch cannot be established the failure is logged and a no-op Disposable
// is returned.
func WatchLocationForPattern(baseDir, pattern string, cb func(FileChange), log logger.Logger) events.Disposable {
	log = logger.Component(log, "watch")

	w, err := start(baseDir, pattern, cb, log)
	if err != nil {
		log.Debug().Err(err).Str("base", baseDir).Str("pattern", pattern).Msg("File watching unavailable")

		return events.Nop
	}

	return w
}

func start(baseDir, pattern string, cb func(FileChange), log logger.Logger) (*watcher, error) {
	pattern = filepath.ToSlash(pattern)
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", errBadPattern, pattern)
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", errNotDirectory, abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &watcher{
		base:    abs,
		pattern: pattern,
		depth:   patternDepth(pattern),
		fsw:     fsw,
		cb:      cb,
		log:     log,
		done:    make(chan struct{}),
	}

	if err := w.addTree(abs); err != nil {
		_ = fsw.Close()

		return nil, err
	}

	w.wg.Add(1)

	go w.loop()

	return w, nil
}

// patternDepth is the number of directory levels a pattern can reach below
// its base, or -1 when it contains "**".
func patternDepth(pattern string) int {
	if strings.Contains(pattern, "**") {
		return -1
	}

	return strings.Count(pattern, "/")
}

func (w *watcher) level(dir string) int {
	rel, err := filepath.Rel(w.base, dir)
	if err != nil || rel == "." {
		return 0
	}

	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func ignored(name string) bool {
	for _, d := range ignoredDirs {
		if name == d {
			return true
		}
	}

	return false
}

func (w *watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}

			return nil //nolint:nilerr // skip unreadable directories
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.base && ignored(d.Name()) {
			return filepath.SkipDir
		}

		lvl := w.level(path)
		if w.depth >= 0 && lvl > w.depth {
			return filepath.SkipDir
		}

		if err := w.fsw.Add(path); err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", path, err)
			}

			w.log.Debug().Err(err).Str("dir", path).Msg("Failed to watch directory")
		}

		return nil
	})
}

func (w *watcher) matches(path string) bool {
	rel, err := filepath.Rel(w.base, path)
	if err != nil {
		return false
	}

	ok, err := doublestar.Match(w.pattern, filepath.ToSlash(rel))

	return err == nil && ok
}

func classify(op fsnotify.Op) (ChangeType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return Deleted, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return Changed, true
	default:
		return "", false
	}
}

func (w *watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.log.Warn().Err(err).Str("base", w.base).Msg("File watcher error")
		}
	}
}

func (w *watcher) handle(evt fsnotify.Event) {
	typ, ok := classify(evt.Op)
	if !ok {
		return
	}

	if typ == Created {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() && !ignored(info.Name()) {
			if w.depth < 0 || w.level(evt.Name) <= w.depth {
				if err := w.addTree(evt.Name); err != nil {
					w.log.Debug().Err(err).Str("dir", evt.Name).Msg("Failed to watch new directory")
				}
			}
		}
	}

	if !w.matches(evt.Name) {
		return
	}

	w.safeCall(FileChange{Type: typ, Path: evt.Name})
}

func (w *watcher) safeCall(change FileChange) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("path", change.Path).Msg("File change listener failed")
		}
	}()

	w.cb(change)
}

// Dispose stops the watcher and waits for pending callbacks.
func (w *watcher) Dispose() {
	w.once.Do(func() {
		close(w.done)

		if err := w.fsw.Close(); err != nil {
			w.log.Debug().Err(err).Msg("Failed to close file watcher")
		}

		w.wg.Wait()
	})
}
