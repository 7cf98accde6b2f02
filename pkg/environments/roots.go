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

package environments

import (
	"path/filepath"
	"sync"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/models"
)

// StaticRoots is a root set changed only by Set.
type StaticRoots struct {
	mu      sync.Mutex
	roots   []string
	changed *events.Emitter[models.RootsChangeEvent]
}

var _ locator.RootsProvider = (*StaticRoots)(nil)

// NewStaticRoots starts with roots. Duplicates are dropped.
func NewStaticRoots(roots ...string) *StaticRoots {
	return &StaticRoots{
		roots:   normalizeRoots(roots),
		changed: events.NewEmitter[models.RootsChangeEvent](),
	}
}

func normalizeRoots(roots []string) []string {
	seen := make(map[string]bool, len(roots))
	out := make([]string, 0, len(roots))

	for _, root := range roots {
		if root == "" {
			continue
		}

		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}

		key := pathutil.NormCase(root)
		if seen[key] {
			continue
		}

		seen[key] = true

		out = append(out, root)
	}

	return out
}

// Roots implements locator.RootsProvider.
func (s *StaticRoots) Roots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.roots...)
}

// OnDidChange implements locator.RootsProvider.
func (s *StaticRoots) OnDidChange() events.Event[models.RootsChangeEvent] {
	return s.changed
}

// Set replaces the root set and reports the difference, if any.
func (s *StaticRoots) Set(roots ...string) {
	next := normalizeRoots(roots)

	s.mu.Lock()

	prev := make(map[string]bool, len(s.roots))
	for _, root := range s.roots {
		prev[pathutil.NormCase(root)] = true
	}

	var e models.RootsChangeEvent

	for _, root := range next {
		key := pathutil.NormCase(root)
		if prev[key] {
			delete(prev, key)

			continue
		}

		e.Added = append(e.Added, root)
	}

	for _, root := range s.roots {
		if prev[pathutil.NormCase(root)] {
			e.Removed = append(e.Removed, root)
		}
	}

	s.roots = next
	s.mu.Unlock()

	if len(e.Added) > 0 || len(e.Removed) > 0 {
		s.changed.Fire(e)
	}
}

// Dispose drops every listener.
func (s *StaticRoots) Dispose() {
	s.changed.Dispose()
}
