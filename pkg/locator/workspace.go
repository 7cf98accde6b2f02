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
	"sort"
	"sync"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// Factory creates the locators serving a single workspace root.
type Factory func(root string) []Locator

type rootEntry struct {
	root     string
	locators *Locators
	sub      events.Disposable
}

// WorkspaceLocators keeps one set of locators per workspace root. The set of
// live locators always matches the current root set.
type WorkspaceLocators struct {
	Base

	factory Factory
	log     logger.Logger

	mu       sync.Mutex
	roots    map[string]*rootEntry
	disposed bool
	watch    events.Disposables
}

var _ Locator = (*WorkspaceLocators)(nil)

// NewWorkspaceLocators returns an empty root set using factory for new roots.
func NewWorkspaceLocators(log logger.Logger, factory Factory) *WorkspaceLocators {
	return &WorkspaceLocators{
		Base:    NewBase(),
		factory: factory,
		log:     logger.Component(log, "workspace-locators"),
		roots:   make(map[string]*rootEntry),
	}
}

// Name implements Locator.
func (w *WorkspaceLocators) Name() string {
	return "workspace"
}

// Watch adds the provider's current roots and follows its changes.
func (w *WorkspaceLocators) Watch(provider RootsProvider) events.Disposable {
	for _, root := range provider.Roots() {
		w.AddRoot(root)
	}

	sub := provider.OnDidChange().Subscribe(w.OnDidChangeWorkspaceFolders)
	w.watch.Add(sub)

	return sub
}

// OnDidChangeWorkspaceFolders applies removals first, then additions.
func (w *WorkspaceLocators) OnDidChangeWorkspaceFolders(event models.RootsChangeEvent) {
	for _, root := range event.Removed {
		w.RemoveRoot(root)
	}

	for _, root := range event.Added {
		w.AddRoot(root)
	}
}

// AddRoot creates the locators for root, replacing any existing ones.
func (w *WorkspaceLocators) AddRoot(root string) {
	key := pathutil.NormCase(root)
	if key == "" {
		return
	}

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()

		return
	}

	old := w.roots[key]

	locators := NewLocators("root:"+root, w.log, w.factory(root)...)
	entry := &rootEntry{root: root, locators: locators}
	entry.sub = locators.OnChanged().Subscribe(func(e models.ChangeEvent) {
		if e.SearchLocation == "" {
			e.SearchLocation = root
		}

		w.FireChanged(e)
	})

	w.roots[key] = entry
	w.mu.Unlock()

	if old != nil {
		old.dispose()
	}

	w.log.Debug().Str("root", root).Msg("Workspace root added")
	w.FireChanged(models.ChangeEvent{SearchLocation: root})
}

// RemoveRoot disposes the locators for root.
func (w *WorkspaceLocators) RemoveRoot(root string) {
	key := pathutil.NormCase(root)

	w.mu.Lock()
	entry, ok := w.roots[key]
	if ok {
		delete(w.roots, key)
	}
	w.mu.Unlock()

	if !ok {
		return
	}

	entry.dispose()

	w.log.Debug().Str("root", root).Msg("Workspace root removed")
	w.FireChanged(models.ChangeEvent{SearchLocation: root})
}

// Roots lists the current roots in canonical order.
func (w *WorkspaceLocators) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, len(w.roots))
	for _, e := range w.roots {
		out = append(out, e.root)
	}

	sort.Strings(out)

	return out
}

// ActiveLocators lists every live per-root locator.
func (w *WorkspaceLocators) ActiveLocators() []Locator {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []Locator
	for _, e := range w.roots {
		out = append(out, e.locators.Children()...)
	}

	return out
}

func (w *WorkspaceLocators) selectRoots(query *models.Query) []*rootEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	keys := make([]string, 0, len(w.roots))
	for k := range w.roots {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var out []*rootEntry

	for _, k := range keys {
		e := w.roots[k]
		if query == nil || query.SearchLocations == nil || rootInScope(e.root, query.SearchLocations.Roots) {
			out = append(out, e)
		}
	}

	return out
}

func rootInScope(root string, queryRoots []string) bool {
	for _, q := range queryRoots {
		if pathutil.IsParentPath(root, q) || pathutil.IsParentPath(q, root) {
			return true
		}
	}

	return false
}

// IterEnvs implements Locator over the roots selected by query. Items
// without a search location are attributed to their root.
func (w *WorkspaceLocators) IterEnvs(query *models.Query) *Iterator[models.BasicEnv] {
	return combine(w.log, func() []source[models.BasicEnv] {
		entries := w.selectRoots(query)
		sources := make([]source[models.BasicEnv], 0, len(entries))

		for _, e := range entries {
			root := e.root
			sources = append(sources, source[models.BasicEnv]{
				name: e.locators.Name(),
				it:   e.locators.IterEnvs(query),
				transform: func(env models.BasicEnv) models.BasicEnv {
					if env.SearchLocation == "" {
						env.SearchLocation = root
					}

					return env
				},
			})
		}

		return sources
	})
}

// Dispose releases every root and stops following the roots provider.
func (w *WorkspaceLocators) Dispose() {
	w.watch.Dispose()

	w.mu.Lock()
	w.disposed = true
	entries := w.roots
	w.roots = make(map[string]*rootEntry)
	w.mu.Unlock()

	for _, e := range entries {
		e.dispose()
	}

	w.Base.Dispose()
}

func (e *rootEntry) dispose() {
	e.sub.Dispose()
	e.locators.Dispose()
}

// ExtensionLocators joins the workspace locators with the machine-wide ones.
type ExtensionLocators struct {
	Base

	nonWorkspace *Locators
	workspace    *WorkspaceLocators
	subs         events.Disposables
	log          logger.Logger
}

var _ Locator = (*ExtensionLocators)(nil)

// NewExtensionLocators composes the two halves of discovery.
func NewExtensionLocators(log logger.Logger, nonWorkspace []Locator, workspace *WorkspaceLocators) *ExtensionLocators {
	e := &ExtensionLocators{
		Base:         NewBase(),
		nonWorkspace: NewLocators("non-workspace", log, nonWorkspace...),
		workspace:    workspace,
		log:          logger.Component(log, "extension-locators"),
	}

	e.subs.Add(
		e.nonWorkspace.OnChanged().Subscribe(e.FireChanged),
		e.workspace.OnChanged().Subscribe(e.FireChanged),
	)

	return e
}

// Name implements Locator.
func (e *ExtensionLocators) Name() string {
	return "extension"
}

// Workspace returns the root-scoped half.
func (e *ExtensionLocators) Workspace() *WorkspaceLocators {
	return e.workspace
}

// IterEnvs skips the machine-wide locators when the query excludes
// non-rooted environments.
func (e *ExtensionLocators) IterEnvs(query *models.Query) *Iterator[models.BasicEnv] {
	return combine(e.log, func() []source[models.BasicEnv] {
		sources := []source[models.BasicEnv]{{name: e.workspace.Name(), it: e.workspace.IterEnvs(query)}}

		if query.IncludesNonRooted() {
			sources = append(sources, source[models.BasicEnv]{name: e.nonWorkspace.Name(), it: e.nonWorkspace.IterEnvs(query)})
		}

		return sources
	})
}

// Dispose releases both halves.
func (e *ExtensionLocators) Dispose() {
	e.subs.Dispose()
	e.nonWorkspace.Dispose()
	e.workspace.Dispose()
	e.Base.Dispose()
}
