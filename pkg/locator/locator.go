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

//go:generate mockgen -destination=mock_locator.go -package=locator github.com/carverauto/envradar/pkg/locator Locator,ResolvingLocator

// Package locator composes source locators into the discovery pipeline:
// fan-in of many sources, per-root sources, deduplication and resolution.
package locator

import (
	"context"

	"github.com/carverauto/envradar/pkg/events"
	"github.com/carverauto/envradar/pkg/models"
)

// Locator yields raw findings and reports when its view of the world changes.
type Locator interface {
	// Name identifies the locator in logs.
	Name() string
	IterEnvs(query *models.Query) *Iterator[models.BasicEnv]
	OnChanged() events.Event[models.ChangeEvent]
	// Dispose releases watchers and other resources held by the locator.
	Dispose()
}

// ResolvingLocator yields fully resolved environments.
type ResolvingLocator interface {
	IterEnvs(query *models.Query) *Iterator[models.ResolvedEnv]
	// ResolveEnv resolves a single executable. It returns nil without error
	// when the path cannot be resolved.
	ResolveEnv(ctx context.Context, path string) (*models.ResolvedEnv, error)
	OnChanged() events.Event[models.ChangeEvent]
}

// RootsProvider supplies the workspace roots and reports changes to them.
type RootsProvider interface {
	Roots() []string
	OnDidChange() events.Event[models.RootsChangeEvent]
}

// Base carries the change emitter shared by most locator implementations.
type Base struct {
	changed *events.Emitter[models.ChangeEvent]
}

// NewBase returns a Base with a fresh emitter.
func NewBase() Base {
	return Base{changed: events.NewEmitter[models.ChangeEvent]()}
}

// OnChanged implements Locator.
func (b *Base) OnChanged() events.Event[models.ChangeEvent] {
	return b.changed
}

// FireChanged notifies listeners.
func (b *Base) FireChanged(e models.ChangeEvent) {
	b.changed.Fire(e)
}

// Dispose drops all listeners.
func (b *Base) Dispose() {
	b.changed.Dispose()
}
