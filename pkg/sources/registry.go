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

package sources

import (
	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
)

// Source names used by the registries.
const (
	SourcePyenv            = "pyenv"
	SourceConda            = "conda"
	SourceActiveState      = "activestate"
	SourceGlobalVirtualEnv = "global-virtualenvs"
	SourceCustomVirtualEnv = "custom-virtualenvs"
	SourcePath             = "path"
	SourceWindowsRegistry  = "windows-registry"
	SourceMicrosoftStore   = "microsoft-store"

	SourceWorkspaceVirtualEnv = "workspace-virtualenvs"
	SourcePoetry              = "poetry"
)

// Factory creates a machine-wide locator.
type Factory func(settings config.Settings, log logger.Logger) locator.Locator

// RootFactory creates a locator for one project root.
type RootFactory func(root string, settings config.Settings, log logger.Logger) locator.Locator

// defaultRegistry holds the OS-independent machine-wide locators.
func defaultRegistry() map[string]Factory {
	registry := map[string]Factory{
		SourcePyenv: func(_ config.Settings, log logger.Logger) locator.Locator {
			return NewPyenvLocator(log)
		},
		SourceConda:       NewCondaLocator,
		SourceActiveState: NewActiveStateLocator,
		SourceGlobalVirtualEnv: func(_ config.Settings, log logger.Logger) locator.Locator {
			return NewGlobalVirtualEnvLocator(log)
		},
		SourceCustomVirtualEnv: NewCustomVirtualEnvLocator,
		SourcePath: func(_ config.Settings, log logger.Logger) locator.Locator {
			return NewPathLocator(log)
		},
	}

	for name, factory := range platformRegistry() {
		registry[name] = factory
	}

	return registry
}

func defaultRootRegistry() map[string]RootFactory {
	return map[string]RootFactory{
		SourceWorkspaceVirtualEnv: func(root string, _ config.Settings, log logger.Logger) locator.Locator {
			return NewWorkspaceVirtualEnvLocator(root, log)
		},
		SourcePoetry: NewPoetryLocator,
	}
}

// rootOrder lists the per-root locators in the order they are merged.
//
//nolint:gochecknoglobals // ordering table
var rootOrder = []string{SourceWorkspaceVirtualEnv, SourcePoetry}

// NonWorkspaceNames lists the machine-wide sources for this OS in merge order.
func NonWorkspaceNames() []string {
	return append([]string{
		SourcePyenv,
		SourceConda,
		SourceActiveState,
		SourceGlobalVirtualEnv,
		SourceCustomVirtualEnv,
	}, platformOrder()...)
}

// NonWorkspace creates the machine-wide locators, leaving out the named
// sources.
func NonWorkspace(settings config.Settings, log logger.Logger, exclude ...string) []locator.Locator {
	registry := defaultRegistry()
	skip := make(map[string]bool, len(exclude))

	for _, name := range exclude {
		skip[name] = true
	}

	var out []locator.Locator

	for _, name := range NonWorkspaceNames() {
		factory, ok := registry[name]
		if !ok {
			logger.Component(log, "sources").Warn().Str("source", name).Msg("Unknown source type")

			continue
		}

		if skip[name] {
			continue
		}

		out = append(out, factory(settings, log))
	}

	return out
}

// WorkspaceFactory returns the per-root locator factory used by
// locator.WorkspaceLocators.
func WorkspaceFactory(settings config.Settings, log logger.Logger) locator.Factory {
	registry := defaultRootRegistry()

	return func(root string) []locator.Locator {
		out := make([]locator.Locator, 0, len(rootOrder))

		for _, name := range rootOrder {
			out = append(out, registry[name](root, settings, log))
		}

		return out
	}
}
