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
	"context"
	"os"
	"path/filepath"

	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// virtualEnvKind refines a virtual environment's kind from its markers.
func virtualEnvKind(executable string) models.EnvKind {
	kind := envinfo.IdentifyKind(executable)
	if kind == models.KindUnknown || kind == models.KindSystem {
		return models.KindOtherVirtual
	}

	return kind
}

// findInDirs reports the environments directly inside each of dirs.
func findInDirs(dirs func() []string, source models.Source) findFunc {
	return func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		for _, root := range existingDirs(dirs()) {
			for _, prefix := range subdirs(root) {
				if err := ctx.Err(); err != nil {
					return err
				}

				exe, ok := envInterpreter(prefix)
				if !ok {
					continue
				}

				if !yield(models.BasicEnv{
					Executable: exe,
					Kind:       virtualEnvKind(exe),
					Sources:    []models.Source{source},
				}) {
					return nil
				}
			}
		}

		return nil
	}
}

// watchEnvsIn watches for interpreters appearing in environments directly
// inside each of dirs.
func watchEnvsIn(dirs func() []string) func() []watchSpec {
	return func() []watchSpec {
		var specs []watchSpec

		for _, d := range existingDirs(dirs()) {
			specs = append(specs, watchSpec{dir: d, pattern: "*/" + binDir() + "/" + interpreterGlob()})
		}

		return specs
	}
}

// GlobalVirtualEnvDirs lists the conventional homes of virtual environments.
func GlobalVirtualEnvDirs() []string {
	home := homeDir()

	dirs := []string{envinfo.WorkonHome()}

	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, "envs"),
			filepath.Join(home, ".direnv"),
			filepath.Join(home, ".venvs"),
			filepath.Join(home, ".virtualenvs"),
			filepath.Join(home, "Envs"),
			filepath.Join(home, ".local", "share", "virtualenvs"),
		)
	}

	if pipenvHome := os.Getenv("PIPENV_VENV_HOME"); pipenvHome != "" {
		dirs = append(dirs, pipenvHome)
	}

	return uniqueDirs(dirs)
}

// NewGlobalVirtualEnvLocator finds environments in the directories of
// GlobalVirtualEnvDirs.
func NewGlobalVirtualEnvLocator(log logger.Logger) locator.Locator {
	return newFSLocator(SourceGlobalVirtualEnv, log,
		findInDirs(GlobalVirtualEnvDirs, models.SourceVirtualEnvDirs),
		watchEnvsIn(GlobalVirtualEnvDirs))
}

// CustomVirtualEnvDirs resolves the venvPath and venvFolders settings.
// Folders are relative to the home directory.
func CustomVirtualEnvDirs(settings config.Settings) []string {
	dirs := []string{expandHome(settings.VenvPath)}

	for _, f := range settings.VenvFolders {
		dirs = append(dirs, expandHome(f))
	}

	return uniqueDirs(dirs)
}

// NewCustomVirtualEnvLocator finds environments in the directories named by
// the venvPath and venvFolders settings.
func NewCustomVirtualEnvLocator(settings config.Settings, log logger.Logger) locator.Locator {
	dirs := func() []string { return CustomVirtualEnvDirs(settings) }

	return newFSLocator(SourceCustomVirtualEnv, log,
		findInDirs(dirs, models.SourceCustomDirs),
		watchEnvsIn(dirs))
}
