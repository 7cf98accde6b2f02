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
	"path/filepath"

	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

func pyenvVersionsDir() string {
	root := envinfo.PyenvRoot()
	if root == "" {
		return ""
	}

	return filepath.Join(root, "versions")
}

// NewPyenvLocator finds the interpreters installed by pyenv. Virtual
// environments created by pyenv-virtualenv under a version's envs directory
// are reported too, with their own kind.
func NewPyenvLocator(log logger.Logger) locator.Locator {
	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		versions := pyenvVersionsDir()
		if versions == "" || !isDir(versions) {
			return nil
		}

		var envs []models.BasicEnv

		for _, prefix := range subdirs(versions) {
			if exe, ok := envInterpreter(prefix); ok {
				envs = append(envs, models.BasicEnv{
					Executable: exe,
					Kind:       models.KindPyenv,
					Sources:    []models.Source{models.SourcePyenv},
					Hints:      map[string]string{"name": filepath.Base(prefix)},
				})
			}

			for _, venv := range subdirs(filepath.Join(prefix, "envs")) {
				if exe, ok := envInterpreter(venv); ok {
					envs = append(envs, models.BasicEnv{
						Executable: exe,
						Kind:       virtualEnvKind(exe),
						Sources:    []models.Source{models.SourcePyenv},
					})
				}
			}
		}

		return yieldAll(ctx, envs, yield)
	}

	watches := func() []watchSpec {
		versions := pyenvVersionsDir()
		if versions == "" {
			return nil
		}

		return []watchSpec{{dir: versions, pattern: "*/" + binDir() + "/" + interpreterGlob()}}
	}

	l := newFSLocator(SourcePyenv, log, find, watches)
	l.kind = models.KindPyenv

	return l
}
