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

	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// workspaceSearchDepth is how many directory levels below a root are
// searched for environments.
const workspaceSearchDepth = 2

//nolint:gochecknoglobals // lookup table
var skippedWorkspaceDirs = map[string]bool{".git": true, "node_modules": true, "__pycache__": true}

func isVirtualEnvPrefix(prefix string) bool {
	return isFile(filepath.Join(prefix, "pyvenv.cfg")) ||
		isFile(filepath.Join(prefix, binDir(), "activate")) ||
		isFile(filepath.Join(prefix, binDir(), "activate.bat"))
}

// workspaceEnvPrefixes lists the virtual environments at most
// workspaceSearchDepth levels below root, including root itself.
func workspaceEnvPrefixes(ctx context.Context, root string) []string {
	var out []string

	level := []string{root}

	for depth := 0; depth <= workspaceSearchDepth && len(level) > 0; depth++ {
		var next []string

		for _, dir := range level {
			if ctx.Err() != nil {
				return out
			}

			if isVirtualEnvPrefix(dir) {
				out = append(out, dir)

				// Environments do not nest.
				continue
			}

			for _, sub := range subdirs(dir) {
				if !skippedWorkspaceDirs[filepath.Base(sub)] {
					next = append(next, sub)
				}
			}
		}

		level = next
	}

	return out
}

// NewWorkspaceVirtualEnvLocator finds virtual environments inside a
// project root. Findings carry the root as their search location.
func NewWorkspaceVirtualEnvLocator(root string, log logger.Logger) locator.Locator {
	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		var envs []models.BasicEnv

		for _, prefix := range workspaceEnvPrefixes(ctx, root) {
			exe, ok := envInterpreter(prefix)
			if !ok {
				continue
			}

			envs = append(envs, models.BasicEnv{
				Executable:     exe,
				Kind:           virtualEnvKind(exe),
				Sources:        []models.Source{models.SourceWorkspace},
				SearchLocation: root,
			})
		}

		return yieldAll(ctx, envs, yield)
	}

	watches := func() []watchSpec {
		return []watchSpec{{dir: root, pattern: "{*,*/*}/" + binDir() + "/" + interpreterGlob()}}
	}

	l := newFSLocator(SourceWorkspaceVirtualEnv, log, find, watches)
	l.root = root

	return l
}
