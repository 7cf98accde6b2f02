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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// ActiveStateProject is one entry of `state projects -o editor`.
type ActiveStateProject struct {
	Name           string   `json:"name"`
	Organization   string   `json:"organization"`
	LocalCheckouts []string `json:"local_checkouts"`
	Executables    []string `json:"executables"`
}

// ActiveStateTool returns the state tool to query: the activeStateToolPath
// setting, or the tool at its default install location when present.
func ActiveStateTool(settings config.Settings) string {
	if p := expandHome(settings.ActiveStateToolPath); p != "" {
		return p
	}

	name := "state"
	if isWindows() {
		name = "state.exe"
	}

	var dir string

	if isWindows() {
		dir = filepath.Join(os.Getenv("LOCALAPPDATA"), "ActiveState", "StateTool", "release", "bin")
	} else if home := homeDir(); home != "" {
		dir = filepath.Join(home, ".local", "ActiveState", "StateTool", "release", "bin")
	}

	if dir == "" || !isFile(filepath.Join(dir, name)) {
		return ""
	}

	return filepath.Join(dir, name)
}

// ParseActiveStateProjects decodes the state tool's project listing.
func ParseActiveStateProjects(data []byte) ([]ActiveStateProject, error) {
	var projects []ActiveStateProject
	if err := json.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("decode state projects: %w", err)
	}

	return projects, nil
}

// NewActiveStateLocator finds the runtimes of ActiveState projects known to
// the state tool.
func NewActiveStateLocator(settings config.Settings, log logger.Logger) locator.Locator {
	var l *fsLocator

	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		tool := ActiveStateTool(settings)
		if tool == "" {
			return nil
		}

		out, err := runTool(ctx, tool, "", "projects", "-o", "editor")
		if err != nil {
			l.log.Debug().Err(err).Msg("State tool unavailable")

			return nil
		}

		projects, err := ParseActiveStateProjects(out)
		if err != nil {
			l.log.Warn().Err(err).Msg("Unexpected state tool output")

			return nil
		}

		var envs []models.BasicEnv

		for _, p := range projects {
			for _, dir := range p.Executables {
				exes := interpretersIn(dir)
				if len(exes) == 0 {
					continue
				}

				envs = append(envs, models.BasicEnv{
					Executable: exes[0],
					Kind:       models.KindActiveState,
					Sources:    []models.Source{models.SourceActiveState},
					Hints:      map[string]string{"name": p.Name, "organization": p.Organization},
				})
			}
		}

		return yieldAll(ctx, envs, yield)
	}

	l = newFSLocator(SourceActiveState, log, find, nil)
	l.kind = models.KindActiveState

	return l
}
