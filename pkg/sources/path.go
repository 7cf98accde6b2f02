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
	"runtime"
	"strings"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// posixKnownDirs are searched even when missing from PATH.
//
//nolint:gochecknoglobals // lookup table
var posixKnownDirs = []string{"/bin", "/usr/bin", "/usr/local/bin", "/opt/homebrew/bin"}

// SearchPathDirs returns the PATH entries worth scanning. pyenv shims and
// the Microsoft Store alias directory are left to their own locators.
func SearchPathDirs() []string {
	dirs := filepath.SplitList(os.Getenv("PATH"))

	if runtime.GOOS != "windows" {
		dirs = append(dirs, posixKnownDirs...)
	}

	var shims string
	if root := envinfo.PyenvRoot(); root != "" {
		shims = filepath.Join(root, "shims")
	}

	var out []string

	for _, d := range uniqueDirs(dirs) {
		if shims != "" && pathutil.ArePathsSame(d, shims) {
			continue
		}

		if strings.Contains(strings.ToLower(filepath.ToSlash(d)), "/microsoft/windowsapps") {
			continue
		}

		out = append(out, d)
	}

	return out
}

func globalKind(executable string) models.EnvKind {
	kind := envinfo.IdentifyKind(executable)
	if kind == models.KindUnknown {
		return models.KindOtherGlobal
	}

	return kind
}

// NewPathLocator reports every interpreter found in the directories of
// SearchPathDirs. PATH is read at iteration time.
func NewPathLocator(log logger.Logger) locator.Locator {
	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		for _, dir := range SearchPathDirs() {
			if err := ctx.Err(); err != nil {
				return err
			}

			for _, exe := range interpretersIn(dir) {
				if !yield(models.BasicEnv{
					Executable: exe,
					Kind:       globalKind(exe),
					Sources:    []models.Source{models.SourcePathEnvVar},
				}) {
					return nil
				}
			}
		}

		return nil
	}

	return newFSLocator(SourcePath, log, find, nil)
}
