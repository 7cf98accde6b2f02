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

//go:build windows

package sources

import (
	"context"
	"os"
	"path/filepath"
	"regexp"

	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

// storeAliasRe matches the versioned aliases the Store installs, such as
// python3.12.exe.
var storeAliasRe = regexp.MustCompile(`(?i)^python3\.\d+\.exe$`)

func windowsAppsDir() string {
	local := os.Getenv("LOCALAPPDATA")
	if local == "" {
		return ""
	}

	return filepath.Join(local, "Microsoft", "WindowsApps")
}

// NewMicrosoftStoreLocator finds interpreters installed from the Microsoft
// Store through their app execution aliases.
func NewMicrosoftStoreLocator(log logger.Logger) locator.Locator {
	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		dir := windowsAppsDir()
		if dir == "" {
			return nil
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}

		var envs []models.BasicEnv

		for _, e := range entries {
			if !storeAliasRe.MatchString(e.Name()) {
				continue
			}

			envs = append(envs, models.BasicEnv{
				Executable: filepath.Join(dir, e.Name()),
				Kind:       models.KindMicrosoftStore,
				Sources:    []models.Source{models.SourceMicrosoftStore},
			})
		}

		return yieldAll(ctx, envs, yield)
	}

	watches := func() []watchSpec {
		if dir := windowsAppsDir(); dir != "" {
			return []watchSpec{{dir: dir, pattern: "python3.*.exe"}}
		}

		return nil
	}

	l := newFSLocator(SourceMicrosoftStore, log, find, watches)
	l.kind = models.KindMicrosoftStore

	return l
}
