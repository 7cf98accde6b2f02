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
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows/registry"

	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

const pythonRegistryPath = `SOFTWARE\Python`

// registryHive is a hive plus the view to open it with.
type registryHive struct {
	key    registry.Key
	access uint32
}

//nolint:gochecknoglobals // lookup table
var registryHives = []registryHive{
	{key: registry.CURRENT_USER, access: registry.READ},
	{key: registry.LOCAL_MACHINE, access: registry.READ | registry.WOW64_64KEY},
	{key: registry.LOCAL_MACHINE, access: registry.READ | registry.WOW64_32KEY},
}

// registryInstall is one PEP 514 registration.
type registryInstall struct {
	company    string
	tag        string
	executable string
}

func readRegistryInstalls(hive registryHive) []registryInstall {
	root, err := registry.OpenKey(hive.key, pythonRegistryPath, hive.access)
	if err != nil {
		return nil
	}
	defer func() { _ = root.Close() }()

	companies, err := root.ReadSubKeyNames(-1)
	if err != nil {
		return nil
	}

	var out []registryInstall

	for _, company := range companies {
		// The launcher registers itself here without an interpreter.
		if strings.EqualFold(company, "PyLauncher") {
			continue
		}

		out = append(out, readCompany(hive, company)...)
	}

	return out
}

func readCompany(hive registryHive, company string) []registryInstall {
	key, err := registry.OpenKey(hive.key, pythonRegistryPath+`\`+company, hive.access)
	if err != nil {
		return nil
	}
	defer func() { _ = key.Close() }()

	tags, err := key.ReadSubKeyNames(-1)
	if err != nil {
		return nil
	}

	var out []registryInstall

	for _, tag := range tags {
		if exe := readInstallPath(hive, company, tag); exe != "" {
			out = append(out, registryInstall{company: company, tag: tag, executable: exe})
		}
	}

	return out
}

func readInstallPath(hive registryHive, company, tag string) string {
	key, err := registry.OpenKey(hive.key, pythonRegistryPath+`\`+company+`\`+tag+`\InstallPath`, hive.access)
	if err != nil {
		return ""
	}
	defer func() { _ = key.Close() }()

	if exe, _, err := key.GetStringValue("ExecutablePath"); err == nil && exe != "" {
		return exe
	}

	if dir, _, err := key.GetStringValue(""); err == nil && dir != "" {
		return filepath.Join(dir, "python.exe")
	}

	return ""
}

func registryKind(company, executable string) models.EnvKind {
	if strings.Contains(strings.ToLower(company), "continuumanalytics") {
		return models.KindConda
	}

	return globalKind(executable)
}

// NewWindowsRegistryLocator finds interpreters registered under
// HKCU and HKLM SOFTWARE\Python.
func NewWindowsRegistryLocator(log logger.Logger) locator.Locator {
	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		var envs []models.BasicEnv

		for _, hive := range registryHives {
			for _, install := range readRegistryInstalls(hive) {
				if !isFile(install.executable) {
					continue
				}

				envs = append(envs, models.BasicEnv{
					Executable: install.executable,
					Kind:       registryKind(install.company, install.executable),
					Sources:    []models.Source{models.SourceWindowsRegistry},
					Hints:      map[string]string{"company": install.company, "tag": install.tag},
				})
			}
		}

		return yieldAll(ctx, envs, yield)
	}

	return newFSLocator(SourceWindowsRegistry, log, find, nil)
}
