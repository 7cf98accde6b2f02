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
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

const condaBaseName = "base"

func isCondaPrefix(prefix string) bool {
	return isDir(filepath.Join(prefix, "conda-meta"))
}

// condaPrefixFromTool maps the condaPath setting, which may name the conda
// executable or an installation directory, to an installation prefix.
func condaPrefixFromTool(tool string) string {
	tool = expandHome(tool)
	if tool == "" {
		return ""
	}

	if isDir(tool) {
		return tool
	}

	dir := filepath.Dir(tool)

	switch strings.ToLower(filepath.Base(dir)) {
	case "bin", "scripts", "condabin", "library":
		return filepath.Dir(dir)
	default:
		return dir
	}
}

// CondaInstallDirs lists the candidate conda installation prefixes.
func CondaInstallDirs(settings config.Settings) []string {
	dirs := []string{
		condaPrefixFromTool(settings.CondaPath),
		os.Getenv("CONDA_ROOT"),
		condaPrefixFromTool(os.Getenv("CONDA_EXE")),
	}

	if home := homeDir(); home != "" {
		for _, name := range []string{"anaconda3", "miniconda3", "miniforge3", "mambaforge", "micromamba", "anaconda", "miniconda"} {
			dirs = append(dirs, filepath.Join(home, name))
		}
	}

	if isWindows() {
		for _, env := range []string{"ProgramData", "LOCALAPPDATA"} {
			if base := os.Getenv(env); base != "" {
				dirs = append(dirs, filepath.Join(base, "Anaconda3"), filepath.Join(base, "Miniconda3"))
			}
		}
	} else {
		dirs = append(dirs, "/opt/conda", "/opt/anaconda3", "/opt/miniconda3", "/usr/local/anaconda3", "/usr/local/miniconda3")
	}

	return uniqueDirs(dirs)
}

func condaEnvironmentsFile() string {
	home := homeDir()
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".conda", "environments.txt")
}

// readEnvironmentsFile lists the prefixes recorded by conda itself.
func readEnvironmentsFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var out []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		out = append(out, line)
	}

	return out
}

// condaPrefixes returns every known conda environment prefix and whether it
// is an installation's base environment.
func condaPrefixes(settings config.Settings) ([]string, map[string]bool) {
	var (
		prefixes []string
		bases    = make(map[string]bool)
	)

	for _, install := range existingDirs(CondaInstallDirs(settings)) {
		if isCondaPrefix(install) {
			prefixes = append(prefixes, install)
			bases[pathutil.NormCase(install)] = true
		}

		prefixes = append(prefixes, subdirs(filepath.Join(install, "envs"))...)
	}

	if home := homeDir(); home != "" {
		prefixes = append(prefixes, subdirs(filepath.Join(home, ".conda", "envs"))...)
	}

	prefixes = append(prefixes, readEnvironmentsFile(condaEnvironmentsFile())...)

	return uniqueDirs(prefixes), bases
}

// NewCondaLocator finds conda environments: installation base environments,
// their envs directories and the prefixes listed in environments.txt.
func NewCondaLocator(settings config.Settings, log logger.Logger) locator.Locator {
	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		prefixes, bases := condaPrefixes(settings)

		var envs []models.BasicEnv

		for _, prefix := range prefixes {
			if !isCondaPrefix(prefix) {
				continue
			}

			exe, ok := envInterpreter(prefix)
			if !ok {
				// Environments without python are still conda environments,
				// but there is nothing to resolve.
				continue
			}

			name := filepath.Base(prefix)
			if bases[pathutil.NormCase(prefix)] {
				name = condaBaseName
			}

			envs = append(envs, models.BasicEnv{
				Executable: exe,
				Kind:       models.KindConda,
				Sources:    []models.Source{models.SourceConda},
				Hints:      map[string]string{"name": name, "prefix": prefix},
			})
		}

		return yieldAll(ctx, envs, yield)
	}

	watches := func() []watchSpec {
		var specs []watchSpec

		if f := condaEnvironmentsFile(); f != "" {
			specs = append(specs, watchSpec{dir: filepath.Dir(f), pattern: filepath.Base(f)})
		}

		for _, install := range existingDirs(CondaInstallDirs(settings)) {
			specs = append(specs, watchSpec{dir: install, pattern: "envs/*"})
		}

		return specs
	}

	l := newFSLocator(SourceConda, log, find, watches)
	l.kind = models.KindConda

	return l
}
