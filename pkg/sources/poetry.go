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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

const (
	pyprojectFile = "pyproject.toml"
	// poetryNameLimit is how much of the project name poetry keeps in
	// environment directory names.
	poetryNameLimit = 42
)

var (
	nameSeparatorRe = regexp.MustCompile(`[-_.]+`)
	unsafeNameRe    = regexp.MustCompile("[ $`!*@\"\\\\\r\n\t]")
)

// pyproject holds the parts of pyproject.toml that identify a poetry project.
type pyproject struct {
	Tool struct {
		Poetry map[string]interface{} `toml:"poetry"`
	} `toml:"tool"`
	Project struct {
		Name string `toml:"name"`
	} `toml:"project"`
}

// PoetryProject describes a root managed by poetry.
type PoetryProject struct {
	Name string
}

// ReadPoetryProject parses root/pyproject.toml. It returns nil when the root
// is not a poetry project.
func ReadPoetryProject(root string) (*PoetryProject, error) {
	data, err := os.ReadFile(filepath.Join(root, pyprojectFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	var doc pyproject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", pyprojectFile, err)
	}

	if doc.Tool.Poetry == nil {
		return nil, nil
	}

	name, _ := doc.Tool.Poetry["name"].(string)
	if name == "" {
		name = doc.Project.Name
	}

	if name == "" {
		name = filepath.Base(root)
	}

	return &PoetryProject{Name: name}, nil
}

// EnvPrefix is the start of the directory names poetry gives this
// project's environments in its cache.
func (p *PoetryProject) EnvPrefix() string {
	name := nameSeparatorRe.ReplaceAllString(strings.ToLower(p.Name), "-")
	name = unsafeNameRe.ReplaceAllString(name, "_")

	if len(name) > poetryNameLimit {
		name = name[:poetryNameLimit]
	}

	return name + "-"
}

// PoetryVirtualEnvsDir is where poetry keeps environments that are not
// created inside the project.
func PoetryVirtualEnvsDir() string {
	if dir := os.Getenv("POETRY_VIRTUALENVS_PATH"); dir != "" {
		return dir
	}

	if dir := os.Getenv("POETRY_CACHE_DIR"); dir != "" {
		return filepath.Join(dir, "virtualenvs")
	}

	home := homeDir()

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "pypoetry", "Cache", "virtualenvs")
	case "darwin":
		if home == "" {
			return ""
		}

		return filepath.Join(home, "Library", "Caches", "pypoetry", "virtualenvs")
	default:
		if cache := os.Getenv("XDG_CACHE_HOME"); cache != "" {
			return filepath.Join(cache, "pypoetry", "virtualenvs")
		}

		if home == "" {
			return ""
		}

		return filepath.Join(home, ".cache", "pypoetry", "virtualenvs")
	}
}

// ParsePoetryEnvList extracts environment directories from
// `poetry env list --full-path`.
func ParsePoetryEnvList(out []byte) []string {
	var dirs []string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimSpace(strings.TrimSuffix(line, "(Activated)"))

		if line != "" {
			dirs = append(dirs, line)
		}
	}

	return dirs
}

// NewPoetryLocator finds the environments of a poetry-managed root: the
// in-project .venv, and either the environments listed by the poetry CLI
// (when poetryPath is set) or the matching entries of poetry's cache.
func NewPoetryLocator(root string, settings config.Settings, log logger.Logger) locator.Locator {
	var l *fsLocator

	find := func(ctx context.Context, yield func(models.BasicEnv) bool) error {
		project, err := ReadPoetryProject(root)
		if err != nil {
			l.log.Debug().Err(err).Str("root", root).Msg("Skipping unreadable project file")

			return nil
		}

		if project == nil {
			return nil
		}

		prefixes := []string{filepath.Join(root, ".venv")}

		if out, err := runTool(ctx, expandHome(settings.PoetryPath), root, "env", "list", "--full-path"); err == nil {
			prefixes = append(prefixes, ParsePoetryEnvList(out)...)
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			prefixes = append(prefixes, cachedPoetryEnvs(project)...)
		}

		var envs []models.BasicEnv

		for _, prefix := range uniqueDirs(prefixes) {
			exe, ok := envInterpreter(prefix)
			if !ok {
				continue
			}

			envs = append(envs, models.BasicEnv{
				Executable:     exe,
				Kind:           models.KindPoetry,
				Sources:        []models.Source{models.SourcePoetry},
				SearchLocation: root,
			})
		}

		return yieldAll(ctx, envs, yield)
	}

	watches := func() []watchSpec {
		return []watchSpec{
			{dir: root, pattern: pyprojectFile},
			{dir: root, pattern: ".venv/" + binDir() + "/" + interpreterGlob()},
		}
	}

	l = newFSLocator(SourcePoetry, log, find, watches)
	l.root = root
	l.kind = models.KindPoetry

	return l
}

func cachedPoetryEnvs(project *PoetryProject) []string {
	dir := PoetryVirtualEnvsDir()
	if dir == "" {
		return nil
	}

	prefix := project.EnvPrefix()

	var out []string

	for _, sub := range subdirs(dir) {
		base := filepath.Base(sub)
		if strings.HasPrefix(base, prefix) && strings.Contains(base[len(prefix):], "-py") {
			out = append(out, sub)
		}
	}

	return out
}
