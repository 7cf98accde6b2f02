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

package envinfo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/models"
)

// EnvPrefix returns the environment directory containing executable.
func EnvPrefix(executable string) string {
	dir := filepath.Dir(executable)

	switch strings.ToLower(filepath.Base(dir)) {
	case "bin", "scripts":
		return filepath.Dir(dir)
	default:
		return dir
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)

	return err == nil
}

func isDir(p string) bool {
	st, err := os.Stat(p)

	return err == nil && st.IsDir()
}

// PyenvRoot is the pyenv installation directory, honouring PYENV_ROOT.
func PyenvRoot() string {
	if root := os.Getenv("PYENV_ROOT"); root != "" {
		return root
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "windows" {
		return filepath.Join(home, ".pyenv", "pyenv-win")
	}

	return filepath.Join(home, ".pyenv")
}

// WorkonHome is the virtualenvwrapper home, honouring WORKON_HOME.
func WorkonHome() string {
	if dir := os.Getenv("WORKON_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".virtualenvs")
}

// IdentifyKind infers the environment kind from markers around executable.
func IdentifyKind(executable string) models.EnvKind {
	prefix := EnvPrefix(executable)
	lower := strings.ToLower(filepath.ToSlash(executable))

	switch {
	case isDir(filepath.Join(prefix, "conda-meta")):
		return models.KindConda
	case strings.Contains(lower, "/microsoft/windowsapps/"):
		return models.KindMicrosoftStore
	case PyenvRoot() != "" && pathutil.IsParentPath(executable, filepath.Join(PyenvRoot(), "versions")):
		return models.KindPyenv
	case exists(filepath.Join(prefix, "pyvenv.cfg")):
		switch {
		case exists(filepath.Join(prefix, ".project")):
			return models.KindPipenv
		case strings.Contains(lower, "pypoetry/virtualenvs") || strings.Contains(lower, "poetry/virtualenvs"):
			return models.KindPoetry
		case WorkonHome() != "" && pathutil.IsParentPath(prefix, WorkonHome()):
			return models.KindVirtualEnvWrapper
		default:
			return models.KindVenv
		}
	case exists(filepath.Join(filepath.Dir(executable), "activate")):
		return models.KindVirtualEnv
	case isSystemDir(filepath.Dir(executable)):
		return models.KindSystem
	default:
		return models.KindUnknown
	}
}

func isSystemDir(dir string) bool {
	if runtime.GOOS == "windows" {
		return false
	}

	switch filepath.Clean(dir) {
	case "/usr/bin", "/bin", "/usr/local/bin", "/usr/sbin":
		return true
	default:
		return false
	}
}

// DisplayName renders the label shown for an environment.
func DisplayName(env *models.ResolvedEnv) string {
	var b strings.Builder

	b.WriteString("Python")

	if v := env.Version.String(); v != "" {
		b.WriteString(" ")
		b.WriteString(v)
	}

	switch {
	case env.Name != "":
		fmt.Fprintf(&b, " ('%s')", env.Name)
	case env.Arch == models.ArchX64:
		b.WriteString(" 64-bit")
	case env.Arch == models.ArchX86:
		b.WriteString(" 32-bit")
	}

	return b.String()
}

// Build combines a raw finding with probed interpreter info.
func Build(basic models.BasicEnv, info *InterpreterInfo, now time.Time) *models.ResolvedEnv {
	kind := basic.Kind
	if kind == "" || kind == models.KindUnknown {
		kind = IdentifyKind(basic.Executable)
	}

	env := &models.ResolvedEnv{
		Executable:     pathutil.NormCase(basic.Executable),
		Kind:           kind,
		Version:        models.EmptyVersion(),
		SearchLocation: basic.SearchLocation,
		Sources:        append([]models.Source(nil), basic.Sources...),
		LastResolved:   now,
	}

	if info != nil {
		env.Version = info.Version
		env.Arch = info.Arch
		env.SysPrefix = info.SysPrefix
	}

	if kind.IsVirtual() || kind == models.KindConda || kind == models.KindPyenv {
		env.Location = EnvPrefix(basic.Executable)
		env.Name = filepath.Base(env.Location)

		if hint := basic.Hints["name"]; hint != "" {
			env.Name = hint
		}
	}

	env.DisplayName = DisplayName(env)

	return env
}

// Resolve probes basic.Executable through the cache and builds the record.
func (s *Service) Resolve(ctx context.Context, basic models.BasicEnv) (*models.ResolvedEnv, error) {
	info, err := s.GetInfo(ctx, basic.Executable)
	if err != nil {
		return nil, err
	}

	return Build(basic, info, time.Now()), nil
}
