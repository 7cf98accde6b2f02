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
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/pkg/config"
	"github.com/carverauto/envradar/pkg/locator"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
)

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fixtures use the POSIX environment layout")
	}
}

// isolate points every well-known location at empty temporary directories.
func isolate(t *testing.T) string {
	t.Helper()

	home := t.TempDir()

	t.Setenv("HOME", home)
	t.Setenv("PYENV_ROOT", filepath.Join(home, ".pyenv"))
	t.Setenv("WORKON_HOME", filepath.Join(home, ".virtualenvs"))
	t.Setenv("PIPENV_VENV_HOME", "")
	t.Setenv("CONDA_ROOT", "")
	t.Setenv("CONDA_EXE", "")
	t.Setenv("POETRY_VIRTUALENVS_PATH", filepath.Join(home, "poetry-cache"))
	t.Setenv("PATH", "")

	return home
}

func touch(t *testing.T, path string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o755))
}

// makeEnv creates a virtual environment at prefix and returns its interpreter.
func makeEnv(t *testing.T, prefix string, pyvenv bool) string {
	t.Helper()

	exe := filepath.Join(prefix, "bin", "python")
	touch(t, exe)

	if pyvenv {
		touch(t, filepath.Join(prefix, "pyvenv.cfg"))
	} else {
		touch(t, filepath.Join(prefix, "bin", "activate"))
	}

	return exe
}

func collect(t *testing.T, l locator.Locator) []models.BasicEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	envs, err := locator.Collect(ctx, l.IterEnvs(nil))
	require.NoError(t, err)

	return envs
}

func executables(envs []models.BasicEnv) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, e.Executable)
	}

	sort.Strings(out)

	return out
}

func byExecutable(envs []models.BasicEnv) map[string]models.BasicEnv {
	out := make(map[string]models.BasicEnv, len(envs))
	for _, e := range envs {
		out[e.Executable] = e
	}

	return out
}

func TestIsInterpreterName(t *testing.T) {
	skipOnWindows(t)

	for name, want := range map[string]bool{
		"python":         true,
		"python3":        true,
		"python3.12":     true,
		"python3-config": false,
		"pythonw":        false,
		"python3.12.exe": true,
		"pip":            false,
	} {
		assert.Equal(t, want, isInterpreterName(name), name)
	}
}

func TestExpandHome(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)

	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, filepath.Join(home, "envs"), expandHome("~/envs"))
	assert.Equal(t, filepath.Join(home, "envs"), expandHome("envs"))
	assert.Equal(t, "/opt/envs", expandHome("/opt/envs"))
	assert.Empty(t, expandHome("  "))
}

func TestGlobalVirtualEnvLocator(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)

	wrapper := makeEnv(t, filepath.Join(home, ".virtualenvs", "work"), true)
	venv := makeEnv(t, filepath.Join(home, ".venvs", "tools"), true)
	legacy := makeEnv(t, filepath.Join(home, "envs", "old"), false)
	// Not an environment.
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".venvs", "empty"), 0o755))

	l := NewGlobalVirtualEnvLocator(logger.NewTestLogger())
	defer l.Dispose()

	envs := byExecutable(collect(t, l))
	require.Len(t, envs, 3)

	assert.Equal(t, models.KindVirtualEnvWrapper, envs[wrapper].Kind)
	assert.Equal(t, models.KindVenv, envs[venv].Kind)
	assert.Equal(t, models.KindVirtualEnv, envs[legacy].Kind)
	assert.Equal(t, []models.Source{models.SourceVirtualEnvDirs}, envs[venv].Sources)
	assert.Empty(t, envs[venv].SearchLocation)
}

func TestCustomVirtualEnvLocator(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)
	custom := t.TempDir()

	a := makeEnv(t, filepath.Join(custom, "a"), true)
	b := makeEnv(t, filepath.Join(home, "projects", "envs", "b"), true)

	settings := config.Settings{VenvPath: custom, VenvFolders: []string{"projects/envs", "missing"}}

	assert.Equal(t, []string{
		custom,
		filepath.Join(home, "projects", "envs"),
		filepath.Join(home, "missing"),
	}, CustomVirtualEnvDirs(settings))

	l := NewCustomVirtualEnvLocator(settings, logger.NewTestLogger())
	defer l.Dispose()

	envs := collect(t, l)
	assert.ElementsMatch(t, []string{a, b}, executables(envs))

	for _, e := range envs {
		assert.Equal(t, []models.Source{models.SourceCustomDirs}, e.Sources)
	}
}

func TestPyenvLocator(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)
	versions := filepath.Join(home, ".pyenv", "versions")

	version := filepath.Join(versions, "3.11.4", "bin", "python")
	touch(t, version)
	venv := makeEnv(t, filepath.Join(versions, "3.11.4", "envs", "scratch"), true)

	l := NewPyenvLocator(logger.NewTestLogger())
	defer l.Dispose()

	envs := byExecutable(collect(t, l))
	require.Len(t, envs, 2)

	assert.Equal(t, models.KindPyenv, envs[version].Kind)
	assert.Equal(t, "3.11.4", envs[version].Hints["name"])
	assert.Contains(t, envs, venv)
}

func TestPyenvLocatorWithoutInstall(t *testing.T) {
	isolate(t)

	l := NewPyenvLocator(logger.NewTestLogger())
	defer l.Dispose()

	assert.Empty(t, collect(t, l))
}

func TestCondaLocator(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)
	install := filepath.Join(home, "miniconda3")

	require.NoError(t, os.MkdirAll(filepath.Join(install, "conda-meta"), 0o755))
	base := filepath.Join(install, "bin", "python")
	touch(t, base)

	data := filepath.Join(install, "envs", "data")
	require.NoError(t, os.MkdirAll(filepath.Join(data, "conda-meta"), 0o755))
	dataExe := filepath.Join(data, "bin", "python")
	touch(t, dataExe)

	// Conda environment without python.
	require.NoError(t, os.MkdirAll(filepath.Join(install, "envs", "r", "conda-meta"), 0o755))

	// Listed in environments.txt, outside the installation.
	elsewhere := filepath.Join(t.TempDir(), "proj-env")
	require.NoError(t, os.MkdirAll(filepath.Join(elsewhere, "conda-meta"), 0o755))
	elsewhereExe := filepath.Join(elsewhere, "bin", "python")
	touch(t, elsewhereExe)

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".conda"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".conda", "environments.txt"),
		[]byte("# recorded by conda\n"+elsewhere+"\n\n"), 0o600))

	l := NewCondaLocator(config.Settings{}, logger.NewTestLogger())
	defer l.Dispose()

	envs := byExecutable(collect(t, l))

	require.Contains(t, envs, base)
	require.Contains(t, envs, dataExe)
	require.Contains(t, envs, elsewhereExe)

	assert.Equal(t, "base", envs[base].Hints["name"])
	assert.Equal(t, "data", envs[dataExe].Hints["name"])
	assert.Equal(t, data, envs[dataExe].Hints["prefix"])
	assert.Equal(t, models.KindConda, envs[elsewhereExe].Kind)
}

func TestCondaPrefixFromTool(t *testing.T) {
	skipOnWindows(t)

	isolate(t)

	install := t.TempDir()

	assert.Equal(t, install, condaPrefixFromTool(install))
	assert.Equal(t, install, condaPrefixFromTool(filepath.Join(install, "bin", "conda")))
	assert.Equal(t, install, condaPrefixFromTool(filepath.Join(install, "condabin", "conda")))
	assert.Empty(t, condaPrefixFromTool(""))
}

func TestPathLocator(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)

	dir := filepath.Join(home, "tools", "bin")
	exe := filepath.Join(dir, "python3.12")
	touch(t, exe)
	touch(t, filepath.Join(dir, "python3-config"))

	shim := filepath.Join(home, ".pyenv", "shims", "python")
	touch(t, shim)

	t.Setenv("PATH", dir+string(os.PathListSeparator)+filepath.Dir(shim))

	l := NewPathLocator(logger.NewTestLogger())
	defer l.Dispose()

	envs := byExecutable(collect(t, l))

	require.Contains(t, envs, exe)
	assert.NotContains(t, envs, shim)
	assert.NotContains(t, envs, filepath.Join(dir, "python3-config"))
	assert.Equal(t, models.KindOtherGlobal, envs[exe].Kind)
	assert.Equal(t, []models.Source{models.SourcePathEnvVar}, envs[exe].Sources)
}

func TestWorkspaceVirtualEnvLocator(t *testing.T) {
	skipOnWindows(t)

	isolate(t)

	root := t.TempDir()
	dotVenv := makeEnv(t, filepath.Join(root, ".venv"), true)
	nested := makeEnv(t, filepath.Join(root, "services", "api"), false)
	makeEnv(t, filepath.Join(root, "node_modules", "env"), true)
	makeEnv(t, filepath.Join(root, "a", "b", "c"), true)

	l := NewWorkspaceVirtualEnvLocator(root, logger.NewTestLogger())
	defer l.Dispose()

	envs := collect(t, l)
	assert.Equal(t, []string{dotVenv, nested}, executables(envs))

	for _, e := range envs {
		assert.Equal(t, root, e.SearchLocation)
		assert.Equal(t, []models.Source{models.SourceWorkspace}, e.Sources)
	}
}

func TestWorkspaceLocatorReportsNewEnvironments(t *testing.T) {
	skipOnWindows(t)

	isolate(t)

	root := t.TempDir()
	bin := filepath.Join(root, "env", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))

	l := NewWorkspaceVirtualEnvLocator(root, logger.NewTestLogger())
	defer l.Dispose()

	changes := make(chan models.ChangeEvent, 16)
	sub := l.OnChanged().Subscribe(func(e models.ChangeEvent) { changes <- e })
	defer sub.Dispose()

	assert.Empty(t, collect(t, l))

	exe := filepath.Join(bin, "python")
	touch(t, exe)

	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-changes:
				if e.Path == exe {
					assert.Equal(t, root, e.SearchLocation)

					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDisposedLocatorStaysQuiet(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)
	dir := filepath.Join(home, ".virtualenvs")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "w", "bin"), 0o755))

	l := NewGlobalVirtualEnvLocator(logger.NewTestLogger())
	collect(t, l)

	fired := make(chan struct{}, 1)
	l.OnChanged().Subscribe(func(models.ChangeEvent) { fired <- struct{}{} })
	l.Dispose()
	l.Dispose()

	touch(t, filepath.Join(dir, "w", "bin", "python"))

	select {
	case <-fired:
		t.Fatal("change reported after dispose")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReadPoetryProject(t *testing.T) {
	root := t.TempDir()

	p, err := ReadPoetryProject(root)
	require.NoError(t, err)
	assert.Nil(t, p, "no pyproject.toml")

	file := filepath.Join(root, pyprojectFile)

	require.NoError(t, os.WriteFile(file, []byte("[project]\nname = \"plain\"\n"), 0o600))
	p, err = ReadPoetryProject(root)
	require.NoError(t, err)
	assert.Nil(t, p, "not managed by poetry")

	require.NoError(t, os.WriteFile(file, []byte("[tool.poetry]\nname = \"My_Project.Name\"\n"), 0o600))
	p, err = ReadPoetryProject(root)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "My_Project.Name", p.Name)
	assert.Equal(t, "my-project-name-", p.EnvPrefix())

	require.NoError(t, os.WriteFile(file, []byte("[project]\nname = \"modern\"\n\n[tool.poetry]\npackage-mode = false\n"), 0o600))
	p, err = ReadPoetryProject(root)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "modern", p.Name)

	require.NoError(t, os.WriteFile(file, []byte("[tool.poetry\n"), 0o600))
	_, err = ReadPoetryProject(root)
	require.Error(t, err)
}

func TestPoetryEnvPrefix(t *testing.T) {
	long := &PoetryProject{Name: "an-extremely-long-project-name-that-goes-on-and-on"}
	assert.Equal(t, "an-extremely-long-project-name-that-goes-o-", long.EnvPrefix())

	odd := &PoetryProject{Name: "with space$"}
	assert.Equal(t, "with_space_-", odd.EnvPrefix())
}

func TestParsePoetryEnvList(t *testing.T) {
	out := []byte("/cache/app-AbCd-py3.11 (Activated)\n\n/cache/app-AbCd-py3.12\n")

	assert.Equal(t, []string{"/cache/app-AbCd-py3.11", "/cache/app-AbCd-py3.12"}, ParsePoetryEnvList(out))
	assert.Empty(t, ParsePoetryEnvList(nil))
}

func TestPoetryLocatorUsesCache(t *testing.T) {
	skipOnWindows(t)

	home := isolate(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, pyprojectFile), []byte("[tool.poetry]\nname = \"app\"\n"), 0o600))

	local := makeEnv(t, filepath.Join(root, ".venv"), true)
	cached := makeEnv(t, filepath.Join(home, "poetry-cache", "app-AbCd1234-py3.11"), true)
	makeEnv(t, filepath.Join(home, "poetry-cache", "application-XyZ-py3.11"), true)

	l := NewPoetryLocator(root, config.Settings{}, logger.NewTestLogger())
	defer l.Dispose()

	envs := collect(t, l)
	assert.ElementsMatch(t, []string{local, cached}, executables(envs))

	for _, e := range envs {
		assert.Equal(t, models.KindPoetry, e.Kind)
		assert.Equal(t, root, e.SearchLocation)
	}
}

func TestPoetryLocatorUsesTool(t *testing.T) {
	skipOnWindows(t)

	isolate(t)

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, pyprojectFile), []byte("[tool.poetry]\nname = \"app\"\n"), 0o600))

	listed := makeEnv(t, filepath.Join(t.TempDir(), "app-py3.12"), true)
	tool := filepath.Join(t.TempDir(), "poetry")
	script := "#!/bin/sh\necho '" + filepath.Dir(filepath.Dir(listed)) + " (Activated)'\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	l := NewPoetryLocator(root, config.Settings{PoetryPath: tool}, logger.NewTestLogger())
	defer l.Dispose()

	assert.Equal(t, []string{listed}, executables(collect(t, l)))
}

func TestPoetryLocatorIgnoresOtherRoots(t *testing.T) {
	isolate(t)

	l := NewPoetryLocator(t.TempDir(), config.Settings{}, logger.NewTestLogger())
	defer l.Dispose()

	assert.Empty(t, collect(t, l))
}

func TestParseActiveStateProjects(t *testing.T) {
	projects, err := ParseActiveStateProjects([]byte(`[
		{"name": "py", "organization": "acme", "local_checkouts": ["/src/py"], "executables": ["/cache/abc/exec"]}
	]`))
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "acme", projects[0].Organization)
	assert.Equal(t, []string{"/cache/abc/exec"}, projects[0].Executables)

	_, err = ParseActiveStateProjects([]byte("not json"))
	require.Error(t, err)
}

func TestActiveStateLocator(t *testing.T) {
	skipOnWindows(t)

	isolate(t)

	execDir := t.TempDir()
	exe := filepath.Join(execDir, "python3")
	touch(t, exe)
	touch(t, filepath.Join(execDir, "pip3"))

	tool := filepath.Join(t.TempDir(), "state")
	projects := `[{"name": "py", "organization": "acme", "executables": ["` + execDir + `"]}]`
	script := "#!/bin/sh\nprintf '%s\\n' '" + projects + "'\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	l := NewActiveStateLocator(config.Settings{ActiveStateToolPath: tool}, logger.NewTestLogger())
	defer l.Dispose()

	envs := collect(t, l)
	require.Len(t, envs, 1)
	assert.Equal(t, exe, envs[0].Executable)
	assert.Equal(t, models.KindActiveState, envs[0].Kind)
	assert.Equal(t, "acme", envs[0].Hints["organization"])
}

func TestActiveStateLocatorWithoutTool(t *testing.T) {
	isolate(t)

	assert.Empty(t, ActiveStateTool(config.Settings{}))

	l := NewActiveStateLocator(config.Settings{}, logger.NewTestLogger())
	defer l.Dispose()

	assert.Empty(t, collect(t, l))
}

func TestRunToolFailures(t *testing.T) {
	_, err := runTool(context.Background(), "", "")
	require.ErrorIs(t, err, errToolNotConfigured)

	_, err = runTool(context.Background(), filepath.Join(t.TempDir(), "missing"), "")
	require.Error(t, err)
}

func TestNonWorkspaceOrder(t *testing.T) {
	isolate(t)

	locators := NonWorkspace(config.Settings{}, logger.NewTestLogger(), SourceActiveState)
	defer func() {
		for _, l := range locators {
			l.Dispose()
		}
	}()

	names := make([]string, 0, len(locators))
	for _, l := range locators {
		names = append(names, l.Name())
	}

	want := make([]string, 0, len(NonWorkspaceNames()))
	for _, n := range NonWorkspaceNames() {
		if n != SourceActiveState {
			want = append(want, n)
		}
	}

	assert.Equal(t, want, names)
	assert.Equal(t, SourcePyenv, names[0])
	assert.Equal(t, SourcePath, names[len(names)-1])
}

func TestWorkspaceFactory(t *testing.T) {
	root := t.TempDir()

	locators := WorkspaceFactory(config.Settings{}, logger.NewTestLogger())(root)
	require.Len(t, locators, 2)

	assert.Equal(t, SourceWorkspaceVirtualEnv, locators[0].Name())
	assert.Equal(t, SourcePoetry, locators[1].Name())

	for _, l := range locators {
		l.Dispose()
	}
}
