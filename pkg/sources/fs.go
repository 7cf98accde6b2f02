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
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/carverauto/envradar/internal/pathutil"
)

// interpreterRe matches python, python3 and python3.12, with .exe on Windows.
var interpreterRe = regexp.MustCompile(`(?i)^python(\d+(\.\d+)?)?(\.exe)?$`)

func isWindows() bool {
	return runtime.GOOS == "windows"
}

// binDir is the directory of a virtual environment holding its interpreter.
func binDir() string {
	if isWindows() {
		return "Scripts"
	}

	return "bin"
}

// interpreterGlob matches interpreter file names in a watch pattern.
func interpreterGlob() string {
	if isWindows() {
		return "python*.exe"
	}

	return "python*"
}

// isInterpreterName reports whether name looks like a python executable.
func isInterpreterName(name string) bool {
	if !interpreterRe.MatchString(name) {
		return false
	}

	return !isWindows() || strings.EqualFold(filepath.Ext(name), ".exe")
}

func isFile(p string) bool {
	st, err := os.Stat(p)

	return err == nil && !st.IsDir()
}

func isDir(p string) bool {
	st, err := os.Stat(p)

	return err == nil && st.IsDir()
}

// interpretersIn lists the interpreters directly inside dir, sorted by name.
func interpretersIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []string

	for _, e := range entries {
		if e.IsDir() || !isInterpreterName(e.Name()) {
			continue
		}

		out = append(out, filepath.Join(dir, e.Name()))
	}

	sort.Strings(out)

	return out
}

// envInterpreter returns the main interpreter of the environment at prefix.
func envInterpreter(prefix string) (string, bool) {
	var candidates []string

	if isWindows() {
		candidates = []string{
			filepath.Join(prefix, "Scripts", "python.exe"),
			filepath.Join(prefix, "python.exe"),
		}
	} else {
		candidates = []string{
			filepath.Join(prefix, "bin", "python"),
			filepath.Join(prefix, "bin", "python3"),
		}
	}

	for _, c := range candidates {
		if isFile(c) {
			return c, true
		}
	}

	return "", false
}

// subdirs lists the directories directly inside dir.
func subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []string

	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}

	return out
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return home
}

// expandHome resolves a leading "~" and makes relative paths relative to
// the home directory.
func expandHome(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}

	home := homeDir()

	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`):
		return filepath.Join(home, p[2:])
	case filepath.IsAbs(p) || home == "":
		return p
	default:
		return filepath.Join(home, p)
	}
}

// uniqueDirs drops empty and duplicate entries, comparing canonical paths.
func uniqueDirs(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))

	for _, d := range dirs {
		if d == "" {
			continue
		}

		d = filepath.Clean(d)
		key := pathutil.NormCase(d)

		if seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, d)
	}

	return out
}

// existingDirs keeps only the entries of dirs that are directories.
func existingDirs(dirs []string) []string {
	var out []string

	for _, d := range uniqueDirs(dirs) {
		if isDir(d) {
			out = append(out, d)
		}
	}

	return out
}
