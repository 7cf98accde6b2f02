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

//go:generate mockgen -destination=mock_prober.go -package=envinfo github.com/carverauto/envradar/pkg/envinfo Prober

// Package envinfo resolves interpreter metadata. The Service deduplicates
// concurrent probes of the same executable and keeps a bounded cache of
// successful results.
package envinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/carverauto/envradar/pkg/models"
)

var (
	// ErrNotExecutable is returned for paths that do not name a regular file.
	ErrNotExecutable  = errors.New("not an interpreter executable")
	errBadProbeOutput = errors.New("unexpected interpreter output")
)

// InterpreterInfo is what an interpreter reports about itself.
type InterpreterInfo struct {
	Executable string         `json:"executable"`
	Version    models.Version `json:"version"`
	Arch       models.Arch    `json:"arch"`
	SysPrefix  string         `json:"sys_prefix"`
}

// Prober extracts InterpreterInfo from an executable.
type Prober interface {
	Probe(ctx context.Context, executable string) (*InterpreterInfo, error)
}

const probeScript = `import json, sys
print(json.dumps({"versionInfo": list(sys.version_info), "sysPrefix": sys.prefix, ` +
	`"sysVersion": sys.version, "is64Bit": sys.maxsize > 2**32, "executable": sys.executable}))`

const defaultProbeTimeout = 15 * time.Second

// ExecProber runs the interpreter with a short script and parses its output.
type ExecProber struct {
	Timeout time.Duration
}

type probeOutput struct {
	VersionInfo []json.RawMessage `json:"versionInfo"`
	SysPrefix   string            `json:"sysPrefix"`
	SysVersion  string            `json:"sysVersion"`
	Is64Bit     bool              `json:"is64Bit"`
	Executable  string            `json:"executable"`
}

// Probe implements Prober.
func (p *ExecProber) Probe(ctx context.Context, executable string) (*InterpreterInfo, error) {
	st, err := os.Stat(executable)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", executable, err)
	}

	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotExecutable, executable)
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, executable, "-I", "-c", probeScript)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", executable, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return ParseProbeOutput(stdout.Bytes())
}

// ParseProbeOutput decodes the JSON line printed by the probe script.
func ParseProbeOutput(data []byte) (*InterpreterInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(bytes.TrimSpace(data), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadProbeOutput, err)
	}

	if len(out.VersionInfo) < 3 {
		return nil, fmt.Errorf("%w: missing version_info", errBadProbeOutput)
	}

	version := models.EmptyVersion()
	version.SysVer = out.SysVersion

	for i, dst := range []*int{&version.Major, &version.Minor, &version.Micro} {
		if err := json.Unmarshal(out.VersionInfo[i], dst); err != nil {
			return nil, fmt.Errorf("%w: version component %d: %w", errBadProbeOutput, i, err)
		}
	}

	if len(out.VersionInfo) > 3 {
		_ = json.Unmarshal(out.VersionInfo[3], &version.Release)
	}

	arch := models.ArchX86
	if out.Is64Bit {
		arch = models.ArchX64
	}

	return &InterpreterInfo{
		Executable: out.Executable,
		Version:    version,
		Arch:       arch,
		SysPrefix:  out.SysPrefix,
	}, nil
}
