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

// Package envinfotest provides an in-memory Prober for tests.
package envinfotest

import (
	"context"
	"errors"
	"sync"

	"github.com/carverauto/envradar/internal/pathutil"
	"github.com/carverauto/envradar/pkg/envinfo"
	"github.com/carverauto/envradar/pkg/models"
)

// ErrUnknownInterpreter is returned for paths not registered with the prober.
var ErrUnknownInterpreter = errors.New("unknown interpreter")

// Prober answers from a fixed table and counts calls per path. Paths are
// matched by canonical form; unregistered paths fail.
type Prober struct {
	mu    sync.Mutex
	infos map[string]*envinfo.InterpreterInfo
	calls map[string]int
	// Gate, if set, is received from before each probe returns.
	Gate chan struct{}
}

// New returns an empty prober.
func New() *Prober {
	return &Prober{
		infos: make(map[string]*envinfo.InterpreterInfo),
		calls: make(map[string]int),
	}
}

// Add registers executable with the given version.
func (p *Prober) Add(executable string, major, minor, micro int) *Prober {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.infos[pathutil.NormCase(executable)] = &envinfo.InterpreterInfo{
		Executable: executable,
		Version:    models.Version{Major: major, Minor: minor, Micro: micro, Release: "final"},
		Arch:       models.ArchX64,
		SysPrefix:  envinfo.EnvPrefix(executable),
	}

	return p
}

// Remove forgets executable so later probes fail.
func (p *Prober) Remove(executable string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.infos, pathutil.NormCase(executable))
}

// Calls reports how many probes ran for executable.
func (p *Prober) Calls(executable string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.calls[pathutil.NormCase(executable)]
}

// Probe implements envinfo.Prober.
func (p *Prober) Probe(ctx context.Context, executable string) (*envinfo.InterpreterInfo, error) {
	key := pathutil.NormCase(executable)

	p.mu.Lock()
	p.calls[key]++
	info, ok := p.infos[key]
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, ErrUnknownInterpreter
	}

	out := *info

	return &out, nil
}
