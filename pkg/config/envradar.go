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

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/carverauto/envradar/pkg/kv"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/natsutil"
)

// Discovery setting names, as they appear in configuration documents.
const (
	SettingVenvPath            = "venvPath"
	SettingVenvFolders         = "venvFolders"
	SettingCondaPath           = "condaPath"
	SettingPoetryPath          = "poetryPath"
	SettingActiveStateToolPath = "activeStateToolPath"
)

var (
	errUnknownWorkerMode  = errors.New("unknown worker mode")
	errWorkerAddrRequired = errors.New("worker address is required for this mode")
	errNegativeValue      = errors.New("value must not be negative")
)

// Settings are passed through to the source locators.
type Settings struct {
	VenvPath            string   `json:"venvPath,omitempty" yaml:"venvPath,omitempty" toml:"venvPath,omitempty"`
	VenvFolders         []string `json:"venvFolders,omitempty" yaml:"venvFolders,omitempty" toml:"venvFolders,omitempty"`
	CondaPath           string   `json:"condaPath,omitempty" yaml:"condaPath,omitempty" toml:"condaPath,omitempty"`
	PoetryPath          string   `json:"poetryPath,omitempty" yaml:"poetryPath,omitempty" toml:"poetryPath,omitempty"`
	ActiveStateToolPath string   `json:"activeStateToolPath,omitempty" yaml:"activeStateToolPath,omitempty" toml:"activeStateToolPath,omitempty"`
}

// Get returns the named setting as a string; list settings are joined with
// commas. Unknown names yield "".
func (s Settings) Get(name string) string {
	switch name {
	case SettingVenvPath:
		return s.VenvPath
	case SettingVenvFolders:
		return strings.Join(s.VenvFolders, ",")
	case SettingCondaPath:
		return s.CondaPath
	case SettingPoetryPath:
		return s.PoetryPath
	case SettingActiveStateToolPath:
		return s.ActiveStateToolPath
	default:
		return ""
	}
}

// WorkerMode selects where the discovery pipeline runs.
type WorkerMode string

const (
	WorkerInProcess WorkerMode = "inprocess"
	WorkerPipe      WorkerMode = "pipe"
	WorkerStdio     WorkerMode = "stdio"
	WorkerGRPC      WorkerMode = "grpc"
	WorkerNATS      WorkerMode = "nats"
)

// DefaultWorkerSubject is the NATS subject prefix of the worker service.
const DefaultWorkerSubject = "envradar.worker"

// WorkerConfig locates the discovery worker.
type WorkerConfig struct {
	Mode WorkerMode `json:"mode" yaml:"mode" toml:"mode"`
	// Address is the gRPC target or NATS URL.
	Address string `json:"address,omitempty" yaml:"address,omitempty" toml:"address,omitempty"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty" toml:"subject,omitempty"`
	// Command overrides the executable spawned in stdio mode.
	Command string `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	// TLS secures the NATS connection.
	TLS *natsutil.TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty" toml:"tls,omitempty"`
}

// Validate fills defaults and checks the mode.
func (w *WorkerConfig) Validate() error {
	if w.Mode == "" {
		w.Mode = WorkerInProcess
	}

	switch w.Mode {
	case WorkerInProcess, WorkerPipe, WorkerStdio:
	case WorkerGRPC, WorkerNATS:
		if w.Address == "" {
			return fmt.Errorf("%w: %s", errWorkerAddrRequired, w.Mode)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownWorkerMode, w.Mode)
	}

	if w.Subject == "" {
		w.Subject = DefaultWorkerSubject
	}

	return w.TLS.Validate()
}

// AppConfig is the envradar configuration document.
type AppConfig struct {
	Logging   *logger.Config `json:"logging,omitempty" yaml:"logging,omitempty" toml:"logging,omitempty"`
	State     kv.Config      `json:"state" yaml:"state" toml:"state"`
	Discovery Settings       `json:"discovery" yaml:"discovery" toml:"discovery"`
	Worker    WorkerConfig   `json:"worker" yaml:"worker" toml:"worker"`

	// Roots are the project roots searched for workspace environments.
	Roots []string `json:"roots,omitempty" yaml:"roots,omitempty" toml:"roots,omitempty"`

	ResolveConcurrency int             `json:"resolve_concurrency,omitempty" yaml:"resolve_concurrency,omitempty" toml:"resolve_concurrency,omitempty"`
	ResolveCacheSize   int             `json:"resolve_cache_size,omitempty" yaml:"resolve_cache_size,omitempty" toml:"resolve_cache_size,omitempty"`
	ProbeTimeout       models.Duration `json:"probe_timeout,omitempty" yaml:"probe_timeout,omitempty" toml:"probe_timeout,omitempty"`
}

const (
	defaultResolveConcurrency = 8
	defaultResolveCacheSize   = 1024
	defaultProbeTimeout       = 15 * time.Second
)

// DefaultAppConfig returns the configuration used when no file is given.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Logging:            logger.DefaultConfig(),
		State:              kv.DefaultConfig(),
		Worker:             WorkerConfig{Mode: WorkerInProcess, Subject: DefaultWorkerSubject},
		ResolveConcurrency: defaultResolveConcurrency,
		ResolveCacheSize:   defaultResolveCacheSize,
		ProbeTimeout:       models.Duration(defaultProbeTimeout),
	}
}

// Validate implements Validator.
func (c *AppConfig) Validate() error {
	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}

	if err := c.State.Validate(); err != nil {
		return fmt.Errorf("state: %w", err)
	}

	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	if c.ResolveConcurrency < 0 || c.ResolveCacheSize < 0 || c.ProbeTimeout < 0 {
		return errNegativeValue
	}

	if c.ResolveConcurrency == 0 {
		c.ResolveConcurrency = defaultResolveConcurrency
	}

	if c.ResolveCacheSize == 0 {
		c.ResolveCacheSize = defaultResolveCacheSize
	}

	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = models.Duration(defaultProbeTimeout)
	}

	return nil
}
