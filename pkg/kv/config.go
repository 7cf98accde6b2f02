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

package kv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/natsutil"
)

// Backend names a KVStore implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFile   Backend = "file"
	BackendNATS   Backend = "nats"
)

const defaultBucket = "envradar-state"

// Config selects and configures the state store.
type Config struct {
	Backend Backend `json:"backend" yaml:"backend" toml:"backend"`

	// Path is the state file of the file backend.
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`

	NATSURL       string          `json:"nats_url,omitempty" yaml:"nats_url,omitempty" toml:"nats_url,omitempty"`
	Bucket        string          `json:"bucket,omitempty" yaml:"bucket,omitempty" toml:"bucket,omitempty"`
	BucketTTL     models.Duration `json:"bucket_ttl,omitempty" yaml:"bucket_ttl,omitempty" toml:"bucket_ttl,omitempty"`
	BucketHistory int             `json:"bucket_history,omitempty" yaml:"bucket_history,omitempty" toml:"bucket_history,omitempty"`

	TLS *natsutil.TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty" toml:"tls,omitempty"`
}

// DefaultConfig keeps state in the user's cache directory.
func DefaultConfig() Config {
	return Config{Backend: BackendFile, Path: defaultStatePath()}
}

func defaultStatePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, "envradar", "state.json")
}

// Validate fills defaults and checks the backend-specific fields.
func (c *Config) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendFile
	}

	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendFile:
		if c.Path == "" {
			c.Path = defaultStatePath()
		}

		if c.Path == "" {
			return errPathRequired
		}

		return nil
	case BackendNATS:
		if c.NATSURL == "" {
			return errNatsURLRequired
		}

		if c.Bucket == "" {
			c.Bucket = defaultBucket
		}

		if c.BucketHistory <= 0 {
			c.BucketHistory = 1
		}

		if c.BucketTTL < 0 {
			c.BucketTTL = 0
		}

		return c.TLS.Validate()
	default:
		return fmt.Errorf("%w: %q", errUnknownBackend, c.Backend)
	}
}
