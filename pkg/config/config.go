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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carverauto/envradar/pkg/kv"
	"github.com/carverauto/envradar/pkg/logger"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")

	errKVStoreNotSet       = errors.New("KV store not initialized for CONFIG_SOURCE=kv; call SetKVStore first")
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
	errLoadConfigFailed    = errors.New("failed to load configuration")
	errKVKeyNotFound       = errors.New("key not found in KV store")
	errUnknownFormat       = errors.New("unknown configuration format")
)

const (
	configSourceKV   = "kv"
	configSourceFile = "file"
	configSourceEnv  = "env"

	// ConfigStorePrefix prefixes the variables describing the store that
	// holds configuration when CONFIG_SOURCE=kv, e.g. ENVRADAR_CONFIG_STORE_NATS_URL.
	ConfigStorePrefix = "ENVRADAR_CONFIG_STORE_"
)

// Config picks a ConfigLoader from CONFIG_SOURCE and validates the result.
type Config struct {
	kvStore       kv.KVStore
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig returns a Config whose default loader reads files.
func NewConfig(log logger.Logger) *Config {
	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        logger.Component(log, "config"),
	}
}

// SetKVStore sets the store used when CONFIG_SOURCE=kv.
func (c *Config) SetKVStore(store kv.KVStore) {
	c.kvStore = store
}

// OpenConfigStore opens the store described by the ConfigStorePrefix
// variables when CONFIG_SOURCE=kv and hands it to c. It returns nil for
// other sources. The caller closes the store.
func (c *Config) OpenConfigStore(ctx context.Context) (kv.KVStore, error) {
	if strings.ToLower(os.Getenv("CONFIG_SOURCE")) != configSourceKV {
		return nil, nil //nolint:nilnil // no store needed
	}

	sc := kv.Config{Backend: kv.BackendNATS}

	if err := NewEnvConfigLoader(c.logger, ConfigStorePrefix).Load(ctx, "", &sc); err != nil {
		return nil, err
	}

	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("config store: %w", err)
	}

	store, err := kv.Open(ctx, sc, c.logger)
	if err != nil {
		return nil, fmt.Errorf("config store: %w", err)
	}

	c.SetKVStore(store)

	return store, nil
}

// ValidateConfig validates cfg if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate fills cfg from the configured source and validates it.
// An empty path with the file source leaves cfg at its defaults.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	if err := c.load(ctx, path, cfg); err != nil {
		return err
	}

	return ValidateConfig(cfg)
}

func (c *Config) load(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceKV:
		if c.kvStore == nil {
			return errKVStoreNotSet
		}

		loader = NewKVConfigLoader(c.kvStore)
	case configSourceEnv:
		prefix := os.Getenv("CONFIG_ENV_PREFIX")
		if prefix == "" {
			prefix = DefaultEnvPrefix
		}

		loader = NewEnvConfigLoader(c.logger, prefix)
	case configSourceFile, "":
		if path == "" {
			return nil
		}

		loader = c.defaultLoader
	default:
		return fmt.Errorf("%w: %s (expected '%s', '%s', or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceKV, configSourceEnv)
	}

	err := loader.Load(ctx, path, cfg)
	if err == nil || source != configSourceKV || path == "" {
		return err
	}

	c.logger.Warn().Err(err).Str("path", path).Msg("Falling back to configuration file")

	if fileErr := c.defaultLoader.Load(ctx, path, cfg); fileErr != nil {
		return fmt.Errorf("%w from KV: %w, and from fallback file: %w", errLoadConfigFailed, err, fileErr)
	}

	return nil
}
