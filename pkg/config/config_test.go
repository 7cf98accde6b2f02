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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/internal/natstest"
	"github.com/carverauto/envradar/pkg/kv"
	"github.com/carverauto/envradar/pkg/logger"
	"github.com/carverauto/envradar/pkg/models"
	"github.com/carverauto/envradar/pkg/natsutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestFileConfigLoaderFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "envradar.json",
			content: `{"discovery":{"venvPath":"~/envs","venvFolders":["a","b"]},
				"state":{"backend":"memory"},"probe_timeout":"3s"}`,
		},
		{
			name: "yaml",
			file: "envradar.yaml",
			content: "discovery:\n  venvPath: ~/envs\n  venvFolders: [a, b]\n" +
				"state:\n  backend: memory\nprobe_timeout: 3s\n",
		},
		{
			name: "toml",
			file: "envradar.toml",
			content: "probe_timeout = \"3s\"\n\n[discovery]\nvenvPath = \"~/envs\"\nvenvFolders = [\"a\", \"b\"]\n\n" +
				"[state]\nbackend = \"memory\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)

			var cfg AppConfig
			require.NoError(t, (&FileConfigLoader{}).Load(context.Background(), path, &cfg))

			assert.Equal(t, "~/envs", cfg.Discovery.VenvPath)
			assert.Equal(t, []string{"a", "b"}, cfg.Discovery.VenvFolders)
			assert.Equal(t, kv.BackendMemory, cfg.State.Backend)
			assert.Equal(t, models.Duration(3*time.Second), cfg.ProbeTimeout)
		})
	}
}

func TestFileConfigLoaderErrors(t *testing.T) {
	var cfg AppConfig

	err := (&FileConfigLoader{}).Load(context.Background(), filepath.Join(t.TempDir(), "missing.json"), &cfg)
	require.Error(t, err)

	path := writeFile(t, "broken.json", "{")
	err = (&FileConfigLoader{}).Load(context.Background(), path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json")
}

func TestEnvConfigLoader(t *testing.T) {
	t.Setenv("TEST_DISCOVERY_VENVPATH", "/srv/envs")
	t.Setenv("TEST_DISCOVERY_VENVFOLDERS", "envs, .virtualenvs")
	t.Setenv("TEST_STATE_BACKEND", "nats")
	t.Setenv("TEST_STATE_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("TEST_STATE_BUCKET_TTL", "1m")
	t.Setenv("TEST_RESOLVE_CONCURRENCY", "4")
	t.Setenv("TEST_PROBE_TIMEOUT", "2s")
	t.Setenv("TEST_WORKER_MODE", "grpc")
	t.Setenv("TEST_LOGGING_OTEL_HEADERS", `{"x-token":"abc"}`)

	cfg := DefaultAppConfig()

	loader := NewEnvConfigLoader(logger.NewTestLogger(), "TEST_")
	require.NoError(t, loader.Load(context.Background(), "", cfg))

	assert.Equal(t, "/srv/envs", cfg.Discovery.VenvPath)
	assert.Equal(t, []string{"envs", ".virtualenvs"}, cfg.Discovery.VenvFolders)
	assert.Equal(t, kv.BackendNATS, cfg.State.Backend)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.State.NATSURL)
	assert.Equal(t, models.Duration(time.Minute), cfg.State.BucketTTL)
	assert.Equal(t, 4, cfg.ResolveConcurrency)
	assert.Equal(t, models.Duration(2*time.Second), cfg.ProbeTimeout)
	assert.Equal(t, WorkerGRPC, cfg.Worker.Mode)
	assert.Equal(t, map[string]string{"x-token": "abc"}, cfg.Logging.OTel.Headers)

	// Untouched fields keep their defaults.
	assert.Equal(t, defaultResolveCacheSize, cfg.ResolveCacheSize)
}

func TestEnvConfigLoaderInvalidValueIsSkipped(t *testing.T) {
	t.Setenv("TEST_RESOLVE_CONCURRENCY", "many")
	t.Setenv("TEST_DISCOVERY_CONDAPATH", "/opt/conda/bin/conda")

	cfg := DefaultAppConfig()

	require.NoError(t, NewEnvConfigLoader(logger.NewTestLogger(), "TEST_").Load(context.Background(), "", cfg))

	assert.Equal(t, defaultResolveConcurrency, cfg.ResolveConcurrency)
	assert.Equal(t, "/opt/conda/bin/conda", cfg.Discovery.CondaPath)
}

func TestEnvConfigLoaderJSONDocument(t *testing.T) {
	t.Setenv("TEST_CONFIG_JSON", `{"roots":["/work/a"],"discovery":{"poetryPath":"/usr/bin/poetry"}}`)
	t.Setenv("TEST_DISCOVERY_POETRYPATH", "ignored")

	var cfg AppConfig
	require.NoError(t, NewEnvConfigLoader(nil, "TEST_").Load(context.Background(), "", &cfg))

	assert.Equal(t, []string{"/work/a"}, cfg.Roots)
	assert.Equal(t, "/usr/bin/poetry", cfg.Discovery.PoetryPath)
}

func TestEnvConfigLoaderRejectsNonStruct(t *testing.T) {
	loader := NewEnvConfigLoader(nil, "TEST_")

	var s string

	require.ErrorIs(t, loader.Load(context.Background(), "", s), ErrDstMustBeNonNilPointer)
	require.ErrorIs(t, loader.Load(context.Background(), "", &s), ErrDstMustBePointerToStruct)
}

func TestLoadAndValidateSources(t *testing.T) {
	ctx := context.Background()

	t.Run("file", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "file")

		path := writeFile(t, "envradar.json", `{"state":{"backend":"memory"},"roots":["/w"]}`)

		cfg := DefaultAppConfig()
		require.NoError(t, NewConfig(nil).LoadAndValidate(ctx, path, cfg))

		assert.Equal(t, []string{"/w"}, cfg.Roots)
		assert.Equal(t, WorkerInProcess, cfg.Worker.Mode)
	})

	t.Run("empty path keeps defaults", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "")

		cfg := DefaultAppConfig()
		require.NoError(t, NewConfig(nil).LoadAndValidate(ctx, "", cfg))
		assert.Equal(t, kv.BackendFile, cfg.State.Backend)
	})

	t.Run("kv", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "kv")

		store := kv.NewMemoryStore()
		require.NoError(t, store.Put(ctx, "config/envradar.json", []byte(`{"state":{"backend":"memory"},"roots":["/kv"]}`), 0))

		c := NewConfig(logger.NewTestLogger())
		c.SetKVStore(store)

		cfg := DefaultAppConfig()
		require.NoError(t, c.LoadAndValidate(ctx, "/etc/envradar/envradar.json", cfg))
		assert.Equal(t, []string{"/kv"}, cfg.Roots)
	})

	t.Run("kv falls back to file", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "kv")

		path := writeFile(t, "envradar.json", `{"state":{"backend":"memory"},"roots":["/file"]}`)

		c := NewConfig(logger.NewTestLogger())
		c.SetKVStore(kv.NewMemoryStore())

		cfg := DefaultAppConfig()
		require.NoError(t, c.LoadAndValidate(ctx, path, cfg))
		assert.Equal(t, []string{"/file"}, cfg.Roots)
	})

	t.Run("kv without store", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "kv")

		require.ErrorIs(t, NewConfig(nil).LoadAndValidate(ctx, "x.json", DefaultAppConfig()), errKVStoreNotSet)
	})

	t.Run("unknown source", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "etcd")

		require.ErrorIs(t, NewConfig(nil).LoadAndValidate(ctx, "x.json", DefaultAppConfig()), errInvalidConfigSource)
	})

	t.Run("validation failure", func(t *testing.T) {
		t.Setenv("CONFIG_SOURCE", "file")

		path := writeFile(t, "envradar.json", `{"state":{"backend":"memory"},"worker":{"mode":"grpc"}}`)

		err := NewConfig(nil).LoadAndValidate(ctx, path, DefaultAppConfig())
		require.ErrorIs(t, err, errWorkerAddrRequired)
	})
}

func TestAppConfigValidate(t *testing.T) {
	cfg := &AppConfig{State: kv.Config{Backend: kv.BackendMemory}}
	require.NoError(t, cfg.Validate())

	assert.NotNil(t, cfg.Logging)
	assert.Equal(t, defaultResolveConcurrency, cfg.ResolveConcurrency)
	assert.Equal(t, defaultResolveCacheSize, cfg.ResolveCacheSize)
	assert.Equal(t, models.Duration(defaultProbeTimeout), cfg.ProbeTimeout)
	assert.Equal(t, WorkerInProcess, cfg.Worker.Mode)
	assert.Equal(t, DefaultWorkerSubject, cfg.Worker.Subject)

	cfg.ResolveConcurrency = -1
	require.ErrorIs(t, cfg.Validate(), errNegativeValue)

	cfg = &AppConfig{State: kv.Config{Backend: "redis"}}
	require.Error(t, cfg.Validate())

	cfg = &AppConfig{State: kv.Config{Backend: kv.BackendMemory}, Worker: WorkerConfig{Mode: "carrier-pigeon"}}
	require.ErrorIs(t, cfg.Validate(), errUnknownWorkerMode)

	cfg = &AppConfig{
		State: kv.Config{Backend: kv.BackendMemory},
		Worker: WorkerConfig{
			Mode:    WorkerNATS,
			Address: "nats://127.0.0.1:4222",
			TLS:     &natsutil.TLSConfig{CertFile: "client.pem"},
		},
	}
	require.ErrorIs(t, cfg.Validate(), natsutil.ErrCertRequired)
}

func TestSettingsGet(t *testing.T) {
	s := Settings{VenvPath: "/envs", VenvFolders: []string{"a", "b"}, CondaPath: "conda"}

	assert.Equal(t, "/envs", s.Get(SettingVenvPath))
	assert.Equal(t, "a,b", s.Get(SettingVenvFolders))
	assert.Equal(t, "conda", s.Get(SettingCondaPath))
	assert.Empty(t, s.Get(SettingPoetryPath))
	assert.Empty(t, s.Get("unknown"))
}

func TestOpenConfigStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewConfig(nil).OpenConfigStore(ctx)
	require.NoError(t, err)
	assert.Nil(t, store, "file source needs no store")

	srv := natstest.RunServer(t)

	t.Setenv("CONFIG_SOURCE", "kv")
	t.Setenv(ConfigStorePrefix+"NATS_URL", srv.ClientURL())
	t.Setenv(ConfigStorePrefix+"BUCKET", "envradar-config")

	c := NewConfig(logger.NewTestLogger())

	store, err = c.OpenConfigStore(ctx)
	require.NoError(t, err)

	defer func() { _ = store.Close() }()

	require.NoError(t, store.Put(ctx, KeyForPath(""), []byte(`{"state":{"backend":"memory"},"roots":["/from-nats"]}`), 0))

	cfg := DefaultAppConfig()
	require.NoError(t, c.LoadAndValidate(ctx, "", cfg))
	assert.Equal(t, []string{"/from-nats"}, cfg.Roots)
}
