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

package natsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/envradar/internal/natstest"
)

func TestTLSConfigValidate(t *testing.T) {
	var none *TLSConfig
	require.NoError(t, none.Validate())

	require.NoError(t, (&TLSConfig{CAFile: "ca.pem"}).Validate())
	require.NoError(t, (&TLSConfig{CertFile: "c.pem", KeyFile: "k.pem"}).Validate())
	require.ErrorIs(t, (&TLSConfig{CertFile: "c.pem"}).Validate(), ErrCertRequired)
	require.ErrorIs(t, (&TLSConfig{KeyFile: "k.pem"}).Validate(), ErrCertRequired)
}

func TestTLSConfigPaths(t *testing.T) {
	c := &TLSConfig{CertDir: "/etc/envradar/certs"}

	assert.Equal(t, filepath.Join("/etc/envradar/certs", "ca.pem"), c.path("ca.pem"))
	assert.Equal(t, "", c.path(""))

	abs, err := filepath.Abs("ca.pem")
	require.NoError(t, err)
	assert.Equal(t, abs, c.path(abs))
}

func TestBuild(t *testing.T) {
	var none *TLSConfig

	conf, err := none.Build()
	require.NoError(t, err)
	assert.Nil(t, conf)

	conf, err = (&TLSConfig{}).Build()
	require.NoError(t, err)
	assert.Nil(t, conf, "an empty block leaves TLS off")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ca.pem"), []byte("not a certificate"), 0o600))

	_, err = (&TLSConfig{CertDir: dir, CAFile: "ca.pem"}).Build()
	require.ErrorIs(t, err, ErrCAParsingFailed)

	_, err = (&TLSConfig{CertDir: dir, CAFile: "missing.pem"}).Build()
	require.Error(t, err)

	conf, err = (&TLSConfig{ServerName: "nats.internal"}).Build()
	require.NoError(t, err)
	assert.Equal(t, "nats.internal", conf.ServerName)
	assert.Nil(t, conf.RootCAs)
}

func TestConnect(t *testing.T) {
	srv := natstest.RunServer(t)

	nc, err := Connect(srv.ClientURL(), "envradar-test", nil)
	require.NoError(t, err)

	defer nc.Close()

	assert.True(t, nc.IsConnected())
	assert.Equal(t, "envradar-test", nc.Opts.Name)

	_, err = Connect(srv.ClientURL(), "envradar-test", &TLSConfig{CertFile: "c.pem"})
	require.ErrorIs(t, err, ErrCertRequired)
}
