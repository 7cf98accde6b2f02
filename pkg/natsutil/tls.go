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

// Package natsutil connects to NATS with the options envradar's state
// store and shared workers have in common.
package natsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
)

var (
	// ErrCertRequired is returned when a client key is given without its certificate or vice versa.
	ErrCertRequired = errors.New("cert_file and key_file must be set together")
	// ErrCAParsingFailed is returned when CA certificate cannot be parsed
	ErrCAParsingFailed = errors.New("failed to parse CA certificate")
)

// TLSConfig points at the PEM files used to reach a TLS-enabled NATS
// server. Relative paths are taken from CertDir.
type TLSConfig struct {
	CertDir    string `json:"cert_dir,omitempty" yaml:"cert_dir,omitempty" toml:"cert_dir,omitempty"`
	CAFile     string `json:"ca_file,omitempty" yaml:"ca_file,omitempty" toml:"ca_file,omitempty"`
	CertFile   string `json:"cert_file,omitempty" yaml:"cert_file,omitempty" toml:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty" yaml:"key_file,omitempty" toml:"key_file,omitempty"`
	ServerName string `json:"server_name,omitempty" yaml:"server_name,omitempty" toml:"server_name,omitempty"`
}

// Validate checks that client credentials come in pairs.
func (c *TLSConfig) Validate() error {
	if c == nil {
		return nil
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return ErrCertRequired
	}

	return nil
}

func (c *TLSConfig) path(name string) string {
	if name == "" || filepath.IsAbs(name) || c.CertDir == "" {
		return name
	}

	return filepath.Join(c.CertDir, name)
}

// Enabled reports whether any TLS setting is present.
func (c *TLSConfig) Enabled() bool {
	return c != nil && *c != TLSConfig{}
}

// Build loads the certificates. A nil or empty config yields a nil tls.Config.
func (c *TLSConfig) Build() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil //nolint:nilnil // no TLS configured
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	out := &tls.Config{
		ServerName: c.ServerName,
		MinVersion: tls.VersionTLS13,
	}

	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.path(c.CertFile), c.path(c.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		out.Certificates = []tls.Certificate{cert}
	}

	if c.CAFile != "" {
		caCert, err := os.ReadFile(c.path(c.CAFile))
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, ErrCAParsingFailed
		}

		out.RootCAs = caPool
	}

	return out, nil
}

// Connect dials url under the given client name, using TLS when sec is set.
func Connect(url, name string, sec *TLSConfig) (*nats.Conn, error) {
	opts := []nats.Option{nats.Name(name)}

	tlsConf, err := sec.Build()
	if err != nil {
		return nil, err
	}

	if tlsConf != nil {
		opts = append(opts, nats.Secure(tlsConf))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}
