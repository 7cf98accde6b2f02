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

package logger

import (
	"os"
	"strings"
	"time"

	"github.com/carverauto/envradar/pkg/models"
)

const defaultServiceName = "envradar"

// Config controls log level, destination and OTLP export.
type Config struct {
	Level      string     `json:"level" yaml:"level" toml:"level"`
	Debug      bool       `json:"debug" yaml:"debug" toml:"debug"`
	Output     string     `json:"output" yaml:"output" toml:"output"`
	TimeFormat string     `json:"time_format" yaml:"time_format" toml:"time_format"`
	OTel       OTelConfig `json:"otel" yaml:"otel" toml:"otel"`
}

// OTelConfig configures the OTLP exporters for logs, metrics and traces.
type OTelConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled" toml:"enabled"`
	Endpoint     string            `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	Headers      map[string]string `json:"headers" yaml:"headers" toml:"headers"`
	ServiceName  string            `json:"service_name" yaml:"service_name" toml:"service_name"`
	BatchTimeout models.Duration   `json:"batch_timeout" yaml:"batch_timeout" toml:"batch_timeout"`
	Insecure     bool              `json:"insecure" yaml:"insecure" toml:"insecure"`
}

// DefaultConfig reads LOG_* and OTEL_* environment variables. Logs go to
// stderr by default so that stdout stays free for command output and the
// stdio worker protocol.
func DefaultConfig() *Config {
	return &Config{
		Level:      getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:      getEnvBoolOrDefault("DEBUG", false),
		Output:     getEnvOrDefault("LOG_OUTPUT", "stderr"),
		TimeFormat: getEnvOrDefault("LOG_TIME_FORMAT", ""),
		OTel:       DefaultOTelConfig(),
	}
}

// DefaultOTelConfig reads the standard OTEL_EXPORTER_OTLP_* variables.
func DefaultOTelConfig() OTelConfig {
	headers := make(map[string]string)

	if headerStr := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); headerStr != "" {
		for _, pair := range strings.Split(headerStr, ",") {
			if kv := strings.SplitN(pair, "=", 2); len(kv) == 2 {
				headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
			}
		}
	}

	batchTimeout := 5 * time.Second

	if timeoutStr := os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT"); timeoutStr != "" {
		if d, err := time.ParseDuration(timeoutStr); err == nil {
			batchTimeout = d
		}
	}

	return OTelConfig{
		Enabled:      getEnvBoolOrDefault("OTEL_ENABLED", false),
		Endpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Headers:      headers,
		ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", defaultServiceName),
		BatchTimeout: models.Duration(batchTimeout),
		Insecure:     getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	value = strings.ToLower(value)

	return value == "true" || value == "1" || value == "yes" || value == "on"
}
