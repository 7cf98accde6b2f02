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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a configuration file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatForPath picks the format from the file extension; unknown
// extensions are read as JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Decode unmarshals data in the given format into dst.
func Decode(format Format, data []byte, dst interface{}) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, dst)
	case FormatTOML:
		return toml.Unmarshal(data, dst)
	case FormatJSON:
		return json.Unmarshal(data, dst)
	default:
		return fmt.Errorf("%w: %q", errUnknownFormat, format)
	}
}

// FileConfigLoader loads configuration from a local JSON, YAML or TOML file.
type FileConfigLoader struct{}

// Load implements ConfigLoader by reading and unmarshaling the file at path.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	format := FormatForPath(path)

	if err := Decode(format, data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s from '%s': %w", format, path, err)
	}

	return nil
}
