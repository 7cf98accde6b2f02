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

package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const toolTimeout = 15 * time.Second

var errToolNotConfigured = errors.New("tool not configured")

// runTool runs a package manager's CLI and returns its stdout.
func runTool(ctx context.Context, tool, dir string, args ...string) ([]byte, error) {
	if tool == "" {
		return nil, errToolNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", tool, err, bytes.TrimSpace(stderr.Bytes()))
	}

	return stdout.Bytes(), nil
}
